package main

import (
	"log/slog"
	"os"

	"github.com/Anvoria/tradeauth/internal/config"
	"github.com/Anvoria/tradeauth/internal/server"
)

func main() {
	envConfig := config.LoadEnv()

	cfg, err := config.Load(envConfig.ConfigPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err, "path", envConfig.ConfigPath)
		os.Exit(1)
	}

	if err := server.Start(cfg, envConfig); err != nil {
		os.Exit(1)
	}
}
