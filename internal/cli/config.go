package cli

import (
	"fmt"

	"github.com/Anvoria/tradeauth/internal/config"
)

// LoadConfig resolves the environment and reads the configured YAML file
func LoadConfig() (*config.Config, *config.Environment, error) {
	envConfig := config.LoadEnv()
	cfg, err := config.Load(envConfig.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, envConfig, nil
}
