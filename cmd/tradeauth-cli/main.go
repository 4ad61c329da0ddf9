package main

import (
	"fmt"
	"os"

	"github.com/Anvoria/tradeauth/internal/cli"
	"github.com/Anvoria/tradeauth/internal/cli/keys"
	"github.com/Anvoria/tradeauth/internal/cli/users"
)

func main() {
	registry := cli.NewRegistry()

	registry.Register(&keys.Command{})
	registry.Register(&users.Command{})

	if err := registry.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
