package users

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Anvoria/tradeauth/internal/cache"
	"github.com/Anvoria/tradeauth/internal/cli"
	"github.com/Anvoria/tradeauth/internal/database"
	"github.com/Anvoria/tradeauth/internal/domain/auth"
	"github.com/Anvoria/tradeauth/internal/domain/user"
	"github.com/Anvoria/tradeauth/internal/migrations"
)

const commandTimeout = 30 * time.Second

// Command implements the user management command
type Command struct {
	Out io.Writer
	// Open returns the user service and a release func. It defaults to the
	// configured database.
	Open func() (user.Service, func(), error)
	// OpenLockout returns the lockout guard. It defaults to the configured Redis.
	OpenLockout func() (*cache.LockoutGuard, func(), error)
}

func (c *Command) Name() string {
	return "users"
}

func (c *Command) Description() string {
	return "Manage login identities (create, disable, unlock)"
}

func (c *Command) out() io.Writer {
	if c.Out == nil {
		return os.Stdout
	}
	return c.Out
}

func (c *Command) Run(args []string) error {
	if len(args) < 1 {
		c.printUsage()
		return fmt.Errorf("subcommand required")
	}

	switch args[0] {
	case "create":
		return c.runCreate(args[1:])
	case "disable":
		return c.runDisable(args[1:])
	case "unlock":
		return c.runUnlock(args[1:])
	default:
		c.printUsage()
		return fmt.Errorf("unknown subcommand: %s", args[0])
	}
}

func (c *Command) printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: tradeauth-cli users <subcommand> [args]\n\n")
	fmt.Fprintf(os.Stderr, "Subcommands:\n")
	fmt.Fprintf(os.Stderr, "  create -tenant <id> -identifier <name> [-verified]\n")
	fmt.Fprintf(os.Stderr, "         Secret is read from TRADEAUTH_SECRET or -secret\n")
	fmt.Fprintf(os.Stderr, "  disable -tenant <id> -identifier <name>\n")
	fmt.Fprintf(os.Stderr, "  unlock -tenant <id> -identifier <name>\n")
	fmt.Fprintf(os.Stderr, "         Lifts a failed-login lockout and resets the attempt counter\n")
}

func (c *Command) open() (user.Service, func(), error) {
	if c.Open != nil {
		return c.Open()
	}

	cfg, _, err := cli.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := migrations.RunMigrations(db); err != nil {
		_ = database.Close(db)
		return nil, nil, err
	}
	return user.NewService(user.NewRepository(db)), func() { _ = database.Close(db) }, nil
}

func (c *Command) openLockout() (*cache.LockoutGuard, func(), error) {
	if c.OpenLockout != nil {
		return c.OpenLockout()
	}

	cfg, _, err := cli.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	client, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	guard := cache.NewLockoutGuard(client, cfg.Redis.KeyPrefix, cache.LockoutPolicy{
		Threshold: cfg.Lockout.Threshold,
		Window:    cfg.Lockout.Window(),
		Duration:  cfg.Lockout.Duration(),
	})
	return guard, func() { _ = client.Close() }, nil
}

func (c *Command) runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	tenant := fs.String("tenant", "", "Tenant ID (required)")
	identifier := fs.String("identifier", "", "Login identifier (required)")
	secret := fs.String("secret", os.Getenv("TRADEAUTH_SECRET"), "Login secret")
	verified := fs.Bool("verified", false, "Mark the identity as verified")
	if err := fs.Parse(args); err != nil {
		return err
	}

	svc, release, err := c.open()
	if err != nil {
		return err
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	u, err := svc.Register(ctx, user.RegisterRequest{
		TenantID:   *tenant,
		Identifier: *identifier,
		Secret:     *secret,
		Verified:   *verified,
	})
	if errors.Is(err, user.ErrIdentifierExists) {
		return fmt.Errorf("%s already exists in tenant %s", *identifier, *tenant)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out(), "User created\n")
	fmt.Fprintf(c.out(), "  ID:         %s\n", u.ID)
	fmt.Fprintf(c.out(), "  Tenant:     %s\n", u.TenantID)
	fmt.Fprintf(c.out(), "  Identifier: %s\n", u.Identifier)
	return nil
}

func (c *Command) runDisable(args []string) error {
	fs := flag.NewFlagSet("disable", flag.ContinueOnError)
	tenant := fs.String("tenant", "", "Tenant ID (required)")
	identifier := fs.String("identifier", "", "Login identifier (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tenant == "" || *identifier == "" {
		return fmt.Errorf("tenant and identifier are required")
	}

	svc, release, err := c.open()
	if err != nil {
		return err
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := svc.Disable(ctx, *tenant, *identifier); err != nil {
		return err
	}
	fmt.Fprintf(c.out(), "User %s disabled in tenant %s\n", *identifier, *tenant)
	return nil
}

func (c *Command) runUnlock(args []string) error {
	fs := flag.NewFlagSet("unlock", flag.ContinueOnError)
	tenant := fs.String("tenant", "", "Tenant ID (required)")
	identifier := fs.String("identifier", "", "Login identifier (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tenant == "" || *identifier == "" {
		return fmt.Errorf("tenant and identifier are required")
	}

	guard, release, err := c.openLockout()
	if err != nil {
		return err
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := guard.Unlock(ctx, auth.LockoutKey(*tenant, *identifier)); err != nil {
		return err
	}
	fmt.Fprintf(c.out(), "User %s unlocked in tenant %s\n", *identifier, *tenant)
	return nil
}
