package keys

import (
	"crypto/rsa"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/Anvoria/tradeauth/internal/cli"
	"github.com/Anvoria/tradeauth/internal/domain/token"
)

// Command implements the keys management command
type Command struct {
	// Out defaults to stdout
	Out io.Writer
}

func (c *Command) Name() string {
	return "keys"
}

func (c *Command) Description() string {
	return "Manage signing keys (generate, list, set-active)"
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
	case "generate":
		return c.runGenerate(args[1:])
	case "list":
		return c.runList(args[1:])
	case "set-active":
		return c.runSetActive(args[1:])
	default:
		c.printUsage()
		return fmt.Errorf("unknown subcommand: %s", args[0])
	}
}

func (c *Command) printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: tradeauth-cli keys <subcommand> [args]\n\n")
	fmt.Fprintf(os.Stderr, "Subcommands:\n")
	fmt.Fprintf(os.Stderr, "  generate              Generate a new RSA key pair\n")
	fmt.Fprintf(os.Stderr, "    -kid <id>           Key ID (required)\n")
	fmt.Fprintf(os.Stderr, "    -bits <size>        Key size: 2048, 3072, or 4096 (default: 2048)\n")
	fmt.Fprintf(os.Stderr, "    -path <dir>         Keys directory (overrides config)\n")
	fmt.Fprintf(os.Stderr, "  list [-path <dir>]    List all available keys\n")
	fmt.Fprintf(os.Stderr, "  set-active <kid>      Check a key and print the config change to activate it\n")
}

// keysPath returns override when set and the configured directory otherwise
func keysPath(override string) (string, string, error) {
	if override != "" {
		return override, "", nil
	}
	cfg, _, err := cli.LoadConfig()
	if err != nil {
		return "", "", err
	}
	if cfg.Auth.KeysPath == "" {
		return "", "", fmt.Errorf("auth.keys_path is not configured, use -path")
	}
	return cfg.Auth.KeysPath, cfg.Auth.ActiveKID, nil
}

func (c *Command) runGenerate(args []string) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	kid := fs.String("kid", "", "Key ID (required)")
	bits := fs.Int("bits", 2048, "Key size in bits (2048, 3072, or 4096)")
	customPath := fs.String("path", "", "Keys directory (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dir, _, err := keysPath(*customPath)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out(), "Generating %d-bit RSA key pair...\n", *bits)
	privPath, pubPath, err := token.GenerateKeyPair(dir, *kid, *bits)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out(), "Key pair generated successfully\n")
	fmt.Fprintf(c.out(), "  Private key: %s\n", privPath)
	fmt.Fprintf(c.out(), "  Public key:  %s\n", pubPath)
	fmt.Fprintf(c.out(), "  Key ID:      %s\n", *kid)
	return nil
}

func (c *Command) runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	customPath := fs.String("path", "", "Keys directory (overrides config)")
	activeKID := fs.String("active", "", "Active key ID to mark (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dir, configured, err := keysPath(*customPath)
	if err != nil {
		return err
	}
	if *activeKID != "" {
		configured = *activeKID
	}
	return listKeys(c.out(), dir, configured)
}

func (c *Command) runSetActive(args []string) error {
	fs := flag.NewFlagSet("set-active", flag.ContinueOnError)
	customPath := fs.String("path", "", "Keys directory (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("key ID required")
	}
	kid := fs.Arg(0)

	dir, _, err := keysPath(*customPath)
	if err != nil {
		return err
	}

	ks, err := token.LoadKeys(dir, kid)
	if err != nil {
		return err
	}
	if _, err := ks.GetActiveKey(); err != nil {
		return fmt.Errorf("key with ID %s not found in %s", kid, dir)
	}

	fmt.Fprintf(c.out(), "To set the active key, update config.yaml:\n\n")
	fmt.Fprintf(c.out(), "  auth:\n")
	fmt.Fprintf(c.out(), "    keys_path: %s\n", dir)
	fmt.Fprintf(c.out(), "    active_kid: %s\n", kid)
	return nil
}

func listKeys(w io.Writer, dir, activeKID string) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("keys directory invalid: %s", dir)
	}

	keyStore, err := token.LoadKeys(dir, activeKID)
	if err != nil {
		return fmt.Errorf("failed to load keys: %w", err)
	}

	keySet := keyStore.JWKS()
	if keySet.Len() == 0 {
		fmt.Fprintf(w, "No keys found in %s\n", dir)
		return nil
	}

	fmt.Fprintf(w, "Keys in %s:\n\n", dir)
	for i := 0; i < keySet.Len(); i++ {
		key, ok := keySet.Key(i)
		if !ok {
			continue
		}

		kid, _ := key.KeyID()
		active := ""
		if activeKID != "" && strings.TrimPrefix(kid, "key-") == strings.TrimPrefix(activeKID, "key-") {
			active = " (ACTIVE)"
		}
		fileID := strings.TrimPrefix(kid, "key-")

		var raw any
		if err := jwk.Export(key, &raw); err != nil {
			fmt.Fprintf(w, "  %s: skipped (export failed: %v)\n", kid, err)
			continue
		}
		rsaKey, ok := raw.(*rsa.PublicKey)
		if !ok {
			fmt.Fprintf(w, "  %s: skipped (not an RSA key)\n", kid)
			continue
		}
		fmt.Fprintf(w, "  %s%s\n", kid, active)
		fmt.Fprintf(w, "    Key size: %d bits\n", rsaKey.N.BitLen())
		fmt.Fprintf(w, "    Private:  private-%s.pem\n", fileID)
		fmt.Fprintf(w, "    Public:   public-%s.pem\n", fileID)
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Active KID: %s\n", activeKID)
	return nil
}
