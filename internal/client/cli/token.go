package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/dmitrijs2005/fidolock/internal/fido2/softtoken"
)

// cmdTokenInit creates a software token state file. Real deployments use a
// USB security key; the software token covers CI and local testing.
func (a *App) cmdTokenInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("token-init", flag.ContinueOnError)
	path := fs.String("o", "", "state file to create (default: the configured -k path)")
	pin := fs.String("pin", "", "protect the token with this client PIN")
	uv := fs.Bool("uv", false, "simulate built-in user verification")
	if err := fs.Parse(args); err != nil {
		return err
	}

	p := *path
	if p == "" {
		p = a.config.SoftTokenPath
	}
	if p == "" {
		return errors.New("token-init: -o flag or a configured software token path is required")
	}

	tok, err := softtoken.Create(p, softtoken.Options{PIN: *pin, SupportsUV: *uv})
	if err != nil {
		return err
	}
	defer tok.Close()

	fmt.Fprintf(a.out, "Software token created at %s\n", p)
	return nil
}
