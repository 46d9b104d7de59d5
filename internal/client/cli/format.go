package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/dmitrijs2005/fidolock/internal/secmem"
	"github.com/dmitrijs2005/fidolock/internal/volume/luksvol"
)

func (a *App) cmdFormat(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("format", flag.ContinueOnError)
	node := fs.String("n", "", "container file to create")
	label := fs.String("l", "", "volume label")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *node == "" {
		return errors.New("format: -n flag is required")
	}

	passphrase, err := GetNewPassword("Enter a passphrase for the new volume", a.out)
	if err != nil {
		return err
	}
	defer secmem.Wipe(passphrase)

	vol, err := luksvol.Format(*node, passphrase, luksvol.FormatOptions{Label: *label})
	if err != nil {
		return fmt.Errorf("format %s: %w", *node, err)
	}
	defer vol.Close()

	fmt.Fprintf(a.out, "Volume %s formatted, uuid %s\n", *node, vol.UUID())
	return nil
}
