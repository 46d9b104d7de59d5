package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"strconv"

	"github.com/dmitrijs2005/fidolock/internal/enroll"
	"github.com/dmitrijs2005/fidolock/internal/volume"
	"github.com/dmitrijs2005/fidolock/internal/volume/luksvol"
)

func (a *App) cmdWipe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("wipe", flag.ContinueOnError)
	node := fs.String("n", "", "volume node")
	tokenID := fs.Int("t", -1, "token id to remove, with its key slots")
	slot := fs.Int("s", -1, "bare key slot to remove (for slots left behind by a failed enrollment)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *node == "" {
		return errors.New("wipe: -n flag is required")
	}
	if (*tokenID < 0) == (*slot < 0) {
		return errors.New("wipe: exactly one of -t or -s is required")
	}

	vol, err := luksvol.Open(*node)
	if err != nil {
		return err
	}
	defer vol.Close()

	if *slot >= 0 {
		if err := vol.RemoveSlot(*slot); err != nil {
			return err
		}
		if err := vol.Save(); err != nil {
			return err
		}
		_ = a.inventory.DeleteEnrollment(ctx, vol.UUID(), *slot)
		fmt.Fprintf(a.out, "Key slot %d removed\n", *slot)
		return nil
	}

	// remember which slots the token references before it goes away
	raw, ok := vol.Tokens()[*tokenID]
	if !ok {
		return volume.ErrTokenNotFound
	}
	var shape struct {
		Keyslots []string `json:"keyslots"`
	}
	_ = json.Unmarshal(raw, &shape)

	if err := enroll.Remove(vol, *tokenID); err != nil {
		return fmt.Errorf("wipe failed (%s): %w", enroll.Classify(err), err)
	}

	for _, s := range shape.Keyslots {
		if n, err := strconv.Atoi(s); err == nil {
			_ = a.inventory.DeleteEnrollment(ctx, vol.UUID(), n)
		}
	}

	fmt.Fprintf(a.out, "Token %d and its key slots removed\n", *tokenID)
	return nil
}
