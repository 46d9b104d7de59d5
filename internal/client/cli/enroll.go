package cli

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/fidolock/internal/client/models"
	"github.com/dmitrijs2005/fidolock/internal/enroll"
	"github.com/dmitrijs2005/fidolock/internal/fido2"
	"github.com/dmitrijs2005/fidolock/internal/secmem"
	"github.com/dmitrijs2005/fidolock/internal/volume"
	"github.com/dmitrijs2005/fidolock/internal/volume/luksvol"
)

func (a *App) cmdEnroll(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("enroll", flag.ContinueOnError)
	node := fs.String("n", "", "volume node")
	factors := fs.String("f", "up", "factors to require at unlock: comma-separated up,uv,pin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *node == "" {
		return errors.New("enroll: -n flag is required")
	}

	flags, err := parseFactors(*factors)
	if err != nil {
		return err
	}

	vol, err := luksvol.Open(*node)
	if err != nil {
		return err
	}
	defer vol.Close()

	masterKey, err := a.unlockWithPassphrase(vol)
	if err != nil {
		return err
	}
	defer secmem.Wipe(masterKey)

	dev, err := a.openDevice()
	if err != nil {
		return fmt.Errorf("open authenticator (%s): %w", enroll.Classify(err), err)
	}
	defer dev.Close()

	dctx, cancel := context.WithTimeout(ctx, a.config.DeviceTimeout)
	defer cancel()

	fmt.Fprintln(a.out, "Touch the security key when it blinks...")

	var result *enroll.Enrollment
	err = a.withPIN(func(pin string) error {
		var eerr error
		result, eerr = enroll.Enroll(dctx, dev, vol, masterKey, enroll.Params{Flags: flags, PIN: pin})
		return eerr
	})
	if err != nil {
		a.reportOrphan(err, *node)
		return fmt.Errorf("enroll failed (%s): %w", enroll.Classify(err), err)
	}

	fmt.Fprintf(a.out, "Security key enrolled: slot %d, token %d, factors %s\n",
		result.Slot, result.TokenID, result.Flags)

	if err := a.recordEnrollment(ctx, vol, result, models.KindFIDO2, nil); err != nil {
		fmt.Fprintf(a.out, "warning: local inventory update failed: %v\n", err)
	}
	return nil
}

// parseFactors turns the -f value into a flag set.
func parseFactors(s string) (fido2.Flags, error) {
	var flags fido2.Flags
	for _, name := range strings.Split(s, ",") {
		switch strings.TrimSpace(name) {
		case "up":
			flags |= fido2.FlagUP
		case "uv":
			flags |= fido2.FlagUV
		case "pin":
			flags |= fido2.FlagPIN
		case "":
		default:
			return 0, fmt.Errorf("unknown factor %q (expected up, uv or pin)", name)
		}
	}
	return flags, nil
}

// unlockWithPassphrase proves access to the volume: it prompts for an
// existing passphrase and unwraps the master key with it.
func (a *App) unlockWithPassphrase(vol volume.Container) ([]byte, error) {
	passphrase, err := GetPassword("Enter an existing passphrase", a.out)
	if err != nil {
		return nil, err
	}
	defer secmem.Wipe(passphrase)

	key, _, err := vol.UnwrapAnySlot(passphrase)
	if err != nil {
		return nil, err
	}
	return key, nil
}

// reportOrphan tells the operator how to clean up after a failed token
// write; the key slot itself was already persisted at that point.
func (a *App) reportOrphan(err error, node string) {
	var orphan *enroll.OrphanSlotError
	if errors.As(err, &orphan) {
		fmt.Fprintf(a.out, "Key slot %d was written but carries no token record; remove it with: fidolock wipe -n %s -s %d\n",
			orphan.Slot, node, orphan.Slot)
	}
}

// recordEnrollment copies the freshly written token into the local
// inventory, so list -all and escrow-sync work without the volume attached.
func (a *App) recordEnrollment(ctx context.Context, vol volume.Container, res *enroll.Enrollment, kind models.EnrollmentKind, capsule []byte) error {
	raw := vol.Tokens()[res.TokenID]

	e := &models.Enrollment{
		VolumeUUID: vol.UUID(),
		Node:       vol.Node(),
		Slot:       res.Slot,
		TokenID:    res.TokenID,
		Kind:       kind,
		Record:     raw,
		Capsule:    capsule,
	}
	if kind == models.KindFIDO2 {
		if r, err := enroll.ParseRecord(raw); err == nil {
			e.Credential = base64.StdEncoding.EncodeToString(r.Credential)
		}
	}
	return a.inventory.UpsertEnrollment(ctx, e)
}
