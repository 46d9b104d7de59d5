package cli

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/dmitrijs2005/fidolock/internal/enroll"
	"github.com/dmitrijs2005/fidolock/internal/recovery"
	"github.com/dmitrijs2005/fidolock/internal/secmem"
	"github.com/dmitrijs2005/fidolock/internal/volume"
	"github.com/dmitrijs2005/fidolock/internal/volume/luksvol"
)

func (a *App) cmdUnlock(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("unlock", flag.ContinueOnError)
	node := fs.String("n", "", "volume node")
	useRecovery := fs.Bool("r", false, "unlock with a typed recovery key or passphrase instead of the security key")
	printKey := fs.Bool("print-key", false, "write the raw volume key to stdout, for piping to a mounter")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *node == "" {
		return errors.New("unlock: -n flag is required")
	}

	vol, err := luksvol.Open(*node)
	if err != nil {
		return err
	}
	defer vol.Close()

	var key []byte
	var slot int
	if *useRecovery {
		key, slot, err = a.unlockWithRecovery(vol)
	} else {
		key, slot, err = a.unlockWithDevice(ctx, vol)
	}
	if err != nil {
		return err
	}
	defer secmem.Wipe(key)

	// with -print-key stdout carries the raw key, so the status line
	// moves to stderr
	msgOut := a.out
	if *printKey {
		msgOut = os.Stderr
	}
	fmt.Fprintf(msgOut, "Volume %s unlocked via slot %d (key %d bytes, fingerprint %s)\n",
		vol.UUID(), slot, len(key), keyFingerprint(key))

	if *printKey {
		if _, err := os.Stdout.Write(key); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) unlockWithDevice(ctx context.Context, vol volume.Container) ([]byte, int, error) {
	dev, err := a.openDevice()
	if err != nil {
		return nil, 0, fmt.Errorf("open authenticator (%s): %w", enroll.Classify(err), err)
	}
	defer dev.Close()

	dctx, cancel := context.WithTimeout(ctx, a.config.DeviceTimeout)
	defer cancel()

	fmt.Fprintln(a.out, "Touch the security key when it blinks...")

	var u *enroll.Unlock
	err = a.withPIN(func(pin string) error {
		var uerr error
		u, uerr = enroll.Recover(dctx, dev, vol, pin)
		return uerr
	})
	if err != nil {
		return nil, 0, fmt.Errorf("unlock failed (%s): %w", enroll.Classify(err), err)
	}
	return u.Key, u.Slot, nil
}

// unlockWithRecovery reads a recovery key or passphrase from the terminal
// and tries it against every slot. Recovery keys decode to their raw
// entropy first; anything unrecognized is tried verbatim as a passphrase.
func (a *App) unlockWithRecovery(vol volume.Container) ([]byte, int, error) {
	text, err := GetSimpleText(a.reader, "Enter the recovery key (or an enrolled passphrase)", a.out)
	if err != nil {
		return nil, 0, err
	}

	if entropy, perr := recovery.Parse(text); perr == nil {
		defer secmem.Wipe(entropy)
		if key, slot, uerr := vol.UnwrapAnySlot(entropy); uerr == nil {
			return key, slot, nil
		}
	}

	pass := []byte(text)
	defer secmem.Wipe(pass)
	key, slot, err := vol.UnwrapAnySlot(pass)
	if err != nil {
		return nil, 0, err
	}
	return key, slot, nil
}

// keyFingerprint is a short non-reversible identifier for a key, safe for
// logs and operator comparison.
func keyFingerprint(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:4])
}
