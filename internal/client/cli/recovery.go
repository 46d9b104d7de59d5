package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"

	"github.com/dmitrijs2005/fidolock/internal/client/models"
	"github.com/dmitrijs2005/fidolock/internal/cryptox"
	"github.com/dmitrijs2005/fidolock/internal/enroll"
	"github.com/dmitrijs2005/fidolock/internal/recovery"
	"github.com/dmitrijs2005/fidolock/internal/secmem"
	"github.com/dmitrijs2005/fidolock/internal/volume/luksvol"
)

func (a *App) cmdRecoveryKey(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("recovery-key", flag.ContinueOnError)
	node := fs.String("n", "", "volume node")
	seal := fs.Bool("escrow", false, "seal a copy of the key for the escrow service")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *node == "" {
		return errors.New("recovery-key: -n flag is required")
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

	key := recovery.Generate()
	defer key.Destroy()

	res, err := enroll.EnrollRecovery(vol, masterKey, key.Bytes())
	if err != nil {
		a.reportOrphan(err, *node)
		return fmt.Errorf("recovery-key failed (%s): %w", enroll.Classify(err), err)
	}

	var capsule []byte
	if *seal {
		capsule, err = a.sealRecoveryCapsule(key.Bytes())
		if err != nil {
			return err
		}
	}

	mnemonic, err := key.Mnemonic()
	if err != nil {
		return err
	}

	// the key is shown exactly once, in both formats
	fmt.Fprintf(a.out, "Recovery key enrolled in slot %d.\n\n", res.Slot)
	fmt.Fprintf(a.out, "  %s\n\n", key.Base58())
	fmt.Fprintf(a.out, "  %s\n\n", mnemonic)
	fmt.Fprintln(a.out, "Write it down now; it will not be shown again.")

	if err := a.recordEnrollment(ctx, vol, res, models.KindRecovery, capsule); err != nil {
		fmt.Fprintf(a.out, "warning: local inventory update failed: %v\n", err)
	}
	return nil
}

// sealRecoveryCapsule encrypts the recovery key under the organization
// escrow passphrase, for storage on the server. The server only ever sees
// the sealed capsule.
func (a *App) sealRecoveryCapsule(keyBytes []byte) ([]byte, error) {
	pass, err := GetNewPassword("Enter the organization escrow passphrase", a.out)
	if err != nil {
		return nil, err
	}
	defer secmem.Wipe(pass)

	c, err := cryptox.SealCapsule(pass, keyBytes, cryptox.DefaultKDFParams())
	if err != nil {
		return nil, fmt.Errorf("seal recovery key: %w", err)
	}
	return json.Marshal(c)
}

func (a *App) cmdPassphrase(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("passphrase", flag.ContinueOnError)
	node := fs.String("n", "", "volume node")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *node == "" {
		return errors.New("passphrase: -n flag is required")
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

	newPass, err := GetNewPassword("Enter the new passphrase", a.out)
	if err != nil {
		return err
	}
	defer secmem.Wipe(newPass)

	slot, err := enroll.EnrollPassphrase(vol, masterKey, newPass)
	if err != nil {
		return fmt.Errorf("passphrase failed (%s): %w", enroll.Classify(err), err)
	}

	fmt.Fprintf(a.out, "Passphrase enrolled in slot %d\n", slot)
	return nil
}
