package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/dmitrijs2005/fidolock/internal/fido2"
	"github.com/dmitrijs2005/fidolock/internal/fido2/hidtoken"
	"github.com/dmitrijs2005/fidolock/internal/fido2/softtoken"
	"github.com/dmitrijs2005/fidolock/internal/secmem"
)

// pinEnvVar supplies the client PIN non-interactively, for scripted runs.
const pinEnvVar = "FIDOLOCK_PIN"

const maxPINPrompts = 3

// openDevice returns the authenticator to use: the software token when one
// is configured, otherwise the first attached USB security key.
func (a *App) openDevice() (fido2.Device, error) {
	if a.config.SoftTokenPath != "" {
		return softtoken.Open(a.config.SoftTokenPath)
	}
	return hidtoken.Open("")
}

// withPIN runs op, collecting the client PIN when the device demands one
// and prompting again while the device keeps rejecting it. The first
// attempt uses the FIDOLOCK_PIN environment variable, so unattended runs
// never block on a prompt; if that PIN is wrong the user is asked.
func (a *App) withPIN(op func(pin string) error) error {
	pin := os.Getenv(pinEnvVar)

	for prompts := 0; ; prompts++ {
		err := op(pin)
		if !errors.Is(err, fido2.ErrPINRequired) && !errors.Is(err, fido2.ErrPINInvalid) {
			return err
		}
		if errors.Is(err, fido2.ErrPINInvalid) {
			fmt.Fprintln(a.out, "PIN rejected by the authenticator")
		}
		if prompts >= maxPINPrompts {
			return err
		}
		p, perr := GetPassword("Authenticator PIN", a.out)
		if perr != nil {
			return perr
		}
		pin = string(p)
		secmem.Wipe(p)
	}
}
