// Package cli implements the fidolock command-line client.
//
// # Overview
//
// The client wires four things together and exposes them as one-shot
// subcommands:
//
//  1. Volume containers (internal/volume/luksvol): the encrypted headers
//     being enrolled and unlocked.
//  2. Authenticators (internal/fido2): a USB security key, or the
//     file-backed software token when one is configured.
//  3. The local inventory (internal/client/repositories/inventory): a
//     SQLite copy of every enrollment made on this machine, used by
//     "list -all" and by escrow sync.
//  4. The escrow service (internal/client/escrow): enrollment records and
//     header backups pushed to the fleet server.
//
// A typical lifecycle:
//
//	fidolock format -n /srv/vol.img
//	fidolock enroll -n /srv/vol.img -f up,pin
//	fidolock recovery-key -n /srv/vol.img
//	fidolock unlock -n /srv/vol.img
//
// # Error Handling
//
// Command errors are returned to main, which prints them and exits
// non-zero. Failures in security-key commands carry the failure class
// (transport, auth-factor, binding, storage, encoding) in the message so
// an operator can tell a dead key from a corrupt header at a glance.
//
// # Concurrency & Contexts
//
// Commands run sequentially; nothing here is safe for concurrent use.
// Security-key operations run under a timeout taken from the
// configuration, everything else inherits the caller's context.
package cli
