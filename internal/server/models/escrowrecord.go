package models

import "time"

// EscrowRecord is the server-side copy of a volume's enrollment metadata:
// the token record JSON plus an optional recovery-key capsule sealed on the
// client before upload. The server never sees plaintext key material.
type EscrowRecord struct {
	ID         string
	AgentID    string
	VolumeUUID string
	Node       string
	Record     []byte
	Capsule    []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
