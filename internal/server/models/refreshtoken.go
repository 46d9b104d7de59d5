package models

import "time"

// RefreshToken is one leg of an agent's credential pair. Each refresh
// consumes the row and writes a new one, so at most one live token exists
// per agent session; expired leftovers are swept by the janitor.
type RefreshToken struct {
	ID        string
	AgentID   string
	Token     string
	Expires   time.Time
	CreatedAt time.Time
}
