// Package models defines the persistence-level entities of the escrow
// server.
package models

import "time"

// Agent is a machine enrolled with the escrow service. Agents authenticate
// with a join token once and with JWT pairs afterwards.
type Agent struct {
	ID        string
	Hostname  string
	CreatedAt time.Time
}
