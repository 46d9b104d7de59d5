// Package migrations embeds the goose SQL migrations for the escrow
// server's PostgreSQL schema.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
