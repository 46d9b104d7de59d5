package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/fidolock/internal/dbx"
	"github.com/dmitrijs2005/fidolock/internal/server/repositories/agents"
	"github.com/dmitrijs2005/fidolock/internal/server/repositories/backups"
	"github.com/dmitrijs2005/fidolock/internal/server/repositories/records"
	"github.com/dmitrijs2005/fidolock/internal/server/repositories/refreshtokens"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Agents(db dbx.DBTX) agents.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Records(db dbx.DBTX) records.Repository
	Backups(db dbx.DBTX) backups.Repository
}
