// Package agents provides a PostgreSQL-backed repository for machines
// enrolled with the escrow service.
package agents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fidolock/internal/common"
	"github.com/dmitrijs2005/fidolock/internal/dbx"
	"github.com/dmitrijs2005/fidolock/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, agent *models.Agent) (*models.Agent, error) {

	query :=
		`INSERT INTO agents (hostname)
         VALUES ($1)
		 RETURNING id
		 `

	err := r.db.QueryRowContext(ctx, query, agent.Hostname).Scan(&agent.ID)

	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return agent, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Agent, error) {
	query :=
		`SELECT id, hostname, created_at FROM agents
		 WHERE id = $1
		 `

	agent := &models.Agent{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&agent.ID, &agent.Hostname, &agent.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return agent, nil
}
