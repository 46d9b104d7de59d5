// Package records provides a PostgreSQL-backed repository for per-volume
// escrow records (token-record copies plus optional sealed recovery
// capsules).
package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fidolock/internal/common"
	"github.com/dmitrijs2005/fidolock/internal/dbx"
	"github.com/dmitrijs2005/fidolock/internal/server/models"
)

// PostgresRepository implements escrow record storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Upsert inserts or replaces the escrow record for (agent_id, volume_uuid).
func (r *PostgresRepository) Upsert(ctx context.Context, record *models.EscrowRecord) error {
	query := `
		INSERT INTO escrow_records (agent_id, volume_uuid, node, record, capsule)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (agent_id, volume_uuid)
		DO UPDATE SET
			node = EXCLUDED.node,
			record = EXCLUDED.record,
			capsule = EXCLUDED.capsule,
			updated_at = now()
	`
	if _, err := r.db.ExecContext(ctx, query,
		record.AgentID, record.VolumeUUID, record.Node, record.Record, record.Capsule); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetByVolume returns the escrow record for (agent_id, volume_uuid), or
// common.ErrorNotFound.
func (r *PostgresRepository) GetByVolume(ctx context.Context, agentID, volumeUUID string) (*models.EscrowRecord, error) {
	query := `
		SELECT id, agent_id, volume_uuid, node, record, capsule, created_at, updated_at
		FROM escrow_records
		WHERE agent_id = $1 AND volume_uuid = $2
	`
	record := &models.EscrowRecord{}
	err := r.db.QueryRowContext(ctx, query, agentID, volumeUUID).Scan(
		&record.ID, &record.AgentID, &record.VolumeUUID, &record.Node,
		&record.Record, &record.Capsule, &record.CreatedAt, &record.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return record, nil
}

// ListByAgent returns all escrow records owned by agentID, newest first.
func (r *PostgresRepository) ListByAgent(ctx context.Context, agentID string) ([]*models.EscrowRecord, error) {
	query := `
		SELECT id, agent_id, volume_uuid, node, record, capsule, created_at, updated_at
		FROM escrow_records
		WHERE agent_id = $1
		ORDER BY updated_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.EscrowRecord
	for rows.Next() {
		var item models.EscrowRecord
		if err := rows.Scan(&item.ID, &item.AgentID, &item.VolumeUUID, &item.Node,
			&item.Record, &item.Capsule, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes the escrow record for (agent_id, volume_uuid). Exactly one
// row must be affected, otherwise common.ErrorNotFound is returned.
func (r *PostgresRepository) Delete(ctx context.Context, agentID, volumeUUID string) error {
	query := `
		DELETE FROM escrow_records
		WHERE agent_id = $1 AND volume_uuid = $2
	`
	res, err := r.db.ExecContext(ctx, query, agentID, volumeUUID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if ra != 1 {
		return common.ErrorNotFound
	}
	return nil
}
