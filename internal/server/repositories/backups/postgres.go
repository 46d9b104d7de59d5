// Package backups provides a PostgreSQL-backed repository for header backup
// rows. The header bytes live in object storage; rows track the storage key
// and upload state.
package backups

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fidolock/internal/common"
	"github.com/dmitrijs2005/fidolock/internal/dbx"
	"github.com/dmitrijs2005/fidolock/internal/server/models"
)

// PostgresRepository implements header backup storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a pending backup row and fills in its generated id.
func (r *PostgresRepository) Create(ctx context.Context, backup *models.HeaderBackup) (*models.HeaderBackup, error) {
	query := `
		INSERT INTO header_backups (agent_id, volume_uuid, storage_key, upload_status)
		VALUES ($1, $2, $3, 'pending')
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		backup.AgentID, backup.VolumeUUID, backup.StorageKey).Scan(&backup.ID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	backup.UploadStatus = "pending"
	return backup, nil
}

// MarkUploaded flips the row to uploaded. The agent scope prevents one agent
// from confirming another agent's upload. Exactly one row must be affected.
func (r *PostgresRepository) MarkUploaded(ctx context.Context, id, agentID string) error {
	query := `
		UPDATE header_backups SET upload_status = 'uploaded'
		WHERE id = $1 AND agent_id = $2
	`
	res, err := r.db.ExecContext(ctx, query, id, agentID)
	if err != nil {
		return fmt.Errorf("failed to mark uploaded: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra != 1 {
		return common.ErrorNotFound
	}
	return nil
}

// LatestUploaded returns the most recent uploaded backup for the volume, or
// common.ErrorNotFound.
func (r *PostgresRepository) LatestUploaded(ctx context.Context, agentID, volumeUUID string) (*models.HeaderBackup, error) {
	query := `
		SELECT id, agent_id, volume_uuid, storage_key, upload_status, created_at
		FROM header_backups
		WHERE agent_id = $1 AND volume_uuid = $2 AND upload_status = 'uploaded'
		ORDER BY created_at DESC
		LIMIT 1
	`
	backup := &models.HeaderBackup{}
	err := r.db.QueryRowContext(ctx, query, agentID, volumeUUID).Scan(
		&backup.ID, &backup.AgentID, &backup.VolumeUUID,
		&backup.StorageKey, &backup.UploadStatus, &backup.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return backup, nil
}
