package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fidolock/internal/client/models"
	"github.com/dmitrijs2005/fidolock/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// UpsertEnrollment upserts a binding by (volume_uuid, slot). On conflict the
// mutable columns are updated and updated_at is bumped.
func (r *SQLiteRepository) UpsertEnrollment(ctx context.Context, e *models.Enrollment) error {
	query := ` INSERT INTO enrollments (volume_uuid, node, slot, token_id, kind, credential, record, capsule, synced)
			values (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(volume_uuid, slot) DO UPDATE SET node = excluded.node,
				token_id = excluded.token_id,
				kind = excluded.kind,
				credential = excluded.credential,
				record = excluded.record,
				capsule = excluded.capsule,
				synced = excluded.synced,
				updated_at = CURRENT_TIMESTAMP
	`
	_, err := r.db.ExecContext(ctx, query,
		e.VolumeUUID, e.Node, e.Slot, e.TokenID, string(e.Kind), e.Credential, string(e.Record), e.Capsule, e.Synced)
	if err != nil {
		return fmt.Errorf("failed to upsert enrollment: %w", err)
	}
	return nil
}

// ListEnrollments lists every binding, volumes grouped together.
func (r *SQLiteRepository) ListEnrollments(ctx context.Context) ([]models.Enrollment, error) {
	query := `select volume_uuid, node, slot, token_id, kind, credential, record, capsule, synced, created_at, updated_at
			from enrollments order by volume_uuid, slot`
	return r.selectEnrollments(ctx, query)
}

// ListUnsynced lists bindings not yet pushed to the escrow server.
func (r *SQLiteRepository) ListUnsynced(ctx context.Context) ([]models.Enrollment, error) {
	query := `select volume_uuid, node, slot, token_id, kind, credential, record, capsule, synced, created_at, updated_at
			from enrollments where synced=0 order by volume_uuid, slot`
	return r.selectEnrollments(ctx, query)
}

func (r *SQLiteRepository) selectEnrollments(ctx context.Context, query string, args ...any) ([]models.Enrollment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select enrollments: %w", err)
	}
	defer rows.Close()

	var result []models.Enrollment
	for rows.Next() {
		var item models.Enrollment
		var kind, record string
		if err := rows.Scan(&item.VolumeUUID, &item.Node, &item.Slot, &item.TokenID,
			&kind, &item.Credential, &record, &item.Capsule, &item.Synced, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		item.Kind = models.EnrollmentKind(kind)
		if record != "" {
			item.Record = json.RawMessage(record)
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkSynced flags one binding as escrowed. It expects exactly one row to be affected.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, volumeUUID string, slot int) error {
	query := `update enrollments set synced=1, updated_at=CURRENT_TIMESTAMP where volume_uuid=? and slot=?`
	res, err := r.db.ExecContext(ctx, query, volumeUUID, slot)
	if err != nil {
		return fmt.Errorf("failed to mark enrollment synced: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra != 1 {
		return fmt.Errorf("wrong rows affected count: %d", ra)
	}
	return nil
}

// DeleteEnrollment removes a single binding. It expects exactly one row to be affected.
func (r *SQLiteRepository) DeleteEnrollment(ctx context.Context, volumeUUID string, slot int) error {
	query := `delete from enrollments where volume_uuid=? and slot=?`
	res, err := r.db.ExecContext(ctx, query, volumeUUID, slot)
	if err != nil {
		return fmt.Errorf("failed to delete enrollment: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra != 1 {
		return fmt.Errorf("wrong rows affected count: %d", ra)
	}
	return nil
}

// DeleteVolume removes every binding recorded for a volume. Removing an
// unknown volume is not an error.
func (r *SQLiteRepository) DeleteVolume(ctx context.Context, volumeUUID string) error {
	_, err := r.db.ExecContext(ctx, `delete from enrollments where volume_uuid=?`, volumeUUID)
	if err != nil {
		return fmt.Errorf("failed to delete enrollments: %w", err)
	}
	return nil
}

// GetMeta returns the metadata value for key, or nil when unset.
func (r *SQLiteRepository) GetMeta(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata[%s]: %w", key, err)
	}
	return value, nil
}

// SetMeta upserts a metadata value.
func (r *SQLiteRepository) SetMeta(ctx context.Context, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set metadata[%s]: %w", key, err)
	}
	return nil
}

// DeleteMeta removes a metadata value. Removing an unset key is not an error.
func (r *SQLiteRepository) DeleteMeta(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM metadata WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete metadata[%s]: %w", key, err)
	}
	return nil
}
