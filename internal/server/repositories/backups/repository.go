package backups

import (
	"context"

	"github.com/dmitrijs2005/fidolock/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, backup *models.HeaderBackup) (*models.HeaderBackup, error)
	MarkUploaded(ctx context.Context, id, agentID string) error
	LatestUploaded(ctx context.Context, agentID, volumeUUID string) (*models.HeaderBackup, error)
}
