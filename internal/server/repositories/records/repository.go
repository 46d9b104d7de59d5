package records

import (
	"context"

	"github.com/dmitrijs2005/fidolock/internal/server/models"
)

type Repository interface {
	Upsert(ctx context.Context, record *models.EscrowRecord) error
	GetByVolume(ctx context.Context, agentID, volumeUUID string) (*models.EscrowRecord, error)
	ListByAgent(ctx context.Context, agentID string) ([]*models.EscrowRecord, error)
	Delete(ctx context.Context, agentID, volumeUUID string) error
}
