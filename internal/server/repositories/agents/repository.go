package agents

import (
	"context"

	"github.com/dmitrijs2005/fidolock/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, agent *models.Agent) (*models.Agent, error)
	GetByID(ctx context.Context, id string) (*models.Agent, error)
}
