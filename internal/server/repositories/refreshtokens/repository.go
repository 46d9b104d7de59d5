package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fidolock/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, agentID string, token string, validity time.Duration) error
	Find(ctx context.Context, token string) (*models.RefreshToken, error)
	Delete(ctx context.Context, token string) error
	// DeleteExpired removes tokens whose expiry has passed and reports how
	// many rows went away. Rotation deletes tokens that get used; this
	// sweeps the ones agents abandoned.
	DeleteExpired(ctx context.Context) (int64, error)
}
