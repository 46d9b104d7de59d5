package inventory

import (
	"context"

	"github.com/dmitrijs2005/fidolock/internal/client/models"
)

// Repository persists the local enrollment inventory plus small metadata
// items (agent identity, API tokens) keyed by name.
type Repository interface {
	UpsertEnrollment(ctx context.Context, e *models.Enrollment) error
	ListEnrollments(ctx context.Context) ([]models.Enrollment, error)
	ListUnsynced(ctx context.Context) ([]models.Enrollment, error)
	MarkSynced(ctx context.Context, volumeUUID string, slot int) error
	DeleteEnrollment(ctx context.Context, volumeUUID string, slot int) error
	DeleteVolume(ctx context.Context, volumeUUID string) error

	GetMeta(ctx context.Context, key string) ([]byte, error)
	SetMeta(ctx context.Context, key string, value []byte) error
	DeleteMeta(ctx context.Context, key string) error
}
