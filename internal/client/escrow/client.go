package escrow

import (
	"context"
	"encoding/json"
	"time"
)

// Record is an escrowed binding record as the server returns it.
type Record struct {
	VolumeUUID string          `json:"volume_uuid"`
	Node       string          `json:"node"`
	Record     json.RawMessage `json:"record"`
	Capsule    []byte          `json:"capsule,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type Client interface {
	Close() error
	Join(ctx context.Context, joinToken string, hostname string) (string, error)
	PushRecord(ctx context.Context, volumeUUID string, node string, record json.RawMessage, capsule []byte) error
	PullRecord(ctx context.Context, volumeUUID string) (*Record, error)
	ListRecords(ctx context.Context) ([]Record, error)
	DeleteRecord(ctx context.Context, volumeUUID string) error
	UploadBackup(ctx context.Context, volumeUUID string, header []byte) error
	DownloadBackup(ctx context.Context, volumeUUID string) ([]byte, error)
}
