package models

import "time"

// HeaderBackup tracks one uploaded container header in object storage.
// The bytes themselves live in S3 under StorageKey; rows stay "pending"
// until the client confirms the presigned upload finished.
type HeaderBackup struct {
	ID           string
	AgentID      string
	VolumeUUID   string
	StorageKey   string
	UploadStatus string
	CreatedAt    time.Time
}
