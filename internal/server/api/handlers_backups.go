package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/fidolock/internal/common"
)

type backupReq struct {
	VolumeUUID string `json:"volume_uuid"`
}

type backupResp struct {
	ID          string    `json:"id"`
	VolumeUUID  string    `json:"volume_uuid"`
	StorageKey  string    `json:"storage_key"`
	UploadURL   string    `json:"upload_url,omitempty"`
	DownloadURL string    `json:"download_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// handleBackups starts a new header backup: a pending row plus a presigned
// PUT URL the agent uploads the header to.
func (s *HTTPServer) handleBackups(w http.ResponseWriter, r *http.Request) {
	agentID, ok := agentIDFromContext(r.Context())
	if !ok {
		http.Error(w, "no auth context", http.StatusUnauthorized)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req backupReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	req.VolumeUUID = strings.TrimSpace(req.VolumeUUID)
	if req.VolumeUUID == "" {
		http.Error(w, "volume uuid required", http.StatusBadRequest)
		return
	}

	backup, url, err := s.escrow.NewBackup(r.Context(), agentID, req.VolumeUUID)
	if err != nil {
		s.logger.Error(r.Context(), err.Error())
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, backupResp{
		ID:         backup.ID,
		VolumeUUID: backup.VolumeUUID,
		StorageKey: backup.StorageKey,
		UploadURL:  url,
		CreatedAt:  backup.CreatedAt,
	})
}

// handleBackupAction dispatches /api/backups/{id}/complete and
// /api/backups/{uuid}/latest.
func (s *HTTPServer) handleBackupAction(w http.ResponseWriter, r *http.Request) {
	agentID, ok := agentIDFromContext(r.Context())
	if !ok {
		http.Error(w, "no auth context", http.StatusUnauthorized)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/backups/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	switch {
	case parts[1] == "complete" && r.Method == http.MethodPost:
		err := s.escrow.CompleteBackup(r.Context(), parts[0], agentID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				http.Error(w, "backup not found", http.StatusNotFound)
				return
			}
			s.logger.Error(r.Context(), err.Error())
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, statusResp{Status: "ok"})

	case parts[1] == "latest" && r.Method == http.MethodGet:
		backup, url, err := s.escrow.LatestBackup(r.Context(), agentID, parts[0])
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				http.Error(w, "backup not found", http.StatusNotFound)
				return
			}
			s.logger.Error(r.Context(), err.Error())
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, backupResp{
			ID:          backup.ID,
			VolumeUUID:  backup.VolumeUUID,
			StorageKey:  backup.StorageKey,
			DownloadURL: url,
			CreatedAt:   backup.CreatedAt,
		})

	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}
