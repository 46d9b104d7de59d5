package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/fidolock/internal/common"
	"github.com/dmitrijs2005/fidolock/internal/server/models"
)

type recordReq struct {
	VolumeUUID string          `json:"volume_uuid"`
	Node       string          `json:"node"`
	Record     json.RawMessage `json:"record"`
	Capsule    json.RawMessage `json:"capsule,omitempty"`
}

type recordResp struct {
	VolumeUUID string          `json:"volume_uuid"`
	Node       string          `json:"node"`
	Record     json.RawMessage `json:"record"`
	Capsule    json.RawMessage `json:"capsule,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type statusResp struct {
	Status string `json:"status"`
}

func recordToResp(r *models.EscrowRecord) recordResp {
	return recordResp{
		VolumeUUID: r.VolumeUUID,
		Node:       r.Node,
		Record:     json.RawMessage(r.Record),
		Capsule:    json.RawMessage(r.Capsule),
		UpdatedAt:  r.UpdatedAt,
	}
}

func (s *HTTPServer) handleRecords(w http.ResponseWriter, r *http.Request) {
	agentID, ok := agentIDFromContext(r.Context())
	if !ok {
		http.Error(w, "no auth context", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodPut, http.MethodPost:
		var req recordReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}

		req.VolumeUUID = strings.TrimSpace(req.VolumeUUID)
		if req.VolumeUUID == "" {
			http.Error(w, "volume uuid required", http.StatusBadRequest)
			return
		}
		if len(req.Record) == 0 {
			http.Error(w, "record required", http.StatusBadRequest)
			return
		}

		err := s.escrow.UpsertRecord(r.Context(), agentID, req.VolumeUUID, req.Node, req.Record, req.Capsule)
		if err != nil {
			s.logger.Error(r.Context(), err.Error())
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, statusResp{Status: "ok"})

	case http.MethodGet:
		rr, err := s.escrow.ListRecords(r.Context(), agentID)
		if err != nil {
			s.logger.Error(r.Context(), err.Error())
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		resp := make([]recordResp, 0, len(rr))
		for _, rec := range rr {
			resp = append(resp, recordToResp(rec))
		}
		writeJSON(w, resp)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *HTTPServer) handleRecordByUUID(w http.ResponseWriter, r *http.Request) {
	agentID, ok := agentIDFromContext(r.Context())
	if !ok {
		http.Error(w, "no auth context", http.StatusUnauthorized)
		return
	}

	volumeUUID := strings.TrimPrefix(r.URL.Path, "/api/records/")
	if volumeUUID == "" || strings.Contains(volumeUUID, "/") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, err := s.escrow.GetRecord(r.Context(), agentID, volumeUUID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				http.Error(w, "record not found", http.StatusNotFound)
				return
			}
			s.logger.Error(r.Context(), err.Error())
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, recordToResp(rec))

	case http.MethodDelete:
		err := s.escrow.DeleteRecord(r.Context(), agentID, volumeUUID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				http.Error(w, "record not found", http.StatusNotFound)
				return
			}
			s.logger.Error(r.Context(), err.Error())
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, statusResp{Status: "ok"})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
