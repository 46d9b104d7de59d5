package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/fidolock/internal/common"
	"github.com/dmitrijs2005/fidolock/internal/logging"
	"github.com/dmitrijs2005/fidolock/internal/server/auth"
	"github.com/dmitrijs2005/fidolock/internal/server/config"
	"github.com/dmitrijs2005/fidolock/internal/server/models"
	"github.com/dmitrijs2005/fidolock/internal/server/services"
)

// ---- fakes ----

type fakeAgentSvc struct {
	joinAgent *models.Agent
	joinPair  *services.TokenPair
	joinErr   error

	refreshPair *services.TokenPair
	refreshErr  error
}

func (f *fakeAgentSvc) Join(ctx context.Context, joinToken string, hostname string) (*models.Agent, *services.TokenPair, error) {
	if f.joinErr != nil {
		return nil, nil, f.joinErr
	}
	return f.joinAgent, f.joinPair, nil
}
func (f *fakeAgentSvc) RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error) {
	return f.refreshPair, f.refreshErr
}

type fakeEscrowSvc struct {
	upsertErr error
	upserted  []string

	getOut *models.EscrowRecord
	getErr error

	listOut []*models.EscrowRecord
	listErr error

	delErr error

	newBackupOut *models.HeaderBackup
	newBackupURL string
	newBackupErr error

	completeErr error

	latestOut *models.HeaderBackup
	latestURL string
	latestErr error
}

func (f *fakeEscrowSvc) UpsertRecord(ctx context.Context, agentID, volumeUUID, node string, record, capsule []byte) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = append(f.upserted, agentID+"/"+volumeUUID)
	return nil
}
func (f *fakeEscrowSvc) GetRecord(ctx context.Context, agentID, volumeUUID string) (*models.EscrowRecord, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.getOut, nil
}
func (f *fakeEscrowSvc) ListRecords(ctx context.Context, agentID string) ([]*models.EscrowRecord, error) {
	return f.listOut, f.listErr
}
func (f *fakeEscrowSvc) DeleteRecord(ctx context.Context, agentID, volumeUUID string) error {
	return f.delErr
}
func (f *fakeEscrowSvc) NewBackup(ctx context.Context, agentID, volumeUUID string) (*models.HeaderBackup, string, error) {
	if f.newBackupErr != nil {
		return nil, "", f.newBackupErr
	}
	return f.newBackupOut, f.newBackupURL, nil
}
func (f *fakeEscrowSvc) CompleteBackup(ctx context.Context, id, agentID string) error {
	return f.completeErr
}
func (f *fakeEscrowSvc) LatestBackup(ctx context.Context, agentID, volumeUUID string) (*models.HeaderBackup, string, error) {
	if f.latestErr != nil {
		return nil, "", f.latestErr
	}
	return f.latestOut, f.latestURL, nil
}

// ---- helpers ----

func newTestServer(t *testing.T, as agentSvc, es escrowSvc) *HTTPServer {
	t.Helper()
	cfg := &config.Config{
		SecretKey:      "k",
		JoinToken:      "jt",
		RateLimitRPS:   100,
		RateLimitBurst: 100,
	}
	s, err := NewHTTPServer("127.0.0.1:0", logging.Nop{}, as, es, cfg)
	if err != nil {
		t.Fatalf("NewHTTPServer error: %v", err)
	}
	return s
}

func bearerFor(t *testing.T, agentID string) string {
	t.Helper()
	token, err := auth.GenerateToken(agentID, []byte("k"), time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}
	return "Bearer " + token
}

func doRequest(s *HTTPServer, method, path, body, authHeader string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if authHeader != "" {
		r.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	return w
}

// ---- tests ----

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, &fakeAgentSvc{}, &fakeEscrowSvc{})
	w := doRequest(s, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("unexpected health response: %d %q", w.Code, w.Body.String())
	}
}

func TestHandleJoin_OK(t *testing.T) {
	as := &fakeAgentSvc{
		joinAgent: &models.Agent{ID: "a1", Hostname: "host1"},
		joinPair:  &services.TokenPair{AccessToken: "at", RefreshToken: "rt"},
	}
	s := newTestServer(t, as, &fakeEscrowSvc{})

	w := doRequest(s, http.MethodPost, "/api/agents/join", `{"join_token":"jt","hostname":"host1"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp joinResp
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.AgentID != "a1" || resp.AccessToken != "at" || resp.RefreshToken != "rt" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandleJoin_Unauthorized(t *testing.T) {
	s := newTestServer(t, &fakeAgentSvc{joinErr: common.ErrorUnauthorized}, &fakeEscrowSvc{})
	w := doRequest(s, http.MethodPost, "/api/agents/join", `{"join_token":"bad","hostname":"h"}`, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", w.Code)
	}
}

func TestHandleJoin_BadRequests(t *testing.T) {
	s := newTestServer(t, &fakeAgentSvc{}, &fakeEscrowSvc{})

	w := doRequest(s, http.MethodGet, "/api/agents/join", "", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("method: want 405, got %d", w.Code)
	}

	w = doRequest(s, http.MethodPost, "/api/agents/join", `{not json`, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad json: want 400, got %d", w.Code)
	}

	w = doRequest(s, http.MethodPost, "/api/agents/join", `{"join_token":"jt"}`, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing hostname: want 400, got %d", w.Code)
	}
}

func TestHandleRefresh_OKAndExpired(t *testing.T) {
	s := newTestServer(t, &fakeAgentSvc{refreshPair: &services.TokenPair{AccessToken: "A", RefreshToken: "R"}}, &fakeEscrowSvc{})

	w := doRequest(s, http.MethodPost, "/api/agents/refresh", `{"refresh_token":"r0"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", w.Code)
	}
	var resp tokenPairResp
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.AccessToken != "A" || resp.RefreshToken != "R" {
		t.Fatalf("unexpected tokens: %+v", resp)
	}

	s2 := newTestServer(t, &fakeAgentSvc{refreshErr: common.ErrRefreshTokenExpired}, &fakeEscrowSvc{})
	w = doRequest(s2, http.MethodPost, "/api/agents/refresh", `{"refresh_token":"r0"}`, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expired: want 401, got %d", w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, &fakeAgentSvc{}, &fakeEscrowSvc{})

	w := doRequest(s, http.MethodGet, "/api/records", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: want 401, got %d", w.Code)
	}

	w = doRequest(s, http.MethodGet, "/api/records", "", "Bearer not-a-token")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("invalid token: want 401, got %d", w.Code)
	}

	// просроченный токен должен отличаться от невалидного
	expired, err := auth.GenerateToken("a1", []byte("k"), -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	w = doRequest(s, http.MethodGet, "/api/records", "", "Bearer "+expired)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expired token: want 401, got %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != common.ErrTokenExpired.Error() {
		t.Fatalf("expired token: want %q body, got %q", common.ErrTokenExpired.Error(), got)
	}
}

func TestHandleRecords_Put(t *testing.T) {
	es := &fakeEscrowSvc{}
	s := newTestServer(t, &fakeAgentSvc{}, es)
	h := bearerFor(t, "a1")

	w := doRequest(s, http.MethodPut, "/api/records", `{"volume_uuid":"u1","node":"/dev/sda2","record":{"type":"fido2"}}`, h)
	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(es.upserted) != 1 || es.upserted[0] != "a1/u1" {
		t.Fatalf("unexpected upsert calls: %+v", es.upserted)
	}

	w = doRequest(s, http.MethodPut, "/api/records", `{"record":{}}`, h)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing uuid: want 400, got %d", w.Code)
	}

	w = doRequest(s, http.MethodPut, "/api/records", `{"volume_uuid":"u1"}`, h)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing record: want 400, got %d", w.Code)
	}
}

func TestHandleRecords_List(t *testing.T) {
	es := &fakeEscrowSvc{listOut: []*models.EscrowRecord{
		{VolumeUUID: "u1", Node: "/dev/sda2", Record: []byte(`{"a":1}`)},
		{VolumeUUID: "u2", Node: "/dev/sdb1", Record: []byte(`{"b":2}`)},
	}}
	s := newTestServer(t, &fakeAgentSvc{}, es)

	w := doRequest(s, http.MethodGet, "/api/records", "", bearerFor(t, "a1"))
	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", w.Code)
	}

	var resp []recordResp
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp) != 2 || resp[0].VolumeUUID != "u1" || resp[1].VolumeUUID != "u2" {
		t.Fatalf("unexpected list: %+v", resp)
	}
}

func TestHandleRecordByUUID_GetAndDelete(t *testing.T) {
	es := &fakeEscrowSvc{getOut: &models.EscrowRecord{VolumeUUID: "u1", Record: []byte(`{"a":1}`)}}
	s := newTestServer(t, &fakeAgentSvc{}, es)
	h := bearerFor(t, "a1")

	w := doRequest(s, http.MethodGet, "/api/records/u1", "", h)
	if w.Code != http.StatusOK {
		t.Fatalf("get: want 200, got %d", w.Code)
	}
	var resp recordResp
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.VolumeUUID != "u1" {
		t.Fatalf("unexpected record: %+v", resp)
	}

	w = doRequest(s, http.MethodDelete, "/api/records/u1", "", h)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: want 200, got %d", w.Code)
	}

	sNF := newTestServer(t, &fakeAgentSvc{}, &fakeEscrowSvc{getErr: common.ErrorNotFound, delErr: common.ErrorNotFound})
	w = doRequest(sNF, http.MethodGet, "/api/records/ghost", "", h)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get missing: want 404, got %d", w.Code)
	}
	w = doRequest(sNF, http.MethodDelete, "/api/records/ghost", "", h)
	if w.Code != http.StatusNotFound {
		t.Fatalf("delete missing: want 404, got %d", w.Code)
	}
}

func TestHandleBackups_Post(t *testing.T) {
	es := &fakeEscrowSvc{
		newBackupOut: &models.HeaderBackup{ID: "b1", VolumeUUID: "u1", StorageKey: "agents/2025/1/2/k"},
		newBackupURL: "http://presigned/put",
	}
	s := newTestServer(t, &fakeAgentSvc{}, es)

	w := doRequest(s, http.MethodPost, "/api/backups", `{"volume_uuid":"u1"}`, bearerFor(t, "a1"))
	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp backupResp
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ID != "b1" || resp.UploadURL != "http://presigned/put" {
		t.Fatalf("unexpected backup response: %+v", resp)
	}
}

func TestHandleBackupAction(t *testing.T) {
	es := &fakeEscrowSvc{
		latestOut: &models.HeaderBackup{ID: "b9", VolumeUUID: "u1", StorageKey: "k"},
		latestURL: "http://presigned/get",
	}
	s := newTestServer(t, &fakeAgentSvc{}, es)
	h := bearerFor(t, "a1")

	w := doRequest(s, http.MethodPost, "/api/backups/b1/complete", "", h)
	if w.Code != http.StatusOK {
		t.Fatalf("complete: want 200, got %d", w.Code)
	}

	w = doRequest(s, http.MethodGet, "/api/backups/u1/latest", "", h)
	if w.Code != http.StatusOK {
		t.Fatalf("latest: want 200, got %d", w.Code)
	}
	var resp backupResp
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.DownloadURL != "http://presigned/get" {
		t.Fatalf("unexpected latest response: %+v", resp)
	}

	w = doRequest(s, http.MethodPost, "/api/backups/b1/unknown", "", h)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown action: want 404, got %d", w.Code)
	}

	sNF := newTestServer(t, &fakeAgentSvc{}, &fakeEscrowSvc{completeErr: common.ErrorNotFound})
	w = doRequest(sNF, http.MethodPost, "/api/backups/ghost/complete", "", h)
	if w.Code != http.StatusNotFound {
		t.Fatalf("complete missing: want 404, got %d", w.Code)
	}
}

func TestInternalErrorsMapTo500(t *testing.T) {
	es := &fakeEscrowSvc{listErr: errors.New("db down")}
	s := newTestServer(t, &fakeAgentSvc{}, es)

	w := doRequest(s, http.MethodGet, "/api/records", "", bearerFor(t, "a1"))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("want 500, got %d", w.Code)
	}
}

func TestPublicRateLimit(t *testing.T) {
	cfg := &config.Config{
		SecretKey:      "k",
		RateLimitRPS:   1,
		RateLimitBurst: 1,
	}
	s, err := NewHTTPServer("127.0.0.1:0", logging.Nop{}, &fakeAgentSvc{refreshErr: common.ErrRefreshTokenExpired}, &fakeEscrowSvc{}, cfg)
	if err != nil {
		t.Fatalf("NewHTTPServer error: %v", err)
	}

	first := doRequest(s, http.MethodPost, "/api/agents/refresh", `{"refresh_token":"r"}`, "")
	if first.Code == http.StatusTooManyRequests {
		t.Fatalf("first request should not be limited")
	}
	second := doRequest(s, http.MethodPost, "/api/agents/refresh", `{"refresh_token":"r"}`, "")
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("want 429, got %d", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatalf("Retry-After header not set")
	}
}

func TestMetricPath(t *testing.T) {
	cases := map[string]string{
		"/health":                  "/health",
		"/api/records":             "/api/records",
		"/api/records/uuid-1":      "/api/records/{uuid}",
		"/api/backups/b1/complete": "/api/backups/{id}/complete",
		"/api/backups/u1/latest":   "/api/backups/{uuid}/latest",
		"/api/backups/b1":          "/api/backups/{id}",
	}
	for in, want := range cases {
		if got := metricPath(in); got != want {
			t.Fatalf("metricPath(%q) = %q, want %q", in, got, want)
		}
	}
}
