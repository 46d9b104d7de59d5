package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/fidolock/internal/common"
	"github.com/dmitrijs2005/fidolock/internal/netx"
)

// maxResponseSize caps API responses; record lists are small.
const maxResponseSize = 8 << 20

type joinRequest struct {
	JoinToken string `json:"join_token"`
	Hostname  string `json:"hostname"`
}

type joinResponse struct {
	AgentID      string `json:"agent_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type recordRequest struct {
	VolumeUUID string          `json:"volume_uuid"`
	Node       string          `json:"node"`
	Record     json.RawMessage `json:"record"`
	Capsule    []byte          `json:"capsule,omitempty"`
}

type backupRequest struct {
	VolumeUUID string `json:"volume_uuid"`
}

type backupResponse struct {
	ID          string `json:"id"`
	VolumeUUID  string `json:"volume_uuid"`
	StorageKey  string `json:"storage_key"`
	UploadURL   string `json:"upload_url"`
	DownloadURL string `json:"download_url"`
}

// HTTPClient talks to the escrow server's JSON API.
type HTTPClient struct {
	baseURL string
	http    *http.Client

	accessToken  string
	refreshToken string

	// onTokens is invoked whenever the token pair rotates.
	onTokens func(access, refresh string)
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SetTokens primes the client with a previously saved token pair.
func (c *HTTPClient) SetTokens(access, refresh string) {
	c.accessToken = access
	c.refreshToken = refresh
}

// OnTokensChanged registers a callback that persists rotated token pairs.
func (c *HTTPClient) OnTokensChanged(fn func(access, refresh string)) {
	c.onTokens = fn
}

func (c *HTTPClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) setTokens(access, refresh string) {
	c.accessToken = access
	c.refreshToken = refresh
	if c.onTokens != nil {
		c.onTokens(access, refresh)
	}
}

// send performs one request and returns the raw status and body. Transport
// failures come back as ErrUnavailable so callers can match them.
func (c *HTTPClient) send(ctx context.Context, method, path string, body any, token string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp.StatusCode, data, nil
}

// mapStatus decodes a 2xx body into out; other statuses map to sentinel
// errors the same way for every endpoint.
func (c *HTTPClient) mapStatus(status int, data []byte, out any) error {
	switch {
	case status >= 200 && status < 300:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnauthorized
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: status %d", ErrUnavailable, status)
	default:
		return fmt.Errorf("server error: %s", strings.TrimSpace(string(data)))
	}
}

// doAuthed sends an authenticated request. When the server reports an
// expired access token the pair is refreshed once and the request retried
// with the new token.
func (c *HTTPClient) doAuthed(ctx context.Context, method, path string, body, out any) error {
	if c.accessToken == "" && c.refreshToken == "" {
		return ErrNotJoined
	}

	status, data, err := c.send(ctx, method, path, body, c.accessToken)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized &&
		strings.TrimSpace(string(data)) == common.ErrTokenExpired.Error() &&
		c.refreshToken != "" {

		if err := c.refresh(ctx); err != nil {
			return err
		}

		// tokens refreshed, retry with the new access token
		status, data, err = c.send(ctx, method, path, body, c.accessToken)
		if err != nil {
			return err
		}
	}

	return c.mapStatus(status, data, out)
}

func (c *HTTPClient) refresh(ctx context.Context) error {
	status, data, err := c.send(ctx, http.MethodPost, "/api/agents/refresh", refreshRequest{RefreshToken: c.refreshToken}, "")
	if err != nil {
		return err
	}

	var pair tokenPairResponse
	if err := c.mapStatus(status, data, &pair); err != nil {
		return err
	}

	c.setTokens(pair.AccessToken, pair.RefreshToken)
	return nil
}

// Join registers this agent with the server and stores the issued token
// pair. It returns the server-assigned agent id.
func (c *HTTPClient) Join(ctx context.Context, joinToken string, hostname string) (string, error) {
	status, data, err := c.send(ctx, http.MethodPost, "/api/agents/join", joinRequest{JoinToken: joinToken, Hostname: hostname}, "")
	if err != nil {
		return "", err
	}

	var resp joinResponse
	if err := c.mapStatus(status, data, &resp); err != nil {
		return "", err
	}

	c.setTokens(resp.AccessToken, resp.RefreshToken)
	return resp.AgentID, nil
}

func (c *HTTPClient) PushRecord(ctx context.Context, volumeUUID string, node string, record json.RawMessage, capsule []byte) error {
	req := recordRequest{VolumeUUID: volumeUUID, Node: node, Record: record, Capsule: capsule}
	return c.doAuthed(ctx, http.MethodPut, "/api/records", req, nil)
}

func (c *HTTPClient) PullRecord(ctx context.Context, volumeUUID string) (*Record, error) {
	var rec Record
	if err := c.doAuthed(ctx, http.MethodGet, "/api/records/"+volumeUUID, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *HTTPClient) ListRecords(ctx context.Context) ([]Record, error) {
	var recs []Record
	if err := c.doAuthed(ctx, http.MethodGet, "/api/records", nil, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (c *HTTPClient) DeleteRecord(ctx context.Context, volumeUUID string) error {
	return c.doAuthed(ctx, http.MethodDelete, "/api/records/"+volumeUUID, nil, nil)
}

// UploadBackup stores a header image: the server hands out a presigned PUT
// URL, the payload goes straight to object storage, then the backup row is
// marked uploaded.
func (c *HTTPClient) UploadBackup(ctx context.Context, volumeUUID string, header []byte) error {
	var resp backupResponse
	if err := c.doAuthed(ctx, http.MethodPost, "/api/backups", backupRequest{VolumeUUID: volumeUUID}, &resp); err != nil {
		return err
	}

	if err := netx.UploadPresigned(ctx, resp.UploadURL, header); err != nil {
		return fmt.Errorf("upload header: %w", err)
	}

	return c.doAuthed(ctx, http.MethodPost, "/api/backups/"+resp.ID+"/complete", nil, nil)
}

// DownloadBackup fetches the latest uploaded header image for a volume.
func (c *HTTPClient) DownloadBackup(ctx context.Context, volumeUUID string) ([]byte, error) {
	var resp backupResponse
	if err := c.doAuthed(ctx, http.MethodGet, "/api/backups/"+volumeUUID+"/latest", nil, &resp); err != nil {
		return nil, err
	}

	data, err := netx.DownloadPresigned(ctx, resp.DownloadURL)
	if err != nil {
		return nil, fmt.Errorf("download header: %w", err)
	}
	return data, nil
}
