package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/fidolock/internal/logging"
	"github.com/dmitrijs2005/fidolock/internal/server/config"
	"github.com/dmitrijs2005/fidolock/internal/server/models"
	"github.com/dmitrijs2005/fidolock/internal/server/services"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

type agentSvc interface {
	Join(ctx context.Context, joinToken string, hostname string) (*models.Agent, *services.TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error)
}

type escrowSvc interface {
	UpsertRecord(ctx context.Context, agentID string, volumeUUID string, node string, record []byte, capsule []byte) error
	GetRecord(ctx context.Context, agentID string, volumeUUID string) (*models.EscrowRecord, error)
	ListRecords(ctx context.Context, agentID string) ([]*models.EscrowRecord, error)
	DeleteRecord(ctx context.Context, agentID string, volumeUUID string) error
	NewBackup(ctx context.Context, agentID string, volumeUUID string) (*models.HeaderBackup, string, error)
	CompleteBackup(ctx context.Context, id string, agentID string) error
	LatestBackup(ctx context.Context, agentID string, volumeUUID string) (*models.HeaderBackup, string, error)
}

// HTTPServer is the escrow API. Agents join with a shared token, then
// talk JSON over HTTP with a Bearer access token.
type HTTPServer struct {
	address   string
	logger    logging.Logger
	agents    agentSvc
	escrow    escrowSvc
	jwtSecret []byte

	mux *http.ServeMux

	rlPublicIP *multiLimiter
	rlAgent    *multiLimiter
}

func NewHTTPServer(a string, l logging.Logger, as agentSvc, es escrowSvc, cfg *config.Config) (*HTTPServer, error) {
	s := &HTTPServer{
		address:   a,
		logger:    l.With("module", "http_server"),
		agents:    as,
		escrow:    es,
		jwtSecret: []byte(cfg.SecretKey),
		mux:       http.NewServeMux(),
	}

	s.rlPublicIP = newMultiLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst, time.Hour)
	s.rlAgent = newMultiLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst, time.Hour)

	s.routes()
	return s, nil
}

func (s *HTTPServer) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())

	s.mux.HandleFunc("/api/agents/join", s.handleJoin)
	s.mux.HandleFunc("/api/agents/refresh", s.handleRefresh)

	s.mux.HandleFunc("/api/records", s.handleRecords)
	s.mux.HandleFunc("/api/records/", s.handleRecordByUUID)
	s.mux.HandleFunc("/api/backups", s.handleBackups)
	s.mux.HandleFunc("/api/backups/", s.handleBackupAction)
}

func (s *HTTPServer) isPublic(path string) bool {
	switch path {
	case "/health", "/metrics", "/api/agents/join", "/api/agents/refresh":
		return true
	default:
		return false
	}
}

func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	defer func() {
		if p := recover(); p != nil {
			s.logger.Error(r.Context(), "panic in handler", "panic", p, "path", r.URL.Path)
			rec.status = http.StatusInternalServerError
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		mp := metricPath(r.URL.Path)
		requestsTotal.WithLabelValues(mp, strconv.Itoa(rec.status)).Inc()
		requestDuration.WithLabelValues(mp).Observe(time.Since(start).Seconds())
	}()

	path := r.URL.Path
	if strings.HasPrefix(path, "/api/") && !s.isPublic(path) {
		s.authRequired(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			agentID, _ := agentIDFromContext(r.Context())
			if !s.rlAgent.allow(agentID) {
				tooMany(w, 1)
				return
			}
			s.mux.ServeHTTP(w, r)
		})).ServeHTTP(rec, r)
		return
	}

	if strings.HasPrefix(path, "/api/") {
		if !s.rlPublicIP.allow(getClientIP(r)) {
			tooMany(rec, 1)
			return
		}
	}

	s.mux.ServeHTTP(rec, r)
}

func (s *HTTPServer) Handler() http.Handler { return s }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {

	srv := &http.Server{
		Addr:              s.address,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "error stopping HTTP server", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
