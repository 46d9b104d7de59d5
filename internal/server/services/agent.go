package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fidolock/internal/common"
	"github.com/dmitrijs2005/fidolock/internal/dbx"
	"github.com/dmitrijs2005/fidolock/internal/server/auth"
	"github.com/dmitrijs2005/fidolock/internal/server/config"
	"github.com/dmitrijs2005/fidolock/internal/server/models"
	"github.com/dmitrijs2005/fidolock/internal/server/repositories/repomanager"
)

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// AgentService handles machine registration and token lifecycle. An agent
// joins once with the shared join token and afterwards authenticates with
// the JWT pair issued here.
type AgentService struct {
	db                           *sql.DB
	repomanager                  repomanager.RepositoryManager
	jwtSecret                    []byte
	joinToken                    []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
}

func NewAgentService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config) *AgentService {
	return &AgentService{
		db:                           db,
		repomanager:                  m,
		jwtSecret:                    []byte(cfg.SecretKey),
		joinToken:                    []byte(cfg.JoinToken),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
	}
}

func (s *AgentService) checkJoinToken(candidate string) bool {
	return subtle.ConstantTimeCompare(s.joinToken, []byte(candidate)) == 1
}

// Join registers a new agent. The join token is the only credential a
// machine presents on first contact; a wrong token is indistinguishable
// from a missing one.
func (s *AgentService) Join(ctx context.Context, joinToken string, hostname string) (*models.Agent, *TokenPair, error) {

	if !s.checkJoinToken(joinToken) {
		return nil, nil, common.ErrorUnauthorized
	}

	repo := s.repomanager.Agents(s.db)

	agent, err := repo.Create(ctx, &models.Agent{Hostname: hostname})
	if err != nil {
		return nil, nil, fmt.Errorf("error creating agent: %v", err)
	}

	pair, err := s.generateTokenPair(ctx, agent.ID, s.db)
	if err != nil {
		return nil, nil, err
	}

	return agent, pair, nil
}

// RefreshToken validates a refresh token, rotates it transactionally, and
// returns a fresh TokenPair. Expired tokens yield ErrRefreshTokenExpired.
func (s *AgentService) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {

	repo := s.repomanager.RefreshTokens(s.db)

	token, err := repo.Find(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("error searching refresh token: %v", err)
	}

	if token.Expires.Before(time.Now()) {
		return nil, common.ErrRefreshTokenExpired
	}

	var tokenPair *TokenPair

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repoTx := s.repomanager.RefreshTokens(tx)
		if err := repoTx.Delete(ctx, refreshToken); err != nil {
			return fmt.Errorf("error deleting refresh token: %v", err)
		}

		tokenPair, err = s.generateTokenPair(ctx, token.AgentID, tx)
		if err != nil {
			return fmt.Errorf("error generating token pair: %v", err)
		}

		return err

	})

	if err != nil {
		return nil, err
	}

	return tokenPair, nil

}

// PurgeExpiredTokens sweeps refresh tokens whose validity has lapsed. Used
// tokens are rotated away on refresh; this catches the ones left behind by
// agents that stopped syncing.
func (s *AgentService) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	repo := s.repomanager.RefreshTokens(s.db)
	n, err := repo.DeleteExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("error purging refresh tokens: %v", err)
	}
	return n, nil
}

func (s *AgentService) generateAccessToken(agentID string) (string, error) {
	token, err := auth.GenerateToken(agentID, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *AgentService) generateRefreshToken() (string, error) {
	token, err := common.MakeRandHexString(32)
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *AgentService) generateTokenPair(ctx context.Context, agentID string, db dbx.DBTX) (*TokenPair, error) {
	accessToken, err := s.generateAccessToken(agentID)
	if err != nil {
		return nil, common.ErrorInternal
	}

	refreshtoken, err := s.generateRefreshToken()
	if err != nil {
		return nil, common.ErrorInternal
	}

	refreshTokenRepo := s.repomanager.RefreshTokens(db)
	err = refreshTokenRepo.Create(ctx, agentID, refreshtoken, s.refreshTokenValidityDuration)
	if err != nil {
		return nil, common.ErrorInternal
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshtoken}, nil
}
