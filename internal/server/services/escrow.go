package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fidolock/internal/common"
	"github.com/dmitrijs2005/fidolock/internal/server/models"
	"github.com/dmitrijs2005/fidolock/internal/server/repositories/repomanager"
	"github.com/google/uuid"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	sc "github.com/dmitrijs2005/fidolock/internal/server/config"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// EscrowService stores enrollment records and LUKS header backups on behalf
// of agents. Records arrive sealed on the client side, so the service only
// ever moves opaque blobs; header payloads go to S3 through presigned URLs
// and never pass through this process.
type EscrowService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config
}

func NewEscrowService(db *sql.DB, repomanager repomanager.RepositoryManager, config *sc.Config) *EscrowService {
	return &EscrowService{
		db:          db,
		repomanager: repomanager,
		config:      config,
	}
}

func GetRandomStorageKey() string {
	d := time.Now()
	return fmt.Sprintf("agents/%d/%d/%d/%v", d.Year(), d.Month(), d.Day(), uuid.New())
}

func (s *EscrowService) getPresignClient() (*s3.PresignClient, error) {
	cfg, err := loadDefaultAWSConfig(context.Background(),
		config.WithRegion(s.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,     // MINIO_ROOT_USER
			s.config.S3RootPassword, // MINIO_ROOT_PASSWORD
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
	})

	return newS3PresignClient(client), nil
}

func (s *EscrowService) GetPresignedPutUrl(ctx context.Context) (string, string, error) {

	presignClient, err := s.getPresignClient()
	if err != nil {
		return "", "", err
	}

	bucket := s.config.S3Bucket
	key := GetRandomStorageKey()

	// Presigned PUT
	req, err := presignPutObject(presignClient, ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(s.config.PresignValidityDuration))

	if err != nil {
		return "", "", err
	}

	return key, req.URL, nil
}

func (s *EscrowService) GetPresignedGetUrl(ctx context.Context, key string) (string, error) {

	presignClient, err := s.getPresignClient()
	if err != nil {
		return "", err
	}

	bucket := s.config.S3Bucket

	// Presigned GET
	reg, err := presignGetObject(presignClient, ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(s.config.PresignValidityDuration))
	if err != nil {
		return "", err
	}

	return reg.URL, nil
}

// UpsertRecord stores or replaces the escrow copy of one volume's
// enrollment metadata.
func (s *EscrowService) UpsertRecord(ctx context.Context, agentID string, volumeUUID string, node string, record []byte, capsule []byte) error {

	repo := s.repomanager.Records(s.db)

	r := &models.EscrowRecord{
		AgentID:    agentID,
		VolumeUUID: volumeUUID,
		Node:       node,
		Record:     record,
		Capsule:    capsule,
	}

	err := repo.Upsert(ctx, r)
	if err != nil {
		return fmt.Errorf("error saving record: %v", err)
	}

	return nil
}

func (s *EscrowService) GetRecord(ctx context.Context, agentID string, volumeUUID string) (*models.EscrowRecord, error) {

	repo := s.repomanager.Records(s.db)

	r, err := repo.GetByVolume(ctx, agentID, volumeUUID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, common.ErrorInternal
	}

	return r, nil
}

func (s *EscrowService) ListRecords(ctx context.Context, agentID string) ([]*models.EscrowRecord, error) {

	repo := s.repomanager.Records(s.db)

	rr, err := repo.ListByAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("error listing records: %v", err)
	}

	return rr, nil
}

func (s *EscrowService) DeleteRecord(ctx context.Context, agentID string, volumeUUID string) error {

	repo := s.repomanager.Records(s.db)

	err := repo.Delete(ctx, agentID, volumeUUID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("error deleting record: %v", err)
	}

	return nil
}

// NewBackup allocates a storage key, creates a pending backup row and
// returns it with a presigned PUT URL the agent uploads the header to.
func (s *EscrowService) NewBackup(ctx context.Context, agentID string, volumeUUID string) (*models.HeaderBackup, string, error) {

	key, url, err := s.GetPresignedPutUrl(ctx)
	if err != nil {
		return nil, "", err
	}

	repo := s.repomanager.Backups(s.db)

	b, err := repo.Create(ctx, &models.HeaderBackup{
		AgentID:    agentID,
		VolumeUUID: volumeUUID,
		StorageKey: key,
	})
	if err != nil {
		return nil, "", fmt.Errorf("error creating backup: %v", err)
	}

	return b, url, nil
}

// CompleteBackup marks a backup as uploaded. Only the agent that created
// the backup can complete it.
func (s *EscrowService) CompleteBackup(ctx context.Context, id string, agentID string) error {

	repo := s.repomanager.Backups(s.db)

	err := repo.MarkUploaded(ctx, id, agentID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("error updating backup: %v", err)
	}

	return nil
}

// LatestBackup returns the newest uploaded backup of a volume together
// with a presigned GET URL for the header payload.
func (s *EscrowService) LatestBackup(ctx context.Context, agentID string, volumeUUID string) (*models.HeaderBackup, string, error) {

	repo := s.repomanager.Backups(s.db)

	b, err := repo.LatestUploaded(ctx, agentID, volumeUUID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, "", common.ErrorNotFound
		}
		return nil, "", fmt.Errorf("error getting backup: %v", err)
	}

	url, err := s.GetPresignedGetUrl(ctx, b.StorageKey)

	return b, url, err
}
