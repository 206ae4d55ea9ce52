// Package archive exports ledger history snapshots to S3-compatible object
// storage for audit and cold retention.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/veyra-labs/fieldledger/internal/ledger"
)

// Config contains object storage configuration.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Archiver writes dated JSON snapshots of the redistribution ledger.
type Archiver struct {
	cfg    Config
	client *minio.Client
	logger *slog.Logger
}

// Snapshot is the on-disk layout of one archived export.
type Snapshot struct {
	ExportedAt time.Time                     `json:"exported_at"`
	Count      int                           `json:"count"`
	Records    []ledger.RedistributionRecord `json:"records"`
}

// New creates an archiver against the configured endpoint.
func New(cfg Config, logger *slog.Logger) (*Archiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Archiver{
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "archiver"),
	}, nil
}

// EnsureBucket creates the archive bucket when it does not exist.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}

	if err := a.client.MakeBucket(ctx, a.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket: %w", err)
	}

	a.logger.Info("created archive bucket", "bucket", a.cfg.Bucket)
	return nil
}

// Export writes the given records as one dated snapshot object and returns
// the object key.
func (a *Archiver) Export(ctx context.Context, records []ledger.RedistributionRecord) (string, error) {
	now := time.Now().UTC()
	snap := Snapshot{
		ExportedAt: now,
		Count:      len(records),
		Records:    records,
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	// Object key layout: ledger/2026/01/15/redistributions-150405.json
	key := fmt.Sprintf("ledger/%s/redistributions-%s.json",
		now.Format("2006/01/02"), now.Format("150405"))

	_, err = a.client.PutObject(ctx, a.cfg.Bucket, key,
		bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/json"},
	)
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}

	a.logger.Info("exported ledger snapshot",
		"bucket", a.cfg.Bucket,
		"key", key,
		"records", len(records),
	)

	return key, nil
}
