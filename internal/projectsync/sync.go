// Package projectsync uploads a snapshot of a project's working tree to
// object storage when the last editor leaves. Sync is fire-and-forget:
// the departing client never sees the result, so failures are logged and
// swallowed.
package projectsync

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/codeflow-dev/codeflow/internal/config"
)

const syncTimeout = 2 * time.Minute

// Syncer persists project working trees.
type Syncer interface {
	// Sync uploads a snapshot of the project directory. Implementations
	// must be safe for concurrent use across projects.
	Sync(ctx context.Context, projectID, projectPath string) error
}

// MinioSyncer implements Syncer against an S3-compatible object store.
type MinioSyncer struct {
	client *minio.Client
	bucket string
}

// NewMinio creates an object-storage syncer from the sync configuration.
func NewMinio(cfg config.SyncConfig) (*MinioSyncer, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("sync: create client: %w", err)
	}
	return &MinioSyncer{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the sync bucket if it does not exist.
func (s *MinioSyncer) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("sync: check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("sync: create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Sync zips the project working tree and uploads it as {projectID}.zip.
func (s *MinioSyncer) Sync(ctx context.Context, projectID, projectPath string) error {
	var buf bytes.Buffer
	if err := zipDirectory(&buf, projectPath); err != nil {
		return fmt.Errorf("sync: zip project %s: %w", projectID, err)
	}

	objectName := projectID + ".zip"
	_, err := s.client.PutObject(ctx, s.bucket, objectName, &buf, int64(buf.Len()), minio.PutObjectOptions{
		ContentType: "application/zip",
	})
	if err != nil {
		return fmt.Errorf("sync: upload %s: %w", objectName, err)
	}
	return nil
}

// Background runs a sync detached from the departing connection, with its
// own timeout. Errors are logged, never surfaced: the client has already
// disconnected.
func Background(s Syncer, projectID, projectPath string) {
	if s == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		defer cancel()
		if err := s.Sync(ctx, projectID, projectPath); err != nil {
			slog.Error("Project sync failed", "project_id", projectID, "error", err)
			return
		}
		slog.Info("Project synced", "project_id", projectID)
	}()
}
