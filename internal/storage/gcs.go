package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"cloud.google.com/go/storage"

	"github.com/joseph-ayodele/allergy-extractor/internal/common"
)

// GCS stores objects in a Cloud Storage bucket under an optional prefix.
type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
	log    *slog.Logger
}

func NewGCS(ctx context.Context, bucket, prefix string, logger *slog.Logger) (*GCS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCS{client: client, bucket: client.Bucket(bucket), prefix: prefix, log: logger}, nil
}

func (g *GCS) object(key string) string {
	if g.prefix == "" {
		return key
	}
	return path.Join(g.prefix, key)
}

// Put writes the object only if it does not exist yet; keys are unique per job.
func (g *GCS) Put(ctx context.Context, key string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	name := g.object(key)
	w := g.bucket.Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/pdf"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		g.log.Error("gcs write failed", "object", name, "error", err)
		return fmt.Errorf("write gcs object: %w", err)
	}
	if err := w.Close(); err != nil {
		g.log.Error("gcs finalize failed", "object", name, "error", err)
		return fmt.Errorf("finalize gcs object: %w", err)
	}
	g.log.Debug("blob stored", "object", name, "bytes", len(data))
	return nil
}

func (g *GCS) Fetch(ctx context.Context, key string) (string, func(), error) {
	name := g.object(key)
	r, err := g.bucket.Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return "", func() {}, fmt.Errorf("blob %s: %w", key, common.ErrNotFound)
		}
		return "", func() {}, fmt.Errorf("open gcs object: %w", err)
	}
	defer func(r io.Closer) { _ = r.Close() }(r)
	return downloadTo(r, name)
}

func (g *GCS) Delete(ctx context.Context, key string) error {
	err := g.bucket.Object(g.object(key)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return err
	}
	return nil
}

func (g *GCS) Close() error { return g.client.Close() }
