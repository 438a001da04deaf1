package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/allergy-extractor/internal/common"
)

// Store keeps uploaded PDFs between job start and page processing.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	// Fetch materializes the object as a local file. cleanup must always be called.
	Fetch(ctx context.Context, key string) (path string, cleanup func(), err error)
	Delete(ctx context.Context, key string) error
}

// Key is the object key for a job's source PDF.
func Key(jobID, fileName string) string {
	base := filepath.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "upload.pdf"
	}
	return jobID + "/" + base
}

// Local stores objects under a directory on disk.
type Local struct {
	dir string
	log *slog.Logger
}

func NewLocal(dir string, logger *slog.Logger) (*Local, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Local{dir: dir, log: logger}, nil
}

func (l *Local) path(key string) (string, error) {
	p := filepath.Join(l.dir, filepath.FromSlash(key))
	rel, err := filepath.Rel(l.dir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: storage key %q escapes root", common.ErrInvalidInput, key)
	}
	return p, nil
}

func (l *Local) Put(ctx context.Context, key string, data []byte) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp := p + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	l.log.Debug("blob stored", "key", key, "bytes", len(data))
	return nil
}

func (l *Local) Fetch(ctx context.Context, key string) (string, func(), error) {
	p, err := l.path(key)
	if err != nil {
		return "", func() {}, err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", func() {}, fmt.Errorf("blob %s: %w", key, common.ErrNotFound)
		}
		return "", func() {}, err
	}
	return p, func() {}, nil
}

func (l *Local) Delete(ctx context.Context, key string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// downloadTo copies r into a fresh temp file and returns its path with a cleanup func.
func downloadTo(r io.Reader, name string) (string, func(), error) {
	dir, err := os.MkdirTemp("", "allergy-blob-*")
	if err != nil {
		return "", func() {}, err
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	p := filepath.Join(dir, filepath.Base(name))
	f, err := os.Create(p)
	if err != nil {
		cleanup()
		return "", func() {}, err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		cleanup()
		return "", func() {}, err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", func() {}, err
	}
	return p, cleanup, nil
}
