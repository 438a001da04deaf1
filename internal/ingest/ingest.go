package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/allergy-extractor/constants"
	"github.com/joseph-ayodele/allergy-extractor/internal/services/extraction"
)

// Submitter starts an extraction job for one PDF.
type Submitter interface {
	StartJob(ctx context.Context, req extraction.StartRequest) (*extraction.StartResult, error)
}

// Result is the per-file submission outcome.
type Result struct {
	Path       string    `json:"path"`
	JobID      uuid.UUID `json:"job_id,omitempty"`
	TotalPages int       `json:"total_pages,omitempty"`
	Err        string    `json:"error,omitempty"`
}

// DirStats summarizes a directory submission.
type DirStats struct {
	Scanned   uint32 `json:"scanned"`
	Matched   uint32 `json:"matched"`
	Succeeded uint32 `json:"succeeded"`
	Failed    uint32 `json:"failed"`
}

// Ingestor reads PDFs from the local filesystem and submits them as jobs.
type Ingestor struct {
	svc      Submitter
	userID   string
	maxPages int
	logger   *slog.Logger
}

func NewIngestor(svc Submitter, userID string, maxPages int, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{svc: svc, userID: userID, maxPages: maxPages, logger: logger}
}

// IngestPath submits a single PDF.
func (i *Ingestor) IngestPath(ctx context.Context, path string) (Result, error) {
	out := Result{Path: path}
	abs, err := filepath.Abs(path)
	if err != nil {
		return out, fmt.Errorf("abs path: %w", err)
	}
	out.Path = abs
	if !IsPDF(abs) {
		return out, fmt.Errorf("unsupported extension: %q", filepath.Ext(abs))
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return out, fmt.Errorf("read: %w", err)
	}
	res, err := i.svc.StartJob(ctx, extraction.StartRequest{
		FileName: filepath.Base(abs),
		UserID:   i.userID,
		Data:     data,
		MaxPages: i.maxPages,
	})
	if err != nil {
		i.logger.Warn("ingest.failed", "path", abs, "error", err)
		return out, err
	}
	out.JobID = res.JobID
	out.TotalPages = res.TotalPages
	i.logger.Info("ingest.submitted", "path", abs, "job_id", res.JobID, "pages", res.TotalPages)
	return out, nil
}

// IsPDF reports whether path has an extension picked up by ingestion.
func IsPDF(path string) bool {
	_, ok := constants.AllowedExtensions[constants.NormalizeExt(filepath.Ext(path))]
	return ok
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") && base != "." && base != ".."
}
