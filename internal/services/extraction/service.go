// Package extraction is the application service behind the HTTP and gRPC surfaces: it starts
// jobs, reports their progress and turns finished jobs into CSV, XLSX and review drafts.
package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/allergy-extractor/constants"
	"github.com/joseph-ayodele/allergy-extractor/internal/async"
	"github.com/joseph-ayodele/allergy-extractor/internal/cache"
	"github.com/joseph-ayodele/allergy-extractor/internal/common"
	"github.com/joseph-ayodele/allergy-extractor/internal/entity"
	"github.com/joseph-ayodele/allergy-extractor/internal/events"
	"github.com/joseph-ayodele/allergy-extractor/internal/export"
	"github.com/joseph-ayodele/allergy-extractor/internal/repository"
	"github.com/joseph-ayodele/allergy-extractor/internal/storage"
)

// Inspector validates an uploaded PDF and counts its pages.
type Inspector interface {
	Validate(path string) error
	PageCount(path string) (int, error)
}

// Deps are the collaborators of Service. Cache and Events may be nil.
type Deps struct {
	Jobs        repository.JobRepository
	Pages       repository.PageRepository
	Extractions repository.ExtractionRepository
	Products    repository.ProductRepository
	Store       storage.Store
	Inspector   Inspector
	Queue       async.Queue
	Cache       cache.StatusCache
	Events      events.Publisher
	Logger      *slog.Logger
}

type Limits struct {
	MaxBytes int64
	MaxPages int
}

// Service handles extraction job business logic.
type Service struct {
	jobs        repository.JobRepository
	pages       repository.PageRepository
	extractions repository.ExtractionRepository
	products    repository.ProductRepository
	store       storage.Store
	inspector   Inspector
	queue       async.Queue
	cache       cache.StatusCache
	events      events.Publisher
	xlsx        *export.XLSXWriter
	limits      Limits
	logger      *slog.Logger
}

func NewService(d Deps, limits Limits) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Cache == nil {
		d.Cache = cache.Nop{}
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if limits.MaxBytes <= 0 {
		limits.MaxBytes = constants.MaxUploadBytes
	}
	if limits.MaxPages <= 0 {
		limits.MaxPages = constants.DefaultMaxPages
	}
	return &Service{
		jobs:        d.Jobs,
		pages:       d.Pages,
		extractions: d.Extractions,
		products:    d.Products,
		store:       d.Store,
		inspector:   d.Inspector,
		queue:       d.Queue,
		cache:       d.Cache,
		events:      d.Events,
		xlsx:        export.NewXLSXWriter(d.Logger),
		limits:      limits,
		logger:      d.Logger,
	}
}

// StartRequest is one PDF submission.
type StartRequest struct {
	FileName string
	UserID   string
	Data     []byte
	MaxPages int
}

type StartResult struct {
	JobID      uuid.UUID           `json:"job_id"`
	TotalPages int                 `json:"total_pages"`
	Status     constants.JobStatus `json:"status"`
}

// StartJob stores the PDF, creates the job and queues one item per page.
// Size and format are checked before any row is written; an unreadable or empty PDF leaves
// the job in error.
func (s *Service) StartJob(ctx context.Context, req StartRequest) (*StartResult, error) {
	name := filepath.Base(strings.TrimSpace(req.FileName))
	v := common.NewValidator()
	v.Field("file_name", strings.TrimSpace(req.FileName), common.Required, common.MaxLen(255))
	if err := common.ValidateAndReturnError(v); err != nil {
		return nil, err
	}
	if len(req.Data) == 0 {
		return nil, common.NewAppError("INVALID_INPUT", "file is empty", common.ErrInvalidInput)
	}
	if int64(len(req.Data)) > s.limits.MaxBytes {
		s.logger.Warn("upload rejected: too large", "file_name", name, "size", len(req.Data), "limit", s.limits.MaxBytes)
		return nil, common.NewAppError("FILE_TOO_LARGE",
			fmt.Sprintf("file exceeds %d bytes", s.limits.MaxBytes), common.ErrFileTooLarge)
	}
	if !constants.IsPDF(req.Data) {
		return nil, common.NewAppError("INVALID_INPUT", "file is not a PDF", common.ErrInvalidInput)
	}

	maxPages := req.MaxPages
	if maxPages <= 0 || maxPages > s.limits.MaxPages {
		maxPages = s.limits.MaxPages
	}

	job := &entity.Job{ID: uuid.New(), UserID: req.UserID, FileName: name, FileSize: int64(len(req.Data))}
	job.SourceKey = storage.Key(job.ID.String(), name)
	ctx = common.WithJobID(ctx, job.ID.String())
	if req.UserID != "" {
		ctx = common.WithUserID(ctx, req.UserID)
	}
	log := common.LoggerFrom(ctx, s.logger)

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	total, err := s.prepare(ctx, job, req.Data, maxPages)
	if err != nil {
		if ferr := s.jobs.Fail(ctx, job.ID, err.Error()); ferr != nil {
			log.Error("mark job failed", "error", ferr)
		}
		s.publish(ctx, events.Event{Type: events.JobFailed, JobID: job.ID.String(), Status: string(constants.JobStatusError),
			FileName: name, Message: err.Error()})
		return nil, err
	}

	s.queue.Notify()
	s.publish(ctx, events.Event{Type: events.JobStarted, JobID: job.ID.String(), Status: string(constants.JobStatusProcessing),
		FileName: name, TotalPages: total})
	log.Info("job.started", "file_name", name, "total_pages", total)

	return &StartResult{JobID: job.ID, TotalPages: total, Status: constants.JobStatusProcessing}, nil
}

func (s *Service) prepare(ctx context.Context, job *entity.Job, data []byte, maxPages int) (int, error) {
	if err := s.store.Put(ctx, job.SourceKey, data); err != nil {
		return 0, fmt.Errorf("store upload: %w", err)
	}
	path, cleanup, err := s.store.Fetch(ctx, job.SourceKey)
	if err != nil {
		return 0, fmt.Errorf("fetch upload: %w", err)
	}
	defer cleanup()

	if err := s.inspector.Validate(path); err != nil {
		return 0, err
	}
	count, err := s.inspector.PageCount(path)
	if err != nil {
		return 0, err
	}
	if count <= 0 {
		return 0, common.NewAppError("NO_PAGES_PRODUCED", "the PDF has no pages", common.ErrNoPagesProduced)
	}
	total := min(count, maxPages)
	if err := s.jobs.SetTotalPages(ctx, job.ID, total); err != nil {
		return 0, err
	}
	return total, nil
}

// ProcessPages runs one batch of pending pages synchronously. parallel <= 0 uses the pool default.
func (s *Service) ProcessPages(ctx context.Context, parallel int) (async.BatchReport, error) {
	if parallel > 10 {
		parallel = 10
	}
	return s.queue.RunBatch(ctx, parallel)
}

// OnJobFinished publishes the terminal event for a job; the worker pool calls it once per job.
func (s *Service) OnJobFinished(ctx context.Context, jobID uuid.UUID, status constants.JobStatus) {
	ev := events.Event{Type: events.JobCompleted, JobID: jobID.String(), Status: string(status)}
	if job, err := s.jobs.Get(ctx, jobID); err == nil {
		ev.FileName = job.FileName
		ev.TotalPages = job.TotalPages
		if job.ErrorMessage != nil {
			ev.Message = *job.ErrorMessage
		}
	}
	if status == constants.JobStatusError {
		ev.Type = events.JobFailed
	}
	s.publish(ctx, ev)
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish job event failed", "job_id", ev.JobID, "type", ev.Type, "error", err)
	}
}
