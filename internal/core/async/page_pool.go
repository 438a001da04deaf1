package async

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/allergy-extractor/constants"
	"github.com/joseph-ayodele/allergy-extractor/internal/async"
	"github.com/joseph-ayodele/allergy-extractor/internal/entity"
	"github.com/joseph-ayodele/allergy-extractor/internal/repository"
)

const (
	MsgTimedOut  = "page processing timed out"
	MsgCancelled = "page processing cancelled"
)

// PageHandler does the work for one claimed page and returns the JSON stored on the item.
type PageHandler interface {
	ProcessPage(ctx context.Context, item *entity.PageItem) (json.RawMessage, error)
}

// JobFinishedFunc is called once when a job reaches a terminal status.
type JobFinishedFunc func(ctx context.Context, jobID uuid.UUID, status constants.JobStatus)

// PagePool claims pending page items in batches and runs them with bounded concurrency.
type PagePool struct {
	pages   repository.PageRepository
	jobs    repository.JobRepository
	handler PageHandler
	logger  *slog.Logger

	batch      int
	timeout    time.Duration
	poll       time.Duration
	staleAfter time.Duration
	onFinished JobFinishedFunc

	wake     chan struct{}
	stop     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
	stopOnce sync.Once
}

var _ async.Queue = (*PagePool)(nil)

type Option func(*PagePool)

func WithBatchSize(n int) Option {
	return func(p *PagePool) {
		if n > 0 {
			p.batch = n
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(p *PagePool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(p *PagePool) {
		if d > 0 {
			p.poll = d
		}
	}
}

// WithStaleAfter fails items left in processing longer than d when the pool starts.
func WithStaleAfter(d time.Duration) Option {
	return func(p *PagePool) {
		if d > 0 {
			p.staleAfter = d
		}
	}
}

func WithJobFinished(fn JobFinishedFunc) Option {
	return func(p *PagePool) { p.onFinished = fn }
}

func NewPagePool(pages repository.PageRepository, jobs repository.JobRepository, handler PageHandler, logger *slog.Logger, opts ...Option) *PagePool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &PagePool{
		pages:      pages,
		jobs:       jobs,
		handler:    handler,
		logger:     logger,
		batch:      3,
		timeout:    2 * time.Minute,
		poll:       2 * time.Second,
		staleAfter: 10 * time.Minute,
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start recovers stale items and begins polling in the background.
func (p *PagePool) Start(ctx context.Context) {
	p.once.Do(func() {
		p.recoverStale(ctx)
		p.wg.Add(1)
		go p.loop(ctx)
		p.logger.Info("page pool started", "batch", p.batch, "timeout", p.timeout, "poll", p.poll)
	})
}

// Notify wakes the polling loop; it never blocks.
func (p *PagePool) Notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *PagePool) loop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
		case <-p.wake:
		}

		// drain: keep claiming while batches come back full
		for {
			report, err := p.RunBatch(ctx, p.batch)
			if err != nil {
				p.logger.Error("claim batch failed", "error", err)
				break
			}
			if report.Claimed < p.batch {
				break
			}
			select {
			case <-p.stop:
				return
			default:
			}
		}
	}
}

// RunBatch claims up to n pending items and processes them concurrently, at most n at a time.
func (p *PagePool) RunBatch(ctx context.Context, n int) (async.BatchReport, error) {
	start := time.Now()
	if n <= 0 {
		n = p.batch
	}

	items, err := p.pages.Claim(ctx, n)
	if err != nil {
		return async.BatchReport{}, fmt.Errorf("claim pages: %w", err)
	}
	report := async.BatchReport{Claimed: len(items)}
	if len(items) == 0 {
		return report, nil
	}

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(n)
	outcomes := make([]async.PageOutcome, len(items))
	for i, it := range items {
		i, it := i, it
		g.Go(func() error {
			out := p.processOne(ctx, it)
			mu.Lock()
			outcomes[i] = out
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	finished := map[uuid.UUID]bool{}
	for _, out := range outcomes {
		if out.Status == constants.PageStatusCompleted {
			report.Completed++
		} else {
			report.Failed++
		}
		if !finished[out.JobID] {
			finished[out.JobID] = true
			p.finalize(ctx, out.JobID)
		}
	}
	report.Pages = outcomes
	report.ElapsedMs = time.Since(start).Milliseconds()

	p.logger.Info("batch processed",
		"claimed", report.Claimed,
		"completed", report.Completed,
		"failed", report.Failed,
		"elapsed_ms", report.ElapsedMs,
	)
	return report, nil
}

type handlerResult struct {
	data json.RawMessage
	err  error
}

func (p *PagePool) processOne(ctx context.Context, it *entity.PageItem) async.PageOutcome {
	start := time.Now()
	log := p.logger.With("job_id", it.JobID, "page", it.PageNumber, "item_id", it.ID)

	pctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan handlerResult, 1)
	go func() {
		data, err := p.handler.ProcessPage(pctx, it)
		done <- handlerResult{data: data, err: err}
	}()

	var res handlerResult
	select {
	case res = <-done:
	case <-pctx.Done():
		// the handler may still be running; the item is finished without it
		if errors.Is(pctx.Err(), context.DeadlineExceeded) {
			res.err = errors.New(MsgTimedOut)
		} else {
			res.err = errors.New(MsgCancelled)
		}
	}
	took := time.Since(start)

	out := async.PageOutcome{
		ItemID:     it.ID,
		JobID:      it.JobID,
		PageNumber: it.PageNumber,
		DurationMs: took.Milliseconds(),
	}
	// page state must be recorded even when the caller's context is gone
	dbctx := context.WithoutCancel(ctx)

	if res.err != nil {
		out.Status = constants.PageStatusError
		out.Error = res.err.Error()
		log.Warn("page.failed", "error", res.err, "elapsed_ms", out.DurationMs)
		if _, err := p.pages.Fail(dbctx, it, out.Error, took); err != nil {
			log.Error("record page failure", "error", err)
		}
		return out
	}

	applied, err := p.pages.Complete(dbctx, it, res.data, took)
	switch {
	case err != nil:
		out.Status = constants.PageStatusError
		out.Error = err.Error()
		log.Error("record page completion", "error", err)
		// the item must not stay processing until the next stale sweep
		if _, ferr := p.pages.Fail(dbctx, it, out.Error, took); ferr != nil {
			log.Error("record page failure", "error", ferr)
		}
	case !applied:
		out.Status = constants.PageStatusError
		out.Error = "page item already finished"
		log.Warn("page.complete.skipped", "reason", out.Error)
	default:
		out.Status = constants.PageStatusCompleted
		log.Info("page.completed", "elapsed_ms", out.DurationMs)
	}
	return out
}

func (p *PagePool) finalize(ctx context.Context, jobID uuid.UUID) {
	ctx = context.WithoutCancel(ctx)
	status, changed, err := p.jobs.CompleteIfDone(ctx, jobID)
	if err != nil {
		p.logger.Error("finalize job", "job_id", jobID, "error", err)
		return
	}
	if !changed {
		return
	}
	p.logger.Info("job."+string(status), "job_id", jobID)
	if p.onFinished != nil {
		p.onFinished(ctx, jobID, status)
	}
}

func (p *PagePool) recoverStale(ctx context.Context) {
	items, err := p.pages.FailStale(ctx, time.Now().Add(-p.staleAfter))
	if err != nil {
		p.logger.Error("fail stale items", "error", err)
		return
	}
	jobs := map[uuid.UUID]bool{}
	for _, it := range items {
		p.logger.Warn("stale page item failed", "job_id", it.JobID, "page", it.PageNumber)
		if !jobs[it.JobID] {
			jobs[it.JobID] = true
			p.finalize(ctx, it.JobID)
		}
	}
}

// Shutdown stops polling and waits for in-flight batches.
func (p *PagePool) Shutdown(ctx context.Context) {
	p.stopOnce.Do(func() { close(p.stop) })

	done := make(chan struct{})
	go func() { defer close(done); p.wg.Wait() }()

	select {
	case <-ctx.Done():
		p.logger.Warn("shutdown interrupted by context")
	case <-done:
		p.logger.Info("page pool drained, shutdown complete")
	}
}
