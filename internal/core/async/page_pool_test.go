package async

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/allergy-extractor/constants"
	"github.com/joseph-ayodele/allergy-extractor/internal/entity"
	"github.com/joseph-ayodele/allergy-extractor/internal/repository"
)

type handlerFunc func(ctx context.Context, item *entity.PageItem) (json.RawMessage, error)

func (f handlerFunc) ProcessPage(ctx context.Context, item *entity.PageItem) (json.RawMessage, error) {
	return f(ctx, item)
}

type fixture struct {
	pages repository.PageRepository
	jobs  repository.JobRepository
	job   *entity.Job
}

func newFixture(t *testing.T, pageCount int) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := repository.OpenSQLite(ctx, filepath.Join(t.TempDir(), "pool.db"), nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(db.Close)
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	f := &fixture{
		pages: repository.NewPageRepository(db, nil),
		jobs:  repository.NewJobRepository(db, nil),
		job:   &entity.Job{FileName: "menu.pdf", FileSize: 10, SourceKey: "k/menu.pdf"},
	}
	if err := f.jobs.Create(ctx, f.job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := f.jobs.SetTotalPages(ctx, f.job.ID, pageCount); err != nil {
		t.Fatalf("set total pages: %v", err)
	}
	return f
}

func TestPagePool_RunBatch_PageFailureStillCompletesJob(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	var (
		mu       sync.Mutex
		finished []constants.JobStatus
	)
	handler := handlerFunc(func(_ context.Context, it *entity.PageItem) (json.RawMessage, error) {
		if it.PageNumber == 2 {
			return nil, errors.New("render failed")
		}
		return json.RawMessage(`{"ok":true}`), nil
	})
	pool := NewPagePool(f.pages, f.jobs, handler, nil, WithJobFinished(func(_ context.Context, id uuid.UUID, s constants.JobStatus) {
		mu.Lock()
		defer mu.Unlock()
		if id == f.job.ID {
			finished = append(finished, s)
		}
	}))

	report, err := pool.RunBatch(ctx, 3)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if report.Claimed != 3 || report.Completed != 2 || report.Failed != 1 {
		t.Errorf("unexpected report: %+v", report)
	}

	job, err := f.jobs.Get(ctx, f.job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != constants.JobStatusCompleted || job.CompletedPages != 2 || job.ErrorPages != 1 {
		t.Errorf("unexpected job: %+v", job)
	}
	if len(finished) != 1 || finished[0] != constants.JobStatusCompleted {
		t.Errorf("finished callbacks = %v", finished)
	}

	items, _ := f.pages.ListByJob(ctx, f.job.ID)
	if items[1].Status != constants.PageStatusError || items[1].ErrorMessage == nil || *items[1].ErrorMessage != "render failed" {
		t.Errorf("page 2 = %+v", items[1])
	}

	again, err := pool.RunBatch(ctx, 3)
	if err != nil || again.Claimed != 0 {
		t.Errorf("second batch: %+v, %v", again, err)
	}
}

func TestPagePool_RunBatch_Timeout(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	// ignores cancellation on purpose
	handler := handlerFunc(func(context.Context, *entity.PageItem) (json.RawMessage, error) {
		<-release
		return nil, nil
	})
	pool := NewPagePool(f.pages, f.jobs, handler, nil, WithProcessTimeout(20*time.Millisecond))

	report, err := pool.RunBatch(ctx, 1)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if report.Failed != 1 || report.Pages[0].Error != MsgTimedOut {
		t.Fatalf("unexpected report: %+v", report)
	}

	job, _ := f.jobs.Get(ctx, f.job.ID)
	if job.Status != constants.JobStatusError {
		t.Errorf("job with only a timed-out page must be error, got %s", job.Status)
	}
}

// completeFails records failures normally but cannot record completions.
type completeFails struct {
	repository.PageRepository
}

func (completeFails) Complete(context.Context, *entity.PageItem, json.RawMessage, time.Duration) (bool, error) {
	return false, errors.New("database is locked")
}

func TestPagePool_RunBatch_CompleteErrorFailsItem(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	handler := handlerFunc(func(context.Context, *entity.PageItem) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	pool := NewPagePool(completeFails{f.pages}, f.jobs, handler, nil)

	report, err := pool.RunBatch(ctx, 1)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if report.Failed != 1 || report.Pages[0].Status != constants.PageStatusError {
		t.Fatalf("unexpected report: %+v", report)
	}

	items, _ := f.pages.ListByJob(ctx, f.job.ID)
	if len(items) != 1 || items[0].Status != constants.PageStatusError {
		t.Fatalf("item must not stay processing: %+v", items)
	}
	if items[0].ErrorMessage == nil || *items[0].ErrorMessage != "database is locked" {
		t.Errorf("error message = %v", items[0].ErrorMessage)
	}
	job, _ := f.jobs.Get(ctx, f.job.ID)
	if job.Status != constants.JobStatusError {
		t.Errorf("job status = %s, want error", job.Status)
	}
}

func TestPagePool_StartNotifyShutdown(t *testing.T) {
	f := newFixture(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan constants.JobStatus, 1)
	handler := handlerFunc(func(context.Context, *entity.PageItem) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	pool := NewPagePool(f.pages, f.jobs, handler, nil,
		WithBatchSize(2),
		WithPollInterval(time.Hour),
		WithJobFinished(func(_ context.Context, _ uuid.UUID, s constants.JobStatus) { done <- s }),
	)
	pool.Start(ctx)
	pool.Notify()

	select {
	case s := <-done:
		if s != constants.JobStatusCompleted {
			t.Errorf("status = %s", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job was not finished after Notify")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), time.Second)
	defer stop()
	pool.Shutdown(shutdownCtx)

	stats, _ := f.jobs.Stats(context.Background(), f.job.ID)
	if stats.Completed != 4 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
