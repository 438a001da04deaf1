package repository

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/allergy-extractor/constants"
	"github.com/joseph-ayodele/allergy-extractor/internal/allergen"
	"github.com/joseph-ayodele/allergy-extractor/internal/common"
	"github.com/joseph-ayodele/allergy-extractor/internal/entity"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	db, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	t.Cleanup(db.Close)
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return db
}

func createJob(t *testing.T, jobs JobRepository, pages int) *entity.Job {
	t.Helper()
	ctx := context.Background()
	job := &entity.Job{FileName: "menu.pdf", FileSize: 1234, SourceKey: "uploads/menu.pdf"}
	if err := jobs.Create(ctx, job); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := jobs.SetTotalPages(ctx, job.ID, pages); err != nil {
		t.Fatalf("SetTotalPages failed: %v", err)
	}
	return job
}

func TestJobRepository_CreateAndGet(t *testing.T) {
	db := openTestDB(t)
	jobs := NewJobRepository(db, nil)
	ctx := context.Background()

	job := createJob(t, jobs, 3)

	got, err := jobs.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != constants.JobStatusProcessing || got.TotalPages != 3 || got.FileName != "menu.pdf" {
		t.Errorf("unexpected job: %+v", got)
	}

	stats, err := jobs.Stats(ctx, job.ID)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 3 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	if _, err := jobs.Get(ctx, uuid.New()); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPageRepository_Claim_NoDoubleClaims(t *testing.T) {
	db := openTestDB(t)
	jobs := NewJobRepository(db, nil)
	pages := NewPageRepository(db, nil)
	ctx := context.Background()
	createJob(t, jobs, 3)

	first, err := pages.Claim(ctx, 2)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	second, err := pages.Claim(ctx, 5)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	third, err := pages.Claim(ctx, 5)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	if len(first) != 2 || len(second) != 1 || len(third) != 0 {
		t.Fatalf("claimed %d, %d, %d items", len(first), len(second), len(third))
	}
	if first[0].PageNumber != 1 || first[1].PageNumber != 2 || second[0].PageNumber != 3 {
		t.Errorf("claims out of order: %d %d %d", first[0].PageNumber, first[1].PageNumber, second[0].PageNumber)
	}
	for _, it := range append(first, second...) {
		if it.Status != constants.PageStatusProcessing || it.ProcessingStartedAt == nil {
			t.Errorf("claimed item not processing: %+v", it)
		}
	}
}

func TestPageRepository_TerminalItemsAreImmutable(t *testing.T) {
	db := openTestDB(t)
	jobs := NewJobRepository(db, nil)
	pages := NewPageRepository(db, nil)
	ctx := context.Background()
	job := createJob(t, jobs, 1)

	items, err := pages.Claim(ctx, 1)
	if err != nil || len(items) != 1 {
		t.Fatalf("Claim: %v, %d items", err, len(items))
	}
	it := items[0]

	applied, err := pages.Complete(ctx, it, json.RawMessage(`{"page_number":1}`), 40*time.Millisecond)
	if err != nil || !applied {
		t.Fatalf("Complete: applied=%v err=%v", applied, err)
	}
	applied, err = pages.Fail(ctx, it, "late failure", time.Millisecond)
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if applied {
		t.Error("a completed item must not transition to error")
	}

	got, err := jobs.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CompletedPages != 1 || got.ErrorPages != 0 {
		t.Errorf("counters = %d/%d, want 1/0", got.CompletedPages, got.ErrorPages)
	}

	list, err := pages.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListByJob: %v", err)
	}
	if list[0].Status != constants.PageStatusCompleted || string(list[0].JSONData) != `{"page_number":1}` {
		t.Errorf("unexpected item: %+v", list[0])
	}
	if list[0].ProcessingTimeMs == nil || *list[0].ProcessingTimeMs != 40 {
		t.Errorf("processing time not recorded: %v", list[0].ProcessingTimeMs)
	}
}

func TestJobRepository_CompleteIfDone(t *testing.T) {
	tests := []struct {
		name       string
		outcomes   []bool // true = page completes
		wantStatus constants.JobStatus
	}{
		{name: "mixed pages complete the job", outcomes: []bool{true, false, true}, wantStatus: constants.JobStatusCompleted},
		{name: "all pages failed", outcomes: []bool{false, false}, wantStatus: constants.JobStatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openTestDB(t)
			jobs := NewJobRepository(db, nil)
			pages := NewPageRepository(db, nil)
			ctx := context.Background()
			job := createJob(t, jobs, len(tt.outcomes))

			items, err := pages.Claim(ctx, len(tt.outcomes))
			if err != nil {
				t.Fatalf("Claim: %v", err)
			}
			for i, it := range items {
				if status, changed, err := jobs.CompleteIfDone(ctx, job.ID); err != nil || changed || status != constants.JobStatusProcessing {
					t.Fatalf("job finalized early: %v %v %v", status, changed, err)
				}
				if tt.outcomes[i] {
					_, err = pages.Complete(ctx, it, nil, time.Millisecond)
				} else {
					_, err = pages.Fail(ctx, it, "render failed", time.Millisecond)
				}
				if err != nil {
					t.Fatalf("finish page: %v", err)
				}
			}

			status, changed, err := jobs.CompleteIfDone(ctx, job.ID)
			if err != nil {
				t.Fatalf("CompleteIfDone: %v", err)
			}
			if !changed || status != tt.wantStatus {
				t.Errorf("got %s (changed=%v), want %s", status, changed, tt.wantStatus)
			}
			if _, changed, _ := jobs.CompleteIfDone(ctx, job.ID); changed {
				t.Error("second finalize must be a no-op")
			}

			got, _ := jobs.Get(ctx, job.ID)
			if got.Status != tt.wantStatus {
				t.Errorf("stored status = %s", got.Status)
			}
			if tt.wantStatus == constants.JobStatusError && (got.ErrorMessage == nil || *got.ErrorMessage != "all pages failed") {
				t.Errorf("error message = %v", got.ErrorMessage)
			}
		})
	}
}

func TestPageRepository_FailStale(t *testing.T) {
	db := openTestDB(t)
	jobs := NewJobRepository(db, nil)
	pages := NewPageRepository(db, nil)
	ctx := context.Background()
	job := createJob(t, jobs, 2)

	if _, err := pages.Claim(ctx, 1); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	failed, err := pages.FailStale(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("FailStale: %v", err)
	}
	if len(failed) != 1 || failed[0].JobID != job.ID {
		t.Fatalf("expected one stale item, got %+v", failed)
	}
	stats, _ := jobs.Stats(ctx, job.ID)
	if stats.Error != 1 || stats.Pending != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestExtractionRepository_ListByJobOrdersByPage(t *testing.T) {
	db := openTestDB(t)
	jobs := NewJobRepository(db, nil)
	extractions := NewExtractionRepository(db, nil)
	ctx := context.Background()
	job := createJob(t, jobs, 2)

	page2 := []*entity.Extraction{{
		JobID: job.ID, PageNumber: 2, MenuName: "カレーライス", ConfidenceScore: 71.5,
		Allergies: map[allergen.ID]constants.PresenceType{allergen.Wheat: constants.PresenceDirect},
	}}
	page1 := []*entity.Extraction{{
		JobID: job.ID, PageNumber: 1, MenuName: "ハンバーグ", ConfidenceScore: 80,
		Allergies:    map[allergen.ID]constants.PresenceType{allergen.Egg: constants.PresenceTrace},
		CellPosition: &entity.CellPosition{X: 10, Y: 20, Width: 100, Height: 30},
	}}
	if err := extractions.InsertBatch(ctx, page2); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	if err := extractions.InsertBatch(ctx, page1); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	got, err := extractions.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListByJob: %v", err)
	}
	if len(got) != 2 || got[0].PageNumber != 1 || got[1].PageNumber != 2 {
		t.Fatalf("unexpected order: %+v", got)
	}
	if got[0].Allergies[allergen.Egg] != constants.PresenceTrace || got[0].CellPosition == nil || got[0].CellPosition.Width != 100 {
		t.Errorf("round trip lost data: %+v", got[0])
	}
	if n, _ := extractions.CountByJob(ctx, job.ID); n != 2 {
		t.Errorf("count = %d", n)
	}
}

func TestPageRepository_FailDropsPageExtractions(t *testing.T) {
	db := openTestDB(t)
	jobs := NewJobRepository(db, nil)
	pages := NewPageRepository(db, nil)
	extractions := NewExtractionRepository(db, nil)
	ctx := context.Background()
	job := createJob(t, jobs, 2)

	items, err := pages.Claim(ctx, 2)
	if err != nil || len(items) != 2 {
		t.Fatalf("Claim: %v, %d items", err, len(items))
	}
	byPage := map[int]*entity.PageItem{}
	for _, it := range items {
		byPage[it.PageNumber] = it
		row := []*entity.Extraction{{
			JobID: job.ID, PageNumber: it.PageNumber, MenuName: "ハンバーグ", ConfidenceScore: 80,
			Allergies: map[allergen.ID]constants.PresenceType{allergen.Egg: constants.PresenceDirect},
		}}
		if err := extractions.InsertBatch(ctx, row); err != nil {
			t.Fatalf("InsertBatch: %v", err)
		}
	}

	if _, err := pages.Complete(ctx, byPage[1], json.RawMessage(`{}`), time.Second); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	applied, err := pages.Fail(ctx, byPage[2], "page processing timed out", time.Second)
	if err != nil || !applied {
		t.Fatalf("Fail: applied=%v err=%v", applied, err)
	}

	got, err := extractions.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListByJob: %v", err)
	}
	if len(got) != 1 || got[0].PageNumber != 1 {
		t.Fatalf("failed page rows must be gone: %+v", got)
	}

	n, err := extractions.DeleteByPage(ctx, job.ID, 1)
	if err != nil || n != 1 {
		t.Fatalf("DeleteByPage: n=%d err=%v", n, err)
	}
	if c, _ := extractions.CountByJob(ctx, job.ID); c != 0 {
		t.Errorf("count = %d after delete", c)
	}
}

func TestProductRepository_Commit(t *testing.T) {
	db := openTestDB(t)
	products := NewProductRepository(db, nil)
	ctx := context.Background()

	rows := []entity.ReviewRow{
		{AllergenID: "egg", PresenceType: constants.PresenceDirect, AmountLevel: constants.AmountUnknown},
		{AllergenID: "milk", PresenceType: constants.PresenceTrace, AmountLevel: constants.AmountTrace, Notes: "[fragrance]"},
	}
	id, err := products.Commit(ctx, entity.ProductMetadata{Name: "Hamburg Steak", Brand: "Test"}, rows)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	got, err := products.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Hamburg Steak" || len(got.Allergies) != 2 || got.Allergies[1].Notes != "[fragrance]" {
		t.Errorf("unexpected product: %+v", got)
	}

	dup := []entity.ReviewRow{rows[0], rows[0]}
	if _, err := products.Commit(ctx, entity.ProductMetadata{Name: "Dup"}, dup); err == nil {
		t.Error("duplicate allergen rows must be rejected")
	}
}
