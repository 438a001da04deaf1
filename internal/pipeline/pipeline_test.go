package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/allergy-extractor/constants"
	"github.com/joseph-ayodele/allergy-extractor/internal/aggregate"
	"github.com/joseph-ayodele/allergy-extractor/internal/allergen"
	"github.com/joseph-ayodele/allergy-extractor/internal/cells"
	"github.com/joseph-ayodele/allergy-extractor/internal/common"
	"github.com/joseph-ayodele/allergy-extractor/internal/entity"
	"github.com/joseph-ayodele/allergy-extractor/internal/export"
	"github.com/joseph-ayodele/allergy-extractor/internal/ocr"
	"github.com/joseph-ayodele/allergy-extractor/internal/raster"
	"github.com/joseph-ayodele/allergy-extractor/internal/repository"
	"github.com/joseph-ayodele/allergy-extractor/internal/storage"
)

type stubRenderer struct {
	pages   int
	failing map[int]bool
}

func (s stubRenderer) Render(_ context.Context, _ string, page int, _ float64) (*raster.Bitmap, error) {
	if s.failing[page] {
		return nil, fmt.Errorf("%w: page %d: broken", common.ErrRenderFailure, page)
	}
	img := image.NewNRGBA(image.Rect(0, 0, 800, 600))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	return &raster.Bitmap{Image: img, Page: page, DPI: 144}, nil
}

func (s stubRenderer) PageCount(string) (int, error) { return s.pages, nil }

// sequenceEngine answers cell recognitions in grid reading order.
func sequenceEngine(texts map[int]string) ocr.Engine {
	n := 0
	return ocr.EngineFunc(func(context.Context, image.Image) (ocr.Result, error) {
		t := texts[n]
		n++
		if t == "" {
			return ocr.Result{}, nil
		}
		return ocr.Result{Text: t, Confidence: 80}, nil
	})
}

// table texts for the first two rows of the default 15x8 grid
func tableTexts() map[int]string {
	return map[int]string{
		0: "メニュー", 1: "卵", 2: "乳",
		8: "ハンバーグ", 9: "●", 10: "△",
	}
}

func newAnalyzer(r Renderer, e ocr.Engine) *Analyzer {
	return NewAnalyzer(r, cells.New(cells.DefaultConfig()), e, allergen.NewClassifier(), AnalyzerConfig{MaxCells: 16}, nil)
}

func TestAnalyzer_AnalyzePage_Table(t *testing.T) {
	a := newAnalyzer(stubRenderer{pages: 1}, sequenceEngine(tableTexts()))

	res, err := a.AnalyzePage(context.Background(), "menu.pdf", 1)
	if err != nil {
		t.Fatalf("AnalyzePage failed: %v", err)
	}
	if res.Method != cells.MethodGrid || res.CellCount != 6 || res.Confidence != 80 {
		t.Errorf("unexpected page result: method=%s cells=%d conf=%v", res.Method, res.CellCount, res.Confidence)
	}
	if len(res.Rows) != 1 || res.Rows[0].MenuName != "ハンバーグ" {
		t.Fatalf("unexpected rows: %+v", res.Rows)
	}
	if res.Rows[0].Presence[allergen.Egg] != constants.PresenceDirect || res.Rows[0].Presence[allergen.Milk] != constants.PresenceTrace {
		t.Errorf("unexpected presence: %v", res.Rows[0].Presence)
	}

	jobID := uuid.New()
	exts := Extractions(jobID, res)
	if len(exts) != 1 {
		t.Fatalf("expected one extraction, got %d", len(exts))
	}
	pos := exts[0].CellPosition
	if pos == nil || pos.Y != 40 || pos.Width != 100 || pos.Height != 40 || pos.Row != 1 {
		t.Errorf("unexpected cell position: %+v", pos)
	}
	if exts[0].JobID != jobID || exts[0].PageNumber != 1 {
		t.Errorf("unexpected extraction: %+v", exts[0])
	}
}

func TestAnalyzer_AnalyzePage_WholePageFallback(t *testing.T) {
	engine := ocr.EngineFunc(func(_ context.Context, img image.Image) (ocr.Result, error) {
		if img.Bounds().Dx() < 800 {
			return ocr.Result{Text: "???", Confidence: 10}, nil
		}
		return ocr.Result{Text: "カレーライス\nアレルギー：小麦●", Confidence: 55}, nil
	})
	a := newAnalyzer(stubRenderer{pages: 1}, engine)

	res, err := a.AnalyzePage(context.Background(), "menu.pdf", 1)
	if err != nil {
		t.Fatalf("AnalyzePage failed: %v", err)
	}
	if res.Method != MethodPage || res.Confidence != 55 || len(res.Rows) != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
	exts := Extractions(uuid.New(), res)
	if len(exts) != 1 || exts[0].MenuName != "カレーライス" || exts[0].Allergies[allergen.Wheat] != constants.PresenceDirect {
		t.Errorf("unexpected extractions: %+v", exts)
	}
}

func TestAnalyzer_AnalyzePage_RenderFailure(t *testing.T) {
	a := newAnalyzer(stubRenderer{pages: 1, failing: map[int]bool{1: true}}, sequenceEngine(nil))
	if _, err := a.AnalyzePage(context.Background(), "menu.pdf", 1); !errors.Is(err, common.ErrRenderFailure) {
		t.Errorf("expected ErrRenderFailure, got %v", err)
	}
}

func TestAnalyzer_AnalyzePage_RecognitionFailureSkipsCell(t *testing.T) {
	calls := 0
	engine := ocr.EngineFunc(func(context.Context, image.Image) (ocr.Result, error) {
		calls++
		if calls == 1 {
			return ocr.Result{}, common.ErrRecognitionFailure
		}
		return ocr.Result{Text: "卵", Confidence: 90}, nil
	})
	a := NewAnalyzer(stubRenderer{pages: 1}, cells.New(cells.DefaultConfig()), engine, allergen.NewClassifier(), AnalyzerConfig{MaxCells: 2}, nil)

	res, err := a.AnalyzePage(context.Background(), "menu.pdf", 1)
	if err != nil {
		t.Fatalf("a cell failure must not fail the page: %v", err)
	}
	// two cells from each of the 15 grid rows, one of them failed
	if res.CellCount != 29 {
		t.Errorf("cell count = %d, want 29", res.CellCount)
	}
	if lines := strings.Count(res.Text, "\n") + 1; lines != 15 {
		t.Errorf("text covers %d rows, want 15", lines)
	}
}

func TestAnalyzer_AnalyzePage_TableDefaults(t *testing.T) {
	tests := []struct {
		name       string
		texts      map[int]string
		id         allergen.ID
		wantRow    constants.PresenceType
		wantDoc    constants.PresenceType
		wantReview bool
		wantNote   string
	}{
		{
			name:    "explicit none column",
			texts:   map[int]string{0: "メニュー", 1: "卵", 2: "小麦", 8: "ハンバーグ", 9: "－", 10: "●"},
			id:      allergen.Egg,
			wantRow: constants.PresenceNone,
			wantDoc: constants.PresenceNone,
		},
		{
			name:       "marked column",
			texts:      map[int]string{0: "メニュー", 1: "卵", 2: "小麦", 8: "ハンバーグ", 9: "－", 10: "●"},
			id:         allergen.Wheat,
			wantRow:    constants.PresenceDirect,
			wantDoc:    constants.PresenceDirect,
			wantReview: true,
		},
		{
			name:       "fragrance",
			texts:      map[int]string{0: "チーズケーキ", 1: "乳 香料"},
			id:         allergen.Milk,
			wantRow:    constants.PresenceTrace,
			wantDoc:    constants.PresenceTrace,
			wantReview: true,
			wantNote:   export.NoteFragrance,
		},
		{
			name:       "heating words",
			texts:      map[int]string{0: "ハンバーグ", 1: "卵 加熱済"},
			id:         allergen.Egg,
			wantRow:    constants.PresenceHeated,
			wantDoc:    constants.PresenceHeated,
			wantReview: true,
			wantNote:   export.NoteHeated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAnalyzer(stubRenderer{pages: 1}, sequenceEngine(tt.texts))
			res, err := a.AnalyzePage(context.Background(), "menu.pdf", 1)
			if err != nil {
				t.Fatalf("AnalyzePage failed: %v", err)
			}
			if len(res.Rows) != 1 {
				t.Fatalf("unexpected rows: %+v", res.Rows)
			}
			if got := res.Rows[0].Presence[tt.id]; got != tt.wantRow {
				t.Errorf("row presence = %s, want %s", got, tt.wantRow)
			}

			doc := aggregate.Consolidate([]aggregate.PageResult{res})
			if got := doc.Presence[tt.id]; got != tt.wantDoc {
				t.Errorf("document presence = %s, want %s", got, tt.wantDoc)
			}

			var review *entity.ReviewRow
			rows := export.ToReviewRows(doc)
			for i := range rows {
				if rows[i].AllergenID == string(tt.id) {
					review = &rows[i]
				}
			}
			switch {
			case !tt.wantReview && review != nil:
				t.Errorf("unexpected review row: %+v", review)
			case tt.wantReview && review == nil:
				t.Error("missing review row")
			case tt.wantReview && (review.PresenceType != tt.wantDoc || review.Notes != tt.wantNote):
				t.Errorf("review row = %+v", review)
			}
		})
	}
}

func TestDocumentRunner_Run_PartialFailure(t *testing.T) {
	r := stubRenderer{pages: 3, failing: map[int]bool{2: true}}
	runner := NewDocumentRunner(newAnalyzer(r, sequenceEngine(tableTexts())), r, nil)

	var progress []Progress
	out, err := runner.Run(context.Background(), "menu.pdf", 0, func(p Progress) { progress = append(progress, p) })
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(progress) != 3 || progress[1].Status != constants.PageStatusError || progress[2].Current != 3 || progress[2].Total != 3 {
		t.Errorf("unexpected progress: %+v", progress)
	}
	if len(out.Pages) != 3 || out.Pages[1].Error == "" {
		t.Errorf("page 2 must be recorded as failed: %+v", out.Pages)
	}
	if len(out.Consolidated.Pages) != 3 {
		t.Errorf("consolidated pages = %v", out.Consolidated.Pages)
	}
	// the sequence engine only answers the first page's cells
	if len(out.Extractions) != 1 {
		t.Errorf("expected one extraction, got %d", len(out.Extractions))
	}
}

func TestDocumentRunner_Run_MaxPages(t *testing.T) {
	r := stubRenderer{pages: 5}
	runner := NewDocumentRunner(newAnalyzer(r, sequenceEngine(nil)), r, nil)
	out, err := runner.Run(context.Background(), "menu.pdf", 2, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(out.Pages) != 2 {
		t.Errorf("expected 2 pages, got %d", len(out.Pages))
	}
}

func TestPageProcessor_ProcessPage(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	db, err := repository.OpenSQLite(ctx, filepath.Join(dir, "p.db"), nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(db.Close)
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	jobs := repository.NewJobRepository(db, nil)
	extractions := repository.NewExtractionRepository(db, nil)

	store, err := storage.NewLocal(filepath.Join(dir, "blobs"), nil)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	job := &entity.Job{FileName: "menu.pdf", FileSize: 8}
	if err := jobs.Create(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	key := storage.Key(job.ID.String(), job.FileName)
	if err := store.Put(ctx, key, []byte("%PDF-1.4")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	proc := NewPageProcessor(newAnalyzer(stubRenderer{pages: 1}, sequenceEngine(tableTexts())), store, extractions, nil)
	data, err := proc.ProcessPage(ctx, &entity.PageItem{ID: uuid.New(), JobID: job.ID, PageNumber: 1, SourceKey: key})
	if err != nil {
		t.Fatalf("ProcessPage failed: %v", err)
	}

	var res aggregate.PageResult
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatalf("stored JSON is not a page result: %v", err)
	}
	if res.PageNumber != 1 || len(res.Rows) != 1 {
		t.Errorf("unexpected page result: %+v", res)
	}
	if n, _ := extractions.CountByJob(ctx, job.ID); n != 1 {
		t.Errorf("extractions stored = %d", n)
	}
}

// expiringInsert lets the context run out while the rows are being written.
type expiringInsert struct {
	repository.ExtractionRepository
	cancel context.CancelFunc
}

func (e expiringInsert) InsertBatch(ctx context.Context, rows []*entity.Extraction) error {
	err := e.ExtractionRepository.InsertBatch(ctx, rows)
	e.cancel()
	return err
}

func TestPageProcessor_ProcessPage_LateInsertRemoved(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	db, err := repository.OpenSQLite(ctx, filepath.Join(dir, "p.db"), nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(db.Close)
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	jobs := repository.NewJobRepository(db, nil)
	extractions := repository.NewExtractionRepository(db, nil)
	store, err := storage.NewLocal(filepath.Join(dir, "blobs"), nil)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	job := &entity.Job{FileName: "menu.pdf", FileSize: 8}
	if err := jobs.Create(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	key := storage.Key(job.ID.String(), job.FileName)
	if err := store.Put(ctx, key, []byte("%PDF-1.4")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	repo := expiringInsert{ExtractionRepository: extractions, cancel: cancel}
	proc := NewPageProcessor(newAnalyzer(stubRenderer{pages: 1}, sequenceEngine(tableTexts())), store, repo, nil)

	_, err = proc.ProcessPage(pctx, &entity.PageItem{ID: uuid.New(), JobID: job.ID, PageNumber: 1, SourceKey: key})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n, _ := extractions.CountByJob(ctx, job.ID); n != 0 {
		t.Errorf("late extractions left behind: %d", n)
	}
}

func TestPageProcessor_ProcessPage_MissingSource(t *testing.T) {
	store, err := storage.NewLocal(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	proc := NewPageProcessor(newAnalyzer(stubRenderer{pages: 1}, sequenceEngine(nil)), store, nil, nil)
	_, err = proc.ProcessPage(context.Background(), &entity.PageItem{JobID: uuid.New(), PageNumber: 1, SourceKey: "missing/menu.pdf"})
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
