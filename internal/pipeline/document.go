package pipeline

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/allergy-extractor/constants"
	"github.com/joseph-ayodele/allergy-extractor/internal/aggregate"
	"github.com/joseph-ayodele/allergy-extractor/internal/entity"
)

// Progress is reported after each page of a sequential run.
type Progress struct {
	Current int                  `json:"current"`
	Total   int                  `json:"total"`
	Page    int                  `json:"page"`
	Status  constants.PageStatus `json:"status"`
}

type ProgressFunc func(Progress)

// DocumentResult is the outcome of a sequential run over one PDF.
type DocumentResult struct {
	Pages        []aggregate.PageResult
	Consolidated aggregate.Consolidated
	Extractions  []*entity.Extraction
}

// PageCounter reports the number of pages in a document.
type PageCounter interface {
	PageCount(path string) (int, error)
}

// DocumentRunner processes a PDF one page at a time in the calling goroutine.
type DocumentRunner struct {
	analyzer *Analyzer
	counter  PageCounter
	logger   *slog.Logger
}

func NewDocumentRunner(a *Analyzer, counter PageCounter, logger *slog.Logger) *DocumentRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentRunner{analyzer: a, counter: counter, logger: logger}
}

// Run processes up to maxPages pages (all when maxPages <= 0). A failed page is recorded and
// skipped; only a context error or an unreadable document stops the run.
func (d *DocumentRunner) Run(ctx context.Context, docPath string, maxPages int, progress ProgressFunc) (*DocumentResult, error) {
	total, err := d.counter.PageCount(docPath)
	if err != nil {
		return nil, err
	}
	if maxPages > 0 && total > maxPages {
		total = maxPages
	}

	out := &DocumentResult{}
	for page := 1; page <= total; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		status := constants.PageStatusCompleted
		res, err := d.analyzer.AnalyzePage(ctx, docPath, page)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			d.logger.Warn("page.failed", "page", page, "error", err)
			res = PageError(page, err)
			status = constants.PageStatusError
		} else {
			out.Extractions = append(out.Extractions, Extractions(uuid.Nil, res)...)
		}
		out.Pages = append(out.Pages, res)
		if progress != nil {
			progress(Progress{Current: page, Total: total, Page: page, Status: status})
		}
	}
	out.Consolidated = aggregate.Consolidate(out.Pages)
	return out, nil
}
