package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/allergy-extractor/internal/entity"
	"github.com/joseph-ayodele/allergy-extractor/internal/repository"
	"github.com/joseph-ayodele/allergy-extractor/internal/storage"
)

// PageProcessor handles queued page items for the worker pool.
type PageProcessor struct {
	analyzer    *Analyzer
	store       storage.Store
	extractions repository.ExtractionRepository
	logger      *slog.Logger
}

func NewPageProcessor(a *Analyzer, store storage.Store, extractions repository.ExtractionRepository, logger *slog.Logger) *PageProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PageProcessor{analyzer: a, store: store, extractions: extractions, logger: logger}
}

// ProcessPage analyzes the item's page, appends its extraction records and returns the
// page result as JSON for the queue item.
func (p *PageProcessor) ProcessPage(ctx context.Context, item *entity.PageItem) (json.RawMessage, error) {
	path, cleanup, err := p.store.Fetch(ctx, item.SourceKey)
	if err != nil {
		return nil, fmt.Errorf("fetch source: %w", err)
	}
	defer cleanup()

	res, err := p.analyzer.AnalyzePage(ctx, path, item.PageNumber)
	if err != nil {
		return nil, err
	}

	rows := Extractions(item.JobID, res)
	// an abandoned page must not append records after its item was failed
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.extractions.InsertBatch(ctx, rows); err != nil {
		return nil, fmt.Errorf("store extractions: %w", err)
	}
	// the deadline may pass during the insert; the pool then fails the item, so take the rows back
	if err := ctx.Err(); err != nil {
		if _, derr := p.extractions.DeleteByPage(context.WithoutCancel(ctx), item.JobID, item.PageNumber); derr != nil {
			p.logger.Error("remove late extractions", "job_id", item.JobID, "page", item.PageNumber, "error", derr)
		}
		return nil, err
	}

	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode page result: %w", err)
	}
	p.logger.Debug("page.stored", "job_id", item.JobID, "page", item.PageNumber, "extractions", len(rows))
	return data, nil
}
