package async

import (
	"context"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/allergy-extractor/constants"
)

// PageOutcome is how one claimed page item ended.
type PageOutcome struct {
	ItemID     uuid.UUID            `json:"item_id"`
	JobID      uuid.UUID            `json:"job_id"`
	PageNumber int                  `json:"page_number"`
	Status     constants.PageStatus `json:"status"`
	DurationMs int64                `json:"processing_time_ms"`
	Error      string               `json:"error,omitempty"`
}

// BatchReport summarizes one claimed batch.
type BatchReport struct {
	Claimed   int           `json:"processed"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	ElapsedMs int64         `json:"elapsed_ms"`
	Pages     []PageOutcome `json:"pages"`
}

// Queue processes pending page items. Notify wakes idle workers after new items are queued.
type Queue interface {
	Notify()
	RunBatch(ctx context.Context, n int) (BatchReport, error)
	Shutdown(ctx context.Context)
}
