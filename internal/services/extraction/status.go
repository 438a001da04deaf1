package extraction

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/allergy-extractor/constants"
	"github.com/joseph-ayodele/allergy-extractor/internal/entity"
)

// PageStatus is the per-page view returned with a job status.
type PageStatus struct {
	PageNumber       int                  `json:"page_number"`
	Status           constants.PageStatus `json:"status"`
	ProcessingTimeMs *int64               `json:"processing_time_ms,omitempty"`
	ErrorMessage     *string              `json:"error_message,omitempty"`
}

// JobStatus is the polling view of a job. It is safe to request while pages are running.
type JobStatus struct {
	JobID               uuid.UUID           `json:"job_id"`
	Status              constants.JobStatus `json:"status"`
	FileName            string              `json:"file_name"`
	FileSize            int64               `json:"file_size"`
	TotalPages          int                 `json:"total_pages"`
	CompletedPages      int                 `json:"completed_pages"`
	ErrorPages          int                 `json:"error_pages"`
	ProgressPercent     float64             `json:"progress_percent"`
	ExtractedItemCount  int                 `json:"extracted_items_count"`
	AvgProcessingTimeMs float64             `json:"avg_processing_time_ms"`
	QueueStats          entity.QueueStats   `json:"queue_stats"`
	Pages               []PageStatus        `json:"pages"`
	ErrorMessage        *string             `json:"error_message,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// GetJobStatus reports job progress. Terminal statuses are served from the status cache when present.
func (s *Service) GetJobStatus(ctx context.Context, jobID uuid.UUID) (*JobStatus, error) {
	if data, ok, err := s.cache.Get(ctx, jobID.String()); err != nil {
		s.logger.Warn("status cache read failed", "job_id", jobID, "error", err)
	} else if ok {
		var st JobStatus
		if err := json.Unmarshal(data, &st); err == nil {
			return &st, nil
		}
	}

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	stats, err := s.jobs.Stats(ctx, jobID)
	if err != nil {
		return nil, err
	}
	items, err := s.pages.ListByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	count, err := s.extractions.CountByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	avg, err := s.jobs.AvgProcessingTime(ctx, jobID)
	if err != nil {
		return nil, err
	}

	st := &JobStatus{
		JobID:               job.ID,
		Status:              job.Status,
		FileName:            job.FileName,
		FileSize:            job.FileSize,
		TotalPages:          job.TotalPages,
		CompletedPages:      job.CompletedPages,
		ErrorPages:          job.ErrorPages,
		ProgressPercent:     progressPercent(job.CompletedPages+job.ErrorPages, job.TotalPages),
		ExtractedItemCount:  count,
		AvgProcessingTimeMs: math.Round(avg),
		QueueStats:          stats,
		Pages:               make([]PageStatus, 0, len(items)),
		ErrorMessage:        job.ErrorMessage,
		CreatedAt:           job.CreatedAt,
		UpdatedAt:           job.UpdatedAt,
	}
	for _, it := range items {
		st.Pages = append(st.Pages, PageStatus{
			PageNumber:       it.PageNumber,
			Status:           it.Status,
			ProcessingTimeMs: it.ProcessingTimeMs,
			ErrorMessage:     it.ErrorMessage,
		})
	}

	if st.Status.IsTerminal() {
		if data, err := json.Marshal(st); err == nil {
			if err := s.cache.Set(ctx, jobID.String(), data); err != nil {
				s.logger.Warn("status cache write failed", "job_id", jobID, "error", err)
			}
		}
	}
	return st, nil
}

// progressPercent rounds to two decimals; a job without pages reports 0.
func progressPercent(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(done)/float64(total)*10000) / 100
}
