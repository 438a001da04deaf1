package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/allergy-extractor/constants"
)

// Job is one uploaded PDF and its page-level progress.
type Job struct {
	ID             uuid.UUID           `json:"id"`
	UserID         string              `json:"user_id,omitempty"`
	FileName       string              `json:"file_name"`
	FileSize       int64               `json:"file_size"`
	Status         constants.JobStatus `json:"status"`
	TotalPages     int                 `json:"total_pages"`
	CompletedPages int                 `json:"completed_pages"`
	ErrorPages     int                 `json:"error_pages"`
	ErrorMessage   *string             `json:"error_message,omitempty"`
	SourceKey      string              `json:"source_key"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// PageItem is one queued page of a job.
type PageItem struct {
	ID                    uuid.UUID            `json:"id"`
	JobID                 uuid.UUID            `json:"job_id"`
	PageNumber            int                  `json:"page_number"`
	SourceKey             string               `json:"pdf_page_path"`
	Status                constants.PageStatus `json:"status"`
	ProcessingStartedAt   *time.Time           `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time           `json:"processing_completed_at,omitempty"`
	ProcessingTimeMs      *int64               `json:"processing_time_ms,omitempty"`
	ErrorMessage          *string              `json:"error_message,omitempty"`
	JSONData              json.RawMessage      `json:"json_data,omitempty"`
	CreatedAt             time.Time            `json:"created_at"`
}

// QueueStats counts a job's page items by status.
type QueueStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Error      int `json:"error"`
}

// Done reports whether no page is waiting or running.
func (s QueueStats) Done() bool {
	return s.Pending == 0 && s.Processing == 0
}
