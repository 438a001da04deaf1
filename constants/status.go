package constants

// JobStatus is the canonical status for rows in pdf_jobs.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusProcessing JobStatus = "processing" // pages queued or in flight
	JobStatusCompleted  JobStatus = "completed"  // every page reached a terminal state
	JobStatusError      JobStatus = "error"      // terminal failure
)

// IsTerminal reports whether the job can no longer change.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// PageStatus is the canonical status for rows in pdf_page_queue.
type PageStatus string

const (
	PageStatusPending    PageStatus = "pending"
	PageStatusProcessing PageStatus = "processing"
	PageStatusCompleted  PageStatus = "completed"
	PageStatusError      PageStatus = "error"
)

// PageStatuses lists every queue item status in lifecycle order.
var PageStatuses = []PageStatus{
	PageStatusPending,
	PageStatusProcessing,
	PageStatusCompleted,
	PageStatusError,
}

func (s PageStatus) IsTerminal() bool {
	return s == PageStatusCompleted || s == PageStatusError
}
