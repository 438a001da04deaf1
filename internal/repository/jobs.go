package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/allergy-extractor/constants"
	"github.com/joseph-ayodele/allergy-extractor/internal/common"
	"github.com/joseph-ayodele/allergy-extractor/internal/entity"
)

type JobRepository interface {
	Create(ctx context.Context, job *entity.Job) error
	Get(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	SetTotalPages(ctx context.Context, id uuid.UUID, total int) error
	Fail(ctx context.Context, id uuid.UUID, message string) error
	CompleteIfDone(ctx context.Context, id uuid.UUID) (constants.JobStatus, bool, error)
	Stats(ctx context.Context, id uuid.UUID) (entity.QueueStats, error)
	AvgProcessingTime(ctx context.Context, id uuid.UUID) (float64, error)
}

type jobRepo struct {
	db  *DB
	log *slog.Logger
}

func NewJobRepository(db *DB, log *slog.Logger) JobRepository {
	if log == nil {
		log = slog.Default()
	}
	return &jobRepo{db: db, log: log}
}

var jobSelectColumns = []string{
	"id", "user_id", "file_name", "file_size", "status", "total_pages",
	"completed_pages", "error_pages", "error_message", "source_key", "created_at", "updated_at",
}

func (r *jobRepo) Create(ctx context.Context, job *entity.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = constants.JobStatusProcessing
	}
	ts := now()
	job.CreatedAt, job.UpdatedAt = ts, ts

	q, args := r.db.builder().Insert(JobsTable.Name).
		Columns(jobSelectColumns...).
		Values(job.ID, nullString(job.UserID), job.FileName, job.FileSize, string(job.Status), job.TotalPages,
			job.CompletedPages, job.ErrorPages, job.ErrorMessage, job.SourceKey, job.CreatedAt, job.UpdatedAt).
		Query()
	if _, err := exec(ctx, r.db.drv, q, args); err != nil {
		r.log.Error("pdf_job create failed", "file_name", job.FileName, "error", err)
		return fmt.Errorf("%w: create job: %v", common.ErrDatabase, err)
	}
	r.log.Info("pdf_job created", "job_id", job.ID, "file_name", job.FileName, "file_size", job.FileSize)
	return nil
}

func (r *jobRepo) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	b := r.db.builder()
	q, args := b.Select(jobSelectColumns...).
		From(b.Table(JobsTable.Name)).
		Where(entsql.EQ("id", id)).
		Query()
	rows, err := query(ctx, r.db.drv, q, args)
	if err != nil {
		return nil, fmt.Errorf("%w: get job: %v", common.ErrDatabase, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: get job: %v", common.ErrDatabase, err)
		}
		return nil, fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	return scanJob(rows)
}

func scanJob(rows *entsql.Rows) (*entity.Job, error) {
	var (
		j       entity.Job
		userID  sql.NullString
		status  string
		errMsg  sql.NullString
		created sql.NullTime
		updated sql.NullTime
	)
	if err := rows.Scan(&j.ID, &userID, &j.FileName, &j.FileSize, &status, &j.TotalPages,
		&j.CompletedPages, &j.ErrorPages, &errMsg, &j.SourceKey, &created, &updated); err != nil {
		return nil, fmt.Errorf("%w: scan job: %v", common.ErrDatabase, err)
	}
	j.UserID = userID.String
	j.Status = constants.JobStatus(status)
	if errMsg.Valid {
		j.ErrorMessage = &errMsg.String
	}
	j.CreatedAt, j.UpdatedAt = created.Time, updated.Time
	return &j, nil
}

// SetTotalPages records the page count and enqueues one pending item per page in one transaction.
func (r *jobRepo) SetTotalPages(ctx context.Context, id uuid.UUID, total int) error {
	job, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	err = r.db.withTx(ctx, func(tx dialect.Tx) error {
		b := r.db.builder()
		ts := now()

		q, args := b.Update(JobsTable.Name).
			Set("total_pages", total).
			Set("updated_at", ts).
			Where(entsql.EQ("id", id)).
			Query()
		if _, err := exec(ctx, tx, q, args); err != nil {
			return err
		}
		if total == 0 {
			return nil
		}

		ins := b.Insert(PagesTable.Name).Columns("id", "job_id", "page_number", "pdf_page_path", "status", "created_at")
		for page := 1; page <= total; page++ {
			ins.Values(uuid.New(), id, page, job.SourceKey, string(constants.PageStatusPending), ts)
		}
		q, args = ins.Query()
		_, err := exec(ctx, tx, q, args)
		return err
	})
	if err != nil {
		r.log.Error("pdf_job set total pages failed", "job_id", id, "total", total, "error", err)
		return fmt.Errorf("%w: enqueue pages: %v", common.ErrDatabase, err)
	}
	r.log.Info("pdf_job pages enqueued", "job_id", id, "total_pages", total)
	return nil
}

// Fail marks a processing job as error. Terminal jobs are left untouched.
func (r *jobRepo) Fail(ctx context.Context, id uuid.UUID, message string) error {
	q, args := r.db.builder().Update(JobsTable.Name).
		Set("status", string(constants.JobStatusError)).
		Set("error_message", message).
		Set("updated_at", now()).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.EQ("status", string(constants.JobStatusProcessing)),
		)).
		Query()
	n, err := exec(ctx, r.db.drv, q, args)
	if err != nil {
		r.log.Error("pdf_job fail failed", "job_id", id, "error", err)
		return fmt.Errorf("%w: fail job: %v", common.ErrDatabase, err)
	}
	if n == 0 {
		r.log.Warn("pdf_job already terminal", "job_id", id)
		return nil
	}
	r.log.Warn("pdf_job finished (error)", "job_id", id, "error", message)
	return nil
}

// CompleteIfDone finalizes the job once no page is pending or processing.
// The job becomes completed if any page completed, otherwise error.
// changed reports whether this call performed the transition.
func (r *jobRepo) CompleteIfDone(ctx context.Context, id uuid.UUID) (constants.JobStatus, bool, error) {
	stats, err := r.Stats(ctx, id)
	if err != nil {
		return "", false, err
	}
	if stats.Total == 0 || !stats.Done() {
		return constants.JobStatusProcessing, false, nil
	}

	final := constants.JobStatusCompleted
	if stats.Completed == 0 {
		final = constants.JobStatusError
	}
	upd := r.db.builder().Update(JobsTable.Name).
		Set("status", string(final)).
		Set("updated_at", now())
	if final == constants.JobStatusError {
		upd.Set("error_message", "all pages failed")
	}
	q, args := upd.Where(entsql.And(
		entsql.EQ("id", id),
		entsql.EQ("status", string(constants.JobStatusProcessing)),
	)).Query()
	n, err := exec(ctx, r.db.drv, q, args)
	if err != nil {
		r.log.Error("pdf_job finalize failed", "job_id", id, "error", err)
		return "", false, fmt.Errorf("%w: finalize job: %v", common.ErrDatabase, err)
	}
	if n == 1 {
		r.log.Info("job."+string(final), "job_id", id, "completed_pages", stats.Completed, "error_pages", stats.Error)
	}
	return final, n == 1, nil
}

func (r *jobRepo) Stats(ctx context.Context, id uuid.UUID) (entity.QueueStats, error) {
	b := r.db.builder()
	q, args := b.Select("status", entsql.Count("*")).
		From(b.Table(PagesTable.Name)).
		Where(entsql.EQ("job_id", id)).
		GroupBy("status").
		Query()
	rows, err := query(ctx, r.db.drv, q, args)
	if err != nil {
		return entity.QueueStats{}, fmt.Errorf("%w: queue stats: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var stats entity.QueueStats
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return entity.QueueStats{}, fmt.Errorf("%w: scan queue stats: %v", common.ErrDatabase, err)
		}
		stats.Total += n
		switch constants.PageStatus(strings.ToLower(status)) {
		case constants.PageStatusPending:
			stats.Pending = n
		case constants.PageStatusProcessing:
			stats.Processing = n
		case constants.PageStatusCompleted:
			stats.Completed = n
		case constants.PageStatusError:
			stats.Error = n
		}
	}
	if err := rows.Err(); err != nil {
		return entity.QueueStats{}, fmt.Errorf("%w: queue stats: %v", common.ErrDatabase, err)
	}
	return stats, nil
}

// AvgProcessingTime is the mean processing time in ms of the job's completed pages, 0 if none.
func (r *jobRepo) AvgProcessingTime(ctx context.Context, id uuid.UUID) (float64, error) {
	b := r.db.builder()
	q, args := b.Select(entsql.Avg("processing_time_ms")).
		From(b.Table(PagesTable.Name)).
		Where(entsql.And(
			entsql.EQ("job_id", id),
			entsql.EQ("status", string(constants.PageStatusCompleted)),
		)).
		Query()
	rows, err := query(ctx, r.db.drv, q, args)
	if err != nil {
		return 0, fmt.Errorf("%w: avg processing time: %v", common.ErrDatabase, err)
	}
	defer rows.Close()
	var avg sql.NullFloat64
	if rows.Next() {
		if err := rows.Scan(&avg); err != nil {
			return 0, fmt.Errorf("%w: avg processing time: %v", common.ErrDatabase, err)
		}
	}
	return avg.Float64, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
