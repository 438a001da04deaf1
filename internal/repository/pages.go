package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/allergy-extractor/constants"
	"github.com/joseph-ayodele/allergy-extractor/internal/common"
	"github.com/joseph-ayodele/allergy-extractor/internal/entity"
)

type PageRepository interface {
	Claim(ctx context.Context, limit int) ([]*entity.PageItem, error)
	Complete(ctx context.Context, item *entity.PageItem, result json.RawMessage, took time.Duration) (bool, error)
	Fail(ctx context.Context, item *entity.PageItem, message string, took time.Duration) (bool, error)
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*entity.PageItem, error)
	FailStale(ctx context.Context, startedBefore time.Time) ([]*entity.PageItem, error)
}

type pageRepo struct {
	db  *DB
	log *slog.Logger
}

func NewPageRepository(db *DB, log *slog.Logger) PageRepository {
	if log == nil {
		log = slog.Default()
	}
	return &pageRepo{db: db, log: log}
}

var pageSelectColumns = []string{
	"id", "job_id", "page_number", "pdf_page_path", "status", "processing_started_at",
	"processing_completed_at", "processing_time_ms", "error_message", "json_data", "created_at",
}

// Claim moves up to limit pending items to processing, oldest first.
// Each row is claimed with a status-guarded update, so concurrent claimers never share an item.
func (r *pageRepo) Claim(ctx context.Context, limit int) ([]*entity.PageItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	b := r.db.builder()
	q, args := b.Select("id").
		From(b.Table(PagesTable.Name)).
		Where(entsql.EQ("status", string(constants.PageStatusPending))).
		OrderBy("created_at", "page_number").
		Limit(limit).
		Query()
	rows, err := query(ctx, r.db.drv, q, args)
	if err != nil {
		return nil, fmt.Errorf("%w: select pending pages: %v", common.ErrDatabase, err)
	}
	var candidates []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("%w: scan pending page: %v", common.ErrDatabase, err)
		}
		candidates = append(candidates, id)
	}
	_ = rows.Close()

	var claimed []uuid.UUID
	for _, id := range candidates {
		q, args := r.db.builder().Update(PagesTable.Name).
			Set("status", string(constants.PageStatusProcessing)).
			Set("processing_started_at", now()).
			Where(entsql.And(
				entsql.EQ("id", id),
				entsql.EQ("status", string(constants.PageStatusPending)),
			)).
			Query()
		n, err := exec(ctx, r.db.drv, q, args)
		if err != nil {
			return nil, fmt.Errorf("%w: claim page: %v", common.ErrDatabase, err)
		}
		if n == 1 {
			claimed = append(claimed, id)
		}
	}
	if len(claimed) == 0 {
		return nil, nil
	}

	ids := make([]any, len(claimed))
	for i, id := range claimed {
		ids[i] = id
	}
	items, err := r.list(ctx, entsql.In("id", ids...))
	if err != nil {
		return nil, err
	}
	r.log.Debug("pages claimed", "count", len(items), "candidates", len(candidates))
	return items, nil
}

func (r *pageRepo) Complete(ctx context.Context, item *entity.PageItem, result json.RawMessage, took time.Duration) (bool, error) {
	var data any
	if len(result) > 0 {
		data = string(result)
	}
	applied, err := r.finish(ctx, item, constants.PageStatusCompleted, "completed_pages", took, func(u *entsql.UpdateBuilder) {
		u.Set("json_data", data)
	}, nil)
	if err != nil {
		r.log.Error("page complete failed", "job_id", item.JobID, "page", item.PageNumber, "error", err)
		return false, err
	}
	return applied, nil
}

func (r *pageRepo) Fail(ctx context.Context, item *entity.PageItem, message string, took time.Duration) (bool, error) {
	// a failed page keeps no extraction rows, even ones a late handler already wrote
	applied, err := r.finish(ctx, item, constants.PageStatusError, "error_pages", took, func(u *entsql.UpdateBuilder) {
		u.Set("error_message", message)
	}, func(tx dialect.Tx) error {
		_, err := deletePageExtractions(ctx, r.db, tx, item.JobID, item.PageNumber)
		return err
	})
	if err != nil {
		r.log.Error("page fail failed", "job_id", item.JobID, "page", item.PageNumber, "error", err)
		return false, err
	}
	if applied {
		r.log.Warn("page finished (error)", "job_id", item.JobID, "page", item.PageNumber, "error", message)
	}
	return applied, nil
}

// finish applies a terminal status to a processing item and bumps the job counter in one
// transaction. then, if set, runs in the same transaction once the transition applied.
func (r *pageRepo) finish(ctx context.Context, item *entity.PageItem, status constants.PageStatus, counter string, took time.Duration, set func(*entsql.UpdateBuilder), then func(dialect.Tx) error) (bool, error) {
	applied := false
	err := r.db.withTx(ctx, func(tx dialect.Tx) error {
		ts := now()
		upd := r.db.builder().Update(PagesTable.Name).
			Set("status", string(status)).
			Set("processing_completed_at", ts).
			Set("processing_time_ms", took.Milliseconds())
		set(upd)
		q, args := upd.Where(entsql.And(
			entsql.EQ("id", item.ID),
			entsql.EQ("status", string(constants.PageStatusProcessing)),
		)).Query()
		n, err := exec(ctx, tx, q, args)
		if err != nil {
			return err
		}
		if n != 1 {
			return nil
		}
		q, args = r.db.builder().Update(JobsTable.Name).
			Add(counter, 1).
			Set("updated_at", ts).
			Where(entsql.EQ("id", item.JobID)).
			Query()
		if _, err := exec(ctx, tx, q, args); err != nil {
			return err
		}
		if then != nil {
			if err := then(tx); err != nil {
				return err
			}
		}
		applied = true
		ms := took.Milliseconds()
		item.Status = status
		item.ProcessingCompletedAt = &ts
		item.ProcessingTimeMs = &ms
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: finish page: %v", common.ErrDatabase, err)
	}
	return applied, nil
}

func (r *pageRepo) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*entity.PageItem, error) {
	return r.list(ctx, entsql.EQ("job_id", jobID))
}

// FailStale marks items stuck in processing since before startedBefore as error.
// They are never retried; the returned items let callers finalize their jobs.
func (r *pageRepo) FailStale(ctx context.Context, startedBefore time.Time) ([]*entity.PageItem, error) {
	items, err := r.list(ctx, entsql.And(
		entsql.EQ("status", string(constants.PageStatusProcessing)),
		entsql.LT("processing_started_at", startedBefore.UTC()),
	))
	if err != nil {
		return nil, err
	}
	var failed []*entity.PageItem
	for _, it := range items {
		var took time.Duration
		if it.ProcessingStartedAt != nil {
			took = time.Since(*it.ProcessingStartedAt)
		}
		ok, err := r.Fail(ctx, it, "worker lost while processing page", took)
		if err != nil {
			return failed, err
		}
		if ok {
			failed = append(failed, it)
		}
	}
	return failed, nil
}

func (r *pageRepo) list(ctx context.Context, where *entsql.Predicate) ([]*entity.PageItem, error) {
	b := r.db.builder()
	q, args := b.Select(pageSelectColumns...).
		From(b.Table(PagesTable.Name)).
		Where(where).
		OrderBy("page_number").
		Query()
	rows, err := query(ctx, r.db.drv, q, args)
	if err != nil {
		return nil, fmt.Errorf("%w: list pages: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []*entity.PageItem
	for rows.Next() {
		var (
			it                 entity.PageItem
			status             string
			started, completed sql.NullTime
			took               sql.NullInt64
			errMsg, data       sql.NullString
			created            sql.NullTime
		)
		if err := rows.Scan(&it.ID, &it.JobID, &it.PageNumber, &it.SourceKey, &status, &started,
			&completed, &took, &errMsg, &data, &created); err != nil {
			return nil, fmt.Errorf("%w: scan page: %v", common.ErrDatabase, err)
		}
		it.Status = constants.PageStatus(status)
		if started.Valid {
			it.ProcessingStartedAt = &started.Time
		}
		if completed.Valid {
			it.ProcessingCompletedAt = &completed.Time
		}
		if took.Valid {
			it.ProcessingTimeMs = &took.Int64
		}
		if errMsg.Valid {
			it.ErrorMessage = &errMsg.String
		}
		if data.Valid {
			it.JSONData = json.RawMessage(data.String)
		}
		it.CreatedAt = created.Time
		out = append(out, &it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list pages: %v", common.ErrDatabase, err)
	}
	return out, nil
}
