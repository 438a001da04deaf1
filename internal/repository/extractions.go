package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/allergy-extractor/internal/common"
	"github.com/joseph-ayodele/allergy-extractor/internal/entity"
)

type ExtractionRepository interface {
	InsertBatch(ctx context.Context, rows []*entity.Extraction) error
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*entity.Extraction, error)
	CountByJob(ctx context.Context, jobID uuid.UUID) (int, error)
	DeleteByPage(ctx context.Context, jobID uuid.UUID, page int) (int64, error)
}

type extractionRepo struct {
	db  *DB
	log *slog.Logger
}

func NewExtractionRepository(db *DB, log *slog.Logger) ExtractionRepository {
	if log == nil {
		log = slog.Default()
	}
	return &extractionRepo{db: db, log: log}
}

// InsertBatch appends extraction rows; existing rows are never modified.
func (r *extractionRepo) InsertBatch(ctx context.Context, rows []*entity.Extraction) error {
	if len(rows) == 0 {
		return nil
	}
	ins := r.db.builder().Insert(ExtractionsTable.Name).
		Columns("id", "job_id", "page_number", "menu_name", "allergies", "cell_position", "confidence_score", "created_at")
	ts := now()
	for _, e := range rows {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		e.CreatedAt = ts
		allergies, err := json.Marshal(e.Allergies)
		if err != nil {
			return fmt.Errorf("marshal allergies: %w", err)
		}
		var cell any
		if e.CellPosition != nil {
			b, err := json.Marshal(e.CellPosition)
			if err != nil {
				return fmt.Errorf("marshal cell position: %w", err)
			}
			cell = string(b)
		}
		ins.Values(e.ID, e.JobID, e.PageNumber, e.MenuName, string(allergies), cell, e.ConfidenceScore, e.CreatedAt)
	}
	q, args := ins.Query()
	if _, err := exec(ctx, r.db.drv, q, args); err != nil {
		r.log.Error("extraction insert failed", "job_id", rows[0].JobID, "count", len(rows), "error", err)
		return fmt.Errorf("%w: insert extractions: %v", common.ErrDatabase, err)
	}
	r.log.Debug("extractions inserted", "job_id", rows[0].JobID, "page", rows[0].PageNumber, "count", len(rows))
	return nil
}

// ListByJob returns a job's extractions ordered by page then insertion time.
func (r *extractionRepo) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*entity.Extraction, error) {
	b := r.db.builder()
	q, args := b.Select("id", "job_id", "page_number", "menu_name", "allergies", "cell_position", "confidence_score", "created_at").
		From(b.Table(ExtractionsTable.Name)).
		Where(entsql.EQ("job_id", jobID)).
		OrderBy("page_number", "created_at").
		Query()
	rows, err := query(ctx, r.db.drv, q, args)
	if err != nil {
		return nil, fmt.Errorf("%w: list extractions: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []*entity.Extraction
	for rows.Next() {
		var (
			e         entity.Extraction
			allergies string
			cell      sql.NullString
			created   sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.JobID, &e.PageNumber, &e.MenuName, &allergies, &cell, &e.ConfidenceScore, &created); err != nil {
			return nil, fmt.Errorf("%w: scan extraction: %v", common.ErrDatabase, err)
		}
		if err := json.Unmarshal([]byte(allergies), &e.Allergies); err != nil {
			r.log.Warn("extraction allergies unreadable", "id", e.ID, "error", err)
		}
		if cell.Valid {
			var pos entity.CellPosition
			if err := json.Unmarshal([]byte(cell.String), &pos); err == nil {
				e.CellPosition = &pos
			}
		}
		e.CreatedAt = created.Time
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list extractions: %v", common.ErrDatabase, err)
	}
	return out, nil
}

func (r *extractionRepo) CountByJob(ctx context.Context, jobID uuid.UUID) (int, error) {
	b := r.db.builder()
	q, args := b.Select(entsql.Count("*")).
		From(b.Table(ExtractionsTable.Name)).
		Where(entsql.EQ("job_id", jobID)).
		Query()
	rows, err := query(ctx, r.db.drv, q, args)
	if err != nil {
		return 0, fmt.Errorf("%w: count extractions: %v", common.ErrDatabase, err)
	}
	defer rows.Close()
	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("%w: count extractions: %v", common.ErrDatabase, err)
		}
	}
	return n, nil
}

// DeleteByPage removes the rows one page produced.
func (r *extractionRepo) DeleteByPage(ctx context.Context, jobID uuid.UUID, page int) (int64, error) {
	n, err := deletePageExtractions(ctx, r.db, r.db.drv, jobID, page)
	if err != nil {
		return 0, fmt.Errorf("%w: delete extractions: %v", common.ErrDatabase, err)
	}
	if n > 0 {
		r.log.Info("extractions removed", "job_id", jobID, "page", page, "count", n)
	}
	return n, nil
}

func deletePageExtractions(ctx context.Context, db *DB, conn dialect.ExecQuerier, jobID uuid.UUID, page int) (int64, error) {
	q, args := db.builder().Delete(ExtractionsTable.Name).
		Where(entsql.And(
			entsql.EQ("job_id", jobID),
			entsql.EQ("page_number", page),
		)).
		Query()
	return exec(ctx, conn, q, args)
}
