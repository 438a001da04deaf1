package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/allergy-extractor/constants"
	"github.com/joseph-ayodele/allergy-extractor/internal/common"
	"github.com/joseph-ayodele/allergy-extractor/internal/entity"
)

type ProductRepository interface {
	Commit(ctx context.Context, meta entity.ProductMetadata, rows []entity.ReviewRow) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*entity.Product, error)
}

type productRepo struct {
	db  *DB
	log *slog.Logger
}

func NewProductRepository(db *DB, log *slog.Logger) ProductRepository {
	if log == nil {
		log = slog.Default()
	}
	return &productRepo{db: db, log: log}
}

// Commit stores a product and its allergy rows atomically.
func (r *productRepo) Commit(ctx context.Context, meta entity.ProductMetadata, rows []entity.ReviewRow) (uuid.UUID, error) {
	id := uuid.New()
	err := r.db.withTx(ctx, func(tx dialect.Tx) error {
		b := r.db.builder()
		ts := now()
		var source any
		if meta.SourceJobID != nil {
			source = *meta.SourceJobID
		}
		q, args := b.Insert(ProductsTable.Name).
			Columns("id", "name", "brand", "category", "source_job_id", "created_at").
			Values(id, meta.Name, nullString(meta.Brand), nullString(meta.Category), source, ts).
			Query()
		if _, err := exec(ctx, tx, q, args); err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ins := b.Insert(ProductAllergiesTable.Name).
			Columns("id", "product_id", "allergy_item_id", "presence_type", "amount_level", "notes", "created_at")
		for _, row := range rows {
			ins.Values(uuid.New(), id, row.AllergenID, string(row.PresenceType), string(row.AmountLevel), nullString(row.Notes), ts)
		}
		q, args = ins.Query()
		_, err := exec(ctx, tx, q, args)
		return err
	})
	if err != nil {
		r.log.Error("product commit failed", "name", meta.Name, "error", err)
		return uuid.Nil, fmt.Errorf("%w: commit product: %v", common.ErrDatabase, err)
	}
	r.log.Info("product committed", "product_id", id, "name", meta.Name, "allergies", len(rows))
	return id, nil
}

func (r *productRepo) Get(ctx context.Context, id uuid.UUID) (*entity.Product, error) {
	b := r.db.builder()
	q, args := b.Select("id", "name", "brand", "category", "source_job_id", "created_at").
		From(b.Table(ProductsTable.Name)).
		Where(entsql.EQ("id", id)).
		Query()
	rows, err := query(ctx, r.db.drv, q, args)
	if err != nil {
		return nil, fmt.Errorf("%w: get product: %v", common.ErrDatabase, err)
	}
	var (
		p               entity.Product
		brand, category sql.NullString
		source          uuid.NullUUID
		created         sql.NullTime
	)
	found := rows.Next()
	if found {
		err = rows.Scan(&p.ID, &p.Name, &brand, &category, &source, &created)
	}
	_ = rows.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: scan product: %v", common.ErrDatabase, err)
	}
	if !found {
		return nil, fmt.Errorf("product %s: %w", id, common.ErrNotFound)
	}
	p.Brand, p.Category, p.CreatedAt = brand.String, category.String, created.Time
	if source.Valid {
		p.SourceJobID = &source.UUID
	}

	q, args = b.Select("allergy_item_id", "presence_type", "amount_level", "notes").
		From(b.Table(ProductAllergiesTable.Name)).
		Where(entsql.EQ("product_id", id)).
		OrderBy("allergy_item_id").
		Query()
	rows, err = query(ctx, r.db.drv, q, args)
	if err != nil {
		return nil, fmt.Errorf("%w: list product allergies: %v", common.ErrDatabase, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			row            entity.ReviewRow
			presence, amnt string
			notes          sql.NullString
		)
		if err := rows.Scan(&row.AllergenID, &presence, &amnt, &notes); err != nil {
			return nil, fmt.Errorf("%w: scan product allergy: %v", common.ErrDatabase, err)
		}
		row.PresenceType = constants.PresenceType(presence)
		row.AmountLevel = constants.AmountLevel(amnt)
		row.Notes = notes.String
		p.Allergies = append(p.Allergies, row)
	}
	return &p, rows.Err()
}
