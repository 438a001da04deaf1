package repository

import (
	"context"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

var textType = map[string]string{dialect.Postgres: "text"}

var (
	jobColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "user_id", Type: field.TypeString, Nullable: true},
		{Name: "file_name", Type: field.TypeString},
		{Name: "file_size", Type: field.TypeInt64},
		{Name: "status", Type: field.TypeString, Size: 32},
		{Name: "total_pages", Type: field.TypeInt, Default: 0},
		{Name: "completed_pages", Type: field.TypeInt, Default: 0},
		{Name: "error_pages", Type: field.TypeInt, Default: 0},
		{Name: "error_message", Type: field.TypeString, Nullable: true, SchemaType: textType},
		{Name: "source_key", Type: field.TypeString},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	JobsTable = &schema.Table{
		Name:       "pdf_jobs",
		Columns:    jobColumns,
		PrimaryKey: []*schema.Column{jobColumns[0]},
		Indexes: []*schema.Index{
			{Name: "pdf_jobs_status_created_at", Columns: []*schema.Column{jobColumns[4], jobColumns[10]}},
		},
	}

	pageColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "job_id", Type: field.TypeUUID},
		{Name: "page_number", Type: field.TypeInt},
		{Name: "pdf_page_path", Type: field.TypeString},
		{Name: "status", Type: field.TypeString, Size: 32},
		{Name: "processing_started_at", Type: field.TypeTime, Nullable: true},
		{Name: "processing_completed_at", Type: field.TypeTime, Nullable: true},
		{Name: "processing_time_ms", Type: field.TypeInt64, Nullable: true},
		{Name: "error_message", Type: field.TypeString, Nullable: true, SchemaType: textType},
		{Name: "json_data", Type: field.TypeString, Nullable: true, SchemaType: textType},
		{Name: "created_at", Type: field.TypeTime},
	}
	PagesTable = &schema.Table{
		Name:       "pdf_page_queue",
		Columns:    pageColumns,
		PrimaryKey: []*schema.Column{pageColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "pdf_page_queue_pdf_jobs_pages",
				Columns:    []*schema.Column{pageColumns[1]},
				RefColumns: []*schema.Column{jobColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{Name: "pdf_page_queue_job_id_page_number", Unique: true, Columns: []*schema.Column{pageColumns[1], pageColumns[2]}},
			{Name: "pdf_page_queue_status_created_at", Columns: []*schema.Column{pageColumns[4], pageColumns[10]}},
		},
	}

	extractionColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "job_id", Type: field.TypeUUID},
		{Name: "page_number", Type: field.TypeInt},
		{Name: "menu_name", Type: field.TypeString},
		{Name: "allergies", Type: field.TypeString, SchemaType: textType},
		{Name: "cell_position", Type: field.TypeString, Nullable: true, SchemaType: textType},
		{Name: "confidence_score", Type: field.TypeFloat64},
		{Name: "created_at", Type: field.TypeTime},
	}
	ExtractionsTable = &schema.Table{
		Name:       "allergy_extractions",
		Columns:    extractionColumns,
		PrimaryKey: []*schema.Column{extractionColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "allergy_extractions_pdf_jobs_extractions",
				Columns:    []*schema.Column{extractionColumns[1]},
				RefColumns: []*schema.Column{jobColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{Name: "allergy_extractions_job_id_page_number", Columns: []*schema.Column{extractionColumns[1], extractionColumns[2]}},
		},
	}

	productColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "name", Type: field.TypeString},
		{Name: "brand", Type: field.TypeString, Nullable: true},
		{Name: "category", Type: field.TypeString, Nullable: true},
		{Name: "source_job_id", Type: field.TypeUUID, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
	}
	ProductsTable = &schema.Table{
		Name:       "products",
		Columns:    productColumns,
		PrimaryKey: []*schema.Column{productColumns[0]},
	}

	productAllergyColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "product_id", Type: field.TypeUUID},
		{Name: "allergy_item_id", Type: field.TypeString, Size: 64},
		{Name: "presence_type", Type: field.TypeString, Size: 32},
		{Name: "amount_level", Type: field.TypeString, Size: 32},
		{Name: "notes", Type: field.TypeString, Nullable: true, SchemaType: textType},
		{Name: "created_at", Type: field.TypeTime},
	}
	ProductAllergiesTable = &schema.Table{
		Name:       "product_allergies",
		Columns:    productAllergyColumns,
		PrimaryKey: []*schema.Column{productAllergyColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "product_allergies_products_allergies",
				Columns:    []*schema.Column{productAllergyColumns[1]},
				RefColumns: []*schema.Column{productColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{Name: "product_allergies_product_id_allergy_item_id", Unique: true, Columns: []*schema.Column{productAllergyColumns[1], productAllergyColumns[2]}},
		},
	}

	// Tables lists every table in creation order.
	Tables = []*schema.Table{
		JobsTable,
		PagesTable,
		ExtractionsTable,
		ProductsTable,
		ProductAllergiesTable,
	}
)

func init() {
	PagesTable.ForeignKeys[0].RefTable = JobsTable
	ExtractionsTable.ForeignKeys[0].RefTable = JobsTable
	ProductAllergiesTable.ForeignKeys[0].RefTable = ProductsTable
}

// Migrate creates or updates all tables.
func (d *DB) Migrate(ctx context.Context) error {
	m, err := schema.NewMigrate(d.drv)
	if err != nil {
		return err
	}
	if err := m.Create(ctx, Tables...); err != nil {
		d.log.Error("schema migration failed", "error", err)
		return err
	}
	d.log.Info("schema migrated", "tables", len(Tables))
	return nil
}
