// Package app wires configuration into the storage, pipeline and service graph shared by the
// daemon and the batch tools.
package app

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/allergy-extractor/constants"
	"github.com/joseph-ayodele/allergy-extractor/internal/allergen"
	"github.com/joseph-ayodele/allergy-extractor/internal/cache"
	"github.com/joseph-ayodele/allergy-extractor/internal/cells"
	"github.com/joseph-ayodele/allergy-extractor/internal/common"
	"github.com/joseph-ayodele/allergy-extractor/internal/core/async"
	"github.com/joseph-ayodele/allergy-extractor/internal/core/runner"
	"github.com/joseph-ayodele/allergy-extractor/internal/events"
	"github.com/joseph-ayodele/allergy-extractor/internal/ocr"
	"github.com/joseph-ayodele/allergy-extractor/internal/pipeline"
	"github.com/joseph-ayodele/allergy-extractor/internal/raster"
	repo "github.com/joseph-ayodele/allergy-extractor/internal/repository"
	"github.com/joseph-ayodele/allergy-extractor/internal/server"
	"github.com/joseph-ayodele/allergy-extractor/internal/services/extraction"
	"github.com/joseph-ayodele/allergy-extractor/internal/storage"
)

// App holds the wired components. Close releases them in reverse order of creation.
type App struct {
	DB      *repo.DB
	Service *extraction.Service
	Pool    *async.PagePool
	Logger  *slog.Logger

	closers []func()
}

// NewAnalyzer builds the render, cell detection, OCR and classification chain from config.
func NewAnalyzer(cfg *common.Config, logger *slog.Logger) (*pipeline.Analyzer, *raster.Rasterizer) {
	exec := runner.NewExec(logger)
	rast := raster.New(raster.Config{Pdftoppm: cfg.OCR.Pdftoppm, Scale: cfg.OCR.Scale}, exec, logger)
	engine := ocr.NewTesseract(ocr.Config{
		Tesseract:   cfg.OCR.Tesseract,
		Languages:   cfg.OCR.Languages,
		TessdataDir: cfg.OCR.TessdataDir,
		PSM:         cfg.OCR.PSM,
	}, exec, logger)
	detector := cells.New(DetectorConfig(cfg.Cells))
	analyzer := pipeline.NewAnalyzer(rast, detector, engine, allergen.NewClassifier(), pipeline.AnalyzerConfig{
		Scale:         cfg.OCR.Scale,
		MinConfidence: cfg.OCR.MinConfidence,
		MaxCells:      cfg.OCR.MaxCells,
	}, logger)
	return analyzer, rast
}

// DetectorConfig starts from the configured grid preset and applies the explicit overrides.
func DetectorConfig(c common.CellsConfig) cells.Config {
	out, ok := cells.Preset(c.GridPreset)
	if !ok {
		out = cells.DefaultConfig()
	}
	if c.RowTolerance > 0 {
		out.RowTolerance = c.RowTolerance
	}
	if c.GridRows > 0 {
		out.GridRows = c.GridRows
	}
	if c.GridCols > 0 {
		out.GridCols = c.GridCols
	}
	return out
}

// New connects the database, blob store, status cache and event publisher and builds the
// extraction service over a page pool. The pool is not started.
func New(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*App, error) {
	a := &App{Logger: logger}

	db, err := server.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	store, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	if c, ok := store.(interface{ Close() error }); ok {
		a.closers = append(a.closers, func() { _ = c.Close() })
	}

	var statusCache cache.StatusCache = cache.Nop{}
	if cfg.Redis.Addr != "" {
		client, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("redis unavailable, status cache disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			statusCache = cache.NewStatusCache(client, cfg.Redis.TTL)
			a.closers = append(a.closers, func() { _ = client.Close() })
		}
	}

	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		p, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		if err != nil {
			logger.Warn("kafka unavailable, job events disabled", "brokers", cfg.Kafka.Brokers, "error", err)
		} else {
			publisher = p
			a.closers = append(a.closers, func() { _ = p.Close() })
		}
	}

	jobs := repo.NewJobRepository(db, logger)
	pages := repo.NewPageRepository(db, logger)
	extractions := repo.NewExtractionRepository(db, logger)
	products := repo.NewProductRepository(db, logger)

	analyzer, rast := NewAnalyzer(cfg, logger)
	processor := pipeline.NewPageProcessor(analyzer, store, extractions, logger)

	var svc *extraction.Service
	pool := async.NewPagePool(pages, jobs, processor, logger,
		async.WithBatchSize(cfg.Queue.BatchSize),
		async.WithProcessTimeout(cfg.Queue.PageTimeout),
		async.WithPollInterval(cfg.Queue.PollInterval),
		async.WithStaleAfter(cfg.Queue.StaleAfter),
		async.WithJobFinished(func(ctx context.Context, jobID uuid.UUID, status constants.JobStatus) {
			svc.OnJobFinished(ctx, jobID, status)
		}),
	)
	svc = extraction.NewService(extraction.Deps{
		Jobs:        jobs,
		Pages:       pages,
		Extractions: extractions,
		Products:    products,
		Store:       store,
		Inspector:   rast,
		Queue:       pool,
		Cache:       statusCache,
		Events:      publisher,
		Logger:      logger,
	}, extraction.Limits{MaxBytes: cfg.Upload.MaxBytes, MaxPages: cfg.Upload.MaxPages})

	a.Service = svc
	a.Pool = pool
	return a, nil
}

func openStore(ctx context.Context, cfg common.StorageConfig, logger *slog.Logger) (storage.Store, error) {
	if cfg.Backend == "gcs" {
		return storage.NewGCS(ctx, cfg.Bucket, cfg.Prefix, logger)
	}
	return storage.NewLocal(cfg.LocalDir, logger)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
