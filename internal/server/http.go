package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/joseph-ayodele/allergy-extractor/constants"
	"github.com/joseph-ayodele/allergy-extractor/internal/async"
	"github.com/joseph-ayodele/allergy-extractor/internal/common"
	"github.com/joseph-ayodele/allergy-extractor/internal/entity"
	"github.com/joseph-ayodele/allergy-extractor/internal/services/extraction"
)

// JobService is the extraction surface the HTTP and gRPC handlers call.
type JobService interface {
	StartJob(ctx context.Context, req extraction.StartRequest) (*extraction.StartResult, error)
	GetJobStatus(ctx context.Context, jobID uuid.UUID) (*extraction.JobStatus, error)
	ExportCSV(ctx context.Context, jobID uuid.UUID) (string, []byte, error)
	ExportXLSX(ctx context.Context, jobID uuid.UUID) (string, []byte, error)
	GetReviewDraft(ctx context.Context, jobID uuid.UUID) (*extraction.Draft, error)
	CommitReview(ctx context.Context, meta entity.ProductMetadata, rows []entity.ReviewRow) (uuid.UUID, error)
	ProcessPages(ctx context.Context, parallel int) (async.BatchReport, error)
}

const (
	headerParallel  = "X-Parallel-Count"
	defaultParallel = 3

	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// HealthFunc reports whether the backing store is reachable.
type HealthFunc func(ctx context.Context) error

// JobHandler serves the job, export and review endpoints.
type JobHandler struct {
	svc      JobService
	maxBytes int64
	logger   *slog.Logger
}

func NewJobHandler(svc JobService, maxBytes int64, logger *slog.Logger) *JobHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBytes <= 0 {
		maxBytes = constants.MaxUploadBytes
	}
	return &JobHandler{svc: svc, maxBytes: maxBytes, logger: logger}
}

// NewHTTP builds the echo router with middleware and routes registered.
func NewHTTP(h *JobHandler, health HealthFunc, logger *slog.Logger) *echo.Echo {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(RequestID())
	e.Use(RequestLogger(logger))
	e.Use(middleware.Recover())

	e.GET("/health", func(c echo.Context) error {
		if health != nil {
			if err := health(c.Request().Context()); err != nil {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	api := e.Group("/api")
	api.POST("/jobs", h.Create)
	api.GET("/jobs/:id", h.Get)
	api.GET("/jobs/:id/csv", h.CSV)
	api.GET("/jobs/:id/xlsx", h.XLSX)
	api.GET("/jobs/:id/review", h.Review)
	api.POST("/products", h.Commit)
	api.POST("/process-pages", h.ProcessPages)
	return e
}

// Create accepts a multipart upload in the "pdf" field and starts a job.
func (h *JobHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()

	fh, err := c.FormFile("pdf")
	if err != nil {
		return h.fail(c, common.NewAppError("INVALID_INPUT", "multipart field \"pdf\" is required", common.ErrInvalidInput))
	}
	maxPages := 0
	if raw := c.FormValue("max_pages"); raw != "" {
		if maxPages, err = strconv.Atoi(raw); err != nil || maxPages <= 0 {
			return h.fail(c, common.NewAppError("INVALID_INPUT", "max_pages must be a positive integer", common.ErrInvalidInput))
		}
	}

	f, err := fh.Open()
	if err != nil {
		return h.fail(c, common.NewAppError("INVALID_INPUT", "cannot read upload", common.ErrInvalidInput))
	}
	defer f.Close()

	// one byte past the limit is enough for the service to reject it
	data, err := io.ReadAll(io.LimitReader(f, h.maxBytes+1))
	if err != nil {
		return h.fail(c, common.NewAppError("INVALID_INPUT", "cannot read upload", common.ErrInvalidInput))
	}

	res, err := h.svc.StartJob(ctx, extraction.StartRequest{
		FileName: fh.Filename,
		UserID:   c.FormValue("user_id"),
		Data:     data,
		MaxPages: maxPages,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *JobHandler) Get(c echo.Context) error {
	id, err := jobID(c)
	if err != nil {
		return h.fail(c, err)
	}
	st, err := h.svc.GetJobStatus(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *JobHandler) CSV(c echo.Context) error {
	return h.download(c, h.svc.ExportCSV, "text/csv; charset=utf-8")
}

func (h *JobHandler) XLSX(c echo.Context) error {
	return h.download(c, h.svc.ExportXLSX, mimeXLSX)
}

func (h *JobHandler) download(c echo.Context, export func(context.Context, uuid.UUID) (string, []byte, error), contentType string) error {
	id, err := jobID(c)
	if err != nil {
		return h.fail(c, err)
	}
	name, body, err := export(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	c.Response().Header().Set("Cache-Control", "no-cache")
	return c.Blob(http.StatusOK, contentType, body)
}

func (h *JobHandler) Review(c echo.Context) error {
	id, err := jobID(c)
	if err != nil {
		return h.fail(c, err)
	}
	draft, err := h.svc.GetReviewDraft(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, draft)
}

// Commit stores a reviewed draft as a product.
func (h *JobHandler) Commit(c echo.Context) error {
	var req extraction.CommitRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, common.NewAppError("INVALID_INPUT", "request body is not valid JSON", common.ErrInvalidInput))
	}
	id, err := h.svc.CommitReview(c.Request().Context(), req.Product, req.Rows)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"product_id": id.String()})
}

// ProcessPages runs one batch of queued pages; X-Parallel-Count sets the batch width.
func (h *JobHandler) ProcessPages(c echo.Context) error {
	parallel := defaultParallel
	if raw := c.Request().Header.Get(headerParallel); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return h.fail(c, common.NewAppError("INVALID_INPUT", headerParallel+" must be a positive integer", common.ErrInvalidInput))
		}
		parallel = n
	}
	report, err := h.svc.ProcessPages(c.Request().Context(), parallel)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, struct {
		Success bool `json:"success"`
		async.BatchReport
	}{Success: true, BatchReport: report})
}

func jobID(c echo.Context) (uuid.UUID, error) {
	raw := c.Param("id")
	v := common.NewValidator().Field("id", raw, common.UUID)
	if err := common.ValidateAndReturnError(v); err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(raw)
}

// httpStatus maps service errors onto response codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, common.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, common.ErrNoPagesProduced), errors.Is(err, common.ErrMalformedPDF):
		return http.StatusUnprocessableEntity
	case errors.Is(err, common.ErrJobNotCompleted):
		return http.StatusAccepted
	case errors.Is(err, common.ErrNotFound), errors.Is(err, common.ErrNoExtractionsFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *JobHandler) fail(c echo.Context, err error) error {
	code := httpStatus(err)
	msg := err.Error()
	var app *common.AppError
	if errors.As(err, &app) {
		msg = app.Message
	}
	if code == http.StatusInternalServerError {
		h.logger.ErrorContext(c.Request().Context(), "request failed", "path", c.Path(), "error", err)
		msg = "internal error"
	}
	return c.JSON(code, map[string]string{"error": common.ErrorCode(err), "message": msg})
}
