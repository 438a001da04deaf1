package raster

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/joseph-ayodele/allergy-extractor/internal/common"
	"github.com/joseph-ayodele/allergy-extractor/internal/core/runner"
)

const DefaultScale = 2.0

type Config struct {
	Pdftoppm string  // binary name or absolute path; if empty -> "pdftoppm"
	Scale    float64 // default 2.0 (144 DPI)
}

// Bitmap is one rendered page. Release removes its backing files.
type Bitmap struct {
	Image image.Image
	Page  int
	DPI   int
	dir   string
}

func (b *Bitmap) Release() {
	if b == nil || b.dir == "" {
		return
	}
	_ = os.RemoveAll(b.dir)
	b.dir = ""
}

// Rasterizer renders PDF pages through pdftoppm and inspects documents with pdfcpu.
type Rasterizer struct {
	cfg    Config
	runner runner.Runner
	log    *slog.Logger

	pageCount func(path string) (int, error)
}

func New(cfg Config, r runner.Runner, logger *slog.Logger) *Rasterizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Scale <= 0 {
		cfg.Scale = DefaultScale
	}
	if r == nil {
		r = runner.NewExec(logger)
	}
	return &Rasterizer{cfg: cfg, runner: r, log: logger, pageCount: api.PageCountFile}
}

// DPI converts a scale multiplier to pdftoppm resolution.
func DPI(scale float64) int {
	if scale <= 0 {
		scale = DefaultScale
	}
	return int(math.Round(72 * scale))
}

func relaxedConfig() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

// Validate rejects files pdfcpu cannot parse even in relaxed mode.
func (r *Rasterizer) Validate(path string) error {
	if err := api.ValidateFile(path, relaxedConfig()); err != nil {
		r.log.Warn("pdf validation failed", "path", path, "error", err)
		return fmt.Errorf("%w: %v", common.ErrMalformedPDF, err)
	}
	return nil
}

func (r *Rasterizer) PageCount(path string) (int, error) {
	n, err := r.pageCount(path)
	if err != nil {
		return 0, fmt.Errorf("%w: page count: %v", common.ErrMalformedPDF, err)
	}
	return n, nil
}

// Render rasterizes one 1-based page. scale <= 0 uses the configured scale.
func (r *Rasterizer) Render(ctx context.Context, docPath string, page int, scale float64) (*Bitmap, error) {
	total, err := r.PageCount(docPath)
	if err != nil {
		return nil, fmt.Errorf("%w: page %d: %v", common.ErrRenderFailure, page, err)
	}
	if page < 1 || page > total {
		return nil, fmt.Errorf("%w: page %d of %d", common.ErrPageOutOfRange, page, total)
	}
	if scale <= 0 {
		scale = r.cfg.Scale
	}
	dpi := DPI(scale)
	start := time.Now()

	dir, err := os.MkdirTemp("", "allergy-page-*")
	if err != nil {
		return nil, fmt.Errorf("%w: page %d: %v", common.ErrRenderFailure, page, err)
	}
	bm := &Bitmap{Page: page, DPI: dpi, dir: dir}

	prefix := filepath.Join(dir, "page")
	p := strconv.Itoa(page)
	// pdftoppm -f N -l N -r DPI -png -singlefile <in.pdf> <tmp/page>
	_, errb, err := r.runner.Run(ctx, r.cfg.Pdftoppm, "-f", p, "-l", p, "-r", strconv.Itoa(dpi), "-png", "-singlefile", docPath, prefix)
	if err != nil {
		bm.Release()
		return nil, fmt.Errorf("%w: page %d: %v: %s", common.ErrRenderFailure, page, err, runner.Truncate(string(errb), 512))
	}

	img, err := imaging.Open(prefix + ".png")
	if err != nil {
		bm.Release()
		return nil, fmt.Errorf("%w: page %d: decode: %v", common.ErrRenderFailure, page, err)
	}
	bm.Image = img
	r.log.Debug("page.render.ok", "page", page, "dpi", dpi,
		"width", img.Bounds().Dx(), "height", img.Bounds().Dy(), "elapsed_ms", time.Since(start).Milliseconds())
	return bm, nil
}
