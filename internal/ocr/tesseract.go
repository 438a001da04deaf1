package ocr

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/disintegration/imaging"

	"github.com/joseph-ayodele/allergy-extractor/internal/common"
	"github.com/joseph-ayodele/allergy-extractor/internal/core/runner"
)

type Config struct {
	Tesseract   string // binary name or absolute path; if empty -> "tesseract"
	Languages   string // default "jpn+eng"
	TessdataDir string
	PSM         int // 6 = uniform block of text
	OEM         int // 1 = LSTM; leave 0 to use default
}

// Tesseract runs the tesseract CLI in TSV mode on preprocessed cell images.
type Tesseract struct {
	cfg    Config
	runner runner.Runner
	logger *slog.Logger
}

func NewTesseract(cfg Config, r runner.Runner, logger *slog.Logger) *Tesseract {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Languages == "" {
		cfg.Languages = DefaultLanguages
	}
	if cfg.PSM <= 0 {
		cfg.PSM = 6
	}
	if r == nil {
		r = runner.NewExec(logger)
	}
	return &Tesseract{cfg: cfg, runner: r, logger: logger}
}

// Preprocess converts a cell to grayscale, stretches its contrast to the full range and sharpens it.
func Preprocess(img image.Image) *image.NRGBA {
	gray := imaging.Grayscale(img)
	lo, hi := uint8(255), uint8(0)
	for i := 0; i < len(gray.Pix); i += 4 {
		v := gray.Pix[i]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi > lo {
		span := float64(hi - lo)
		gray = imaging.AdjustFunc(gray, func(c color.NRGBA) color.NRGBA {
			scale := func(v uint8) uint8 {
				if v <= lo {
					return 0
				}
				return uint8(float64(v-lo)*255/span + 0.5)
			}
			return color.NRGBA{R: scale(c.R), G: scale(c.G), B: scale(c.B), A: c.A}
		})
	}
	return imaging.Sharpen(gray, 1.0)
}

func (t *Tesseract) Recognize(ctx context.Context, img image.Image) (Result, error) {
	start := time.Now()
	dir, err := os.MkdirTemp("", "allergy-ocr-*")
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", common.ErrRecognitionFailure, err)
	}
	defer func(path string) {
		if err := os.RemoveAll(path); err != nil {
			t.logger.Warn("failed to remove temp dir", "path", path, "error", err)
		}
	}(dir)

	png := filepath.Join(dir, "cell.png")
	if err := imaging.Save(Preprocess(img), png); err != nil {
		return Result{}, fmt.Errorf("%w: write cell image: %v", common.ErrRecognitionFailure, err)
	}

	args := []string{png, "stdout", "-l", t.cfg.Languages, "--psm", strconv.Itoa(t.cfg.PSM)}
	if t.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(t.cfg.OEM))
	}
	if t.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
	}
	// TSV output
	args = append(args, "tsv")

	out, errb, err := t.runner.Run(ctx, t.cfg.Tesseract, args...)
	if err != nil {
		return Result{}, fmt.Errorf("%w: tesseract: %v: %s", common.ErrRecognitionFailure, err, runner.Truncate(string(errb), 512))
	}
	res := ParseTSV(out)
	res.Text = Normalize(res.Text)
	t.logger.Debug("cell.ocr.ok", "chars", len([]rune(res.Text)), "confidence", res.Confidence,
		"elapsed_ms", time.Since(start).Milliseconds())
	return res, nil
}
