// Package pipeline runs the per-page extraction stages: render, detect cells, recognize, classify.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/allergy-extractor/constants"
	"github.com/joseph-ayodele/allergy-extractor/internal/aggregate"
	"github.com/joseph-ayodele/allergy-extractor/internal/allergen"
	"github.com/joseph-ayodele/allergy-extractor/internal/cells"
	"github.com/joseph-ayodele/allergy-extractor/internal/ocr"
	"github.com/joseph-ayodele/allergy-extractor/internal/raster"
)

// MethodPage marks a page recognized as one image because no cell produced usable text.
const MethodPage = "page"

// Renderer is the slice of raster.Rasterizer the analyzer needs.
type Renderer interface {
	Render(ctx context.Context, docPath string, page int, scale float64) (*raster.Bitmap, error)
}

type AnalyzerConfig struct {
	Scale         float64
	MinConfidence float64
	MaxCells      int
}

// Analyzer turns one PDF page into a PageResult. It holds no per-page state.
type Analyzer struct {
	renderer   Renderer
	detector   *cells.Detector
	engine     ocr.Engine
	classifier *allergen.Classifier
	cfg        AnalyzerConfig
	logger     *slog.Logger
}

func NewAnalyzer(r Renderer, d *cells.Detector, e ocr.Engine, c *allergen.Classifier, cfg AnalyzerConfig, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if d == nil {
		d = cells.New(cells.DefaultConfig())
	}
	if c == nil {
		c = allergen.NewClassifier()
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = ocr.DefaultMinConfidence
	}
	if cfg.MaxCells <= 0 {
		cfg.MaxCells = ocr.DefaultMaxCells
	}
	return &Analyzer{renderer: r, detector: d, engine: e, classifier: c, cfg: cfg, logger: logger}
}

// AnalyzePage renders and classifies one 1-based page of the PDF at docPath.
// Render errors fail the page; recognition errors only skip the affected cell.
func (a *Analyzer) AnalyzePage(ctx context.Context, docPath string, page int) (aggregate.PageResult, error) {
	start := time.Now()
	log := a.logger.With("page", page)

	bm, err := a.renderer.Render(ctx, docPath, page, a.cfg.Scale)
	if err != nil {
		return aggregate.PageResult{}, err
	}
	defer bm.Release()

	detected := a.detector.Detect(bm.Image)
	log.Debug("page.cells.ok", "method", detected.Method, "cells", len(detected.Cells))

	texts, err := a.recognizeCells(ctx, bm.Image, detected.Cells)
	if err != nil {
		return aggregate.PageResult{}, err
	}

	res := aggregate.PageResult{PageNumber: page, Method: detected.Method, CellCount: len(texts)}
	var table allergen.Table
	if len(texts) > 0 {
		table = a.classifier.ClassifyTable(texts)
		res.Rows = table.Rows
		res.Text = allergen.RowsText(texts)
		res.Confidence = meanConfidence(texts)
	} else {
		whole, err := a.engine.Recognize(ctx, bm.Image)
		switch {
		case err != nil:
			log.Warn("page.ocr.failed", "error", err)
		case ocr.Accept(whole, a.cfg.MinConfidence):
			res.Method = MethodPage
			res.CellCount = 1
			res.Text = whole.Text
			res.Confidence = whole.Confidence
		}
	}
	res.Classification = a.classifier.Classify(res.Text)
	if len(texts) > 0 {
		foldTable(&res.Classification, table)
	}

	log.Info("page.ocr.ok",
		"method", res.Method,
		"cells", res.CellCount,
		"rows", len(res.Rows),
		"found", len(res.Classification.Found),
		"confidence", res.Confidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// recognizeCells reads at most MaxCells cells from each detected row, so wide matrices keep
// all of their rows.
func (a *Analyzer) recognizeCells(ctx context.Context, img image.Image, detected []cells.Cell) ([]allergen.CellText, error) {
	perRow := map[int]int{}
	var out []allergen.CellText
	for _, c := range detected {
		if perRow[c.Row] >= a.cfg.MaxCells {
			continue
		}
		perRow[c.Row]++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := a.engine.Recognize(ctx, cells.Crop(img, c))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			a.logger.Debug("cell.ocr.failed", "row", c.Row, "col", c.Col, "error", err)
			continue
		}
		if !ocr.Accept(r, a.cfg.MinConfidence) {
			continue
		}
		out = append(out, allergen.CellText{
			Row:        c.Row,
			Col:        c.Col,
			Bounds:     c.Rect,
			Text:       r.Text,
			Confidence: r.Confidence,
		})
	}
	return out, nil
}

// foldTable merges row-level signals into the page's local signals and re-resolves the
// page presence. Row defaults never reach Local, and header-only mentions do not count as named.
func foldTable(c *allergen.Classification, t allergen.Table) {
	if c.Local == nil {
		c.Local = map[allergen.ID]constants.PresenceType{}
	}
	for _, r := range t.Rows {
		for id, p := range r.Local {
			if prev, ok := c.Local[id]; ok {
				p = constants.MoreSevere(prev, p)
			}
			c.Local[id] = p
		}
	}
	c.Named = t.Named
	c.Presence = allergen.ResolvePresence(c.Local, c.Named, c.Fragrance, c.Heated)
}

func meanConfidence(texts []allergen.CellText) float64 {
	var sum float64
	for _, t := range texts {
		sum += t.Confidence
	}
	return sum / float64(len(texts))
}

// PageError records a failed page in a result list so the document can still be consolidated.
func PageError(page int, err error) aggregate.PageResult {
	return aggregate.PageResult{PageNumber: page, Error: fmt.Sprint(err)}
}
