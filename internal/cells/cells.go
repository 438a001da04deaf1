// Package cells finds table cells on a rendered menu page.
package cells

import (
	"image"
	"sort"

	"github.com/disintegration/imaging"
)

const (
	MethodContour = "contour"
	MethodGrid    = "grid"
)

// Cell is one detected table cell in page pixel coordinates.
type Cell struct {
	Rect image.Rectangle `json:"rect"`
	Row  int             `json:"row"`
	Col  int             `json:"col"`
}

type Result struct {
	Cells  []Cell `json:"cells"`
	Method string `json:"method"`
}

type Config struct {
	Threshold    uint8 // foreground where luminance <= Threshold
	RowTolerance int
	MinArea      int // exclusive
	MinWidth     int // exclusive
	MinHeight    int // exclusive
	MaxCoverage  float64
	GridRows     int
	GridCols     int
}

// DefaultConfig is tuned for full-page allergy matrices rendered at 144 DPI.
func DefaultConfig() Config {
	return Config{
		Threshold:    150,
		RowTolerance: 20,
		MinArea:      100,
		MinWidth:     20,
		MinHeight:    10,
		MaxCoverage:  0.5,
		GridRows:     15,
		GridCols:     8,
	}
}

// BasicConfig uses the denser 20x10 grid fallback.
func BasicConfig() Config {
	c := DefaultConfig()
	c.GridRows, c.GridCols = 20, 10
	return c
}

const (
	PresetDefault = "default"
	PresetBasic   = "basic"
)

// Preset returns the named configuration. An empty name is the default preset.
func Preset(name string) (Config, bool) {
	switch name {
	case "", PresetDefault:
		return DefaultConfig(), true
	case PresetBasic:
		return BasicConfig(), true
	default:
		return Config{}, false
	}
}

type Detector struct {
	cfg Config
}

func New(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.Threshold == 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.RowTolerance <= 0 {
		cfg.RowTolerance = def.RowTolerance
	}
	if cfg.MinArea <= 0 {
		cfg.MinArea = def.MinArea
	}
	if cfg.MinWidth <= 0 {
		cfg.MinWidth = def.MinWidth
	}
	if cfg.MinHeight <= 0 {
		cfg.MinHeight = def.MinHeight
	}
	if cfg.MaxCoverage <= 0 {
		cfg.MaxCoverage = def.MaxCoverage
	}
	if cfg.GridRows <= 0 {
		cfg.GridRows = def.GridRows
	}
	if cfg.GridCols <= 0 {
		cfg.GridCols = def.GridCols
	}
	return &Detector{cfg: cfg}
}

// Detect returns cells ordered top-to-bottom, left-to-right.
// It never returns an empty result: without usable contours it falls back to a uniform grid.
func (d *Detector) Detect(img image.Image) Result {
	b := img.Bounds()
	if b.Empty() {
		return Result{Cells: Grid(b, d.cfg.GridRows, d.cfg.GridCols), Method: MethodGrid}
	}

	m := binarize(img, d.cfg.Threshold)
	m = m.dilate().erode()

	rects := d.filter(m.enclosedBackground(), b)
	if len(rects) == 0 {
		rects = d.filter(m.foregroundComponents(), b)
	}
	if len(rects) == 0 {
		return Result{Cells: Grid(b, d.cfg.GridRows, d.cfg.GridCols), Method: MethodGrid}
	}
	return Result{Cells: d.order(rects), Method: MethodContour}
}

func (d *Detector) filter(rects []image.Rectangle, bounds image.Rectangle) []image.Rectangle {
	maxArea := float64(bounds.Dx()*bounds.Dy()) * d.cfg.MaxCoverage
	var cand []image.Rectangle
	for _, r := range rects {
		w, h := r.Dx(), r.Dy()
		area := w * h
		if area <= d.cfg.MinArea || w <= d.cfg.MinWidth || h <= d.cfg.MinHeight {
			continue
		}
		if float64(area) > maxArea {
			continue
		}
		cand = append(cand, r)
	}

	sort.SliceStable(cand, func(i, j int) bool {
		return cand[i].Dx()*cand[i].Dy() > cand[j].Dx()*cand[j].Dy()
	})
	var kept []image.Rectangle
	for _, r := range cand {
		nested := false
		for _, k := range kept {
			if r.In(k) {
				nested = true
				break
			}
		}
		if !nested {
			kept = append(kept, r)
		}
	}
	return kept
}

// order bands rectangles into rows: a rectangle joins the current row when its top is within
// RowTolerance of the row's first top.
func (d *Detector) order(rects []image.Rectangle) []Cell {
	sort.SliceStable(rects, func(i, j int) bool {
		if rects[i].Min.Y != rects[j].Min.Y {
			return rects[i].Min.Y < rects[j].Min.Y
		}
		return rects[i].Min.X < rects[j].Min.X
	})

	var rows [][]image.Rectangle
	rowY := 0
	for _, r := range rects {
		if n := len(rows); n > 0 && abs(r.Min.Y-rowY) < d.cfg.RowTolerance {
			rows[n-1] = append(rows[n-1], r)
			continue
		}
		rows = append(rows, []image.Rectangle{r})
		rowY = r.Min.Y
	}

	cells := make([]Cell, 0, len(rects))
	for ri, row := range rows {
		sort.SliceStable(row, func(i, j int) bool { return row[i].Min.X < row[j].Min.X })
		for ci, r := range row {
			cells = append(cells, Cell{Rect: r, Row: ri, Col: ci})
		}
	}
	return cells
}

// Grid splits bounds into a uniform rows x cols grid.
func Grid(bounds image.Rectangle, rows, cols int) []Cell {
	if rows <= 0 {
		rows = 1
	}
	if cols <= 0 {
		cols = 1
	}
	w, h := bounds.Dx(), bounds.Dy()
	cells := make([]Cell, 0, rows*cols)
	for r := 0; r < rows; r++ {
		y0 := bounds.Min.Y + h*r/rows
		y1 := bounds.Min.Y + h*(r+1)/rows
		for c := 0; c < cols; c++ {
			x0 := bounds.Min.X + w*c/cols
			x1 := bounds.Min.X + w*(c+1)/cols
			cells = append(cells, Cell{Rect: image.Rect(x0, y0, x1, y1), Row: r, Col: c})
		}
	}
	return cells
}

// Crop returns the cell's pixels.
func Crop(img image.Image, c Cell) image.Image {
	return imaging.Crop(img, c.Rect)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
