package cells

import (
	"image"
	"image/color"
	"image/draw"
	"testing"
)

func whitePage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	return img
}

func fill(img *image.RGBA, r image.Rectangle) {
	draw.Draw(img, r, image.NewUniform(color.Black), image.Point{}, draw.Src)
}

// ruledTable draws a rows x cols table of 100px cells with 2px rules, offset 10px from the edge.
func ruledTable(rows, cols int) *image.RGBA {
	img := whitePage(cols*100+20, rows*100+20)
	right, bottom := 10+cols*100+2, 10+rows*100+2
	for r := 0; r <= rows; r++ {
		y := 10 + r*100
		fill(img, image.Rect(10, y, right, y+2))
	}
	for c := 0; c <= cols; c++ {
		x := 10 + c*100
		fill(img, image.Rect(x, 10, x+2, bottom))
	}
	return img
}

func TestDetector_Detect_RuledTable(t *testing.T) {
	d := New(DefaultConfig())
	res := d.Detect(ruledTable(2, 3))

	if res.Method != MethodContour {
		t.Fatalf("method = %s", res.Method)
	}
	if len(res.Cells) != 6 {
		t.Fatalf("expected 6 cells, got %d: %+v", len(res.Cells), res.Cells)
	}
	for i, c := range res.Cells {
		wantRow, wantCol := i/3, i%3
		if c.Row != wantRow || c.Col != wantCol {
			t.Errorf("cell %d at (%d,%d), want (%d,%d)", i, c.Row, c.Col, wantRow, wantCol)
		}
		want := image.Rect(12+wantCol*100, 12+wantRow*100, 110+wantCol*100, 110+wantRow*100)
		if c.Rect != want {
			t.Errorf("cell %d rect = %v, want %v", i, c.Rect, want)
		}
	}
}

func TestDetector_Detect_DropsNestedRegions(t *testing.T) {
	img := ruledTable(1, 2)
	// a ring inside the first cell encloses its own background hole
	fill(img, image.Rect(30, 30, 80, 32))
	fill(img, image.Rect(30, 60, 80, 62))
	fill(img, image.Rect(30, 30, 32, 62))
	fill(img, image.Rect(78, 30, 80, 62))

	res := New(DefaultConfig()).Detect(img)
	if len(res.Cells) != 2 {
		t.Fatalf("expected 2 cells, got %d: %+v", len(res.Cells), res.Cells)
	}
}

func TestDetector_Detect_ForegroundBlocks(t *testing.T) {
	img := whitePage(300, 200)
	fill(img, image.Rect(120, 22, 170, 42))
	fill(img, image.Rect(20, 20, 70, 40))
	fill(img, image.Rect(20, 100, 70, 120))

	res := New(DefaultConfig()).Detect(img)
	if res.Method != MethodContour || len(res.Cells) != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Cells[0].Rect.Min.X != 20 || res.Cells[1].Rect.Min.X != 120 || res.Cells[1].Row != 0 || res.Cells[2].Row != 1 {
		t.Errorf("unexpected ordering: %+v", res.Cells)
	}
}

func TestDetector_Detect_GridFallback(t *testing.T) {
	tests := []struct {
		preset string
		want   int
	}{
		{preset: "", want: 15 * 8},
		{preset: PresetDefault, want: 15 * 8},
		{preset: PresetBasic, want: 20 * 10},
	}
	for _, tt := range tests {
		t.Run("preset="+tt.preset, func(t *testing.T) {
			cfg, ok := Preset(tt.preset)
			if !ok {
				t.Fatalf("preset %q not found", tt.preset)
			}
			res := New(cfg).Detect(whitePage(400, 600))
			if res.Method != MethodGrid || len(res.Cells) != tt.want {
				t.Fatalf("got %s with %d cells", res.Method, len(res.Cells))
			}
			again := New(cfg).Detect(whitePage(400, 600))
			for i := range res.Cells {
				if res.Cells[i] != again.Cells[i] {
					t.Fatalf("grid is not deterministic at %d", i)
				}
			}
		})
	}
}

func TestPreset_Unknown(t *testing.T) {
	if _, ok := Preset("dense"); ok {
		t.Error("unknown preset must not resolve")
	}
}

func TestGrid_CoversBounds(t *testing.T) {
	b := image.Rect(0, 0, 101, 53)
	cells := Grid(b, 3, 4)
	if len(cells) != 12 {
		t.Fatalf("got %d cells", len(cells))
	}
	last := cells[len(cells)-1]
	if last.Rect.Max != b.Max || last.Row != 2 || last.Col != 3 {
		t.Errorf("last cell = %+v", last)
	}
}
