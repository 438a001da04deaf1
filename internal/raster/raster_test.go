package raster

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/joseph-ayodele/allergy-extractor/internal/common"
	"github.com/joseph-ayodele/allergy-extractor/internal/core/runner"
)

func newTestRasterizer(pages int, r runner.Runner) *Rasterizer {
	rz := New(Config{}, r, nil)
	rz.pageCount = func(string) (int, error) { return pages, nil }
	return rz
}

func TestDPI(t *testing.T) {
	tests := []struct {
		scale float64
		want  int
	}{
		{2.0, 144},
		{1.5, 108},
		{0, 144},
		{3.0, 216},
	}
	for _, tt := range tests {
		if got := DPI(tt.scale); got != tt.want {
			t.Errorf("DPI(%v) = %d, want %d", tt.scale, got, tt.want)
		}
	}
}

func TestRasterizer_Render(t *testing.T) {
	var gotArgs []string
	stub := runner.Func(func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		gotArgs = args
		img := imaging.New(40, 30, color.White)
		return nil, nil, imaging.Save(img, args[len(args)-1]+".png")
	})
	rz := newTestRasterizer(3, stub)

	bm, err := rz.Render(context.Background(), "menu.pdf", 2, 0)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if bm.Image.Bounds() != image.Rect(0, 0, 40, 30) || bm.Page != 2 || bm.DPI != 144 {
		t.Errorf("unexpected bitmap: page=%d dpi=%d bounds=%v", bm.Page, bm.DPI, bm.Image.Bounds())
	}
	want := []string{"-f", "2", "-l", "2", "-r", "144", "-png", "-singlefile", "menu.pdf"}
	for i, a := range want {
		if gotArgs[i] != a {
			t.Fatalf("args = %v", gotArgs)
		}
	}

	dir := bm.dir
	bm.Release()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("temp dir not removed: %v", err)
	}
	bm.Release()
}

func TestRasterizer_Render_PageOutOfRange(t *testing.T) {
	rz := newTestRasterizer(2, runner.Func(func(context.Context, string, ...string) ([]byte, []byte, error) {
		t.Fatal("runner must not be called")
		return nil, nil, nil
	}))
	for _, page := range []int{0, 3} {
		if _, err := rz.Render(context.Background(), "menu.pdf", page, 2); !errors.Is(err, common.ErrPageOutOfRange) {
			t.Errorf("page %d: expected ErrPageOutOfRange, got %v", page, err)
		}
	}
}

func TestRasterizer_Render_Failure(t *testing.T) {
	rz := newTestRasterizer(1, runner.Func(func(context.Context, string, ...string) ([]byte, []byte, error) {
		return nil, []byte("Syntax Error"), errors.New("exit status 1")
	}))
	if _, err := rz.Render(context.Background(), "menu.pdf", 1, 2); !errors.Is(err, common.ErrRenderFailure) {
		t.Errorf("expected ErrRenderFailure, got %v", err)
	}
}
