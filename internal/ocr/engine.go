package ocr

import (
	"context"
	"image"
)

const (
	DefaultLanguages     = "jpn+eng"
	DefaultMinConfidence = 30.0
	DefaultMaxCells      = 50 // per table row
)

// Result is recognized text with a 0..100 confidence.
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Engine recognizes text in one image region.
type Engine interface {
	Recognize(ctx context.Context, img image.Image) (Result, error)
}

// Accept reports whether a result is usable: non-empty text above the confidence threshold.
func Accept(r Result, threshold float64) bool {
	return r.Text != "" && r.Confidence > threshold
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, img image.Image) (Result, error)

func (f EngineFunc) Recognize(ctx context.Context, img image.Image) (Result, error) {
	return f(ctx, img)
}
