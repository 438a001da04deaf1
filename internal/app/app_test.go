package app

import (
	"testing"

	"github.com/joseph-ayodele/allergy-extractor/internal/common"
)

func TestDetectorConfig(t *testing.T) {
	tests := []struct {
		name          string
		in            common.CellsConfig
		rows, cols    int
		wantTolerance int
	}{
		{name: "default preset", in: common.CellsConfig{GridPreset: "default"}, rows: 15, cols: 8, wantTolerance: 20},
		{name: "basic preset", in: common.CellsConfig{GridPreset: "basic"}, rows: 20, cols: 10, wantTolerance: 20},
		{name: "overrides win", in: common.CellsConfig{GridPreset: "basic", GridRows: 30, RowTolerance: 12}, rows: 30, cols: 10, wantTolerance: 12},
		{name: "unknown preset falls back", in: common.CellsConfig{GridPreset: "dense"}, rows: 15, cols: 8, wantTolerance: 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectorConfig(tt.in)
			if got.GridRows != tt.rows || got.GridCols != tt.cols || got.RowTolerance != tt.wantTolerance {
				t.Errorf("got %dx%d tolerance %d", got.GridRows, got.GridCols, got.RowTolerance)
			}
		})
	}
}
