package export

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/allergy-extractor/internal/aggregate"
	"github.com/joseph-ayodele/allergy-extractor/internal/allergen"
	"github.com/joseph-ayodele/allergy-extractor/internal/entity"
)

const (
	sheetAllergens = "Allergens"
	sheetSummary   = "Summary"
)

// XLSXWriter produces workbooks for completed jobs.
type XLSXWriter struct {
	logger *slog.Logger
}

func NewXLSXWriter(logger *slog.Logger) *XLSXWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &XLSXWriter{logger: logger}
}

// ToXLSX returns a workbook with the CSV table on "Allergens" and the document summary on "Summary".
func (x *XLSXWriter) ToXLSX(extractions []*entity.Extraction, summary aggregate.Consolidated) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetAllergens); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(sheetSummary); err != nil {
		return nil, err
	}
	activeIndex, _ := f.GetSheetIndex(sheetAllergens)
	f.SetActiveSheet(activeIndex)

	writeRow(f, sheetAllergens, 1, Header())
	for i, e := range extractions {
		writeRow(f, sheetAllergens, i+2, Record(e))
	}
	last, _ := excelize.ColumnNumberToName(len(Header()))
	_ = f.SetColWidth(sheetAllergens, "A", "A", 32) // menu
	_ = f.SetColWidth(sheetAllergens, "B", "C", 12)
	_ = f.SetColWidth(sheetAllergens, "D", last, 11)
	_ = f.SetPanes(sheetAllergens, &excelize.Panes{
		Freeze: true, XSplit: 1, YSplit: 1, TopLeftCell: "B2", ActivePane: "bottomRight",
	})

	found := make([]string, 0, len(summary.Found))
	for _, id := range summary.Found {
		if a, ok := allergen.Lookup(id); ok {
			found = append(found, fmt.Sprintf("%s (%s)", a.Name, id))
		}
	}
	rows := [][]any{
		{"Confidence", fmt.Sprintf("%.2f", summary.Confidence)},
		{"Pages", len(summary.Pages)},
		{"Menu items", len(summary.MenuItems)},
		{"Found allergens", strings.Join(found, ", ")},
		{"Fragrance", summary.Fragrance},
		{"Heated", summary.Heated},
		{"Warnings", strings.Join(summary.Warnings, "\n")},
	}
	for i, r := range rows {
		for j, v := range r {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+1)
			_ = f.SetCellValue(sheetSummary, cell, v)
		}
	}
	_ = f.SetColWidth(sheetSummary, "A", "A", 18)
	_ = f.SetColWidth(sheetSummary, "B", "B", 80)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	x.logger.Info("export.xlsx.ok",
		"rows", len(extractions),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values []string) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}
