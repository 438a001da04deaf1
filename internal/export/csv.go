// Package export renders extraction results as CSV, XLSX and review drafts.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/joseph-ayodele/allergy-extractor/constants"
	"github.com/joseph-ayodele/allergy-extractor/internal/allergen"
	"github.com/joseph-ayodele/allergy-extractor/internal/entity"
)

// Header returns the CSV header: menu_name, page_number, confidence and one column per allergen id.
func Header() []string {
	ids := allergen.IDs()
	h := make([]string, 0, 3+len(ids))
	h = append(h, "menu_name", "page_number", "confidence")
	for _, id := range ids {
		h = append(h, string(id))
	}
	return h
}

// Record flattens one extraction into a CSV row. Ids missing from the extraction are "none".
func Record(e *entity.Extraction) []string {
	ids := allergen.IDs()
	rec := make([]string, 0, 3+len(ids))
	rec = append(rec,
		e.MenuName,
		strconv.Itoa(e.PageNumber),
		strconv.FormatFloat(e.ConfidenceScore, 'f', 2, 64),
	)
	for _, id := range ids {
		p, ok := e.Allergies[id]
		if !ok {
			p = constants.PresenceNone
		}
		rec = append(rec, p.Token())
	}
	return rec
}

// ToCSV writes the extractions in the given order, one row each.
func ToCSV(extractions []*entity.Extraction) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Header()); err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}
	for _, e := range extractions {
		if err := w.Write(Record(e)); err != nil {
			return nil, fmt.Errorf("csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("csv flush: %w", err)
	}
	return buf.Bytes(), nil
}
