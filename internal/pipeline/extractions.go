package pipeline

import (
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/allergy-extractor/internal/aggregate"
	"github.com/joseph-ayodele/allergy-extractor/internal/entity"
)

const minMenuNameRunes = 3

// Extractions converts a page result into extraction records. Table rows are preferred;
// a page recognized as plain text falls back to its menu/annotation pairs.
func Extractions(jobID uuid.UUID, res aggregate.PageResult) []*entity.Extraction {
	var out []*entity.Extraction
	for _, row := range res.Rows {
		if utf8.RuneCountInString(row.MenuName) < minMenuNameRunes {
			continue
		}
		e := &entity.Extraction{
			JobID:           jobID,
			PageNumber:      res.PageNumber,
			MenuName:        row.MenuName,
			Allergies:       row.Presence,
			ConfidenceScore: row.Confidence,
		}
		if !row.Bounds.Empty() {
			e.CellPosition = &entity.CellPosition{
				X:      row.Bounds.Min.X,
				Y:      row.Bounds.Min.Y,
				Width:  row.Bounds.Dx(),
				Height: row.Bounds.Dy(),
				Row:    row.Row,
			}
		}
		out = append(out, e)
	}
	if len(out) > 0 || len(res.Rows) > 0 {
		return out
	}

	for _, m := range res.Classification.MenuAllergies {
		out = append(out, &entity.Extraction{
			JobID:           jobID,
			PageNumber:      res.PageNumber,
			MenuName:        m.Name,
			Allergies:       m.Presence,
			ConfidenceScore: res.Confidence,
		})
	}
	return out
}
