package export

import (
	"github.com/joseph-ayodele/allergy-extractor/constants"
	"github.com/joseph-ayodele/allergy-extractor/internal/aggregate"
	"github.com/joseph-ayodele/allergy-extractor/internal/allergen"
	"github.com/joseph-ayodele/allergy-extractor/internal/entity"
)

const (
	NoteFragrance     = "[fragrance]"
	NoteHeated        = "[processed_as_heated]"
	NoteContamination = "[contamination]"
)

// ToReviewRows turns the document presence into editable rows, one per allergen that is not none,
// in vocabulary order.
func ToReviewRows(c aggregate.Consolidated) []entity.ReviewRow {
	var rows []entity.ReviewRow
	for _, id := range allergen.IDs() {
		p, ok := c.Presence[id]
		if !ok || p == constants.PresenceNone {
			continue
		}
		row := entity.ReviewRow{
			AllergenID:   string(id),
			PresenceType: p,
			AmountLevel:  constants.AmountUnknown,
		}
		if p == constants.PresenceTrace || p == constants.PresenceContamination {
			row.AmountLevel = constants.AmountTrace
		}

		_, local := c.Local[id]
		switch {
		case p == constants.PresenceContamination:
			row.Notes = NoteContamination
		case !local && c.Fragrance && p == constants.PresenceTrace:
			row.Notes = NoteFragrance
		case !local && c.Heated && p == constants.PresenceHeated:
			row.Notes = NoteHeated
		}
		rows = append(rows, row)
	}
	return rows
}
