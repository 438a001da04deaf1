package allergen

import (
	"image"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/joseph-ayodele/allergy-extractor/constants"
)

// CellText is recognized text for one detected table cell.
type CellText struct {
	Row        int             `json:"row"`
	Col        int             `json:"col"`
	Bounds     image.Rectangle `json:"bounds"`
	Text       string          `json:"text"`
	Confidence float64         `json:"confidence"`
}

// RowResult is one menu row recovered from table structure. Local holds only what the row's
// cells marked, explicit none included; Presence fills the remaining ids with page defaults.
type RowResult struct {
	Row        int                           `json:"row"`
	MenuName   string                        `json:"menu_name"`
	Presence   map[ID]constants.PresenceType `json:"allergies"`
	Local      map[ID]constants.PresenceType `json:"local,omitempty"`
	Bounds     image.Rectangle               `json:"cell_position"`
	Confidence float64                       `json:"confidence"`
}

// Table is the row view of one page's cells.
type Table struct {
	Rows      []RowResult
	// Named lists ids mentioned outside header rows, in vocabulary order.
	Named     []ID
	Fragrance bool
	Heated    bool
}

// header cells are short; longer text naming an allergen is an ingredient list.
const maxHeaderRunes = 12

// ClassifyRows pairs menu-name cells with annotation cells by table row.
func (c *Classifier) ClassifyRows(cells []CellText) []RowResult {
	return c.ClassifyTable(cells).Rows
}

// ClassifyTable classifies cells row by row. A row naming two or more allergens in separate
// short cells is a header; its columns map later cells to allergen ids. Header mentions
// alone do not make an allergen named.
func (c *Classifier) ClassifyTable(cells []CellText) Table {
	text := RowsText(cells)
	out := Table{
		Fragrance: reFragrance.MatchString(text),
		Heated:    reHeated.MatchString(text),
	}
	rows := groupRows(cells)
	columns := map[int]ID{}
	mentioned := map[ID]bool{}

	for _, row := range rows {
		if hdr := c.headerColumns(row); len(hdr) >= 2 {
			columns = hdr
			continue
		}
		for _, h := range c.hits(rowLine(row)) {
			mentioned[h.id] = true
		}

		menuIdx := -1
		for i, cell := range row {
			if _, mapped := columns[cell.Col]; mapped {
				continue
			}
			if isMenuCandidate(strings.TrimSpace(cell.Text)) && !isAnnotation(cell.Text) {
				menuIdx = i
				break
			}
		}
		if menuIdx < 0 {
			continue
		}

		named := map[ID]bool{}
		signals := newSignalSet()
		var rest []string
		for i, cell := range row {
			if i == menuIdx {
				continue
			}
			if id, mapped := columns[cell.Col]; mapped {
				if s, ok := segmentSignal(cell.Text, utf8.RuneError); ok {
					signals.add(id, s)
				}
				continue
			}
			rest = append(rest, strings.TrimSpace(cell.Text))
		}

		annotation := strings.Join(rest, " ")
		hits := c.hits(annotation)
		for _, h := range hits {
			named[h.id] = true
		}
		for id, s := range lineSignals(annotation, hits) {
			signals.add(id, s)
		}

		local := signals.resolve()
		presence := make(map[ID]constants.PresenceType, len(c.vocab))
		for _, a := range c.vocab {
			switch p, ok := local[a.ID]; {
			case ok:
				presence[a.ID] = p
			case named[a.ID]:
				presence[a.ID] = defaultPresence(true, out.Fragrance, out.Heated)
			default:
				presence[a.ID] = constants.PresenceNone
			}
		}

		out.Rows = append(out.Rows, RowResult{
			Row:        row[menuIdx].Row,
			MenuName:   strings.TrimSpace(row[menuIdx].Text),
			Presence:   presence,
			Local:      local,
			Bounds:     row[menuIdx].Bounds,
			Confidence: meanConfidence(row),
		})
	}

	for _, a := range c.vocab {
		if mentioned[a.ID] {
			out.Named = append(out.Named, a.ID)
		}
	}
	return out
}

func (c *Classifier) headerColumns(row []CellText) map[int]ID {
	cols := map[int]ID{}
	for _, cell := range row {
		text := strings.TrimSpace(cell.Text)
		if text == "" || utf8.RuneCountInString(text) > maxHeaderRunes {
			continue
		}
		var id ID
		distinct := 0
		for _, h := range c.hits(text) {
			if h.id != id {
				id = h.id
				distinct++
			}
		}
		if distinct == 1 {
			cols[cell.Col] = id
		}
	}
	return cols
}

func groupRows(cells []CellText) [][]CellText {
	sorted := make([]CellText, len(cells))
	copy(sorted, cells)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Row != sorted[j].Row {
			return sorted[i].Row < sorted[j].Row
		}
		return sorted[i].Col < sorted[j].Col
	})
	var rows [][]CellText
	for _, c := range sorted {
		if n := len(rows); n > 0 && rows[n-1][0].Row == c.Row {
			rows[n-1] = append(rows[n-1], c)
			continue
		}
		rows = append(rows, []CellText{c})
	}
	return rows
}

func meanConfidence(row []CellText) float64 {
	if len(row) == 0 {
		return 0
	}
	var sum float64
	for _, c := range row {
		sum += c.Confidence
	}
	return sum / float64(len(row))
}

// RowsText renders cells as one line per table row, cells separated by a space.
func RowsText(cells []CellText) string {
	var b strings.Builder
	for _, row := range groupRows(cells) {
		line := rowLine(row)
		if line == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return b.String()
}

func rowLine(row []CellText) string {
	parts := make([]string, 0, len(row))
	for _, c := range row {
		if t := strings.TrimSpace(c.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
