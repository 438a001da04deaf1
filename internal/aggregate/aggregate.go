// Package aggregate merges per-page classification results into one document record.
package aggregate

import (
	"sort"

	"github.com/joseph-ayodele/allergy-extractor/constants"
	"github.com/joseph-ayodele/allergy-extractor/internal/allergen"
)

// PageResult is what one processed page contributes. It is also the page's stored JSON.
type PageResult struct {
	PageNumber     int                     `json:"page_number"`
	Method         string                  `json:"method,omitempty"`
	CellCount      int                     `json:"cell_count"`
	Text           string                  `json:"text"`
	Confidence     float64                 `json:"confidence"`
	Classification allergen.Classification `json:"classification"`
	Rows           []allergen.RowResult    `json:"rows,omitempty"`
	Error          string                  `json:"error,omitempty"`
}

// Usable reports whether the page contributes to the document confidence.
func (p PageResult) Usable() bool {
	return p.Error == "" && p.CellCount > 0
}

type Detail struct {
	ID      allergen.ID `json:"allergen_id"`
	Matches []string    `json:"matches"`
	Context []string    `json:"context"`
	Pages   []int       `json:"pages"`
}

// Consolidated is the document-level view over all pages.
type Consolidated struct {
	Found         []allergen.ID                          `json:"found_allergies"`
	Presence      map[allergen.ID]constants.PresenceType `json:"presence"`
	Local         map[allergen.ID]constants.PresenceType `json:"local"`
	MenuItems     []string                               `json:"menu_items"`
	MenuAllergies []allergen.MenuAllergy                 `json:"menu_allergies"`
	Warnings      []string                               `json:"warnings"`
	Details       []Detail                               `json:"details"`
	Fragrance     bool                                   `json:"fragrance"`
	Heated        bool                                   `json:"heated"`
	Confidence    float64                                `json:"confidence"`
	Pages         []int                                  `json:"pages"`
}

// Consolidate merges page results. Pages are processed in page-number order, so the output
// does not depend on the order results arrive in.
func Consolidate(results []PageResult) Consolidated {
	pages := make([]PageResult, len(results))
	copy(pages, results)
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].PageNumber < pages[j].PageNumber })

	var (
		out     = Consolidated{Local: map[allergen.ID]constants.PresenceType{}}
		found   = map[allergen.ID]bool{}
		named   = map[allergen.ID]bool{}
		details = map[allergen.ID]*Detail{}
		menus   = map[string]map[allergen.ID]constants.PresenceType{}
		order   []string
		confSum float64
		confN   int
	)

	for _, p := range pages {
		out.Pages = append(out.Pages, p.PageNumber)
		c := p.Classification
		out.Fragrance = out.Fragrance || c.Fragrance
		out.Heated = out.Heated || c.Heated

		for _, id := range c.Found {
			found[id] = true
		}
		for _, id := range c.Named {
			named[id] = true
		}
		for _, d := range c.Details {
			agg := details[d.ID]
			if agg == nil {
				agg = &Detail{ID: d.ID}
				details[d.ID] = agg
			}
			for _, m := range d.Matches {
				agg.Matches = appendUnique(agg.Matches, m)
			}
			for _, ctx := range d.Context {
				agg.Context = appendUnique(agg.Context, ctx)
			}
			agg.Pages = appendUniqueInt(agg.Pages, p.PageNumber)
		}
		for id, pt := range c.Local {
			if prev, ok := out.Local[id]; ok {
				pt = constants.MoreSevere(prev, pt)
			}
			out.Local[id] = pt
		}
		for _, item := range c.MenuItems {
			out.MenuItems = appendUnique(out.MenuItems, item)
		}
		for _, m := range c.MenuAllergies {
			merged, ok := menus[m.Name]
			if !ok {
				merged = map[allergen.ID]constants.PresenceType{}
				menus[m.Name] = merged
				order = append(order, m.Name)
			}
			for id, pt := range m.Presence {
				if prev, ok := merged[id]; ok {
					pt = constants.MoreSevere(prev, pt)
				}
				merged[id] = pt
			}
		}
		for _, w := range c.Warnings {
			out.Warnings = appendUnique(out.Warnings, w)
		}
		if p.Usable() {
			confSum += p.Confidence
			confN++
		}
	}

	var namedIDs []allergen.ID
	for _, a := range allergen.All() {
		if found[a.ID] {
			out.Found = append(out.Found, a.ID)
		}
		if named[a.ID] {
			namedIDs = append(namedIDs, a.ID)
		}
		if d := details[a.ID]; d != nil {
			sort.Ints(d.Pages)
			out.Details = append(out.Details, *d)
		}
	}
	for _, name := range order {
		out.MenuAllergies = append(out.MenuAllergies, allergen.MenuAllergy{Name: name, Presence: menus[name]})
	}
	out.Presence = allergen.ResolvePresence(out.Local, namedIDs, out.Fragrance, out.Heated)
	if confN > 0 {
		out.Confidence = confSum / float64(confN)
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func appendUniqueInt(list []int, v int) []int {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
