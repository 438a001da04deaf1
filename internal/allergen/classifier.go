package allergen

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/joseph-ayodele/allergy-extractor/constants"
)

// Detail keeps the evidence behind one found allergen.
type Detail struct {
	ID      ID       `json:"allergen_id"`
	Matches []string `json:"matches"`
	Context []string `json:"context"`
}

// MenuAllergy is the presence map inferred for one menu item.
type MenuAllergy struct {
	Name     string                        `json:"name"`
	Presence map[ID]constants.PresenceType `json:"allergies"`
}

// Classification is the result of scanning one text.
type Classification struct {
	Found         []ID                          `json:"found_allergies"`
	Presence      map[ID]constants.PresenceType `json:"presence"`
	Local         map[ID]constants.PresenceType `json:"local,omitempty"`
	Named         []ID                          `json:"named,omitempty"` // drives the direct default
	MenuItems     []string                      `json:"menu_items"`
	MenuAllergies []MenuAllergy                 `json:"menu_allergies"`
	Warnings      []string                      `json:"warnings"`
	Details       []Detail                      `json:"details"`
	Fragrance     bool                          `json:"fragrance"`
	Heated        bool                          `json:"heated"`
}

const (
	minMenuRunes = 3
	maxMenuRunes = 50 // exclusive
)

var (
	reFragrance = regexp.MustCompile(`香料`)
	reHeated    = regexp.MustCompile(`加工品|加熱済|加熱|焼成|ボイル|揚げ|フライ|炒め|蒸し|レトルト|殺菌`)

	reKeywordContamination = regexp.MustCompile(`コンタミ|混入`)
	reKeywordNone          = regexp.MustCompile(`なし|無`)
	reKeywordDirect        = regexp.MustCompile(`含有|あり|入`)

	warningPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)注意|ご注意|WARNING|CAUTION`),
		regexp.MustCompile(`製造.*同じ.*設備`),
		regexp.MustCompile(`コンタミネーション`),
		regexp.MustCompile(`(?i)cross.?contamination`),
	}
)

// Classifier scans recognized text against the allergen vocabulary.
// It holds no mutable state; one instance can be shared by all workers.
type Classifier struct {
	vocab []Allergen
}

func NewClassifier() *Classifier {
	return &Classifier{vocab: All()}
}

// Classify extracts found allergens, presence types, menu items and warnings from text.
func (c *Classifier) Classify(text string) Classification {
	lines := splitLines(text)

	out := Classification{
		Fragrance: reFragrance.MatchString(text),
		Heated:    reHeated.MatchString(text),
	}

	found := map[ID]bool{}
	acc := newSignalSet()
	details := map[ID]*Detail{}

	for _, line := range lines {
		hits := c.hits(line)
		for _, h := range hits {
			found[h.id] = true
			d := details[h.id]
			if d == nil {
				d = &Detail{ID: h.id}
				details[h.id] = d
			}
			d.Matches = appendUnique(d.Matches, line[h.start:h.end])
			d.Context = appendUnique(d.Context, line)
		}
		for id, s := range lineSignals(line, hits) {
			acc.add(id, s)
		}
	}

	for _, a := range c.vocab {
		if found[a.ID] {
			out.Found = append(out.Found, a.ID)
			out.Details = append(out.Details, *details[a.ID])
		}
	}
	out.Named = append([]ID(nil), out.Found...)
	out.Local = acc.resolve()
	out.Presence = ResolvePresence(out.Local, out.Named, out.Fragrance, out.Heated)
	out.MenuItems, out.MenuAllergies = c.menus(lines, out.Fragrance, out.Heated)
	out.Warnings = extractWarnings(lines)
	return out
}

// ResolvePresence applies the document-level defaults to every id without a local signal:
// fragrance -> trace, heating words -> heated, otherwise direct if named, else none.
func ResolvePresence(local map[ID]constants.PresenceType, namedIDs []ID, fragrance, heated bool) map[ID]constants.PresenceType {
	named := make(map[ID]bool, len(namedIDs))
	for _, id := range namedIDs {
		named[id] = true
	}
	out := make(map[ID]constants.PresenceType, len(vocabulary))
	for _, a := range vocabulary {
		if p, ok := local[a.ID]; ok {
			out[a.ID] = p
			continue
		}
		out[a.ID] = defaultPresence(named[a.ID], fragrance, heated)
	}
	return out
}

func defaultPresence(named, fragrance, heated bool) constants.PresenceType {
	switch {
	case fragrance:
		return constants.PresenceTrace
	case heated:
		return constants.PresenceHeated
	case named:
		return constants.PresenceDirect
	default:
		return constants.PresenceNone
	}
}

// menus pairs candidate menu names with the annotation lines that follow them.
func (c *Classifier) menus(lines []string, fragrance, heated bool) ([]string, []MenuAllergy) {
	var items []string
	var menus []MenuAllergy
	var current *menuState
	var states []*menuState

	for _, line := range lines {
		if isAnnotation(line) {
			if current == nil {
				continue
			}
			hits := c.hits(line)
			for _, h := range hits {
				current.named[h.id] = true
			}
			for id, s := range lineSignals(line, hits) {
				current.signals.add(id, s)
			}
			continue
		}
		if !isMenuCandidate(line) {
			continue
		}
		items = appendUnique(items, line)
		current = &menuState{name: line, named: map[ID]bool{}, signals: newSignalSet()}
		states = append(states, current)
	}

	for _, st := range states {
		if len(st.named) == 0 {
			continue
		}
		local := st.signals.resolve()
		presence := make(map[ID]constants.PresenceType, len(st.named))
		for id := range st.named {
			if p, ok := local[id]; ok {
				presence[id] = p
			} else {
				presence[id] = defaultPresence(true, fragrance, heated)
			}
		}
		menus = append(menus, MenuAllergy{Name: st.name, Presence: presence})
	}
	return items, menus
}

type menuState struct {
	name    string
	named   map[ID]bool
	signals *signalSet
}

func isAnnotation(line string) bool {
	return strings.ContainsAny(line, "：:")
}

func isMenuCandidate(line string) bool {
	n := utf8.RuneCountInString(line)
	return n >= minMenuRunes && n < maxMenuRunes && !isSymbolsOnly(line)
}

func isSymbolsOnly(s string) bool {
	for _, r := range s {
		if r == ' ' || r == '　' {
			continue
		}
		if _, ok := symbolClass(r); !ok {
			return false
		}
	}
	return true
}

func extractWarnings(lines []string) []string {
	var out []string
	for _, line := range lines {
		for _, re := range warningPatterns {
			if re.MatchString(line) {
				out = appendUnique(out, line)
				break
			}
		}
	}
	return out
}

// hit is one allergen-name match within a line (byte offsets).
type hit struct {
	id         ID
	start, end int
}

func (c *Classifier) hits(line string) []hit {
	var hs []hit
	for _, a := range c.vocab {
		for _, loc := range a.Pattern.FindAllStringIndex(line, -1) {
			hs = append(hs, hit{id: a.ID, start: loc[0], end: loc[1]})
		}
	}
	sort.SliceStable(hs, func(i, j int) bool { return hs[i].start < hs[j].start })
	return hs
}

func splitLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
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
