package aggregate

import (
	"reflect"
	"testing"

	"github.com/joseph-ayodele/allergy-extractor/constants"
	"github.com/joseph-ayodele/allergy-extractor/internal/allergen"
)

func page(n int, text string, conf float64, cells int) PageResult {
	return PageResult{
		PageNumber:     n,
		Text:           text,
		Confidence:     conf,
		CellCount:      cells,
		Classification: allergen.NewClassifier().Classify(text),
	}
}

func TestConsolidate_OrderIndependent(t *testing.T) {
	p1 := page(1, "ハンバーグ定食\n原材料：卵●、乳△", 80, 12)
	p2 := page(2, "ハンバーグ定食\n原材料：乳●\nご注意ください", 60, 8)
	p3 := page(3, "", 0, 0)
	p3.Error = "page render failed"

	a := Consolidate([]PageResult{p1, p2, p3})
	b := Consolidate([]PageResult{p3, p2, p1})
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("result depends on input order:\n%+v\n%+v", a, b)
	}

	if want := []allergen.ID{allergen.Egg, allergen.Milk}; !reflect.DeepEqual(a.Found, want) {
		t.Errorf("found = %v, want %v", a.Found, want)
	}
	if a.Confidence != 70 {
		t.Errorf("confidence = %v, want 70", a.Confidence)
	}
	if a.Presence[allergen.Milk] != constants.PresenceDirect || a.Presence[allergen.Egg] != constants.PresenceDirect {
		t.Errorf("presence = %v", a.Presence)
	}
	if len(a.MenuAllergies) != 1 || a.MenuAllergies[0].Presence[allergen.Milk] != constants.PresenceDirect {
		t.Errorf("menu allergies = %+v", a.MenuAllergies)
	}
	if !reflect.DeepEqual(a.Warnings, []string{"ご注意ください"}) {
		t.Errorf("warnings = %v", a.Warnings)
	}
	for _, d := range a.Details {
		if d.ID == allergen.Milk && !reflect.DeepEqual(d.Pages, []int{1, 2}) {
			t.Errorf("milk pages = %v", d.Pages)
		}
	}
	if !reflect.DeepEqual(a.Pages, []int{1, 2, 3}) {
		t.Errorf("pages = %v", a.Pages)
	}
}

func TestConsolidate_FlagsAreOred(t *testing.T) {
	got := Consolidate([]PageResult{
		page(1, "香料", 50, 1),
		page(2, "卵：－", 50, 1),
	})
	if !got.Fragrance {
		t.Fatal("fragrance flag lost")
	}
	if got.Presence[allergen.Egg] != constants.PresenceNone {
		t.Errorf("local signal must win over defaults, got %s", got.Presence[allergen.Egg])
	}
	if got.Presence[allergen.Milk] != constants.PresenceTrace {
		t.Errorf("undecided ids default to trace with fragrance, got %s", got.Presence[allergen.Milk])
	}
}

func TestConsolidate_NoUsablePages(t *testing.T) {
	got := Consolidate(nil)
	if got.Confidence != 0 || len(got.Found) != 0 || len(got.Presence) != 28 {
		t.Errorf("unexpected empty consolidation: %+v", got)
	}
}
