package constants

import (
	"strings"
)

// PresenceType describes how an allergen appears in a menu item.
type PresenceType string

const (
	PresenceNone          PresenceType = "none"
	PresenceDirect        PresenceType = "direct"
	PresenceTrace         PresenceType = "trace"
	PresenceContamination PresenceType = "contamination"
	PresenceHeated        PresenceType = "heated"
)

var allPresenceTypes = []PresenceType{
	PresenceNone,
	PresenceDirect,
	PresenceTrace,
	PresenceContamination,
	PresenceHeated,
}

// Severity orders presence types: direct > heated > trace/contamination > none.
func (p PresenceType) Severity() int {
	switch p {
	case PresenceDirect:
		return 3
	case PresenceHeated:
		return 2
	case PresenceTrace, PresenceContamination:
		return 1
	default:
		return 0
	}
}

// Token is the CSV cell value. Contamination is a trace-severity variant.
func (p PresenceType) Token() string {
	switch p {
	case PresenceDirect, PresenceTrace, PresenceHeated:
		return string(p)
	case PresenceContamination:
		return string(PresenceTrace)
	default:
		return string(PresenceNone)
	}
}

// MoreSevere returns whichever of a and b ranks higher; a wins ties.
func MoreSevere(a, b PresenceType) PresenceType {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

func PresenceTypesAsStrings() []string {
	result := make([]string, len(allPresenceTypes))
	for i, p := range allPresenceTypes {
		result[i] = string(p)
	}
	return result
}

// CanonicalizePresence maps reviewer input (English or Japanese labels) to a PresenceType.
func CanonicalizePresence(input string) (PresenceType, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return PresenceNone, false
	}

	synonyms := map[string]PresenceType{
		"processed": PresenceHeated,
		"fragrance": PresenceTrace,
		"含有": PresenceDirect,
		"ふくむ": PresenceDirect,
		"直接含有": PresenceDirect,
		"コンタミ": PresenceContamination,
		"香料": PresenceTrace,
		"加熱済み": PresenceHeated,
		"ふくまない": PresenceNone,
		"なし": PresenceNone,
	}
	if p, ok := synonyms[normalized]; ok {
		return p, true
	}

	for _, p := range allPresenceTypes {
		if normalized == string(p) {
			return p, true
		}
	}
	return PresenceNone, false
}

// AmountLevel is the reviewer-facing quantity hint attached to a review row.
type AmountLevel string

const (
	AmountUnknown AmountLevel = "unknown"
	AmountHigh    AmountLevel = "high"
	AmountMedium  AmountLevel = "medium"
	AmountLow     AmountLevel = "low"
	AmountTrace   AmountLevel = "trace"
)

func AmountLevelsAsStrings() []string {
	return []string{
		string(AmountUnknown),
		string(AmountHigh),
		string(AmountMedium),
		string(AmountLow),
		string(AmountTrace),
	}
}
