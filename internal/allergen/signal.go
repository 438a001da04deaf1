package allergen

import (
	"unicode/utf8"

	"github.com/joseph-ayodele/allergy-extractor/constants"
)

type signalKind int

const (
	kindKeyword signalKind = iota + 1
	kindSymbol
)

// signal is a presence inferred from text near an allergen name.
type signal struct {
	presence constants.PresenceType
	kind     signalKind
}

func symbolClass(r rune) (constants.PresenceType, bool) {
	switch r {
	case '●', '○', '◉':
		return constants.PresenceDirect, true
	case '△', '※':
		return constants.PresenceTrace, true
	case '－', '-', '−', '―':
		return constants.PresenceNone, true
	}
	return "", false
}

// segmentSignal reads a presence from the text that belongs to one allergen name.
// Symbols beat keywords; among symbols the most severe wins.
func segmentSignal(segment string, before rune) (signal, bool) {
	var sym constants.PresenceType
	seen := false
	scan := func(r rune) {
		if p, ok := symbolClass(r); ok {
			if !seen {
				sym, seen = p, true
				return
			}
			sym = constants.MoreSevere(sym, p)
		}
	}
	for _, r := range segment {
		scan(r)
	}
	if !seen && before != utf8.RuneError {
		scan(before)
	}
	if seen {
		return signal{presence: sym, kind: kindSymbol}, true
	}

	switch {
	case reKeywordContamination.MatchString(segment):
		return signal{presence: constants.PresenceContamination, kind: kindKeyword}, true
	case reKeywordNone.MatchString(segment):
		return signal{presence: constants.PresenceNone, kind: kindKeyword}, true
	case reKeywordDirect.MatchString(segment):
		return signal{presence: constants.PresenceDirect, kind: kindKeyword}, true
	}
	return signal{}, false
}

// lineSignals splits a line into per-allergen segments: each name owns the text after it
// up to the next name that starts past its end, plus a symbol glued directly before it.
func lineSignals(line string, hits []hit) map[ID]signal {
	out := map[ID]signal{}
	for i, h := range hits {
		next := len(line)
		for _, o := range hits[i+1:] {
			if o.start >= h.end {
				next = o.start
				break
			}
		}
		segment := line[h.end:next]
		before := utf8.RuneError
		if h.start > 0 {
			before, _ = utf8.DecodeLastRuneInString(line[:h.start])
		}
		s, ok := segmentSignal(segment, before)
		if !ok {
			continue
		}
		if prev, exists := out[h.id]; exists {
			s = merge(prev, s)
		}
		out[h.id] = s
	}
	return out
}

func merge(a, b signal) signal {
	if a.kind != b.kind {
		if a.kind > b.kind {
			return a
		}
		return b
	}
	return signal{presence: constants.MoreSevere(a.presence, b.presence), kind: a.kind}
}

type signalSet struct {
	m map[ID]signal
}

func newSignalSet() *signalSet { return &signalSet{m: map[ID]signal{}} }

func (s *signalSet) add(id ID, sig signal) {
	if prev, ok := s.m[id]; ok {
		sig = merge(prev, sig)
	}
	s.m[id] = sig
}

func (s *signalSet) resolve() map[ID]constants.PresenceType {
	out := make(map[ID]constants.PresenceType, len(s.m))
	for id, sig := range s.m {
		out[id] = sig.presence
	}
	return out
}
