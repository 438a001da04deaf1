package ocr

import (
	"strconv"
	"strings"
	"unicode"
)

// tesseract TSV columns
const (
	colLevel = 0
	colBlock = 2
	colPar   = 3
	colLine  = 4
	colConf  = 10
	colText  = 11

	levelWord = 5
)

// ParseTSV rebuilds text and mean word confidence from tesseract TSV output.
// Words on a line are joined with a space unless either side is CJK; lines are joined by newline.
func ParseTSV(out []byte) Result {
	var (
		lines    []string
		cur      strings.Builder
		lineKey  string
		lastRune rune
		sum      float64
		n        int
	)
	flush := func() {
		if cur.Len() > 0 {
			lines = append(lines, cur.String())
			cur.Reset()
		}
		lastRune = 0
	}

	for i, ln := range strings.Split(string(out), "\n") {
		if i == 0 || ln == "" {
			continue // header
		}
		cols := strings.Split(strings.TrimRight(ln, "\r"), "\t")
		if len(cols) <= colText {
			continue
		}
		if level, err := strconv.Atoi(cols[colLevel]); err != nil || level != levelWord {
			continue
		}
		word := strings.TrimSpace(cols[colText])
		if word == "" {
			continue
		}
		if conf, err := strconv.ParseFloat(cols[colConf], 64); err == nil && conf >= 0 {
			sum += conf
			n++
		}

		key := cols[colBlock] + "/" + cols[colPar] + "/" + cols[colLine]
		if key != lineKey {
			flush()
			lineKey = key
		}
		first := []rune(word)[0]
		if cur.Len() > 0 && !isCJK(lastRune) && !isCJK(first) {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
		r := []rune(word)
		lastRune = r[len(r)-1]
	}
	flush()

	res := Result{Text: strings.Join(lines, "\n")}
	if n > 0 {
		res.Confidence = sum / float64(n)
	}
	return res
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana) ||
		(r >= 0x3000 && r <= 0x303F) || // CJK punctuation
		(r >= 0xFF00 && r <= 0xFFEF) || // full-width forms
		r == 'ー'
}
