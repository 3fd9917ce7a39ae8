// Package text holds the offset preserving text helpers shared by the annotators,
// the relation proposer and the resolver. Offsets are byte offsets into UTF-8 text.
package text

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Span is a half-open byte range [Start, End).
type Span struct {
	Start int
	End   int
}

// Contains reports whether the range [start, end) lies inside s.
func (s Span) Contains(start, end int) bool {
	return start >= s.Start && end <= s.End
}

var abbreviations = map[string]struct{}{
	"e.g": {}, "i.e": {}, "et al": {}, "al": {}, "vs": {}, "fig": {}, "figs": {}, "eq": {},
	"approx": {}, "ca": {}, "cf": {}, "dr": {}, "sp": {}, "spp": {}, "resp": {},
}

// Sentences splits text into sentence spans. A sentence ends at '.', '!' or '?' followed by
// whitespace or the end of text, or at a blank line. Numeric listings ("1. "), single letter
// initials ("E. coli") and common abbreviations do not end a sentence. Trailing quotes and
// closing brackets stay with the sentence they close.
func Sentences(text string) []Span {
	var spans []Span
	start := 0
	emit := func(end int) {
		if s, ok := trimSpan(text, start, end); ok {
			spans = append(spans, s)
		}
		start = end
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == '\n' && blankLineFollows(text, i) {
			emit(i)
			continue
		}
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		j := i + 1
		for j < len(text) && (text[j] == '.' || text[j] == '!' || text[j] == '?') {
			j++
		}
		for j < len(text) && strings.IndexByte("\"')]}", text[j]) >= 0 {
			j++
		}
		if j < len(text) && !isSpaceByte(text[j]) {
			i = j - 1
			continue
		}
		if c == '.' && j == i+1 && !endsSentence(text, start, i) {
			continue
		}
		emit(j)
		i = j - 1
	}
	emit(len(text))
	return spans
}

func endsSentence(text string, sentenceStart, dot int) bool {
	k := dot
	for k > sentenceStart {
		r, size := utf8.DecodeLastRuneInString(text[:k])
		if unicode.IsSpace(r) {
			break
		}
		k -= size
	}
	word := text[k:dot]
	if word == "" {
		return true
	}
	if allDigits(word) {
		// "1. " starts a listing item unless it follows other words.
		return strings.TrimSpace(text[sentenceStart:k]) != ""
	}
	if utf8.RuneCountInString(word) == 1 {
		r, _ := utf8.DecodeRuneInString(word)
		if unicode.IsUpper(r) {
			return false
		}
	}
	lower := strings.ToLower(strings.TrimLeft(word, "(\"'["))
	if _, ok := abbreviations[lower]; ok {
		return false
	}
	return true
}

func blankLineFollows(text string, i int) bool {
	for j := i + 1; j < len(text); j++ {
		switch text[j] {
		case '\n':
			return true
		case ' ', '\t', '\r':
			continue
		default:
			return false
		}
	}
	return false
}

func trimSpan(text string, start, end int) (Span, bool) {
	for start < end && isSpaceByte(text[start]) {
		start++
	}
	for end > start && isSpaceByte(text[end-1]) {
		end--
	}
	return Span{Start: start, End: end}, end > start
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r' || c == '\f' || c == '\v'
}

func allDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// ByteOffsets converts the character range [start, end) of s into byte offsets.
// It reports false when the range does not fit s.
func ByteOffsets(s string, start, end int) (int, int, bool) {
	if start < 0 || end < start {
		return 0, 0, false
	}
	bs, be := -1, -1
	n := 0
	for i := range s {
		if n == start {
			bs = i
		}
		if n == end {
			be = i
			break
		}
		n++
	}
	if bs < 0 && n == start {
		bs = len(s)
	}
	if be < 0 && n == end {
		be = len(s)
	}
	if bs < 0 || be < 0 {
		return 0, 0, false
	}
	return bs, be, true
}

// SentenceAt returns the sentence span containing offset, or a span covering the
// whole text when none does.
func SentenceAt(spans []Span, offset int, textLen int) Span {
	for _, s := range spans {
		if offset >= s.Start && offset < s.End {
			return s
		}
	}
	return Span{Start: 0, End: textLen}
}

// Word is a token with absolute offsets.
type Word struct {
	Text  string
	Start int
	End   int
}

// Words tokenizes text[start:end] into words. Letters, digits, hyphens and apostrophes inside
// a word are kept together so "down-regulated" and "MuRF1" stay single tokens.
func Words(s string, start, end int) []Word {
	if start < 0 {
		start = 0
	}
	if end > len(s) {
		end = len(s)
	}
	var words []Word
	i := start
	for i < end {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !isWordRune(r) {
			i += size
			continue
		}
		j := i
		for j < end {
			r, size := utf8.DecodeRuneInString(s[j:])
			if isWordRune(r) {
				j += size
				continue
			}
			if (r == '-' || r == '\'') && j+size < end {
				next, _ := utf8.DecodeRuneInString(s[j+size:])
				if isWordRune(next) {
					j += size
					continue
				}
			}
			break
		}
		words = append(words, Word{Text: s[i:j], Start: i, End: j})
		i = j
	}
	return words
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Normalize lowercases s, maps Unicode dashes to '-' and collapses whitespace.
// It is the key form for caches, relation keys and unlinked nodes.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.TrimSpace(s) {
		switch {
		case unicode.IsSpace(r):
			space = true
			continue
		case unicode.Is(unicode.Pd, r):
			r = '-'
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// Slug upper-cases a normalized name and joins words with underscores.
func Slug(s string) string {
	n := Normalize(s)
	var b strings.Builder
	prevUnderscore := false
	for _, r := range n {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
			prevUnderscore = false
			continue
		}
		if !prevUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			prevUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
