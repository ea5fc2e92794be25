package core

import (
	"strings"
	"unicode"
)

// Mode selects the tokenization strategy for both indexing and query-time
// candidate filtering.
type Mode string

const (
	ModeWord    Mode = "word"
	ModeTrigram Mode = "trigram"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeWord || m == ModeTrigram
}

// Tokenizer turns lines of file content into index tokens and decides, at
// verification time, whether a line matches a query.
type Tokenizer interface {
	// TokenizeLine returns the lowercased tokens of one line. Duplicates
	// are allowed; callers deduplicate into a set.
	TokenizeLine(line string) []string

	// Matches is the verification predicate applied when re-reading a
	// candidate file from disk.
	Matches(line, query string) bool
}

// NewTokenizer returns the tokenizer for a mode. Panics on an unknown mode;
// configuration validation rejects those earlier.
func NewTokenizer(mode Mode) Tokenizer {
	switch mode {
	case ModeWord:
		return wordTokenizer{}
	case ModeTrigram:
		return trigramTokenizer{}
	}
	panic("core: unknown tokenizer mode " + string(mode))
}

// wordTokenizer splits lines into maximal runs of letters and digits.
type wordTokenizer struct{}

func (wordTokenizer) TokenizeLine(line string) []string {
	return WordTokens(line)
}

// Matches mirrors the word-mode candidate heuristics at line level: a single
// query word matches any line word containing it; with two words the first
// may also match as a prefix or suffix of a line word; with three or more the
// middle words must appear exactly and the first word only exactly or as a
// suffix. The last word always matches only exactly or as a prefix. The
// start/end asymmetry is deliberate; keep it.
func (wordTokenizer) Matches(line, query string) bool {
	q := WordTokens(query)
	words := newWordSet(WordTokens(line))

	switch len(q) {
	case 0:
		return true
	case 1:
		return words.containing(q[0])
	case 2:
		s, e := q[0], q[1]
		if words.has(s) && words.withPrefix(e) {
			return true
		}
		if words.has(e) && words.withSuffix(s) {
			return true
		}
		return (words.withPrefix(s) || words.withSuffix(s)) && words.withPrefix(e)
	default:
		for _, mid := range q[1 : len(q)-1] {
			if !words.has(mid) {
				return false
			}
		}
		return words.withSuffix(q[0]) && words.withPrefix(q[len(q)-1])
	}
}

// wordSet answers the relaxed membership queries over one line's words.
type wordSet struct {
	words []string
	exact map[string]struct{}
}

func newWordSet(words []string) wordSet {
	exact := make(map[string]struct{}, len(words))
	for _, w := range words {
		exact[w] = struct{}{}
	}
	return wordSet{words: words, exact: exact}
}

func (ws wordSet) has(w string) bool {
	_, ok := ws.exact[w]
	return ok
}

func (ws wordSet) containing(sub string) bool {
	for _, w := range ws.words {
		if strings.Contains(w, sub) {
			return true
		}
	}
	return false
}

// withPrefix includes exact matches: every word is a prefix of itself.
func (ws wordSet) withPrefix(p string) bool {
	for _, w := range ws.words {
		if strings.HasPrefix(w, p) {
			return true
		}
	}
	return false
}

// withSuffix includes exact matches as well.
func (ws wordSet) withSuffix(suf string) bool {
	for _, w := range ws.words {
		if strings.HasSuffix(w, suf) {
			return true
		}
	}
	return false
}

// WordTokens returns the lowercased alphanumeric runs of s, in order.
func WordTokens(s string) []string {
	var tokens []string
	start := -1
	for i, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = append(tokens, strings.ToLower(s[start:i]))
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, strings.ToLower(s[start:]))
	}
	return tokens
}

// trigramTokenizer indexes every 3-rune window of a line.
type trigramTokenizer struct{}

func (trigramTokenizer) TokenizeLine(line string) []string {
	return Trigrams(line, true)
}

func (trigramTokenizer) Matches(line, query string) bool {
	return containsFold(line, query)
}

// Trigrams returns the lowercased 3-rune windows of s. With pad set, strings
// shorter than three runes are right-padded with spaces so that every
// non-empty line yields at least one token; query tokenization never pads.
func Trigrams(s string, pad bool) []string {
	runes := []rune(strings.ToLower(s))
	if len(runes) < 3 {
		if !pad || len(runes) == 0 {
			return nil
		}
		for len(runes) < 3 {
			runes = append(runes, ' ')
		}
	}

	tokens := make([]string, 0, len(runes)-2)
	for i := 0; i+3 <= len(runes); i++ {
		tokens = append(tokens, string(runes[i:i+3]))
	}
	return tokens
}

// containsFold is a case-insensitive substring check matching the index's
// lowercase token convention.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
