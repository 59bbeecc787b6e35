package index

import (
	"strings"
	"unicode"

	"github.com/orsinium-labs/stopwords"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Tokenizer turns a string field value into the lowercase, accent-folded
// word tokens the FTS index and $search operator both key on. Folding
// accents before comparing (grounded on pkg/slug's NFD pipeline) means a
// search for "resume" also finds a field stored as "résumé".
type Tokenizer struct {
	stopwords *stopwords.Stopwords // nil disables stop-word filtering
}

// NewTokenizer builds a tokenizer. dropStopwords enables English
// stop-word filtering (the, a, of, ...); collections indexing short
// identifiers or non-prose text should leave it false.
func NewTokenizer(dropStopwords bool) *Tokenizer {
	t := &Tokenizer{}
	if dropStopwords {
		t.stopwords = stopwords.MustGet("en")
	}
	return t
}

// Tokenize splits s into normalized word tokens.
func (t *Tokenizer) Tokenize(s string) []string {
	folded := foldAccents(strings.ToLower(s))

	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		tok := cur.String()
		cur.Reset()
		if t.stopwords != nil && t.stopwords.Contains(tok) {
			return
		}
		tokens = append(tokens, tok)
	}
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return tokens
}

func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, transform.RemoveFunc(isMark))
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func isMark(r rune) bool {
	return unicode.Is(unicode.Mn, r)
}
