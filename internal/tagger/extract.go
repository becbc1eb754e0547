package tagger

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Defaults for Extract.
const (
	DefaultMaxTags   = 5
	DefaultMinLength = 3
)

// Token weights. Title words count double.
const (
	bodyWeight  = 1
	titleWeight = 2
)

var builtinStopwords = []string{
	"the", "and", "for", "that", "with", "this", "from", "have", "not", "are", "was", "were", "but",
	"you", "your", "our", "has", "had", "any", "can", "all", "out", "his", "her", "its", "who", "what",
	"when", "where", "why", "how", "into", "over", "use", "used", "using", "been", "more", "most",
	"other", "some", "such", "than", "then", "them", "they", "their", "there", "in", "on", "at", "to",
	"of", "by", "as", "it", "is", "be", "a", "an", "or", "we", "i", "he", "she", "my", "me", "up",
	"about", "after", "before", "between", "during", "per", "via", "also", "new", "one", "two",
	"three", "no", "yes", "if", "else",
}

// Stopwords is a set of lower-cased words never used as tags.
type Stopwords map[string]struct{}

// Has reports whether w is a stopword.
func (s Stopwords) Has(w string) bool {
	_, ok := s[w]
	return ok
}

// DefaultStopwords returns the built-in English list.
func DefaultStopwords() Stopwords {
	s := make(Stopwords, len(builtinStopwords))
	for _, w := range builtinStopwords {
		s[w] = struct{}{}
	}
	return s
}

// LoadStopwords returns the built-in list extended with the words in the
// file at path. Lines starting with # are comments and a line may hold
// several space-separated words. A missing file is not an error.
func LoadStopwords(path string) (Stopwords, error) {
	words := DefaultStopwords()
	if path == "" {
		return words, nil
	}
	f, err := os.Open(path) //nolint:gosec // operator-configured path
	if errors.Is(err, os.ErrNotExist) {
		return words, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open stopwords: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.ToLower(strings.TrimSpace(sc.Text()))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, w := range strings.Fields(line) {
			if w = strings.Trim(w, "-_"); w != "" {
				words[w] = struct{}{}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read stopwords: %w", err)
	}
	return words, nil
}

// StopwordsTemplate is the starter stopwords file written by init.
const StopwordsTemplate = `# Extra stopwords for auto-tagging, one or more per line.
# A built-in English list is always applied.
`

// Options tune Extract.
type Options struct {
	MaxTags   int
	MinLength int
	Stopwords Stopwords
}

func (o Options) withDefaults() Options {
	if o.MaxTags <= 0 {
		o.MaxTags = DefaultMaxTags
	}
	if o.MinLength <= 0 {
		o.MinLength = DefaultMinLength
	}
	if o.Stopwords == nil {
		o.Stopwords = DefaultStopwords()
	}
	return o
}

// Extract ranks the words of title and body by weight and returns at most
// opts.MaxTags of them, heaviest first with ties broken alphabetically.
func Extract(title, body string, opts Options) []string {
	opts = opts.withDefaults()

	weights := make(map[string]int)
	add := func(text string, weight int) {
		for _, w := range tokenize(text) {
			if utf8.RuneCountInString(w) < opts.MinLength || opts.Stopwords.Has(w) {
				continue
			}
			weights[w] += weight
		}
	}
	add(body, bodyWeight)
	add(title, titleWeight)

	ranked := make([]string, 0, len(weights))
	for w := range weights {
		ranked = append(ranked, w)
	}
	sort.Slice(ranked, func(i, j int) bool {
		wi, wj := weights[ranked[i]], weights[ranked[j]]
		if wi != wj {
			return wi > wj
		}
		return ranked[i] < ranked[j]
	})
	if len(ranked) > opts.MaxTags {
		ranked = ranked[:opts.MaxTags]
	}
	return ranked
}

// tokenize lower-cases text and splits it into runs of letters, digits and
// hyphens. Leading and trailing hyphens are dropped, as are pure numbers.
func tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	out := words[:0]
	for _, w := range words {
		w = strings.Trim(w, "-")
		if w == "" || isDigits(w) {
			continue
		}
		out = append(out, w)
	}
	return out
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// Domain returns the lower-cased host of rawURL without a leading "www.".
func Domain(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
