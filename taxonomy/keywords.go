package taxonomy

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

var hashTagPattern = regexp.MustCompile(`#\S+`)

// fold applies Unicode case folding. A Caser is stateful, so each call gets
// its own.
func fold(s string) string {
	return cases.Fold().String(s)
}

// foldLabel folds and collapses whitespace for category label comparison.
func foldLabel(s string) string {
	return strings.Join(strings.Fields(fold(s)), " ")
}

// keywordSet holds pre-folded keywords for substring matching.
type keywordSet []string

func newKeywordSet(words []string) keywordSet {
	out := make(keywordSet, 0, len(words))
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			out = append(out, fold(w))
		}
	}
	return out
}

// Match reports whether any keyword occurs in the already folded text.
func (k keywordSet) Match(folded string) bool {
	for _, w := range k {
		if strings.Contains(folded, w) {
			return true
		}
	}
	return false
}

// wordSet matches keywords as whole words: a Latin keyword edge must not
// touch a Latin letter or digit, so "nap" does not match "snapshot". Hangul
// keywords still match inside compounds such as "수면시간".
type wordSet struct {
	keywordSet
}

func newWordSet(words []string) wordSet {
	return wordSet{newKeywordSet(words)}
}

func (w wordSet) Match(folded string) bool {
	for _, kw := range w.keywordSet {
		first, _ := utf8.DecodeRuneInString(kw)
		last, _ := utf8.DecodeLastRuneInString(kw)
		for i := 0; i < len(folded); {
			j := strings.Index(folded[i:], kw)
			if j < 0 {
				break
			}
			start, end := i+j, i+j+len(kw)
			before, _ := utf8.DecodeLastRuneInString(folded[:start])
			after, _ := utf8.DecodeRuneInString(folded[end:])
			if !(latinWordRune(first) && latinWordRune(before)) &&
				!(latinWordRune(last) && latinWordRune(after)) {
				return true
			}
			_, size := utf8.DecodeRuneInString(folded[start:])
			i = start + size
		}
	}
	return false
}

func latinWordRune(r rune) bool {
	return unicode.Is(unicode.Latin, r) || ('0' <= r && r <= '9')
}

// tagSet holds the spellings of one special tag.
type tagSet struct {
	primary string
	folded  map[string]struct{}
}

func newTagSet(spellings []string) tagSet {
	ts := tagSet{folded: make(map[string]struct{}, len(spellings))}
	if len(spellings) > 0 {
		ts.primary = spellings[0]
	}
	for _, s := range spellings {
		ts.folded[fold(s)] = struct{}{}
	}
	return ts
}

func (t tagSet) In(tags []string) bool {
	for _, tag := range tags {
		if _, ok := t.folded[fold(tag)]; ok {
			return true
		}
	}
	return false
}

// ExtractTags returns the #tokens of s in order of first appearance.
func ExtractTags(s string) []string {
	found := hashTagPattern.FindAllString(s, -1)
	if len(found) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(found))
	out := make([]string, 0, len(found))
	for _, t := range found {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
