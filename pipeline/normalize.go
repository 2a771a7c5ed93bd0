package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Timestamps inside exported titles ("standup 2024-01-02 09:00") are noise
// for identity.
var timestampPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}(:\d{2}(\.\d{3,6})?)?`),
	regexp.MustCompile(`\d{4}[./]\d{2}[./]\d{2} \d{1,2}:\d{2}(:\d{2})?`),
}

// NormalizeTitle strips embedded timestamps, folds case and collapses
// whitespace.
func NormalizeTitle(input string) string {
	s := input
	for _, re := range timestampPatterns {
		s = re.ReplaceAllString(s, "")
	}
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

func HashNormalized(normalized string, hexLen int) string {
	sum := sha256.Sum256([]byte(normalized))
	full := hex.EncodeToString(sum[:])
	if hexLen <= 0 || hexLen >= len(full) {
		return full
	}
	return full[:hexLen]
}

// DerivedSourceID gives records without an id a stable one, so the same event
// exported into a renamed file upserts instead of duplicating.
func DerivedSourceID(title string, start time.Time, hexLen int) string {
	return HashNormalized(NormalizeTitle(title)+"|"+start.UTC().Format(time.RFC3339), hexLen)
}
