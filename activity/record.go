// Package activity holds the raw and canonical activity records shared by the
// splitter, the classifier and the store.
package activity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the layout of every date-of-record.
const DateLayout = "2006-01-02"

// ErrMalformedRecord marks a record that cannot be processed. The batch skips it.
var ErrMalformedRecord = errors.New("malformed activity record")

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) string {
	return t.Format(DateLayout)
}

// EntityKey identifies a raw entity across sources.
func EntityKey(source, sourceID string) string {
	return source + "/" + sourceID
}

// SegmentKey identifies one day-bounded piece of a raw entity.
func SegmentKey(source, sourceID, dateOfRecord string) string {
	return EntityKey(source, sourceID) + "@" + dateOfRecord
}

// Raw is a record as produced by an ingestion collaborator.
type Raw struct {
	Source     string
	SourceID   string
	Category   string
	SubLabel   string
	Title      string
	Notes      string
	Start      time.Time
	End        time.Time
	Author     string
	ModifiedAt time.Time
	Deleted    bool

	// FileDigest is the sha256 of the file a record was imported from. Such
	// records are governed by file-level dedup, not by the watermark.
	FileDigest string
	SourcePath string
}

func (r Raw) EntityKey() string {
	return EntityKey(r.Source, r.SourceID)
}

// Validate reports whether the record carries enough to be split and classified.
func (r Raw) Validate() error {
	switch {
	case strings.TrimSpace(r.Source) == "":
		return fmt.Errorf("%w: missing source", ErrMalformedRecord)
	case strings.TrimSpace(r.SourceID) == "":
		return fmt.Errorf("%w: missing source id", ErrMalformedRecord)
	case r.Start.IsZero() || r.End.IsZero():
		return fmt.Errorf("%w: %s: missing start or end", ErrMalformedRecord, r.EntityKey())
	case r.End.Before(r.Start):
		return fmt.Errorf("%w: %s: end %s before start %s", ErrMalformedRecord, r.EntityKey(),
			r.End.Format(time.RFC3339), r.Start.Format(time.RFC3339))
	}
	return nil
}

// Canonical is the normalized, single-day, classified form of one activity.
type Canonical struct {
	ID       string
	Source   string
	SourceID string

	Start        time.Time
	End          time.Time
	DateOfRecord string

	Category         string
	OriginalCategory string
	SubLabel         string
	Title            string
	OriginalTitle    string
	Notes            string

	Tags               []string
	HasRelationshipTag bool
	HasEmotionEvent    bool
	SleepLike          bool
	Attributes         Attributes

	Description string
	Author      string
	Active      bool
	ProcessedAt time.Time
}

func (c Canonical) EntityKey() string {
	return EntityKey(c.Source, c.SourceID)
}

func (c Canonical) SegmentKey() string {
	return SegmentKey(c.Source, c.SourceID, c.DateOfRecord)
}

func (c Canonical) Duration() time.Duration {
	return c.End.Sub(c.Start)
}

// Validate checks identity, interval and the single-day invariant. Sleep-like
// records may span midnight.
func (c Canonical) Validate() error {
	if strings.TrimSpace(c.Source) == "" || strings.TrimSpace(c.SourceID) == "" {
		return fmt.Errorf("%w: missing identity", ErrMalformedRecord)
	}
	if _, err := time.Parse(DateLayout, c.DateOfRecord); err != nil {
		return fmt.Errorf("%w: %s: bad date of record %q", ErrMalformedRecord, c.EntityKey(), c.DateOfRecord)
	}
	if c.End.Before(c.Start) {
		return fmt.Errorf("%w: %s: end before start", ErrMalformedRecord, c.SegmentKey())
	}
	if c.Attributes != nil {
		if err := c.Attributes.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedRecord, c.SegmentKey(), err)
		}
	}
	if c.SleepLike {
		return nil
	}
	if DateOf(c.Start) != c.DateOfRecord {
		return fmt.Errorf("%w: %s: starts on %s", ErrMalformedRecord, c.SegmentKey(), DateOf(c.Start))
	}
	y, m, d := c.Start.Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, c.Start.Location())
	if c.End.After(next) {
		return fmt.Errorf("%w: %s: crosses midnight", ErrMalformedRecord, c.SegmentKey())
	}
	return nil
}

type fingerprintPayload struct {
	Source             string          `json:"source"`
	SourceID           string          `json:"source_id"`
	Start              string          `json:"start"`
	End                string          `json:"end"`
	DateOfRecord       string          `json:"date_of_record"`
	Category           string          `json:"category"`
	OriginalCategory   string          `json:"original_category"`
	SubLabel           string          `json:"sub_label"`
	Title              string          `json:"title"`
	OriginalTitle      string          `json:"original_title"`
	Notes              string          `json:"notes"`
	Tags               []string        `json:"tags"`
	HasRelationshipTag bool            `json:"has_relationship_tag"`
	HasEmotionEvent    bool            `json:"has_emotion_event"`
	SleepLike          bool            `json:"sleep_like"`
	Attributes         json.RawMessage `json:"attributes"`
	Description        string          `json:"description"`
	Author             string          `json:"author"`
	Active             bool            `json:"active"`
}

// Fingerprint hashes everything a reader can observe except the identity and
// the watermark, so an unchanged re-run produces the same value.
func (c Canonical) Fingerprint() (string, error) {
	attrs, err := MarshalAttributes(c.Attributes)
	if err != nil {
		return "", err
	}
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(fingerprintPayload{
		Source:             c.Source,
		SourceID:           c.SourceID,
		Start:              c.Start.UTC().Format(time.RFC3339Nano),
		End:                c.End.UTC().Format(time.RFC3339Nano),
		DateOfRecord:       c.DateOfRecord,
		Category:           c.Category,
		OriginalCategory:   c.OriginalCategory,
		SubLabel:           c.SubLabel,
		Title:              c.Title,
		OriginalTitle:      c.OriginalTitle,
		Notes:              c.Notes,
		Tags:               tags,
		HasRelationshipTag: c.HasRelationshipTag,
		HasEmotionEvent:    c.HasEmotionEvent,
		SleepLike:          c.SleepLike,
		Attributes:         attrs,
		Description:        c.Description,
		Author:             c.Author,
		Active:             c.Active,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
