package pipeline

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"activity-sync/activity"
)

// ProcessedFile is written once per successfully synced import file.
type ProcessedFile struct {
	ID          uint   `gorm:"primaryKey"`
	Path        string `gorm:"uniqueIndex:uniq_path_sha;size:1024"`
	SHA256      string `gorm:"uniqueIndex:uniq_path_sha;size:64"`
	Source      string `gorm:"index;size:64"`
	SizeBytes   int64
	ModUnixNano int64
	RecordCount int
	ProcessedAt time.Time `gorm:"index"`
	ArchivedTo  string    `gorm:"size:1024"`
}

// RawActivity is the archive of raw records, written by ingestion
// collaborators and by the file importer.
type RawActivity struct {
	ID         uint      `gorm:"primaryKey"`
	Source     string    `gorm:"uniqueIndex:uniq_raw_source_id;size:64"`
	SourceID   string    `gorm:"uniqueIndex:uniq_raw_source_id;size:255"`
	Category   string    `gorm:"size:128"`
	SubLabel   string    `gorm:"size:512"`
	Title      string    `gorm:"type:text"`
	Notes      string    `gorm:"type:text"`
	StartAt    time.Time `gorm:"index"`
	EndAt      time.Time
	Author     string    `gorm:"index;size:128"`
	ModifiedAt time.Time `gorm:"index"`
	Deleted    bool      `gorm:"index"`
	RemovedAt  *time.Time
	// FileDigestSHA256 links a row to the import file it came from. Empty for
	// rows written by collaborators.
	FileDigestSHA256 string `gorm:"column:file_sha256;index;size:64"`
	SourcePath       string `gorm:"size:1024"`
	Payload          datatypes.JSON
	UpdatedAt        time.Time
}

// CanonicalActivity is one day-bounded, classified activity. SegmentKey is the
// natural identity upserts converge on; ID is the stable public identity.
type CanonicalActivity struct {
	ID                 string    `gorm:"primaryKey;size:36"`
	SegmentKey         string    `gorm:"uniqueIndex;size:512"`
	Source             string    `gorm:"index:idx_canonical_entity;size:64"`
	SourceID           string    `gorm:"index:idx_canonical_entity;size:255"`
	StartAt            time.Time
	EndAt              time.Time
	DateOfRecord       string `gorm:"index:idx_canonical_report;size:10"`
	Author             string `gorm:"index:idx_canonical_report;size:128"`
	DurationMinutes    int
	Category           string `gorm:"index;size:128"`
	OriginalCategory   string `gorm:"size:128"`
	SubLabel           string `gorm:"size:512"`
	Title              string `gorm:"type:text"`
	OriginalTitle      string `gorm:"type:text"`
	Notes              string `gorm:"type:text"`
	Tags               datatypes.JSON
	Attributes         datatypes.JSON
	HasRelationshipTag bool `gorm:"index"`
	HasEmotionEvent    bool `gorm:"index"`
	RiskyRecharger     bool `gorm:"index"`
	SleepLike          bool
	Description        string    `gorm:"type:text"`
	ContentHash        string    `gorm:"size:64"`
	Active             bool      `gorm:"index"`
	ProcessedAt        time.Time `gorm:"index"`
}

// canonicalUpdateColumns are rewritten on conflict. id and segment_key are not.
var canonicalUpdateColumns = []string{
	"source", "source_id", "start_at", "end_at", "date_of_record", "author",
	"duration_minutes", "category", "original_category", "sub_label", "title",
	"original_title", "notes", "tags", "attributes", "has_relationship_tag",
	"has_emotion_event", "risky_recharger", "sleep_like", "description",
	"content_hash", "active", "processed_at",
}

func rawFromModel(m RawActivity) activity.Raw {
	return activity.Raw{
		Source:     m.Source,
		SourceID:   m.SourceID,
		Category:   m.Category,
		SubLabel:   m.SubLabel,
		Title:      m.Title,
		Notes:      m.Notes,
		Start:      m.StartAt,
		End:        m.EndAt,
		Author:     m.Author,
		ModifiedAt: m.ModifiedAt,
		Deleted:    m.Deleted,
		FileDigest: m.FileDigestSHA256,
		SourcePath: m.SourcePath,
	}
}

func rawToModel(r activity.Raw, payload []byte) RawActivity {
	var removedAt *time.Time
	if r.Deleted {
		ts := r.ModifiedAt.UTC()
		removedAt = &ts
	}
	return RawActivity{
		Source:           r.Source,
		SourceID:         r.SourceID,
		Category:         r.Category,
		SubLabel:         r.SubLabel,
		Title:            r.Title,
		Notes:            r.Notes,
		StartAt:          r.Start.UTC(),
		EndAt:            r.End.UTC(),
		Author:           r.Author,
		ModifiedAt:       r.ModifiedAt.UTC(),
		Deleted:          r.Deleted,
		RemovedAt:        removedAt,
		FileDigestSHA256: r.FileDigest,
		SourcePath:       r.SourcePath,
		Payload:          datatypes.JSON(payload),
	}
}

func canonicalToModel(c activity.Canonical, contentHash string) (CanonicalActivity, error) {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return CanonicalActivity{}, err
	}
	attrsJSON, err := activity.MarshalAttributes(c.Attributes)
	if err != nil {
		return CanonicalActivity{}, err
	}
	risky := false
	if rec, ok := c.Attributes.(activity.Recovery); ok {
		risky = rec.RiskyRecharger
	}
	return CanonicalActivity{
		ID:                 c.ID,
		SegmentKey:         c.SegmentKey(),
		Source:             c.Source,
		SourceID:           c.SourceID,
		StartAt:            c.Start.UTC(),
		EndAt:              c.End.UTC(),
		DateOfRecord:       c.DateOfRecord,
		Author:             c.Author,
		DurationMinutes:    int(c.Duration() / time.Minute),
		Category:           c.Category,
		OriginalCategory:   c.OriginalCategory,
		SubLabel:           c.SubLabel,
		Title:              c.Title,
		OriginalTitle:      c.OriginalTitle,
		Notes:              c.Notes,
		Tags:               datatypes.JSON(tagsJSON),
		Attributes:         datatypes.JSON(attrsJSON),
		HasRelationshipTag: c.HasRelationshipTag,
		HasEmotionEvent:    c.HasEmotionEvent,
		RiskyRecharger:     risky,
		SleepLike:          c.SleepLike,
		Description:        c.Description,
		ContentHash:        contentHash,
		Active:             c.Active,
		ProcessedAt:        c.ProcessedAt.UTC(),
	}, nil
}

func canonicalFromModel(m CanonicalActivity) (activity.Canonical, error) {
	var tags []string
	if len(m.Tags) > 0 {
		if err := json.Unmarshal(m.Tags, &tags); err != nil {
			return activity.Canonical{}, err
		}
	}
	attrs, err := activity.UnmarshalAttributes(m.Attributes)
	if err != nil {
		return activity.Canonical{}, err
	}
	return activity.Canonical{
		ID:                 m.ID,
		Source:             m.Source,
		SourceID:           m.SourceID,
		Start:              m.StartAt,
		End:                m.EndAt,
		DateOfRecord:       m.DateOfRecord,
		Category:           m.Category,
		OriginalCategory:   m.OriginalCategory,
		SubLabel:           m.SubLabel,
		Title:              m.Title,
		OriginalTitle:      m.OriginalTitle,
		Notes:              m.Notes,
		Tags:               tags,
		HasRelationshipTag: m.HasRelationshipTag,
		HasEmotionEvent:    m.HasEmotionEvent,
		SleepLike:          m.SleepLike,
		Attributes:         attrs,
		Description:        m.Description,
		Author:             m.Author,
		Active:             m.Active,
		ProcessedAt:        m.ProcessedAt,
	}, nil
}
