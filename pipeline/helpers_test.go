package pipeline

import (
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"activity-sync/activity"
	"activity-sync/taxonomy"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "activity.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seoul(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Fatal(err)
	}
	return loc
}

func newTestTransformer(t *testing.T, loc *time.Location) *Transformer {
	t.Helper()
	c, err := taxonomy.New(taxonomy.Default())
	if err != nil {
		t.Fatal(err)
	}
	return NewTransformer(c, loc, 2)
}

// canonicalFixture returns a valid single-day record.
func canonicalFixture(sourceID string, start time.Time, d time.Duration) activity.Canonical {
	c := activity.Canonical{
		Source:           "calendar",
		SourceID:         sourceID,
		Start:            start,
		End:              start.Add(d),
		DateOfRecord:     activity.DateOf(start),
		Category:         "productivity",
		OriginalCategory: "work",
		Title:            "write report",
		OriginalTitle:    "write report",
		Tags:             []string{"#report"},
		Attributes:       activity.Productivity{WorkTags: []string{"#report"}},
		Author:           "kim",
		Active:           true,
	}
	c.Description = activity.Describe(c)
	return c
}

func loadCanonical(t *testing.T, db *gorm.DB) map[string]CanonicalActivity {
	t.Helper()
	var rows []CanonicalActivity
	if err := db.Find(&rows).Error; err != nil {
		t.Fatal(err)
	}
	out := make(map[string]CanonicalActivity, len(rows))
	for _, row := range rows {
		out[row.SegmentKey] = row
	}
	return out
}
