package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"activity-sync/activity"
)

func TestSyncWriter_InsertThenUnchanged(t *testing.T) {
	db := newTestDB(t)
	w := NewSyncWriter(db, 1)
	loc := seoul(t)
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, loc)
	records := []activity.Canonical{
		canonicalFixture("a", start, 2*time.Hour),
		canonicalFixture("b", start.Add(3*time.Hour), time.Hour),
	}

	res, err := w.Write(context.Background(), records)
	require.NoError(t, err)
	require.Equal(t, 2, res.Inserted)
	require.Empty(t, res.Failed)
	require.Len(t, res.Changed, 2)
	first := loadCanonical(t, db)
	require.Len(t, first, 2)
	for _, row := range first {
		require.NotEmpty(t, row.ID)
		require.True(t, row.Active)
	}
	require.Equal(t, 120, first["calendar/a@2024-01-15"].DurationMinutes)

	res, err = w.Write(context.Background(), records)
	require.NoError(t, err)
	require.Equal(t, 0, res.Inserted)
	require.Equal(t, 0, res.Modified)
	require.Equal(t, 2, res.Unchanged)
	require.Equal(t, 2, res.Matched)
	require.Empty(t, res.Changed)

	second := loadCanonical(t, db)
	for key, row := range second {
		require.Equal(t, first[key].ID, row.ID)
		require.Equal(t, first[key].ContentHash, row.ContentHash)
	}
}

func TestSyncWriter_ModifiedKeepsIdentity(t *testing.T) {
	db := newTestDB(t)
	w := NewSyncWriter(db, 500)
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, seoul(t))
	rec := canonicalFixture("a", start, time.Hour)

	_, err := w.Write(context.Background(), []activity.Canonical{rec})
	require.NoError(t, err)
	before := loadCanonical(t, db)["calendar/a@2024-01-15"]

	rec.Title = "write final report"
	rec.Description = activity.Describe(rec)
	res, err := w.Write(context.Background(), []activity.Canonical{rec})
	require.NoError(t, err)
	require.Equal(t, 1, res.Modified)
	require.Equal(t, 0, res.Inserted)
	require.Len(t, res.Changed, 1)
	require.Equal(t, before.ID, res.Changed[0].ID)

	after := loadCanonical(t, db)["calendar/a@2024-01-15"]
	require.Equal(t, before.ID, after.ID)
	require.Equal(t, "write final report", after.Title)
	require.NotEqual(t, before.ContentHash, after.ContentHash)
}

func TestSyncWriter_RetiresAndReactivatesSegments(t *testing.T) {
	db := newTestDB(t)
	w := NewSyncWriter(db, 500)
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, seoul(t))
	day1 := canonicalFixture("trip", start, time.Hour)
	day2 := canonicalFixture("trip", start.AddDate(0, 0, 1), time.Hour)

	res, err := w.Write(context.Background(), []activity.Canonical{day1, day2})
	require.NoError(t, err)
	require.Equal(t, 2, res.Inserted)

	// The event no longer reaches the second day.
	res, err = w.Write(context.Background(), []activity.Canonical{day1})
	require.NoError(t, err)
	require.Equal(t, 1, res.Unchanged)
	require.Equal(t, 1, res.Retired)
	rows := loadCanonical(t, db)
	require.True(t, rows["calendar/trip@2024-01-15"].Active)
	require.False(t, rows["calendar/trip@2024-01-16"].Active)
	retiredID := rows["calendar/trip@2024-01-16"].ID

	res, err = w.Write(context.Background(), []activity.Canonical{day1, day2})
	require.NoError(t, err)
	require.Equal(t, 1, res.Modified)
	require.Equal(t, 1, res.Unchanged)
	require.Equal(t, 0, res.Retired)
	rows = loadCanonical(t, db)
	require.True(t, rows["calendar/trip@2024-01-16"].Active)
	require.Equal(t, retiredID, rows["calendar/trip@2024-01-16"].ID)
}

func TestSyncWriter_InvalidRecordFailsAlone(t *testing.T) {
	db := newTestDB(t)
	w := NewSyncWriter(db, 500)
	loc := seoul(t)
	good := canonicalFixture("good", time.Date(2024, 1, 15, 9, 0, 0, 0, loc), time.Hour)
	bad := canonicalFixture("bad", time.Date(2024, 1, 15, 23, 0, 0, 0, loc), 2*time.Hour)

	res, err := w.Write(context.Background(), []activity.Canonical{bad, good})
	require.NoError(t, err)
	require.Equal(t, 1, res.Inserted)
	require.Len(t, res.Failed, 1)
	require.Equal(t, "calendar/bad@2024-01-15", res.Failed[0].SegmentKey)
	require.True(t, errors.Is(&res.Failed[0], activity.ErrMalformedRecord))
	require.Len(t, loadCanonical(t, db), 1)
}

func TestSyncWriter_DuplicateKeyLastWins(t *testing.T) {
	db := newTestDB(t)
	w := NewSyncWriter(db, 500)
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, seoul(t))
	first := canonicalFixture("a", start, time.Hour)
	last := canonicalFixture("a", start, 2*time.Hour)

	res, err := w.Write(context.Background(), []activity.Canonical{first, last})
	require.NoError(t, err)
	require.Equal(t, 1, res.Inserted)
	require.Equal(t, 120, loadCanonical(t, db)["calendar/a@2024-01-15"].DurationMinutes)
}

func TestSyncWriter_TouchesUnchangedProcessedAt(t *testing.T) {
	db := newTestDB(t)
	w := NewSyncWriter(db, 500)
	t0 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return t0 }
	rec := canonicalFixture("a", time.Date(2024, 1, 15, 9, 0, 0, 0, seoul(t)), time.Hour)

	_, err := w.Write(context.Background(), []activity.Canonical{rec})
	require.NoError(t, err)

	w.now = func() time.Time { return t0.Add(time.Hour) }
	res, err := w.Write(context.Background(), []activity.Canonical{rec})
	require.NoError(t, err)
	require.Equal(t, 1, res.Unchanged)
	row := loadCanonical(t, db)["calendar/a@2024-01-15"]
	require.True(t, row.ProcessedAt.Equal(t0.Add(time.Hour)), "processed_at=%s", row.ProcessedAt)
}

func TestSyncWriter_FailedRowDoesNotSinkBatch(t *testing.T) {
	db := newTestDB(t)
	boom := errors.New("boom")
	err := db.Callback().Create().Before("gorm:create").Register("test:fail_bad", func(tx *gorm.DB) {
		switch dest := tx.Statement.Dest.(type) {
		case *[]CanonicalActivity:
			for _, m := range *dest {
				if m.SourceID == "bad" {
					_ = tx.AddError(boom)
					return
				}
			}
		case *CanonicalActivity:
			if dest.SourceID == "bad" {
				_ = tx.AddError(boom)
			}
		}
	})
	require.NoError(t, err)

	w := NewSyncWriter(db, 10)
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, seoul(t))
	res, err := w.Write(context.Background(), []activity.Canonical{
		canonicalFixture("good", start, time.Hour),
		canonicalFixture("bad", start, time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Inserted)
	require.Len(t, res.Failed, 1)
	require.Equal(t, "calendar/bad@2024-01-15", res.Failed[0].SegmentKey)
	require.ErrorIs(t, res.Failed[0].Err, boom)
	require.Len(t, res.Changed, 1)
	require.Equal(t, "good", res.Changed[0].SourceID)

	rows := loadCanonical(t, db)
	require.Len(t, rows, 1)
	require.Contains(t, rows, "calendar/good@2024-01-15")
}

func TestSyncWriter_ReportsStoredIDAfterConcurrentInsert(t *testing.T) {
	db := newTestDB(t)
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, seoul(t))
	rival := canonicalFixture("a", start, 30*time.Minute)
	rival.ID = "rival-id"
	rival.ProcessedAt = start
	rivalModel, err := canonicalToModel(rival, "rival-hash")
	require.NoError(t, err)

	// Another run inserts the same key after this writer looked it up.
	inserted := false
	err = db.Callback().Create().Before("gorm:begin_transaction").Register("test:rival", func(tx *gorm.DB) {
		if inserted {
			return
		}
		if _, ok := tx.Statement.Dest.(*[]CanonicalActivity); !ok {
			return
		}
		inserted = true
		m := rivalModel
		if err := db.Session(&gorm.Session{NewDB: true}).Create(&m).Error; err != nil {
			_ = tx.AddError(err)
		}
	})
	require.NoError(t, err)

	w := NewSyncWriter(db, 10)
	res, err := w.Write(context.Background(), []activity.Canonical{canonicalFixture("a", start, time.Hour)})
	require.NoError(t, err)
	require.True(t, inserted)
	require.Len(t, res.Changed, 1)
	require.Equal(t, "rival-id", res.Changed[0].ID)

	row := loadCanonical(t, db)["calendar/a@2024-01-15"]
	require.Equal(t, "rival-id", row.ID)
	require.Equal(t, 60, row.DurationMinutes)
}
