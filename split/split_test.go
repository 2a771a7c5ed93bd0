package split

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"activity-sync/activity"
)

var seoul = time.FixedZone("KST", 9*3600)

func kst(day, hour, minute int) time.Time {
	return time.Date(2024, time.March, day, hour, minute, 0, 0, seoul)
}

func requireContiguous(t *testing.T, start, end time.Time, segs []Segment) {
	t.Helper()
	require.NotEmpty(t, segs)
	require.True(t, segs[0].Start.Equal(start))
	require.True(t, segs[len(segs)-1].End.Equal(end))
	for i := 1; i < len(segs); i++ {
		require.True(t, segs[i].Start.Equal(segs[i-1].End), "gap between piece %d and %d", i-1, i)
	}
}

func TestSplitSameDay(t *testing.T) {
	start, end := kst(1, 9, 0), kst(1, 17, 0)
	segs, err := Split(start, end, false)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.Equal(t, "2024-03-01", segs[0].Date)
	requireContiguous(t, start, end, segs)
}

func TestSplitTwoMidnights(t *testing.T) {
	start, end := kst(1, 20, 0), kst(3, 2, 0)
	segs, err := Split(start, end, false)
	require.NoError(t, err)
	require.Len(t, segs, 3)
	require.Equal(t, []string{"2024-03-01", "2024-03-02", "2024-03-03"},
		[]string{segs[0].Date, segs[1].Date, segs[2].Date})
	require.True(t, segs[0].End.Equal(kst(2, 0, 0)))
	require.True(t, segs[1].End.Equal(kst(3, 0, 0)))
	requireContiguous(t, start, end, segs)

	for _, s := range segs {
		c := activity.Canonical{Source: "s", SourceID: "1", Start: s.Start, End: s.End, DateOfRecord: s.Date}
		require.NoError(t, c.Validate())
	}
}

func TestSplitMidnightCounts(t *testing.T) {
	for k := 0; k < 5; k++ {
		start := kst(10, 18, 30)
		end := kst(10+k, 23, 0)
		segs, err := Split(start, end, false)
		require.NoError(t, err)
		require.Len(t, segs, k+1)
		requireContiguous(t, start, end, segs)
	}
}

func TestSplitEndingAtMidnight(t *testing.T) {
	start, end := kst(1, 22, 0), kst(2, 0, 0)
	segs, err := Split(start, end, false)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.Equal(t, "2024-03-01", segs[0].Date)
}

func TestSplitSleepNeverSplit(t *testing.T) {
	start, end := kst(1, 23, 0), kst(2, 7, 0)
	segs, err := Split(start, end, true)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.Equal(t, "2024-03-02", segs[0].Date)
	requireContiguous(t, start, end, segs)
}

func TestSplitZeroDuration(t *testing.T) {
	m := kst(2, 0, 0)
	segs, err := Split(m, m, false)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.Equal(t, "2024-03-02", segs[0].Date)
}

func TestSplitEndBeforeStart(t *testing.T) {
	_, err := Split(kst(2, 10, 0), kst(2, 9, 0), false)
	require.ErrorIs(t, err, ErrInvalidInterval)
	require.True(t, errors.Is(err, activity.ErrMalformedRecord))
}

func TestSplitUsesStartLocation(t *testing.T) {
	// 14:00Z..16:00Z crosses midnight in Seoul but not in UTC.
	start := time.Date(2024, time.March, 1, 14, 0, 0, 0, time.UTC).In(seoul)
	end := time.Date(2024, time.March, 1, 16, 0, 0, 0, time.UTC)
	segs, err := Split(start, end, false)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	require.Equal(t, "2024-03-01", segs[0].Date)
	require.Equal(t, "2024-03-02", segs[1].Date)
}

func TestSplitDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 2024-03-10 is a 23 hour day in New York.
	start := time.Date(2024, time.March, 9, 22, 0, 0, 0, ny)
	end := time.Date(2024, time.March, 11, 1, 0, 0, 0, ny)
	segs, err := Split(start, end, false)
	require.NoError(t, err)
	require.Len(t, segs, 3)
	require.Equal(t, 23*time.Hour, segs[1].End.Sub(segs[1].Start))
	requireContiguous(t, start, end, segs)
}
