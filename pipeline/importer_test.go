package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"activity-sync/activity"
)

func parseFixture(t *testing.T, in InputConfig, path, content string) ([]ImportedRecord, []error) {
	t.Helper()
	fp := Fingerprint(path, []byte(content))
	fp.ModTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	recs, errs, err := NewImporter(seoul(t), 24).Parse(in, fp, []byte(content))
	require.NoError(t, err)
	return recs, errs
}

func TestImporter_JSONArray(t *testing.T) {
	content := `[
	  {"id": "evt-1", "calendar_name": "일 / 생산", "title": "보고서 작성 #report",
	   "start": "2024-01-15T09:00:00+09:00", "end": "2024-01-15T11:30:00+09:00",
	   "updated": "2024-01-16T00:00:00Z", "author": "kim"},
	  {"event_name": "저녁식사", "category": "Daily / Chore",
	   "start_datetime": "2024-01-15 19:00", "end_datetime": "2024-01-15 20:00", "is_deleted": true},
	  {"id": "broken", "title": "no times"}
	]`
	recs, errs := parseFixture(t, InputConfig{Source: "calendar", Author: "default"}, "/in/export.json", content)
	require.Len(t, recs, 2)
	require.Len(t, errs, 1)
	require.True(t, errors.Is(errs[0], activity.ErrMalformedRecord))

	first := recs[0].Raw
	require.Equal(t, "calendar", first.Source)
	require.Equal(t, "evt-1", first.SourceID)
	require.Equal(t, "일 / 생산", first.Category)
	require.Equal(t, "보고서 작성 #report", first.Title)
	require.Equal(t, "kim", first.Author)
	require.True(t, first.Start.Equal(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)))
	require.True(t, first.ModifiedAt.Equal(time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)))
	require.NotEmpty(t, first.FileDigest)
	require.Equal(t, "/in/export.json", first.SourcePath)
	require.Contains(t, string(recs[0].Payload), `"calendar_name"`)

	second := recs[1].Raw
	require.Len(t, second.SourceID, 24)
	require.Equal(t, "default", second.Author)
	require.True(t, second.Deleted)
	require.Equal(t, 19, second.Start.Hour())
	require.Equal(t, "Asia/Seoul", second.Start.Location().String())
	require.True(t, second.ModifiedAt.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
}

func TestImporter_ContentField(t *testing.T) {
	content := `{"original_id": "n-7", "content": "{\"title\": \"영어 공부_단어_토익\", \"notes\": \"50 words\", \"category\": \"학습 / 성장\"}",
	  "start_time": "2024-01-15 20:00:00", "end_time": "2024-01-15 21:00:00"}`
	recs, errs := parseFixture(t, InputConfig{Source: "notes"}, "/in/note.json", content)
	require.Empty(t, errs)
	require.Len(t, recs, 1)
	require.Equal(t, "n-7", recs[0].Raw.SourceID)
	require.Equal(t, "영어 공부_단어_토익", recs[0].Raw.Title)
	require.Equal(t, "50 words", recs[0].Raw.Notes)
	require.Equal(t, "학습 / 성장", recs[0].Raw.Category)
}

func TestImporter_CSVExport(t *testing.T) {
	content := "\xef\xbb\xbfEvent Title,Notes,Start Date/Time,End Date/Time,Category\n" +
		"Morning run,5km,2024-01-15 07:00,2024-01-15 07:40,workout\n" +
		"Sleep,,2024-01-15 23:00,2024-01-16 07:00,수면\n"
	recs, errs := parseFixture(t, InputConfig{Source: "export"}, "/in/export.csv", content)
	require.Empty(t, errs)
	require.Len(t, recs, 2)
	require.Equal(t, "Morning run", recs[0].Raw.Title)
	require.Equal(t, "5km", recs[0].Raw.Notes)
	require.Equal(t, "workout", recs[0].Raw.Category)
	require.Equal(t, 40*time.Minute, recs[0].Raw.End.Sub(recs[0].Raw.Start))
	require.Equal(t, 8*time.Hour, recs[1].Raw.End.Sub(recs[1].Raw.Start))
}

func TestImporter_DerivedIDStableAcrossFiles(t *testing.T) {
	content := `[{"title": "Standup", "start": "2024-01-15T09:00:00+09:00", "end": "2024-01-15T09:15:00+09:00"}]`
	a, _ := parseFixture(t, InputConfig{Source: "calendar"}, "/in/a.json", content)
	b, _ := parseFixture(t, InputConfig{Source: "calendar"}, "/in/renamed.json", content)
	require.Equal(t, a[0].Raw.SourceID, b[0].Raw.SourceID)
}

func TestImporter_FileErrors(t *testing.T) {
	im := NewImporter(time.UTC, 24)
	for name, content := range map[string]string{
		"broken json": `[{"title": `,
		"scalar":      `42`,
		"empty array": `[]`,
	} {
		fp := Fingerprint("/in/bad.json", []byte(content))
		_, _, err := im.Parse(InputConfig{Source: "calendar"}, fp, []byte(content))
		var fe *FileError
		require.ErrorAs(t, err, &fe, name)
		require.Equal(t, "/in/bad.json", fe.Path)
	}

	fp := Fingerprint("/in/data.xml", []byte("<x/>"))
	_, _, err := im.Parse(InputConfig{Source: "calendar", Format: "xml"}, fp, []byte("<x/>"))
	require.Error(t, err)
}

func TestDetectFormat(t *testing.T) {
	require.Equal(t, "csv", detectFormat("csv", "/a.json", nil))
	require.Equal(t, "json", detectFormat("", "/a.JSON", nil))
	require.Equal(t, "csv", detectFormat("", "/a.csv", []byte("[")))
	require.Equal(t, "json", detectFormat("", "/a.export", []byte("  [{}]")))
	require.Equal(t, "csv", detectFormat("", "/a.export", []byte("title,start")))
}

func TestParseTimeString(t *testing.T) {
	loc := seoul(t)
	cases := map[string]time.Time{
		"2024-01-15T09:00:00Z":      time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
		"2024-01-15T09:00:00+09:00": time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		"2024-01-15 09:00:00":       time.Date(2024, 1, 15, 9, 0, 0, 0, loc),
		"2024/01/15 09:00":          time.Date(2024, 1, 15, 9, 0, 0, 0, loc),
		"2024. 1. 15. 09:00":        time.Date(2024, 1, 15, 9, 0, 0, 0, loc),
		"2024-01-15":                time.Date(2024, 1, 15, 0, 0, 0, 0, loc),
		"1705276800":                time.Unix(1705276800, 0),
	}
	for in, want := range cases {
		got, ok := parseTimeString(in, loc)
		require.True(t, ok, in)
		require.True(t, got.Equal(want), "%s: got %s want %s", in, got, want)
	}
	for _, in := range []string{"", "yesterday", "-5"} {
		_, ok := parseTimeString(in, loc)
		require.False(t, ok, in)
	}
}
