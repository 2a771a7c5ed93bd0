package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRunMetrics_WriteTextfile(t *testing.T) {
	m := newRunMetrics()
	m.files.WithLabelValues("imported").Add(2)
	m.observeSync(SyncResult{Inserted: 3, Unchanged: 1, Failed: []ItemError{{SegmentKey: "x"}}})
	m.finish(time.Now().Add(-time.Second), nil)

	p := filepath.Join(t.TempDir(), "activity_sync.prom")
	if err := m.writeTextfile(p); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	out := string(b)
	for _, want := range []string{
		`activity_sync_run_files_total{result="imported"} 2`,
		`activity_sync_run_canonical_records_total{outcome="inserted"} 3`,
		`activity_sync_run_canonical_records_total{outcome="failed"} 1`,
		"activity_sync_run_last_success_timestamp_seconds",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestRunMetrics_EmptyPathIsNoop(t *testing.T) {
	if err := newRunMetrics().writeTextfile(""); err != nil {
		t.Fatal(err)
	}
}
