package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"activity-sync/taxonomy"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadConfig_MappingForm(t *testing.T) {
	p := writeConfig(t, `
database:
  path: /var/lib/activity-sync/db.sqlite
timezone: Asia/Seoul
author: kim
timeout: 90s
files:
  calendar: /data/exports/**/*.json
  notes:
    glob: /data/notes/*.csv
    format: CSV
    author: lee
    archive_dir: /data/done
  empty: ""
sources:
  calendar:
    categories: [work, rest]
    reports_deletions: true
taxonomy:
  categories:
    drain: [drains, "시간 낭비"]
  rename_rules:
    - {old: "학습", new: "학습 / 성장", cutoff: "2024-03-01"}
publish:
  brokers: [kafka:9092]
`)
	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "/var/lib/activity-sync/db.sqlite", cfg.Database.Path)
	require.Equal(t, 90*time.Second, cfg.Timeout)
	require.Equal(t, 4, cfg.Workers)
	require.Equal(t, "activity.canonical", cfg.Publish.Topic)
	require.Equal(t, []string{"kafka:9092"}, cfg.Publish.Brokers)
	require.True(t, cfg.Sources["calendar"].ReportsDeletions)

	inputs := cfg.Inputs()
	require.Len(t, inputs, 2)
	byName := map[string]InputConfig{}
	for _, in := range inputs {
		byName[in.Source] = in
	}
	require.Equal(t, InputConfig{Source: "calendar", Glob: "/data/exports/**/*.json", Author: "kim"}, byName["calendar"])
	require.Equal(t, InputConfig{Source: "notes", Glob: "/data/notes/*.csv", Format: "csv", Author: "lee", ArchiveDir: "/data/done"}, byName["notes"])

	// Keys not named in the file keep their defaults.
	require.Equal(t, []string{"drains", "시간 낭비"}, cfg.Taxonomy.Categories[taxonomy.KindDrain])
	require.NotEmpty(t, cfg.Taxonomy.Categories[taxonomy.KindProductivity])
	require.Len(t, cfg.Taxonomy.RenameRules, 1)
	require.NoError(t, cfg.Taxonomy.Validate())

	loc, err := cfg.Location()
	require.NoError(t, err)
	require.Equal(t, "Asia/Seoul", loc.String())
}

func TestLoadConfig_ListForm(t *testing.T) {
	p := writeConfig(t, `
files:
  - source: calendar
    glob: /data/a/*.json
  - source: export
    glob: /data/b/*.csv
    archive_dir: /data/done
`)
	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	inputs := cfg.Inputs()
	require.Len(t, inputs, 2)
	require.Equal(t, "calendar", inputs[0].Source)
	require.Equal(t, "/data/done", inputs[1].ArchiveDir)
}

func TestConfigLocation(t *testing.T) {
	cfg := DefaultConfig()
	loc, err := cfg.Location()
	require.NoError(t, err)
	require.Equal(t, time.Local, loc)

	cfg.Timezone = "Mars/Olympus"
	_, err = cfg.Location()
	require.Error(t, err)
}
