package pipeline

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"activity-sync/taxonomy"
)

// InputFileConfig is one batch-import input. Source names the records it
// yields.
type InputFileConfig struct {
	Source     string `yaml:"source"`
	Glob       string `yaml:"glob"`
	Format     string `yaml:"format"`
	Author     string `yaml:"author"`
	ArchiveDir string `yaml:"archive_dir"`
}

// FilesConfig accepts either:
//  1. mapping form (preferred):
//     files:
//     calendar: /data/exports/**/*.json
//     notes:    {glob: /data/notes/*.csv, archive_dir: /data/done}
//  2. list form:
//     files:
//     - source: calendar
//     glob: /data/exports/*.json
type FilesConfig struct {
	Items []InputFileConfig
}

func (f *FilesConfig) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case yaml.MappingNode:
		items := make([]InputFileConfig, 0, len(value.Content)/2)
		for i := 0; i+1 < len(value.Content); i += 2 {
			k := value.Content[i]
			v := value.Content[i+1]
			source := strings.TrimSpace(k.Value)
			if source == "" {
				continue
			}

			switch v.Kind {
			case yaml.ScalarNode:
				glob := strings.TrimSpace(v.Value)
				if glob == "" {
					continue
				}
				items = append(items, InputFileConfig{Source: source, Glob: glob})
			case yaml.MappingNode:
				var tmp InputFileConfig
				if err := v.Decode(&tmp); err != nil {
					return err
				}
				if strings.TrimSpace(tmp.Glob) == "" {
					continue
				}
				tmp.Source = source
				tmp.Glob = strings.TrimSpace(tmp.Glob)
				tmp.ArchiveDir = strings.TrimSpace(tmp.ArchiveDir)
				items = append(items, tmp)
			default:
				continue
			}
		}
		f.Items = items
		return nil
	case yaml.SequenceNode:
		var items []InputFileConfig
		if err := value.Decode(&items); err != nil {
			return err
		}
		f.Items = items
		return nil
	default:
		return nil
	}
}

type DatabaseConfig struct {
	// Driver is sqlite (default) or postgres.
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// SourceConfig holds per-source options.
type SourceConfig struct {
	// Categories, when set, limits processing to these category labels.
	Categories []string `yaml:"categories"`
	// ReportsDeletions marks sources whose fetches are complete enough to
	// infer deletions from absence.
	ReportsDeletions bool `yaml:"reports_deletions"`
}

type PublishConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type FileConfig struct {
	Database DatabaseConfig `yaml:"database"`

	Timezone string `yaml:"timezone"`
	Author   string `yaml:"author"`
	Debug    bool   `yaml:"debug"`
	LogFile  string `yaml:"log_file"`

	// MetricsTextfile is a node-exporter textfile written after every run.
	MetricsTextfile string `yaml:"metrics_textfile"`

	Workers    int           `yaml:"workers"`
	BatchSize  int           `yaml:"batch_size"`
	HashHexLen int           `yaml:"hash_hex_len"`
	Timeout    time.Duration `yaml:"timeout"`

	Files    FilesConfig             `yaml:"files"`
	Sources  map[string]SourceConfig `yaml:"sources"`
	Taxonomy taxonomy.Config         `yaml:"taxonomy"`
	Publish  PublishConfig           `yaml:"publish"`
}

// DefaultConfig is what LoadConfig overlays the file onto.
func DefaultConfig() FileConfig {
	return FileConfig{
		Database:   DatabaseConfig{Driver: "sqlite", Path: "activity-sync.db"},
		Timezone:   "Local",
		Workers:    4,
		BatchSize:  500,
		HashHexLen: 24,
		Taxonomy:   taxonomy.Default(),
		Publish:    PublishConfig{Topic: "activity.canonical"},
	}
}

func LoadConfig(path string) (*FileConfig, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Location resolves Timezone. Empty means Local.
func (c *FileConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Timezone)
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", name, err)
	}
	return loc, nil
}

// Inputs converts the files section into runner inputs, filling defaults.
func (c *FileConfig) Inputs() []InputConfig {
	out := make([]InputConfig, 0, len(c.Files.Items))
	for _, f := range c.Files.Items {
		author := f.Author
		if author == "" {
			author = c.Author
		}
		out = append(out, InputConfig{
			Source:     f.Source,
			Glob:       f.Glob,
			Format:     strings.ToLower(strings.TrimSpace(f.Format)),
			Author:     author,
			ArchiveDir: f.ArchiveDir,
		})
	}
	return out
}
