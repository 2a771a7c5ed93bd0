package pipeline

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"activity-sync/activity"
)

// InputConfig is one configured import input.
type InputConfig struct {
	Source     string
	Glob       string
	Format     string
	Author     string
	ArchiveDir string
}

// FileError means a whole file could not be read or decoded. The file is not
// acknowledged and is retried next run.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("file %s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// ImportedRecord is a parsed raw record plus the source fields it came from.
type ImportedRecord struct {
	Raw     activity.Raw
	Payload []byte
}

// Column and key spellings seen in calendar exports and API dumps. Keys are
// compared lower-cased.
var fieldAliases = map[string][]string{
	"id":        {"id", "event_id", "uid", "original_id"},
	"title":     {"title", "content.title", "summary", "event_name", "event title", "subject", "name"},
	"notes":     {"notes", "content.notes", "description", "memo"},
	"category":  {"category", "calendar_name", "calendar", "content.category"},
	"sub_label": {"sub_category", "sub_label", "content.sub_category", "location", "tags"},
	"start":     {"start", "start_datetime", "start_time", "start date/time", "start.datetime", "start.date"},
	"end":       {"end", "end_datetime", "end_time", "end date/time", "end.datetime", "end.date"},
	"modified":  {"modified_at", "updated", "updated_at", "last_modified"},
	"author":    {"author", "author_id", "author_full_name"},
	"deleted":   {"is_deleted", "deleted"},
}

func lookup(fields map[string]string, name string) string {
	for _, k := range fieldAliases[name] {
		if v, ok := fields[k]; ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// Importer decodes export files into raw records.
type Importer struct {
	loc        *time.Location
	hashHexLen int
}

func NewImporter(loc *time.Location, hashHexLen int) *Importer {
	if loc == nil {
		loc = time.Local
	}
	if hashHexLen <= 0 {
		hashHexLen = 24
	}
	return &Importer{loc: loc, hashHexLen: hashHexLen}
}

// Parse decodes content. Items that cannot become raw records are returned
// as RecordErrors next to the good ones.
func (im *Importer) Parse(in InputConfig, fp FileFingerprint, content []byte) ([]ImportedRecord, []error, error) {
	items, err := decodeItems(detectFormat(in.Format, fp.Path, content), content)
	if err != nil {
		return nil, nil, &FileError{Path: fp.Path, Err: err}
	}
	var out []ImportedRecord
	var errs []error
	for i, fields := range items {
		raw, err := im.toRaw(in, fp, fields)
		if err != nil {
			errs = append(errs, &RecordError{Key: fmt.Sprintf("%s#%d", fp.Path, i), Err: err})
			continue
		}
		payload, err := json.Marshal(fields)
		if err != nil {
			errs = append(errs, &RecordError{Key: raw.EntityKey(), Err: err})
			continue
		}
		out = append(out, ImportedRecord{Raw: raw, Payload: payload})
	}
	return out, errs, nil
}

func (im *Importer) toRaw(in InputConfig, fp FileFingerprint, fields map[string]string) (activity.Raw, error) {
	title := lookup(fields, "title")
	start, ok := parseTimeString(lookup(fields, "start"), im.loc)
	if !ok {
		return activity.Raw{}, fmt.Errorf("%w: missing or unreadable start", activity.ErrMalformedRecord)
	}
	end, ok := parseTimeString(lookup(fields, "end"), im.loc)
	if !ok {
		return activity.Raw{}, fmt.Errorf("%w: missing or unreadable end", activity.ErrMalformedRecord)
	}
	id := lookup(fields, "id")
	if id == "" {
		id = DerivedSourceID(title, start, im.hashHexLen)
	}
	modified, ok := parseTimeString(lookup(fields, "modified"), im.loc)
	if !ok {
		modified = fp.ModTime
	}
	author := lookup(fields, "author")
	if author == "" {
		author = in.Author
	}
	deleted, _ := strconv.ParseBool(lookup(fields, "deleted"))

	return activity.Raw{
		Source:     in.Source,
		SourceID:   id,
		Category:   lookup(fields, "category"),
		SubLabel:   lookup(fields, "sub_label"),
		Title:      title,
		Notes:      lookup(fields, "notes"),
		Start:      start,
		End:        end,
		Author:     author,
		ModifiedAt: modified,
		Deleted:    deleted,
		FileDigest: fp.SHA256,
		SourcePath: fp.Path,
	}, nil
}

func detectFormat(configured, path string, content []byte) string {
	if configured != "" {
		return configured
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonl":
		return "json"
	case ".csv":
		return "csv"
	}
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{') {
		return "json"
	}
	return "csv"
}

func decodeItems(format string, content []byte) ([]map[string]string, error) {
	switch format {
	case "json":
		return decodeJSONItems(content)
	case "csv":
		return decodeCSVItems(content)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// decodeJSONItems accepts an array, a single object, or a stream of objects.
func decodeJSONItems(content []byte) ([]map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()
	var out []map[string]string
	for {
		var v any
		err := dec.Decode(&v)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := v.(type) {
		case []any:
			for _, item := range t {
				if _, ok := item.(map[string]any); !ok {
					return nil, fmt.Errorf("array item is %T, want object", item)
				}
				out = append(out, flattenFields(item))
			}
		case map[string]any:
			out = append(out, flattenFields(t))
		default:
			return nil, fmt.Errorf("top-level value is %T, want object or array", v)
		}
	}
	if out == nil {
		return nil, fmt.Errorf("no records")
	}
	return out, nil
}

func decodeCSVItems(content []byte) ([]map[string]string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}
	var out []map[string]string
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		fields := make(map[string]string, len(header))
		for i, v := range row {
			if i < len(header) && header[i] != "" {
				fields[header[i]] = v
			}
		}
		out = append(out, fields)
	}
	return out, nil
}

// parseTimeString reads RFC 3339 and the common export layouts. Layouts
// without a zone are read in loc; unix seconds are accepted too.
func parseTimeString(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, true
	}
	layouts := []string{
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04",
		"2006-01-02T15:04",
		"2006/01/02 15:04:05",
		"2006/01/02 15:04",
		"2006. 1. 2. 15:04",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
			return ts, true
		}
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil && sec > 0 {
		return time.Unix(sec, 0).In(loc), true
	}
	return time.Time{}, false
}
