package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"activity-sync/activity"
)

// Watermarks maps an entity key to the oldest processed_at among its active
// canonical segments. Entities without active segments are absent.
type Watermarks map[string]time.Time

// Filter reports whether a raw record should be processed at all.
type Filter func(activity.Raw) bool

// CategoryFilter builds a Filter from per-source category lists. Sources
// without a list pass everything.
func CategoryFilter(sources map[string]SourceConfig) Filter {
	allowed := make(map[string]map[string]struct{})
	for name, sc := range sources {
		if len(sc.Categories) == 0 {
			continue
		}
		set := make(map[string]struct{}, len(sc.Categories))
		for _, c := range sc.Categories {
			set[strings.TrimSpace(c)] = struct{}{}
		}
		allowed[name] = set
	}
	return func(r activity.Raw) bool {
		set, ok := allowed[r.Source]
		if !ok {
			return true
		}
		_, ok = set[strings.TrimSpace(r.Category)]
		return ok
	}
}

type Selection struct {
	Selected []activity.Raw
	// Current counts records whose canonical form is up to date.
	Current int
	// Filtered counts records rejected by the category filter.
	Filtered int
	// FileGoverned counts records left to file-level dedup.
	FileGoverned int
}

// Select returns the records that need (re)processing: no active canonical
// record exists for the entity, or the record changed after the watermark.
func Select(raws []activity.Raw, wm Watermarks, filter Filter) Selection {
	var sel Selection
	for _, r := range raws {
		if r.FileDigest != "" {
			sel.FileGoverned++
			continue
		}
		if filter != nil && !filter(r) {
			sel.Filtered++
			continue
		}
		mark, ok := wm[r.EntityKey()]
		if ok && !r.ModifiedAt.After(mark) {
			sel.Current++
			continue
		}
		sel.Selected = append(sel.Selected, r)
	}
	return sel
}

// IncrementalSelector reads raw records and watermarks from the store and
// propagates deletions.
type IncrementalSelector struct {
	db        *gorm.DB
	chunkSize int
}

func NewIncrementalSelector(db *gorm.DB, chunkSize int) *IncrementalSelector {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	return &IncrementalSelector{db: db, chunkSize: chunkSize}
}

// LoadRaw returns the live raw records written by collaborators.
func (s *IncrementalSelector) LoadRaw(ctx context.Context) ([]activity.Raw, error) {
	var rows []RawActivity
	err := s.db.WithContext(ctx).
		Where("deleted = ? AND file_sha256 = ?", false, "").
		Order("source, source_id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]activity.Raw, 0, len(rows))
	for _, row := range rows {
		out = append(out, rawFromModel(row))
	}
	return out, nil
}

// LoadWatermarks reads the watermarks of the entities in raws.
func (s *IncrementalSelector) LoadWatermarks(ctx context.Context, raws []activity.Raw) (Watermarks, error) {
	bySource := make(map[string][]string)
	for _, r := range raws {
		bySource[r.Source] = append(bySource[r.Source], r.SourceID)
	}
	wm := make(Watermarks)
	for source, ids := range bySource {
		for _, chunk := range chunkStrings(ids, s.chunkSize) {
			var rows []CanonicalActivity
			err := s.db.WithContext(ctx).
				Select("source", "source_id", "processed_at").
				Where("active = ? AND source = ? AND source_id IN ?", true, source, chunk).
				Find(&rows).Error
			if err != nil {
				return nil, err
			}
			for _, row := range rows {
				key := activity.EntityKey(row.Source, row.SourceID)
				if cur, ok := wm[key]; !ok || row.ProcessedAt.Before(cur) {
					wm[key] = row.ProcessedAt
				}
			}
		}
	}
	return wm, nil
}

// MarkMissing soft-deletes raw records of source (and author, when set) that
// start inside [from, to) but were not in the latest fetch.
func (s *IncrementalSelector) MarkMissing(ctx context.Context, source, author string, from, to time.Time, observed []string) (int64, error) {
	if strings.TrimSpace(source) == "" {
		return 0, fmt.Errorf("source is required")
	}
	if !to.After(from) {
		return 0, fmt.Errorf("empty window %s..%s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	q := s.db.WithContext(ctx).Model(&RawActivity{}).
		Where("source = ? AND deleted = ? AND file_sha256 = ?", source, false, "").
		Where("start_at >= ? AND start_at < ?", from.UTC(), to.UTC())
	if author != "" {
		q = q.Where("author = ?", author)
	}
	var inWindow []string
	if err := q.Pluck("source_id", &inWindow).Error; err != nil {
		return 0, err
	}

	seen := make(map[string]struct{}, len(observed))
	for _, id := range observed {
		seen[id] = struct{}{}
	}
	var missing []string
	for _, id := range inWindow {
		if _, ok := seen[id]; !ok {
			missing = append(missing, id)
		}
	}

	now := time.Now().UTC()
	var marked int64
	for _, chunk := range chunkStrings(missing, s.chunkSize) {
		res := s.db.WithContext(ctx).Model(&RawActivity{}).
			Where("source = ? AND deleted = ? AND source_id IN ?", source, false, chunk).
			Updates(map[string]any{"deleted": true, "removed_at": &now})
		if res.Error != nil {
			return marked, res.Error
		}
		marked += res.RowsAffected
	}
	return marked, nil
}

// DeactivateDeleted marks the canonical segments of deleted raw entities
// inactive.
func (s *IncrementalSelector) DeactivateDeleted(ctx context.Context) (int64, error) {
	deleted := s.db.Model(&RawActivity{}).
		Select("1").
		Where("raw_activities.source = canonical_activities.source").
		Where("raw_activities.source_id = canonical_activities.source_id").
		Where("raw_activities.deleted = ?", true)
	res := s.db.WithContext(ctx).Model(&CanonicalActivity{}).
		Where("active = ?", true).
		Where("EXISTS (?)", deleted).
		Update("active", false)
	return res.RowsAffected, res.Error
}

func chunkStrings(in []string, size int) [][]string {
	if size <= 0 {
		size = len(in)
	}
	var out [][]string
	for len(in) > 0 {
		n := size
		if n > len(in) {
			n = len(in)
		}
		out = append(out, in[:n])
		in = in[n:]
	}
	return out
}
