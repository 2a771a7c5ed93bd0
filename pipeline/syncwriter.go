package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"activity-sync/activity"
)

// ItemError is one canonical record the writer could not store.
type ItemError struct {
	SegmentKey string
	Err        error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("write %s: %v", e.SegmentKey, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

type SyncResult struct {
	// Matched records already had a stored identity.
	Matched   int
	Modified  int
	Inserted  int
	Unchanged int
	Retired   int
	Failed    []ItemError
	// Changed holds the inserted and modified records as written.
	Changed []activity.Canonical
}

// Add folds other into r.
func (r *SyncResult) Add(other SyncResult) {
	r.Matched += other.Matched
	r.Modified += other.Modified
	r.Inserted += other.Inserted
	r.Unchanged += other.Unchanged
	r.Retired += other.Retired
	r.Failed = append(r.Failed, other.Failed...)
	r.Changed = append(r.Changed, other.Changed...)
}

// SyncWriter upserts canonical records by segment key. Identity is reused
// from the store, so rerunning a batch converges instead of duplicating.
type SyncWriter struct {
	db        *gorm.DB
	batchSize int
	now       func() time.Time
}

func NewSyncWriter(db *gorm.DB, batchSize int) *SyncWriter {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &SyncWriter{db: db, batchSize: batchSize, now: func() time.Time { return time.Now().UTC() }}
}

type entityRef struct {
	source string
	id     string
}

type pendingWrite struct {
	rec      activity.Canonical
	model    CanonicalActivity
	existing bool
}

// Write stores records. Item failures are reported in the result; the error
// return is reserved for losing the store or the context.
func (w *SyncWriter) Write(ctx context.Context, records []activity.Canonical) (SyncResult, error) {
	var res SyncResult
	now := w.now()

	// Validate and keep the last record per segment key.
	order := make([]string, 0, len(records))
	byKey := make(map[string]activity.Canonical, len(records))
	produced := make(map[entityRef]map[string]struct{})
	for _, rec := range records {
		key := rec.SegmentKey()
		ref := entityRef{source: rec.Source, id: rec.SourceID}
		if set, ok := produced[ref]; ok {
			set[key] = struct{}{}
		} else {
			produced[ref] = map[string]struct{}{key: {}}
		}
		if err := rec.Validate(); err != nil {
			res.Failed = append(res.Failed, ItemError{SegmentKey: key, Err: err})
			continue
		}
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = rec
	}

	existing, err := w.loadExisting(ctx, order)
	if err != nil {
		if storeErr := checkStore(ctx, w.db, err); storeErr != nil {
			return res, storeErr
		}
		return res, fmt.Errorf("load existing: %w", err)
	}

	var pending []pendingWrite
	var unchanged []string
	for _, key := range order {
		rec := byKey[key]
		rec.ProcessedAt = now
		hash, err := rec.Fingerprint()
		if err != nil {
			res.Failed = append(res.Failed, ItemError{SegmentKey: key, Err: err})
			continue
		}
		ex, found := existing[key]
		if found {
			res.Matched++
			rec.ID = ex.ID
			if ex.ContentHash == hash && ex.Active {
				unchanged = append(unchanged, key)
				continue
			}
		} else {
			rec.ID = uuid.NewString()
		}
		model, err := canonicalToModel(rec, hash)
		if err != nil {
			res.Failed = append(res.Failed, ItemError{SegmentKey: key, Err: err})
			continue
		}
		pending = append(pending, pendingWrite{rec: rec, model: model, existing: found})
	}

	for start := 0; start < len(pending); start += w.batchSize {
		end := min(start+w.batchSize, len(pending))
		if err := w.writeChunk(ctx, pending[start:end], &res); err != nil {
			return res, err
		}
	}

	for _, chunk := range chunkStrings(unchanged, w.batchSize) {
		err := w.db.WithContext(ctx).Model(&CanonicalActivity{}).
			Where("segment_key IN ?", chunk).
			Update("processed_at", now).Error
		if err != nil {
			if storeErr := checkStore(ctx, w.db, err); storeErr != nil {
				return res, storeErr
			}
			for _, key := range chunk {
				res.Failed = append(res.Failed, ItemError{SegmentKey: key, Err: err})
			}
			continue
		}
		res.Unchanged += len(chunk)
	}

	retired, err := w.retireStale(ctx, produced)
	res.Retired = retired
	if err != nil {
		if storeErr := checkStore(ctx, w.db, err); storeErr != nil {
			return res, storeErr
		}
		return res, fmt.Errorf("retire stale segments: %w", err)
	}
	return res, nil
}

func (w *SyncWriter) upsert(ctx context.Context, models any) error {
	return w.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "segment_key"}},
			DoUpdates: clause.AssignmentColumns(canonicalUpdateColumns),
		}).
		Create(models).Error
}

// writeChunk tries one bulk upsert and falls back to single rows so a bad
// record only fails itself.
func (w *SyncWriter) writeChunk(ctx context.Context, chunk []pendingWrite, res *SyncResult) error {
	models := make([]CanonicalActivity, len(chunk))
	for i := range chunk {
		models[i] = chunk[i].model
	}
	err := w.upsert(ctx, &models)
	if err == nil {
		return w.record(ctx, chunk, res)
	}
	if storeErr := checkStore(ctx, w.db, err); storeErr != nil {
		return storeErr
	}

	written := make([]pendingWrite, 0, len(chunk))
	for _, p := range chunk {
		m := p.model
		if err := w.upsert(ctx, &m); err != nil {
			if storeErr := checkStore(ctx, w.db, err); storeErr != nil {
				return storeErr
			}
			res.Failed = append(res.Failed, ItemError{SegmentKey: m.SegmentKey, Err: err})
			continue
		}
		written = append(written, p)
	}
	return w.record(ctx, written, res)
}

// record counts written rows. An upsert keeps the id of whichever run
// inserted the key first, so minted ids are read back before they are
// reported as changed.
func (w *SyncWriter) record(ctx context.Context, written []pendingWrite, res *SyncResult) error {
	var minted []string
	for _, p := range written {
		if !p.existing {
			minted = append(minted, p.model.SegmentKey)
		}
	}
	stored, err := w.loadExisting(ctx, minted)
	if err != nil {
		if storeErr := checkStore(ctx, w.db, err); storeErr != nil {
			return storeErr
		}
		stored = nil
	}
	for _, p := range written {
		if row, ok := stored[p.model.SegmentKey]; ok && !p.existing {
			p.rec.ID = row.ID
		}
		w.count(p, res)
	}
	return nil
}

func (w *SyncWriter) count(p pendingWrite, res *SyncResult) {
	if p.existing {
		res.Modified++
	} else {
		res.Inserted++
	}
	res.Changed = append(res.Changed, p.rec)
}

func (w *SyncWriter) loadExisting(ctx context.Context, keys []string) (map[string]CanonicalActivity, error) {
	out := make(map[string]CanonicalActivity, len(keys))
	for _, chunk := range chunkStrings(keys, w.batchSize) {
		var rows []CanonicalActivity
		err := w.db.WithContext(ctx).
			Select("id", "segment_key", "content_hash", "active").
			Where("segment_key IN ?", chunk).
			Find(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			out[row.SegmentKey] = row
		}
	}
	return out, nil
}

// retireStale deactivates active segments of the written entities that the
// batch no longer produces, e.g. after an event was shortened to one day.
func (w *SyncWriter) retireStale(ctx context.Context, produced map[entityRef]map[string]struct{}) (int, error) {
	bySource := make(map[string][]string)
	for ref := range produced {
		bySource[ref.source] = append(bySource[ref.source], ref.id)
	}

	var stale []string
	for source, ids := range bySource {
		for _, chunk := range chunkStrings(ids, w.batchSize) {
			var rows []CanonicalActivity
			err := w.db.WithContext(ctx).
				Select("id", "segment_key", "source", "source_id").
				Where("active = ? AND source = ? AND source_id IN ?", true, source, chunk).
				Find(&rows).Error
			if err != nil {
				return 0, err
			}
			for _, row := range rows {
				keys := produced[entityRef{source: row.Source, id: row.SourceID}]
				if _, ok := keys[row.SegmentKey]; !ok {
					stale = append(stale, row.ID)
				}
			}
		}
	}

	retired := 0
	for _, chunk := range chunkStrings(stale, w.batchSize) {
		res := w.db.WithContext(ctx).Model(&CanonicalActivity{}).
			Where("id IN ?", chunk).
			Updates(map[string]any{"active": false, "processed_at": w.now()})
		if res.Error != nil {
			return retired, res.Error
		}
		retired += int(res.RowsAffected)
	}
	return retired, nil
}
