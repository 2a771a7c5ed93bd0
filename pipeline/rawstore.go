package pipeline

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var rawUpdateColumns = []string{
	"category", "sub_label", "title", "notes", "start_at", "end_at", "author",
	"modified_at", "deleted", "removed_at", "file_sha256", "source_path", "payload",
	"updated_at",
}

// RawArchive stores raw records keyed by (source, source_id).
type RawArchive struct {
	db        *gorm.DB
	batchSize int
}

func NewRawArchive(db *gorm.DB, batchSize int) *RawArchive {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &RawArchive{db: db, batchSize: batchSize}
}

// Put upserts records. A later version of an entity replaces the stored one,
// and a record that is no longer deleted is restored.
func (a *RawArchive) Put(ctx context.Context, records []ImportedRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]RawActivity, 0, len(records))
	seen := make(map[string]int, len(records))
	for _, rec := range records {
		row := rawToModel(rec.Raw, rec.Payload)
		if i, ok := seen[rec.Raw.EntityKey()]; ok {
			rows[i] = row
			continue
		}
		seen[rec.Raw.EntityKey()] = len(rows)
		rows = append(rows, row)
	}
	return a.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source"}, {Name: "source_id"}},
			DoUpdates: clause.AssignmentColumns(rawUpdateColumns),
		}).
		CreateInBatches(&rows, a.batchSize).Error
}
