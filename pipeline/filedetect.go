package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FileFingerprint identifies one version of one file.
type FileFingerprint struct {
	Path    string
	SHA256  string
	Size    int64
	ModTime time.Time
}

// Fingerprint hashes content. The same bytes at another path are another file.
func Fingerprint(path string, content []byte) FileFingerprint {
	sum := sha256.Sum256(content)
	return FileFingerprint{
		Path:   path,
		SHA256: hex.EncodeToString(sum[:]),
		Size:   int64(len(content)),
	}
}

// FileChangeDetector remembers which (path, content) pairs were fully synced.
type FileChangeDetector struct {
	db *gorm.DB
}

func NewFileChangeDetector(db *gorm.DB) *FileChangeDetector {
	return &FileChangeDetector{db: db}
}

// Seen reports whether this exact file version was processed before.
func (d *FileChangeDetector) Seen(ctx context.Context, fp FileFingerprint) (bool, error) {
	var pf ProcessedFile
	err := d.db.WithContext(ctx).Where("path = ? AND sha256 = ?", fp.Path, fp.SHA256).First(&pf).Error
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, err
}

// Acknowledge records the file as processed. Call it only after every record
// of the file is synced. A concurrent run that got there first is not an
// error.
func (d *FileChangeDetector) Acknowledge(ctx context.Context, fp FileFingerprint, source string, records int) error {
	pf := ProcessedFile{
		Path:        fp.Path,
		SHA256:      fp.SHA256,
		Source:      source,
		SizeBytes:   fp.Size,
		ModUnixNano: fp.ModTime.UnixNano(),
		RecordCount: records,
		ProcessedAt: time.Now().UTC(),
	}
	return d.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&pf).Error
}

// MarkArchived notes where an acknowledged file was moved.
func (d *FileChangeDetector) MarkArchived(ctx context.Context, fp FileFingerprint, dst string) error {
	return d.db.WithContext(ctx).Model(&ProcessedFile{}).
		Where("path = ? AND sha256 = ?", fp.Path, fp.SHA256).
		Update("archived_to", dst).Error
}
