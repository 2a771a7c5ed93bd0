package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gorm.io/gorm"

	"activity-sync/activity"
	"activity-sync/taxonomy"
)

// ErrDeletionsNotReported refuses reconciliation for sources whose fetches
// cannot prove that a record is gone.
var ErrDeletionsNotReported = errors.New("source does not report deletions")

type RunnerConfig struct {
	Database        DatabaseConfig
	Location        *time.Location
	Inputs          []InputConfig
	Sources         map[string]SourceConfig
	Taxonomy        taxonomy.Config
	Workers         int
	BatchSize       int
	HashHexLen      int
	Timeout         time.Duration
	MetricsTextfile string
	Publish         PublishConfig

	Logger *slog.Logger
	// Publisher overrides the one built from Publish.
	Publisher Publisher
}

// RunnerConfigFromFile maps a loaded config file onto a RunnerConfig.
func RunnerConfigFromFile(fc *FileConfig, logger *slog.Logger) (RunnerConfig, error) {
	loc, err := fc.Location()
	if err != nil {
		return RunnerConfig{}, err
	}
	return RunnerConfig{
		Database:        fc.Database,
		Location:        loc,
		Inputs:          fc.Inputs(),
		Sources:         fc.Sources,
		Taxonomy:        fc.Taxonomy,
		Workers:         fc.Workers,
		BatchSize:       fc.BatchSize,
		HashHexLen:      fc.HashHexLen,
		Timeout:         fc.Timeout,
		MetricsTextfile: fc.MetricsTextfile,
		Publish:         fc.Publish,
		Logger:          logger,
	}, nil
}

type Runner struct {
	cfg RunnerConfig
	db  *gorm.DB
	log *slog.Logger

	detector    *FileChangeDetector
	selector    *IncrementalSelector
	archive     *RawArchive
	importer    *Importer
	transformer *Transformer
	writer      *SyncWriter
	publisher   Publisher
	filter      Filter
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	for _, in := range cfg.Inputs {
		if strings.TrimSpace(in.Source) == "" {
			return nil, fmt.Errorf("input %q: source is required", in.Glob)
		}
		switch in.Format {
		case "", "json", "csv":
		default:
			return nil, fmt.Errorf("input %q: unsupported format %q", in.Glob, in.Format)
		}
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	classifier, err := taxonomy.New(cfg.Taxonomy)
	if err != nil {
		return nil, fmt.Errorf("taxonomy: %w", err)
	}
	db, err := OpenDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	publisher := cfg.Publisher
	if publisher == nil {
		if len(cfg.Publish.Brokers) > 0 {
			publisher = NewKafkaPublisher(cfg.Publish.Brokers, cfg.Publish.Topic)
		} else {
			publisher = noopPublisher{}
		}
	}

	return &Runner{
		cfg:         cfg,
		db:          db,
		log:         cfg.Logger,
		detector:    NewFileChangeDetector(db),
		selector:    NewIncrementalSelector(db, cfg.BatchSize),
		archive:     NewRawArchive(db, cfg.BatchSize),
		importer:    NewImporter(cfg.Location, cfg.HashHexLen),
		transformer: NewTransformer(classifier, cfg.Location, cfg.Workers),
		writer:      NewSyncWriter(db, cfg.BatchSize),
		publisher:   publisher,
		filter:      CategoryFilter(cfg.Sources),
	}, nil
}

func (r *Runner) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	pubErr := r.publisher.Close()
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	err = sqlDB.Close()
	r.db = nil
	return errors.Join(pubErr, err)
}

// DB exposes the store for read-side commands.
func (r *Runner) DB() *gorm.DB {
	return r.db
}

type RunReport struct {
	FilesImported int
	FilesSkipped  int
	FilesFailed   int
	RawSelected   int
	RawCurrent    int
	RawFiltered   int
	RecordErrors  int
	Sync          SyncResult
	Deactivated   int64
	Published     int
}

// RunOnce imports new files, reprocesses changed raw records, propagates
// deletions and publishes what changed. It returns early only when the store
// or the context is lost; everything else is counted in the report.
func (r *Runner) RunOnce(ctx context.Context) (report RunReport, err error) {
	start := time.Now()
	m := newRunMetrics()
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	defer func() {
		m.finish(start, err)
		if werr := m.writeTextfile(r.cfg.MetricsTextfile); werr != nil {
			r.log.Warn("write metrics textfile", "path", r.cfg.MetricsTextfile, "err", werr)
		}
	}()
	r.log.Debug("run start", "inputs", len(r.cfg.Inputs), "timeout", r.cfg.Timeout)

	files, err := expandInputs(r.cfg.Inputs)
	if err != nil {
		return report, fmt.Errorf("expand inputs: %w", err)
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		imported, err := r.importFile(ctx, f, &report, m)
		switch {
		case err == nil && imported:
			report.FilesImported++
			m.files.WithLabelValues("imported").Inc()
		case err == nil:
			report.FilesSkipped++
			m.files.WithLabelValues("skipped").Inc()
		case isFatal(err):
			m.files.WithLabelValues("failed").Inc()
			return report, err
		default:
			report.FilesFailed++
			m.files.WithLabelValues("failed").Inc()
			r.log.Warn("file not imported", "path", f.Path, "err", err)
		}
	}

	if err := r.syncRaw(ctx, &report, m); err != nil {
		return report, err
	}

	deactivated, err := r.selector.DeactivateDeleted(ctx)
	if err != nil {
		return report, r.storeErr(ctx, err, "deactivate deleted")
	}
	report.Deactivated = deactivated
	m.deactivated.Add(float64(deactivated))

	if changed := report.Sync.Changed; len(changed) > 0 {
		if err := r.publisher.Publish(ctx, changed); err != nil {
			// Stored records stay valid; the next change republishes.
			r.log.Warn("publish changes", "records", len(changed), "err", err)
		} else {
			report.Published = len(changed)
			m.published.Add(float64(len(changed)))
		}
	}

	r.log.Info("run done",
		"files_imported", report.FilesImported,
		"files_skipped", report.FilesSkipped,
		"files_failed", report.FilesFailed,
		"raw_selected", report.RawSelected,
		"inserted", report.Sync.Inserted,
		"modified", report.Sync.Modified,
		"unchanged", report.Sync.Unchanged,
		"retired", report.Sync.Retired,
		"failed", len(report.Sync.Failed),
		"deactivated", report.Deactivated,
		"elapsed", time.Since(start))
	return report, nil
}

func isFatal(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// storeErr keeps a fatal store or context error as is and wraps the rest.
func (r *Runner) storeErr(ctx context.Context, err error, what string) error {
	if fatal := checkStore(ctx, r.db, err); fatal != nil {
		return fatal
	}
	return fmt.Errorf("%s: %w", what, err)
}

// importFile syncs one file and acknowledges it once every record is
// written. It reports false for files that need no work.
func (r *Runner) importFile(ctx context.Context, f inputFile, report *RunReport, m *runMetrics) (bool, error) {
	info, err := os.Stat(f.Path)
	if err != nil {
		return false, &FileError{Path: f.Path, Err: err}
	}
	if info.Size() == 0 {
		// Probably still being written.
		r.log.Debug("skip empty file", "path", f.Path)
		return false, nil
	}
	content, err := os.ReadFile(f.Path)
	if err != nil {
		return false, &FileError{Path: f.Path, Err: err}
	}
	fp := Fingerprint(f.Path, content)
	fp.ModTime = info.ModTime()

	seen, err := r.detector.Seen(ctx, fp)
	if err != nil {
		return false, r.storeErr(ctx, err, "file lookup")
	}
	if seen {
		r.log.Debug("skip processed file", "path", f.Path, "sha256", fp.SHA256)
		return false, nil
	}

	records, recErrs, err := r.importer.Parse(f.Input, fp, content)
	if err != nil {
		return false, err
	}
	r.logRecordErrors(recErrs, report, m)

	kept := records[:0]
	var live []activity.Raw
	for _, rec := range records {
		if !r.filter(rec.Raw) {
			report.RawFiltered++
			continue
		}
		kept = append(kept, rec)
		if !rec.Raw.Deleted {
			live = append(live, rec.Raw)
		}
	}
	if err := r.archive.Put(ctx, kept); err != nil {
		return false, r.storeErr(ctx, err, "archive raw records")
	}

	canon, tErrs, err := r.transformer.TransformAll(ctx, live)
	if err != nil {
		return false, err
	}
	r.logRecordErrors(tErrs, report, m)

	res, err := r.writer.Write(ctx, canon)
	report.Sync.Add(res)
	m.observeSync(res)
	if err != nil {
		return false, err
	}
	if len(res.Failed) > 0 {
		for _, fe := range res.Failed {
			r.log.Warn("canonical record not written", "path", f.Path, "err", &fe)
		}
		return false, &FileError{Path: f.Path, Err: fmt.Errorf("%d records not written", len(res.Failed))}
	}

	if err := r.detector.Acknowledge(ctx, fp, f.Input.Source, len(kept)); err != nil {
		return false, r.storeErr(ctx, err, "acknowledge file")
	}
	r.log.Debug("file imported", "path", f.Path, "records", len(kept),
		"inserted", res.Inserted, "modified", res.Modified, "unchanged", res.Unchanged)

	if dir := strings.TrimSpace(f.Input.ArchiveDir); dir != "" {
		dst, err := ArchiveFile(f.Path, dir)
		if err != nil {
			r.log.Warn("archive file", "path", f.Path, "dir", dir, "err", err)
			return true, nil
		}
		if err := r.detector.MarkArchived(ctx, fp, dst); err != nil {
			r.log.Warn("mark archived", "path", f.Path, "err", err)
		}
	}
	return true, nil
}

// syncRaw reprocesses raw records that collaborators wrote or changed since
// their canonical records were last processed.
func (r *Runner) syncRaw(ctx context.Context, report *RunReport, m *runMetrics) error {
	raws, err := r.selector.LoadRaw(ctx)
	if err != nil {
		return r.storeErr(ctx, err, "load raw records")
	}
	if len(raws) == 0 {
		return nil
	}
	wm, err := r.selector.LoadWatermarks(ctx, raws)
	if err != nil {
		return r.storeErr(ctx, err, "load watermarks")
	}
	sel := Select(raws, wm, r.filter)
	report.RawSelected += len(sel.Selected)
	report.RawCurrent += sel.Current
	report.RawFiltered += sel.Filtered
	m.rawSelected.Add(float64(len(sel.Selected)))
	r.log.Debug("raw selection", "loaded", len(raws), "selected", len(sel.Selected),
		"current", sel.Current, "filtered", sel.Filtered)
	if len(sel.Selected) == 0 {
		return nil
	}

	canon, tErrs, err := r.transformer.TransformAll(ctx, sel.Selected)
	if err != nil {
		return err
	}
	r.logRecordErrors(tErrs, report, m)

	res, err := r.writer.Write(ctx, canon)
	report.Sync.Add(res)
	m.observeSync(res)
	for _, fe := range res.Failed {
		r.log.Warn("canonical record not written", "err", &fe)
	}
	return err
}

func (r *Runner) logRecordErrors(errs []error, report *RunReport, m *runMetrics) {
	for _, err := range errs {
		r.log.Warn("skip malformed record", "err", err)
	}
	report.RecordErrors += len(errs)
	m.recordErrors.Add(float64(len(errs)))
}

type ReconcileRequest struct {
	Source   string
	Author   string
	From     time.Time
	To       time.Time
	Observed []string
}

type ReconcileReport struct {
	Marked      int64
	Deactivated int64
}

// Reconcile treats records of a fetch window that the fetch did not return
// as deleted, then deactivates their canonical records.
func (r *Runner) Reconcile(ctx context.Context, req ReconcileRequest) (ReconcileReport, error) {
	var rep ReconcileReport
	if !r.cfg.Sources[req.Source].ReportsDeletions {
		return rep, fmt.Errorf("%w: %q", ErrDeletionsNotReported, req.Source)
	}
	marked, err := r.selector.MarkMissing(ctx, req.Source, req.Author, req.From, req.To, req.Observed)
	if err != nil {
		return rep, fmt.Errorf("mark missing: %w", err)
	}
	rep.Marked = marked
	deactivated, err := r.selector.DeactivateDeleted(ctx)
	if err != nil {
		return rep, r.storeErr(ctx, err, "deactivate deleted")
	}
	rep.Deactivated = deactivated
	r.log.Info("reconciled", "source", req.Source, "author", req.Author,
		"from", req.From, "to", req.To, "observed", len(req.Observed),
		"marked", marked, "deactivated", deactivated)
	return rep, nil
}

// LoadRawFile parses an export file and stores its records as if a
// collaborator had written them: they are governed by watermarks, not by
// file-level dedup.
func (r *Runner) LoadRawFile(ctx context.Context, in InputConfig, path string) (int, []error, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, &FileError{Path: path, Err: err}
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, nil, &FileError{Path: path, Err: err}
	}
	fp := Fingerprint(path, content)
	fp.ModTime = info.ModTime()
	records, rejected, err := r.importer.Parse(in, fp, content)
	if err != nil {
		return 0, nil, err
	}
	for i := range records {
		records[i].Raw.FileDigest = ""
	}
	if err := r.archive.Put(ctx, records); err != nil {
		return 0, rejected, r.storeErr(ctx, err, "store raw records")
	}
	return len(records), rejected, nil
}

// Segments returns the stored canonical records of one date, optionally for
// one author, in start order.
func (r *Runner) Segments(ctx context.Context, date, author string, includeInactive bool) ([]activity.Canonical, error) {
	q := r.db.WithContext(ctx).Where("date_of_record = ?", date)
	if author != "" {
		q = q.Where("author = ?", author)
	}
	if !includeInactive {
		q = q.Where("active = ?", true)
	}
	var rows []CanonicalActivity
	if err := q.Order("start_at, segment_key").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]activity.Canonical, 0, len(rows))
	for _, row := range rows {
		c, err := canonicalFromModel(row)
		if err != nil {
			return nil, fmt.Errorf("segment %s: %w", row.SegmentKey, err)
		}
		out = append(out, c)
	}
	return out, nil
}
