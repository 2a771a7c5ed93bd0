package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"activity-sync/activity"
	"activity-sync/split"
	"activity-sync/taxonomy"
)

// RecordError reports a raw record that was skipped.
type RecordError struct {
	Key string
	Err error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %s: %v", e.Key, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// Transformer turns raw records into canonical day segments.
type Transformer struct {
	classifier *taxonomy.Classifier
	loc        *time.Location
	workers    int
}

func NewTransformer(classifier *taxonomy.Classifier, loc *time.Location, workers int) *Transformer {
	if loc == nil {
		loc = time.Local
	}
	if workers <= 0 {
		workers = 1
	}
	return &Transformer{classifier: classifier, loc: loc, workers: workers}
}

// Transform splits one raw record at local midnights and classifies every
// piece.
func (t *Transformer) Transform(r activity.Raw) ([]activity.Canonical, error) {
	if err := r.Validate(); err != nil {
		return nil, &RecordError{Key: r.EntityKey(), Err: err}
	}
	start, end := r.Start.In(t.loc), r.End.In(t.loc)
	sleepLike := t.classifier.SleepLike(r.Category, r.Title)

	segs, err := split.Split(start, end, sleepLike)
	if err != nil {
		return nil, &RecordError{Key: r.EntityKey(), Err: err}
	}

	out := make([]activity.Canonical, 0, len(segs))
	for _, seg := range segs {
		res := t.classifier.Classify(taxonomy.Record{
			EntityKey: r.EntityKey(),
			Category:  r.Category,
			SubLabel:  r.SubLabel,
			Title:     r.Title,
			Notes:     r.Notes,
			Date:      seg.Date,
		})
		c := activity.Canonical{
			Source:             r.Source,
			SourceID:           r.SourceID,
			Start:              seg.Start,
			End:                seg.End,
			DateOfRecord:       seg.Date,
			Category:           res.Category,
			OriginalCategory:   r.Category,
			SubLabel:           res.SubLabel,
			Title:              res.Title,
			OriginalTitle:      r.Title,
			Notes:              res.Notes,
			Tags:               res.Tags,
			HasRelationshipTag: res.HasRelationshipTag,
			HasEmotionEvent:    res.HasEmotionEvent,
			SleepLike:          sleepLike,
			Attributes:         res.Attributes,
			Author:             r.Author,
			Active:             true,
		}
		c.Description = activity.Describe(c)
		if err := c.Validate(); err != nil {
			return nil, &RecordError{Key: c.SegmentKey(), Err: err}
		}
		out = append(out, c)
	}
	return out, nil
}

// TransformAll runs Transform over raws on a bounded pool. Output keeps the
// input order; failed records are reported and left out.
func (t *Transformer) TransformAll(ctx context.Context, raws []activity.Raw) ([]activity.Canonical, []error, error) {
	results := make([][]activity.Canonical, len(raws))
	errs := make([]error, len(raws))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.workers)
	for i, r := range raws {
		i, r := i, r
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i], errs[i] = t.Transform(r)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var out []activity.Canonical
	var failed []error
	for i := range raws {
		if errs[i] != nil {
			failed = append(failed, errs[i])
			continue
		}
		out = append(out, results[i]...)
	}
	return out, failed, nil
}
