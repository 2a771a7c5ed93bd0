package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"activity-sync/activity"
)

// Publisher announces changed canonical records to downstream readers.
type Publisher interface {
	Publish(ctx context.Context, records []activity.Canonical) error
	Close() error
}

// ChangeEvent is the message value. Readers apply last-writer-wins per ID.
type ChangeEvent struct {
	ID           string          `json:"id"`
	SegmentKey   string          `json:"segment_key"`
	Source       string          `json:"source"`
	SourceID     string          `json:"source_id"`
	DateOfRecord string          `json:"date_of_record"`
	Author       string          `json:"author"`
	Start        time.Time       `json:"start"`
	End          time.Time       `json:"end"`
	Category     string          `json:"category"`
	SubLabel     string          `json:"sub_label,omitempty"`
	Title        string          `json:"title"`
	Notes        string          `json:"notes,omitempty"`
	Tags         []string        `json:"tags"`
	Attributes   json.RawMessage `json:"attributes"`
	Description  string          `json:"description"`
	Active       bool            `json:"active"`
	ProcessedAt  time.Time       `json:"processed_at"`
}

func NewChangeEvent(c activity.Canonical) (ChangeEvent, error) {
	attrs, err := activity.MarshalAttributes(c.Attributes)
	if err != nil {
		return ChangeEvent{}, err
	}
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	return ChangeEvent{
		ID:           c.ID,
		SegmentKey:   c.SegmentKey(),
		Source:       c.Source,
		SourceID:     c.SourceID,
		DateOfRecord: c.DateOfRecord,
		Author:       c.Author,
		Start:        c.Start.UTC(),
		End:          c.End.UTC(),
		Category:     c.Category,
		SubLabel:     c.SubLabel,
		Title:        c.Title,
		Notes:        c.Notes,
		Tags:         tags,
		Attributes:   attrs,
		Description:  c.Description,
		Active:       c.Active,
		ProcessedAt:  c.ProcessedAt.UTC(),
	}, nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per record, keyed by segment key so all
// versions of a segment land on one partition.
type KafkaPublisher struct {
	writer    messageWriter
	batchSize int
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
		},
		batchSize: 100,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, records []activity.Canonical) error {
	msgs := make([]kafka.Message, 0, min(len(records), p.batchSize))
	for _, rec := range records {
		ev, err := NewChangeEvent(rec)
		if err != nil {
			return &ItemError{SegmentKey: rec.SegmentKey(), Err: err}
		}
		value, err := json.Marshal(ev)
		if err != nil {
			return &ItemError{SegmentKey: rec.SegmentKey(), Err: err}
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.SegmentKey),
			Value: value,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte("canonical_activity.changed")},
			},
		})
		if len(msgs) == p.batchSize {
			if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
				return err
			}
			msgs = msgs[:0]
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, []activity.Canonical) error { return nil }
func (noopPublisher) Close() error                                       { return nil }
