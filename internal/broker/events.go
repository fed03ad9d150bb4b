package appkafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"example.com/photofeed/internal/models"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Event is an interaction that produces a notification for Recipient.
type Event struct {
	ID         string                  `json:"id"`
	Kind       models.NotificationKind `json:"kind"`
	Actor      string                  `json:"actor"`
	Recipient  string                  `json:"recipient"`
	PostID     string                  `json:"post_id,omitempty"`
	PostedDate string                  `json:"posted_date"`
}

// NewEvent stamps a fresh id and the current time.
func NewEvent(kind models.NotificationKind, actor, recipient, postID string) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		Actor:      actor,
		Recipient:  recipient,
		PostID:     postID,
		PostedDate: models.FormatDate(time.Now()),
	}
}

// Validate checks the fields every consumer relies on.
func (e Event) Validate() error {
	switch e.Kind {
	case models.NotificationLike, models.NotificationComment:
		if e.PostID == "" {
			return fmt.Errorf("%s event without post id", e.Kind)
		}
	case models.NotificationFollow:
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.ID == "" || e.Actor == "" || e.Recipient == "" {
		return errors.New("event missing id, actor or recipient")
	}
	return nil
}

// Notification converts the event into the recipient's stored notification.
func (e Event) Notification() models.Notification {
	return models.Notification{
		ID:         e.ID,
		Kind:       e.Kind,
		Actor:      e.Actor,
		PostID:     e.PostID,
		PostedDate: e.PostedDate,
	}
}

// Publisher writes interaction events to Kafka keyed by kind.
type Publisher struct {
	writer KafkaWriter
}

func NewPublisher(w KafkaWriter) *Publisher {
	return &Publisher{writer: w}
}

func (p *Publisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Kind),
		Value: data,
	})
}

// DecodeEvent parses and validates a message value.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}
