// README: Domain event envelope and publisher contract; push layers subscribe downstream.
package events

import (
	"context"
	"log/slog"
	"time"

	"karigar/internal/types"
)

const (
	TopicBookingCreated = "booking.created"
	TopicStatusChanged  = "booking.status_changed"
	TopicBookingUpdated = "booking.updated"
	TopicLocation       = "booking.location"
)

type Event struct {
	Topic     string    `json:"topic"`
	BookingID types.ID  `json:"booking_id"`
	At        time.Time `json:"at"`
	Data      any       `json:"data,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// LogPublisher writes events to the logger; used when no broker is configured.
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(log *slog.Logger) *LogPublisher {
	return &LogPublisher{log: log.With("module", "events")}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	p.log.DebugContext(ctx, "event", "topic", e.Topic, "booking_id", e.BookingID, "data", e.Data)
	return nil
}
