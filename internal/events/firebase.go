// README: Mirrors live booking events into the Firebase Realtime Database for mobile clients.
package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"firebase.google.com/go/v4/db"

	"karigar/internal/types"
)

const (
	liveRoot = "live"
	// closedTTL bounds how long late events for a removed node are ignored.
	closedTTL = 10 * time.Minute
)

// RTDBPublisher keeps /live/{booking_id}/{topic} holding the last event per
// topic and removes the node once the booking is terminal. Events arriving
// after the removal are dropped so the node is not recreated.
type RTDBPublisher struct {
	client *db.Client
	closed *closedSet
}

func NewRTDBPublisher(client *db.Client) *RTDBPublisher {
	return &RTDBPublisher{client: client, closed: newClosedSet(closedTTL)}
}

func (p *RTDBPublisher) Publish(ctx context.Context, e Event) error {
	if terminalStatus(e) {
		p.closed.mark(e.BookingID, time.Now())
		if err := p.client.NewRef(livePath(e, "")).Delete(ctx); err != nil {
			return fmt.Errorf("events: rtdb delete: %w", err)
		}
		return nil
	}
	if p.closed.has(e.BookingID, time.Now()) {
		return nil
	}
	if err := p.client.NewRef(livePath(e, e.Topic)).Set(ctx, e); err != nil {
		return fmt.Errorf("events: rtdb set: %w", err)
	}
	return nil
}

type closedSet struct {
	ttl time.Duration
	mu  sync.Mutex
	ids map[types.ID]time.Time
}

func newClosedSet(ttl time.Duration) *closedSet {
	return &closedSet{ttl: ttl, ids: make(map[types.ID]time.Time)}
}

func (c *closedSet) mark(id types.ID, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, at := range c.ids {
		if now.Sub(at) >= c.ttl {
			delete(c.ids, k)
		}
	}
	c.ids[id] = now
}

func (c *closedSet) has(id types.ID, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.ids[id]
	return ok && now.Sub(at) < c.ttl
}

func livePath(e Event, topic string) string {
	path := liveRoot + "/" + string(e.BookingID)
	if topic != "" {
		path += "/" + strings.ReplaceAll(topic, ".", "_")
	}
	return path
}

func terminalStatus(e Event) bool {
	if e.Topic != TopicStatusChanged {
		return false
	}
	data, ok := e.Data.(map[string]any)
	if !ok {
		return false
	}
	switch fmt.Sprint(data["status"]) {
	case "completed", "cancelled":
		return true
	}
	return false
}

// Fanout delivers each event to every publisher and returns the first error.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, e Event) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
