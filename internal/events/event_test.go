package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLogPublisherWritesTopic(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	p := NewLogPublisher(log)

	err := p.Publish(context.Background(), Event{Topic: TopicStatusChanged, BookingID: "b1", At: time.Now()})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !strings.Contains(buf.String(), TopicStatusChanged) || !strings.Contains(buf.String(), "b1") {
		t.Fatalf("log line missing event fields: %s", buf.String())
	}
}

func TestEventJSONShape(t *testing.T) {
	e := Event{Topic: TopicLocation, BookingID: "b2", At: time.Unix(0, 0).UTC(), Data: map[string]any{"party": "worker"}}
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"topic":"booking.location"`, `"booking_id":"b2"`, `"party":"worker"`} {
		if !strings.Contains(string(b), want) {
			t.Errorf("missing %s in %s", want, b)
		}
	}
}

type countingPublisher struct {
	n   int
	err error
}

func (c *countingPublisher) Publish(context.Context, Event) error {
	c.n++
	return c.err
}

func TestFanoutDeliversToAll(t *testing.T) {
	a, b := &countingPublisher{err: errors.New("broker down")}, &countingPublisher{}
	err := Fanout{a, b}.Publish(context.Background(), Event{Topic: TopicBookingCreated})
	if err == nil || a.n != 1 || b.n != 1 {
		t.Fatalf("fanout err=%v a=%d b=%d", err, a.n, b.n)
	}
}

func TestLivePathAndTerminal(t *testing.T) {
	e := Event{Topic: TopicLocation, BookingID: "b9"}
	if got := livePath(e, e.Topic); got != "live/b9/booking_location" {
		t.Fatalf("path = %s", got)
	}
	if terminalStatus(e) {
		t.Fatal("location event is not terminal")
	}
	done := Event{Topic: TopicStatusChanged, BookingID: "b9", Data: map[string]any{"status": "completed"}}
	if !terminalStatus(done) {
		t.Fatal("completed status must be terminal")
	}
	moving := Event{Topic: TopicStatusChanged, BookingID: "b9", Data: map[string]any{"status": "in_progress"}}
	if terminalStatus(moving) {
		t.Fatal("in_progress is not terminal")
	}
}

func TestClosedBookingIgnoresLateEvents(t *testing.T) {
	p := NewRTDBPublisher(nil)
	now := time.Now()
	p.closed.mark("b7", now.Add(-time.Minute))

	// Returns before touching the database client, which is nil here.
	if err := p.Publish(context.Background(), Event{Topic: TopicLocation, BookingID: "b7"}); err != nil {
		t.Fatalf("late location event: %v", err)
	}
	if p.closed.has("b8", now) {
		t.Fatal("unrelated booking reported closed")
	}
	if p.closed.has("b7", now.Add(closedTTL)) {
		t.Fatal("closed mark outlived its ttl")
	}
	p.closed.mark("b8", now.Add(closedTTL))
	if _, ok := p.closed.ids["b7"]; ok {
		t.Fatal("expired mark was not pruned")
	}
}
