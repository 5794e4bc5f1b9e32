package directions

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDisabledClient(t *testing.T) {
	c, err := New("", testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Enabled() {
		t.Error("client without key must report disabled")
	}
	if _, err := c.Route(context.Background(), Query{Origin: "a", Destination: "b"}); err == nil {
		t.Error("disabled client must fail Route")
	}
}

func TestBothTimesRejected(t *testing.T) {
	c, err := New("test-key", testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.Now()
	_, err = c.Route(context.Background(), Query{
		Origin: "a", Destination: "b",
		DepartureTime: &now, ArrivalTime: &now,
	})
	if err == nil {
		t.Error("expected validation error when both times are set")
	}
}

func TestBestDuration(t *testing.T) {
	r := &Route{Duration: 20 * time.Minute, DurationInTraffic: 25 * time.Minute}
	if r.BestDuration() != 25*time.Minute {
		t.Error("traffic duration must win when present")
	}
	r.DurationInTraffic = 0
	if r.BestDuration() != 20*time.Minute {
		t.Error("nominal duration must be used when traffic is absent")
	}
}
