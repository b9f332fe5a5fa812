package hub_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/loopdeck/loopdeck/internal/eventlog"
	"github.com/loopdeck/loopdeck/internal/hub"
)

func ev(topic string) eventlog.Event {
	return eventlog.Event{Topic: topic, Timestamp: "2024-01-01T00:00:00Z"}
}

func recv(t *testing.T, s *hub.Subscription) eventlog.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e, err := s.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	return e
}

func TestFanOutIndependence(t *testing.T) {
	h := hub.New()
	s1 := h.Subscribe()
	s2 := h.Subscribe()

	h.Publish(ev("a"))
	h.Publish(ev("b"))
	h.Publish(ev("c"))

	for _, want := range []string{"a", "b", "c"} {
		if got := recv(t, s1).Topic; got != want {
			t.Errorf("s1: want %q got %q", want, got)
		}
		if got := recv(t, s2).Topic; got != want {
			t.Errorf("s2: want %q got %q", want, got)
		}
	}

	// Detaching one subscriber leaves the other working.
	s1.Close()
	h.Publish(ev("d"))
	if got := recv(t, s2).Topic; got != "d" {
		t.Errorf("s2 after s1 close: want d got %q", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := s1.Recv(ctx); !errors.Is(err, hub.ErrClosed) {
		t.Errorf("closed subscription: want ErrClosed, got %v", err)
	}
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	h := hub.New()
	h.Publish(ev("nobody-home"))
	if n := h.SubscriberCount(); n != 0 {
		t.Errorf("subscriber count: %d", n)
	}
}

func TestLagDropsOldestAndSignals(t *testing.T) {
	h := hub.New()
	s := h.Subscribe()

	total := hub.Capacity + 10
	for i := 0; i < total; i++ {
		h.Publish(ev(fmt.Sprintf("e%03d", i)))
	}

	// The first receive reports the gap.
	ctx := context.Background()
	_, err := s.Recv(ctx)
	var lag *hub.LagError
	if !errors.As(err, &lag) {
		t.Fatalf("want LagError, got %v", err)
	}
	if lag.Dropped != 10 {
		t.Errorf("dropped: want 10, got %d", lag.Dropped)
	}

	// The retained window is the newest Capacity events, still in order.
	first := recv(t, s)
	if first.Topic != fmt.Sprintf("e%03d", total-hub.Capacity) {
		t.Errorf("oldest retained: got %q", first.Topic)
	}
	for i := total - hub.Capacity + 1; i < total; i++ {
		if got := recv(t, s).Topic; got != fmt.Sprintf("e%03d", i) {
			t.Fatalf("order broken at %d: got %q", i, got)
		}
	}
}

func TestPublisherNeverBlocks(t *testing.T) {
	h := hub.New()
	_ = h.Subscribe() // never reads

	done := make(chan struct{})
	go func() {
		for i := 0; i < hub.Capacity*5; i++ {
			h.Publish(ev("flood"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestHubClose(t *testing.T) {
	h := hub.New()
	s := h.Subscribe()
	h.Close()

	if _, err := s.Recv(context.Background()); !errors.Is(err, hub.ErrClosed) {
		t.Errorf("want ErrClosed after hub close, got %v", err)
	}
}

func TestRecvHonorsContext(t *testing.T) {
	h := hub.New()
	s := h.Subscribe()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := s.Recv(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("want deadline exceeded, got %v", err)
	}
}
