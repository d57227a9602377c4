package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for event")
	}
	return Event{}
}

func TestLocalBusDeliversPerRoom(t *testing.T) {
	bus := NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, cancelA, _ := bus.Subscribe(ctx, "r1")
	defer cancelA()
	b, cancelB, _ := bus.Subscribe(ctx, "r2")
	defer cancelB()

	_ = bus.Publish(ctx, Event{Type: EventJoined, RoomID: "r1"})
	if ev := recvEvent(t, a); ev.Type != EventJoined {
		t.Fatalf("ev=%+v", ev)
	}
	select {
	case ev := <-b:
		t.Fatalf("r2 got %+v", ev)
	default:
	}
}

func TestLocalBusCancelCloses(t *testing.T) {
	bus := NewLocalBus()
	ch, cancel, _ := bus.Subscribe(context.Background(), "r1")
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if err := bus.Publish(context.Background(), Event{RoomID: "r1"}); err != nil {
		t.Fatalf("publish after cancel: %v", err)
	}
}

func TestRedisBusRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	bus := NewRedisBus(rdb, "t:")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, stop, err := bus.Subscribe(ctx, "r1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	if err := bus.Publish(ctx, Event{Type: EventStatus, RoomID: "r1", Status: "playing"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ev := recvEvent(t, ch)
	if ev.Status != "playing" || ev.RoomID != "r1" {
		t.Fatalf("ev=%+v", ev)
	}
}
