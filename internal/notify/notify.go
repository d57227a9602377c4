// Package notify fans room events out to subscribers. Redis pub/sub carries
// them between processes; LocalBus serves single-process setups.
package notify

import (
	"context"
	"time"
)

// Event types.
const (
	EventCreated  = "room_created"
	EventJoined   = "room_joined"
	EventStatus   = "room_status"
	EventMessage  = "room_message"
	EventAnswer   = "room_answer"
	EventResult   = "room_result"
	EventRemoved  = "room_removed"
	EventArchived = "room_archived"
)

// Event is what subscribers of a room receive.
type Event struct {
	Type     string    `json:"type"`
	RoomID   string    `json:"roomId"`
	Status   string    `json:"status,omitempty"`
	PlayerID string    `json:"playerId,omitempty"`
	At       time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscriber delivers events for one room until cancel is called or ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context, roomID string) (events <-chan Event, cancel func(), err error)
}

// Bus is both sides.
type Bus interface {
	Publisher
	Subscriber
}

// Nop drops everything.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

func (Nop) Subscribe(ctx context.Context, _ string) (<-chan Event, func(), error) {
	ch := make(chan Event)
	return ch, func() {}, nil
}
