package notify

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/RyotaroOda/TuringChatD11-sub000/internal/obslog"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/paths"
)

const subscriberBuffer = 16

// RedisBus publishes events as JSON on room-events/{roomId}.
type RedisBus struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisBus(rdb *redis.Client, prefix string) *RedisBus {
	return &RedisBus{rdb: rdb, prefix: prefix}
}

func (b *RedisBus) channel(roomID string) string { return b.prefix + paths.RoomEvents(roomID) }

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel(ev.RoomID), raw).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, roomID string) (<-chan Event, func(), error) {
	ps := b.rdb.Subscribe(ctx, b.channel(roomID))
	// wait for the subscription confirmation so no publish is missed after return
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}
	out := make(chan Event, subscriberBuffer)
	subCtx, cancelCtx := context.WithCancel(ctx)
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			cancelCtx()
			_ = ps.Close()
		})
	}
	go func() {
		defer close(out)
		defer cancel()
		ch := ps.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					obslog.L().Warn("room_event_decode", zap.String("room_id", roomID), zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()
	return out, cancel, nil
}
