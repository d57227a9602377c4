// Package matching pairs players. A request first tries to claim the oldest
// waiting room; if that fails it opens a room of its own and waits in line.
package matching

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/RyotaroOda/TuringChatD11-sub000/internal/battle"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/msgcat"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/obslog"
)

// MatchOutcome is either matched-immediately (StartBattle) or
// created-and-waiting.
type MatchOutcome struct {
	RoomID      string `json:"roomId"`
	StartBattle bool   `json:"startBattle"`
	Message     string `json:"message"`
}

type Matchmaker struct {
	rooms   *battle.Manager
	waiting *WaitingList
	cat     *msgcat.Catalog
}

func NewMatchmaker(rooms *battle.Manager, waiting *WaitingList, cat *msgcat.Catalog) *Matchmaker {
	if cat == nil {
		cat = msgcat.MustDefault()
	}
	return &Matchmaker{rooms: rooms, waiting: waiting, cat: cat}
}

func (mm *Matchmaker) Waiting() *WaitingList { return mm.waiting }

// RequestMatch puts p into a room. A previous waiting room of p is abandoned
// first, so a player never waits in two rooms.
func (mm *Matchmaker) RequestMatch(ctx context.Context, p battle.PlayerRef) (*MatchOutcome, error) {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return nil, ErrInvalidArgs
	}
	if err := mm.abandon(ctx, p.ID); err != nil {
		return nil, err
	}

	roomID, err := mm.waiting.ClaimNext(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if roomID != "" {
		if mm.rooms.JoinRoom(ctx, roomID, p) {
			obslog.L().Info("match_found", zap.String("player_id", p.ID), zap.String("room_id", roomID))
			return &MatchOutcome{RoomID: roomID, StartBattle: true, Message: mm.cat.Text(msgcat.KeyMatchJoined)}, nil
		}
		mm.removeIfAlone(ctx, roomID)
	}

	newID, err := mm.rooms.CreateRoom(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := mm.waiting.Enqueue(ctx, p.ID, newID); err != nil {
		if rerr := mm.rooms.RemoveRoom(ctx, newID); rerr != nil {
			obslog.L().Warn("match_enqueue_rollback_error", zap.String("room_id", newID), zap.Error(rerr))
		}
		return nil, err
	}
	obslog.L().Info("match_waiting", zap.String("player_id", p.ID), zap.String("room_id", newID))
	return &MatchOutcome{RoomID: newID, StartBattle: false, Message: mm.cat.Text(msgcat.KeyMatchWaiting)}, nil
}

// CancelMatch dequeues playerID and deletes its room if nobody joined yet.
func (mm *Matchmaker) CancelMatch(ctx context.Context, playerID string) (string, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return "", ErrInvalidArgs
	}
	e, err := mm.waiting.Lookup(ctx, playerID)
	if err != nil {
		return "", err
	}
	if err := mm.waiting.Dequeue(ctx, playerID); err != nil {
		return "", err
	}
	if e != nil {
		mm.removeIfAlone(ctx, e.RoomID)
	}
	obslog.L().Info("match_cancel", zap.String("player_id", playerID), zap.Bool("was_waiting", e != nil))
	return mm.cat.Text(msgcat.KeyMatchCancelled), nil
}

func (mm *Matchmaker) abandon(ctx context.Context, playerID string) error {
	e, err := mm.waiting.Lookup(ctx, playerID)
	if err != nil || e == nil {
		return err
	}
	if err := mm.waiting.DequeueRoom(ctx, playerID, e.RoomID); err != nil {
		return err
	}
	mm.removeIfAlone(ctx, e.RoomID)
	return nil
}

// removeIfAlone deletes a room that nobody joined. Started rooms are left
// untouched.
func (mm *Matchmaker) removeIfAlone(ctx context.Context, roomID string) {
	removed, err := mm.rooms.RemoveIfAlone(ctx, roomID)
	if err != nil {
		obslog.L().Warn("match_stale_remove_error", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	if removed {
		obslog.L().Info("match_stale_removed", zap.String("room_id", roomID))
	}
}
