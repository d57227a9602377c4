// Package result finalises a room once both answers are in: score, persist
// the result, apply ratings, archive, then delete. Every step tolerates being
// re-run so a crashed or repeated finalisation converges on one result.
package result

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/RyotaroOda/TuringChatD11-sub000/internal/archive"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/battle"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/notify"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/obslog"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/paths"
)

var (
	ErrResultNotFound    = errors.New("result not found")
	ErrAnswersIncomplete = errors.New("result: room does not have two answers")
)

// Rater applies a per-room rating delta once.
type Rater interface {
	Apply(ctx context.Context, userID, roomID string, delta int) (bool, error)
}

type Calculator struct {
	rooms    *battle.Manager
	archiver archive.Archiver
	rater    Rater
	pub      notify.Publisher
}

func NewCalculator(rooms *battle.Manager, archiver archive.Archiver, rater Rater, pub notify.Publisher) *Calculator {
	if pub == nil {
		pub = notify.Nop{}
	}
	return &Calculator{rooms: rooms, archiver: archiver, rater: rater, pub: pub}
}

// ComputeResult finalises roomID and returns its result. Once the room is
// gone the archived result is returned.
func (c *Calculator) ComputeResult(ctx context.Context, roomID string) (*battle.BattleResult, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, battle.ErrInvalidArgs
	}
	meta, err := c.rooms.LoadMeta(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return c.archived(ctx, roomID)
	}

	res, err := c.persistResult(ctx, meta)
	if errors.Is(err, ErrAnswersIncomplete) {
		// answers vanish when a concurrent run has already deleted the room
		if again, lerr := c.rooms.LoadMeta(ctx, roomID); lerr == nil && again == nil {
			return c.settled(ctx, roomID)
		}
	}
	if err != nil {
		return nil, err
	}
	if err := c.rooms.Finish(ctx, roomID); err != nil && !errors.Is(err, battle.ErrRoomNotFound) {
		return nil, err
	}

	if err := c.applyRatings(ctx, roomID, res); err != nil {
		return nil, err
	}

	room, err := c.rooms.LoadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil || room.Result == nil {
		// result is read last, so a snapshot without it raced a deletion
		return c.settled(ctx, roomID)
	}
	if err := c.archiver.Save(ctx, room); err != nil {
		obslog.L().Error("result_archive_error", zap.String("room_id", roomID), zap.Error(err))
		return nil, err
	}
	c.publish(ctx, notify.EventArchived, roomID)
	if err := c.rooms.RemoveRoom(ctx, roomID); err != nil {
		obslog.L().Warn("result_cleanup_error", zap.String("room_id", roomID), zap.Error(err))
		return nil, err
	}
	obslog.L().Info("result_finalised", zap.String("room_id", roomID), zap.Ints("scores", res.Scores[:]))
	return res, nil
}

// persistResult writes the result once. A result already present wins, so
// concurrent finalisers all return the same value.
func (c *Calculator) persistResult(ctx context.Context, meta *battle.RoomMeta) (*battle.BattleResult, error) {
	answers, err := c.rooms.LoadAnswers(ctx, meta.ID)
	if err != nil {
		return nil, err
	}
	var fresh *battle.BattleResult
	if len(answers) == 2 {
		fresh, err = c.score(meta, answers)
		if err != nil {
			return nil, err
		}
	}

	var out battle.BattleResult
	wrote := false
	err = c.rooms.Store().Transaction(ctx, paths.RoomResult(meta.ID), func(cur []byte) ([]byte, error) {
		wrote = false
		if cur != nil {
			out = battle.BattleResult{}
			if err := json.Unmarshal(cur, &out); err != nil {
				return nil, err
			}
			return cur, nil
		}
		if fresh == nil {
			return nil, ErrAnswersIncomplete
		}
		out = *fresh
		wrote = true
		return json.Marshal(out)
	})
	if err != nil {
		return nil, err
	}
	if wrote {
		obslog.L().Info("result_persist", zap.String("room_id", meta.ID), zap.Int64("elapsed_ms", out.ElapsedMs))
		c.publish(ctx, notify.EventResult, meta.ID)
	}
	return &out, nil
}

func (c *Calculator) score(meta *battle.RoomMeta, answers map[string]battle.SubmitAnswer) (*battle.BattleResult, error) {
	host, ok := answers[meta.HostID]
	if !ok {
		return nil, ErrAnswersIncomplete
	}
	var other battle.SubmitAnswer
	for id, a := range answers {
		if id != meta.HostID {
			other = a
		}
	}
	correct, scores := Score(host, other)
	now := c.rooms.Now().UnixMilli()
	elapsed := now - meta.Timestamps.Start
	if meta.Timestamps.Start == 0 || elapsed < 0 {
		elapsed = 0
	}
	return &battle.BattleResult{
		CorrectFlags: correct,
		Scores:       scores,
		Answers:      [2]battle.SubmitAnswer{host, other},
		ElapsedMs:    elapsed,
		ComputedAt:   now,
	}, nil
}

// applyRatings stops at the first failure; the room stays live so a later
// run retries, and already applied players are skipped by the ledger.
func (c *Calculator) applyRatings(ctx context.Context, roomID string, res *battle.BattleResult) error {
	if c.rater == nil {
		return nil
	}
	for i, a := range res.Answers {
		if _, err := c.rater.Apply(ctx, a.PlayerID, roomID, res.Scores[i]); err != nil {
			obslog.L().Warn("result_rating_error", zap.String("room_id", roomID), zap.String("user_id", a.PlayerID), zap.Error(err))
			return err
		}
	}
	return nil
}

// settled handles a room another run finished meanwhile: it returns the
// archived result and drops anything this run wrote after the deletion.
func (c *Calculator) settled(ctx context.Context, roomID string) (*battle.BattleResult, error) {
	res, err := c.archived(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := c.rooms.Store().Remove(ctx, paths.RoomSubtree(roomID)...); err != nil {
		obslog.L().Warn("result_orphan_cleanup_error", zap.String("room_id", roomID), zap.Error(err))
	}
	return res, nil
}

func (c *Calculator) archived(ctx context.Context, roomID string) (*battle.BattleResult, error) {
	room, err := c.archiver.Load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil || room.Result == nil {
		return nil, ErrResultNotFound
	}
	return room.Result, nil
}

func (c *Calculator) publish(ctx context.Context, typ, roomID string) {
	ev := notify.Event{Type: typ, RoomID: roomID, Status: string(battle.StatusFinished), At: c.rooms.Now()}
	if err := c.pub.Publish(ctx, ev); err != nil {
		obslog.L().Warn("room_event_publish_error", zap.String("room_id", roomID), zap.String("type", typ), zap.Error(err))
	}
}
