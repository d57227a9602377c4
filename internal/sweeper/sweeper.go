// Package sweeper runs periodic housekeeping over the live store: waiting
// rooms nobody joined, waiting entries that point nowhere, and rooms whose
// finalisation was interrupted.
package sweeper

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/RyotaroOda/TuringChatD11-sub000/internal/battle"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/matching"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/obslog"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/paths"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/result"
)

const runTimeout = 2 * time.Minute

// Report counts what one pass did.
type Report struct {
	Abandoned int
	Orphaned  int
	Finalised int
	Failed    int
}

type Sweeper struct {
	rooms    *battle.Manager
	waiting  *matching.WaitingList
	results  *result.Calculator
	ttl      time.Duration
	interval time.Duration
	sched    gocron.Scheduler
}

func New(rooms *battle.Manager, waiting *matching.WaitingList, results *result.Calculator, waitingTTL, interval time.Duration) *Sweeper {
	return &Sweeper{rooms: rooms, waiting: waiting, results: results, ttl: waitingTTL, interval: interval}
}

// Start schedules Run every interval. A pass still running when the next one
// is due makes the scheduler skip it.
func (s *Sweeper) Start() error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	_, err = sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
			defer cancel()
			if _, err := s.Run(ctx); err != nil {
				obslog.L().Warn("sweep_error", zap.Error(err))
			}
		}),
		gocron.WithName("room-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return err
	}
	sched.Start()
	s.sched = sched
	obslog.L().Info("sweep_scheduled", zap.Duration("interval", s.interval), zap.Duration("waiting_ttl", s.ttl))
	return nil
}

func (s *Sweeper) Stop() error {
	if s.sched == nil {
		return nil
	}
	err := s.sched.Shutdown()
	s.sched = nil
	return err
}

// Run makes one pass. Per-room failures are counted and logged; only a
// failure to list the store is returned.
func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	var rep Report
	keys, err := s.rooms.Store().Keys(ctx, paths.RoomsPrefix())
	if err != nil {
		return rep, err
	}
	cutoff := s.rooms.Now().Add(-s.ttl).UnixMilli()
	for _, k := range keys {
		id := paths.RoomIDFromPath(k)
		if id == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		s.sweepRoom(ctx, id, cutoff, &rep)
	}

	entries, err := s.waiting.Entries(ctx)
	if err != nil {
		return rep, err
	}
	for _, e := range entries {
		meta, err := s.rooms.LoadMeta(ctx, e.RoomID)
		if err != nil {
			rep.Failed++
			continue
		}
		if meta != nil && meta.Status == battle.StatusWaiting {
			continue
		}
		if err := s.waiting.DequeueRoom(ctx, e.PlayerID, e.RoomID); err != nil {
			rep.Failed++
			continue
		}
		rep.Orphaned++
		obslog.L().Info("sweep_orphan_entry", zap.String("player_id", e.PlayerID), zap.String("room_id", e.RoomID))
	}

	if rep != (Report{}) {
		obslog.L().Info("sweep_done", zap.Int("abandoned", rep.Abandoned), zap.Int("orphaned", rep.Orphaned),
			zap.Int("finalised", rep.Finalised), zap.Int("failed", rep.Failed))
	}
	return rep, nil
}

func (s *Sweeper) sweepRoom(ctx context.Context, roomID string, cutoff int64, rep *Report) {
	meta, err := s.rooms.LoadMeta(ctx, roomID)
	if err != nil || meta == nil {
		if err != nil {
			rep.Failed++
		}
		return
	}
	switch meta.Status {
	case battle.StatusWaiting:
		if meta.CreatedAt > cutoff {
			return
		}
		ok, err := s.abandon(ctx, meta)
		if err != nil {
			rep.Failed++
			obslog.L().Warn("sweep_abandon_error", zap.String("room_id", roomID), zap.Error(err))
			return
		}
		if ok {
			rep.Abandoned++
		}
	default:
		due, err := s.finalisable(ctx, roomID)
		if err != nil {
			rep.Failed++
			return
		}
		if !due {
			return
		}
		if _, err := s.results.ComputeResult(ctx, roomID); err != nil {
			rep.Failed++
			obslog.L().Warn("sweep_finalise_error", zap.String("room_id", roomID), zap.Error(err))
			return
		}
		rep.Finalised++
	}
}

// abandon takes the host out of the waiting list first so nobody new can
// claim the room, then deletes it unless a join already committed.
func (s *Sweeper) abandon(ctx context.Context, meta *battle.RoomMeta) (bool, error) {
	if err := s.waiting.DequeueRoom(ctx, meta.HostID, meta.ID); err != nil {
		return false, err
	}
	removed, err := s.rooms.RemoveIfAlone(ctx, meta.ID)
	if err != nil || !removed {
		return false, err
	}
	obslog.L().Info("sweep_abandoned", zap.String("room_id", meta.ID), zap.String("host_id", meta.HostID))
	return true, nil
}

// finalisable reports a room that has both answers or a stored result.
func (s *Sweeper) finalisable(ctx context.Context, roomID string) (bool, error) {
	res, err := s.rooms.LoadResult(ctx, roomID)
	if err != nil {
		return false, err
	}
	if res != nil {
		return true, nil
	}
	answers, err := s.rooms.LoadAnswers(ctx, roomID)
	if err != nil {
		return false, err
	}
	return len(answers) == 2, nil
}
