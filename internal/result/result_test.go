package result

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/RyotaroOda/TuringChatD11-sub000/internal/archive"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/battle"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/profile"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/store"
)

func bp(b bool) *bool { return &b }

func TestScoreScenarios(t *testing.T) {
	cases := []struct {
		name    string
		a, b    battle.SubmitAnswer
		correct [2]bool
		scores  [2]int
	}{
		{
			name:    "both wrong",
			a:       battle.SubmitAnswer{ClaimedIdentity: true, Guess: bp(true)},
			b:       battle.SubmitAnswer{ClaimedIdentity: false, Guess: bp(false)},
			correct: [2]bool{false, false},
			scores:  [2]int{1, 1},
		},
		{
			name:    "both right",
			a:       battle.SubmitAnswer{ClaimedIdentity: true, Guess: bp(false)},
			b:       battle.SubmitAnswer{ClaimedIdentity: false, Guess: bp(true)},
			correct: [2]bool{true, true},
			scores:  [2]int{1, 1},
		},
		{
			name:    "host right guest wrong",
			a:       battle.SubmitAnswer{ClaimedIdentity: true, Guess: bp(true)},
			b:       battle.SubmitAnswer{ClaimedIdentity: true, Guess: bp(false)},
			correct: [2]bool{true, false},
			scores:  [2]int{2, 0},
		},
		{
			name:    "unset guess",
			a:       battle.SubmitAnswer{ClaimedIdentity: true},
			b:       battle.SubmitAnswer{ClaimedIdentity: false, Guess: bp(true)},
			correct: [2]bool{false, true},
			scores:  [2]int{0, 2},
		},
	}
	for _, tc := range cases {
		correct, scores := Score(tc.a, tc.b)
		if correct != tc.correct || scores != tc.scores {
			t.Fatalf("%s: correct=%v scores=%v want %v %v", tc.name, correct, scores, tc.correct, tc.scores)
		}
	}
}

func sameResult(a, b *battle.BattleResult) bool {
	return a.Scores == b.Scores && a.CorrectFlags == b.CorrectFlags &&
		a.ElapsedMs == b.ElapsedMs && a.ComputedAt == b.ComputedAt &&
		a.Answers[0].PlayerID == b.Answers[0].PlayerID && a.Answers[1].PlayerID == b.Answers[1].PlayerID
}

type failingArchiver struct {
	archive.Archiver
	mu   sync.Mutex
	fail bool
}

func (f *failingArchiver) Save(ctx context.Context, r *battle.Room) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errors.New("archive unavailable")
	}
	return f.Archiver.Save(ctx, r)
}

type fixture struct {
	rooms    *battle.Manager
	profiles *profile.Service
	arch     *failingArchiver
	calc     *Calculator
	roomID   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	st := store.NewRedisStore(rdb, "")

	start := time.UnixMilli(1_700_000_000_000)
	clock := start
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(500 * time.Millisecond)
		return clock
	}
	rooms := battle.NewManager(st, battle.WithClock(now))
	profiles := profile.NewService(st)
	arch := &failingArchiver{Archiver: archive.NewStoreArchiver(st)}
	f := &fixture{rooms: rooms, profiles: profiles, arch: arch, calc: NewCalculator(rooms, arch, profiles, nil)}

	ctx := context.Background()
	_, _ = profiles.EnsureProfile(ctx, "host", "Host")
	_, _ = profiles.EnsureProfile(ctx, "guest", "Guest")
	id, err := rooms.CreateRoom(ctx, battle.PlayerRef{ID: "host"})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if !rooms.JoinRoom(ctx, id, battle.PlayerRef{ID: "guest"}) {
		t.Fatalf("JoinRoom failed")
	}
	f.roomID = id
	return f
}

func (f *fixture) answerBoth(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	// both claim human; the host believes the guest, the guest does not believe the host
	if _, err := f.rooms.SubmitAnswer(ctx, f.roomID, battle.SubmitAnswer{PlayerID: "guest", ClaimedIdentity: true, Guess: bp(false)}); err != nil {
		t.Fatalf("guest answer: %v", err)
	}
	if _, err := f.rooms.SubmitAnswer(ctx, f.roomID, battle.SubmitAnswer{PlayerID: "host", ClaimedIdentity: true, Guess: bp(true)}); err != nil {
		t.Fatalf("host answer: %v", err)
	}
}

func TestComputeResultFinalises(t *testing.T) {
	f := newFixture(t)
	f.answerBoth(t)
	ctx := context.Background()

	res, err := f.calc.ComputeResult(ctx, f.roomID)
	if err != nil {
		t.Fatalf("ComputeResult: %v", err)
	}
	if res.Answers[0].PlayerID != "host" || res.Answers[1].PlayerID != "guest" {
		t.Fatalf("answers not host first: %+v", res.Answers)
	}
	if res.Scores != [2]int{2, 0} || res.CorrectFlags != [2]bool{true, false} {
		t.Fatalf("scores=%v correct=%v", res.Scores, res.CorrectFlags)
	}
	if res.ElapsedMs <= 0 {
		t.Fatalf("elapsed=%d", res.ElapsedMs)
	}
	if meta, _ := f.rooms.LoadMeta(ctx, f.roomID); meta != nil {
		t.Fatalf("live room should be deleted")
	}
	saved, err := f.arch.Load(ctx, f.roomID)
	if err != nil || saved == nil || saved.Status != battle.StatusFinished || saved.Timestamps.End == 0 {
		t.Fatalf("archive=%+v err=%v", saved, err)
	}
	hr, _ := f.profiles.Rating(ctx, "host")
	gr, _ := f.profiles.Rating(ctx, "guest")
	if hr.Value != 2 || gr.Value != 0 {
		t.Fatalf("ratings host=%d guest=%d", hr.Value, gr.Value)
	}
}

func TestComputeResultTwiceIsStable(t *testing.T) {
	f := newFixture(t)
	f.answerBoth(t)
	ctx := context.Background()
	first, err := f.calc.ComputeResult(ctx, f.roomID)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := f.calc.ComputeResult(ctx, f.roomID)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !sameResult(first, second) {
		t.Fatalf("results differ: %+v vs %+v", first, second)
	}
	hr, _ := f.profiles.Rating(ctx, "host")
	if hr.Value != 2 {
		t.Fatalf("rating applied twice: %d", hr.Value)
	}
}

func TestConcurrentComputeResult(t *testing.T) {
	f := newFixture(t)
	f.answerBoth(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*battle.BattleResult, 4)
	errs := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.calc.ComputeResult(ctx, f.roomID)
		}(i)
	}
	wg.Wait()
	var ref *battle.BattleResult
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("run %d: %v", i, errs[i])
		}
		if ref == nil {
			ref = results[i]
		} else if !sameResult(ref, results[i]) {
			t.Fatalf("run %d diverged: %+v vs %+v", i, results[i], ref)
		}
	}
	hr, _ := f.profiles.Rating(ctx, "host")
	if hr.Value != 2 {
		t.Fatalf("host rating=%d", hr.Value)
	}
	keys, _ := f.rooms.Store().Keys(ctx, "rooms/")
	if len(keys) != 0 {
		t.Fatalf("leftover room keys %v", keys)
	}
}

func TestArchiveFailureKeepsRoom(t *testing.T) {
	f := newFixture(t)
	f.answerBoth(t)
	ctx := context.Background()
	f.arch.fail = true

	if _, err := f.calc.ComputeResult(ctx, f.roomID); err == nil {
		t.Fatalf("expected archive error")
	}
	meta, _ := f.rooms.LoadMeta(ctx, f.roomID)
	if meta == nil || meta.Status != battle.StatusFinished {
		t.Fatalf("room must survive a failed archive: %+v", meta)
	}
	persisted, _ := f.rooms.LoadResult(ctx, f.roomID)
	if persisted == nil {
		t.Fatalf("result should be persisted before archive")
	}

	f.arch.mu.Lock()
	f.arch.fail = false
	f.arch.mu.Unlock()
	res, err := f.calc.ComputeResult(ctx, f.roomID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !sameResult(res, persisted) {
		t.Fatalf("resumed result differs")
	}
	if meta, _ := f.rooms.LoadMeta(ctx, f.roomID); meta != nil {
		t.Fatalf("room should be deleted after resume")
	}
	hr, _ := f.profiles.Rating(ctx, "host")
	if hr.Value != 2 {
		t.Fatalf("rating=%d after resume", hr.Value)
	}
}

func TestComputeResultErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.calc.ComputeResult(ctx, f.roomID); !errors.Is(err, ErrAnswersIncomplete) {
		t.Fatalf("no answers: %v", err)
	}
	if _, err := f.calc.ComputeResult(ctx, "never-existed"); !errors.Is(err, ErrResultNotFound) {
		t.Fatalf("missing room: %v", err)
	}
	if _, err := f.calc.ComputeResult(ctx, " "); !errors.Is(err, battle.ErrInvalidArgs) {
		t.Fatalf("blank id: %v", err)
	}
}

func TestGuestRatingsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _ := f.rooms.CreateRoom(ctx, battle.PlayerRef{ID: "host"})
	_ = f.rooms.JoinRoom(ctx, id, battle.PlayerRef{ID: "anon"})
	_, _ = f.rooms.SubmitAnswer(ctx, id, battle.SubmitAnswer{PlayerID: "host", ClaimedIdentity: true, Guess: bp(true)})
	_, _ = f.rooms.SubmitAnswer(ctx, id, battle.SubmitAnswer{PlayerID: "anon", ClaimedIdentity: true, Guess: bp(true)})
	if _, err := f.calc.ComputeResult(ctx, id); err != nil {
		t.Fatalf("ComputeResult: %v", err)
	}
	if p, _ := f.profiles.Get(ctx, "anon"); p != nil {
		t.Fatalf("guest profile should not be created")
	}
}
