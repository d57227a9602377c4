package turingclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RyotaroOda/TuringChatD11-sub000/internal/api"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/archive"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/battle"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/matching"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/notify"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/paths"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/profile"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/result"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/store"
	"github.com/RyotaroOda/TuringChatD11-sub000/pkg/turingdto"
)

type server struct {
	url  string
	st   store.Store
	auth *api.Authenticator
}

func newServer(t *testing.T) *server {
	t.Helper()
	st := store.NewMemoryStore()
	bus := notify.NewLocalBus()
	rooms := battle.NewManager(st, battle.WithPublisher(bus))
	profiles := profile.NewService(st)
	arch := archive.NewStoreArchiver(st)
	auth := api.NewAuthenticator("client-secret")
	s := api.NewServer(api.Config{}, api.Deps{
		Rooms:      rooms,
		Matchmaker: matching.NewMatchmaker(rooms, matching.NewWaitingList(st, nil), nil),
		Results:    result.NewCalculator(rooms, arch, profiles, bus),
		Profiles:   profiles,
		Archive:    arch,
		Events:     bus,
		Auth:       auth,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &server{url: srv.URL, st: st, auth: auth}
}

func (s *server) client(t *testing.T, uid string, opts ...Option) *Client {
	t.Helper()
	tok, err := s.auth.Mint(uid, uid, true, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	return New(s.url, tok, opts...)
}

func TestFindOpponentPairsTwoClients(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	a := s.client(t, "a", WithPollInterval(20*time.Millisecond))
	b := s.client(t, "b")

	var (
		wg   sync.WaitGroup
		aOut *turingdto.RequestMatchResponse
		aErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		aOut, aErr = a.FindOpponent(ctx, turingdto.RequestMatchRequest{ID: "a"}, 5*time.Second)
	}()

	// b must arrive after a is waiting, otherwise the roles swap
	waiting := matching.NewWaitingList(s.st, nil)
	deadline := time.Now().Add(3 * time.Second)
	for {
		if e, _ := waiting.Lookup(ctx, "a"); e != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("a never created a room")
		}
		time.Sleep(10 * time.Millisecond)
	}
	bOut, err := b.FindOpponent(ctx, turingdto.RequestMatchRequest{ID: "b"}, time.Second)
	if err != nil || !bOut.StartBattle {
		t.Fatalf("b out=%+v err=%v", bOut, err)
	}
	wg.Wait()
	if aErr != nil || !aOut.StartBattle {
		t.Fatalf("a out=%+v err=%v", aOut, aErr)
	}
	if aOut.RoomID != bOut.RoomID {
		t.Fatalf("rooms differ: %s vs %s", aOut.RoomID, bOut.RoomID)
	}

	view, err := a.GetRoom(ctx, aOut.RoomID)
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if view.Status != string(battle.StatusPlaying) || len(view.Players) != 2 {
		t.Fatalf("view=%+v", view)
	}
}

func TestFindOpponentGivesUp(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	c := s.client(t, "lonely", WithPollInterval(10*time.Millisecond))

	_, err := c.FindOpponent(ctx, turingdto.RequestMatchRequest{ID: "lonely"}, 100*time.Millisecond)
	if !errors.Is(err, ErrNoOpponent) {
		t.Fatalf("err=%v", err)
	}
	keys, _ := s.st.Keys(ctx, "")
	for _, k := range keys {
		if strings.HasPrefix(k, paths.RoomsPrefix()) {
			t.Fatalf("room left behind: %v", keys)
		}
	}
}

func TestCallErrorDecoded(t *testing.T) {
	s := newServer(t)
	c := New(s.url, "")
	_, err := c.RequestMatch(context.Background(), turingdto.RequestMatchRequest{ID: "x"})
	var ce *CallError
	if !errors.As(err, &ce) {
		t.Fatalf("err=%T %v", err, err)
	}
	if ce.Status != http.StatusUnauthorized || ce.Code != turingdto.CodeUnauthenticated || ce.Retryable() {
		t.Fatalf("call error=%+v", ce)
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":"unavailable","message":"busy","retryable":true}}`))
			return
		}
		res, _ := json.Marshal(turingdto.RequestMatchResponse{RoomID: "r1", StartBattle: true})
		_ = json.NewEncoder(w).Encode(turingdto.CallResponse{Result: res})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	out, err := c.FindOpponent(context.Background(), turingdto.RequestMatchRequest{ID: "x"}, time.Second)
	if err != nil {
		t.Fatalf("FindOpponent: %v", err)
	}
	if out.RoomID != "r1" || !out.StartBattle {
		t.Fatalf("out=%+v", out)
	}
	if hits.Load() < 2 {
		t.Fatalf("hits=%d", hits.Load())
	}
}

func TestSubscribeReceivesJoin(t *testing.T) {
	s := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	host := s.client(t, "host")
	guest := s.client(t, "guest")

	out, err := host.RequestMatch(ctx, turingdto.RequestMatchRequest{ID: "host"})
	if err != nil || out.StartBattle {
		t.Fatalf("out=%+v err=%v", out, err)
	}
	events, err := host.Subscribe(ctx, out.RoomID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := guest.RequestMatch(ctx, turingdto.RequestMatchRequest{ID: "guest"}); err != nil {
		t.Fatalf("guest: %v", err)
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("stream closed early")
			}
			if ev.Type == notify.EventJoined && ev.PlayerID == "guest" {
				if ev.RoomID != out.RoomID {
					t.Fatalf("event=%+v", ev)
				}
				return
			}
		case <-ctx.Done():
			t.Fatalf("no join event")
		}
	}
}

func TestSubscribeRejectedForStranger(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	host := s.client(t, "host")
	out, err := host.RequestMatch(ctx, turingdto.RequestMatchRequest{ID: "host"})
	if err != nil {
		t.Fatalf("RequestMatch: %v", err)
	}
	if _, err := s.client(t, "stranger").Subscribe(ctx, out.RoomID); err == nil {
		t.Fatalf("stranger subscribed")
	}
}
