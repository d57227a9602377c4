package turingbuilder

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/RyotaroOda/TuringChatD11-sub000/internal/archive"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/battle"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/config"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/notify"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/store"
)

func baseConfig() *config.AppConfig {
	return &config.AppConfig{
		Port:          8080,
		Store:         config.StoreMemory,
		Archive:       config.ArchiveStore,
		MaxTurn:       3,
		OneTurnTime:   30,
		SweepInterval: time.Minute,
		WaitingTTL:    time.Minute,
		LLMTimeout:    time.Second,
	}
}

func TestMemoryStack(t *testing.T) {
	d, err := New(context.Background(), baseConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()
	if _, ok := d.Store.(*store.MemoryStore); !ok {
		t.Fatalf("store=%T", d.Store)
	}
	if _, ok := d.Bus.(*notify.LocalBus); !ok {
		t.Fatalf("bus=%T", d.Bus)
	}
	if _, ok := d.Archive.(*archive.StoreArchiver); !ok {
		t.Fatalf("archive=%T", d.Archive)
	}
	if r := d.Rooms.Rules(); r.MaxTurn != 3 || r.BattleType != battle.DefaultRules().BattleType {
		t.Fatalf("rules=%+v", r)
	}

	ctx := context.Background()
	out, err := d.Matchmaker.RequestMatch(ctx, battle.PlayerRef{ID: "x"})
	if err != nil || out.StartBattle {
		t.Fatalf("out=%+v err=%v", out, err)
	}
	out, err = d.Matchmaker.RequestMatch(ctx, battle.PlayerRef{ID: "y"})
	if err != nil || !out.StartBattle {
		t.Fatalf("out=%+v err=%v", out, err)
	}
	meta, _ := d.Rooms.LoadMeta(ctx, out.RoomID)
	if meta == nil || meta.Topic == "" {
		t.Fatalf("catalog topic not assigned: %+v", meta)
	}
}

func TestRedisStack(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	cfg := baseConfig()
	cfg.Store = config.StoreRedis
	cfg.RedisURL = "redis://" + mr.Addr() + "/0"
	cfg.RedisPrefix = "t:"
	d, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := d.Bus.(*notify.RedisBus); !ok {
		t.Fatalf("bus=%T", d.Bus)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestRedisUnreachable(t *testing.T) {
	cfg := baseConfig()
	cfg.Store = config.StoreRedis
	cfg.RedisURL = "redis://127.0.0.1:1/0"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatalf("expected dial error")
	}
}
