package turingbuilder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/RyotaroOda/TuringChatD11-sub000/internal/archive"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/battle"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/config"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/matching"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/msgcat"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/notify"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/obslog"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/profile"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/result"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/store"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/sweeper"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/topic"
)

const connectTimeout = 5 * time.Second

type Deps struct {
	Store      store.Store
	Bus        notify.Bus
	Archive    archive.Archiver
	Catalog    *msgcat.Catalog
	Rooms      *battle.Manager
	Waiting    *matching.WaitingList
	Matchmaker *matching.Matchmaker
	Profiles   *profile.Service
	Results    *result.Calculator
	Sweeper    *sweeper.Sweeper

	closers []func() error
}

func New(ctx context.Context, cfg *config.AppConfig) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	d := &Deps{}
	ok := false
	defer func() {
		if !ok {
			_ = d.Close()
		}
	}()

	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	d.Catalog = cat

	// Live store and event bus
	switch cfg.Store {
	case config.StoreMemory:
		d.Store = store.NewMemoryStore()
		d.Bus = notify.NewLocalBus()
	default:
		cctx, cancel := context.WithTimeout(ctx, connectTimeout)
		rs, err := store.Dial(cctx, cfg.RedisURL, cfg.RedisPrefix)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("init redis store: %w", err)
		}
		d.Store = rs
		d.Bus = notify.NewRedisBus(rs.Client(), cfg.RedisPrefix)
	}
	d.closers = append(d.closers, d.Store.Close)

	arch, err := newArchiver(ctx, cfg, d)
	if err != nil {
		return nil, err
	}
	d.Archive = arch

	rules := battle.Rules{MaxTurn: cfg.MaxTurn, BattleType: cfg.BattleType, OneTurnTime: cfg.OneTurnTime}
	if rules.BattleType == "" {
		rules.BattleType = battle.DefaultRules().BattleType
	}
	d.Rooms = battle.NewManager(d.Store,
		battle.WithRules(rules),
		battle.WithPublisher(d.Bus),
		battle.WithTopicSource(newTopicSource(cfg, cat)),
		battle.WithTopicTimeout(cfg.LLMTimeout),
	)
	d.Waiting = matching.NewWaitingList(d.Store, d.Rooms.Now)
	d.Matchmaker = matching.NewMatchmaker(d.Rooms, d.Waiting, cat)
	d.Profiles = profile.NewService(d.Store)
	d.Results = result.NewCalculator(d.Rooms, d.Archive, d.Profiles, d.Bus)
	d.Sweeper = sweeper.New(d.Rooms, d.Waiting, d.Results, cfg.WaitingTTL, cfg.SweepInterval)

	obslog.L().Info("deps_ready",
		zap.String("store", cfg.Store),
		zap.String("archive", cfg.Archive),
		zap.Bool("llm_topics", cfg.LLMBaseURL != ""),
	)
	ok = true
	return d, nil
}

func newArchiver(ctx context.Context, cfg *config.AppConfig, d *Deps) (archive.Archiver, error) {
	switch cfg.Archive {
	case config.ArchivePostgres:
		pa, err := archive.NewPostgresArchiver(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres archive: %w", err)
		}
		d.closers = append(d.closers, pa.Close)
		sctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := pa.EnsureSchema(sctx); err != nil {
			return nil, fmt.Errorf("postgres archive schema: %w", err)
		}
		return pa, nil
	case config.ArchiveS3:
		sa, err := archive.NewS3Archiver(ctx, archive.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("init s3 archive: %w", err)
		}
		return sa, nil
	default:
		return archive.NewStoreArchiver(d.Store), nil
	}
}

// newTopicSource prefers the LLM and falls back to the catalog topics.
func newTopicSource(cfg *config.AppConfig, cat *msgcat.Catalog) battle.TopicSource {
	local := topic.NewCatalog(cat, time.Now().UnixNano())
	if strings.TrimSpace(cfg.LLMBaseURL) == "" {
		return local
	}
	return topic.Fallback{
		Primary:   topic.NewLLM(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cat, cfg.LLMTimeout),
		Secondary: local,
	}
}

// Close stops the sweeper and releases connections in reverse order.
func (d *Deps) Close() error {
	var errs []error
	if d.Sweeper != nil {
		if err := d.Sweeper.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
