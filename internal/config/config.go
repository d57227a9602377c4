package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "TURING"

// Store and archive backends.
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"

	ArchiveStore    = "store"
	ArchivePostgres = "postgres"
	ArchiveS3       = "s3"
)

type AppConfig struct {
	Bind           string
	Port           int
	OriginPatterns []string

	Store       string
	RedisURL    string
	RedisPrefix string

	Archive     string
	DatabaseURL string

	S3Bucket          string
	S3Endpoint        string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string

	JWTSecret string

	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string
	LLMTimeout time.Duration

	SweepInterval time.Duration
	WaitingTTL    time.Duration

	LogLevel  string
	LogFormat string
	LogFile   string

	MaxTurn     int
	OneTurnTime int
	BattleType  string

	MessagesDir string
}

// RegisterFlags declares every key with its default. Names use dashes; the
// matching environment variable is TURING_ plus the upper-cased name with
// underscores.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	flags.String("config", "", "optional YAML config file (env: TURING_CONFIG)")
	flags.String("env-file", ".env", "dotenv file loaded before reading the environment")

	flags.String("bind", "0.0.0.0", "address to bind to")
	flags.IntP("port", "p", 8080, "port to listen on")
	flags.StringSlice("origin-patterns", nil, "allowed cross-origin hosts for WebSocket upgrades")

	flags.String("store", StoreRedis, "live store backend: redis|memory")
	flags.String("redis-url", "", "redis:// URL of the live store (env: TURING_REDIS_URL or REDIS_URL)")
	flags.String("redis-prefix", "turing:", "key prefix inside Redis")

	flags.String("archive", ArchiveStore, "archive backend: store|postgres|s3")
	flags.String("database-url", "", "postgres URL for the archive (env: TURING_DATABASE_URL or DATABASE_URL)")
	flags.String("s3-bucket", "", "bucket for the s3 archive")
	flags.String("s3-endpoint", "", "custom S3-compatible endpoint")
	flags.String("s3-region", "auto", "S3 region")
	flags.String("s3-access-key-id", "", "S3 access key id")
	flags.String("s3-secret-access-key", "", "S3 secret access key")

	flags.String("jwt-secret", "", "HS256 secret for bearer tokens")

	flags.String("llm-base-url", "", "OpenAI-compatible base URL for topic generation; empty uses the built-in topics")
	flags.String("llm-api-key", "", "API key for the topic generator")
	flags.String("llm-model", "gpt-4o-mini", "model for the topic generator")
	flags.Duration("llm-timeout", 8*time.Second, "topic generation timeout")

	flags.Duration("sweep-interval", time.Minute, "how often the sweeper runs")
	flags.Duration("waiting-ttl", 10*time.Minute, "age after which an unmatched waiting room is abandoned")

	flags.String("log-level", "info", "debug|info|warn|error")
	flags.String("log-format", "legacy", "legacy|json|console")
	flags.String("log-file", "", "optional log file")

	flags.Int("max-turn", 6, "chat turns per battle")
	flags.Int("one-turn-time", 60, "seconds per turn")
	flags.String("battle-type", "Single", "battle type label")

	flags.String("messages-dir", "", "directory with YAML message overrides")
}

// Load resolves the configuration and validates the backend settings.
func Load(flags *pflag.FlagSet) (*AppConfig, error) {
	cfg, err := Resolve(flags)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve reads flags, TURING_* variables (after the dotenv file), and an
// optional config file, in that order of precedence. Nothing is validated.
func Resolve(flags *pflag.FlagSet) (*AppConfig, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	_ = v.BindEnv("redis-url", envPrefix+"_REDIS_URL", "REDIS_URL")
	_ = v.BindEnv("database-url", envPrefix+"_DATABASE_URL", "DATABASE_URL")

	if f := strings.TrimSpace(v.GetString("env-file")); f != "" {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	if f := strings.TrimSpace(v.GetString("config")); f != "" {
		v.SetConfigFile(f)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", f, err)
		}
	}

	cfg := &AppConfig{
		Bind:              strings.TrimSpace(v.GetString("bind")),
		Port:              v.GetInt("port"),
		OriginPatterns:    v.GetStringSlice("origin-patterns"),
		Store:             strings.ToLower(strings.TrimSpace(v.GetString("store"))),
		RedisURL:          strings.TrimSpace(v.GetString("redis-url")),
		RedisPrefix:       v.GetString("redis-prefix"),
		Archive:           strings.ToLower(strings.TrimSpace(v.GetString("archive"))),
		DatabaseURL:       strings.TrimSpace(v.GetString("database-url")),
		S3Bucket:          strings.TrimSpace(v.GetString("s3-bucket")),
		S3Endpoint:        strings.TrimSpace(v.GetString("s3-endpoint")),
		S3Region:          strings.TrimSpace(v.GetString("s3-region")),
		S3AccessKeyID:     strings.TrimSpace(v.GetString("s3-access-key-id")),
		S3SecretAccessKey: strings.TrimSpace(v.GetString("s3-secret-access-key")),
		JWTSecret:         v.GetString("jwt-secret"),
		LLMBaseURL:        strings.TrimSpace(v.GetString("llm-base-url")),
		LLMAPIKey:         strings.TrimSpace(v.GetString("llm-api-key")),
		LLMModel:          strings.TrimSpace(v.GetString("llm-model")),
		LLMTimeout:        v.GetDuration("llm-timeout"),
		SweepInterval:     v.GetDuration("sweep-interval"),
		WaitingTTL:        v.GetDuration("waiting-ttl"),
		LogLevel:          v.GetString("log-level"),
		LogFormat:         v.GetString("log-format"),
		LogFile:           strings.TrimSpace(v.GetString("log-file")),
		MaxTurn:           v.GetInt("max-turn"),
		OneTurnTime:       v.GetInt("one-turn-time"),
		BattleType:        strings.TrimSpace(v.GetString("battle-type")),
		MessagesDir:       strings.TrimSpace(v.GetString("messages-dir")),
	}
	return cfg, nil
}

func (c *AppConfig) Validate() error {
	switch c.Store {
	case StoreRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q (want redis or memory)", c.Store)
	}
	switch c.Archive {
	case ArchiveStore:
	case ArchivePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres archive")
		}
	case ArchiveS3:
		if c.S3Bucket == "" {
			return errors.New("TURING_S3_BUCKET is required for the s3 archive")
		}
	default:
		return fmt.Errorf("unknown archive %q (want store, postgres or s3)", c.Archive)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if c.MaxTurn < 1 {
		return fmt.Errorf("max-turn must be positive: %d", c.MaxTurn)
	}
	if c.SweepInterval <= 0 || c.WaitingTTL <= 0 {
		return errors.New("sweep-interval and waiting-ttl must be positive")
	}
	return nil
}

// RequireSecret is checked by commands that sign or verify tokens.
func (c *AppConfig) RequireSecret() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("TURING_JWT_SECRET is required")
	}
	return nil
}
