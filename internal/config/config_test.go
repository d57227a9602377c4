package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	// keep a developer's .env out of the test
	args = append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}, args...)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse: %v", err)
	}
	return fs
}

func TestDefaultsRequireRedisURL(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	t.Setenv("TURING_REDIS_URL", "")
	_, err := Load(newFlags(t))
	if err == nil || !strings.Contains(err.Error(), "REDIS_URL is required") {
		t.Fatalf("err=%v", err)
	}
}

func TestResolveSkipsValidation(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	t.Setenv("TURING_REDIS_URL", "")
	t.Setenv("TURING_JWT_SECRET", "s3cret")
	cfg, err := Resolve(newFlags(t))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := cfg.RequireSecret(); err != nil {
		t.Fatalf("RequireSecret: %v", err)
	}
	if cfg.Validate() == nil {
		t.Fatalf("expected validation error without a redis url")
	}
}

func TestMemoryStoreNeedsNothing(t *testing.T) {
	cfg, err := Load(newFlags(t, "--store", "memory"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 || cfg.MaxTurn != 6 || cfg.Archive != ArchiveStore || cfg.WaitingTTL != 10*time.Minute {
		t.Fatalf("defaults=%+v", cfg)
	}
}

func TestEnvironmentAndFlagPrecedence(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/2")
	t.Setenv("TURING_PORT", "9090")
	t.Setenv("TURING_MAX_TURN", "4")
	cfg, err := Load(newFlags(t, "--max-turn", "8"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RedisURL != "redis://localhost:6379/2" || cfg.Port != 9090 {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.MaxTurn != 8 {
		t.Fatalf("flag should win, max turn=%d", cfg.MaxTurn)
	}
}

func TestDotenvFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "test.env")
	if err := os.WriteFile(file, []byte("TURING_STORE=memory\nTURING_JWT_SECRET=dotenv-secret\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	// godotenv never overrides, so make sure the variables start unset
	t.Setenv("TURING_STORE", "")
	t.Setenv("TURING_JWT_SECRET", "")
	os.Unsetenv("TURING_STORE")
	os.Unsetenv("TURING_JWT_SECRET")
	t.Cleanup(func() {
		os.Unsetenv("TURING_STORE")
		os.Unsetenv("TURING_JWT_SECRET")
	})

	cfg, err := Load(newFlags(t, "--env-file", file))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store != StoreMemory || cfg.JWTSecret != "dotenv-secret" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if err := cfg.RequireSecret(); err != nil {
		t.Fatalf("RequireSecret: %v", err)
	}
}

func TestYAMLConfigFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "turing.yaml")
	body := "store: memory\narchive: postgres\ndatabase-url: postgres://u@localhost/db\nsweep-interval: 30s\n"
	if err := os.WriteFile(file, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("DATABASE_URL", "")
	t.Setenv("TURING_DATABASE_URL", "")
	cfg, err := Load(newFlags(t, "--config", file))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Archive != ArchivePostgres || cfg.DatabaseURL == "" || cfg.SweepInterval != 30*time.Second {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestValidateArchiveRequirements(t *testing.T) {
	base := AppConfig{Store: StoreMemory, Port: 8080, MaxTurn: 6, SweepInterval: time.Minute, WaitingTTL: time.Minute}
	cases := []struct {
		name string
		mut  func(*AppConfig)
		want string
	}{
		{"postgres", func(c *AppConfig) { c.Archive = ArchivePostgres }, "DATABASE_URL"},
		{"s3", func(c *AppConfig) { c.Archive = ArchiveS3 }, "S3_BUCKET"},
		{"unknown", func(c *AppConfig) { c.Archive = "tape" }, "unknown archive"},
		{"port", func(c *AppConfig) { c.Archive = ArchiveStore; c.Port = 0 }, "invalid port"},
	}
	for _, tc := range cases {
		c := base
		tc.mut(&c)
		err := c.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: err=%v", tc.name, err)
		}
	}
	var empty AppConfig
	if err := empty.RequireSecret(); err == nil {
		t.Fatalf("empty secret accepted")
	}
}
