package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/RyotaroOda/TuringChatD11-sub000/internal/api"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/config"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/turingbuilder"
)

func TestTokenCommand(t *testing.T) {
	t.Setenv("TURING_JWT_SECRET", "cmd-secret")
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--user", "alice", "--env-file", t.TempDir() + "/none.env"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	claims, err := api.NewAuthenticator("cmd-secret").Parse(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UserID != "alice" || claims.Name != "alice" || claims.Guest {
		t.Fatalf("claims=%+v", claims)
	}
}

func TestTokenCommandNeedsSecret(t *testing.T) {
	t.Setenv("TURING_JWT_SECRET", "")
	cmd := newRootCmd()
	cmd.SetArgs([]string{"token", "--user", "alice", "--env-file", t.TempDir() + "/none.env"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected missing secret error")
	}
}

func TestCheckAgainstMemoryServer(t *testing.T) {
	cfg := &config.AppConfig{
		Port:          8080,
		Store:         config.StoreMemory,
		Archive:       config.ArchiveStore,
		MaxTurn:       2,
		OneTurnTime:   30,
		SweepInterval: time.Minute,
		WaitingTTL:    time.Minute,
		LLMTimeout:    time.Second,
	}
	deps, err := turingbuilder.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer deps.Close()
	auth := api.NewAuthenticator("check-secret")
	srv := httptest.NewServer(api.NewServer(api.Config{}, api.Deps{
		Rooms:      deps.Rooms,
		Matchmaker: deps.Matchmaker,
		Results:    deps.Results,
		Profiles:   deps.Profiles,
		Archive:    deps.Archive,
		Events:     deps.Bus,
		Auth:       auth,
		Catalog:    deps.Catalog,
	}).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var out bytes.Buffer
	if err := runCheck(ctx, &out, srv.URL, auth); err != nil {
		t.Fatalf("runCheck: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "scores=[1 1]") {
		t.Fatalf("output:\n%s", out.String())
	}
}
