package archive

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/RyotaroOda/TuringChatD11-sub000/internal/battle"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/store"
)

func sampleRoom(id string) *battle.Room {
	return &battle.Room{
		RoomMeta: battle.RoomMeta{ID: id, Status: battle.StatusFinished, HostID: "host", Timestamps: battle.Timestamps{Start: 1000, End: 5000}},
		Players:  []battle.PlayerRef{{ID: "host"}, {ID: "guest"}},
		Result:   &battle.BattleResult{Scores: [2]int{2, 0}, ElapsedMs: 4000},
	}
}

func TestStoreArchiverRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := NewStoreArchiver(store.NewMemoryStore())
	if r, err := a.Load(ctx, "r1"); err != nil || r != nil {
		t.Fatalf("empty load r=%v err=%v", r, err)
	}
	if err := a.Save(ctx, sampleRoom("r1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := a.Save(ctx, sampleRoom("r1")); err != nil {
		t.Fatalf("save again: %v", err)
	}
	r, err := a.Load(ctx, "r1")
	if err != nil || r == nil || r.Result.Scores != [2]int{2, 0} || len(r.Players) != 2 {
		t.Fatalf("load r=%+v err=%v", r, err)
	}
	if err := a.Save(ctx, &battle.Room{}); err != ErrInvalidRoom {
		t.Fatalf("expected ErrInvalidRoom, got %v", err)
	}
}

// fakeS3 is a path-style object server good enough for Put/GetObject.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		b, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = b
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		b, ok := f.objects[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(b)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3ArchiverAgainstFakeEndpoint(t *testing.T) {
	fake := &fakeS3{objects: make(map[string][]byte)}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ctx := context.Background()
	a, err := NewS3Archiver(ctx, S3Config{
		Bucket:          "archives",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := a.Save(ctx, sampleRoom("r9")); err != nil {
		t.Fatalf("save: %v", err)
	}
	fake.mu.Lock()
	_, ok := fake.objects["/archives/backup/rooms/r9.json"]
	fake.mu.Unlock()
	if !ok {
		t.Fatalf("object not written at expected key")
	}
	r, err := a.Load(ctx, "r9")
	if err != nil || r == nil || r.HostID != "host" {
		t.Fatalf("load r=%+v err=%v", r, err)
	}
	missing, err := a.Load(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("missing r=%+v err=%v", missing, err)
	}
}

func TestNewS3ArchiverRequiresBucket(t *testing.T) {
	if _, err := NewS3Archiver(context.Background(), S3Config{}); err == nil {
		t.Fatalf("expected bucket error")
	}
}

func TestPostgresArchiver(t *testing.T) {
	if _, err := NewPostgresArchiver("  "); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected DATABASE_URL error, got %v", err)
	}
	url := os.Getenv("TURING_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TURING_TEST_DATABASE_URL not set")
	}
	a, err := NewPostgresArchiver(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer a.Close()
	ctx := context.Background()
	if err := a.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}
	if err := a.Save(ctx, sampleRoom("pg-r1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := a.Save(ctx, sampleRoom("pg-r1")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	r, err := a.Load(ctx, "pg-r1")
	if err != nil || r == nil || r.Result.ElapsedMs != 4000 {
		t.Fatalf("load r=%+v err=%v", r, err)
	}
}
