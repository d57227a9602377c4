package rpcfast

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	want := []time.Duration{100, 200, 400, 800, 1600, 3200, 3200}
	for i, w := range want {
		if got := Backoff(i + 1); got != w*time.Millisecond {
			t.Fatalf("Backoff(%d)=%v want %v", i+1, got, w*time.Millisecond)
		}
	}
	if Backoff(0) != 100*time.Millisecond {
		t.Fatalf("Backoff(0) should clamp to first attempt")
	}
}

func TestDoJSONRetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer t" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["v"]})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(4), WithHeaderProvider(func() map[string]string {
		return map[string]string{"Authorization": "Bearer t"}
	}))
	var out map[string]string
	if err := c.DoJSON(context.Background(), http.MethodPost, "/x", map[string]string{"v": "hi"}, &out, true); err != nil {
		t.Fatalf("DoJSON: %v", err)
	}
	if out["echo"] != "hi" || atomic.LoadInt32(&hits) != 3 {
		t.Fatalf("out=%v hits=%d", out, hits)
	}
}

func TestDoJSONDoesNotRetryClientErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"nope"}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL).DoJSON(context.Background(), http.MethodPost, "/x", nil, nil, true)
	var serr *StatusError
	if !errors.As(err, &serr) || serr.Status != http.StatusNotFound {
		t.Fatalf("err=%v", err)
	}
	if hits != 1 {
		t.Fatalf("hits=%d", hits)
	}
}
