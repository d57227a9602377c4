// Package api exposes the game as authenticated callables over HTTP and a
// WebSocket stream of room events.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/RyotaroOda/TuringChatD11-sub000/internal/archive"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/battle"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/matching"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/msgcat"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/notify"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/obslog"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/profile"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/result"
)

const shutdownTimeout = 5 * time.Second

type Config struct {
	Bind string
	Port int
	// OriginPatterns are accepted for cross-origin WebSocket upgrades.
	OriginPatterns []string
}

// Deps are the game services the handlers call into.
type Deps struct {
	Rooms      *battle.Manager
	Matchmaker *matching.Matchmaker
	Results    *result.Calculator
	Profiles   *profile.Service
	Archive    archive.Archiver
	Events     notify.Subscriber
	Auth       *Authenticator
	Catalog    *msgcat.Catalog
}

type Server struct {
	cfg     Config
	rooms   *battle.Manager
	mm      *matching.Matchmaker
	results *result.Calculator
	prof    *profile.Service
	arch    archive.Archiver
	events  notify.Subscriber
	auth    *Authenticator
	cat     *msgcat.Catalog
	mux     *httprouter.Router
}

func NewServer(cfg Config, d Deps) *Server {
	if d.Catalog == nil {
		d.Catalog = msgcat.MustDefault()
	}
	if d.Events == nil {
		d.Events = notify.Nop{}
	}
	s := &Server{
		cfg:     cfg,
		rooms:   d.Rooms,
		mm:      d.Matchmaker,
		results: d.Results,
		prof:    d.Profiles,
		arch:    d.Archive,
		events:  d.Events,
		auth:    d.Auth,
		cat:     d.Catalog,
	}
	s.mux = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() *httprouter.Router {
	mux := httprouter.New()
	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
		obslog.L().Error("api_panic", zap.String("path", r.URL.Path), zap.Any("panic", v))
		s.writeError(w, r.URL.Path, fmt.Errorf("panic: %v", v))
	}

	mux.POST("/rpc/requestMatch", s.callable("requestMatch", s.requestMatch))
	mux.POST("/rpc/cancelMatch", s.callable("cancelMatch", s.cancelMatch))
	mux.POST("/rpc/calculateResult", s.callable("calculateResult", s.calculateResult))
	mux.POST("/rpc/postMessage", s.callable("postMessage", s.postMessage))
	mux.POST("/rpc/submitAnswer", s.callable("submitAnswer", s.submitAnswer))
	mux.POST("/rpc/getRoom", s.callable("getRoom", s.getRoom))

	mux.GET("/rooms/:id", s.serveRoom)
	mux.GET("/rooms/:id/events", s.serveEvents)
	mux.GET("/healthz", s.serveHealth)
	return mux
}

// Serve listens until ctx ends, then shuts down gracefully. There is no
// write timeout because event streams are long lived.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Bind, strconv.Itoa(s.cfg.Port)),
		Handler:           s.mux,
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		obslog.L().Info("api_listen", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		obslog.L().Warn("api_shutdown_error", zap.Error(err))
		return err
	}
	obslog.L().Info("api_stopped")
	return nil
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.rooms.Store().Get(ctx, "healthz"); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
