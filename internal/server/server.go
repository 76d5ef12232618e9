// Package server exposes the player over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jfmyers9/nowplaying/internal/catalog"
	"github.com/jfmyers9/nowplaying/internal/history"
	"github.com/jfmyers9/nowplaying/internal/player"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// Server serves the playback API
type Server struct {
	player  *player.Player
	source  catalog.Source
	history *history.Log // nil when history is disabled
	hub     *Hub
	logger  zerolog.Logger

	router   *mux.Router
	upgrader websocket.Upgrader
}

// New creates a Server and registers its routes. The hub's listener is
// attached to p so control commands reach WebSocket clients.
func New(p *player.Player, source catalog.Source, hist *history.Log, logger zerolog.Logger) *Server {
	s := &Server{
		player:  p,
		source:  source,
		history: hist,
		hub:     NewHub(logger),
		logger:  logger.With().Str("component", "server").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	p.OnChange(s.hub.Listener())
	s.routes()
	return s
}

// Hub returns the WebSocket hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.Use(corsMiddleware)
	r.Use(hlog.NewHandler(s.logger))
	r.Use(requestIDMiddleware)

	// Router middleware only runs for matched routes, so preflights need a
	// route of their own. corsMiddleware answers them before this handler.
	r.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// The WebSocket route sits outside the access log wrapper, which would
	// hide the connection's Hijacker
	r.HandleFunc("/api/ws", s.handleWebSocket).Methods(http.MethodGet)

	api := r.PathPrefix("/").Subrouter()
	api.Use(accessLogMiddleware)

	api.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	api.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/api/current_song", s.handleCurrentSong).Methods(http.MethodGet)
	api.HandleFunc("/api/control/{action}", s.handleControl).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/api/seek/{seconds:[0-9]+}", s.handleSeek).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/api/catalog", s.handleCatalog).Methods(http.MethodGet)
	api.HandleFunc("/api/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/api/state", s.handleGetState).Methods(http.MethodGet)
	api.HandleFunc("/api/state", s.handlePutState).Methods(http.MethodPut)

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, errors.New("not found"))
	})
	r.NotFoundHandler = notFound
	api.NotFoundHandler = notFound

	s.router = r
}

// Run starts the hub and serves on addr until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
