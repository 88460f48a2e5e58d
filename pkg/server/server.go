package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/go-playground/validator/v10"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wattwatch/wattwatch/pkg/feed"
	"github.com/wattwatch/wattwatch/pkg/inflight"
	"github.com/wattwatch/wattwatch/pkg/insights"
	"github.com/wattwatch/wattwatch/pkg/log"
	"github.com/wattwatch/wattwatch/pkg/metrics"
	"github.com/wattwatch/wattwatch/pkg/storage"
	"github.com/wattwatch/wattwatch/pkg/types"
)

// liveFeed is the part of feed.Feed the server depends on.
type liveFeed interface {
	Snapshot() feed.Snapshot
	Run(ctx context.Context) error
}

// Server handles the HTTP API for the dashboard. It serves the live feed,
// cost estimates and AI insights, and persists settings, devices and past
// insights.
type Server struct {
	feed     liveFeed
	advisor  *insights.Advisor
	guard    inflight.Guard
	storage  storage.Database
	validate *validator.Validate
	now      func() time.Time

	streamID   string
	listenAddr string
	httpServer *http.Server
	serverName string
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(f *feed.Feed, a *insights.Advisor, g inflight.Guard, s storage.Database) *Server {
	srv := newServer(f, a, g, s)
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	streamID := lflag.String("stream-id", types.StreamIDDefault, "ID that settings, devices and insights are stored under")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		if *streamID == "" {
			panic("stream-id cannot be empty")
		}
		srv.streamID = *streamID
	})

	return srv
}

func newServer(f liveFeed, a *insights.Advisor, g inflight.Guard, s storage.Database) *Server {
	return &Server{
		feed:       f,
		advisor:    a,
		guard:      g,
		storage:    s,
		validate:   newValidator(),
		now:        time.Now,
		streamID:   types.StreamIDDefault,
		serverName: "wattwatch",
	}
}

func (s *Server) setupHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/readings", s.handleReadings)
	mux.HandleFunc("GET /api/cost", s.handleCost)
	mux.HandleFunc("GET /api/insights/analysis", s.handleAnalysis)
	mux.HandleFunc("GET /api/insights/anomaly", s.handleAnomaly)
	mux.HandleFunc("POST /api/insights/forecast", s.handleForecast)
	mux.HandleFunc("GET /api/insights/forecast", s.handleLatestForecast)
	mux.HandleFunc("GET /api/history/insights", s.handleHistoryInsights)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/settings", s.handleUpdateSettings)
	mux.HandleFunc("GET /api/devices", s.handleListDevices)
	mux.HandleFunc("POST /api/devices", s.handleCreateDevice)
	mux.HandleFunc("POST /api/devices/{id}/toggle", s.handleToggleDevice)
	mux.HandleFunc("DELETE /api/devices/{id}", s.handleDeleteDevice)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(metrics.Middleware(mux))))
}

// Run starts the live feed and the HTTP server and blocks until the context
// is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	feedCtx, cancelFeed := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.feed.Run(feedCtx); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "feed stopped", slog.Any("error", err))
		}
	}()
	defer func() {
		cancelFeed()
		wg.Wait()
	}()

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
