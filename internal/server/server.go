// Package server is the stateless HTTP gateway over the columnar and
// relational stores, plus a websocket stream of derived bus topics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"click-datastreams/internal/bus"
	"click-datastreams/internal/logger"
	"click-datastreams/internal/storage"
)

// Stores are the read paths the gateway serves. Any of them may be nil, in
// which case the matching routes answer 503.
type Stores struct {
	Candles         storage.CandleStore
	Metrics         storage.TokenMetricsStore
	Trades          storage.TradeStore
	Classifications storage.ClassificationStore
}

// Options configures a Server.
type Options struct {
	StaleAfter   time.Duration // data older than this is flagged, not refused
	Bus          bus.Bus       // source of /stream, optional
	Checks       map[string]Check
	QueryTimeout time.Duration
	Now          func() time.Time
}

// Server serves the read API.
type Server struct {
	stores Stores
	opts   Options
	log    *logger.Entry
}

// New creates a Server.
func New(stores Stores, opts Options) *Server {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 5 * time.Minute
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{
		stores: stores,
		opts:   opts,
		log:    logger.GetLogger().WithComponent("server"),
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/health", HealthHandler(s.opts.Checks))
	r.Get("/stream", s.handleStream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.opts.QueryTimeout))
		r.Route("/tokens/{token}", func(r chi.Router) {
			r.Get("/candles", s.handleCandles)
			r.Get("/metrics", s.handleMetrics)
			r.Get("/trades", s.handleTrades)
		})
		r.Get("/wallets/{wallet}/classifications", s.handleClassifications)
	})
	return r
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.WithFields(logger.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("HTTP request")
	})
}

// stale reports whether a timestamp (ms) is older than the staleness limit.
func (s *Server) stale(newest int64) bool {
	return s.opts.Now().UnixMilli()-newest > s.opts.StaleAfter.Milliseconds()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.log.WithError(err).WithField("path", r.URL.Path).Error("Store query failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}
