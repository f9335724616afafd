// Package api serves the read-only JSON surface over the store and the
// analytics engine. It validates parameters and shapes responses; all business
// logic lives below it.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/gridfeed/gridfeed/internal/analytics"
	"github.com/gridfeed/gridfeed/internal/store"
	"github.com/gridfeed/gridfeed/internal/telemetry"
)

// Config tunes the HTTP server.
type Config struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// DefaultConfig binds to localhost only.
func DefaultConfig() Config {
	return Config{
		Host:         "127.0.0.1",
		Port:         8000,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server is the read API.
type Server struct {
	config Config
	store  *store.Store
	engine *analytics.Engine
	router *mux.Router
}

// New wires the router.
func New(config Config, st *store.Store, engine *analytics.Engine) *Server {
	s := &Server{
		config: config,
		store:  st,
		engine: engine,
		router: mux.NewRouter(),
	}
	s.routes()
	return s
}

// Router exposes the handler for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// ListenAndServe blocks until ctx is canceled, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) routes() {
	s.router.Use(s.requestIDMiddleware, s.loggingMiddleware, s.corsMiddleware, jsonMiddleware)

	get := func(path string, h http.HandlerFunc) {
		s.router.HandleFunc(path, h).Methods(http.MethodGet)
	}

	// Family reads.
	get("/realtime-lbmp", s.family(1000, func(ctx context.Context, f store.Filter) (interface{}, error) {
		return s.store.RTLBMP(ctx, f)
	}))
	get("/dayahead-lbmp", s.family(1000, func(ctx context.Context, f store.Filter) (interface{}, error) {
		return s.store.DALBMP(ctx, f)
	}))
	get("/timeweighted-lbmp", s.family(1000, func(ctx context.Context, f store.Filter) (interface{}, error) {
		return s.store.TWLBMP(ctx, f)
	}))
	get("/load", s.family(1000, func(ctx context.Context, f store.Filter) (interface{}, error) {
		return s.store.Loads(ctx, f)
	}))
	get("/load-forecast", s.family(1000, func(ctx context.Context, f store.Filter) (interface{}, error) {
		return s.store.LoadForecasts(ctx, f)
	}))
	get("/interface-flows", s.family(1000, func(ctx context.Context, f store.Filter) (interface{}, error) {
		return s.store.InterfaceFlows(ctx, f)
	}))
	get("/ancillary-prices", s.family(1000, func(ctx context.Context, f store.Filter) (interface{}, error) {
		return s.store.AncillaryPrices(ctx, f)
	}))
	get("/constraints", s.family(1000, func(ctx context.Context, f store.Filter) (interface{}, error) {
		return s.store.Constraints(ctx, f)
	}))
	get("/external-rto-prices", s.family(1000, func(ctx context.Context, f store.Filter) (interface{}, error) {
		return s.store.ExternalRTOPrices(ctx, f)
	}))
	get("/atc-ttc", s.family(1000, func(ctx context.Context, f store.Filter) (interface{}, error) {
		return s.store.ATCTTC(ctx, f)
	}))
	get("/outages", s.family(500, func(ctx context.Context, f store.Filter) (interface{}, error) {
		return s.store.Outages(ctx, f)
	}))
	get("/weather", s.family(500, func(ctx context.Context, f store.Filter) (interface{}, error) {
		return s.store.Weather(ctx, f)
	}))
	get("/fuel-mix", s.family(1000, func(ctx context.Context, f store.Filter) (interface{}, error) {
		return s.store.FuelMix(ctx, f)
	}))
	get("/advisories", s.family(200, func(ctx context.Context, f store.Filter) (interface{}, error) {
		return s.store.Advisories(ctx, f)
	}))

	// Computed metrics.
	get("/rt-da-spreads", s.handleRTDASpreads)
	get("/zone-spreads", s.handleZoneSpreads)
	get("/load-forecast-errors", s.handleForecastErrors)
	get("/reserve-margins", s.handleReserveMargins)
	get("/price-volatility", s.handleVolatility)
	get("/correlations", s.handleCorrelations)
	get("/trading-signals", s.handleSignals)
	get("/external-interfaces", s.handleExternalInterfaces)

	// Operational surface.
	get("/health", s.handleHealth)
	get("/sources", s.handleSources)
	get("/jobs", s.handleJobs)
	s.router.Handle("/metrics", telemetry.Handler()).Methods(http.MethodGet)

	s.router.NotFoundHandler = jsonMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "no such endpoint")
	}))
}

// family adapts one store read into a validated, error-mapped handler.
func (s *Server) family(defaultLimit int, read func(context.Context, store.Filter) (interface{}, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := filterFromQuery(r.URL.Query(), defaultLimit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		rows, err := read(r.Context(), f)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

// fail translates an error into the conventional status: 400/422 for
// validation, 500 when the store is unreachable, 503 when it is connected but
// failing.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		writeError(w, ve.Status, ve.Error())
		return
	}

	log.Error().Err(err).Str("path", r.URL.Path).Msg("read failed")
	if pingErr := s.store.Ping(r.Context()); pingErr != nil {
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	writeError(w, http.StatusServiceUnavailable, "store query failed")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusRecorder captures the response code for logs and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		telemetry.HTTPRequests.WithLabelValues(r.URL.Path, strconv.Itoa(rec.status)).Inc()
		telemetry.HTTPDuration.WithLabelValues(r.URL.Path).Observe(elapsed.Seconds())

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", elapsed).
			Msg("request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			for _, allowed := range s.config.AllowedOrigins {
				if allowed == origin || allowed == "*" {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
					break
				}
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
