package api

import (
	"net/http"
	"strconv"

	"github.com/gridfeed/gridfeed/internal/analytics"
)

func (s *Server) handleRTDASpreads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := filterFromQuery(q, 1000)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	minSpread, err := floatFromQuery(q, "min_spread")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	points, err := s.engine.RTDASpreads(r.Context(), f, minSpread)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newestFirst(points))
}

func (s *Server) handleZoneSpreads(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r.URL.Query(), 1000)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	points, err := s.engine.ZoneSpreads(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newestFirst(points))
}

func (s *Server) handleForecastErrors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := filterFromQuery(q, 1000)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	maxErr, err := floatFromQuery(q, "max_error_percent")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	points, err := s.engine.LoadForecastErrors(r.Context(), f, maxErr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newestFirst(points))
}

func (s *Server) handleReserveMargins(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r.URL.Query(), 1000)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	points, err := s.engine.ReserveMargins(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newestFirst(points))
}

func (s *Server) handleVolatility(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := filterFromQuery(q, 1000)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	window, err := windowHoursFromQuery(q, 24)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	points, err := s.engine.PriceVolatility(r.Context(), f, window)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newestFirst(points))
}

func (s *Server) handleCorrelations(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r.URL.Query(), 1000)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	points, err := s.engine.Correlations(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	window, err := windowHoursFromQuery(q, 24)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	signals, err := s.engine.TradingSignals(r.Context(), window)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if rule := q.Get("signal_type"); rule != "" {
		filtered := []analytics.Signal{}
		for _, sig := range signals {
			if sig.Rule == rule {
				filtered = append(filtered, sig)
			}
		}
		signals = filtered
	}
	writeJSON(w, http.StatusOK, signals)
}

func (s *Server) handleExternalInterfaces(w http.ResponseWriter, r *http.Request) {
	points, err := s.engine.ExternalInterfaces(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

// handleHealth reports process and store liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]string{"status": "ok", "database": "connected"}
	status := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		health["status"] = "degraded"
		health["database"] = "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.Sources(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.fail(w, r, malformed("limit", "not an integer"))
			return
		}
		if n < 1 || n > maxLimit {
			s.fail(w, r, outOfRange("limit", "must be 1..10000"))
			return
		}
		limit = n
	}
	jobs, err := s.store.RecentJobs(r.Context(), q.Get("source_code"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// newestFirst reverses an ascending metric series in place; the engine
// computes oldest-first, the API contract is newest-first.
func newestFirst[T any](points []T) []T {
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points
}
