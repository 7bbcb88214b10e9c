// Package httpapi exposes the dashboard backend over HTTP: paginated coin
// views, stats, search, cache control and the live WebSocket feed.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"coinboard/internal/cache"
	"coinboard/internal/domain"
	"coinboard/internal/observability"
	"coinboard/internal/search"
)

// LiveHandler is the hub surface the API mounts at /ws. *live.Hub
// satisfies it.
type LiveHandler interface {
	http.Handler
	ClientCount() int
}

// Options configures a Server.
type Options struct {
	// Cache serves coin views and cache control. Required.
	Cache *cache.Manager

	// Search serves text search. Required.
	Search *search.Service

	// Live handles WebSocket clients. Optional; nil disables /ws.
	Live LiveHandler

	// Log receives request-level warnings. Defaults to a no-op logger.
	Log *zap.Logger
}

// Server routes dashboard API requests to the cache manager and search
// service.
type Server struct {
	cache   *cache.Manager
	search  *search.Service
	live    LiveHandler
	log     *zap.Logger
	started time.Time
}

// New creates an API server from opts.
func New(opts Options) *Server {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Server{
		cache:   opts.Cache,
		search:  opts.Search,
		live:    opts.Live,
		log:     opts.Log,
		started: time.Now(),
	}
}

// Router builds the HTTP handler with all routes mounted.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/coins", s.instrument("/api/v1/coins", s.handleCoins))
	mux.HandleFunc("GET /api/v1/coins/trending", s.instrument("/api/v1/coins/trending", s.handleTrending))
	mux.HandleFunc("GET /api/v1/coins/gainers", s.instrument("/api/v1/coins/gainers", s.handleGainers))
	mux.HandleFunc("GET /api/v1/coins/losers", s.instrument("/api/v1/coins/losers", s.handleLosers))
	mux.HandleFunc("GET /api/v1/coins/{address}", s.instrument("/api/v1/coins/{address}", s.handleCoinByAddress))

	mux.HandleFunc("GET /api/v1/stats", s.instrument("/api/v1/stats", s.handleStats))
	mux.HandleFunc("GET /api/v1/stats/history", s.instrument("/api/v1/stats/history", s.handleStatsHistory))

	mux.HandleFunc("GET /api/v1/search", s.instrument("/api/v1/search", s.handleSearch))
	mux.HandleFunc("GET /api/v1/search/suggest", s.instrument("/api/v1/search/suggest", s.handleSuggest))
	mux.HandleFunc("GET /api/v1/search/recent", s.instrument("/api/v1/search/recent", s.handleRecentSearches))

	mux.HandleFunc("POST /api/v1/cache/refresh", s.instrument("/api/v1/cache/refresh", s.handleRefresh))
	mux.HandleFunc("DELETE /api/v1/cache", s.instrument("/api/v1/cache", s.handleClearCache))
	mux.HandleFunc("GET /api/v1/cache/info", s.instrument("/api/v1/cache/info", s.handleCacheInfo))

	if s.live != nil {
		mux.Handle("GET /ws", s.live)
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", observability.Handler())

	return mux
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument wraps a handler with request metrics.
func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}

		h(rec, r)

		observability.RecordHTTPRequest(route, strconv.Itoa(rec.code), time.Since(start).Seconds())
	}
}

func (s *Server) handleCoins(w http.ResponseWriter, r *http.Request) {
	page, err := intParam(r, "page", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid page parameter")
		return
	}

	sortBy := firstParam(r, "sortBy", "sort")
	filterBy := firstParam(r, "filterBy", "filter")

	result, err := s.cache.Page(r.Context(), page, sortBy, filterBy)
	if err != nil {
		s.upstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCoinByAddress(w http.ResponseWriter, r *http.Request) {
	coin, err := s.cache.ByAddress(r.Context(), r.PathValue("address"))
	if errors.Is(err, cache.ErrCoinNotFound) {
		writeError(w, http.StatusNotFound, "coin not found")
		return
	}
	if err != nil {
		s.upstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, coin)
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	s.serveCoinList(w, r, s.cache.Trending)
}

func (s *Server) handleGainers(w http.ResponseWriter, r *http.Request) {
	s.serveCoinList(w, r, s.cache.TopGainers)
}

func (s *Server) handleLosers(w http.ResponseWriter, r *http.Request) {
	s.serveCoinList(w, r, s.cache.TopLosers)
}

func (s *Server) serveCoinList(w http.ResponseWriter, r *http.Request, fetch func(context.Context, int) ([]domain.Coin, error)) {
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit parameter")
		return
	}

	coins, err := fetch(r.Context(), limit)
	if err != nil {
		s.upstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, coins)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cache.Stats(r.Context())
	if err != nil {
		s.upstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit parameter")
		return
	}

	points, err := s.cache.StatsHistory(r.Context(), limit)
	if err != nil {
		s.log.Warn("stats history read failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "stats history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}

	limit, err := intParam(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit parameter")
		return
	}

	result, err := s.search.Search(r.Context(), query, limit)
	if err != nil {
		s.upstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}

	limit, err := intParam(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit parameter")
		return
	}

	writeJSON(w, http.StatusOK, s.search.Suggestions(r.Context(), query, limit))
}

func (s *Server) handleRecentSearches(w http.ResponseWriter, r *http.Request) {
	recent, err := s.search.RecentSearches(r.Context())
	if err != nil {
		s.log.Warn("recent searches read failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, recent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.Refresh(r.Context()); err != nil {
		s.upstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cache.Info())
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.ClearCache(r.Context()); err != nil {
		s.log.Warn("cache clear failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cache clear failed")
		return
	}
	s.search.ClearCache()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCacheInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Info())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// StatusResponse is the JSON response for the /status endpoint.
type StatusResponse struct {
	Status      string     `json:"status"`
	Uptime      string     `json:"uptime"`
	Cache       cache.Info `json:"cache"`
	LiveClients int        `json:"liveClients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Status: "running",
		Uptime: time.Since(s.started).Round(time.Second).String(),
		Cache:  s.cache.Info(),
	}
	if s.live != nil {
		resp.LiveClients = s.live.ClientCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

// upstreamError maps a failed data-plane call to a 502. The only hard
// failures the cache and search layers surface are upstream cycle errors
// and caller cancellation.
func (s *Server) upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Warn("request failed",
		zap.String("path", r.URL.Path),
		zap.Error(err))
	writeError(w, http.StatusBadGateway, "upstream data source unavailable")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// firstParam returns the first non-empty query parameter among names.
func firstParam(r *http.Request, names ...string) string {
	q := r.URL.Query()
	for _, name := range names {
		if v := q.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// intParam parses an integer query parameter, returning fallback when
// absent.
func intParam(r *http.Request, name string, fallback int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}
