// Package search serves text search over the coin universe with its own
// short-lived caches, independent of the cache manager's working set. Query
// results live in an expirable LRU, and local matching runs against a compact
// universe snapshot fetched on a faster cadence than the dashboard cache.
package search

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"coinboard/internal/coinapi"
	"coinboard/internal/domain"
	"coinboard/internal/observability"
	"coinboard/internal/storage"
)

const (
	// DefaultQueryTTL bounds how long a cached query result is served.
	DefaultQueryTTL = 30 * time.Second

	// DefaultQueryCapacity caps the number of cached queries.
	DefaultQueryCapacity = 256

	// DefaultUniverseTTL bounds the age of the local-search snapshot. It is
	// deliberately shorter than the cache manager's validity window so search
	// refreshes on its own cadence.
	DefaultUniverseTTL = 8 * time.Second

	// DefaultUniverseLimit is how many coins the snapshot fetch requests.
	DefaultUniverseLimit = 200

	// DefaultLimit is the result count when the caller passes none.
	DefaultLimit = 10

	// DefaultSuggestLimit is the suggestion count when the caller passes none.
	DefaultSuggestLimit = 5

	// DefaultHistoryLimit caps the persisted recent-search list.
	DefaultHistoryLimit = 10
)

// addressPattern matches a full EVM-style contract address.
var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Source is the slice of the upstream client the search service uses.
// *coinapi.Client satisfies it.
type Source interface {
	List(ctx context.Context, p coinapi.ListParams) ([]domain.Coin, error)
	SearchQuery(ctx context.Context, query string, limit int) ([]domain.Coin, error)
	ByAddress(ctx context.Context, address string) (*domain.Coin, error)
}

// Result is the payload returned for one search request.
type Result struct {
	Results      []domain.Coin `json:"results"`
	TotalFound   int           `json:"totalFound"`
	SearchTimeMs int64         `json:"searchTimeMs"`
}

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	// Source performs upstream requests. Required.
	Source Source

	// History persists the recent-search list. Optional.
	History storage.SearchHistoryStore

	// Log receives service events. Defaults to a no-op logger.
	Log *zap.Logger

	// Clock overrides time.Now, for tests. It governs universe staleness
	// and elapsed-time reporting; the query cache keeps wall-clock TTLs.
	Clock func() time.Time

	QueryTTL      time.Duration
	QueryCapacity int
	UniverseTTL   time.Duration
	UniverseLimit int
	HistoryLimit  int
}

// Service answers search, suggestion and recent-search requests.
type Service struct {
	src     Source
	history storage.SearchHistoryStore
	log     *zap.Logger
	now     func() time.Time

	queries *expirable.LRU[string, []domain.Coin]

	uniMu    sync.RWMutex
	uniCoins []domain.Coin
	uniAt    time.Time

	fetchMu sync.Mutex

	uniTTL    time.Duration
	uniLimit  int
	histLimit int
}

// NewService creates a search service from opts.
func NewService(opts Options) *Service {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.QueryTTL <= 0 {
		opts.QueryTTL = DefaultQueryTTL
	}
	if opts.QueryCapacity <= 0 {
		opts.QueryCapacity = DefaultQueryCapacity
	}
	if opts.UniverseTTL <= 0 {
		opts.UniverseTTL = DefaultUniverseTTL
	}
	if opts.UniverseLimit <= 0 {
		opts.UniverseLimit = DefaultUniverseLimit
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}

	return &Service{
		src:       opts.Source,
		history:   opts.History,
		log:       opts.Log,
		now:       opts.Clock,
		queries:   expirable.NewLRU[string, []domain.Coin](opts.QueryCapacity, nil, opts.QueryTTL),
		uniTTL:    opts.UniverseTTL,
		uniLimit:  opts.UniverseLimit,
		histLimit: opts.HistoryLimit,
	}
}

// Search resolves a text query. Matching is tried in order: substring scan
// over the local snapshot, the upstream's dedicated search endpoint, and
// finally a direct address lookup when the query looks like a contract
// address. The first stage with results wins; ranked results are cached
// under the normalized query.
func (s *Service) Search(ctx context.Context, query string, limit int) (*Result, error) {
	start := s.now()

	trimmed := strings.TrimSpace(query)
	normalized := strings.ToLower(trimmed)
	if normalized == "" {
		return &Result{Results: []domain.Coin{}}, nil
	}
	limit = normalizeLimit(limit, DefaultLimit)

	if full, ok := s.queries.Get(normalized); ok {
		return s.finish(ctx, trimmed, full, "cache", limit, start), nil
	}

	full, source, err := s.lookup(ctx, trimmed, normalized, limit)
	if err != nil {
		return nil, err
	}

	s.queries.Add(normalized, full)
	return s.finish(ctx, trimmed, full, source, limit, start), nil
}

// lookup runs the three-stage match. Upstream failures mid-pipeline degrade
// to an empty stage result unless the caller's context is done.
func (s *Service) lookup(ctx context.Context, trimmed, normalized string, limit int) ([]domain.Coin, string, error) {
	if local := rank(scoreMatches(s.universe(ctx), normalized)); len(local) > 0 {
		return local, "local", nil
	}

	remote, err := s.src.SearchQuery(ctx, trimmed, limit)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", err
		}
		s.log.Warn("upstream search failed", zap.String("query", normalized), zap.Error(err))
	}
	if len(remote) > 0 {
		return rank(scoreAll(remote, normalized)), "upstream", nil
	}

	if !addressPattern.MatchString(trimmed) {
		return nil, "none", nil
	}

	coin, err := s.src.ByAddress(ctx, trimmed)
	switch {
	case errors.Is(err, coinapi.ErrNotFound):
		return nil, "address", nil
	case err != nil:
		if ctx.Err() != nil {
			return nil, "", err
		}
		s.log.Warn("address lookup failed", zap.String("query", normalized), zap.Error(err))
		return nil, "address", nil
	default:
		return []domain.Coin{*coin}, "address", nil
	}
}

// finish records metrics and history, then shapes the response.
func (s *Service) finish(ctx context.Context, trimmed string, full []domain.Coin, source string, limit int, start time.Time) *Result {
	elapsed := s.now().Sub(start)
	observability.RecordSearch(source, elapsed.Seconds())

	if len(full) > 0 {
		s.recordQuery(ctx, trimmed)
	}

	n := limit
	if n > len(full) {
		n = len(full)
	}
	return &Result{
		Results:      copyCoins(full[:n]),
		TotalFound:   len(full),
		SearchTimeMs: elapsed.Milliseconds(),
	}
}

// Suggestions returns up to limit candidate strings for a partial query,
// drawn from coin names, symbols and creator-address prefixes in the local
// snapshot. Candidates are collected up to twice the limit, set-deduplicated,
// then truncated.
func (s *Service) Suggestions(ctx context.Context, query string, limit int) []string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	if normalized == "" {
		return []string{}
	}
	limit = normalizeLimit(limit, DefaultSuggestLimit)

	target := 2 * limit
	seen := make(map[string]struct{}, target)
	candidates := make([]string, 0, target)

	add := func(c string) {
		if len(candidates) >= target {
			return
		}
		if _, dup := seen[c]; dup {
			return
		}
		seen[c] = struct{}{}
		candidates = append(candidates, c)
	}

	for _, coin := range s.universe(ctx) {
		if strings.Contains(strings.ToLower(coin.Name), normalized) {
			add(coin.Name)
		}
		if strings.Contains(strings.ToLower(coin.Symbol), normalized) {
			add(coin.Symbol)
		}
		if strings.HasPrefix(strings.ToLower(coin.CreatorAddress), normalized) {
			add(coin.CreatorAddress)
		}
		if len(candidates) >= target {
			break
		}
	}

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

// RecentSearches returns the persisted recent-search list, newest first.
func (s *Service) RecentSearches(ctx context.Context) ([]string, error) {
	if s.history == nil {
		return []string{}, nil
	}

	queries, err := s.history.Load(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load search history: %w", err)
	}
	return queries, nil
}

// ClearCache drops the query cache and the universe snapshot. Persisted
// search history is untouched; ClearHistory removes that.
func (s *Service) ClearCache() {
	s.queries.Purge()

	s.uniMu.Lock()
	s.uniCoins, s.uniAt = nil, time.Time{}
	s.uniMu.Unlock()

	s.log.Info("search caches cleared")
}

// ClearHistory deletes the persisted recent-search list.
func (s *Service) ClearHistory(ctx context.Context) error {
	if s.history == nil {
		return nil
	}
	if err := s.history.Delete(ctx); err != nil {
		return fmt.Errorf("delete search history: %w", err)
	}
	return nil
}

// universe returns the local-search snapshot, refetching when stale. A
// failed refresh falls back to whatever snapshot is already held, so search
// degrades rather than errors when the upstream blips.
func (s *Service) universe(ctx context.Context) []domain.Coin {
	s.uniMu.RLock()
	coins, at := s.uniCoins, s.uniAt
	s.uniMu.RUnlock()
	if coins != nil && s.now().Sub(at) < s.uniTTL {
		return coins
	}

	// One fetch at a time; whoever waited re-checks and reuses the result.
	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	s.uniMu.RLock()
	coins, at = s.uniCoins, s.uniAt
	s.uniMu.RUnlock()
	if coins != nil && s.now().Sub(at) < s.uniTTL {
		return coins
	}

	fresh, err := s.src.List(ctx, coinapi.ListParams{
		Limit:     s.uniLimit,
		SortBy:    "marketCap",
		SortOrder: "desc",
	})
	if err != nil {
		s.log.Warn("search universe fetch failed, keeping stale snapshot",
			zap.Int("stale_coins", len(coins)),
			zap.Error(err))
		return coins
	}

	s.uniMu.Lock()
	s.uniCoins, s.uniAt = fresh, s.now()
	s.uniMu.Unlock()

	s.log.Debug("search universe refreshed", zap.Int("coins", len(fresh)))
	return fresh
}

// recordQuery prepends the query to the persisted history, dropping older
// duplicates and truncating. Failures are logged, never surfaced.
func (s *Service) recordQuery(ctx context.Context, query string) {
	if s.history == nil {
		return
	}

	existing, err := s.history.Load(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.log.Warn("load search history failed", zap.Error(err))
		return
	}

	next := make([]string, 0, s.histLimit)
	next = append(next, query)
	for _, prev := range existing {
		if strings.EqualFold(prev, query) {
			continue
		}
		next = append(next, prev)
		if len(next) == s.histLimit {
			break
		}
	}

	if err := s.history.Save(ctx, next); err != nil {
		s.log.Warn("save search history failed", zap.Error(err))
	}
}

func copyCoins(src []domain.Coin) []domain.Coin {
	out := make([]domain.Coin, len(src))
	copy(out, src)
	return out
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	return limit
}
