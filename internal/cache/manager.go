// Package cache owns the in-memory working set of coins and serves every
// read pattern from it: full list, paginated views, aggregate stats and
// top-N slices. It keeps the set fresh through a timed background refresh
// and coalesces concurrent misses into a single upstream fetch-merge cycle.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"coinboard/internal/coinapi"
	"coinboard/internal/domain"
	"coinboard/internal/observability"
	"coinboard/internal/stats"
	"coinboard/internal/storage"
)

// Default tunables for the fetch-merge cycle and view serving.
const (
	DefaultCacheValidity   = 30 * time.Second
	DefaultRefreshInterval = 60 * time.Second
	DefaultBatchSize       = 100
	DefaultMaxAttempts     = 3
	DefaultMinViable       = 100
	DefaultFallbackFloor   = 50
	DefaultPageSize        = 10
)

// ErrCoinNotFound is returned by ByAddress when no coin in the working set
// matches the requested address or id.
var ErrCoinNotFound = errors.New("coin not found")

// Source is the upstream feed the manager fills its working set from.
// *coinapi.Client satisfies it.
type Source interface {
	List(ctx context.Context, p coinapi.ListParams) ([]domain.Coin, error)
	Trending(ctx context.Context, limit int) ([]domain.Coin, error)
}

// RefreshEvent summarizes one completed fetch-merge cycle. Published to
// subscribers after the new working set is live.
type RefreshEvent struct {
	TotalCoins     int     `json:"totalCoins"`
	TotalMarketCap float64 `json:"totalMarketCap"`
	TotalVolume24h float64 `json:"totalVolume24h"`
	UpdatedAt      int64   `json:"updatedAt"`
}

// Info is a pure read of the manager's current state. No I/O.
type Info struct {
	HasData     bool  `json:"hasCachedData"`
	TotalCoins  int   `json:"totalCoins"`
	LastUpdated int64 `json:"lastUpdated"` // Unix ms, 0 when empty
	Age         int64 `json:"cacheAge"`    // ms since last refresh, 0 when empty
	Valid       bool  `json:"isValid"`
}

// workingSet is one immutable generation of the cache. It is replaced
// wholesale on refresh, never patched, so readers holding the previous
// generation keep a consistent view.
type workingSet struct {
	coins     []domain.Coin
	stats     domain.MarketStats
	updatedAt int64 // Unix ms
	fetched   int   // records seen across batches, before dedupe
}

// inflightCall is the shared result of one fill (snapshot load or fetch
// cycle). Concurrent callers block on done instead of starting their own.
type inflightCall struct {
	done   chan struct{}
	ws     *workingSet // set before done closes; nil only if no data exists at all
	err    error       // cycle error, nil on success
	source string      // "snapshot" or "fetch", for the read counter
}

// Options configures a Manager. Source is required; Snapshots and History
// are optional and skipped when nil. Zero-valued tunables fall back to the
// package defaults.
type Options struct {
	Source    Source
	Snapshots storage.SnapshotStore
	History   storage.StatsHistoryStore
	Log       *zap.Logger
	Clock     func() time.Time

	CacheValidity   time.Duration
	RefreshInterval time.Duration
	BatchSize       int
	MaxAttempts     int
	MinViable       int
	FallbackFloor   int
	PageSize        int
}

// Manager maintains the single authoritative working set and serves all
// reads from it.
type Manager struct {
	source    Source
	snapshots storage.SnapshotStore
	history   storage.StatsHistoryStore
	log       *zap.Logger
	now       func() time.Time

	validity        time.Duration
	refreshInterval time.Duration
	batchSize       int
	maxAttempts     int
	minViable       int
	fallbackFloor   int
	pageSize        int

	mu       sync.Mutex
	ws       *workingSet
	inflight *inflightCall

	timerMu sync.Mutex
	stopCh  chan struct{}

	subMu sync.Mutex
	subs  []chan RefreshEvent
}

// NewManager creates a manager with the provided source and stores.
func NewManager(opts Options) *Manager {
	m := &Manager{
		source:          opts.Source,
		snapshots:       opts.Snapshots,
		history:         opts.History,
		log:             opts.Log,
		now:             opts.Clock,
		validity:        opts.CacheValidity,
		refreshInterval: opts.RefreshInterval,
		batchSize:       opts.BatchSize,
		maxAttempts:     opts.MaxAttempts,
		minViable:       opts.MinViable,
		fallbackFloor:   opts.FallbackFloor,
		pageSize:        opts.PageSize,
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.validity <= 0 {
		m.validity = DefaultCacheValidity
	}
	if m.refreshInterval <= 0 {
		m.refreshInterval = DefaultRefreshInterval
	}
	if m.batchSize <= 0 {
		m.batchSize = DefaultBatchSize
	}
	if m.maxAttempts <= 0 {
		m.maxAttempts = DefaultMaxAttempts
	}
	if m.minViable <= 0 {
		m.minViable = DefaultMinViable
	}
	if m.fallbackFloor <= 0 {
		m.fallbackFloor = DefaultFallbackFloor
	}
	if m.pageSize <= 0 {
		m.pageSize = DefaultPageSize
	}
	return m
}

// AllCoins returns the current working set, fetching one if none exists.
// An existing set is served from memory without I/O regardless of age;
// freshness comes from the refresh timer and explicit Refresh calls.
func (m *Manager) AllCoins(ctx context.Context) ([]domain.Coin, error) {
	ws, err := m.ensure(ctx, false)
	if ws == nil {
		return nil, err
	}
	return copyCoins(ws.coins), nil
}

// Refresh forces a fetch-merge cycle and reports its outcome. A call that
// lands during an in-flight cycle observes that cycle's result instead of
// starting another.
func (m *Manager) Refresh(ctx context.Context) error {
	_, err := m.ensure(ctx, true)
	return err
}

// Stats returns the precomputed aggregates for the current working set,
// fetching one if none exists. TopPerformers is truncated to the external
// size.
func (m *Manager) Stats(ctx context.Context) (domain.MarketStats, error) {
	ws, err := m.ensure(ctx, false)
	if ws == nil {
		return domain.MarketStats{}, err
	}
	st := ws.stats
	st.TopPerformers = copyCoins(truncate(st.TopPerformers, stats.TopN))
	st.TopGainers = copyCoins(st.TopGainers)
	st.TopLosers = copyCoins(st.TopLosers)
	return st, nil
}

// Trending returns up to limit coins by blended performance score.
func (m *Manager) Trending(ctx context.Context, limit int) ([]domain.Coin, error) {
	ws, err := m.ensure(ctx, false)
	if ws == nil {
		return nil, err
	}
	return copyCoins(truncate(ws.stats.TopPerformers, normalizeLimit(limit))), nil
}

// TopGainers returns up to limit coins with the largest positive 24h change.
func (m *Manager) TopGainers(ctx context.Context, limit int) ([]domain.Coin, error) {
	ws, err := m.ensure(ctx, false)
	if ws == nil {
		return nil, err
	}
	return copyCoins(truncate(ws.stats.TopGainers, normalizeLimit(limit))), nil
}

// TopLosers returns up to limit coins with the largest negative 24h change.
func (m *Manager) TopLosers(ctx context.Context, limit int) ([]domain.Coin, error) {
	ws, err := m.ensure(ctx, false)
	if ws == nil {
		return nil, err
	}
	return copyCoins(truncate(ws.stats.TopLosers, normalizeLimit(limit))), nil
}

// ByAddress finds a coin in the working set by contract address or id,
// case-insensitively. Returns ErrCoinNotFound when absent.
func (m *Manager) ByAddress(ctx context.Context, address string) (domain.Coin, error) {
	ws, err := m.ensure(ctx, false)
	if ws == nil {
		return domain.Coin{}, err
	}
	for _, c := range ws.coins {
		if strings.EqualFold(c.ContractAddress, address) || c.ID == address {
			return c, nil
		}
	}
	return domain.Coin{}, ErrCoinNotFound
}

// Info reports the manager's current state without touching storage or the
// upstream.
func (m *Manager) Info() Info {
	m.mu.Lock()
	ws := m.ws
	m.mu.Unlock()
	if ws == nil {
		return Info{}
	}
	age := m.now().UnixMilli() - ws.updatedAt
	return Info{
		HasData:     true,
		TotalCoins:  len(ws.coins),
		LastUpdated: ws.updatedAt,
		Age:         age,
		Valid:       age < m.validity.Milliseconds(),
	}
}

// ClearCache drops the in-memory working set and deletes the persisted
// snapshot. The next read triggers a fresh fetch-merge cycle.
func (m *Manager) ClearCache(ctx context.Context) error {
	m.mu.Lock()
	m.ws = nil
	m.mu.Unlock()
	observability.RecordCacheClear()
	observability.UpdateWorkingSetSize(0)
	m.log.Info("cache cleared")
	if m.snapshots == nil {
		return nil
	}
	if err := m.snapshots.Delete(ctx); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// StartAutoRefresh installs the background refresh timer. Calling it again
// replaces any previous timer, so at most one loop runs per manager.
func (m *Manager) StartAutoRefresh() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if m.stopCh != nil {
		close(m.stopCh)
	}
	m.stopCh = make(chan struct{})
	go m.refreshLoop(m.stopCh)
	m.log.Info("auto refresh started", zap.Duration("interval", m.refreshInterval))
}

// StopAutoRefresh stops the background timer. Safe to call when none is
// running.
func (m *Manager) StopAutoRefresh() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
		m.log.Info("auto refresh stopped")
	}
}

func (m *Manager) refreshLoop(stop <-chan struct{}) {
	t := time.NewTicker(m.refreshInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			// Ticks join the shared in-flight cycle like any other
			// caller, so overlapping refreshes cannot stack up.
			if err := m.Refresh(context.Background()); err != nil {
				m.log.Warn("auto refresh failed", zap.Error(err))
			}
		}
	}
}

// Subscribe registers a listener for refresh events. The channel is
// buffered; events are dropped rather than blocking a slow listener.
func (m *Manager) Subscribe() <-chan RefreshEvent {
	ch := make(chan RefreshEvent, 8)
	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()
	return ch
}

// Unsubscribe removes a listener registered with Subscribe and closes it.
func (m *Manager) Unsubscribe(ch <-chan RefreshEvent) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for i, sub := range m.subs {
		if sub == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(sub)
			return
		}
	}
}

func (m *Manager) notify(ws *workingSet) {
	ev := RefreshEvent{
		TotalCoins:     len(ws.coins),
		TotalMarketCap: ws.stats.TotalMarketCap,
		TotalVolume24h: ws.stats.TotalVolume24h,
		UpdatedAt:      ws.updatedAt,
	}
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, sub := range m.subs {
		select {
		case sub <- ev:
		default:
		}
	}
}

// ensure returns the working set to serve, filling it first when needed.
// With force it always runs a cycle. Concurrent misses share a single fill:
// the caller that starts it reports the cycle error, callers that join it
// receive whatever working set resulted and only fail when no data exists
// at all.
func (m *Manager) ensure(ctx context.Context, force bool) (*workingSet, error) {
	m.mu.Lock()
	if !force {
		if ws := m.ws; ws != nil {
			m.mu.Unlock()
			observability.RecordCacheRead("memory")
			return ws, nil
		}
	}
	call := m.inflight
	spawned := false
	if call == nil {
		call = &inflightCall{done: make(chan struct{})}
		m.inflight = call
		spawned = true
		trySnapshot := !force && m.ws == nil
		// The fill runs detached: the upstream client applies its own
		// per-request timeout, and a caller going away must not abort a
		// cycle other callers are waiting on.
		go m.fill(call, trySnapshot)
	}
	m.mu.Unlock()

	if !spawned {
		observability.RecordCacheRead("coalesced")
	}

	select {
	case <-call.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if spawned {
		observability.RecordCacheRead(call.source)
		if call.err != nil {
			return nil, call.err
		}
		return call.ws, nil
	}
	if call.ws != nil {
		return call.ws, nil
	}
	return nil, call.err
}

// fill produces the next working set, preferring a fresh persisted snapshot
// on cold start and falling back to a full fetch-merge cycle. A failed
// cycle leaves the previous set in place.
func (m *Manager) fill(call *inflightCall, trySnapshot bool) {
	ctx := context.Background()

	var ws *workingSet
	var err error
	if trySnapshot {
		ws = m.adoptSnapshot(ctx)
	}
	if ws != nil {
		call.source = "snapshot"
	} else {
		call.source = "fetch"
		ws, err = m.runCycle(ctx)
		if err == nil {
			m.persist(ctx, ws)
			m.appendHistory(ctx, ws)
		}
	}

	m.mu.Lock()
	if ws != nil {
		m.ws = ws
	}
	result := m.ws
	m.inflight = nil
	m.mu.Unlock()

	if ws != nil {
		observability.UpdateWorkingSetSize(len(ws.coins))
	}
	if err == nil && call.source == "fetch" {
		m.notify(ws)
	}

	call.ws = result
	call.err = err
	close(call.done)
}

// runCycle executes one fetch-merge cycle and builds the working set from
// its result: ranks assigned in merged order, aggregates recomputed in full.
func (m *Manager) runCycle(ctx context.Context) (*workingSet, error) {
	start := m.now()
	coins, fetched, err := m.fetchMerge(ctx)
	elapsed := m.now().Sub(start)
	if err != nil {
		observability.RecordRefresh("error", elapsed.Seconds())
		m.log.Error("fetch cycle failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		return nil, err
	}

	for i := range coins {
		coins[i].Rank = i + 1
	}

	now := m.now()
	st := stats.Compute(coins)
	st.UpdatedAt = now.UnixMilli()

	observability.RecordRefresh("success", elapsed.Seconds())
	observability.UpdateLastRefresh(now.Unix())
	m.log.Info("working set refreshed",
		zap.Int("coins", len(coins)),
		zap.Int("fetched", fetched),
		zap.Duration("elapsed", elapsed))

	return &workingSet{
		coins:     coins,
		stats:     st,
		updatedAt: now.UnixMilli(),
		fetched:   fetched,
	}, nil
}

// fetchMerge pulls successive batches from the source and dedupes them by
// id, first seen wins. It stops on a short batch, on reaching the minimum
// viable count, or after the attempt cap. A batch failure before any batch
// has succeeded aborts the cycle; later failures skip that batch. Below the
// low-water mark the trending feed is merged in once as a fallback.
func (m *Manager) fetchMerge(ctx context.Context) ([]domain.Coin, int, error) {
	var (
		coins      []domain.Coin
		seen       = make(map[string]struct{})
		fetched    int
		anySuccess bool
	)

	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		batch, err := m.source.List(ctx, coinapi.ListParams{Limit: m.batchSize, Page: attempt})
		if err != nil {
			observability.RecordBatchError()
			if !anySuccess {
				return nil, 0, fmt.Errorf("fetch batch %d: %w", attempt, err)
			}
			m.log.Warn("batch fetch failed, skipping", zap.Int("page", attempt), zap.Error(err))
			continue
		}
		anySuccess = true
		fetched += len(batch)
		coins = mergeByID(coins, seen, batch)
		if len(batch) < m.batchSize {
			break
		}
		if len(coins) >= m.minViable {
			break
		}
	}

	if len(coins) < m.fallbackFloor {
		observability.RecordTrendingFallback()
		trending, err := m.source.Trending(ctx, m.batchSize)
		switch {
		case err != nil && !anySuccess:
			return nil, 0, fmt.Errorf("trending fallback: %w", err)
		case err != nil:
			m.log.Warn("trending fallback failed", zap.Error(err))
		default:
			fetched += len(trending)
			coins = mergeByID(coins, seen, trending)
		}
	}

	if len(coins) == 0 {
		m.log.Warn("fetch cycle produced no coins, upstream may be degraded")
	}
	return coins, fetched, nil
}

// mergeByID appends only ids not already present. Records seen earlier keep
// their first-seen values.
func mergeByID(dst []domain.Coin, seen map[string]struct{}, batch []domain.Coin) []domain.Coin {
	for _, c := range batch {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		dst = append(dst, c)
	}
	return dst
}

// adoptSnapshot loads the persisted snapshot and adopts it when it is still
// inside the validity window. Anything else, including corrupt or stale
// data, reads as absent.
func (m *Manager) adoptSnapshot(ctx context.Context) *workingSet {
	if m.snapshots == nil {
		return nil
	}
	snap, err := m.snapshots.Load(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.log.Warn("snapshot load failed", zap.Error(err))
		}
		return nil
	}
	age := m.now().UnixMilli() - snap.UpdatedAt
	if age >= m.validity.Milliseconds() {
		m.log.Debug("persisted snapshot too old", zap.Int64("age_ms", age))
		return nil
	}
	st := stats.Compute(snap.Coins)
	st.UpdatedAt = snap.UpdatedAt
	m.log.Info("adopted persisted snapshot",
		zap.Int("coins", len(snap.Coins)),
		zap.Int64("age_ms", age))
	return &workingSet{
		coins:     snap.Coins,
		stats:     st,
		updatedAt: snap.UpdatedAt,
		fetched:   snap.FetchedCount,
	}
}

// persist writes the working set to the snapshot store. On failure the
// store is cleared and the write retried once; persistence stays
// best-effort and never fails the cycle.
func (m *Manager) persist(ctx context.Context, ws *workingSet) {
	if m.snapshots == nil {
		return
	}
	snap := &domain.Snapshot{
		Coins:        ws.coins,
		FetchedCount: ws.fetched,
		UpdatedAt:    ws.updatedAt,
	}
	err := m.snapshots.Save(ctx, snap)
	if err == nil {
		return
	}
	observability.RecordSnapshotError()
	m.log.Warn("snapshot save failed, clearing store and retrying", zap.Error(err))
	if err := m.snapshots.Clear(ctx); err != nil {
		m.log.Warn("snapshot clear failed", zap.Error(err))
		return
	}
	if err := m.snapshots.Save(ctx, snap); err != nil {
		observability.RecordSnapshotError()
		m.log.Warn("snapshot save retry failed", zap.Error(err))
	}
}

// appendHistory records one aggregate row per successful refresh,
// best-effort.
func (m *Manager) appendHistory(ctx context.Context, ws *workingSet) {
	if m.history == nil {
		return
	}
	p := &domain.StatsPoint{
		UpdatedAt:      ws.updatedAt,
		TotalMarketCap: ws.stats.TotalMarketCap,
		TotalVolume24h: ws.stats.TotalVolume24h,
		TotalCoins:     len(ws.coins),
	}
	if err := m.history.Append(ctx, p); err != nil {
		m.log.Warn("stats history append failed", zap.Error(err))
	}
}

// StatsHistory returns up to limit recorded aggregate rows, newest first.
func (m *Manager) StatsHistory(ctx context.Context, limit int) ([]*domain.StatsPoint, error) {
	if m.history == nil {
		return []*domain.StatsPoint{}, nil
	}
	points, err := m.history.Recent(ctx, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("load stats history: %w", err)
	}
	if points == nil {
		points = []*domain.StatsPoint{}
	}
	return points, nil
}

func copyCoins(src []domain.Coin) []domain.Coin {
	out := make([]domain.Coin, len(src))
	copy(out, src)
	return out
}

func truncate(coins []domain.Coin, n int) []domain.Coin {
	if len(coins) > n {
		return coins[:n]
	}
	return coins
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return stats.TopN
	}
	return limit
}
