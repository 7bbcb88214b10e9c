package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"coinboard/internal/coinapi"
	"coinboard/internal/domain"
	"coinboard/internal/storage"
	"coinboard/internal/storage/memory"
)

// listResponse is one scripted reply for fakeSource.List.
type listResponse struct {
	coins []domain.Coin
	err   error
}

// fakeSource scripts List replies call by call. Calls beyond the script
// return repeat (empty by default). When listRelease is set, List blocks on
// it so tests can hold a cycle open.
type fakeSource struct {
	mu            sync.Mutex
	batches       []listResponse
	repeat        []domain.Coin
	calls         int
	trending      []domain.Coin
	trendingErr   error
	trendingCalls int
	listStarted   chan struct{}
	listRelease   chan struct{}
}

func (f *fakeSource) List(ctx context.Context, p coinapi.ListParams) ([]domain.Coin, error) {
	f.mu.Lock()
	i := f.calls
	f.calls++
	if f.listStarted != nil && i == 0 {
		close(f.listStarted)
	}
	rel := f.listRelease
	f.mu.Unlock()

	if rel != nil {
		<-rel
	}

	if i >= len(f.batches) {
		return f.repeat, nil
	}
	return f.batches[i].coins, f.batches[i].err
}

func (f *fakeSource) Trending(ctx context.Context, limit int) ([]domain.Coin, error) {
	f.mu.Lock()
	f.trendingCalls++
	f.mu.Unlock()
	return f.trending, f.trendingErr
}

func (f *fakeSource) listCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeClock is an injectable clock for staleness tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// flakySnapshotStore fails Save according to a script and remembers whether
// Clear was invoked, for the write-retry path.
type flakySnapshotStore struct {
	saveErrs []error
	saves    int
	cleared  bool
	saved    *domain.Snapshot
}

func (s *flakySnapshotStore) Save(ctx context.Context, snap *domain.Snapshot) error {
	i := s.saves
	s.saves++
	if i < len(s.saveErrs) && s.saveErrs[i] != nil {
		return s.saveErrs[i]
	}
	s.saved = snap
	return nil
}

func (s *flakySnapshotStore) Load(ctx context.Context) (*domain.Snapshot, error) {
	if s.saved == nil {
		return nil, storage.ErrNotFound
	}
	return s.saved, nil
}

func (s *flakySnapshotStore) Delete(ctx context.Context) error {
	s.saved = nil
	return nil
}

func (s *flakySnapshotStore) Clear(ctx context.Context) error {
	s.cleared = true
	s.saved = nil
	return nil
}

// mkCoins builds n coins with ids prefix+start..prefix+start+n-1 and
// distinct, descending market caps.
func mkCoins(prefix string, start, n int) []domain.Coin {
	out := make([]domain.Coin, n)
	for i := 0; i < n; i++ {
		idx := start + i
		id := fmt.Sprintf("%s%d", prefix, idx)
		out[i] = domain.Coin{
			ID:              id,
			ContractAddress: "0xaddr" + id,
			Name:            "Coin " + id,
			Symbol:          id,
			MarketCap:       float64(100_000 - idx),
			Volume24h:       500,
			Change24h:       1,
			Holders:         10,
		}
	}
	return out
}

func TestManager_FetchMergeDedupeArithmetic(t *testing.T) {
	// Batches of 80, 80 and 45 with ids c70..c79 shared between the first
	// two. The first two batches come back full, so with a viability
	// target above 160 the loop keeps going and stops on the short third
	// batch: 80 + 70 + 45 = 195 after dedupe.
	batch1 := mkCoins("c", 0, 80)
	batch2 := mkCoins("c", 70, 80)
	for i := 0; i < 10; i++ {
		batch2[i].Name = "duplicate " + batch2[i].ID
	}
	batch3 := mkCoins("c", 150, 45)

	src := &fakeSource{batches: []listResponse{{coins: batch1}, {coins: batch2}, {coins: batch3}}}
	m := NewManager(Options{
		Source:      src,
		Log:         zap.NewNop(),
		BatchSize:   80,
		MaxAttempts: 3,
		MinViable:   200,
	})

	coins, err := m.AllCoins(context.Background())
	if err != nil {
		t.Fatalf("AllCoins failed: %v", err)
	}
	if len(coins) != 195 {
		t.Fatalf("Expected 195 coins after dedupe, got %d", len(coins))
	}
	if got := src.listCalls(); got != 3 {
		t.Errorf("Expected 3 batch requests, got %d", got)
	}
	if src.trendingCalls != 0 {
		t.Errorf("Trending fallback should not run at 195 coins, got %d calls", src.trendingCalls)
	}

	seen := make(map[string]bool, len(coins))
	for i, c := range coins {
		if seen[c.ID] {
			t.Fatalf("Duplicate id %q in working set", c.ID)
		}
		seen[c.ID] = true
		if c.Rank != i+1 {
			t.Fatalf("Expected rank %d at position %d, got %d", i+1, i, c.Rank)
		}
	}

	// First-seen wins: the shared ids keep batch 1's fields.
	if coins[70].ID != "c70" || coins[70].Name != "Coin c70" {
		t.Errorf("Expected first-seen record for c70, got id=%q name=%q", coins[70].ID, coins[70].Name)
	}
}

func TestManager_ShortBatchStopsEarly(t *testing.T) {
	src := &fakeSource{batches: []listResponse{{coins: mkCoins("c", 0, 60)}}}
	m := NewManager(Options{Source: src, Log: zap.NewNop()})

	coins, err := m.AllCoins(context.Background())
	if err != nil {
		t.Fatalf("AllCoins failed: %v", err)
	}
	if len(coins) != 60 {
		t.Errorf("Expected 60 coins, got %d", len(coins))
	}
	if got := src.listCalls(); got != 1 {
		t.Errorf("Short batch should end the loop after 1 request, got %d", got)
	}
	if src.trendingCalls != 0 {
		t.Errorf("60 coins is above the fallback floor, trending called %d times", src.trendingCalls)
	}
}

func TestManager_MinViableStopsEarly(t *testing.T) {
	// Full batches of 50 against a viability target of 100: the second
	// batch reaches the target, the third is never requested.
	src := &fakeSource{batches: []listResponse{
		{coins: mkCoins("c", 0, 50)},
		{coins: mkCoins("c", 50, 50)},
		{coins: mkCoins("c", 100, 50)},
	}}
	m := NewManager(Options{Source: src, Log: zap.NewNop(), BatchSize: 50, MinViable: 100})

	coins, err := m.AllCoins(context.Background())
	if err != nil {
		t.Fatalf("AllCoins failed: %v", err)
	}
	if len(coins) != 100 {
		t.Errorf("Expected 100 coins, got %d", len(coins))
	}
	if got := src.listCalls(); got != 2 {
		t.Errorf("Expected loop to stop after 2 requests, got %d", got)
	}
}

func TestManager_AttemptCapRespected(t *testing.T) {
	src := &fakeSource{
		batches: []listResponse{
			{coins: mkCoins("c", 0, 100)},
			{coins: mkCoins("c", 100, 100)},
			{coins: mkCoins("c", 200, 100)},
			{coins: mkCoins("c", 300, 100)},
		},
	}
	m := NewManager(Options{Source: src, Log: zap.NewNop(), MinViable: 1000})

	coins, err := m.AllCoins(context.Background())
	if err != nil {
		t.Fatalf("AllCoins failed: %v", err)
	}
	if got := src.listCalls(); got != 3 {
		t.Errorf("Expected exactly 3 attempts, got %d", got)
	}
	if len(coins) != 300 {
		t.Errorf("Expected 300 coins from 3 full batches, got %d", len(coins))
	}
}

func TestManager_TrendingFallbackBelowFloor(t *testing.T) {
	// 20 coins is below the low-water mark, so the trending feed is merged
	// in once. 10 of its 40 records overlap the primary batch.
	trending := mkCoins("c", 10, 40)
	src := &fakeSource{
		batches:  []listResponse{{coins: mkCoins("c", 0, 20)}},
		trending: trending,
	}
	m := NewManager(Options{Source: src, Log: zap.NewNop()})

	coins, err := m.AllCoins(context.Background())
	if err != nil {
		t.Fatalf("AllCoins failed: %v", err)
	}
	if len(coins) != 50 {
		t.Errorf("Expected 20 + 30 new trending coins = 50, got %d", len(coins))
	}
	if src.trendingCalls != 1 {
		t.Errorf("Expected exactly 1 trending call, got %d", src.trendingCalls)
	}
}

func TestManager_TrendingFallbackFailureIsNotFatal(t *testing.T) {
	src := &fakeSource{
		batches:     []listResponse{{coins: mkCoins("c", 0, 10)}},
		trendingErr: errors.New("trending down"),
	}
	m := NewManager(Options{Source: src, Log: zap.NewNop()})

	coins, err := m.AllCoins(context.Background())
	if err != nil {
		t.Fatalf("Trending failure must not fail the cycle: %v", err)
	}
	if len(coins) != 10 {
		t.Errorf("Expected the 10 primary coins, got %d", len(coins))
	}
}

func TestManager_FirstBatchFailurePropagates(t *testing.T) {
	src := &fakeSource{batches: []listResponse{{err: errors.New("upstream down")}}}
	m := NewManager(Options{Source: src, Log: zap.NewNop()})

	if _, err := m.AllCoins(context.Background()); err == nil {
		t.Fatal("Expected error when the first batch fails with nothing accumulated")
	}
	if info := m.Info(); info.HasData {
		t.Error("No working set should exist after a hard failure")
	}

	// The next read runs a new cycle. The script is exhausted so it sees
	// an empty batch, then an empty trending fallback: a degraded but
	// valid empty working set.
	coins, err := m.AllCoins(context.Background())
	if err != nil {
		t.Fatalf("Degraded empty result must not be an error: %v", err)
	}
	if len(coins) != 0 {
		t.Errorf("Expected empty working set, got %d coins", len(coins))
	}
	if src.trendingCalls != 1 {
		t.Errorf("Expected trending fallback on the empty cycle, got %d calls", src.trendingCalls)
	}
	if info := m.Info(); !info.HasData {
		t.Error("Empty working set still counts as cached data")
	}
}

func TestManager_LaterBatchFailureSkipped(t *testing.T) {
	src := &fakeSource{batches: []listResponse{
		{coins: mkCoins("c", 0, 100)},
		{err: errors.New("flaky page")},
		{coins: mkCoins("c", 100, 100)},
	}}
	m := NewManager(Options{Source: src, Log: zap.NewNop(), MinViable: 300})

	coins, err := m.AllCoins(context.Background())
	if err != nil {
		t.Fatalf("A failed middle batch must not abort the cycle: %v", err)
	}
	if len(coins) != 200 {
		t.Errorf("Expected 200 coins from the two good batches, got %d", len(coins))
	}
	if got := src.listCalls(); got != 3 {
		t.Errorf("Expected all 3 attempts, got %d", got)
	}
}

func TestManager_FailKeepStale(t *testing.T) {
	src := &fakeSource{batches: []listResponse{
		{coins: mkCoins("c", 0, 60)},
		{err: errors.New("upstream down")},
	}}
	m := NewManager(Options{Source: src, Log: zap.NewNop()})
	ctx := context.Background()

	if _, err := m.AllCoins(ctx); err != nil {
		t.Fatalf("Initial load failed: %v", err)
	}

	if err := m.Refresh(ctx); err == nil {
		t.Fatal("Expected the forced refresh to report the cycle failure")
	}

	coins, err := m.AllCoins(ctx)
	if err != nil {
		t.Fatalf("Stale read failed: %v", err)
	}
	if len(coins) != 60 {
		t.Errorf("Expected the previous 60 coins to survive the failed refresh, got %d", len(coins))
	}
}

func TestManager_CoalescesConcurrentReads(t *testing.T) {
	src := &fakeSource{
		batches:     []listResponse{{coins: mkCoins("c", 0, 60)}},
		listStarted: make(chan struct{}),
		listRelease: make(chan struct{}),
	}
	m := NewManager(Options{Source: src, Log: zap.NewNop()})
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	sizes := make([]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			coins, err := m.AllCoins(ctx)
			sizes[i], errs[i] = len(coins), err
		}(i)
	}

	<-src.listStarted
	time.Sleep(20 * time.Millisecond)
	close(src.listRelease)
	wg.Wait()

	if got := src.listCalls(); got != 1 {
		t.Fatalf("Expected exactly 1 underlying fetch for %d concurrent reads, got %d", n, got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Caller %d failed: %v", i, errs[i])
		}
		if sizes[i] != 60 {
			t.Errorf("Caller %d saw %d coins, expected 60", i, sizes[i])
		}
	}
}

func TestManager_CoalescesForcedRefreshes(t *testing.T) {
	src := &fakeSource{batches: []listResponse{
		{coins: mkCoins("c", 0, 60)},
		{coins: mkCoins("c", 0, 80)},
	}}
	m := NewManager(Options{Source: src, Log: zap.NewNop()})
	ctx := context.Background()

	if _, err := m.AllCoins(ctx); err != nil {
		t.Fatalf("Initial load failed: %v", err)
	}

	src.mu.Lock()
	src.listStarted = make(chan struct{})
	src.listRelease = make(chan struct{})
	src.calls = 0
	src.batches = []listResponse{{coins: mkCoins("c", 0, 80)}}
	src.mu.Unlock()

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Refresh(ctx)
		}(i)
	}

	<-src.listStarted
	time.Sleep(20 * time.Millisecond)
	close(src.listRelease)
	wg.Wait()

	if got := src.listCalls(); got != 1 {
		t.Fatalf("Expected %d concurrent refreshes to share 1 cycle, got %d", n, got)
	}
	for i, err := range errs {
		if err != nil {
			t.Errorf("Refresh %d failed: %v", i, err)
		}
	}

	coins, err := m.AllCoins(ctx)
	if err != nil {
		t.Fatalf("AllCoins failed: %v", err)
	}
	if len(coins) != 80 {
		t.Errorf("Expected the refreshed set of 80 coins, got %d", len(coins))
	}
}

func TestManager_MemoryHitSkipsIO(t *testing.T) {
	clock := newFakeClock()
	src := &fakeSource{batches: []listResponse{{coins: mkCoins("c", 0, 60)}}}
	m := NewManager(Options{Source: src, Log: zap.NewNop(), Clock: clock.Now})
	ctx := context.Background()

	if _, err := m.AllCoins(ctx); err != nil {
		t.Fatalf("Initial load failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := m.AllCoins(ctx); err != nil {
			t.Fatalf("Read %d failed: %v", i, err)
		}
	}
	// The in-memory set never expires for plain reads. Only the refresh
	// timer and explicit refreshes replace it.
	clock.Advance(10 * time.Minute)
	if _, err := m.AllCoins(ctx); err != nil {
		t.Fatalf("Read after expiry failed: %v", err)
	}
	if got := src.listCalls(); got != 1 {
		t.Errorf("Expected 1 fetch total, got %d", got)
	}
}

func TestManager_SnapshotAdoptedOnColdStart(t *testing.T) {
	clock := newFakeClock()
	store := memory.NewSnapshotStore()
	ctx := context.Background()

	snapAt := clock.Now().Add(-5 * time.Second).UnixMilli()
	err := store.Save(ctx, &domain.Snapshot{
		Coins:        mkCoins("c", 0, 42),
		FetchedCount: 42,
		UpdatedAt:    snapAt,
	})
	if err != nil {
		t.Fatalf("Seeding snapshot failed: %v", err)
	}

	src := &fakeSource{batches: []listResponse{{coins: mkCoins("x", 0, 5)}}}
	m := NewManager(Options{Source: src, Snapshots: store, Log: zap.NewNop(), Clock: clock.Now})

	coins, err := m.AllCoins(ctx)
	if err != nil {
		t.Fatalf("AllCoins failed: %v", err)
	}
	if len(coins) != 42 {
		t.Errorf("Expected the 42 persisted coins, got %d", len(coins))
	}
	if got := src.listCalls(); got != 0 {
		t.Errorf("A fresh snapshot must satisfy the read without fetching, got %d calls", got)
	}

	st, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.TotalCoins != 42 {
		t.Errorf("Stats must be recomputed from the adopted snapshot, got %d coins", st.TotalCoins)
	}

	info := m.Info()
	if !info.Valid || info.LastUpdated != snapAt {
		t.Errorf("Expected valid info with lastUpdated=%d, got %+v", snapAt, info)
	}
}

func TestManager_StaleSnapshotIgnored(t *testing.T) {
	clock := newFakeClock()
	store := memory.NewSnapshotStore()
	ctx := context.Background()

	err := store.Save(ctx, &domain.Snapshot{
		Coins:        mkCoins("c", 0, 42),
		FetchedCount: 42,
		UpdatedAt:    clock.Now().Add(-31 * time.Second).UnixMilli(),
	})
	if err != nil {
		t.Fatalf("Seeding snapshot failed: %v", err)
	}

	src := &fakeSource{batches: []listResponse{{coins: mkCoins("x", 0, 60)}}}
	m := NewManager(Options{Source: src, Snapshots: store, Log: zap.NewNop(), Clock: clock.Now})

	coins, err := m.AllCoins(ctx)
	if err != nil {
		t.Fatalf("AllCoins failed: %v", err)
	}
	if len(coins) != 60 {
		t.Errorf("A snapshot past the validity window must be refetched, got %d coins", len(coins))
	}
	if got := src.listCalls(); got != 1 {
		t.Errorf("Expected 1 fetch, got %d", got)
	}
}

func TestManager_PersistsAfterFetch(t *testing.T) {
	store := memory.NewSnapshotStore()
	src := &fakeSource{batches: []listResponse{{coins: mkCoins("c", 0, 60)}}}
	m := NewManager(Options{Source: src, Snapshots: store, Log: zap.NewNop()})
	ctx := context.Background()

	if _, err := m.AllCoins(ctx); err != nil {
		t.Fatalf("AllCoins failed: %v", err)
	}

	snap, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Expected a persisted snapshot: %v", err)
	}
	if len(snap.Coins) != 60 || snap.FetchedCount != 60 {
		t.Errorf("Expected 60 coins and fetchedCount 60, got %d and %d", len(snap.Coins), snap.FetchedCount)
	}
	if snap.UpdatedAt != m.Info().LastUpdated {
		t.Errorf("Snapshot timestamp %d differs from cache timestamp %d", snap.UpdatedAt, m.Info().LastUpdated)
	}
}

func TestManager_PersistRetriesAfterClear(t *testing.T) {
	store := &flakySnapshotStore{saveErrs: []error{errors.New("quota exceeded")}}
	src := &fakeSource{batches: []listResponse{{coins: mkCoins("c", 0, 60)}}}
	m := NewManager(Options{Source: src, Snapshots: store, Log: zap.NewNop()})

	if _, err := m.AllCoins(context.Background()); err != nil {
		t.Fatalf("Persistence trouble must not fail the read: %v", err)
	}
	if !store.cleared {
		t.Error("Expected the store to be cleared after the failed save")
	}
	if store.saves != 2 {
		t.Errorf("Expected 2 save attempts, got %d", store.saves)
	}
	if store.saved == nil {
		t.Error("Expected the retry to persist the snapshot")
	}
}

func TestManager_PersistDoubleFailureKeepsServing(t *testing.T) {
	store := &flakySnapshotStore{saveErrs: []error{errors.New("quota"), errors.New("quota")}}
	src := &fakeSource{batches: []listResponse{{coins: mkCoins("c", 0, 60)}}}
	m := NewManager(Options{Source: src, Snapshots: store, Log: zap.NewNop()})

	coins, err := m.AllCoins(context.Background())
	if err != nil {
		t.Fatalf("Persistence is best-effort, read must succeed: %v", err)
	}
	if len(coins) != 60 {
		t.Errorf("Expected 60 coins, got %d", len(coins))
	}
	if store.saved != nil {
		t.Error("Both saves failed, nothing should be persisted")
	}
}

func TestManager_ClearCache(t *testing.T) {
	store := memory.NewSnapshotStore()
	src := &fakeSource{
		batches: []listResponse{{coins: mkCoins("c", 0, 60)}},
		repeat:  mkCoins("c", 0, 55),
	}
	m := NewManager(Options{Source: src, Snapshots: store, Log: zap.NewNop()})
	ctx := context.Background()

	if _, err := m.AllCoins(ctx); err != nil {
		t.Fatalf("Initial load failed: %v", err)
	}
	if err := m.ClearCache(ctx); err != nil {
		t.Fatalf("ClearCache failed: %v", err)
	}

	if info := m.Info(); info.HasData {
		t.Error("Expected no cached data after clear")
	}
	if _, err := store.Load(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected the persisted snapshot to be deleted, got %v", err)
	}

	coins, err := m.AllCoins(ctx)
	if err != nil {
		t.Fatalf("Read after clear failed: %v", err)
	}
	if len(coins) != 55 {
		t.Errorf("Expected a fresh fetch after clear, got %d coins", len(coins))
	}
	if got := src.listCalls(); got != 2 {
		t.Errorf("Expected 2 fetches total, got %d", got)
	}
}

func TestManager_InfoStaleness(t *testing.T) {
	clock := newFakeClock()
	src := &fakeSource{batches: []listResponse{{coins: mkCoins("c", 0, 60)}}}
	m := NewManager(Options{Source: src, Log: zap.NewNop(), Clock: clock.Now})

	if info := m.Info(); info.HasData || info.Valid {
		t.Errorf("Empty manager should report no data, got %+v", info)
	}

	if _, err := m.AllCoins(context.Background()); err != nil {
		t.Fatalf("AllCoins failed: %v", err)
	}

	info := m.Info()
	if !info.HasData || !info.Valid || info.Age != 0 || info.TotalCoins != 60 {
		t.Errorf("Expected fresh valid info, got %+v", info)
	}

	clock.Advance(29 * time.Second)
	if info := m.Info(); !info.Valid {
		t.Errorf("Expected info still valid at 29s, got %+v", info)
	}

	clock.Advance(2 * time.Second)
	info = m.Info()
	if info.Valid {
		t.Errorf("Expected info invalid at 31s, got %+v", info)
	}
	if info.Age != 31_000 {
		t.Errorf("Expected age 31000ms, got %d", info.Age)
	}
}

func TestManager_AutoRefresh(t *testing.T) {
	src := &fakeSource{repeat: mkCoins("c", 0, 60)}
	m := NewManager(Options{Source: src, Log: zap.NewNop(), RefreshInterval: 15 * time.Millisecond})

	m.StartAutoRefresh()
	time.Sleep(50 * time.Millisecond)
	m.StopAutoRefresh()

	got := src.listCalls()
	if got < 2 {
		t.Errorf("Expected at least 2 timed refreshes, got %d", got)
	}

	time.Sleep(40 * time.Millisecond)
	if after := src.listCalls(); after != got {
		t.Errorf("Refreshes continued after stop: %d -> %d", got, after)
	}
}

func TestManager_AutoRefreshLifecycle(t *testing.T) {
	src := &fakeSource{repeat: mkCoins("c", 0, 60)}
	m := NewManager(Options{Source: src, Log: zap.NewNop(), RefreshInterval: time.Hour})

	// Restarting replaces the previous timer, stopping twice is a no-op.
	m.StartAutoRefresh()
	m.StartAutoRefresh()
	m.StopAutoRefresh()
	m.StopAutoRefresh()
}

func TestManager_SubscribeReceivesRefreshEvents(t *testing.T) {
	src := &fakeSource{repeat: mkCoins("c", 0, 60)}
	m := NewManager(Options{Source: src, Log: zap.NewNop()})
	ctx := context.Background()

	sub := m.Subscribe()
	idle := m.Subscribe() // never drained; sends must not block

	if err := m.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	select {
	case ev := <-sub:
		if ev.TotalCoins != 60 {
			t.Errorf("Expected event with 60 coins, got %+v", ev)
		}
		if ev.UpdatedAt != m.Info().LastUpdated {
			t.Errorf("Event timestamp %d differs from cache timestamp %d", ev.UpdatedAt, m.Info().LastUpdated)
		}
	default:
		t.Fatal("Expected a refresh event to be buffered")
	}

	// Overflow the idle subscriber's buffer; the manager drops rather than
	// blocking the refresh path.
	for i := 0; i < 12; i++ {
		if err := m.Refresh(ctx); err != nil {
			t.Fatalf("Refresh %d failed: %v", i, err)
		}
	}

	m.Unsubscribe(idle)
	m.Unsubscribe(sub)
	for range sub {
		// drain until closed
	}
}

func TestManager_ByAddress(t *testing.T) {
	src := &fakeSource{batches: []listResponse{{coins: mkCoins("c", 0, 10)}}}
	m := NewManager(Options{Source: src, Log: zap.NewNop()})
	ctx := context.Background()

	c, err := m.ByAddress(ctx, "0XADDRC3")
	if err != nil {
		t.Fatalf("ByAddress failed: %v", err)
	}
	if c.ID != "c3" {
		t.Errorf("Expected coin c3 via case-insensitive address, got %q", c.ID)
	}

	c, err = m.ByAddress(ctx, "c7")
	if err != nil {
		t.Fatalf("ByAddress by id failed: %v", err)
	}
	if c.ID != "c7" {
		t.Errorf("Expected coin c7 by id, got %q", c.ID)
	}

	if _, err := m.ByAddress(ctx, "0xmissing"); !errors.Is(err, ErrCoinNotFound) {
		t.Errorf("Expected ErrCoinNotFound, got %v", err)
	}
}

func TestManager_StatsTruncatesPerformers(t *testing.T) {
	src := &fakeSource{batches: []listResponse{{coins: mkCoins("c", 0, 25)}}}
	m := NewManager(Options{Source: src, Log: zap.NewNop()})
	ctx := context.Background()

	st, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if len(st.TopPerformers) != 10 {
		t.Errorf("External top performers must be truncated to 10, got %d", len(st.TopPerformers))
	}
	if st.TotalCoins != 25 {
		t.Errorf("Expected 25 total coins, got %d", st.TotalCoins)
	}

	top, err := m.Trending(ctx, 5)
	if err != nil {
		t.Fatalf("Trending failed: %v", err)
	}
	if len(top) != 5 {
		t.Errorf("Expected 5 trending coins, got %d", len(top))
	}

	gainers, err := m.TopGainers(ctx, 0)
	if err != nil {
		t.Fatalf("TopGainers failed: %v", err)
	}
	if len(gainers) != 10 {
		t.Errorf("Expected the default of 10 gainers, got %d", len(gainers))
	}
}

func TestManager_DefensiveCopies(t *testing.T) {
	src := &fakeSource{batches: []listResponse{{coins: mkCoins("c", 0, 30)}}}
	m := NewManager(Options{Source: src, Log: zap.NewNop()})
	ctx := context.Background()

	coins, err := m.AllCoins(ctx)
	if err != nil {
		t.Fatalf("AllCoins failed: %v", err)
	}
	coins[0].Name = "mutated"

	again, err := m.AllCoins(ctx)
	if err != nil {
		t.Fatalf("Second read failed: %v", err)
	}
	if again[0].Name == "mutated" {
		t.Error("Caller mutation leaked into the working set")
	}

	st, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if len(st.TopPerformers) > 0 {
		st.TopPerformers[0].Name = "mutated"
	}
	st2, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("Second stats read failed: %v", err)
	}
	if len(st2.TopPerformers) > 0 && st2.TopPerformers[0].Name == "mutated" {
		t.Error("Stats mutation leaked into the working set")
	}

	page, err := m.Page(ctx, 1, "marketCap", "all")
	if err != nil {
		t.Fatalf("Page failed: %v", err)
	}
	page.Coins[0].Name = "mutated"
	page2, err := m.Page(ctx, 1, "marketCap", "all")
	if err != nil {
		t.Fatalf("Second page failed: %v", err)
	}
	if page2.Coins[0].Name == "mutated" {
		t.Error("Page mutation leaked into the working set")
	}
}

func TestManager_WaiterHonorsContext(t *testing.T) {
	src := &fakeSource{
		batches:     []listResponse{{coins: mkCoins("c", 0, 60)}},
		listStarted: make(chan struct{}),
		listRelease: make(chan struct{}),
	}
	m := NewManager(Options{Source: src, Log: zap.NewNop()})

	go func() {
		_, _ = m.AllCoins(context.Background())
	}()
	<-src.listStarted

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.AllCoins(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected the waiter to give up with its context, got %v", err)
	}

	// The cycle itself keeps running detached and publishes its result.
	close(src.listRelease)
	deadline := time.Now().Add(time.Second)
	for !m.Info().HasData {
		if time.Now().After(deadline) {
			t.Fatal("Cycle never completed after the waiter gave up")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManager_StatsHistoryRecorded(t *testing.T) {
	history := memory.NewStatsHistoryStore()
	src := &fakeSource{repeat: mkCoins("c", 0, 60)}
	m := NewManager(Options{Source: src, History: history, Log: zap.NewNop()})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := m.Refresh(ctx); err != nil {
			t.Fatalf("Refresh %d failed: %v", i, err)
		}
	}

	points, err := m.StatsHistory(ctx, 10)
	if err != nil {
		t.Fatalf("StatsHistory failed: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("Expected 3 history points, got %d", len(points))
	}
	if points[0].TotalCoins != 60 {
		t.Errorf("Expected 60 coins in the newest point, got %d", points[0].TotalCoins)
	}
}
