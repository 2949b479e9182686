package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/RobRipley/YSLfoliotracker-sub002/internal/cache"
	"github.com/RobRipley/YSLfoliotracker-sub002/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

type mockFetcher struct {
	mu            sync.Mutex
	priceCalls    int
	registryCalls int
	statusCalls   int

	prices      *domain.PriceSnapshot
	pricesErr   error
	registry    *domain.Registry
	registryErr error
	status      *domain.SyncStatus
	statusErr   error

	// When set, FetchPrices blocks until the channel is closed.
	priceGate chan struct{}
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{
		prices: &domain.PriceSnapshot{
			Source:    "test",
			UpdatedAt: 1700000000000,
			Count:     1,
			Quotes: map[string]domain.CoinQuote{
				"BTC": {Symbol: "BTC", Name: "Bitcoin", Rank: 1, PriceUSD: 50000, MarketCapUSD: 1e12},
			},
		},
		registry: &domain.Registry{
			Source: "test",
			Count:  1,
			Entries: map[string]domain.RegistryEntry{
				"btc-native": {ID: "btc-native", Symbol: "BTC", Name: "Bitcoin", Rank: 1},
			},
			BySymbol: map[string][]string{"BTC": {"btc-native"}},
		},
		status: &domain.SyncStatus{Success: true, Count: 1, Trigger: "cron", Service: "prices"},
	}
}

func (m *mockFetcher) FetchPrices(ctx context.Context) (*domain.PriceSnapshot, error) {
	m.mu.Lock()
	m.priceCalls++
	gate := m.priceGate
	prices, err := m.prices, m.pricesErr
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return prices, nil
}

func (m *mockFetcher) FetchRegistry(context.Context) (*domain.Registry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registryCalls++
	if m.registryErr != nil {
		return nil, m.registryErr
	}
	return m.registry, nil
}

func (m *mockFetcher) FetchStatus(context.Context) (*domain.SyncStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCalls++
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	return m.status, nil
}

func (m *mockFetcher) counts() (prices, registry int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.priceCalls, m.registryCalls
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestRefreshForSymbolsBlocksOnFirstFetch(t *testing.T) {
	t.Parallel()

	fetcher := newMockFetcher()
	svc := NewMarketService(testTracer, fetcher, cache.NewStore())

	if err := svc.RefreshForSymbols(context.Background(), []string{"btc"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	price, ok := svc.Price("BTC")
	if !ok || price != 50000 {
		t.Fatalf("expected fetched price immediately after refresh, got %v %v", price, ok)
	}

	cap, ok := svc.MarketCap("btc")
	if !ok || cap != 1e12 {
		t.Fatalf("expected market cap, got %v %v", cap, ok)
	}
}

func TestRefreshForSymbolsFreshIsNoop(t *testing.T) {
	t.Parallel()

	fetcher := newMockFetcher()
	svc := NewMarketService(testTracer, fetcher, cache.NewStore())

	ctx := context.Background()
	if err := svc.RefreshForSymbols(ctx, []string{"BTC"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.RefreshForSymbols(ctx, []string{"BTC"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	prices, registry := fetcher.counts()
	if prices != 1 || registry != 1 {
		t.Fatalf("expected one fetch per dataset, got prices=%d registry=%d", prices, registry)
	}
}

func TestRefreshForSymbolsEmptySetIsNoop(t *testing.T) {
	t.Parallel()

	fetcher := newMockFetcher()
	svc := NewMarketService(testTracer, fetcher, cache.NewStore())

	if err := svc.RefreshForSymbols(context.Background(), []string{" ", ""}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prices, _ := fetcher.counts(); prices != 0 {
		t.Fatalf("expected no fetch for empty symbol set, got %d", prices)
	}
}

func TestStaleWhileRevalidateWindow(t *testing.T) {
	t.Parallel()

	fetcher := newMockFetcher()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := base
	store := cache.NewStore().WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})
	svc := NewMarketService(testTracer, fetcher, store)

	ctx := context.Background()
	if err := svc.RefreshForSymbols(ctx, []string{"BTC"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// t+60s: within the 120s TTL, no new fetch and the cached value serves.
	mu.Lock()
	now = base.Add(60 * time.Second)
	mu.Unlock()
	if err := svc.RefreshForSymbols(ctx, []string{"BTC"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prices, _ := fetcher.counts(); prices != 1 {
		t.Fatalf("expected no refetch within ttl, got %d fetches", prices)
	}
	if price, ok := svc.Price("BTC"); !ok || price != 50000 {
		t.Fatalf("expected cached price within ttl, got %v %v", price, ok)
	}

	// t+121s: past the TTL, exactly one background fetch fires and the call
	// returns immediately with the stale value still servable.
	mu.Lock()
	now = base.Add(121 * time.Second)
	mu.Unlock()
	if err := svc.RefreshForSymbols(ctx, []string{"BTC"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price, ok := svc.Price("BTC"); !ok || price != 50000 {
		t.Fatalf("stale value must stay servable, got %v %v", price, ok)
	}
	waitFor(t, func() bool { prices, _ := fetcher.counts(); return prices == 2 })
}

func TestStaleRefreshSkipsWhenFetchAlreadyLanded(t *testing.T) {
	t.Parallel()

	fetcher := newMockFetcher()
	var mu sync.Mutex
	base := time.Unix(1700000000, 0)
	now := base
	store := cache.NewStore().WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})
	svc := NewMarketService(testTracer, fetcher, store)

	ctx := context.Background()
	if err := svc.RefreshForSymbols(ctx, []string{"BTC"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Past the TTL every caller sees the dataset stale. A background
	// goroutine that only runs after the shared fetch already landed must
	// find the entry fresh again and skip, so exactly one refetch fires no
	// matter how the goroutines interleave.
	gate := make(chan struct{})
	fetcher.mu.Lock()
	fetcher.priceGate = gate
	fetcher.mu.Unlock()

	mu.Lock()
	now = base.Add(3 * time.Minute)
	mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = svc.RefreshForSymbols(ctx, []string{"BTC"})
		}()
	}
	wg.Wait()

	waitFor(t, func() bool { prices, _ := fetcher.counts(); return prices >= 2 })
	fetcher.mu.Lock()
	fetcher.priceGate = nil
	fetcher.mu.Unlock()
	close(gate)

	time.Sleep(50 * time.Millisecond)
	if prices, _ := fetcher.counts(); prices != 2 {
		t.Fatalf("expected one refetch past the ttl, got %d total fetches", prices)
	}
}

func TestConcurrentRefreshJoinsInFlightFetch(t *testing.T) {
	t.Parallel()

	fetcher := newMockFetcher()
	gate := make(chan struct{})
	fetcher.priceGate = gate
	svc := NewMarketService(testTracer, fetcher, cache.NewStore())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = svc.RefreshForSymbols(context.Background(), []string{"BTC"})
		}()
	}

	waitFor(t, func() bool { prices, _ := fetcher.counts(); return prices >= 1 })
	// Give every caller time to join the in-flight fetch before releasing it.
	time.Sleep(100 * time.Millisecond)
	close(gate)
	wg.Wait()

	if prices, _ := fetcher.counts(); prices != 1 {
		t.Fatalf("expected concurrent callers to join one fetch, got %d", prices)
	}
	if price, ok := svc.Price("BTC"); !ok || price != 50000 {
		t.Fatalf("expected price after joined fetch, got %v %v", price, ok)
	}
}

func TestFetchFailurePreservesCache(t *testing.T) {
	t.Parallel()

	fetcher := newMockFetcher()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := base
	store := cache.NewStore().WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})
	svc := NewMarketService(testTracer, fetcher, store)

	ctx := context.Background()
	if err := svc.RefreshForSymbols(ctx, []string{"BTC"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fetcher.mu.Lock()
	fetcher.pricesErr = errors.New("remote down")
	fetcher.mu.Unlock()

	mu.Lock()
	now = base.Add(3 * time.Minute)
	mu.Unlock()
	if err := svc.RefreshForSymbols(ctx, []string{"BTC"}); err != nil {
		t.Fatalf("stale path must not surface fetch errors: %v", err)
	}
	waitFor(t, func() bool { prices, _ := fetcher.counts(); return prices == 2 })

	if price, ok := svc.Price("BTC"); !ok || price != 50000 {
		t.Fatalf("failed refresh must preserve last-known-good value, got %v %v", price, ok)
	}
}

func TestClearEvictsEverything(t *testing.T) {
	t.Parallel()

	fetcher := newMockFetcher()
	svc := NewMarketService(testTracer, fetcher, cache.NewStore())

	if err := svc.RefreshForSymbols(context.Background(), []string{"BTC"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	svc.Clear()
	if _, ok := svc.Price("BTC"); ok {
		t.Fatal("expected absence after clear")
	}
	if _, ok := svc.RegistryEntryForSymbol("BTC"); ok {
		t.Fatal("expected registry absence after clear")
	}
	if svc.State().Loaded {
		t.Fatal("expected unloaded state after clear")
	}
}

func TestSubscribersNotifiedInOrderOncePerMutation(t *testing.T) {
	t.Parallel()

	fetcher := newMockFetcher()
	svc := NewMarketService(testTracer, fetcher, cache.NewStore())

	var mu sync.Mutex
	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		svc.Subscribe(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	if err := svc.fetchDataset(domain.DatasetPrices); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 {
		t.Fatalf("expected exactly one notification per subscriber, got %v", order)
	}
	for i, id := range order {
		if id != i+1 {
			t.Fatalf("expected registration order, got %v", order)
		}
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	t.Parallel()

	fetcher := newMockFetcher()
	svc := NewMarketService(testTracer, fetcher, cache.NewStore())

	var mu sync.Mutex
	calls := 0
	unsubscribe := svc.Subscribe(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	if err := svc.fetchDataset(domain.DatasetPrices); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	unsubscribe()
	unsubscribe() // safe to call twice

	if err := svc.fetchDataset(domain.DatasetRegistry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected exactly one notification before unsubscribe, got %d", calls)
	}
}

func TestPanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	fetcher := newMockFetcher()
	svc := NewMarketService(testTracer, fetcher, cache.NewStore())

	var mu sync.Mutex
	secondNotified := false
	svc.Subscribe(func() { panic("bad subscriber") })
	svc.Subscribe(func() {
		mu.Lock()
		secondNotified = true
		mu.Unlock()
	})

	if err := svc.fetchDataset(domain.DatasetPrices); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !secondNotified {
		t.Fatal("panicking subscriber must not block later subscribers")
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	t.Parallel()

	fetcher := newMockFetcher()
	gate := make(chan struct{})
	fetcher.priceGate = gate
	svc := NewMarketService(testTracer, fetcher, cache.NewStore())

	ctx := context.Background()
	svc.Initialize(ctx)
	svc.Initialize(ctx)
	svc.Initialize(ctx)

	waitFor(t, func() bool { return svc.State().Loading })
	close(gate)
	waitFor(t, func() bool { return svc.State().Loaded && !svc.State().Loading })

	prices, registry := fetcher.counts()
	if prices != 1 || registry != 1 {
		t.Fatalf("expected one bootstrap fetch per dataset, got prices=%d registry=%d", prices, registry)
	}
	if svc.state.Load() != StateReady {
		t.Fatalf("expected Ready state, got %d", svc.state.Load())
	}
}

func TestInitializeDegradesToReadyOnFailure(t *testing.T) {
	t.Parallel()

	fetcher := newMockFetcher()
	fetcher.pricesErr = errors.New("remote down")
	fetcher.registryErr = errors.New("remote down")
	svc := NewMarketService(testTracer, fetcher, cache.NewStore())

	svc.Initialize(context.Background())
	waitFor(t, func() bool { return svc.state.Load() == StateReady })

	state := svc.State()
	if state.Loaded || state.Loading {
		t.Fatalf("expected empty Ready cache, got %+v", state)
	}
	if state.LastRefresh != nil {
		t.Fatalf("expected nil lastRefresh after failed bootstrap, got %v", state.LastRefresh)
	}
}

func TestStateSummary(t *testing.T) {
	t.Parallel()

	fetcher := newMockFetcher()
	svc := NewMarketService(testTracer, fetcher, cache.NewStore())

	state := svc.State()
	if state.Loaded || state.Loading || state.LastRefresh != nil || state.CoinCount != 0 {
		t.Fatalf("unexpected zero state: %+v", state)
	}

	if err := svc.RefreshForSymbols(context.Background(), []string{"BTC"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state = svc.State()
	if !state.Loaded || state.LastRefresh == nil || state.CoinCount != 1 {
		t.Fatalf("unexpected state after refresh: %+v", state)
	}
}

func TestUnknownSymbolReportsAbsence(t *testing.T) {
	t.Parallel()

	fetcher := newMockFetcher()
	svc := NewMarketService(testTracer, fetcher, cache.NewStore())

	if _, ok := svc.Price("DOGE"); ok {
		t.Fatal("expected absence before any fetch")
	}

	if err := svc.RefreshForSymbols(context.Background(), []string{"BTC"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := svc.Quote("DOGE"); ok {
		t.Fatal("expected absence for unknown symbol")
	}
	if price, ok := svc.PriceForRendering(domain.Holding{Symbol: "btc", Quantity: 2}); !ok || price != 50000 {
		t.Fatalf("expected rendering fallback to serve cached price, got %v %v", price, ok)
	}
}

func TestRegistryResolutionUsesFirstID(t *testing.T) {
	t.Parallel()

	fetcher := newMockFetcher()
	fetcher.registry = &domain.Registry{
		Count: 2,
		Entries: map[string]domain.RegistryEntry{
			"btc-native":  {ID: "btc-native", Symbol: "BTC", Name: "Bitcoin"},
			"btc-wrapped": {ID: "btc-wrapped", Symbol: "BTC", Name: "Wrapped Bitcoin"},
		},
		BySymbol: map[string][]string{"BTC": {"btc-native", "btc-wrapped"}},
	}
	svc := NewMarketService(testTracer, fetcher, cache.NewStore())

	if err := svc.fetchDataset(domain.DatasetRegistry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry, ok := svc.RegistryEntryForSymbol("btc")
	if !ok || entry.ID != "btc-native" {
		t.Fatalf("expected authoritative first id, got %+v %v", entry, ok)
	}
}

func TestStatusFailureResolvesToAbsence(t *testing.T) {
	t.Parallel()

	fetcher := newMockFetcher()
	fetcher.statusErr = errors.New("remote down")
	svc := NewMarketService(testTracer, fetcher, cache.NewStore())

	if status := svc.Status(context.Background()); status != nil {
		t.Fatalf("expected nil status on failure, got %+v", status)
	}

	fetcher.mu.Lock()
	fetcher.statusErr = nil
	fetcher.mu.Unlock()
	status := svc.Status(context.Background())
	if status == nil || !status.Success {
		t.Fatalf("expected status, got %+v", status)
	}
}
