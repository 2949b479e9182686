package service

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RobRipley/YSLfoliotracker-sub002/internal/cache"
	"github.com/RobRipley/YSLfoliotracker-sub002/internal/domain"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Fetcher is the remote client surface the service consumes.
type Fetcher interface {
	FetchPrices(ctx context.Context) (*domain.PriceSnapshot, error)
	FetchRegistry(ctx context.Context) (*domain.Registry, error)
	FetchStatus(ctx context.Context) (*domain.SyncStatus, error)
}

// Lifecycle states. RefreshingSubset is implicit: Ready with a non-zero
// in-flight count.
const (
	StateUninitialized int32 = iota
	StateInitializing
	StateReady
)

// MarketService orchestrates fetch scheduling, stale-while-revalidate,
// in-flight dedup, cache mutation, and subscriber notification. It is the
// only writer of the cache store.
//
// A failed bootstrap is not retried on its own; the dataset stays absent and
// the next RefreshForSymbols (or the background refresher) retries it.
type MarketService struct {
	tracer  trace.Tracer
	fetcher Fetcher
	store   *cache.Store

	priceTTL     time.Duration
	registryTTL  time.Duration
	fetchTimeout time.Duration

	group    singleflight.Group
	state    atomic.Int32
	inflight atomic.Int32

	subMu     sync.Mutex
	subs      []subscriber
	nextSubID int64
}

type subscriber struct {
	id int64
	fn func()
}

func NewMarketService(tracer trace.Tracer, fetcher Fetcher, store *cache.Store) *MarketService {
	return &MarketService{
		tracer:       tracer,
		fetcher:      fetcher,
		store:        store,
		priceTTL:     domain.PriceTTL,
		registryTTL:  domain.RegistryTTL,
		fetchTimeout: 10 * time.Second,
	}
}

// Initialize bootstraps the cache in the background with the default symbol
// set. Calling it again while initializing or ready is a no-op. The service
// always ends up Ready, even when the bootstrap fetches fail: consumers then
// see an empty cache rather than a terminal error state.
func (s *MarketService) Initialize(ctx context.Context) {
	if !s.state.CompareAndSwap(StateUninitialized, StateInitializing) {
		return
	}

	_, span := s.tracer.Start(ctx, "market-service.initialize")
	go func() {
		defer span.End()
		defer s.state.Store(StateReady)

		if err := s.fetchDataset(domain.DatasetPrices); err != nil {
			log.Printf("bootstrap price fetch failed for %d default symbols: %v", len(domain.DefaultSymbols), err)
		}
		if err := s.fetchDataset(domain.DatasetRegistry); err != nil {
			log.Printf("bootstrap registry fetch failed: %v", err)
		}
	}()
}

// RefreshForSymbols brings the datasets behind the requested symbols up to
// date. Absent datasets block until their first fetch resolves either way;
// stale datasets are refreshed in the background while the stale values stay
// servable; fresh datasets are left alone. Concurrent calls for the same
// dataset join the in-flight fetch instead of issuing another request.
func (s *MarketService) RefreshForSymbols(ctx context.Context, symbols []string) error {
	_, span := s.tracer.Start(ctx, "market-service.refresh-for-symbols")
	defer span.End()

	if len(domain.NormalizeSymbols(symbols)) == 0 {
		return nil
	}

	var firstErr error
	for _, ds := range []struct {
		key string
		ttl time.Duration
	}{
		{domain.DatasetPrices, s.priceTTL},
		{domain.DatasetRegistry, s.registryTTL},
	} {
		if _, ok := s.store.Get(ds.key); !ok {
			if err := s.fetchDataset(ds.key); err != nil && firstErr == nil {
				firstErr = err
			}
			continue
		}
		if s.store.IsStale(ds.key, ds.ttl) {
			go func(key string, ttl time.Duration) {
				// An in-flight fetch may have landed since the caller's check.
				if !s.store.IsStale(key, ttl) {
					return
				}
				if err := s.fetchDataset(key); err != nil {
					log.Printf("background refresh of %s failed: %v", key, err)
				}
			}(ds.key, ds.ttl)
		}
	}
	return firstErr
}

// fetchDataset runs (or joins) the single in-flight fetch for key. The
// dedup token is held for the full fetch; it clears only once the fetch
// completes, success or failure.
func (s *MarketService) fetchDataset(key string) error {
	_, err, _ := s.group.Do(key, func() (any, error) {
		s.inflight.Add(1)
		defer s.inflight.Add(-1)

		ctx, cancel := context.WithTimeout(context.Background(), s.fetchTimeout)
		defer cancel()

		switch key {
		case domain.DatasetPrices:
			snap, err := s.fetcher.FetchPrices(ctx)
			if err != nil {
				return nil, err
			}
			s.store.Set(key, snap)
		case domain.DatasetRegistry:
			reg, err := s.fetcher.FetchRegistry(ctx)
			if err != nil {
				return nil, err
			}
			s.store.Set(key, reg)
		}

		s.notify()
		return nil, nil
	})
	return err
}

// Quote returns the latest cached quote for symbol. Unknown symbols report
// absence, never an error.
func (s *MarketService) Quote(symbol string) (domain.CoinQuote, bool) {
	entry, ok := s.store.Get(domain.DatasetPrices)
	if !ok {
		return domain.CoinQuote{}, false
	}
	snap, ok := entry.Payload.(*domain.PriceSnapshot)
	if !ok {
		return domain.CoinQuote{}, false
	}
	quote, ok := snap.Quotes[domain.NormalizeSymbol(symbol)]
	return quote, ok
}

// Quotes returns a copy of every cached quote, keyed by symbol.
func (s *MarketService) Quotes() map[string]domain.CoinQuote {
	entry, ok := s.store.Get(domain.DatasetPrices)
	if !ok {
		return nil
	}
	snap, ok := entry.Payload.(*domain.PriceSnapshot)
	if !ok {
		return nil
	}
	out := make(map[string]domain.CoinQuote, len(snap.Quotes))
	for k, v := range snap.Quotes {
		out[k] = v
	}
	return out
}

// Price returns the latest cached USD price for symbol.
func (s *MarketService) Price(symbol string) (float64, bool) {
	quote, ok := s.Quote(symbol)
	if !ok {
		return 0, false
	}
	return quote.PriceUSD, true
}

// MarketCap returns the latest cached USD market cap for symbol.
func (s *MarketService) MarketCap(symbol string) (float64, bool) {
	quote, ok := s.Quote(symbol)
	if !ok {
		return 0, false
	}
	return quote.MarketCapUSD, true
}

// PriceForRendering serves the display layer's fallback chain for a holding:
// a cached price whether fresh or stale, absence only when nothing was ever
// fetched. Staleness is not an error; callers judge trust via State().LastRefresh.
func (s *MarketService) PriceForRendering(h domain.Holding) (float64, bool) {
	return s.Price(h.Symbol)
}

// MarketCapForCategorization is the same fallback chain for market caps.
func (s *MarketService) MarketCapForCategorization(h domain.Holding) (float64, bool) {
	return s.MarketCap(h.Symbol)
}

// RegistryEntryForSymbol resolves a symbol to its authoritative registry
// entry (first id in the symbol's list).
func (s *MarketService) RegistryEntryForSymbol(symbol string) (domain.RegistryEntry, bool) {
	entry, ok := s.store.Get(domain.DatasetRegistry)
	if !ok {
		return domain.RegistryEntry{}, false
	}
	reg, ok := entry.Payload.(*domain.Registry)
	if !ok {
		return domain.RegistryEntry{}, false
	}
	ids := reg.BySymbol[domain.NormalizeSymbol(symbol)]
	if len(ids) == 0 {
		return domain.RegistryEntry{}, false
	}
	e, ok := reg.Entries[ids[0]]
	return e, ok
}

// Status probes the remote sync status. Failures are non-critical and
// resolve to nil silently.
func (s *MarketService) Status(ctx context.Context) *domain.SyncStatus {
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	status, err := s.fetcher.FetchStatus(ctx)
	if err != nil {
		return nil
	}
	return status
}

// State summarizes the cache for consumers.
func (s *MarketService) State() domain.CacheState {
	state := domain.CacheState{
		Loading: s.inflight.Load() > 0 || s.state.Load() == StateInitializing,
	}

	if last, ok := s.store.LastFetch(); ok {
		state.LastRefresh = &last
	}

	if entry, ok := s.store.Get(domain.DatasetPrices); ok {
		if snap, ok := entry.Payload.(*domain.PriceSnapshot); ok {
			state.Loaded = true
			state.CoinCount = len(snap.Quotes)
		}
	}
	if entry, ok := s.store.Get(domain.DatasetRegistry); ok {
		if reg, ok := entry.Payload.(*domain.Registry); ok && reg.Count > state.CoinCount {
			state.CoinCount = reg.Count
		}
	}
	return state
}

// Clear evicts the given datasets (or all of them) and notifies subscribers.
// This is the only path that removes cache entries.
func (s *MarketService) Clear(keys ...string) {
	s.store.Clear(keys...)
	s.notify()
}

// Subscribe registers fn for change notifications and returns its
// unsubscribe handle. Notifications are synchronous, in registration order,
// and delivered strictly after the mutation is readable.
func (s *MarketService) Subscribe(fn func()) func() {
	s.subMu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *MarketService) notify() {
	s.subMu.Lock()
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.subMu.Unlock()

	for _, sub := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("subscriber %d panicked during notification: %v", sub.id, r)
				}
			}()
			sub.fn()
		}()
	}
}
