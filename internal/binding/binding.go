// Package binding adapts the market data service for reactive display
// components: it owns a scoped subscription, projects per-symbol views for a
// changing set of symbols of interest, and reports a combined loading flag.
package binding

import (
	"context"
	"sort"
	"sync"

	"github.com/RobRipley/YSLfoliotracker-sub002/internal/domain"
)

// MarketData is the service surface the binding consumes.
type MarketData interface {
	RefreshForSymbols(ctx context.Context, symbols []string) error
	Quote(symbol string) (domain.CoinQuote, bool)
	State() domain.CacheState
	Subscribe(fn func()) func()
}

// SymbolView is the per-symbol projection handed to display components.
// Found is false when the symbol is unknown to the cache.
type SymbolView struct {
	Symbol       string  `json:"symbol"`
	Found        bool    `json:"found"`
	Name         string  `json:"name"`
	PriceUSD     float64 `json:"priceUsd"`
	MarketCapUSD float64 `json:"marketCapUsd"`
	Change24hPct float64 `json:"change24hPct"`
}

// Binding subscribes on construction and must be released with Close.
// Close is safe on every exit path, including repeated calls.
type Binding struct {
	svc      MarketData
	onUpdate func()

	mu           sync.Mutex
	symbols      []string // canonical: normalized and sorted
	projection   map[string]SymbolView
	localLoading bool
	refreshGen   uint64

	closeOnce   sync.Once
	unsubscribe func()
}

// New attaches a binding to svc. onUpdate, when non-nil, runs after every
// reprojection so a component can schedule a redraw; it may be nil.
func New(svc MarketData, onUpdate func()) *Binding {
	b := &Binding{
		svc:        svc,
		onUpdate:   onUpdate,
		projection: make(map[string]SymbolView),
	}
	b.unsubscribe = svc.Subscribe(b.handleCacheChange)
	return b
}

// SetSymbols declares the current set of symbols of interest. The set is
// compared order-independently against the previous one; an identical set is
// a no-op, so repeated identical requests never re-trigger refreshes. On a
// real change the binding reprojects and refreshes in the background,
// raising its local loading flag until the refresh resolves.
func (b *Binding) SetSymbols(ctx context.Context, symbols []string) {
	canonical := domain.NormalizeSymbols(symbols)
	sort.Strings(canonical)

	b.mu.Lock()
	if equalSets(b.symbols, canonical) {
		b.mu.Unlock()
		return
	}
	b.symbols = canonical
	b.localLoading = len(canonical) > 0
	b.refreshGen++
	gen := b.refreshGen
	b.mu.Unlock()

	b.reproject()

	if len(canonical) == 0 {
		return
	}
	go func() {
		_ = b.svc.RefreshForSymbols(ctx, canonical)
		b.mu.Lock()
		// A newer SetSymbols owns the flag now; its own refresh clears it.
		if b.refreshGen == gen {
			b.localLoading = false
		}
		b.mu.Unlock()
		b.reproject()
	}()
}

// Projection returns a copy of the current per-symbol views.
func (b *Binding) Projection() map[string]SymbolView {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]SymbolView, len(b.projection))
	for k, v := range b.projection {
		out[k] = v
	}
	return out
}

// Symbols returns the canonical symbol set currently bound.
func (b *Binding) Symbols() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.symbols))
	copy(out, b.symbols)
	return out
}

// Loading reports service-level loading OR a refresh this binding itself
// requested, so a component can show a spinner for data it asked for even
// while the global service is otherwise idle.
func (b *Binding) Loading() bool {
	b.mu.Lock()
	local := b.localLoading
	b.mu.Unlock()
	return local || b.svc.State().Loading
}

// Close releases the subscription. Idempotent.
func (b *Binding) Close() {
	b.closeOnce.Do(b.unsubscribe)
}

func (b *Binding) handleCacheChange() {
	b.reproject()
}

func (b *Binding) reproject() {
	b.mu.Lock()
	symbols := make([]string, len(b.symbols))
	copy(symbols, b.symbols)
	b.mu.Unlock()

	next := make(map[string]SymbolView, len(symbols))
	for _, symbol := range symbols {
		view := SymbolView{Symbol: symbol}
		if quote, ok := b.svc.Quote(symbol); ok {
			view.Found = true
			view.Name = quote.Name
			view.PriceUSD = quote.PriceUSD
			view.MarketCapUSD = quote.MarketCapUSD
			view.Change24hPct = quote.Change24hPct
		}
		next[symbol] = view
	}

	b.mu.Lock()
	b.projection = next
	b.mu.Unlock()

	if b.onUpdate != nil {
		b.onUpdate()
	}
}

func equalSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
