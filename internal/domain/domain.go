package domain

import "time"

// Dataset keys used by the cache and the in-flight dedup tokens.
const (
	DatasetPrices   = "prices"
	DatasetRegistry = "registry"
)

// Refresh eligibility windows per dataset.
const (
	PriceTTL    = 120 * time.Second
	RegistryTTL = 300 * time.Second
)

// CoinQuote is the per-symbol market quote served to consumers.
type CoinQuote struct {
	Symbol       string  `json:"symbol"`
	Name         string  `json:"name"`
	Rank         int     `json:"rank"`
	PriceUSD     float64 `json:"priceUsd"`
	MarketCapUSD float64 `json:"marketCapUsd"`
	Volume24h    float64 `json:"volume24h"`
	Change24hPct float64 `json:"change24hPct"`
}

// PriceSnapshot is one full price dataset as fetched from the remote service.
// Quotes are keyed by uppercased symbol.
type PriceSnapshot struct {
	Source    string               `json:"source"`
	UpdatedAt int64                `json:"updatedAt"`
	Count     int                  `json:"count"`
	Quotes    map[string]CoinQuote `json:"coins"`
}

// RegistryEntry describes one listed coin. A symbol may map to several
// entries (cross-chain duplicates); resolution order lives in Registry.
type RegistryEntry struct {
	ID        string `json:"id"`
	Symbol    string `json:"symbol"`
	Name      string `json:"name"`
	LogoURL   string `json:"logoUrl"`
	Rank      int    `json:"rank"`
	FirstSeen int64  `json:"firstSeen"`
	LastSeen  int64  `json:"lastSeen"`
}

// Registry is the full coin registry dataset. BySymbol keeps the remote
// ordering per symbol; the first id is authoritative.
type Registry struct {
	Source    string                   `json:"source"`
	UpdatedAt int64                    `json:"updatedAt"`
	Count     int                      `json:"count"`
	Entries   map[string]RegistryEntry `json:"entries"`
	BySymbol  map[string][]string      `json:"symbols"`
}

// SyncStatus mirrors the remote status endpoint. Optional fields are zero
// when the remote omits them.
type SyncStatus struct {
	Success   bool   `json:"success"`
	Count     int    `json:"count,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Trigger   string `json:"trigger"`
	UpdatedAt int64  `json:"updatedAt,omitempty"`
	Service   string `json:"service"`
}

// CacheState summarizes the service cache for consumers.
type CacheState struct {
	Loaded      bool       `json:"loaded"`
	Loading     bool       `json:"loading"`
	LastRefresh *time.Time `json:"lastRefresh"`
	CoinCount   int        `json:"coinCount"`
}

// Holding is the portfolio position shape the display layer hands to the
// rendering/categorization lookups.
type Holding struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
}

// PricePoint is one historical observation read from the snapshot archive.
type PricePoint struct {
	Symbol     string    `json:"symbol"`
	PriceUSD   float64   `json:"priceUsd"`
	ObservedAt time.Time `json:"observedAt"`
}
