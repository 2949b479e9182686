package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/RobRipley/YSLfoliotracker-sub002/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const (
	defaultBaseURL = "https://market-data.example.com"

	pricesPath   = "/prices/top500.json"
	registryPath = "/registry/latest.json"
	statusPath   = "/prices/status.json"
)

// MarketClient performs single request/response calls against the remote
// price/registry service. It carries no cache and no retry policy; callers
// own both.
type MarketClient struct {
	client  *http.Client
	baseURL string
	tracer  trace.Tracer
	limiter *RateLimiter
}

// NewMarketClient creates a client with a bounded per-request timeout so a
// hung remote cannot wedge refreshes, plus built-in rate limiting
// (30 requests per minute, one token every 2 seconds).
func NewMarketClient(tracer trace.Tracer, baseURL string, timeout time.Duration) *MarketClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MarketClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		tracer:  tracer,
		limiter: NewRateLimiter(30, 2*time.Second),
	}
}

// FetchPrices fetches the current price snapshot for the top coins.
func (c *MarketClient) FetchPrices(ctx context.Context) (*domain.PriceSnapshot, error) {
	_, span := c.tracer.Start(ctx, "market-client.fetch-prices")
	defer span.End()

	body, err := c.doRequest(ctx, pricesPath)
	if err != nil {
		return nil, err
	}

	var snap domain.PriceSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, &FetchError{Endpoint: pricesPath, Kind: KindMalformed, Err: err}
	}
	if snap.Quotes == nil {
		return nil, &FetchError{Endpoint: pricesPath, Kind: KindMalformed, Err: fmt.Errorf("missing coins map")}
	}

	normalized := make(map[string]domain.CoinQuote, len(snap.Quotes))
	for symbol, quote := range snap.Quotes {
		key := domain.NormalizeSymbol(symbol)
		quote.Symbol = key
		normalized[key] = quote
	}
	snap.Quotes = normalized
	snap.Count = len(normalized)

	return &snap, nil
}

// FetchRegistry fetches the latest coin registry.
func (c *MarketClient) FetchRegistry(ctx context.Context) (*domain.Registry, error) {
	_, span := c.tracer.Start(ctx, "market-client.fetch-registry")
	defer span.End()

	body, err := c.doRequest(ctx, registryPath)
	if err != nil {
		return nil, err
	}

	var reg domain.Registry
	if err := json.Unmarshal(body, &reg); err != nil {
		return nil, &FetchError{Endpoint: registryPath, Kind: KindMalformed, Err: err}
	}
	if reg.Entries == nil {
		return nil, &FetchError{Endpoint: registryPath, Kind: KindMalformed, Err: fmt.Errorf("missing entries map")}
	}

	bySymbol := make(map[string][]string, len(reg.BySymbol))
	for symbol, ids := range reg.BySymbol {
		bySymbol[domain.NormalizeSymbol(symbol)] = ids
	}
	reg.BySymbol = bySymbol
	reg.Count = len(reg.Entries)

	return &reg, nil
}

// FetchStatus fetches the remote sync status. Failures here are non-critical
// for the service; callers treat them as absence.
func (c *MarketClient) FetchStatus(ctx context.Context) (*domain.SyncStatus, error) {
	_, span := c.tracer.Start(ctx, "market-client.fetch-status")
	defer span.End()

	body, err := c.doRequest(ctx, statusPath)
	if err != nil {
		return nil, err
	}

	var status domain.SyncStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, &FetchError{Endpoint: statusPath, Kind: KindMalformed, Err: err}
	}
	return &status, nil
}

func (c *MarketClient) doRequest(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{Endpoint: path, Kind: KindNetwork, Err: fmt.Errorf("rate limit wait: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, &FetchError{Endpoint: path, Kind: KindNetwork, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &FetchError{Endpoint: path, Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &FetchError{
			Endpoint:   path,
			Kind:       KindStatus,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("remote returned %d: %s", resp.StatusCode, string(body)),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Endpoint: path, Kind: KindNetwork, Err: err}
	}
	return body, nil
}
