package handler

import (
	"context"

	"github.com/RobRipley/YSLfoliotracker-sub002/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// MarketData is the service surface the HTTP layer consumes.
type MarketData interface {
	RefreshForSymbols(ctx context.Context, symbols []string) error
	Quote(symbol string) (domain.CoinQuote, bool)
	Quotes() map[string]domain.CoinQuote
	RegistryEntryForSymbol(symbol string) (domain.RegistryEntry, bool)
	Status(ctx context.Context) *domain.SyncStatus
	State() domain.CacheState
}

// HistoryReader serves the externally archived price history.
type HistoryReader interface {
	History(ctx context.Context, symbol string, limit int) ([]domain.PricePoint, error)
}

type Handler struct {
	tracer  trace.Tracer
	market  MarketData
	history HistoryReader
}

func New(tracer trace.Tracer, market MarketData, history HistoryReader) *Handler {
	return &Handler{
		tracer:  tracer,
		market:  market,
		history: history,
	}
}

// RegisterRoutes wires the API surface. Health and swagger stay open; the
// /api group is gated by the key when one is configured.
func (h *Handler) RegisterRoutes(r *gin.Engine, apiKey string) {
	r.GET("/health", h.Health)

	api := r.Group("/api", APIKeyAuth(apiKey))
	api.GET("/prices", h.GetAllPrices)
	api.GET("/prices/:symbol", h.GetPrice)
	api.GET("/registry/:symbol", h.ResolveSymbol)
	api.GET("/state", h.GetState)
	api.GET("/status", h.GetSyncStatus)
	api.GET("/history/:symbol", h.GetHistory)
	api.POST("/refresh", h.Refresh)
}
