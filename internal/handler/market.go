package handler

import (
	"net/http"
	"strconv"

	"github.com/RobRipley/YSLfoliotracker-sub002/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// GetPrice godoc
// @Summary      Get the cached quote for a symbol
// @Description  Returns the latest cached quote; staleness is reported via /api/state, not here
// @Tags         prices
// @Produce      json
// @Param        symbol  path  string  true  "Coin symbol (e.g., BTC)"
// @Success      200  {object}  domain.CoinQuote
// @Failure      404  {object}  map[string]string
// @Router       /api/prices/{symbol} [get]
func (h *Handler) GetPrice(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.get-price")
	defer span.End()

	symbol := domain.NormalizeSymbol(c.Param("symbol"))
	span.SetAttributes(attribute.String("symbol", symbol))

	quote, ok := h.market.Quote(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no cached quote for " + symbol})
		return
	}
	c.JSON(http.StatusOK, quote)
}

// GetAllPrices godoc
// @Summary      Get all cached quotes
// @Tags         prices
// @Produce      json
// @Success      200  {object}  map[string]domain.CoinQuote
// @Router       /api/prices [get]
func (h *Handler) GetAllPrices(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.get-all-prices")
	defer span.End()

	quotes := h.market.Quotes()
	if quotes == nil {
		quotes = map[string]domain.CoinQuote{}
	}
	c.JSON(http.StatusOK, quotes)
}

// ResolveSymbol godoc
// @Summary      Resolve a symbol to its authoritative registry entry
// @Tags         registry
// @Produce      json
// @Param        symbol  path  string  true  "Coin symbol"
// @Success      200  {object}  domain.RegistryEntry
// @Failure      404  {object}  map[string]string
// @Router       /api/registry/{symbol} [get]
func (h *Handler) ResolveSymbol(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.resolve-symbol")
	defer span.End()

	symbol := domain.NormalizeSymbol(c.Param("symbol"))
	entry, ok := h.market.RegistryEntryForSymbol(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol: " + symbol})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// GetState godoc
// @Summary      Get the cache state summary
// @Tags         state
// @Produce      json
// @Success      200  {object}  domain.CacheState
// @Router       /api/state [get]
func (h *Handler) GetState(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.get-state")
	defer span.End()

	c.JSON(http.StatusOK, h.market.State())
}

// GetSyncStatus godoc
// @Summary      Probe the remote sync status
// @Description  Status failures are non-critical and surface as 204
// @Tags         state
// @Produce      json
// @Success      200  {object}  domain.SyncStatus
// @Success      204  "status unavailable"
// @Router       /api/status [get]
func (h *Handler) GetSyncStatus(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-sync-status")
	defer span.End()

	status := h.market.Status(ctx)
	if status == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, status)
}

// GetHistory godoc
// @Summary      Get archived price history for a symbol
// @Tags         history
// @Produce      json
// @Param        symbol  path   string  true   "Coin symbol"
// @Param        limit   query  int     false  "Maximum points (default 100)"
// @Success      200  {array}   domain.PricePoint
// @Failure      500  {object}  map[string]string
// @Router       /api/history/{symbol} [get]
func (h *Handler) GetHistory(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-history")
	defer span.End()

	symbol := domain.NormalizeSymbol(c.Param("symbol"))
	span.SetAttributes(attribute.String("symbol", symbol))

	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history archive not configured"})
		return
	}

	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	points, err := h.history.History(ctx, symbol, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if points == nil {
		points = []domain.PricePoint{}
	}
	c.JSON(http.StatusOK, points)
}

type refreshRequest struct {
	Symbols []string `json:"symbols" binding:"required"`
}

// Refresh godoc
// @Summary      Refresh the datasets behind a symbol set
// @Description  Blocks only when a dataset has never been fetched; stale data refreshes in the background
// @Tags         prices
// @Accept       json
// @Produce      json
// @Param        request  body  refreshRequest  true  "Symbols of interest"
// @Success      202  {object}  domain.CacheState
// @Failure      400  {object}  map[string]string
// @Router       /api/refresh [post]
func (h *Handler) Refresh(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.refresh")
	defer span.End()

	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Fetch failures degrade to serving the last-known-good cache; the
	// caller reads freshness from the returned state.
	if err := h.market.RefreshForSymbols(ctx, req.Symbols); err != nil {
		span.SetAttributes(attribute.String("refresh.error", err.Error()))
	}
	c.JSON(http.StatusAccepted, h.market.State())
}
