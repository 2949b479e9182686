package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health godoc
// @Summary      Liveness check
// @Description  Reports process liveness plus whether the market cache holds data yet
// @Tags         health
// @Produce      json
// @Success      200  {object}  map[string]any
// @Router       /health [get]
func (h *Handler) Health(c *gin.Context) {
	state := h.market.State()
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"cacheLoaded": state.Loaded,
		"coinCount":   state.CoinCount,
	})
}
