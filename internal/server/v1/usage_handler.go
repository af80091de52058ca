package v1

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Dolores18/api-manager/internal/analytics"
	"github.com/Dolores18/api-manager/pkg/api"
)

type UsageHandler struct {
	ledger *analytics.Ledger
}

func NewUsageHandler(ledger *analytics.Ledger) *UsageHandler {
	return &UsageHandler{ledger: ledger}
}

// Summary aggregates the usage ledger. The window defaults to the last 24
// hours; ?since= takes an RFC 3339 timestamp.
func (h *UsageHandler) Summary(c *gin.Context) {
	since := time.Now().UTC().Add(-24 * time.Hour)
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			_ = c.Error(api.BadRequestError("since must be RFC 3339"))
			return
		}
		since = parsed
	}

	summary, err := h.ledger.Summary(c.Request.Context(), since)
	if err != nil {
		_ = c.Error(api.InternalError("failed to aggregate usage", err))
		return
	}

	c.JSON(http.StatusOK, summary)
}

// Recent returns the newest ledger rows, capped at 500.
func (h *UsageHandler) Recent(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			_ = c.Error(api.BadRequestError("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	if limit > 500 {
		limit = 500
	}

	records, err := h.ledger.Recent(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(api.InternalError("failed to load usage records", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"usage": records})
}
