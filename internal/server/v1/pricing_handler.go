package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Dolores18/api-manager/internal/pricing"
	"github.com/Dolores18/api-manager/internal/server/validator"
	"github.com/Dolores18/api-manager/internal/store/model"
	"github.com/Dolores18/api-manager/pkg/api"
)

type PricingHandler struct {
	engine *pricing.Engine
}

func NewPricingHandler(engine *pricing.Engine) *PricingHandler {
	return &PricingHandler{engine: engine}
}

// List returns the current price per (provider name, model) pair.
func (h *PricingHandler) List(c *gin.Context) {
	entries, err := h.engine.List(c.Request.Context())
	if err != nil {
		_ = c.Error(api.InternalError("failed to list prices", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"pricing": entries})
}

type updatePriceRequest struct {
	Name            string  `json:"name" binding:"required"`
	Model           string  `json:"model" binding:"required"`
	PromptPrice     float64 `json:"prompt_token_price" binding:"min=0"`
	CompletionPrice float64 `json:"completion_token_price" binding:"min=0"`
	Currency        string  `json:"currency" binding:"required"`
	EffectiveDate   string  `json:"effective_date" binding:"required"`
}

// Update replaces the price for a pair. The superseded row is archived, never
// overwritten, so past usage stays priced as it was billed.
func (h *PricingHandler) Update(c *gin.Context) {
	var req updatePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(validator.ParseValidationError(err)))
		return
	}

	effective, err := time.Parse(time.RFC3339, req.EffectiveDate)
	if err != nil {
		_ = c.Error(api.BadRequestError("effective_date must be RFC 3339"))
		return
	}

	now := time.Now().UTC()
	entry := model.PriceEntry{
		ID:              uuid.NewString(),
		Name:            req.Name,
		Model:           req.Model,
		PromptPrice:     req.PromptPrice,
		CompletionPrice: req.CompletionPrice,
		Currency:        req.Currency,
		EffectiveDate:   effective,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := h.engine.Update(c.Request.Context(), &entry); err != nil {
		_ = c.Error(api.InternalError("failed to update price", err))
		return
	}

	c.JSON(http.StatusOK, entry)
}

// History returns the archived prices for a pair, oldest first.
func (h *PricingHandler) History(c *gin.Context) {
	name := c.Query("name")
	modelName := c.Query("model")
	if name == "" || modelName == "" {
		_ = c.Error(api.BadRequestError("name and model query parameters are required"))
		return
	}

	history, err := h.engine.History(c.Request.Context(), name, modelName)
	if err != nil {
		_ = c.Error(api.InternalError("failed to load price history", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}
