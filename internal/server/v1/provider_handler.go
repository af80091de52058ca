package v1

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Dolores18/api-manager/internal/httpclient"
	"github.com/Dolores18/api-manager/internal/registry"
	"github.com/Dolores18/api-manager/internal/server/validator"
	"github.com/Dolores18/api-manager/internal/store"
	"github.com/Dolores18/api-manager/internal/store/cache"
	"github.com/Dolores18/api-manager/internal/store/model"
	"github.com/Dolores18/api-manager/internal/vendors"
	"github.com/Dolores18/api-manager/pkg/api"
)

const healthSnapshotKey = "health:snapshot"
const healthSnapshotTTL = 15 * time.Second

type ProviderHandler struct {
	logger   *zap.Logger
	registry *registry.Registry
	repo     store.Repository
	cache    cache.CacheService
	client   httpclient.HTTPClient

	defaultMinBalance float64
}

func NewProviderHandler(logger *zap.Logger, reg *registry.Registry, repo store.Repository, c cache.CacheService, client httpclient.HTTPClient, defaultMinBalance float64) *ProviderHandler {
	return &ProviderHandler{
		logger:            logger,
		registry:          reg,
		repo:              repo,
		cache:             c,
		client:            client,
		defaultMinBalance: defaultMinBalance,
	}
}

// List returns every registered account. API keys never serialize.
func (h *ProviderHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.registry.List()})
}

type createProviderRequest struct {
	Name            string   `json:"name" binding:"required"`
	ProviderType    string   `json:"provider_type" binding:"required"`
	IsOfficial      bool     `json:"is_official"`
	BaseURL         string   `json:"base_url" binding:"required,url"`
	APIKey          string   `json:"api_key" binding:"required"`
	ModelName       string   `json:"model_name" binding:"required"`
	ModelType       string   `json:"model_type"`
	ModelVersion    string   `json:"model_version"`
	MinBalance      *float64 `json:"min_balance_threshold"`
	SupportsBalance bool     `json:"support_balance_check"`
	RateLimit       *int64   `json:"rate_limit"`
}

// Create registers a new upstream account. Balance-capable accounts are
// verified against the vendor before they are accepted, so a bad key or URL
// fails here instead of on live traffic.
func (h *ProviderHandler) Create(c *gin.Context) {
	var req createProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(validator.ParseValidationError(err)))
		return
	}

	p, err := h.create(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, p)
}

type batchCreateRequest struct {
	Providers []createProviderRequest `json:"providers" binding:"required,min=1,dive"`
}

type providerAddResult struct {
	ID      string   `json:"id,omitempty"`
	Name    string   `json:"name"`
	Balance *float64 `json:"balance,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// BatchCreate registers several accounts in one call. Each entry is verified
// and stored independently; one bad key does not reject the rest.
func (h *ProviderHandler) BatchCreate(c *gin.Context) {
	var req batchCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(validator.ParseValidationError(err)))
		return
	}

	var succeeded, failed []providerAddResult
	for _, pr := range req.Providers {
		p, err := h.create(c.Request.Context(), pr)
		if err != nil {
			failed = append(failed, providerAddResult{Name: pr.Name, Error: err.Error()})
			continue
		}
		succeeded = append(succeeded, providerAddResult{ID: p.ID, Name: p.Name, Balance: &p.Balance})
	}

	status := http.StatusCreated
	if len(succeeded) == 0 {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"succeeded": succeeded, "failed": failed})
}

func (h *ProviderHandler) create(ctx context.Context, req createProviderRequest) (*model.Provider, error) {
	minBalance := h.defaultMinBalance
	if req.MinBalance != nil {
		minBalance = *req.MinBalance
	}

	now := time.Now().UTC()
	p := model.Provider{
		ID:              uuid.NewString(),
		Name:            req.Name,
		ProviderType:    req.ProviderType,
		IsOfficial:      req.IsOfficial,
		BaseURL:         req.BaseURL,
		APIKey:          req.APIKey,
		Status:          model.StatusActive,
		MinBalance:      minBalance,
		SupportsBalance: req.SupportsBalance,
		ModelName:       req.ModelName,
		ModelType:       req.ModelType,
		ModelVersion:    req.ModelVersion,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.RateLimit != nil {
		p.RateLimit = sql.NullInt64{Int64: *req.RateLimit, Valid: true}
	}

	if req.SupportsBalance {
		checker, err := vendors.For(req.ProviderType)
		if err != nil {
			return nil, api.BadRequestError(err.Error())
		}

		balance, err := checker.FetchBalance(ctx, h.client, p)
		if err != nil {
			return nil, api.BadRequestError("provider verification failed: " + err.Error())
		}

		p.Balance = balance
		p.LastBalanceCheck = sql.NullTime{Time: now, Valid: true}
		if !p.Funded() {
			p.Status = model.StatusInactive
		}
	}

	if err := h.repo.Providers().Create(ctx, &p); err != nil {
		return nil, api.InternalError("failed to store provider", err)
	}
	h.registry.Add(p)

	h.logger.Info("Provider registered",
		zap.String("provider_id", p.ID),
		zap.String("provider", p.Name),
		zap.String("model", p.ModelName),
		zap.String("status", p.Status),
	)

	return &p, nil
}

// Deactivate soft-disables an account. The row stays for ledger joins.
func (h *ProviderHandler) Deactivate(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.registry.Get(id); !ok {
		_ = c.Error(api.NotFoundError("provider not found"))
		return
	}

	h.registry.Deactivate(c.Request.Context(), id)
	c.JSON(http.StatusOK, gin.H{"status": "deactivated"})
}

// Health serves the provider health feed, cached briefly to keep admin
// dashboards from hammering the registry.
func (h *ProviderHandler) Health(c *gin.Context) {
	var snapshot []model.ProviderHealth
	if err := h.cache.Get(c.Request.Context(), healthSnapshotKey, &snapshot); err == nil {
		c.JSON(http.StatusOK, gin.H{"providers": snapshot})
		return
	}

	snapshot = h.registry.Snapshot()
	if err := h.cache.Set(c.Request.Context(), healthSnapshotKey, snapshot, healthSnapshotTTL); err != nil {
		h.logger.Warn("Failed to cache health snapshot", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"providers": snapshot})
}
