package model

import (
	"database/sql"
	"time"
)

// Provider status values. A provider whose balance has fallen below its
// threshold must never be Active; the registry enforces that invariant.
const (
	StatusActive   = "Active"
	StatusDegraded = "Degraded"
	StatusInactive = "Inactive"
)

// Usage record status values.
const (
	UsageSuccess = "Success"
	UsageFailure = "Failure"
	UsagePartial = "Partial"
)

// Provider is one configured upstream account (API key + endpoint) capable of
// serving chat completions for a single model.
type Provider struct {
	ID               string        `db:"id" json:"id"`
	Name             string        `db:"name" json:"name"`
	ProviderType     string        `db:"provider_type" json:"provider_type"` // vendor tag: "siliconflow", "deepseek", "openai"
	IsOfficial       bool          `db:"is_official" json:"is_official"`
	BaseURL          string        `db:"base_url" json:"base_url"` // API root, e.g. https://api.siliconflow.cn
	APIKey           string        `db:"api_key" json:"-"`         // never serialized
	Status           string        `db:"status" json:"status"`
	RateLimit        sql.NullInt64 `db:"rate_limit" json:"rate_limit,omitempty"`
	Balance          float64       `db:"balance" json:"balance"`
	LastBalanceCheck sql.NullTime  `db:"last_balance_check" json:"last_balance_check,omitempty"`
	MinBalance       float64       `db:"min_balance_threshold" json:"min_balance_threshold"`
	SupportsBalance  bool          `db:"support_balance_check" json:"support_balance_check"`
	ModelName        string        `db:"model_name" json:"model_name"`
	ModelType        string        `db:"model_type" json:"model_type"`
	ModelVersion     string        `db:"model_version" json:"model_version"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updated_at"`
}

// Funded reports whether the account has enough balance to take traffic.
// Accounts that cannot be polled for balance are treated as always funded.
func (p *Provider) Funded() bool {
	if !p.SupportsBalance {
		return true
	}
	return p.Balance >= p.MinBalance
}

// Eligible is the routing filter: active, funded, serving the requested model.
func (p *Provider) Eligible(modelName string) bool {
	return p.Status == StatusActive && p.Funded() && p.ModelName == modelName
}

// UsageRecord is the durable log entry of one terminal request outcome.
// Immutable once written.
type UsageRecord struct {
	ID               string          `db:"id" json:"id"`
	ProviderAPIKey   sql.NullString  `db:"provider_api_key" json:"-"` // null when routing exhausted before any attempt
	RequestTime      time.Time       `db:"request_time" json:"request_time"`
	RequestID        sql.NullString  `db:"request_id" json:"request_id,omitempty"`
	ClientIP         sql.NullString  `db:"client_ip" json:"client_ip,omitempty"`
	Model            string          `db:"model" json:"model"`
	PromptTokens     int             `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int             `db:"completion_tokens" json:"completion_tokens"`
	TotalTokens      int             `db:"total_tokens" json:"total_tokens"`
	Status           string          `db:"status" json:"status"`
	Cost             sql.NullFloat64 `db:"cost" json:"cost,omitempty"`
	Currency         sql.NullString  `db:"currency" json:"currency,omitempty"`

	// ProviderName is carried in memory for price lookup; the durable row
	// joins through provider_api_key instead.
	ProviderName string `db:"-" json:"-"`
}

// PriceEntry is the cost per 1000 tokens for a (provider name, model) pair,
// valid from its effective date until superseded by a later-dated entry.
type PriceEntry struct {
	ID              string    `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	Model           string    `db:"model" json:"model"`
	PromptPrice     float64   `db:"prompt_token_price" json:"prompt_token_price"`
	CompletionPrice float64   `db:"completion_token_price" json:"completion_token_price"`
	Currency        string    `db:"currency" json:"currency"`
	EffectiveDate   time.Time `db:"effective_date" json:"effective_date"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// CostFor prices a token count pair against this entry.
func (e *PriceEntry) CostFor(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1000.0*e.PromptPrice +
		float64(completionTokens)/1000.0*e.CompletionPrice
}

// PriceHistoryEntry is an archived price row. History is append-only.
type PriceHistoryEntry struct {
	ID              int64     `db:"id" json:"id"`
	PricingID       string    `db:"pricing_id" json:"pricing_id"`
	Name            string    `db:"name" json:"name"`
	Model           string    `db:"model" json:"model"`
	PromptPrice     float64   `db:"prompt_token_price" json:"prompt_token_price"`
	CompletionPrice float64   `db:"completion_token_price" json:"completion_token_price"`
	Currency        string    `db:"currency" json:"currency"`
	EffectiveDate   time.Time `db:"effective_date" json:"effective_date"`
	ArchivedAt      time.Time `db:"archived_at" json:"archived_at"`
}

// ProviderHealth is the admin-facing health feed entry.
type ProviderHealth struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Status      string       `json:"status"`
	Balance     float64      `json:"balance"`
	LastChecked sql.NullTime `json:"last_checked"`
}

// UsageSummary aggregates the ledger for the stats surface.
type UsageSummary struct {
	TotalRequests         int64 `db:"total_requests" json:"total_requests"`
	SuccessfulRequests    int64 `db:"successful_requests" json:"successful_requests"`
	FailedRequests        int64 `db:"failed_requests" json:"failed_requests"`
	TotalPromptTokens     int64 `db:"total_prompt_tokens" json:"total_prompt_tokens"`
	TotalCompletionTokens int64 `db:"total_completion_tokens" json:"total_completion_tokens"`
	TotalTokens           int64 `db:"total_tokens" json:"total_tokens"`

	ProviderStats []ProviderStats `db:"-" json:"provider_stats,omitempty"`
	ModelStats    []ModelStats    `db:"-" json:"model_stats,omitempty"`
}

// ProviderStats is per-account usage aggregation.
type ProviderStats struct {
	ProviderAPIKey string `db:"provider_api_key" json:"provider_api_key"`
	RequestCount   int64  `db:"request_count" json:"request_count"`
	TotalTokens    int64  `db:"total_tokens" json:"total_tokens"`
}

// ModelStats is per-model usage aggregation.
type ModelStats struct {
	Model                 string `db:"model" json:"model"`
	RequestCount          int64  `db:"request_count" json:"request_count"`
	TotalPromptTokens     int64  `db:"total_prompt_tokens" json:"total_prompt_tokens"`
	TotalCompletionTokens int64  `db:"total_completion_tokens" json:"total_completion_tokens"`
	TotalTokens           int64  `db:"total_tokens" json:"total_tokens"`
}
