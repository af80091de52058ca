package openai

import (
	"context"

	"github.com/Dolores18/api-manager/internal/httpclient"
	"github.com/Dolores18/api-manager/internal/store/model"
	"github.com/Dolores18/api-manager/internal/vendors"
)

func init() {
	vendors.Register("openai", New)
}

type Checker struct{}

func New() vendors.BalanceChecker {
	return &Checker{}
}

func (c *Checker) Type() string {
	return "openai"
}

type creditGrantsResponse struct {
	TotalGranted   float64 `json:"total_granted"`
	TotalUsed      float64 `json:"total_used"`
	TotalAvailable float64 `json:"total_available"`
}

func (c *Checker) FetchBalance(ctx context.Context, client httpclient.HTTPClient, p model.Provider) (float64, error) {
	url := p.BaseURL + "/dashboard/billing/credit_grants"
	headers := map[string]string{
		"Authorization": "Bearer " + p.APIKey,
	}

	var grants creditGrantsResponse
	if err := httpclient.SendRequest(ctx, client, "GET", url, headers, nil, &grants); err != nil {
		return 0, err
	}

	return grants.TotalAvailable, nil
}
