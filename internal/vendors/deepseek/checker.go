package deepseek

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Dolores18/api-manager/internal/httpclient"
	"github.com/Dolores18/api-manager/internal/store/model"
	"github.com/Dolores18/api-manager/internal/vendors"
)

func init() {
	vendors.Register("deepseek", New)
}

type Checker struct{}

func New() vendors.BalanceChecker {
	return &Checker{}
}

func (c *Checker) Type() string {
	return "deepseek"
}

type balanceResponse struct {
	IsAvailable  bool `json:"is_available"`
	BalanceInfos []struct {
		Currency     string `json:"currency"`
		TotalBalance string `json:"total_balance"`
	} `json:"balance_infos"`
}

func (c *Checker) FetchBalance(ctx context.Context, client httpclient.HTTPClient, p model.Provider) (float64, error) {
	url := p.BaseURL + "/user/balance"
	headers := map[string]string{
		"Authorization": "Bearer " + p.APIKey,
	}

	var resp balanceResponse
	if err := httpclient.SendRequest(ctx, client, "GET", url, headers, nil, &resp); err != nil {
		return 0, err
	}

	if len(resp.BalanceInfos) == 0 {
		return 0, fmt.Errorf("balance response contained no balance_infos")
	}

	balance, err := strconv.ParseFloat(resp.BalanceInfos[0].TotalBalance, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse balance '%s': %w", resp.BalanceInfos[0].TotalBalance, err)
	}

	return balance, nil
}
