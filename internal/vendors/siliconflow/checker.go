package siliconflow

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Dolores18/api-manager/internal/httpclient"
	"github.com/Dolores18/api-manager/internal/store/model"
	"github.com/Dolores18/api-manager/internal/vendors"
)

func init() {
	vendors.Register("siliconflow", New)
}

type Checker struct{}

func New() vendors.BalanceChecker {
	return &Checker{}
}

func (c *Checker) Type() string {
	return "siliconflow"
}

// userInfoResponse is the /v1/user/info payload. Balance arrives as a string.
type userInfoResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  bool   `json:"status"`
	Data    struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		Balance      string `json:"balance"`
		Status       string `json:"status"`
		TotalBalance string `json:"totalBalance"`
	} `json:"data"`
}

func (c *Checker) FetchBalance(ctx context.Context, client httpclient.HTTPClient, p model.Provider) (float64, error) {
	url := p.BaseURL + "/v1/user/info"
	headers := map[string]string{
		"Authorization": "Bearer " + p.APIKey,
	}

	var info userInfoResponse
	if err := httpclient.SendRequest(ctx, client, "GET", url, headers, nil, &info); err != nil {
		return 0, err
	}

	balance, err := strconv.ParseFloat(info.Data.Balance, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse balance '%s': %w", info.Data.Balance, err)
	}

	return balance, nil
}
