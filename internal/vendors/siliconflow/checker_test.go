package siliconflow

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dolores18/api-manager/internal/httpclient"
	"github.com/Dolores18/api-manager/internal/store/model"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func TestFetchBalance(t *testing.T) {
	var gotURL, gotAuth string
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		gotURL = req.URL.String()
		gotAuth = req.Header.Get("Authorization")
		return response(http.StatusOK, `{"code":20000,"status":true,"data":{"id":"u1","name":"acct","balance":"17.85","status":"normal","totalBalance":"20.00"}}`), nil
	})

	p := model.Provider{BaseURL: "https://api.siliconflow.cn", APIKey: "sk-test"}
	balance, err := New().FetchBalance(context.Background(), client, p)
	require.NoError(t, err)

	assert.Equal(t, 17.85, balance)
	assert.Equal(t, "https://api.siliconflow.cn/v1/user/info", gotURL)
	assert.Equal(t, "Bearer sk-test", gotAuth)
}

func TestFetchBalance_BadBalanceString(t *testing.T) {
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return response(http.StatusOK, `{"data":{"balance":"not-a-number"}}`), nil
	})

	_, err := New().FetchBalance(context.Background(), client, model.Provider{BaseURL: "https://x.test"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-a-number")
}

func TestFetchBalance_UpstreamError(t *testing.T) {
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return response(http.StatusUnauthorized, `{"message":"invalid key"}`), nil
	})

	_, err := New().FetchBalance(context.Background(), client, model.Provider{BaseURL: "https://x.test"})
	require.Error(t, err)

	var ue *httpclient.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusUnauthorized, ue.StatusCode)
}
