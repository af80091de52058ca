package gateway

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Dolores18/api-manager/internal/analytics"
	"github.com/Dolores18/api-manager/internal/pricing"
	"github.com/Dolores18/api-manager/internal/registry"
	"github.com/Dolores18/api-manager/internal/store"
	"github.com/Dolores18/api-manager/internal/store/cache"
	"github.com/Dolores18/api-manager/internal/store/model"
	"github.com/Dolores18/api-manager/internal/store/sqlite"
	"github.com/Dolores18/api-manager/pkg/api"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

func httpResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

const successBody = `{"id":"resp-1","model":"gpt-4","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`

type testStack struct {
	repo     store.Repository
	registry *registry.Registry
	ledger   *analytics.Ledger
	service  Service
}

func newTestStack(t *testing.T, client roundTripFunc, providers ...model.Provider) *testStack {
	t.Helper()

	repo, err := sqlite.NewSQLiteStorage("file::memory:?_busy_timeout=5000")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = repo.Close()
	})

	ctx := context.Background()
	for i := range providers {
		require.NoError(t, repo.Providers().Create(ctx, &providers[i]))
	}

	log := zap.NewNop()
	reg := registry.New(log, repo)
	require.NoError(t, reg.Load(ctx))

	engine := pricing.NewEngine(log, repo, cache.NewMemoryCache())
	ledger := analytics.NewLedger(log, repo, engine)
	ledger.Start()
	t.Cleanup(ledger.Stop)

	service := NewService(log, reg, NewSelector(StrategyBalanceWeighted), ledger, client, 3, 5*time.Second)

	return &testStack{repo: repo, registry: reg, ledger: ledger, service: service}
}

// flush drains the ledger so the test can assert on durable rows.
func (ts *testStack) flush(t *testing.T) []model.UsageRecord {
	t.Helper()
	ts.ledger.Stop()

	records, err := ts.repo.Usage().Recent(context.Background(), 10)
	require.NoError(t, err)
	return records
}

func poolProvider(name, host string, balance float64) model.Provider {
	now := time.Now().UTC()
	return model.Provider{
		ID:              uuid.NewString(),
		Name:            name,
		ProviderType:    "siliconflow",
		BaseURL:         "http://" + host,
		APIKey:          "sk-" + name,
		Status:          model.StatusActive,
		Balance:         balance,
		MinBalance:      3,
		SupportsBalance: true,
		ModelName:       "gpt-4",
		ModelType:       "chat",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func chatRequest() *api.ChatRequest {
	return &api.ChatRequest{
		Model:    "gpt-4",
		Messages: []api.ChatMessage{{Role: "user", Content: "hello"}},
	}
}

func TestChat_FailoverOnServerError(t *testing.T) {
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.Host == "flaky.test" {
			return httpResponse(http.StatusInternalServerError, `{"error":"boom"}`), nil
		}
		return httpResponse(http.StatusOK, successBody), nil
	})

	// the flaky account has the bigger balance, so it is selected first
	flaky := poolProvider("flaky", "flaky.test", 1000)
	backup := poolProvider("backup", "backup.test", 100)
	ts := newTestStack(t, client, flaky, backup)

	resp, err := ts.service.Chat(context.Background(), chatRequest(), RequestMeta{})
	require.NoError(t, err)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 15, resp.Usage.TotalTokens)

	// the failing account left the rotation
	got, _ := ts.registry.Get(flaky.ID)
	assert.Equal(t, model.StatusDegraded, got.Status)

	records := ts.flush(t)
	require.Len(t, records, 1)
	assert.Equal(t, model.UsageSuccess, records[0].Status)
	assert.Equal(t, 10, records[0].PromptTokens)
	assert.Equal(t, 5, records[0].CompletionTokens)
	assert.Equal(t, 15, records[0].TotalTokens)
	require.True(t, records[0].ProviderAPIKey.Valid)
	assert.Equal(t, "sk-backup", records[0].ProviderAPIKey.String)
}

func TestChat_FailoverAcrossThreeProviders(t *testing.T) {
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		switch req.Host {
		case "p1.test", "p2.test":
			return httpResponse(http.StatusInternalServerError, `{"error":"down"}`), nil
		default:
			return httpResponse(http.StatusOK, successBody), nil
		}
	})

	// balances order the rotation: p1 first, then p2, then p3
	p1 := poolProvider("p1", "p1.test", 1000)
	p2 := poolProvider("p2", "p2.test", 500)
	p3 := poolProvider("p3", "p3.test", 100)
	ts := newTestStack(t, client, p1, p2, p3)

	resp, err := ts.service.Chat(context.Background(), chatRequest(), RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "resp-1", resp.ID)

	got, _ := ts.registry.Get(p1.ID)
	assert.Equal(t, model.StatusDegraded, got.Status)
	got, _ = ts.registry.Get(p2.ID)
	assert.Equal(t, model.StatusDegraded, got.Status)
	got, _ = ts.registry.Get(p3.ID)
	assert.Equal(t, model.StatusActive, got.Status)

	records := ts.flush(t)
	require.Len(t, records, 1, "two failed attempts leave no extra rows")
	assert.Equal(t, model.UsageSuccess, records[0].Status)
	assert.Equal(t, "sk-p3", records[0].ProviderAPIKey.String)
}

func TestChat_NoUsageRecordsFailure(t *testing.T) {
	const bodyWithoutUsage = `{"id":"resp-2","model":"gpt-4","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return httpResponse(http.StatusOK, bodyWithoutUsage), nil
	})

	p := poolProvider("quiet", "quiet.test", 100)
	ts := newTestStack(t, client, p)

	resp, err := ts.service.Chat(context.Background(), chatRequest(), RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "resp-2", resp.ID)

	// a 200 without usage cannot be billed, same as a usage-less stream
	records := ts.flush(t)
	require.Len(t, records, 1)
	assert.Equal(t, model.UsageFailure, records[0].Status)
	assert.Equal(t, 0, records[0].TotalTokens)
	require.True(t, records[0].ProviderAPIKey.Valid)
	assert.Equal(t, "sk-quiet", records[0].ProviderAPIKey.String)
}

func TestChat_TerminalClientErrorDoesNotRetry(t *testing.T) {
	calls := 0
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		calls++
		return httpResponse(http.StatusUnprocessableEntity, `{"error":"bad prompt"}`), nil
	})

	a := poolProvider("a", "a.test", 100)
	b := poolProvider("b", "b.test", 100)
	ts := newTestStack(t, client, a, b)

	_, err := ts.service.Chat(context.Background(), chatRequest(), RequestMeta{})
	require.Error(t, err)

	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Code)

	// a 4xx is the caller's fault: no second attempt, no penalty
	assert.Equal(t, 1, calls)
	got, _ := ts.registry.Get(a.ID)
	assert.Equal(t, model.StatusActive, got.Status)
	got, _ = ts.registry.Get(b.ID)
	assert.Equal(t, model.StatusActive, got.Status)

	records := ts.flush(t)
	require.Len(t, records, 1)
	assert.Equal(t, model.UsageFailure, records[0].Status)
	assert.Equal(t, 0, records[0].TotalTokens)
	assert.True(t, records[0].ProviderAPIKey.Valid)
}

func TestChat_RateLimitRotates(t *testing.T) {
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.Host == "throttled.test" {
			return httpResponse(http.StatusTooManyRequests, `{"error":"slow down"}`), nil
		}
		return httpResponse(http.StatusOK, successBody), nil
	})

	throttled := poolProvider("throttled", "throttled.test", 100)
	backup := poolProvider("backup", "backup.test", 10)
	ts := newTestStack(t, client, throttled, backup)

	resp, err := ts.service.Chat(context.Background(), chatRequest(), RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "resp-1", resp.ID)

	got, _ := ts.registry.Get(throttled.ID)
	assert.Equal(t, model.StatusDegraded, got.Status)
}

func TestChat_ExhaustionRecordsFailureWithoutProvider(t *testing.T) {
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return httpResponse(http.StatusInternalServerError, `{"error":"down"}`), nil
	})

	a := poolProvider("a", "a.test", 100)
	b := poolProvider("b", "b.test", 100)
	ts := newTestStack(t, client, a, b)

	_, err := ts.service.Chat(context.Background(), chatRequest(), RequestMeta{})
	require.Error(t, err)

	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Code)

	records := ts.flush(t)
	require.Len(t, records, 1)
	assert.Equal(t, model.UsageFailure, records[0].Status)
	assert.False(t, records[0].ProviderAPIKey.Valid)
	assert.Equal(t, 0, records[0].TotalTokens)
}

func TestChat_NoEligibleProviders(t *testing.T) {
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		t.Fatal("no upstream call expected")
		return nil, nil
	})

	ts := newTestStack(t, client)

	_, err := ts.service.Chat(context.Background(), chatRequest(), RequestMeta{})
	require.Error(t, err)

	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Code)
}

func TestStreamChat_RelaysAndRecordsUsage(t *testing.T) {
	streamBody := "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}],\"usage\":{\"prompt_tokens\":7,\"completion_tokens\":2,\"total_tokens\":9}}\n\n" +
		"data: [DONE]\n\n"

	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return httpResponse(http.StatusOK, streamBody), nil
	})

	p := poolProvider("streamer", "streamer.test", 100)
	ts := newTestStack(t, client, p)

	req := chatRequest()
	req.Stream = true

	out, err := ts.service.StreamChat(context.Background(), req, RequestMeta{})
	require.NoError(t, err)

	var lines []string
	for res := range out {
		require.NoError(t, res.Err)
		lines = append(lines, string(res.Data))
	}

	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "Hel")
	assert.Equal(t, "data: [DONE]", lines[2])

	records := ts.flush(t)
	require.Len(t, records, 1)
	assert.Equal(t, model.UsageSuccess, records[0].Status)
	assert.Equal(t, 7, records[0].PromptTokens)
	assert.Equal(t, 2, records[0].CompletionTokens)
	assert.Equal(t, 9, records[0].TotalTokens)
}

func TestStreamChat_NoUsageRecordsFailure(t *testing.T) {
	streamBody := "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n" +
		"data: [DONE]\n\n"

	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return httpResponse(http.StatusOK, streamBody), nil
	})

	p := poolProvider("silent", "silent.test", 100)
	ts := newTestStack(t, client, p)

	req := chatRequest()
	req.Stream = true

	out, err := ts.service.StreamChat(context.Background(), req, RequestMeta{})
	require.NoError(t, err)
	for range out {
	}

	records := ts.flush(t)
	require.Len(t, records, 1)
	assert.Equal(t, model.UsageFailure, records[0].Status)
	assert.Equal(t, 0, records[0].TotalTokens)
	assert.True(t, records[0].ProviderAPIKey.Valid)
}

// ctxBody serves one chunk and then blocks until the request context ends,
// like a live SSE connection with nothing more to say.
type ctxBody struct {
	ctx    context.Context
	first  []byte
	served bool
}

func (b *ctxBody) Read(p []byte) (int, error) {
	if !b.served {
		b.served = true
		return copy(p, b.first), nil
	}
	<-b.ctx.Done()
	return 0, b.ctx.Err()
}

func (b *ctxBody) Close() error { return nil }

func TestStreamChat_CallerCancelRecordsPartial(t *testing.T) {
	chunk := "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}],\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":1,\"total_tokens\":4}}\n\n"

	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       &ctxBody{ctx: req.Context(), first: []byte(chunk)},
			Header:     make(http.Header),
		}, nil
	})

	p := poolProvider("cutoff", "cutoff.test", 100)
	ts := newTestStack(t, client, p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := chatRequest()
	req.Stream = true

	out, err := ts.service.StreamChat(ctx, req, RequestMeta{})
	require.NoError(t, err)

	first := <-out
	require.NoError(t, first.Err)
	assert.Contains(t, string(first.Data), "Hel")

	// caller walks away mid-stream
	cancel()
	for range out {
	}

	records := ts.flush(t)
	require.Len(t, records, 1)
	assert.Equal(t, model.UsagePartial, records[0].Status)
	assert.Equal(t, 3, records[0].PromptTokens)
	assert.Equal(t, 1, records[0].CompletionTokens)
	assert.Equal(t, 4, records[0].TotalTokens)
	require.True(t, records[0].ProviderAPIKey.Valid)
	assert.Equal(t, "sk-cutoff", records[0].ProviderAPIKey.String)
}

func TestChat_RotatesWhenProviderAtConnectionCapacity(t *testing.T) {
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.Host == "limited.test" {
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       &ctxBody{ctx: req.Context(), first: []byte("data: {\"choices\":[]}\n\n")},
				Header:     make(http.Header),
			}, nil
		}
		return httpResponse(http.StatusOK, successBody), nil
	})

	limited := poolProvider("limited", "limited.test", 1000)
	limited.RateLimit = sql.NullInt64{Int64: 1, Valid: true}
	fallback := poolProvider("fallback", "fallback.test", 10)
	ts := newTestStack(t, client, limited, fallback)

	// an open stream pins limited's only connection slot
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	streamReq := chatRequest()
	streamReq.Stream = true
	out, err := ts.service.StreamChat(ctx, streamReq, RequestMeta{})
	require.NoError(t, err)

	resp, err := ts.service.Chat(context.Background(), chatRequest(), RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "resp-1", resp.ID)

	// a capacity skip is not a health failure
	got, _ := ts.registry.Get(limited.ID)
	assert.Equal(t, model.StatusActive, got.Status)

	cancel()
	for range out {
	}

	records := ts.flush(t)
	require.Len(t, records, 2)
	byStatus := make(map[string]model.UsageRecord, len(records))
	for _, r := range records {
		byStatus[r.Status] = r
	}
	assert.Equal(t, "sk-fallback", byStatus[model.UsageSuccess].ProviderAPIKey.String)
	assert.Equal(t, "sk-limited", byStatus[model.UsagePartial].ProviderAPIKey.String)
}

func TestStreamChat_FailsOverBeforeFirstByte(t *testing.T) {
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.Host == "down.test" {
			return httpResponse(http.StatusBadGateway, `{"error":"down"}`), nil
		}
		return httpResponse(http.StatusOK, "data: [DONE]\n\n"), nil
	})

	down := poolProvider("down", "down.test", 1000)
	up := poolProvider("up", "up.test", 10)
	ts := newTestStack(t, client, down, up)

	req := chatRequest()
	req.Stream = true

	out, err := ts.service.StreamChat(context.Background(), req, RequestMeta{})
	require.NoError(t, err)
	for range out {
	}

	got, _ := ts.registry.Get(down.ID)
	assert.Equal(t, model.StatusDegraded, got.Status)
}
