package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Dolores18/api-manager/internal/pricing"
	"github.com/Dolores18/api-manager/internal/store"
	"github.com/Dolores18/api-manager/internal/store/cache"
	"github.com/Dolores18/api-manager/internal/store/model"
	"github.com/Dolores18/api-manager/internal/store/sqlite"
)

func newTestLedger(t *testing.T) (*Ledger, store.Repository, *pricing.Engine) {
	t.Helper()

	repo, err := sqlite.NewSQLiteStorage("file::memory:?_busy_timeout=5000")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = repo.Close()
	})

	engine := pricing.NewEngine(zap.NewNop(), repo, cache.NewMemoryCache())
	ledger := NewLedger(zap.NewNop(), repo, engine)
	return ledger, repo, engine
}

func TestLedger_RecordPricesAndPersists(t *testing.T) {
	ledger, repo, engine := newTestLedger(t)
	ctx := context.Background()

	entry := &model.PriceEntry{
		ID:              uuid.NewString(),
		Name:            "acct",
		Model:           "gpt-4",
		PromptPrice:     0.01,
		CompletionPrice: 0.02,
		Currency:        "USD",
		EffectiveDate:   time.Now().UTC().Add(-time.Hour),
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	require.NoError(t, engine.Update(ctx, entry))

	ledger.Start()
	ledger.Record(&model.UsageRecord{
		ProviderName:     "acct",
		Model:            "gpt-4",
		Status:           model.UsageSuccess,
		PromptTokens:     2000,
		CompletionTokens: 1000,
	})
	ledger.Stop()

	records, err := repo.Usage().Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, 3000, rec.TotalTokens)
	require.True(t, rec.Cost.Valid)
	assert.InDelta(t, 0.02+0.02, rec.Cost.Float64, 1e-9)
	require.True(t, rec.Currency.Valid)
	assert.Equal(t, "USD", rec.Currency.String)
}

func TestLedger_UnpricedRecordKeepsNullCost(t *testing.T) {
	ledger, repo, _ := newTestLedger(t)

	ledger.Start()
	ledger.Record(&model.UsageRecord{
		ProviderName:     "unknown",
		Model:            "gpt-4",
		Status:           model.UsageSuccess,
		PromptTokens:     100,
		CompletionTokens: 50,
	})
	ledger.Stop()

	records, err := repo.Usage().Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].Cost.Valid)
	assert.False(t, records[0].Currency.Valid)
}

func TestLedger_RecordAfterStopIsDropped(t *testing.T) {
	ledger, repo, _ := newTestLedger(t)

	ledger.Start()
	ledger.Stop()

	// a stream outliving server shutdown still reports its outcome; the
	// record is dropped, never a send on the closed intake
	require.NotPanics(t, func() {
		ledger.Record(&model.UsageRecord{Model: "gpt-4", Status: model.UsagePartial})
	})

	records, err := repo.Usage().Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLedger_ExhaustionRecordHasNoProvider(t *testing.T) {
	ledger, repo, _ := newTestLedger(t)

	ledger.Start()
	ledger.Record(&model.UsageRecord{
		Model:  "gpt-4",
		Status: model.UsageFailure,
	})
	ledger.Stop()

	records, err := repo.Usage().Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].ProviderAPIKey.Valid)
	assert.False(t, records[0].Cost.Valid)
	assert.Equal(t, 0, records[0].TotalTokens)
}
