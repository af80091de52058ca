package registry

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Dolores18/api-manager/internal/store"
	"github.com/Dolores18/api-manager/internal/store/model"
	"github.com/Dolores18/api-manager/internal/store/sqlite"
)

func newTestRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := sqlite.NewSQLiteStorage("file::memory:?_busy_timeout=5000")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = repo.Close()
	})
	return repo
}

func testProvider(name, modelName string, balance, minBalance float64, supportsBalance bool) model.Provider {
	now := time.Now().UTC()
	return model.Provider{
		ID:              uuid.NewString(),
		Name:            name,
		ProviderType:    "siliconflow",
		BaseURL:         "https://example.test",
		APIKey:          "sk-" + uuid.NewString(),
		Status:          model.StatusActive,
		Balance:         balance,
		MinBalance:      minBalance,
		SupportsBalance: supportsBalance,
		ModelName:       modelName,
		ModelType:       "chat",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestRegistry_LoadAndEligible(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	funded := testProvider("funded", "gpt-4", 10, 3, true)
	broke := testProvider("broke", "gpt-4", 1, 3, true)
	unmetered := testProvider("unmetered", "gpt-4", 0, 3, false)
	otherModel := testProvider("other", "claude-3", 10, 3, true)

	for _, p := range []model.Provider{funded, broke, unmetered, otherModel} {
		require.NoError(t, repo.Providers().Create(ctx, &p))
	}

	reg := New(zap.NewNop(), repo)
	require.NoError(t, reg.Load(ctx))

	eligible := reg.Eligible("gpt-4")
	names := make([]string, 0, len(eligible))
	for _, p := range eligible {
		names = append(names, p.Name)
	}

	// the underfunded account never routes, the unmetered one always does
	assert.ElementsMatch(t, []string{"funded", "unmetered"}, names)
}

func TestRegistry_UpdateStatusClampsUnderfunded(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	p := testProvider("poor", "gpt-4", 1, 3, true)
	p.Status = model.StatusInactive
	require.NoError(t, repo.Providers().Create(ctx, &p))

	reg := New(zap.NewNop(), repo)
	require.NoError(t, reg.Load(ctx))

	reg.UpdateStatus(ctx, p.ID, model.StatusActive)

	got, ok := reg.Get(p.ID)
	require.True(t, ok)
	assert.Equal(t, model.StatusInactive, got.Status)

	row, err := repo.Providers().GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInactive, row.Status)
}

func TestRegistry_UpdateBalanceDerivesStatus(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	p := testProvider("acct", "gpt-4", 10, 3, true)
	require.NoError(t, repo.Providers().Create(ctx, &p))

	reg := New(zap.NewNop(), repo)
	require.NoError(t, reg.Load(ctx))

	checked := time.Now().UTC()

	reg.UpdateBalance(ctx, p.ID, 2.5, checked)
	got, _ := reg.Get(p.ID)
	assert.Equal(t, model.StatusInactive, got.Status)
	assert.Equal(t, 2.5, got.Balance)
	assert.True(t, got.LastBalanceCheck.Valid)

	reg.UpdateBalance(ctx, p.ID, 50, checked)
	got, _ = reg.Get(p.ID)
	assert.Equal(t, model.StatusActive, got.Status)
	assert.Equal(t, 50.0, got.Balance)
}

func TestRegistry_PenalizeRemovesFromRotation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	p := testProvider("flaky", "gpt-4", 10, 3, true)
	require.NoError(t, repo.Providers().Create(ctx, &p))

	reg := New(zap.NewNop(), repo)
	require.NoError(t, reg.Load(ctx))

	require.Len(t, reg.Eligible("gpt-4"), 1)

	reg.Penalize(ctx, p.ID)

	assert.Empty(t, reg.Eligible("gpt-4"))
	got, _ := reg.Get(p.ID)
	assert.Equal(t, model.StatusDegraded, got.Status)
}

func TestRegistry_Snapshot(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a := testProvider("a", "gpt-4", 10, 3, true)
	b := testProvider("b", "gpt-4", 1, 3, true)
	require.NoError(t, repo.Providers().Create(ctx, &a))
	require.NoError(t, repo.Providers().Create(ctx, &b))

	reg := New(zap.NewNop(), repo)
	require.NoError(t, reg.Load(ctx))

	snapshot := reg.Snapshot()
	require.Len(t, snapshot, 2)
	for _, h := range snapshot {
		assert.NotEmpty(t, h.ID)
		assert.NotEmpty(t, h.Status)
	}
}
