package registry

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Dolores18/api-manager/internal/store"
	"github.com/Dolores18/api-manager/internal/store/model"
)

// Registry owns the live provider set. The health monitor and the router are
// its only writers; both go through per-entry atomic updates, so a balance
// refresh and a request-failure penalty on the same provider can never
// interleave into a torn state. Unrelated providers update concurrently.
//
// Mutations are applied in memory first, then written through to the
// ProviderRepository. Persistence failures are logged and never propagated:
// the in-memory state stays authoritative for routing.
type Registry struct {
	logger *zap.Logger
	repo   store.Repository

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu sync.Mutex
	p  model.Provider
}

func New(logger *zap.Logger, repo store.Repository) *Registry {
	return &Registry{
		logger:  logger,
		repo:    repo,
		entries: make(map[string]*entry),
	}
}

// Load replaces the in-memory set with the durable provider rows. Called at
// startup and after admin mutations.
func (r *Registry) Load(ctx context.Context) error {
	providers, err := r.repo.Providers().List(ctx)
	if err != nil {
		return err
	}

	entries := make(map[string]*entry, len(providers))
	for _, p := range providers {
		entries[p.ID] = &entry{p: p}
	}

	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()

	r.logger.Info("Provider registry loaded", zap.Int("providers", len(providers)))
	return nil
}

// Add registers a provider that was just created through the admin surface.
func (r *Registry) Add(p model.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[p.ID] = &entry{p: p}
}

// Get returns a copy of the provider record.
func (r *Registry) Get(id string) (model.Provider, bool) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return model.Provider{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.p, true
}

// List returns copies of every provider record, sorted by id for stable
// iteration order.
func (r *Registry) List() []model.Provider {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	providers := make([]model.Provider, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		providers = append(providers, e.p)
		e.mu.Unlock()
	}

	sort.Slice(providers, func(i, j int) bool { return providers[i].ID < providers[j].ID })
	return providers
}

// Eligible returns the candidates for a model request: Active, funded (or
// unmetered), and serving the requested model. Sorted by id so selection
// strategies see a stable ordering.
func (r *Registry) Eligible(modelName string) []model.Provider {
	var out []model.Provider
	for _, p := range r.List() {
		if p.Eligible(modelName) {
			out = append(out, p)
		}
	}
	return out
}

// UpdateStatus transitions a provider's status. Setting Active on an
// underfunded metered provider is clamped to Inactive so the funding
// invariant holds no matter what the caller observed.
func (r *Registry) UpdateStatus(ctx context.Context, id, status string) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	if status == model.StatusActive && !e.p.Funded() {
		status = model.StatusInactive
	}
	e.p.Status = status
	e.p.UpdatedAt = time.Now().UTC()
	e.mu.Unlock()

	if err := r.repo.Providers().UpdateStatus(ctx, id, status); err != nil {
		r.logger.Error("Failed to persist provider status",
			zap.String("provider_id", id),
			zap.String("status", status),
			zap.Error(err),
		)
	}
}

// UpdateBalance records a balance observation and re-derives status from the
// funding threshold: Active when funded, Inactive when not.
func (r *Registry) UpdateBalance(ctx context.Context, id string, balance float64, checkedAt time.Time) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	e.p.Balance = balance
	e.p.LastBalanceCheck = sql.NullTime{Time: checkedAt, Valid: true}
	if e.p.Funded() {
		e.p.Status = model.StatusActive
	} else {
		e.p.Status = model.StatusInactive
	}
	status := e.p.Status
	e.p.UpdatedAt = time.Now().UTC()
	e.mu.Unlock()

	if err := r.repo.Providers().UpdateBalance(ctx, id, balance, checkedAt); err != nil {
		r.logger.Error("Failed to persist provider balance",
			zap.String("provider_id", id),
			zap.Error(err),
		)
	}
	if err := r.repo.Providers().UpdateStatus(ctx, id, status); err != nil {
		r.logger.Error("Failed to persist provider status",
			zap.String("provider_id", id),
			zap.Error(err),
		)
	}
}

// Penalize marks a provider Degraded after a transient request failure so the
// selector skips it until the next successful health pass.
func (r *Registry) Penalize(ctx context.Context, id string) {
	r.UpdateStatus(ctx, id, model.StatusDegraded)
}

// Deactivate soft-disables a provider (admin surface). Usage records keep
// referencing its key; the row is never deleted.
func (r *Registry) Deactivate(ctx context.Context, id string) {
	r.UpdateStatus(ctx, id, model.StatusInactive)
}

// Snapshot is the health feed consumed by the status surface.
func (r *Registry) Snapshot() []model.ProviderHealth {
	providers := r.List()
	out := make([]model.ProviderHealth, 0, len(providers))
	for _, p := range providers {
		out = append(out, model.ProviderHealth{
			ID:          p.ID,
			Name:        p.Name,
			Status:      p.Status,
			Balance:     p.Balance,
			LastChecked: p.LastBalanceCheck,
		})
	}
	return out
}
