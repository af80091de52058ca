package store

import (
	"context"
	"time"

	"github.com/Dolores18/api-manager/internal/store/model"
)

// Repository is the main contract for the data layer.
type Repository interface {
	Providers() ProviderRepository
	Usage() UsageRepository
	Pricing() PricingRepository

	// transaction support
	WithTx(ctx context.Context, fn func(repo Repository) error) error

	Close() error
}

// ProviderRepository is the durable side of the provider registry. The
// in-memory registry is the source of truth for live status; these writes
// keep the rows in sync across restarts.
type ProviderRepository interface {
	// List returns every provider row, including soft-deactivated ones.
	List(ctx context.Context) ([]model.Provider, error)
	// GetByID returns a single provider or sql.ErrNoRows.
	GetByID(ctx context.Context, id string) (*model.Provider, error)
	// Create inserts a new provider account.
	Create(ctx context.Context, p *model.Provider) error
	// UpdateStatus persists a status transition.
	UpdateStatus(ctx context.Context, id, status string) error
	// UpdateBalance persists a balance observation.
	UpdateBalance(ctx context.Context, id string, balance float64, checkedAt time.Time) error
	// Deactivate soft-disables a provider; rows referenced by usage records
	// are never deleted.
	Deactivate(ctx context.Context, id string) error
}

// UsageRepository is the append-only ledger sink.
type UsageRepository interface {
	// Insert appends one terminal-outcome record.
	Insert(ctx context.Context, rec *model.UsageRecord) error
	// Recent returns the last N records.
	Recent(ctx context.Context, limit int) ([]model.UsageRecord, error)
	// Summary aggregates the ledger since the given time.
	Summary(ctx context.Context, since time.Time) (*model.UsageSummary, error)
}

// PricingRepository stores effective-dated prices with an append-only
// archive of superseded rows.
type PricingRepository interface {
	// Current returns the entry with the latest effective_date <= asOf for
	// (name, model), or sql.ErrNoRows when the pair is unpriced.
	Current(ctx context.Context, name, modelName string, asOf time.Time) (*model.PriceEntry, error)
	// List returns the latest entry per (name, model) pair.
	List(ctx context.Context) ([]model.PriceEntry, error)
	// History returns the archived rows for a pair, oldest first.
	History(ctx context.Context, name, modelName string) ([]model.PriceHistoryEntry, error)
	// Update archives the pair's current row verbatim, then inserts the new
	// entry. Callers wanting atomicity run it inside Repository.WithTx.
	Update(ctx context.Context, entry *model.PriceEntry) error
}
