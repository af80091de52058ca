package pricing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Dolores18/api-manager/internal/store"
	"github.com/Dolores18/api-manager/internal/store/cache"
	"github.com/Dolores18/api-manager/internal/store/model"
)

const cacheTTL = 10 * time.Minute

// Engine resolves effective-dated prices and turns usage records into costs.
// Lookups go through the cache; updates archive the superseded row and
// invalidate the cached entry.
type Engine struct {
	logger *zap.Logger
	repo   store.Repository
	cache  cache.CacheService
}

func NewEngine(logger *zap.Logger, repo store.Repository, c cache.CacheService) *Engine {
	return &Engine{logger: logger, repo: repo, cache: c}
}

func cacheKey(name, modelName string) string {
	return fmt.Sprintf("pricing:%s:%s", name, modelName)
}

// Current returns the price in effect at asOf for a (provider name, model)
// pair, or nil when the pair is unpriced.
//
// Only near-now lookups touch the cache. The cached row is then the pair's
// latest entry, so it answers any asOf it does not postdate; historical
// repricing queries always go to the store.
func (e *Engine) Current(ctx context.Context, name, modelName string, asOf time.Time) (*model.PriceEntry, error) {
	key := cacheKey(name, modelName)
	cacheable := !asOf.Before(time.Now().UTC().Add(-time.Minute))

	if cacheable {
		var cached model.PriceEntry
		if err := e.cache.Get(ctx, key, &cached); err == nil {
			if !cached.EffectiveDate.After(asOf) {
				return &cached, nil
			}
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			e.logger.Warn("Pricing cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	entry, err := e.repo.Pricing().Current(ctx, name, modelName, asOf)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if cacheable {
		if err := e.cache.Set(ctx, key, entry, cacheTTL); err != nil {
			e.logger.Warn("Pricing cache write failed", zap.String("key", key), zap.Error(err))
		}
	}

	return entry, nil
}

// Cost prices a usage record at its request time. The bool reports whether a
// price was found; unpriced pairs leave the record's cost null.
func (e *Engine) Cost(ctx context.Context, rec *model.UsageRecord) (float64, string, bool) {
	if rec.ProviderName == "" {
		return 0, "", false
	}

	entry, err := e.Current(ctx, rec.ProviderName, rec.Model, rec.RequestTime)
	if err != nil {
		e.logger.Error("Price lookup failed",
			zap.String("provider", rec.ProviderName),
			zap.String("model", rec.Model),
			zap.Error(err),
		)
		return 0, "", false
	}
	if entry == nil {
		return 0, "", false
	}

	return entry.CostFor(rec.PromptTokens, rec.CompletionTokens), entry.Currency, true
}

// Update replaces the current price for a pair: the superseded row is copied
// into the history table and the new entry inserted, atomically. The cached
// entry is dropped so the next lookup sees the new price.
func (e *Engine) Update(ctx context.Context, entry *model.PriceEntry) error {
	err := e.repo.WithTx(ctx, func(repo store.Repository) error {
		return repo.Pricing().Update(ctx, entry)
	})
	if err != nil {
		return err
	}

	key := cacheKey(entry.Name, entry.Model)
	if err := e.cache.Delete(ctx, key); err != nil {
		e.logger.Warn("Pricing cache invalidation failed", zap.String("key", key), zap.Error(err))
	}

	e.logger.Info("Price updated",
		zap.String("provider", entry.Name),
		zap.String("model", entry.Model),
		zap.Float64("prompt_price", entry.PromptPrice),
		zap.Float64("completion_price", entry.CompletionPrice),
		zap.Time("effective_date", entry.EffectiveDate),
	)
	return nil
}

// List returns the latest entry per pair.
func (e *Engine) List(ctx context.Context) ([]model.PriceEntry, error) {
	return e.repo.Pricing().List(ctx)
}

// History returns the archived entries for a pair, oldest first.
func (e *Engine) History(ctx context.Context, name, modelName string) ([]model.PriceHistoryEntry, error) {
	return e.repo.Pricing().History(ctx, name, modelName)
}
