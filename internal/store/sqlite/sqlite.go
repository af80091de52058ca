package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Dolores18/api-manager/internal/store"
	"github.com/Dolores18/api-manager/internal/store/model"
)

// DB defines the interface for database operations (satisfied by *sqlx.DB and *sqlx.Tx)
type DB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SqliteRepository implements store.Repository
type SqliteRepository struct {
	db       *sqlx.DB // Required for starting new transactions
	executor DB       // Used for actual queries (can be *sqlx.DB or *sqlx.Tx)
}

func NewSqliteRepository(db *sqlx.DB) *SqliteRepository {
	return &SqliteRepository{
		db:       db,
		executor: db,
	}
}

func (r *SqliteRepository) Close() error {
	return r.db.Close()
}

func (r *SqliteRepository) WithTx(ctx context.Context, fn func(repo store.Repository) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	// Create a repository instance that uses the transaction
	txRepo := &SqliteRepository{
		db:       r.db, // Keep the original DB handle
		executor: tx,
	}

	if err := fn(txRepo); err != nil {
		// attempt rollback, but prioritize original error
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (r *SqliteRepository) Providers() store.ProviderRepository {
	return &providerRepo{db: r.executor}
}

func (r *SqliteRepository) Usage() store.UsageRepository {
	return &usageRepo{db: r.executor}
}

func (r *SqliteRepository) Pricing() store.PricingRepository {
	return &pricingRepo{db: r.executor}
}

type providerRepo struct {
	db DB
}

func (r *providerRepo) List(ctx context.Context) ([]model.Provider, error) {
	var providers []model.Provider
	err := r.db.SelectContext(ctx, &providers, `SELECT * FROM api_providers ORDER BY created_at DESC`)
	return providers, err
}

func (r *providerRepo) GetByID(ctx context.Context, id string) (*model.Provider, error) {
	var p model.Provider
	if err := r.db.GetContext(ctx, &p, `SELECT * FROM api_providers WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *providerRepo) Create(ctx context.Context, p *model.Provider) error {
	query := `
	INSERT INTO api_providers (
		id, name, provider_type, is_official, base_url, api_key,
		status, rate_limit, balance, last_balance_check,
		min_balance_threshold, support_balance_check,
		model_name, model_type, model_version, created_at, updated_at
	) VALUES (
		:id, :name, :provider_type, :is_official, :base_url, :api_key,
		:status, :rate_limit, :balance, :last_balance_check,
		:min_balance_threshold, :support_balance_check,
		:model_name, :model_type, :model_version, :created_at, :updated_at
	)`
	_, err := r.db.NamedExecContext(ctx, query, p)
	return err
}

func (r *providerRepo) UpdateStatus(ctx context.Context, id, status string) error {
	query := `UPDATE api_providers SET status = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, status, time.Now().UTC(), id)
	return err
}

func (r *providerRepo) UpdateBalance(ctx context.Context, id string, balance float64, checkedAt time.Time) error {
	query := `
	UPDATE api_providers
	SET balance = ?, last_balance_check = ?, updated_at = ?
	WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, balance, checkedAt, time.Now().UTC(), id)
	return err
}

func (r *providerRepo) Deactivate(ctx context.Context, id string) error {
	return r.UpdateStatus(ctx, id, model.StatusInactive)
}

type usageRepo struct {
	db DB
}

func (r *usageRepo) Insert(ctx context.Context, rec *model.UsageRecord) error {
	query := `
	INSERT INTO api_usage (
		id, provider_api_key, request_time, request_id, client_ip,
		model, prompt_tokens, completion_tokens, total_tokens,
		status, cost, currency
	) VALUES (
		:id, :provider_api_key, :request_time, :request_id, :client_ip,
		:model, :prompt_tokens, :completion_tokens, :total_tokens,
		:status, :cost, :currency
	)`
	_, err := r.db.NamedExecContext(ctx, query, rec)
	return err
}

func (r *usageRepo) Recent(ctx context.Context, limit int) ([]model.UsageRecord, error) {
	var recs []model.UsageRecord
	query := `SELECT * FROM api_usage ORDER BY request_time DESC LIMIT ?`
	err := r.db.SelectContext(ctx, &recs, query, limit)
	return recs, err
}

func (r *usageRepo) Summary(ctx context.Context, since time.Time) (*model.UsageSummary, error) {
	var summary model.UsageSummary
	query := `
	SELECT
		COUNT(*) as total_requests,
		COALESCE(SUM(CASE WHEN status = 'Success' THEN 1 ELSE 0 END), 0) as successful_requests,
		COALESCE(SUM(CASE WHEN status = 'Failure' THEN 1 ELSE 0 END), 0) as failed_requests,
		COALESCE(SUM(prompt_tokens), 0) as total_prompt_tokens,
		COALESCE(SUM(completion_tokens), 0) as total_completion_tokens,
		COALESCE(SUM(total_tokens), 0) as total_tokens
	FROM api_usage
	WHERE request_time >= ?`
	if err := r.db.GetContext(ctx, &summary, query, since); err != nil {
		return nil, err
	}

	providerQuery := `
	SELECT
		provider_api_key,
		COUNT(*) as request_count,
		COALESCE(SUM(total_tokens), 0) as total_tokens
	FROM api_usage
	WHERE request_time >= ? AND provider_api_key IS NOT NULL
	GROUP BY provider_api_key
	ORDER BY total_tokens DESC`
	if err := r.db.SelectContext(ctx, &summary.ProviderStats, providerQuery, since); err != nil {
		return nil, fmt.Errorf("failed to aggregate provider stats: %w", err)
	}

	modelQuery := `
	SELECT
		model,
		COUNT(*) as request_count,
		COALESCE(SUM(prompt_tokens), 0) as total_prompt_tokens,
		COALESCE(SUM(completion_tokens), 0) as total_completion_tokens,
		COALESCE(SUM(total_tokens), 0) as total_tokens
	FROM api_usage
	WHERE request_time >= ?
	GROUP BY model
	ORDER BY total_tokens DESC`
	if err := r.db.SelectContext(ctx, &summary.ModelStats, modelQuery, since); err != nil {
		return nil, fmt.Errorf("failed to aggregate model stats: %w", err)
	}

	return &summary, nil
}

type pricingRepo struct {
	db DB
}

func (r *pricingRepo) Current(ctx context.Context, name, modelName string, asOf time.Time) (*model.PriceEntry, error) {
	var entry model.PriceEntry
	query := `
	SELECT * FROM model_pricing
	WHERE name = ? AND model = ? AND effective_date <= ?
	ORDER BY effective_date DESC
	LIMIT 1`
	if err := r.db.GetContext(ctx, &entry, query, name, modelName, asOf); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *pricingRepo) List(ctx context.Context) ([]model.PriceEntry, error) {
	var entries []model.PriceEntry
	// latest entry per (name, model) pair
	query := `
	SELECT p.* FROM model_pricing p
	JOIN (
		SELECT name, model, MAX(effective_date) as max_date
		FROM model_pricing
		GROUP BY name, model
	) latest ON p.name = latest.name AND p.model = latest.model AND p.effective_date = latest.max_date
	ORDER BY p.name, p.model`
	err := r.db.SelectContext(ctx, &entries, query)
	return entries, err
}

func (r *pricingRepo) History(ctx context.Context, name, modelName string) ([]model.PriceHistoryEntry, error) {
	var entries []model.PriceHistoryEntry
	query := `
	SELECT * FROM model_pricing_history
	WHERE name = ? AND model = ?
	ORDER BY archived_at ASC, id ASC`
	err := r.db.SelectContext(ctx, &entries, query, name, modelName)
	return entries, err
}

func (r *pricingRepo) Update(ctx context.Context, entry *model.PriceEntry) error {
	// Archive the pair's current row verbatim before the new value lands.
	// First insert for a pair has nothing to archive.
	archive := `
	INSERT INTO model_pricing_history (
		pricing_id, name, model, prompt_token_price,
		completion_token_price, currency, effective_date, archived_at
	)
	SELECT id, name, model, prompt_token_price,
		completion_token_price, currency, effective_date, ?
	FROM model_pricing
	WHERE name = ? AND model = ?
	ORDER BY effective_date DESC
	LIMIT 1`
	if _, err := r.db.ExecContext(ctx, archive, time.Now().UTC(), entry.Name, entry.Model); err != nil {
		return fmt.Errorf("failed to archive prior price: %w", err)
	}

	insert := `
	INSERT INTO model_pricing (
		id, name, model, prompt_token_price, completion_token_price,
		currency, effective_date, created_at, updated_at
	) VALUES (
		:id, :name, :model, :prompt_token_price, :completion_token_price,
		:currency, :effective_date, :created_at, :updated_at
	)`
	if _, err := r.db.NamedExecContext(ctx, insert, entry); err != nil {
		return fmt.Errorf("failed to insert price entry: %w", err)
	}

	return nil
}
