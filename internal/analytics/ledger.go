package analytics

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Dolores18/api-manager/internal/pricing"
	"github.com/Dolores18/api-manager/internal/store"
	"github.com/Dolores18/api-manager/internal/store/model"
)

const bufferSize = 10000

// Ledger is the async usage sink. Record never blocks the request path: the
// record goes onto a buffered channel and a background worker prices it and
// writes it to the store. When the buffer is full the record is dropped and
// logged rather than stalling a live request.
type Ledger struct {
	logger  *zap.Logger
	repo    store.Repository
	pricing *pricing.Engine

	records chan *model.UsageRecord
	wg      sync.WaitGroup
	once    sync.Once

	mu     sync.RWMutex
	closed bool
}

func NewLedger(logger *zap.Logger, repo store.Repository, engine *pricing.Engine) *Ledger {
	return &Ledger{
		logger:  logger,
		repo:    repo,
		pricing: engine,
		records: make(chan *model.UsageRecord, bufferSize),
	}
}

// Start launches the background writer.
func (l *Ledger) Start() {
	l.wg.Add(1)
	go l.worker()
	l.logger.Info("Usage ledger started", zap.Int("buffer_size", bufferSize))
}

// Stop closes the intake and waits for buffered records to flush. Records
// arriving afterwards, such as a stream outliving server shutdown, are
// dropped and logged rather than panicking on the closed channel.
func (l *Ledger) Stop() {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		close(l.records)
	})
	l.wg.Wait()
}

// Record enqueues one terminal-outcome record. Non-blocking.
func (l *Ledger) Record(rec *model.UsageRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RequestTime.IsZero() {
		rec.RequestTime = time.Now().UTC()
	}
	rec.TotalTokens = rec.PromptTokens + rec.CompletionTokens

	// the read lock pairs with the write lock in Stop so the channel can
	// never close between the check and the send
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		l.logger.Warn("Usage ledger stopped, dropping record",
			zap.String("model", rec.Model),
			zap.String("status", rec.Status),
		)
		return
	}

	select {
	case l.records <- rec:
	default:
		l.logger.Warn("Usage buffer full, dropping record",
			zap.String("model", rec.Model),
			zap.String("status", rec.Status),
		)
	}
}

func (l *Ledger) worker() {
	defer l.wg.Done()

	for rec := range l.records {
		l.write(rec)
	}
}

func (l *Ledger) write(rec *model.UsageRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if cost, currency, ok := l.pricing.Cost(ctx, rec); ok {
		rec.Cost = sql.NullFloat64{Float64: cost, Valid: true}
		rec.Currency = sql.NullString{String: currency, Valid: true}
	}

	if err := l.repo.Usage().Insert(ctx, rec); err != nil {
		l.logger.Error("Failed to write usage record",
			zap.String("id", rec.ID),
			zap.String("model", rec.Model),
			zap.Error(err),
		)
	}
}

// Recent returns the last N ledger rows.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]model.UsageRecord, error) {
	return l.repo.Usage().Recent(ctx, limit)
}

// Summary aggregates the ledger since the given time.
func (l *Ledger) Summary(ctx context.Context, since time.Time) (*model.UsageSummary, error) {
	return l.repo.Usage().Summary(ctx, since)
}
