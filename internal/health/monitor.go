package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Dolores18/api-manager/internal/httpclient"
	"github.com/Dolores18/api-manager/internal/registry"
	"github.com/Dolores18/api-manager/internal/store/model"
	"github.com/Dolores18/api-manager/internal/vendors"
)

// Monitor runs the periodic balance sweep. Every interval it probes each
// balance-capable provider concurrently, then folds the results into the
// registry one at a time so demotion counting stays deterministic.
type Monitor struct {
	logger   *zap.Logger
	registry *registry.Registry
	client   httpclient.HTTPClient

	interval     time.Duration
	probeTimeout time.Duration
	demoteAfter  int

	mu       sync.Mutex
	failures map[string]int

	cancel context.CancelFunc
	done   chan struct{}
}

type probeResult struct {
	provider model.Provider
	balance  float64
	err      error
}

func NewMonitor(logger *zap.Logger, reg *registry.Registry, client httpclient.HTTPClient, interval, probeTimeout time.Duration, demoteAfter int) *Monitor {
	return &Monitor{
		logger:       logger,
		registry:     reg,
		client:       client,
		interval:     interval,
		probeTimeout: probeTimeout,
		demoteAfter:  demoteAfter,
		failures:     make(map[string]int),
		done:         make(chan struct{}),
	}
}

// Start launches the sweep loop. The first sweep runs immediately so a fresh
// process does not route on stale balances for a full interval.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	go func() {
		defer close(m.done)

		m.Sweep(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep(ctx)
			}
		}
	}()

	m.logger.Info("Health monitor started",
		zap.Duration("interval", m.interval),
		zap.Duration("probe_timeout", m.probeTimeout),
		zap.Int("demote_after", m.demoteAfter),
	)
}

// Stop cancels the loop and waits for the in-flight sweep to finish.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

// Sweep probes every balance-capable provider once and applies the outcomes.
// Probes run concurrently; application is serialized.
func (m *Monitor) Sweep(ctx context.Context) {
	providers := m.registry.List()

	results := make(chan probeResult, len(providers))
	var wg sync.WaitGroup

	probed := 0
	for _, p := range providers {
		if !p.SupportsBalance {
			continue
		}
		probed++

		wg.Add(1)
		go func(p model.Provider) {
			defer wg.Done()

			probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
			defer cancel()

			balance, err := m.probe(probeCtx, p)
			results <- probeResult{provider: p, balance: balance, err: err}
		}(p)
	}

	wg.Wait()
	close(results)

	for res := range results {
		m.apply(ctx, res)
	}

	m.logger.Debug("Health sweep completed", zap.Int("probed", probed))
}

func (m *Monitor) probe(ctx context.Context, p model.Provider) (float64, error) {
	checker, err := vendors.For(p.ProviderType)
	if err != nil {
		return 0, err
	}
	return checker.FetchBalance(ctx, m.client, p)
}

func (m *Monitor) apply(ctx context.Context, res probeResult) {
	id := res.provider.ID

	if res.err != nil {
		m.mu.Lock()
		m.failures[id]++
		count := m.failures[id]
		m.mu.Unlock()

		m.logger.Warn("Balance probe failed",
			zap.String("provider_id", id),
			zap.String("provider", res.provider.Name),
			zap.Int("consecutive_failures", count),
			zap.Error(res.err),
		)

		if count >= m.demoteAfter {
			m.registry.UpdateStatus(ctx, id, model.StatusInactive)
			m.logger.Warn("Provider demoted after repeated probe failures",
				zap.String("provider_id", id),
				zap.String("provider", res.provider.Name),
			)
		}
		return
	}

	m.mu.Lock()
	delete(m.failures, id)
	m.mu.Unlock()

	m.registry.UpdateBalance(ctx, id, res.balance, time.Now().UTC())

	m.logger.Debug("Balance refreshed",
		zap.String("provider_id", id),
		zap.String("provider", res.provider.Name),
		zap.Float64("balance", res.balance),
	)
}

// Failures reports the current consecutive-failure count for a provider.
func (m *Monitor) Failures(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[id]
}
