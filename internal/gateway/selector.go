package gateway

import (
	"sync"

	"github.com/Dolores18/api-manager/internal/store/model"
)

// Selection strategies.
const (
	StrategyBalanceWeighted = "balance_weighted"
	StrategyRoundRobin      = "round_robin"
)

// Providers that cannot report a balance still need a weight under the
// balance-weighted strategy.
const unmeteredWeight = 10

// Selector picks the next provider for a model. Both strategies are
// deterministic given the same candidate sequence, which keeps routing
// reproducible in tests and debuggable in production.
//
// balance_weighted runs smooth weighted round-robin with the account balance
// as the weight, so richer accounts take proportionally more traffic without
// the thundering-herd effect of always-pick-max. round_robin rotates a
// per-model cursor over the id-sorted candidates.
type Selector struct {
	strategy string

	mu      sync.Mutex
	credits map[string]map[string]float64 // model -> provider id -> wrr credit
	cursors map[string]int                // model -> rotation cursor
}

func NewSelector(strategy string) *Selector {
	return &Selector{
		strategy: strategy,
		credits:  make(map[string]map[string]float64),
		cursors:  make(map[string]int),
	}
}

// Next picks one provider from candidates. Candidates must be non-empty and
// id-sorted; the registry's Eligible guarantees both.
func (s *Selector) Next(modelName string, candidates []model.Provider) model.Provider {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.strategy == StrategyRoundRobin {
		return s.nextRoundRobin(modelName, candidates)
	}
	return s.nextWeighted(modelName, candidates)
}

func (s *Selector) nextRoundRobin(modelName string, candidates []model.Provider) model.Provider {
	cursor := s.cursors[modelName]
	picked := candidates[cursor%len(candidates)]
	s.cursors[modelName] = cursor + 1
	return picked
}

func (s *Selector) nextWeighted(modelName string, candidates []model.Provider) model.Provider {
	credits, ok := s.credits[modelName]
	if !ok {
		credits = make(map[string]float64)
		s.credits[modelName] = credits
	}

	var total float64
	best := -1
	for i, p := range candidates {
		w := weight(p)
		total += w
		credits[p.ID] += w

		// ties resolve to the lowest id via the sorted candidate order
		if best < 0 || credits[p.ID] > credits[candidates[best].ID] {
			best = i
		}
	}

	picked := candidates[best]
	credits[picked.ID] -= total
	return picked
}

func weight(p model.Provider) float64 {
	if !p.SupportsBalance {
		return unmeteredWeight
	}
	if p.Balance < 1 {
		return 1
	}
	return p.Balance
}
