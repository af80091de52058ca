package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Dolores18/api-manager/internal/store/model"
)

func candidate(id, name string, balance float64, supportsBalance bool) model.Provider {
	return model.Provider{
		ID:              id,
		Name:            name,
		Balance:         balance,
		SupportsBalance: supportsBalance,
		Status:          model.StatusActive,
		ModelName:       "gpt-4",
	}
}

func TestSelector_RoundRobinRotates(t *testing.T) {
	s := NewSelector(StrategyRoundRobin)
	candidates := []model.Provider{
		candidate("a", "a", 1, true),
		candidate("b", "b", 1, true),
		candidate("c", "c", 1, true),
	}

	var picks []string
	for i := 0; i < 6; i++ {
		picks = append(picks, s.Next("gpt-4", candidates).ID)
	}

	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, picks)
}

func TestSelector_RoundRobinCursorPerModel(t *testing.T) {
	s := NewSelector(StrategyRoundRobin)
	candidates := []model.Provider{
		candidate("a", "a", 1, true),
		candidate("b", "b", 1, true),
	}

	assert.Equal(t, "a", s.Next("gpt-4", candidates).ID)
	assert.Equal(t, "a", s.Next("claude-3", candidates).ID)
	assert.Equal(t, "b", s.Next("gpt-4", candidates).ID)
}

func TestSelector_WeightedFavorsHigherBalance(t *testing.T) {
	s := NewSelector(StrategyBalanceWeighted)
	candidates := []model.Provider{
		candidate("rich", "rich", 30, true),
		candidate("poor", "poor", 10, true),
	}

	counts := map[string]int{}
	for i := 0; i < 40; i++ {
		counts[s.Next("gpt-4", candidates).ID]++
	}

	// weights 30:10 over 40 picks land exactly on the ratio
	assert.Equal(t, 30, counts["rich"])
	assert.Equal(t, 10, counts["poor"])
}

func TestSelector_WeightedIsDeterministic(t *testing.T) {
	candidates := []model.Provider{
		candidate("a", "a", 20, true),
		candidate("b", "b", 10, true),
	}

	run := func() []string {
		s := NewSelector(StrategyBalanceWeighted)
		var picks []string
		for i := 0; i < 9; i++ {
			picks = append(picks, s.Next("gpt-4", candidates).ID)
		}
		return picks
	}

	assert.Equal(t, run(), run())
}

func TestSelector_WeightedSpreadsNotGreedy(t *testing.T) {
	s := NewSelector(StrategyBalanceWeighted)
	candidates := []model.Provider{
		candidate("rich", "rich", 100, true),
		candidate("poor", "poor", 50, true),
	}

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		seen[s.Next("gpt-4", candidates).ID] = true
	}

	// even a much richer account must not monopolize the rotation
	assert.True(t, seen["poor"])
}

func TestSelector_UnmeteredGetsFixedWeight(t *testing.T) {
	s := NewSelector(StrategyBalanceWeighted)
	candidates := []model.Provider{
		candidate("metered", "metered", 10, true),
		candidate("unmetered", "unmetered", 0, false),
	}

	counts := map[string]int{}
	for i := 0; i < 20; i++ {
		counts[s.Next("gpt-4", candidates).ID]++
	}

	// fixed weight 10 vs balance 10 splits evenly
	assert.Equal(t, 10, counts["metered"])
	assert.Equal(t, 10, counts["unmetered"])
}

func TestSelector_SingleCandidate(t *testing.T) {
	s := NewSelector(StrategyBalanceWeighted)
	candidates := []model.Provider{candidate("only", "only", 5, true)}

	for i := 0; i < 3; i++ {
		assert.Equal(t, "only", s.Next("gpt-4", candidates).ID)
	}
}
