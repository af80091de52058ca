package vendors

import (
	"context"
	"fmt"
	"sync"

	"github.com/Dolores18/api-manager/internal/httpclient"
	"github.com/Dolores18/api-manager/internal/store/model"
)

// BalanceChecker is the per-vendor capability for querying an account's
// remaining balance. Vendors with different payload shapes get their own
// implementation; the health monitor stays vendor-agnostic.
type BalanceChecker interface {
	Type() string
	FetchBalance(ctx context.Context, client httpclient.HTTPClient, p model.Provider) (float64, error)
}

// Constructor builds a checker. Registered from each vendor package's init().
type Constructor func() BalanceChecker

var (
	mu       sync.RWMutex
	registry = make(map[string]Constructor)
)

// Register makes a vendor checker available under its provider_type tag.
func Register(providerType string, fn Constructor) {
	mu.Lock()
	defer mu.Unlock()
	registry[providerType] = fn
}

// For returns the checker for a provider_type tag.
func For(providerType string) (BalanceChecker, error) {
	mu.RLock()
	fn, ok := registry[providerType]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no balance checker registered for provider type '%s'", providerType)
	}
	return fn(), nil
}
