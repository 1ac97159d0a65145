package chainconfig

import (
	"context"
	"fmt"
	"slices"

	"github.com/Rebalancy/agent-contracts/internal/domain"
)

// Registry is an immutable in-memory chain lookup, used for dry runs and
// scenarios that never touch a database.
type Registry struct {
	chains map[domain.ChainID]domain.ChainConfig
}

// NewRegistry indexes configs by chain ID. Duplicates are rejected.
func NewRegistry(configs ...domain.ChainConfig) (*Registry, error) {
	r := &Registry{chains: make(map[domain.ChainID]domain.ChainConfig, len(configs))}
	for _, c := range configs {
		if _, ok := r.chains[c.ChainID]; ok {
			return nil, fmt.Errorf("duplicate chain_id %d", c.ChainID)
		}
		r.chains[c.ChainID] = c
	}
	return r, nil
}

// ChainConfig returns the configuration for id or ErrNotConfigured.
func (r *Registry) ChainConfig(_ context.Context, id domain.ChainID) (domain.ChainConfig, error) {
	c, ok := r.chains[id]
	if !ok {
		return domain.ChainConfig{}, fmt.Errorf("chain %d: %w", id, ErrNotConfigured)
	}
	return c, nil
}

// IsSupported reports whether id has a configuration.
func (r *Registry) IsSupported(_ context.Context, id domain.ChainID) (bool, error) {
	_, ok := r.chains[id]
	return ok, nil
}

// All returns every configuration ordered by chain ID.
func (r *Registry) All() []domain.ChainConfig {
	out := make([]domain.ChainConfig, 0, len(r.chains))
	for _, c := range r.chains {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b domain.ChainConfig) int {
		switch {
		case a.ChainID < b.ChainID:
			return -1
		case a.ChainID > b.ChainID:
			return 1
		}
		return 0
	})
	return out
}
