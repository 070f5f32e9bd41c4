// Package chains maps chain ids to human readable display names.
package chains

import "sync"

// Registry is a keyed mapping from chain_id to display name. Lookups on
// unknown ids return the id unchanged so callers can always render something.
type Registry struct {
	mu    sync.RWMutex
	names map[string]string
}

// NewRegistry creates a registry seeded with the chains the indexer most
// commonly sees as counterparties.
func NewRegistry() *Registry {
	return &Registry{
		names: map[string]string{
			"bbn-1":          "Babylon Genesis",
			"bbn-test-5":     "Babylon Testnet",
			"osmosis-1":      "Osmosis",
			"osmo-test-5":    "Osmosis Testnet",
			"cosmoshub-4":    "Cosmos Hub",
			"noble-1":        "Noble",
			"neutron-1":      "Neutron",
			"axelar-dojo-1":  "Axelar",
			"stride-1":       "Stride",
			"injective-1":    "Injective",
			"juno-1":         "Juno",
			"atomone-1":      "AtomOne",
			"celestia":       "Celestia",
			"dydx-mainnet-1": "dYdX",
			"stargaze-1":     "Stargaze",
			"kava_2222-10":   "Kava",
			"secret-4":       "Secret Network",
			"akashnet-2":     "Akash",
		},
	}
}

// Resolve returns the display name for a chain id, or the id itself when
// the chain is not known.
func (r *Registry) Resolve(chainID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name, ok := r.names[chainID]; ok {
		return name
	}
	return chainID
}

// Register adds or replaces the display name for a chain id.
func (r *Registry) Register(chainID, name string) {
	if chainID == "" || name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[chainID] = name
}

// Known reports whether the chain id has an explicit entry.
func (r *Registry) Known(chainID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.names[chainID]
	return ok
}

// Len returns the number of registered chains.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}
