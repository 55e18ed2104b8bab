package chains

import (
	"fmt"
	"strings"

	"github.com/hubscan/reconciler-go/normalize"
)

// Default decimal precision when asset metadata carries none.
const (
	DefaultEVMDecimals    = 18
	DefaultCosmosDecimals = 6
)

// Registry provides immutable lookups over the configured chains and assets.
type Registry struct {
	hub            string
	evm            []EVMChain
	cosmos         []CosmosChain
	assets         []Asset
	evmByID        map[string]*EVMChain
	cosmosByID     map[string]*CosmosChain
	assetByID      map[string]*Asset
	volatileDenoms map[string]struct{}
}

// NewRegistry validates cfg and builds the lookup tables.
func NewRegistry(cfg *Config) (*Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Hub == "" {
		return nil, fmt.Errorf("hub chain id cannot be empty")
	}

	r := &Registry{
		hub:            normalize.Chain(cfg.Hub),
		evm:            append([]EVMChain(nil), cfg.EVM...),
		cosmos:         append([]CosmosChain(nil), cfg.Cosmos...),
		assets:         append([]Asset(nil), cfg.Assets...),
		evmByID:        make(map[string]*EVMChain),
		cosmosByID:     make(map[string]*CosmosChain),
		assetByID:      make(map[string]*Asset),
		volatileDenoms: make(map[string]struct{}),
	}

	for i := range r.evm {
		c := &r.evm[i]
		c.ID = normalize.Chain(c.ID)
		if c.ID == "" {
			return nil, fmt.Errorf("evm chain %d: id cannot be empty", i)
		}
		if c.RPCEndpoint == "" {
			return nil, fmt.Errorf("evm chain %q: rpc_endpoint cannot be empty", c.ID)
		}
		if _, ok := r.evmByID[c.ID]; ok {
			return nil, fmt.Errorf("duplicate evm chain id %q", c.ID)
		}
		r.evmByID[c.ID] = c
	}

	for i := range r.cosmos {
		c := &r.cosmos[i]
		c.ID = normalize.Chain(c.ID)
		if c.ID == "" {
			return nil, fmt.Errorf("cosmos chain %d: id cannot be empty", i)
		}
		if _, ok := r.cosmosByID[c.ID]; ok {
			return nil, fmt.Errorf("duplicate cosmos chain id %q", c.ID)
		}
		r.cosmosByID[c.ID] = c
	}

	if _, ok := r.cosmosByID[r.hub]; !ok {
		return nil, fmt.Errorf("hub chain %q not present in cosmos chains", r.hub)
	}

	for i := range r.assets {
		a := &r.assets[i]
		if a.ID == "" {
			return nil, fmt.Errorf("asset %d: id cannot be empty", i)
		}
		r.assetByID[strings.ToLower(a.ID)] = a
	}

	denoms := cfg.VolatileDenoms
	if denoms == nil {
		denoms = []string{"uluna"}
	}
	for _, d := range denoms {
		r.volatileDenoms[strings.ToLower(d)] = struct{}{}
	}

	return r, nil
}

// Hub returns the hub chain id.
func (r *Registry) Hub() string { return r.hub }

// EVMChains returns the EVM chains in configured search order.
func (r *Registry) EVMChains() []EVMChain { return r.evm }

// CosmosChains returns all Cosmos chains, hub included.
func (r *Registry) CosmosChains() []CosmosChain { return r.cosmos }

// CounterpartyCosmosChains returns the Cosmos chains excluding the hub.
func (r *Registry) CounterpartyCosmosChains() []CosmosChain {
	out := make([]CosmosChain, 0, len(r.cosmos))
	for _, c := range r.cosmos {
		if c.ID != r.hub {
			out = append(out, c)
		}
	}
	return out
}

// EVMChain looks up an EVM chain by id, case-insensitively.
func (r *Registry) EVMChain(id string) (*EVMChain, bool) {
	c, ok := r.evmByID[normalize.Chain(id)]
	return c, ok
}

// CosmosChain looks up a Cosmos chain by id, case-insensitively.
func (r *Registry) CosmosChain(id string) (*CosmosChain, bool) {
	c, ok := r.cosmosByID[normalize.Chain(id)]
	return c, ok
}

// IsEVMChain reports whether id names a configured EVM chain.
func (r *Registry) IsEVMChain(id string) bool {
	_, ok := r.evmByID[normalize.Chain(id)]
	return ok
}

// IsCosmosChain reports whether id names a configured Cosmos chain.
func (r *Registry) IsCosmosChain(id string) bool {
	_, ok := r.cosmosByID[normalize.Chain(id)]
	return ok
}

// EVMChainByPollID infers the source chain from a `{chain}_{txid}_{index}`
// shaped poll id.
func (r *Registry) EVMChainByPollID(pollID string) (*EVMChain, bool) {
	lower := strings.ToLower(pollID)
	for i := range r.evm {
		if strings.HasPrefix(lower, r.evm[i].ID+"_") {
			return &r.evm[i], true
		}
	}
	return nil, false
}

// CosmosChainByAddress attributes an account address to a counterparty chain
// by its bech32 prefix.
func (r *Registry) CosmosChainByAddress(addr string) (*CosmosChain, bool) {
	for _, c := range r.CounterpartyCosmosChains() {
		if c.AddressPrefix != "" && strings.HasPrefix(addr, c.AddressPrefix) {
			return r.cosmosByID[c.ID], true
		}
	}
	return nil, false
}

// Asset looks up an asset by hub denom.
func (r *Registry) Asset(denom string) (*Asset, bool) {
	a, ok := r.assetByID[strings.ToLower(denom)]
	return a, ok
}

// AssetByContract resolves the asset deployed at a contract address on an
// EVM chain.
func (r *Registry) AssetByContract(chainID uint64, address string) (*Asset, bool) {
	if address == "" {
		return nil, false
	}
	for i := range r.assets {
		for _, c := range r.assets[i].Contracts {
			if c.ChainID == chainID && normalize.EqualFold(c.Address, address) {
				return &r.assets[i], true
			}
		}
	}
	return nil, false
}

// AssetByDenom resolves an asset by hub denom or by its IBC denom on the
// given Cosmos chain.
func (r *Registry) AssetByDenom(chainID, denom string) (*Asset, bool) {
	if denom == "" {
		return nil, false
	}
	if a, ok := r.Asset(denom); ok {
		return a, true
	}
	chainID = normalize.Chain(chainID)
	for i := range r.assets {
		for _, ib := range r.assets[i].IBC {
			if normalize.Chain(ib.ChainID) == chainID && normalize.EqualFold(ib.IBCDenom, denom) {
				return &r.assets[i], true
			}
		}
	}
	return nil, false
}

// EVMDecimals resolves the precision of an asset on an EVM chain,
// defaulting to 18.
func (r *Registry) EVMDecimals(a *Asset, chainID uint64) int {
	if a == nil {
		return DefaultEVMDecimals
	}
	for _, c := range a.Contracts {
		if c.ChainID == chainID && c.Decimals > 0 {
			return c.Decimals
		}
	}
	if a.Decimals > 0 {
		return a.Decimals
	}
	return DefaultEVMDecimals
}

// CosmosDecimals resolves the precision of an asset on a Cosmos chain,
// defaulting to 6.
func (r *Registry) CosmosDecimals(a *Asset, chainID string) int {
	if a == nil {
		return DefaultCosmosDecimals
	}
	chainID = normalize.Chain(chainID)
	for _, ib := range a.IBC {
		if normalize.Chain(ib.ChainID) == chainID && ib.Decimals > 0 {
			return ib.Decimals
		}
	}
	if a.Decimals > 0 {
		return a.Decimals
	}
	return DefaultCosmosDecimals
}

// IsVolatileDenom reports whether denom always forces a price refresh.
func (r *Registry) IsVolatileDenom(denom string) bool {
	_, ok := r.volatileDenoms[strings.ToLower(denom)]
	return ok
}

// OverrideChainForEndpoint resolves the effective chain id for a sender
// chain served through a specific LCD endpoint. Falls back to the last
// declared override id, then the chain's own id.
func (c *CosmosChain) OverrideChainForEndpoint(endpoint string) string {
	for _, o := range c.Overrides {
		for _, e := range o.LCDEndpoints {
			if e == endpoint {
				return o.ID
			}
		}
	}
	if n := len(c.Overrides); n > 0 {
		return c.Overrides[n-1].ID
	}
	return c.ID
}

// HasOverride reports whether id is one of the chain's override identities.
func (c *CosmosChain) HasOverride(id string) bool {
	for _, o := range c.Overrides {
		if normalize.EqualFold(o.ID, id) {
			return true
		}
	}
	return false
}
