// Package chains holds the static chain and asset configuration tables.
// The registry is loaded once at process start and is read-only afterwards;
// every component receives it by reference.
package chains

import "time"

// EVMChain describes one EVM-compatible source or destination chain.
type EVMChain struct {
	// ID is the canonical lower-case chain identifier (e.g. "ethereum").
	ID string `yaml:"id"`
	// Name is a human-readable chain name.
	Name string `yaml:"name"`
	// ChainID is the numeric EVM chain id.
	ChainID uint64 `yaml:"chain_id"`
	// RPCEndpoint is the HTTP(S) JSON-RPC endpoint URL.
	RPCEndpoint string `yaml:"rpc_endpoint"`
	// GatewayAddress is the gateway contract checked for command execution.
	GatewayAddress string `yaml:"gateway_address"`
	// RPCTimeout bounds each RPC call.
	RPCTimeout time.Duration `yaml:"rpc_timeout,omitempty"`
}

// CosmosChain describes one Cosmos-SDK chain reachable over LCD.
type CosmosChain struct {
	ID string `yaml:"id"`
	// Name is a human-readable chain name.
	Name string `yaml:"name"`
	// AddressPrefix is the bech32 account prefix used to attribute senders.
	AddressPrefix string `yaml:"address_prefix"`
	// LCDEndpoints are tried in order until one answers.
	LCDEndpoints []string `yaml:"lcd_endpoints"`
	// Overrides lists alternative chain identities served through specific
	// LCD endpoints (a chain that migrated or runs under several ids).
	Overrides []ChainOverride `yaml:"overrides,omitempty"`
}

// ChainOverride maps a subset of a chain's LCD endpoints to another chain id.
type ChainOverride struct {
	ID           string   `yaml:"id"`
	LCDEndpoints []string `yaml:"lcd_endpoints,omitempty"`
}

// AssetContract is an asset's ERC-20 deployment on one EVM chain.
type AssetContract struct {
	ChainID  uint64 `yaml:"chain_id"`
	Address  string `yaml:"contract_address"`
	Decimals int    `yaml:"decimals,omitempty"`
}

// AssetIBC is an asset's IBC representation on one Cosmos chain.
type AssetIBC struct {
	ChainID  string `yaml:"chain_id"`
	IBCDenom string `yaml:"ibc_denom"`
	Decimals int    `yaml:"decimals,omitempty"`
}

// Asset describes one cross-chain asset and where it lives.
type Asset struct {
	// ID is the hub denom (e.g. "uusdc").
	ID string `yaml:"id"`
	// Symbol is the display symbol (e.g. "USDC").
	Symbol string `yaml:"symbol"`
	// Decimals is the default precision when no per-chain entry matches.
	Decimals  int             `yaml:"decimals,omitempty"`
	Contracts []AssetContract `yaml:"contracts,omitempty"`
	IBC       []AssetIBC      `yaml:"ibc,omitempty"`
}

// Config is the complete static chain/asset configuration.
type Config struct {
	// Hub is the id of the hub chain coordinating confirmations.
	Hub string `yaml:"hub"`
	// EVM chains are searched in configured order.
	EVM    []EVMChain    `yaml:"evm"`
	Cosmos []CosmosChain `yaml:"cosmos"`
	Assets []Asset       `yaml:"assets"`
	// VolatileDenoms always force a price refresh (de-pegged assets).
	VolatileDenoms []string `yaml:"volatile_denoms,omitempty"`
}
