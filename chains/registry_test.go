package chains

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		Hub: "axelarnet",
		EVM: []EVMChain{
			{ID: "Ethereum", ChainID: 1, RPCEndpoint: "http://eth.rpc", GatewayAddress: "0xgateway1"},
			{ID: "avalanche", ChainID: 43114, RPCEndpoint: "http://avax.rpc"},
		},
		Cosmos: []CosmosChain{
			{ID: "axelarnet", AddressPrefix: "axelar", LCDEndpoints: []string{"http://hub.lcd"}},
			{ID: "osmosis", AddressPrefix: "osmo", LCDEndpoints: []string{"http://osmo.lcd"}},
			{
				ID:            "terra",
				AddressPrefix: "terra",
				LCDEndpoints:  []string{"http://terra.lcd"},
				Overrides: []ChainOverride{
					{ID: "terra-2", LCDEndpoints: []string{"http://terra2.lcd"}},
				},
			},
		},
		Assets: []Asset{
			{
				ID:       "uusdc",
				Symbol:   "USDC",
				Decimals: 6,
				Contracts: []AssetContract{
					{ChainID: 1, Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
				},
				IBC: []AssetIBC{
					{ChainID: "osmosis", IBCDenom: "ibc/DEADBEEF", Decimals: 6},
				},
			},
			{ID: "weth-wei", Symbol: "WETH"},
		},
	}
}

func TestNewRegistryValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing hub", mutate: func(c *Config) { c.Hub = "" }},
		{name: "hub not in cosmos chains", mutate: func(c *Config) { c.Hub = "unknown" }},
		{name: "empty evm id", mutate: func(c *Config) { c.EVM[0].ID = "" }},
		{name: "missing rpc endpoint", mutate: func(c *Config) { c.EVM[0].RPCEndpoint = "" }},
		{name: "duplicate evm id", mutate: func(c *Config) { c.EVM[1].ID = "ethereum" }},
		{name: "duplicate cosmos id", mutate: func(c *Config) { c.Cosmos[1].ID = "Axelarnet" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			_, err := NewRegistry(cfg)
			assert.Error(t, err)
		})
	}

	_, err := NewRegistry(nil)
	assert.Error(t, err)
}

func TestRegistryLookups(t *testing.T) {
	r, err := NewRegistry(testConfig())
	require.NoError(t, err)

	c, ok := r.EVMChain("ETHEREUM")
	require.True(t, ok)
	assert.Equal(t, uint64(1), c.ChainID)

	assert.True(t, r.IsEVMChain("avalanche"))
	assert.False(t, r.IsEVMChain("osmosis"))
	assert.True(t, r.IsCosmosChain("osmosis"))

	byPoll, ok := r.EVMChainByPollID("ethereum_0xabc_17")
	require.True(t, ok)
	assert.Equal(t, "ethereum", byPoll.ID)
	_, ok = r.EVMChainByPollID("unknown_0xabc_17")
	assert.False(t, ok)

	byAddr, ok := r.CosmosChainByAddress("osmo1sender")
	require.True(t, ok)
	assert.Equal(t, "osmosis", byAddr.ID)
	// Hub prefix never attributes a counterparty chain.
	_, ok = r.CosmosChainByAddress("axelar1deposit")
	assert.False(t, ok)

	assert.Len(t, r.CounterpartyCosmosChains(), 2)
}

func TestRegistryAssets(t *testing.T) {
	r, err := NewRegistry(testConfig())
	require.NoError(t, err)

	a, ok := r.AssetByContract(1, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	require.True(t, ok)
	assert.Equal(t, "uusdc", a.ID)
	_, ok = r.AssetByContract(43114, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	assert.False(t, ok)

	a, ok = r.AssetByDenom("osmosis", "ibc/DEADBEEF")
	require.True(t, ok)
	assert.Equal(t, "uusdc", a.ID)
	a, ok = r.AssetByDenom("terra", "uusdc")
	require.True(t, ok)
	assert.Equal(t, "uusdc", a.ID)

	assert.Equal(t, 6, r.EVMDecimals(a, 1))
	assert.Equal(t, 6, r.CosmosDecimals(a, "osmosis"))

	weth, _ := r.Asset("weth-wei")
	assert.Equal(t, DefaultEVMDecimals, r.EVMDecimals(weth, 1))
	assert.Equal(t, DefaultCosmosDecimals, r.CosmosDecimals(weth, "osmosis"))
	assert.Equal(t, DefaultEVMDecimals, r.EVMDecimals(nil, 1))

	assert.True(t, r.IsVolatileDenom("uluna"))
	assert.False(t, r.IsVolatileDenom("uusdc"))
}

func TestOverrideChainForEndpoint(t *testing.T) {
	r, err := NewRegistry(testConfig())
	require.NoError(t, err)

	terra, ok := r.CosmosChain("terra")
	require.True(t, ok)

	assert.Equal(t, "terra-2", terra.OverrideChainForEndpoint("http://terra2.lcd"))
	// Unmatched endpoints fall back to the last override.
	assert.Equal(t, "terra-2", terra.OverrideChainForEndpoint("http://other.lcd"))
	assert.True(t, terra.HasOverride("terra-2"))

	osmo, _ := r.CosmosChain("osmosis")
	assert.Equal(t, "osmosis", osmo.OverrideChainForEndpoint("http://osmo.lcd"))
	assert.False(t, osmo.HasOverride("osmosis-2"))
}
