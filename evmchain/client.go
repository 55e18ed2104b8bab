// Package evmchain provides per-chain EVM providers used to reconstruct
// source legs and check gateway command execution.
package evmchain

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/hubscan/reconciler-go/cache"
	"github.com/hubscan/reconciler-go/chains"
)

// TxInfo is the normalized view of an origin-chain transaction.
type TxInfo struct {
	Hash        string
	From        string
	To          string
	Input       []byte
	BlockNumber uint64
	// Pending is set when the transaction is known but not yet mined.
	// A pending transaction yields no source leg.
	Pending bool
}

// LogInfo is one receipt log with hex-encoded topics and data.
type LogInfo struct {
	Address string
	Topics  []string
	Data    string
}

// Provider is the read-only EVM chain collaborator.
type Provider interface {
	// TxByHash returns the transaction, or nil when the chain does not
	// know the hash.
	TxByHash(ctx context.Context, hash string) (*TxInfo, error)
	// ReceiptLogs returns the logs of a mined transaction's receipt.
	ReceiptLogs(ctx context.Context, hash string) ([]LogInfo, error)
	// BlockTimestamp returns the unix-second timestamp of a block.
	BlockTimestamp(ctx context.Context, number uint64) (int64, error)
	// IsCommandExecuted checks the gateway contract for a command id.
	IsCommandExecuted(ctx context.Context, commandID string) (bool, error)
}

// Source resolves a Provider by chain id.
type Source interface {
	ForChain(id string) (Provider, bool)
}

// Minimal gateway ABI: the execution-check entry point only.
const gatewayABIJSON = `[{"inputs":[{"internalType":"bytes32","name":"commandId","type":"bytes32"}],"name":"isCommandExecuted","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"}]`

// Client implements Provider over an ethclient connection.
type Client struct {
	chain      chains.EVMChain
	eth        *ethclient.Client
	signer     types.Signer
	gatewayABI abi.ABI
	cache      *cache.Cache
	timeout    time.Duration
	logger     *zap.Logger
}

// NewClient dials the chain's RPC endpoint.
func NewClient(chain chains.EVMChain, cch *cache.Cache, logger *zap.Logger) (*Client, error) {
	if chain.RPCEndpoint == "" {
		return nil, fmt.Errorf("chain %q: rpc endpoint cannot be empty", chain.ID)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	eth, err := ethclient.Dial(chain.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s RPC: %w", chain.ID, err)
	}

	gatewayABI, err := abi.JSON(strings.NewReader(gatewayABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse gateway abi: %w", err)
	}

	timeout := chain.RPCTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	logger.Info("connected to EVM chain",
		zap.String("chain", chain.ID),
		zap.Uint64("chainId", chain.ChainID))

	return &Client{
		chain:      chain,
		eth:        eth,
		signer:     types.LatestSignerForChainID(new(big.Int).SetUint64(chain.ChainID)),
		gatewayABI: gatewayABI,
		cache:      cch,
		timeout:    timeout,
		logger:     logger.With(zap.String("chain", chain.ID)),
	}, nil
}

// Close closes the RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// TxByHash fetches a transaction and resolves its sender and inclusion
// height.
func (c *Client) TxByHash(ctx context.Context, hash string) (*TxInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tx, pending, err := c.eth.TransactionByHash(ctx, common.HexToHash(hash))
	if err != nil {
		if err == ethereum.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get transaction %s: %w", hash, err)
	}

	info := &TxInfo{
		Hash:    tx.Hash().Hex(),
		Input:   tx.Data(),
		Pending: pending,
	}
	if to := tx.To(); to != nil {
		info.To = to.Hex()
	}
	if from, err := types.Sender(c.signer, tx); err == nil {
		info.From = from.Hex()
	}

	if !pending {
		receipt, err := c.eth.TransactionReceipt(ctx, tx.Hash())
		if err != nil {
			return nil, fmt.Errorf("get receipt for %s: %w", hash, err)
		}
		info.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return info, nil
}

// ReceiptLogs returns the receipt logs of a mined transaction.
func (c *Client) ReceiptLogs(ctx context.Context, hash string) ([]LogInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	receipt, err := c.eth.TransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		return nil, fmt.Errorf("get receipt for %s: %w", hash, err)
	}

	logs := make([]LogInfo, 0, len(receipt.Logs))
	for _, l := range receipt.Logs {
		info := LogInfo{
			Address: l.Address.Hex(),
			Data:    hexutil.Encode(l.Data),
			Topics:  make([]string, 0, len(l.Topics)),
		}
		for _, t := range l.Topics {
			info.Topics = append(info.Topics, t.Hex())
		}
		logs = append(logs, info)
	}
	return logs, nil
}

// BlockTimestamp returns the unix timestamp of a block, read through the
// local cache since block timestamps never change.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (int64, error) {
	key := fmt.Sprintf("bt/%d/%d", c.chain.ChainID, number)
	if raw, ok := c.cache.Get(key); ok {
		if ts, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
			return ts, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	header, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, fmt.Errorf("get block %d header: %w", number, err)
	}

	ts := int64(header.Time)
	c.cache.Set(key, []byte(strconv.FormatInt(ts, 10)))
	return ts, nil
}

// IsCommandExecuted asks the gateway contract whether a command id has
// been executed on chain.
func (c *Client) IsCommandExecuted(ctx context.Context, commandID string) (bool, error) {
	if c.chain.GatewayAddress == "" {
		return false, fmt.Errorf("chain %q has no gateway address", c.chain.ID)
	}

	var id [32]byte
	raw, err := hexutil.Decode(withHexPrefix(commandID))
	if err != nil || len(raw) != 32 {
		return false, fmt.Errorf("invalid command id %q", commandID)
	}
	copy(id[:], raw)

	input, err := c.gatewayABI.Pack("isCommandExecuted", id)
	if err != nil {
		return false, fmt.Errorf("pack isCommandExecuted: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	gateway := common.HexToAddress(c.chain.GatewayAddress)
	output, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &gateway, Data: input}, nil)
	if err != nil {
		return false, fmt.Errorf("call isCommandExecuted: %w", err)
	}

	results, err := c.gatewayABI.Unpack("isCommandExecuted", output)
	if err != nil {
		return false, fmt.Errorf("unpack isCommandExecuted: %w", err)
	}
	executed, _ := results[0].(bool)
	return executed, nil
}

func withHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") {
		return s
	}
	return "0x" + s
}

// Providers holds one connected client per configured EVM chain.
type Providers struct {
	clients map[string]*Client
}

// NewProviders dials every configured EVM chain.
func NewProviders(reg *chains.Registry, cch *cache.Cache, logger *zap.Logger) (*Providers, error) {
	p := &Providers{clients: make(map[string]*Client)}
	for _, chain := range reg.EVMChains() {
		client, err := NewClient(chain, cch, logger)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.clients[chain.ID] = client
	}
	return p, nil
}

// ForChain implements Source.
func (p *Providers) ForChain(id string) (Provider, bool) {
	c, ok := p.clients[strings.ToLower(id)]
	return c, ok
}

// Close closes all chain connections.
func (p *Providers) Close() {
	for _, c := range p.clients {
		c.Close()
	}
}
