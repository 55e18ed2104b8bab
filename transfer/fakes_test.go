package transfer

import (
	"context"
	"strings"

	"github.com/hubscan/reconciler-go/evmchain"
	"github.com/hubscan/reconciler-go/hub"
)

type fakeProvider struct {
	txs        map[string]*evmchain.TxInfo
	logs       map[string][]evmchain.LogInfo
	blockTimes map[uint64]int64
	executed   map[string]bool
}

func (p *fakeProvider) TxByHash(_ context.Context, hash string) (*evmchain.TxInfo, error) {
	return p.txs[strings.ToLower(hash)], nil
}

func (p *fakeProvider) ReceiptLogs(_ context.Context, hash string) ([]evmchain.LogInfo, error) {
	return p.logs[strings.ToLower(hash)], nil
}

func (p *fakeProvider) BlockTimestamp(_ context.Context, number uint64) (int64, error) {
	return p.blockTimes[number], nil
}

func (p *fakeProvider) IsCommandExecuted(_ context.Context, commandID string) (bool, error) {
	return p.executed[strings.ToLower(commandID)], nil
}

type fakeEVM map[string]*fakeProvider

func (f fakeEVM) ForChain(id string) (evmchain.Provider, bool) {
	p, ok := f[id]
	return p, ok
}

type fakeCosmosTx struct {
	tx       *hub.TxResult
	endpoint string
}

func (f *fakeCosmosTx) TxByHash(context.Context, string) (*hub.TxResult, string, error) {
	return f.tx, f.endpoint, nil
}
