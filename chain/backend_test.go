package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// revertErr mimics the rpc error geth returns for a reverted call.
type revertErr struct{ data []byte }

func (e revertErr) Error() string          { return "execution reverted" }
func (e revertErr) ErrorData() interface{} { return hexutil.Encode(e.data) }

func errorSelector(name string) []byte {
	if e, ok := omnibusABI.Errors[name]; ok {
		return e.ID[:4]
	}
	if e, ok := coldABI.Errors[name]; ok {
		return e.ID[:4]
	}
	ge := guardABI.Errors[name]
	return ge.ID[:4]
}

type fakeBackend struct {
	mu sync.Mutex

	chainID  *big.Int
	head     uint64
	sent     []*types.Transaction
	txs      map[common.Hash]*types.Transaction
	receipts map[common.Hash]*types.Receipt
	logs     []types.Log

	autoMine    bool
	mineStatus  uint64
	receiptLogs func(tx *types.Transaction) []*types.Log
	estimateErr error
	filterErr   error
	filterCalls int
	callFn      func(msg ethereum.CallMsg, block *big.Int) ([]byte, error)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainID:    big.NewInt(1337),
		head:       100,
		txs:        map[common.Hash]*types.Transaction{},
		receipts:   map[common.Hash]*types.Receipt{},
		autoMine:   true,
		mineStatus: types.ReceiptStatusSuccessful,
	}
}

func (b *fakeBackend) ChainID(context.Context) (*big.Int, error) { return b.chainID, nil }

func (b *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.head, nil
}

func (b *fakeBackend) HeaderByNumber(_ context.Context, n *big.Int) (*types.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	num := new(big.Int).SetUint64(b.head)
	if n != nil {
		num = new(big.Int).Set(n)
	}
	return &types.Header{Number: num, BaseFee: big.NewInt(1_000_000_000), Time: 1_700_000_000 + num.Uint64()*12}, nil
}

func (b *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return big.NewInt(42), nil
}

func (b *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	if b.callFn == nil {
		return nil, nil
	}
	return b.callFn(msg, block)
}

func (b *fakeBackend) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n uint64
	signer := types.LatestSignerForChainID(b.chainID)
	for _, tx := range b.sent {
		if from, _ := types.Sender(signer, tx); from == account {
			n++
		}
	}
	return n, nil
}

func (b *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(2), nil }

func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if b.estimateErr != nil {
		return 0, b.estimateErr
	}
	return 50_000, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, tx)
	b.txs[tx.Hash()] = tx
	if b.autoMine {
		b.head++
		r := &types.Receipt{
			TxHash:            tx.Hash(),
			Status:            b.mineStatus,
			BlockNumber:       new(big.Int).SetUint64(b.head),
			GasUsed:           40_000,
			EffectiveGasPrice: big.NewInt(1_000_000_002),
		}
		if b.receiptLogs != nil {
			r.Logs = b.receiptLogs(tx)
		}
		b.receipts[tx.Hash()] = r
	}
	return nil
}

func (b *fakeBackend) TransactionByHash(_ context.Context, h common.Hash) (*types.Transaction, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tx, ok := b.txs[h]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	_, mined := b.receipts[h]
	return tx, !mined, nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.receipts[h]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (b *fakeBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filterCalls++
	if b.filterErr != nil {
		return nil, b.filterErr
	}
	var out []types.Log
	for _, l := range b.logs {
		if l.BlockNumber < q.FromBlock.Uint64() || l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (b *fakeBackend) sentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

var errTest = errors.New("test failure")
