// Package chaintest is an in-memory stand-in for the custody contracts. It
// keeps the approval, execution, threshold, pause and duplicate-approver
// rules of the real contracts and fails with the same *chain.Error codes.
package chaintest

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/omnibus_custody/chain"
)

var (
	OwnerAddress   = common.HexToAddress("0x000000000000000000000000000000000000a0a0")
	TSSAddress     = common.HexToAddress("0x000000000000000000000000000000000000b0b0")
	OmnibusAddress = common.HexToAddress("0x000000000000000000000000000000000000c0c0")
	ColdAddress    = common.HexToAddress("0x000000000000000000000000000000000000d0d0")
	GuardAddress   = common.HexToAddress("0x000000000000000000000000000000000000e0e0")
)

var genesis = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type transfer struct {
	tx     chain.Transfer
	status uint64
}

// Chain is the shared world the fake contracts live in.
type Chain struct {
	mu sync.Mutex

	block     uint64
	seq       uint64
	balances  map[common.Address]*big.Int
	transfers map[common.Hash]*transfer
	pending   map[common.Hash]*transfer
	failures  map[string][]error
	pendNext  map[string]int
	calls     map[string]int

	Omnibus *Omnibus
	Cold    *ColdVault
	Guard   *Guard
}

func New() *Chain {
	c := &Chain{
		block:     1,
		balances:  map[common.Address]*big.Int{},
		transfers: map[common.Hash]*transfer{},
		pending:   map[common.Hash]*transfer{},
		failures:  map[string][]error{},
		pendNext:  map[string]int{},
		calls:     map[string]int{},
	}
	c.Omnibus = &Omnibus{c: c, txs: map[common.Hash]*chain.WithdrawalRequest{}, executions: map[common.Hash]*chain.Execution{}}
	c.Cold = &ColdVault{c: c, moves: map[common.Hash]*chain.Move{}}
	c.Guard = &Guard{c: c, wl: map[common.Hash]map[common.Address]bool{}, limits: map[common.Hash]*chain.DailyLimit{}}
	c.Omnibus.guard = c.Guard
	return c
}

// FailNext makes the next call of op fail with err before touching state.
// op is an operation name such as "omnibus.execute"; "cold.approveMove/tss"
// targets a single seat.
func (c *Chain) FailNext(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[op] = append(c.failures[op], err)
}

// PendNext makes the next call of op apply its state change but report
// chain.CodePending, as if the receipt never arrived.
func (c *Chain) PendNext(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendNext[op]++
}

// Calls reports how often op was invoked, failures included. "op/seat"
// counts a single seat.
func (c *Chain) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// ConfirmPending mines every transaction reported as pending.
func (c *Chain) ConfirmPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for h, t := range c.pending {
		c.transfers[h] = t
		delete(c.pending, h)
	}
	for _, e := range c.Omnibus.executions {
		if e.Pending {
			e.Pending = false
		}
	}
}

func (c *Chain) SetBalance(addr common.Address, wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[addr] = new(big.Int).Set(wei)
}

// Fund credits the omnibus contract directly.
func (c *Chain) Fund(wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credit(OmnibusAddress, wei)
}

func (c *Chain) begin(op string, seat chain.Seat) error {
	c.calls[op]++
	c.calls[op+"/"+seat.String()]++
	for _, key := range []string{op + "/" + seat.String(), op} {
		if q := c.failures[key]; len(q) > 0 {
			c.failures[key] = q[1:]
			return q[0]
		}
	}
	return nil
}

// finish mines (or parks as pending) a transaction for op.
func (c *Chain) finish(op string, seat chain.Seat, to common.Address, value *big.Int, logs []*types.Log) (*chain.Receipt, error) {
	c.seq++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], c.seq)
	hash := crypto.Keccak256Hash([]byte(op), buf[:])

	c.block++
	from := OwnerAddress
	if seat == chain.SeatTSS {
		from = TSSAddress
	}
	if value == nil {
		value = new(big.Int)
	}
	for _, l := range logs {
		l.TxHash = hash
		l.BlockNumber = c.block
	}
	rcpt := &chain.Receipt{
		TxHash:            hash,
		From:              from,
		BlockNumber:       c.block,
		BlockHash:         crypto.Keccak256Hash(buf[:], []byte("block")),
		GasUsed:           50_000,
		EffectiveGasPrice: big.NewInt(2_000_000_000),
		Status:            types.ReceiptStatusSuccessful,
		Logs:              logs,
	}
	toAddr := to
	t := &transfer{
		tx: chain.Transfer{
			Hash:      hash,
			From:      from,
			To:        &toAddr,
			Value:     new(big.Int).Set(value),
			Receipt:   rcpt,
			BlockTime: c.blockTime(c.block),
		},
		status: types.ReceiptStatusSuccessful,
	}
	if c.pendNext[op] > 0 {
		c.pendNext[op]--
		c.pending[hash] = t
		return nil, &chain.Error{Op: op, Code: chain.CodePending, TxHash: hash, Err: chain.ErrReceiptTimeout}
	}
	c.transfers[hash] = t
	return rcpt, nil
}

func (c *Chain) blockTime(n uint64) time.Time {
	return genesis.Add(time.Duration(n) * 12 * time.Second)
}

func (c *Chain) balance(addr common.Address) *big.Int {
	if b, ok := c.balances[addr]; ok {
		return b
	}
	return new(big.Int)
}

func (c *Chain) credit(addr common.Address, v *big.Int) {
	c.balances[addr] = new(big.Int).Add(c.balance(addr), v)
}

func (c *Chain) debit(addr common.Address, v *big.Int) bool {
	bal := c.balance(addr)
	if bal.Cmp(v) < 0 {
		return false
	}
	c.balances[addr] = new(big.Int).Sub(bal, v)
	return true
}

func revert(op string, code chain.Code, name string) error {
	return &chain.Error{Op: op, Code: code, Revert: name, Err: fmt.Errorf("execution reverted: %s", name)}
}

func (c *Chain) BalanceAt(_ context.Context, addr common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.balance(addr)), nil
}

func (c *Chain) LatestBlock(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block, nil
}

func (c *Chain) BlockTime(_ context.Context, n uint64) (time.Time, error) {
	return c.blockTime(n), nil
}

func (c *Chain) Transfer(_ context.Context, hash common.Hash) (*chain.Transfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.transfers[hash]; ok {
		out := t.tx
		if out.Receipt != nil {
			r := *out.Receipt
			r.Status = t.status
			out.Receipt = &r
		}
		return &out, nil
	}
	if t, ok := c.pending[hash]; ok {
		out := t.tx
		out.Pending = true
		out.Receipt = nil
		return &out, nil
	}
	return nil, chain.ErrTxNotFound
}

// SendValue records a plain value transfer and returns its hash. A failed
// status models a mined transaction that reverted.
func (c *Chain) SendValue(from, to common.Address, value *big.Int, failed bool) common.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], c.seq)
	hash := crypto.Keccak256Hash([]byte("transfer"), buf[:])
	c.block++
	status := types.ReceiptStatusSuccessful
	if failed {
		status = types.ReceiptStatusFailed
	} else {
		c.credit(to, value)
	}
	toAddr := to
	c.transfers[hash] = &transfer{
		tx: chain.Transfer{
			Hash: hash, From: from, To: &toAddr, Value: new(big.Int).Set(value),
			Receipt: &chain.Receipt{
				TxHash: hash, From: from, BlockNumber: c.block, GasUsed: 21_000,
				EffectiveGasPrice: big.NewInt(1_000_000_000), Status: status,
			},
			BlockTime: c.blockTime(c.block),
		},
		status: status,
	}
	return hash
}

// SendPending records a transfer that is known to the node but not mined.
func (c *Chain) SendPending(from, to common.Address, value *big.Int) common.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	hash := crypto.Keccak256Hash([]byte("pending"), new(big.Int).SetUint64(c.seq).Bytes())
	toAddr := to
	c.pending[hash] = &transfer{tx: chain.Transfer{Hash: hash, From: from, To: &toAddr, Value: new(big.Int).Set(value)}}
	return hash
}
