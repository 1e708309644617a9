// Package chain talks to the Omnibus, ColdVault and PolicyGuard contracts over
// JSON-RPC.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/omnibus_custody/keys"
)

// Backend is the subset of ethclient.Client used here.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

type Config struct {
	RPCURL         string
	ChainID        int64
	Omnibus        common.Address
	ColdVault      common.Address
	Guard          common.Address
	ReceiptTimeout time.Duration
	ReceiptPoll    time.Duration
}

// Client owns the RPC connection, the seat signers and per-sender send locks.
type Client struct {
	backend        Backend
	closer         func()
	chainID        *big.Int
	signers        map[Seat]keys.Signer
	receiptTimeout time.Duration
	receiptPoll    time.Duration
	log            zerolog.Logger

	mu    sync.Mutex
	locks map[common.Address]*sync.Mutex

	omnibus *Omnibus
	cold    *ColdVault
	guard   *Guard
}

// Dial connects to cfg.RPCURL and checks the node serves cfg.ChainID.
func Dial(ctx context.Context, cfg Config, signers map[Seat]keys.Signer, log zerolog.Logger) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	id, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("chain id: %w", err)
	}
	if cfg.ChainID != 0 && id.Int64() != cfg.ChainID {
		ec.Close()
		return nil, fmt.Errorf("%w: rpc=%s config=%d", ErrChainIDMismatch, id, cfg.ChainID)
	}
	c := NewClient(ec, id, cfg, signers, log)
	c.closer = ec.Close
	return c, nil
}

func NewClient(backend Backend, chainID *big.Int, cfg Config, signers map[Seat]keys.Signer, log zerolog.Logger) *Client {
	if cfg.ReceiptTimeout == 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	if cfg.ReceiptPoll == 0 {
		cfg.ReceiptPoll = time.Second
	}
	c := &Client{
		backend:        backend,
		chainID:        chainID,
		signers:        signers,
		receiptTimeout: cfg.ReceiptTimeout,
		receiptPoll:    cfg.ReceiptPoll,
		log:            log.With().Str("component", "chain").Logger(),
		locks:          make(map[common.Address]*sync.Mutex),
	}
	c.omnibus = &Omnibus{c: c, addr: cfg.Omnibus}
	if cfg.ColdVault != (common.Address{}) {
		c.cold = &ColdVault{c: c, addr: cfg.ColdVault}
	}
	if cfg.Guard != (common.Address{}) {
		c.guard = &Guard{c: c, addr: cfg.Guard}
	}
	return c
}

func (c *Client) Omnibus() *Omnibus { return c.omnibus }

// ColdVault returns nil when no cold vault address is configured.
func (c *Client) ColdVault() *ColdVault { return c.cold }

// Guard returns nil when no policy guard address is configured.
func (c *Client) Guard() *Guard { return c.guard }

func (c *Client) Backend() Backend { return c.backend }

func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

func (c *Client) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	bal, err := c.backend.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, &Error{Op: "balance", Code: CodeRPC, Err: err}
	}
	return bal, nil
}

func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, &Error{Op: "block_number", Code: CodeRPC, Err: err}
	}
	return n, nil
}

func (c *Client) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	h, err := c.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return time.Time{}, &Error{Op: "header", Code: CodeRPC, Err: err}
	}
	return time.Unix(int64(h.Time), 0).UTC(), nil
}

func (c *Client) BlockHash(ctx context.Context, number uint64) (common.Hash, error) {
	h, err := c.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return common.Hash{}, &Error{Op: "header", Code: CodeRPC, Err: err}
	}
	return h.Hash(), nil
}

// Transfer looks up a transaction and, when mined, its receipt and block time.
func (c *Client) Transfer(ctx context.Context, hash common.Hash) (*Transfer, error) {
	tx, pending, err := c.backend.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, ErrTxNotFound
	}
	if err != nil {
		return nil, &Error{Op: "transfer", Code: CodeRPC, Err: err}
	}
	from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return nil, &Error{Op: "transfer", Code: CodeRPC, Err: err}
	}
	out := &Transfer{Hash: hash, From: from, To: tx.To(), Value: tx.Value(), Pending: pending}
	if pending {
		return out, nil
	}
	rcpt, err := c.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		out.Pending = true
		return out, nil
	}
	if err != nil {
		return nil, &Error{Op: "transfer", Code: CodeRPC, Err: err}
	}
	out.Receipt = newReceipt(rcpt, from)
	if out.BlockTime, err = c.BlockTime(ctx, out.Receipt.BlockNumber); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) signer(seat Seat) (keys.Signer, error) {
	s, ok := c.signers[seat]
	if !ok || s == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSigner, seat)
	}
	return s, nil
}

func (c *Client) lockFor(addr common.Address) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[addr]
	if !ok {
		l = &sync.Mutex{}
		c.locks[addr] = l
	}
	return l
}

// call runs a read-only contract method and returns its decoded outputs.
func (c *Client) call(ctx context.Context, op string, to common.Address, parsed *abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, &Error{Op: op, Code: CodeUnknown, Err: err}
	}
	res, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, classify(op, parsed, err)
	}
	out, err := parsed.Unpack(method, res)
	if err != nil {
		return nil, &Error{Op: op, Code: CodeRPC, Err: fmt.Errorf("unpack %s: %w", method, err)}
	}
	return out, nil
}

// transact signs and sends a contract call from the seat's key and waits for
// the receipt. The wait is detached from ctx: once a transaction is out, the
// caller gets either its receipt or a CodePending error carrying the hash.
func (c *Client) transact(ctx context.Context, op string, seat Seat, to common.Address, parsed *abi.ABI, value *big.Int, method string, args ...interface{}) (*Receipt, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, &Error{Op: op, Code: CodeUnknown, Err: err}
	}
	signer, err := c.signer(seat)
	if err != nil {
		return nil, &Error{Op: op, Code: CodeUnknown, Err: err}
	}
	if value == nil {
		value = new(big.Int)
	}

	tx, err := c.sendLocked(ctx, op, signer, to, parsed, value, data)
	if err != nil {
		return nil, err
	}
	log := c.log.With().Str("op", op).Str("seat", seat.String()).Str("tx_hash", tx.Hash().Hex()).Logger()
	log.Info().Uint64("nonce", tx.Nonce()).Msg("transaction sent")

	rcpt, err := c.waitMined(ctx, tx.Hash())
	if err != nil {
		log.Error().Err(err).Msg("transaction sent but not confirmed")
		return nil, &Error{Op: op, Code: CodePending, TxHash: tx.Hash(), Err: err}
	}
	out := newReceipt(rcpt, signer.Address())
	if rcpt.Status != types.ReceiptStatusSuccessful {
		cerr := c.replayRevert(ctx, op, signer.Address(), to, parsed, value, data, rcpt)
		log.Warn().Str("code", cerr.Code.String()).Str("revert", cerr.Revert).Msg("transaction reverted")
		return out, cerr
	}
	log.Info().Uint64("block", out.BlockNumber).Uint64("gas_used", out.GasUsed).Msg("transaction confirmed")
	return out, nil
}

// sendLocked holds the sender's lock from nonce lookup until the node has the
// transaction, so concurrent sends from one key never reuse a nonce.
func (c *Client) sendLocked(ctx context.Context, op string, signer keys.Signer, to common.Address, parsed *abi.ABI, value *big.Int, data []byte) (*types.Transaction, error) {
	from := signer.Address()
	l := c.lockFor(from)
	l.Lock()
	defer l.Unlock()

	msg := ethereum.CallMsg{From: from, To: &to, Value: value, Data: data}
	gas, err := c.backend.EstimateGas(ctx, msg)
	if err != nil {
		return nil, classify(op, parsed, err)
	}
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, &Error{Op: op, Code: CodeRPC, Err: err}
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, &Error{Op: op, Code: CodeRPC, Err: err}
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, &Error{Op: op, Code: CodeRPC, Err: err}
	}
	feeCap := new(big.Int).Mul(tip, big.NewInt(2))
	if head.BaseFee != nil {
		feeCap = new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	unsigned := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas * 12 / 10,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := signer.SignTx(ctx, unsigned, c.chainID)
	if err != nil {
		return nil, &Error{Op: op, Code: CodeUnknown, Err: fmt.Errorf("sign: %w", err)}
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, classify(op, parsed, err)
	}
	return signed, nil
}

func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.receiptPoll)
	defer ticker.Stop()
	for {
		rcpt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return rcpt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			c.log.Debug().Err(err).Str("tx_hash", hash.Hex()).Msg("receipt lookup failed")
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrReceiptTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// replayRevert re-runs a failed transaction as a call against its parent block
// to recover the revert reason.
func (c *Client) replayRevert(ctx context.Context, op string, from, to common.Address, parsed *abi.ABI, value *big.Int, data []byte, rcpt *types.Receipt) *Error {
	var at *big.Int
	if rcpt.BlockNumber != nil && rcpt.BlockNumber.Sign() > 0 {
		at = new(big.Int).Sub(rcpt.BlockNumber, big.NewInt(1))
	}
	_, err := c.backend.CallContract(context.WithoutCancel(ctx), ethereum.CallMsg{From: from, To: &to, Value: value, Data: data}, at)
	if err != nil {
		if name, code, ok := decodeRevert(parsed, err); ok {
			if code == CodeUnknown {
				code = CodeReverted
			}
			return &Error{Op: op, Code: code, Revert: name, TxHash: rcpt.TxHash, Err: err}
		}
	}
	return &Error{Op: op, Code: CodeReverted, TxHash: rcpt.TxHash}
}
