package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Omnibus is the pooled custody contract.
type Omnibus struct {
	c    *Client
	addr common.Address
}

func (o *Omnibus) Address() common.Address { return o.addr }

func (o *Omnibus) Paused(ctx context.Context) (bool, error) {
	out, err := o.c.call(ctx, "omnibus.paused", o.addr, omnibusABI, "paused")
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

func (o *Omnibus) Pause(ctx context.Context, paused bool) (*Receipt, error) {
	return o.c.transact(ctx, "omnibus.pause", SeatOwner, o.addr, omnibusABI, nil, "pause", paused)
}

func (o *Omnibus) Nonce(ctx context.Context) (*big.Int, error) {
	out, err := o.c.call(ctx, "omnibus.nonce", o.addr, omnibusABI, "nonce")
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (o *Omnibus) ColdVault(ctx context.Context) (common.Address, error) {
	out, err := o.c.call(ctx, "omnibus.coldVault", o.addr, omnibusABI, "coldVault")
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

func (o *Omnibus) ComputeTxID(ctx context.Context, to common.Address, amount *big.Int, userKey common.Hash, nonce *big.Int) (common.Hash, error) {
	out, err := o.c.call(ctx, "omnibus.computeTxId", o.addr, omnibusABI, "computeTxId", to, amount, [32]byte(userKey), nonce)
	if err != nil {
		return common.Hash{}, err
	}
	return common.Hash(out[0].([32]byte)), nil
}

// SubmitTx records a withdrawal request; it is sent from the owner seat.
func (o *Omnibus) SubmitTx(ctx context.Context, to common.Address, amount *big.Int, userKey common.Hash) (*Receipt, error) {
	return o.c.transact(ctx, "omnibus.submitTx", SeatOwner, o.addr, omnibusABI, nil, "submitTx", to, amount, [32]byte(userKey))
}

// ApproveTx approves from the given seat: SeatTSS for the automated leg,
// SeatOwner for the manager leg.
func (o *Omnibus) ApproveTx(ctx context.Context, seat Seat, id common.Hash) (*Receipt, error) {
	return o.c.transact(ctx, "omnibus.approveTx", seat, o.addr, omnibusABI, nil, "approveTx", [32]byte(id))
}

func (o *Omnibus) Execute(ctx context.Context, id common.Hash, threshold *big.Int) (*Receipt, error) {
	return o.c.transact(ctx, "omnibus.execute", SeatOwner, o.addr, omnibusABI, nil, "execute", [32]byte(id), threshold)
}

func (o *Omnibus) Tx(ctx context.Context, id common.Hash) (*WithdrawalRequest, error) {
	out, err := o.c.call(ctx, "omnibus.txs", o.addr, omnibusABI, "txs", [32]byte(id))
	if err != nil {
		return nil, err
	}
	return &WithdrawalRequest{
		ID:              id,
		UserKey:         common.Hash(out[0].([32]byte)),
		To:              out[1].(common.Address),
		Amount:          out[2].(*big.Int),
		ApprovedTSS:     out[3].(bool),
		ApprovedManager: out[4].(bool),
		Executed:        out[5].(bool),
	}, nil
}

// Submitted returns the Submitted events in [from, to].
func (o *Omnibus) Submitted(ctx context.Context, from, to uint64) ([]Event, error) {
	logs, err := o.c.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{o.addr},
		Topics:    [][]common.Hash{{submittedTopic}},
	})
	if err != nil {
		return nil, &Error{Op: "omnibus.submitted", Code: CodeRPC, Err: err}
	}
	events := make([]Event, 0, len(logs))
	for _, l := range logs {
		ev, err := DecodeEvent(l)
		if err != nil {
			o.c.log.Warn().Err(err).Str("tx_hash", l.TxHash.Hex()).Msg("skip undecodable Submitted log")
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// ExecutionOf decodes an execute transaction sent to this contract, used to
// settle an execution whose receipt was not seen at dispatch time.
func (o *Omnibus) ExecutionOf(ctx context.Context, hash common.Hash) (*Execution, error) {
	tx, pending, err := o.c.backend.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, ErrTxNotFound
	}
	if err != nil {
		return nil, &Error{Op: "omnibus.executionOf", Code: CodeRPC, Err: err}
	}
	if tx.To() == nil || *tx.To() != o.addr || len(tx.Data()) < 4 {
		return nil, ErrNotExecution
	}
	method, err := omnibusABI.MethodById(tx.Data()[:4])
	if err != nil || method.Name != "execute" {
		return nil, ErrNotExecution
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil || len(args) != 2 {
		return nil, fmt.Errorf("%w: %v", ErrNotExecution, err)
	}
	from, err := types.Sender(types.LatestSignerForChainID(o.c.chainID), tx)
	if err != nil {
		return nil, &Error{Op: "omnibus.executionOf", Code: CodeRPC, Err: err}
	}

	out := &Execution{
		TxHash:    hash,
		ID:        common.Hash(args[0].([32]byte)),
		Threshold: args[1].(*big.Int),
		From:      from,
		Pending:   pending,
	}
	if pending {
		return out, nil
	}
	rcpt, err := o.c.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		out.Pending = true
		return out, nil
	}
	if err != nil {
		return nil, &Error{Op: "omnibus.executionOf", Code: CodeRPC, Err: err}
	}
	out.Receipt = newReceipt(rcpt, from)
	return out, nil
}

// WatchEvents streams Deposit and Submitted events from block from onwards.
func (o *Omnibus) WatchEvents(ctx context.Context, from uint64, opts ScanOptions, sink chan<- *EventBatch) (Subscription, error) {
	s := NewScanner(o.c.backend, []common.Address{o.addr}, [][]common.Hash{{depositTopic, submittedTopic}}, opts, o.c.log)
	return s.Subscribe(ctx, from, sink), nil
}
