package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ColdVault holds treasury reserves moved to the omnibus under 2-of-2 approval.
type ColdVault struct {
	c    *Client
	addr common.Address
}

func (v *ColdVault) Address() common.Address { return v.addr }

func (v *ColdVault) AdminDeposit(ctx context.Context, value *big.Int) (*Receipt, error) {
	return v.c.transact(ctx, "cold.adminDeposit", SeatOwner, v.addr, coldABI, value, "adminDeposit")
}

// RequestMove returns the receipt and the move id from its MoveRequested log.
// When the log is missing the receipt is still returned together with
// ErrMoveIDNotFound.
func (v *ColdVault) RequestMove(ctx context.Context, amount *big.Int) (*Receipt, common.Hash, error) {
	rcpt, err := v.c.transact(ctx, "cold.requestMove", SeatOwner, v.addr, coldABI, nil, "requestMove", amount)
	if err != nil {
		return rcpt, common.Hash{}, err
	}
	id, ok := MoveIDFromLogs(v.addr, rcpt)
	if !ok {
		return rcpt, common.Hash{}, ErrMoveIDNotFound
	}
	return rcpt, id, nil
}

// MoveIDFromLogs finds the MoveRequested event emitted by vault in rcpt.
func MoveIDFromLogs(vault common.Address, rcpt *Receipt) (common.Hash, bool) {
	if rcpt == nil {
		return common.Hash{}, false
	}
	for _, l := range rcpt.Logs {
		if l == nil || l.Address != vault || len(l.Topics) < 2 || l.Topics[0] != moveRequestedTopic {
			continue
		}
		return l.Topics[1], true
	}
	return common.Hash{}, false
}

// ApproveMove approves from SeatOwner (admin1) or SeatTSS (admin2).
func (v *ColdVault) ApproveMove(ctx context.Context, seat Seat, id common.Hash) (*Receipt, error) {
	return v.c.transact(ctx, "cold.approveMove", seat, v.addr, coldABI, nil, "approveMove", [32]byte(id))
}

func (v *ColdVault) ExecuteMove(ctx context.Context, id common.Hash) (*Receipt, error) {
	return v.c.transact(ctx, "cold.executeMove", SeatOwner, v.addr, coldABI, nil, "executeMove", [32]byte(id))
}

func (v *ColdVault) IsExecutableMove(ctx context.Context, id common.Hash) (bool, error) {
	out, err := v.c.call(ctx, "cold.isExecutableMoveView", v.addr, coldABI, "isExecutableMoveView", [32]byte(id))
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

func (v *ColdVault) Move(ctx context.Context, id common.Hash) (*Move, error) {
	out, err := v.c.call(ctx, "cold.moves", v.addr, coldABI, "moves", [32]byte(id))
	if err != nil {
		return nil, err
	}
	return &Move{
		ID:             id,
		Amount:         out[0].(*big.Int),
		ApprovedAdmin1: out[1].(bool),
		ApprovedAdmin2: out[2].(bool),
		Executed:       out[3].(bool),
	}, nil
}
