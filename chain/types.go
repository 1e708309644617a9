package chain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Seat names the key a state-changing call is signed with.
type Seat int

const (
	// SeatOwner is the contract owner: withdrawal submitter, manager and cold admin1.
	SeatOwner Seat = iota
	// SeatTSS is the automated signer: first withdrawal approval and cold admin2.
	SeatTSS
)

func (s Seat) String() string {
	switch s {
	case SeatOwner:
		return "owner"
	case SeatTSS:
		return "tss"
	default:
		return "unknown"
	}
}

// Receipt is the part of a mined transaction the workflows keep.
type Receipt struct {
	TxHash            common.Hash
	From              common.Address
	BlockNumber       uint64
	BlockHash         common.Hash
	GasUsed           uint64
	EffectiveGasPrice *big.Int
	Status            uint64
	Logs              []*types.Log
}

// Fee is gasUsed * effectiveGasPrice.
func (r *Receipt) Fee() *big.Int {
	if r.EffectiveGasPrice == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(r.GasUsed), r.EffectiveGasPrice)
}

func newReceipt(r *types.Receipt, from common.Address) *Receipt {
	out := &Receipt{
		TxHash:            r.TxHash,
		From:              from,
		BlockHash:         r.BlockHash,
		GasUsed:           r.GasUsed,
		EffectiveGasPrice: r.EffectiveGasPrice,
		Status:            r.Status,
		Logs:              r.Logs,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	return out
}

// WithdrawalRequest mirrors Omnibus.txs(id).
type WithdrawalRequest struct {
	ID              common.Hash
	UserKey         common.Hash
	To              common.Address
	Amount          *big.Int
	ApprovedTSS     bool
	ApprovedManager bool
	Executed        bool
}

// Exists reports whether the contract knows the id; unknown ids read back
// with a zero user key.
func (r *WithdrawalRequest) Exists() bool {
	return r != nil && r.UserKey != (common.Hash{})
}

// Move mirrors ColdVault.moves(id).
type Move struct {
	ID             common.Hash
	Amount         *big.Int
	ApprovedAdmin1 bool
	ApprovedAdmin2 bool
	Executed       bool
}

func (m *Move) Exists() bool {
	return m != nil && ((m.Amount != nil && m.Amount.Sign() > 0) || m.ApprovedAdmin1 || m.ApprovedAdmin2 || m.Executed)
}

func (m *Move) FullyApproved() bool {
	return m.ApprovedAdmin1 && m.ApprovedAdmin2
}

// DailyLimit mirrors PolicyGuard.userDailyETH(key).
type DailyLimit struct {
	Max    *big.Int
	Spent  *big.Int
	DayKey uint64
}

// DayKeyOf is the UTC day bucket used by the guard contract.
func DayKeyOf(t time.Time) uint64 {
	return uint64(t.Unix() / 86400)
}

func (d *DailyLimit) Unlimited() bool {
	return d.Max == nil || d.Max.Sign() == 0
}

// Remaining returns what can still be spent today, or nil when unlimited.
// Spent only counts while the stored day key is today.
func (d *DailyLimit) Remaining(now time.Time) *big.Int {
	if d.Unlimited() {
		return nil
	}
	if d.DayKey != DayKeyOf(now) || d.Spent == nil {
		return new(big.Int).Set(d.Max)
	}
	rem := new(big.Int).Sub(d.Max, d.Spent)
	if rem.Sign() < 0 {
		return new(big.Int)
	}
	return rem
}

// Transfer is a value transfer looked up by hash.
type Transfer struct {
	Hash      common.Hash
	From      common.Address
	To        *common.Address
	Value     *big.Int
	Pending   bool
	Receipt   *Receipt
	BlockTime time.Time
}

func (t *Transfer) Succeeded() bool {
	return !t.Pending && t.Receipt != nil && t.Receipt.Status == types.ReceiptStatusSuccessful
}

// Execution is a decoded Omnibus.execute transaction.
type Execution struct {
	TxHash    common.Hash
	ID        common.Hash
	Threshold *big.Int
	From      common.Address
	Pending   bool
	Receipt   *Receipt
}

func (e *Execution) Succeeded() bool {
	return !e.Pending && e.Receipt != nil && e.Receipt.Status == types.ReceiptStatusSuccessful
}
