package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type EventKind string

const (
	EventDeposit   EventKind = "DEPOSIT"
	EventSubmitted EventKind = "WITHDRAW"
)

var ErrUnknownEvent = errors.New("unknown event")

// Event is a decoded Omnibus Deposit or Submitted log.
type Event struct {
	Kind        EventKind
	TxHash      common.Hash
	BlockNumber uint64
	BlockHash   common.Hash
	LogIndex    uint
	UserKey     common.Hash
	Amount      *big.Int
	// Deposit only.
	From  common.Address
	Token common.Address
	// Submitted only.
	TxID common.Hash
	To   common.Address
}

// EventBatch carries the events of one scanned block range. To/ToHash is the
// last block covered, so a consumer can checkpoint after handling Events.
type EventBatch struct {
	From   uint64
	To     uint64
	ToHash common.Hash
	Events []Event
}

func DecodeEvent(l types.Log) (Event, error) {
	if len(l.Topics) == 0 {
		return Event{}, ErrUnknownEvent
	}
	ev := Event{
		TxHash:      l.TxHash,
		BlockNumber: l.BlockNumber,
		BlockHash:   l.BlockHash,
		LogIndex:    l.Index,
	}
	switch l.Topics[0] {
	case depositTopic:
		if len(l.Topics) < 3 {
			return Event{}, fmt.Errorf("Deposit: want 3 topics, got %d", len(l.Topics))
		}
		out, err := omnibusABI.Unpack("Deposit", l.Data)
		if err != nil {
			return Event{}, fmt.Errorf("Deposit: %w", err)
		}
		ev.Kind = EventDeposit
		ev.UserKey = l.Topics[1]
		ev.From = common.BytesToAddress(l.Topics[2].Bytes())
		ev.Token = out[0].(common.Address)
		ev.Amount = out[1].(*big.Int)
	case submittedTopic:
		if len(l.Topics) < 3 {
			return Event{}, fmt.Errorf("Submitted: want 3 topics, got %d", len(l.Topics))
		}
		out, err := omnibusABI.Unpack("Submitted", l.Data)
		if err != nil {
			return Event{}, fmt.Errorf("Submitted: %w", err)
		}
		ev.Kind = EventSubmitted
		ev.TxID = l.Topics[1]
		ev.To = common.BytesToAddress(l.Topics[2].Bytes())
		ev.Amount = out[0].(*big.Int)
		ev.UserKey = common.Hash(out[1].([32]byte))
	default:
		return Event{}, ErrUnknownEvent
	}
	return ev, nil
}
