package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/omnibus_custody/apperr"
	"github.com/omnibus_custody/chain"
	"github.com/omnibus_custody/model"
	"github.com/omnibus_custody/repository"
)

// settler books a confirmed omnibus execution against the user's ledger. The
// user path and the admin path both settle through it.
type settler struct {
	ledger  *repository.LedgerRepository
	reader  ChainReader
	omnibus OmnibusContract
	log     zerolog.Logger
}

// settleWithdrawal debits user by req.Amount and writes the OUT row keyed by
// the execution hash, in one database transaction.
func (s *settler) settleWithdrawal(ctx context.Context, user *model.User, req *chain.WithdrawalRequest, rcpt *chain.Receipt) (*model.Transaction, error) {
	blockTime, err := s.reader.BlockTime(ctx, rcpt.BlockNumber)
	if err != nil {
		s.log.Warn().Err(err).Uint64("block", rcpt.BlockNumber).Msg("block time unavailable, using local clock")
		blockTime = time.Now().UTC()
	}
	rec := &model.Transaction{
		TxHash:            rcpt.TxHash.Hex(),
		UserID:            user.ID,
		Status:            model.TxStatusSuccess,
		FromAddress:       strings.ToLower(s.omnibus.Address().Hex()),
		ToAddress:         strings.ToLower(req.To.Hex()),
		Amount:            model.NewWei(req.Amount),
		GasUsed:           rcpt.GasUsed,
		EffectiveGasPrice: model.NewWei(rcpt.EffectiveGasPrice),
		FeePaid:           model.NewWei(rcpt.Fee()),
		BlockNumber:       rcpt.BlockNumber,
		BlockHash:         rcpt.BlockHash.Hex(),
		BlockTimestamp:    blockTime,
	}
	err = s.ledger.Debit(ctx, rec)
	switch {
	case err == nil:
		return rec, nil
	case errors.Is(err, repository.ErrDuplicate):
		return nil, apperr.Wrap(apperr.KindConflict, apperr.CodeDuplicateSettlement, "settlement already recorded", err)
	default:
		// 链上已执行，账本未落库：必须人工或 reconcile 补记
		s.log.Error().Err(err).
			Str("tx_id", req.ID.Hex()).
			Str("tx_hash", rcpt.TxHash.Hex()).
			Str("user_id", user.ID).
			Str("amount", req.Amount.String()).
			Msg("withdrawal executed on chain but ledger debit failed")
		return nil, apperr.Wrap(apperr.KindPartialCompletion, apperr.CodeSettlementPending,
			fmt.Sprintf("executed as %s but not settled; reconcile with this hash", rcpt.TxHash.Hex()), err)
	}
}

// checkExecutable enforces the approval rules execute() will enforce on
// chain, so a doomed call is never sent.
func checkExecutable(req *chain.WithdrawalRequest, threshold *big.Int) error {
	switch {
	case !req.Exists():
		return apperr.NotFound(apperr.CodeRequestNotFound, "withdrawal request not found")
	case req.Executed:
		return apperr.Conflict(apperr.CodeAlreadyExecuted, "already executed")
	case !req.ApprovedTSS:
		return apperr.Conflict(apperr.CodeTSSApprovalMissing, "tss approval missing")
	case req.Amount.Cmp(threshold) >= 0 && !req.ApprovedManager:
		return apperr.Conflict(apperr.CodeManagerApprovalMissing, "manager approval missing")
	}
	return nil
}

func checkBalance(user *model.User, amount *big.Int) error {
	if user.Balance.Big().Cmp(amount) < 0 {
		return apperr.New(apperr.KindInsufficientBalance, apperr.CodeInsufficientBalance,
			fmt.Sprintf("balance %s is below %s", chain.FormatEther(user.Balance.Big()), chain.FormatEther(amount)))
	}
	return nil
}

// ownerOf resolves the user whose email hashes to key by scanning every user.
func ownerOf(ctx context.Context, users *repository.UserRepository, key common.Hash) (*model.User, error) {
	list, err := users.List(ctx)
	if err != nil {
		return nil, apperr.Internal("list users", err)
	}
	for i := range list {
		if chain.UserKey(list[i].Email) == key {
			return &list[i], nil
		}
	}
	return nil, apperr.NotFound(apperr.CodeUserNotFound, "no user matches the request's user key")
}
