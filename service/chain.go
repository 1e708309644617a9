package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omnibus_custody/apperr"
	"github.com/omnibus_custody/chain"
)

// OmnibusContract is the omnibus surface the workflows use. *chain.Omnibus
// and chaintest.Omnibus implement it.
type OmnibusContract interface {
	Address() common.Address
	Paused(ctx context.Context) (bool, error)
	Pause(ctx context.Context, paused bool) (*chain.Receipt, error)
	Nonce(ctx context.Context) (*big.Int, error)
	ColdVault(ctx context.Context) (common.Address, error)
	ComputeTxID(ctx context.Context, to common.Address, amount *big.Int, userKey common.Hash, nonce *big.Int) (common.Hash, error)
	SubmitTx(ctx context.Context, to common.Address, amount *big.Int, userKey common.Hash) (*chain.Receipt, error)
	ApproveTx(ctx context.Context, seat chain.Seat, id common.Hash) (*chain.Receipt, error)
	Execute(ctx context.Context, id common.Hash, threshold *big.Int) (*chain.Receipt, error)
	Tx(ctx context.Context, id common.Hash) (*chain.WithdrawalRequest, error)
	Submitted(ctx context.Context, from, to uint64) ([]chain.Event, error)
	ExecutionOf(ctx context.Context, hash common.Hash) (*chain.Execution, error)
}

type ColdVaultContract interface {
	Address() common.Address
	AdminDeposit(ctx context.Context, value *big.Int) (*chain.Receipt, error)
	RequestMove(ctx context.Context, amount *big.Int) (*chain.Receipt, common.Hash, error)
	ApproveMove(ctx context.Context, seat chain.Seat, id common.Hash) (*chain.Receipt, error)
	ExecuteMove(ctx context.Context, id common.Hash) (*chain.Receipt, error)
	IsExecutableMove(ctx context.Context, id common.Hash) (bool, error)
	Move(ctx context.Context, id common.Hash) (*chain.Move, error)
}

type GuardContract interface {
	SetUserWL(ctx context.Context, userKey common.Hash, to common.Address) (*chain.Receipt, error)
	UnsetUserWL(ctx context.Context, userKey common.Hash, to common.Address) (*chain.Receipt, error)
	SetUserDailyLimit(ctx context.Context, userKey common.Hash, max *big.Int) (*chain.Receipt, error)
	UserDailyLimit(ctx context.Context, userKey common.Hash) (*chain.DailyLimit, error)
}

// ChainReader is the plain node access the workflows need.
type ChainReader interface {
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
	LatestBlock(ctx context.Context) (uint64, error)
	BlockTime(ctx context.Context, number uint64) (time.Time, error)
	Transfer(ctx context.Context, hash common.Hash) (*chain.Transfer, error)
}

// Contracts bundles the chain dependencies. Cold and Guard may be nil when
// the deployment has no such contract.
type Contracts struct {
	Omnibus OmnibusContract
	Cold    ColdVaultContract
	Guard   GuardContract
	Reader  ChainReader
}

// chainFailure maps a chain error onto the error taxonomy. Revert codes the
// contracts share get a specific kind; anything else is a generic failure.
func chainFailure(op string, err error) error {
	var ce *chain.Error
	if !errors.As(err, &ce) {
		return apperr.Wrap(apperr.KindChainFailure, apperr.CodeChainCall, op+" failed", err)
	}
	switch ce.Code {
	case chain.CodeAlreadyExecuted:
		return apperr.Wrap(apperr.KindConflict, apperr.CodeAlreadyExecuted, "already executed", err)
	case chain.CodeNotExecutable:
		return apperr.Wrap(apperr.KindConflict, apperr.CodeNotExecutable, "not executable", err)
	case chain.CodePaused:
		return apperr.Wrap(apperr.KindConflict, apperr.CodePaused, "omnibus is paused", err)
	case chain.CodeDuplicateApprover:
		return apperr.Wrap(apperr.KindConflict, apperr.CodeDuplicateApprover, "already approved by this signer", err)
	case chain.CodeNotPrivileged:
		return apperr.Wrap(apperr.KindAuthorization, apperr.CodeNotPrivileged, "signer is not privileged for "+op, err)
	case chain.CodeUnknownRequest:
		return apperr.Wrap(apperr.KindNotFound, apperr.CodeRequestNotFound, "request not found", err)
	case chain.CodeInsufficientFunds:
		return apperr.Wrap(apperr.KindInsufficientBalance, apperr.CodeInsufficientBalance, "contract balance is insufficient", err)
	case chain.CodeDailyLimitExceeded:
		return apperr.Wrap(apperr.KindValidation, apperr.CodeDailyLimitExceeded, "daily limit exceeded", err)
	case chain.CodeNotWhitelisted:
		return apperr.Wrap(apperr.KindValidation, apperr.CodeNotWhitelisted, "recipient is not whitelisted", err)
	case chain.CodePending:
		return apperr.Wrap(apperr.KindPartialCompletion, apperr.CodeExecutionPending,
			fmt.Sprintf("%s sent as %s, confirmation pending", op, ce.TxHash.Hex()), err)
	default:
		return apperr.Wrap(apperr.KindChainFailure, apperr.CodeChainCall, op+" failed", err)
	}
}

func parseTxID(s string) (common.Hash, error) {
	id, err := chain.ParseID(s)
	if err != nil {
		return common.Hash{}, apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidTxID, "invalid txId", err)
	}
	return id, nil
}

func parseAmount(s string) (*big.Int, error) {
	wei, err := chain.ParseEther(s)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidAmount, "invalid amount", err)
	}
	return wei, nil
}
