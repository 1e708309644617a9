package service

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/omnibus_custody/apperr"
	"github.com/omnibus_custody/chain"
	"github.com/omnibus_custody/metrics"
	"github.com/omnibus_custody/model"
	"github.com/omnibus_custody/repository"
)

// Withdrawal statuses reported to callers.
const (
	StatusSubmitted       = "submitted"
	StatusPending         = "pending"
	StatusApproved        = "approved"
	StatusTSSApproved     = "tss_approved"
	StatusManagerApproved = "manager_approved"
	StatusExecuted        = "executed"
)

const historyLimit = 100

type SubmitResult struct {
	TxID   string `json:"txId"`
	TxHash string `json:"txHash"`
	To     string `json:"to"`
	Amount string `json:"amount"`
	Status string `json:"status"`
}

type ApproveResult struct {
	TxID                    string `json:"txId"`
	TxHash                  string `json:"txHash,omitempty"`
	Amount                  string `json:"amount"`
	Status                  string `json:"status"`
	IsSmallTx               bool   `json:"isSmallTx"`
	RequiresManagerApproval bool   `json:"requiresManagerApproval"`
	AlreadyApproved         bool   `json:"alreadyApproved"`
}

type ExecuteResult struct {
	TxID          string `json:"txId"`
	TxHash        string `json:"txHash"`
	To            string `json:"to"`
	Amount        string `json:"amount"`
	BalanceBefore string `json:"balanceBefore"`
	BalanceAfter  string `json:"balanceAfter"`
	Status        string `json:"status"`
}

// WithdrawalService drives SUBMITTED → {AUTO_APPROVED | AWAITING_MANAGER} →
// EXECUTED for the requesting user.
type WithdrawalService struct {
	omnibus   OmnibusContract
	guard     GuardContract
	users     *repository.UserRepository
	ledger    *repository.LedgerRepository
	threshold *big.Int
	settle    *settler
	now       func() time.Time
	log       zerolog.Logger
}

func NewWithdrawalService(c Contracts, users *repository.UserRepository, ledger *repository.LedgerRepository, threshold *big.Int, log zerolog.Logger) *WithdrawalService {
	log = log.With().Str("component", "withdrawal").Logger()
	return &WithdrawalService{
		omnibus:   c.Omnibus,
		guard:     c.Guard,
		users:     users,
		ledger:    ledger,
		threshold: new(big.Int).Set(threshold),
		settle:    &settler{ledger: ledger, reader: c.Reader, omnibus: c.Omnibus, log: log},
		now:       time.Now,
		log:       log,
	}
}

func (s *WithdrawalService) Threshold() *big.Int { return new(big.Int).Set(s.threshold) }

// Submit records a withdrawal request on chain. The id is read from the
// contract before the submission is sent, so it is known even when the
// submission receipt is late.
func (s *WithdrawalService) Submit(ctx context.Context, email, to, amount, password string) (res *SubmitResult, err error) {
	defer func() { metrics.WithdrawalOps.WithLabelValues("submit", metrics.Result(err)).Inc() }()

	// === Step 1: 用户与凭证 ===
	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound(apperr.CodeUserNotFound, "user not found")
	}
	if err != nil {
		return nil, apperr.Internal("load user", err)
	}
	if user.Status == model.UserFrozen {
		return nil, apperr.Authorization(apperr.CodeUserFrozen, "user is frozen")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, apperr.Authorization(apperr.CodeInvalidCredential, "invalid credential")
	}

	// === Step 2: 参数校验 ===
	toAddr, err := chain.ParseAddress(to)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidAddress, "invalid recipient address", err)
	}
	wei, err := parseAmount(amount)
	if err != nil {
		return nil, err
	}
	key := chain.UserKey(user.Email)

	// === Step 3: 日限额预检 ===
	if s.guard != nil {
		limit, err := s.guard.UserDailyLimit(ctx, key)
		if err != nil {
			return nil, chainFailure("userDailyETH", err)
		}
		if rem := limit.Remaining(s.now()); rem != nil && rem.Cmp(wei) < 0 {
			return nil, apperr.Validation(apperr.CodeDailyLimitExceeded,
				"daily limit exceeded, remaining "+chain.FormatEther(rem))
		}
	}

	// === Step 4: 先算 txId，再上链 ===
	nonce, err := s.omnibus.Nonce(ctx)
	if err != nil {
		return nil, chainFailure("nonce", err)
	}
	id, err := s.omnibus.ComputeTxID(ctx, toAddr, wei, key, nonce)
	if err != nil {
		return nil, chainFailure("computeTxId", err)
	}
	res = &SubmitResult{
		TxID:   id.Hex(),
		To:     strings.ToLower(toAddr.Hex()),
		Amount: chain.FormatEther(wei),
		Status: StatusSubmitted,
	}
	rcpt, err := s.omnibus.SubmitTx(ctx, toAddr, wei, key)
	if chain.IsCode(err, chain.CodePending) {
		res.TxHash = chain.TxHashOf(err).Hex()
		res.Status = StatusPending
		s.log.Warn().Str("tx_id", res.TxID).Str("tx_hash", res.TxHash).Msg("submission sent, receipt pending")
		return res, nil
	}
	if err != nil {
		return nil, chainFailure("submitTx", err)
	}
	res.TxHash = rcpt.TxHash.Hex()
	s.log.Info().Str("tx_id", res.TxID).Str("tx_hash", res.TxHash).Str("user_id", user.ID).Str("amount", res.Amount).Msg("withdrawal submitted")
	return res, nil
}

// Approve adds the TSS approval. It never adds the manager approval; at or
// above the threshold the result asks for it.
func (s *WithdrawalService) Approve(ctx context.Context, txID string) (res *ApproveResult, err error) {
	defer func() { metrics.WithdrawalOps.WithLabelValues("approve", metrics.Result(err)).Inc() }()

	id, err := parseTxID(txID)
	if err != nil {
		return nil, err
	}
	req, err := s.omnibus.Tx(ctx, id)
	if err != nil {
		return nil, chainFailure("txs", err)
	}
	if !req.Exists() {
		return nil, apperr.NotFound(apperr.CodeRequestNotFound, "withdrawal request not found")
	}
	if req.Executed {
		return nil, apperr.Conflict(apperr.CodeAlreadyExecuted, "already executed")
	}

	small := req.Amount.Cmp(s.threshold) < 0
	res = &ApproveResult{
		TxID:                    id.Hex(),
		Amount:                  chain.FormatEther(req.Amount),
		IsSmallTx:               small,
		RequiresManagerApproval: !small,
	}
	rcpt, err := s.omnibus.ApproveTx(ctx, chain.SeatTSS, id)
	switch {
	case err == nil:
		res.TxHash = rcpt.TxHash.Hex()
	case chain.IsCode(err, chain.CodeDuplicateApprover):
		res.AlreadyApproved = true
		s.log.Info().Str("tx_id", res.TxID).Msg("tss approval already present")
	case chain.IsCode(err, chain.CodePending):
		res.TxHash = chain.TxHashOf(err).Hex()
		return res, chainFailure("approveTx", err)
	default:
		return nil, chainFailure("approveTx", err)
	}

	if small {
		res.Status = StatusApproved
	} else {
		res.Status = StatusTSSApproved
	}
	return res, nil
}

// Execute runs an approved request for the user it belongs to and debits
// the user once the execution is confirmed.
func (s *WithdrawalService) Execute(ctx context.Context, txID, userID, email string) (res *ExecuteResult, err error) {
	defer func() { metrics.WithdrawalOps.WithLabelValues("execute", metrics.Result(err)).Inc() }()

	id, err := parseTxID(txID)
	if err != nil {
		return nil, err
	}
	req, err := s.omnibus.Tx(ctx, id)
	if err != nil {
		return nil, chainFailure("txs", err)
	}
	if err := checkExecutable(req, s.threshold); err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound(apperr.CodeUserNotFound, "user not found")
	}
	if err != nil {
		return nil, apperr.Internal("load user", err)
	}
	if user.Status == model.UserFrozen {
		return nil, apperr.Authorization(apperr.CodeUserFrozen, "user is frozen")
	}
	if chain.UserKey(email) != req.UserKey || chain.NormalizeEmail(user.Email) != chain.NormalizeEmail(email) {
		return nil, apperr.Authorization(apperr.CodeUserKeyMismatch, "request does not belong to this user")
	}
	if err := checkBalance(user, req.Amount); err != nil {
		return nil, err
	}

	return execute(ctx, s.omnibus, s.settle, s.threshold, user, req, s.log)
}

// History lists the user's newest ledger rows, optionally by direction.
func (s *WithdrawalService) History(ctx context.Context, userID string, direction model.Direction) ([]model.Transaction, error) {
	if direction != "" && direction != model.DirectionIn && direction != model.DirectionOut {
		return nil, apperr.Validation(apperr.CodeInvalidParameter, "direction must be IN or OUT")
	}
	list, err := s.ledger.ListByUser(ctx, userID, direction, historyLimit)
	if err != nil {
		return nil, apperr.Internal("list transactions", err)
	}
	return list, nil
}

// execute dispatches execute(id, threshold) and settles the confirmed result.
func execute(ctx context.Context, omnibus OmnibusContract, st *settler, threshold *big.Int, user *model.User, req *chain.WithdrawalRequest, log zerolog.Logger) (*ExecuteResult, error) {
	rcpt, err := omnibus.Execute(ctx, req.ID, threshold)
	if chain.IsCode(err, chain.CodePending) {
		log.Error().Err(err).
			Str("tx_id", req.ID.Hex()).
			Str("tx_hash", chain.TxHashOf(err).Hex()).
			Str("user_id", user.ID).
			Msg("execute sent but not confirmed; reconcile once mined")
		return nil, chainFailure("execute", err)
	}
	if err != nil {
		return nil, chainFailure("execute", err)
	}

	rec, err := st.settleWithdrawal(ctx, user, req, rcpt)
	if err != nil {
		return nil, err
	}
	log.Info().Str("tx_id", req.ID.Hex()).Str("tx_hash", rec.TxHash).Str("user_id", user.ID).Msg("withdrawal executed and settled")
	return &ExecuteResult{
		TxID:          req.ID.Hex(),
		TxHash:        rec.TxHash,
		To:            rec.ToAddress,
		Amount:        chain.FormatEther(req.Amount),
		BalanceBefore: chain.FormatEther(rec.BalanceBefore.Big()),
		BalanceAfter:  chain.FormatEther(rec.BalanceAfter.Big()),
		Status:        StatusExecuted,
	}, nil
}
