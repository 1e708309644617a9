package service

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/omnibus_custody/apperr"
	"github.com/omnibus_custody/chain"
	"github.com/omnibus_custody/metrics"
	"github.com/omnibus_custody/model"
	"github.com/omnibus_custody/repository"
)

const (
	DefaultPendingLookback = 10000
	defaultPendingLimit    = 50
	readConcurrency        = 8
)

type PendingWithdrawal struct {
	TxID            string `json:"txId"`
	TxHash          string `json:"txHash"`
	BlockNumber     uint64 `json:"blockNumber"`
	To              string `json:"to"`
	Amount          string `json:"amount"`
	Email           string `json:"email,omitempty"`
	UserID          string `json:"userId,omitempty"`
	ApprovedTSS     bool   `json:"approvedTss"`
	ApprovedManager bool   `json:"approvedManager"`
	Status          string `json:"status"`
}

type WithdrawalInfo struct {
	TxID                    string `json:"txId"`
	UserKey                 string `json:"userKey"`
	Email                   string `json:"email,omitempty"`
	UserID                  string `json:"userId,omitempty"`
	To                      string `json:"to"`
	Amount                  string `json:"amount"`
	ApprovedTSS             bool   `json:"approvedTss"`
	ApprovedManager         bool   `json:"approvedManager"`
	Executed                bool   `json:"executed"`
	IsSmallTx               bool   `json:"isSmallTx"`
	RequiresManagerApproval bool   `json:"requiresManagerApproval"`
}

type PauseResult struct {
	Paused  bool   `json:"paused"`
	Changed bool   `json:"changed"`
	TxHash  string `json:"txHash,omitempty"`
}

type EventPage struct {
	Total  int64                        `json:"total"`
	Events []model.DepositWithdrawEvent `json:"events"`
}

// AdminService is the operator side of the workflows: it finds requests that
// need a manager, approves and executes them, and oversees users.
type AdminService struct {
	omnibus   OmnibusContract
	reader    ChainReader
	users     *repository.UserRepository
	ledger    *repository.LedgerRepository
	events    *repository.EventRepository
	threshold *big.Int
	lookback  uint64
	settle    *settler
	log       zerolog.Logger
}

func NewAdminService(c Contracts, users *repository.UserRepository, ledger *repository.LedgerRepository, events *repository.EventRepository, threshold *big.Int, lookback uint64, log zerolog.Logger) *AdminService {
	if lookback == 0 {
		lookback = DefaultPendingLookback
	}
	log = log.With().Str("component", "admin").Logger()
	return &AdminService{
		omnibus:   c.Omnibus,
		reader:    c.Reader,
		users:     users,
		ledger:    ledger,
		events:    events,
		threshold: new(big.Int).Set(threshold),
		lookback:  lookback,
		settle:    &settler{ledger: ledger, reader: c.Reader, omnibus: c.Omnibus, log: log},
		log:       log,
	}
}

// PendingWithdrawals lists requests at or above the threshold that still
// need an approval, newest first.
func (s *AdminService) PendingWithdrawals(ctx context.Context, limit int) ([]PendingWithdrawal, error) {
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	latest, err := s.reader.LatestBlock(ctx)
	if err != nil {
		return nil, chainFailure("blockNumber", err)
	}
	var from uint64
	if latest > s.lookback {
		from = latest - s.lookback
	}
	events, err := s.omnibus.Submitted(ctx, from, latest)
	if err != nil {
		return nil, chainFailure("Submitted", err)
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber > events[j].BlockNumber
		}
		return events[i].LogIndex > events[j].LogIndex
	})
	if window := limit * 2; len(events) > window {
		events = events[:window]
	}

	// 并发读取链上状态
	reqs := make([]*chain.WithdrawalRequest, len(events))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for i := range events {
		g.Go(func() error {
			req, err := s.omnibus.Tx(gctx, events[i].TxID)
			if err != nil {
				return err
			}
			reqs[i] = req
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, chainFailure("txs", err)
	}

	owners, err := s.keyIndex(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]PendingWithdrawal, 0, limit)
	for i, req := range reqs {
		if !req.Exists() || req.Executed || req.Amount.Cmp(s.threshold) < 0 || req.ApprovedManager {
			continue
		}
		p := PendingWithdrawal{
			TxID:        req.ID.Hex(),
			TxHash:      events[i].TxHash.Hex(),
			BlockNumber: events[i].BlockNumber,
			To:          strings.ToLower(req.To.Hex()),
			Amount:      chain.FormatEther(req.Amount),
			ApprovedTSS: req.ApprovedTSS,
			Status:      "awaiting_tss",
		}
		if req.ApprovedTSS {
			p.Status = "awaiting_manager"
		}
		if u, ok := owners[req.UserKey]; ok {
			p.Email, p.UserID = u.Email, u.ID
		}
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *AdminService) keyIndex(ctx context.Context) (map[common.Hash]model.User, error) {
	list, err := s.users.List(ctx)
	if err != nil {
		return nil, apperr.Internal("list users", err)
	}
	idx := make(map[common.Hash]model.User, len(list))
	for _, u := range list {
		idx[chain.UserKey(u.Email)] = u
	}
	return idx, nil
}

func (s *AdminService) request(ctx context.Context, txID string) (*chain.WithdrawalRequest, error) {
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
	return req, nil
}

func (s *AdminService) WithdrawalInfo(ctx context.Context, txID string) (*WithdrawalInfo, error) {
	req, err := s.request(ctx, txID)
	if err != nil {
		return nil, err
	}
	small := req.Amount.Cmp(s.threshold) < 0
	info := &WithdrawalInfo{
		TxID:                    req.ID.Hex(),
		UserKey:                 req.UserKey.Hex(),
		To:                      strings.ToLower(req.To.Hex()),
		Amount:                  chain.FormatEther(req.Amount),
		ApprovedTSS:             req.ApprovedTSS,
		ApprovedManager:         req.ApprovedManager,
		Executed:                req.Executed,
		IsSmallTx:               small,
		RequiresManagerApproval: !small,
	}
	if u, err := ownerOf(ctx, s.users, req.UserKey); err == nil {
		info.Email, info.UserID = u.Email, u.ID
	} else if apperr.KindOf(err) != apperr.KindNotFound {
		return nil, err
	}
	return info, nil
}

// ApproveWithdrawal adds the manager approval to a TSS-approved request.
func (s *AdminService) ApproveWithdrawal(ctx context.Context, txID string) (res *ApproveResult, err error) {
	defer func() { metrics.WithdrawalOps.WithLabelValues("manager_approve", metrics.Result(err)).Inc() }()
	req, err := s.request(ctx, txID)
	if err != nil {
		return nil, err
	}
	switch {
	case req.Executed:
		return nil, apperr.Conflict(apperr.CodeAlreadyExecuted, "already executed")
	case req.ApprovedManager:
		return nil, apperr.Conflict(apperr.CodeAlreadyManagerApproved, "already manager approved")
	case !req.ApprovedTSS:
		return nil, apperr.Conflict(apperr.CodeTSSApprovalMissing, "tss approval missing")
	}
	rcpt, err := s.omnibus.ApproveTx(ctx, chain.SeatOwner, req.ID)
	if err != nil {
		return nil, chainFailure("approveTx", err)
	}
	small := req.Amount.Cmp(s.threshold) < 0
	s.log.Info().Str("tx_id", req.ID.Hex()).Str("tx_hash", rcpt.TxHash.Hex()).Msg("manager approved")
	return &ApproveResult{
		TxID:                    req.ID.Hex(),
		TxHash:                  rcpt.TxHash.Hex(),
		Amount:                  chain.FormatEther(req.Amount),
		Status:                  StatusManagerApproved,
		IsSmallTx:               small,
		RequiresManagerApproval: !small,
	}, nil
}

// ExecuteWithdrawal executes on the owner's behalf. It shares the checks and
// the settlement of the user path, so a frozen owner blocks it too.
func (s *AdminService) ExecuteWithdrawal(ctx context.Context, txID string) (res *ExecuteResult, err error) {
	defer func() { metrics.WithdrawalOps.WithLabelValues("admin_execute", metrics.Result(err)).Inc() }()
	req, err := s.request(ctx, txID)
	if err != nil {
		return nil, err
	}
	if err := checkExecutable(req, s.threshold); err != nil {
		return nil, err
	}
	user, err := ownerOf(ctx, s.users, req.UserKey)
	if err != nil {
		return nil, err
	}
	if user.Status == model.UserFrozen {
		return nil, apperr.Authorization(apperr.CodeUserFrozen, "user is frozen")
	}
	if err := checkBalance(user, req.Amount); err != nil {
		return nil, err
	}
	return execute(ctx, s.omnibus, s.settle, s.threshold, user, req, s.log)
}

// ReconcileWithdrawal settles an execution whose receipt was not seen when
// it was sent. Settling twice reports duplicate_settlement.
func (s *AdminService) ReconcileWithdrawal(ctx context.Context, txID, txHash string) (res *ExecuteResult, err error) {
	defer func() { metrics.WithdrawalOps.WithLabelValues("reconcile", metrics.Result(err)).Inc() }()
	req, err := s.request(ctx, txID)
	if err != nil {
		return nil, err
	}
	hash, err := chain.ParseID(txHash)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidTxHash, "invalid txHash", err)
	}
	exec, err := s.omnibus.ExecutionOf(ctx, hash)
	switch {
	case errors.Is(err, chain.ErrTxNotFound):
		return nil, apperr.NotFound(apperr.CodeTxNotFound, "transaction not found")
	case errors.Is(err, chain.ErrNotExecution):
		return nil, apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidTxHash, "transaction is not an omnibus execute call", err)
	case err != nil:
		return nil, chainFailure("executionOf", err)
	}
	if exec.ID != req.ID {
		return nil, apperr.Validation(apperr.CodeInvalidTxHash, "transaction executes a different request")
	}
	if exec.Pending || exec.Receipt == nil {
		return nil, apperr.Conflict(apperr.CodeTxNotConfirmed, "execution not confirmed yet")
	}
	if !exec.Succeeded() || !req.Executed {
		return nil, apperr.Conflict(apperr.CodeTxFailed, "execution did not succeed on chain")
	}

	user, err := ownerOf(ctx, s.users, req.UserKey)
	if err != nil {
		return nil, err
	}
	rec, err := s.settle.settleWithdrawal(ctx, user, req, exec.Receipt)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("tx_id", req.ID.Hex()).Str("tx_hash", rec.TxHash).Msg("withdrawal reconciled")
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

func (s *AdminService) Users(ctx context.Context) ([]model.User, error) {
	list, err := s.users.List(ctx)
	if err != nil {
		return nil, apperr.Internal("list users", err)
	}
	return list, nil
}

func (s *AdminService) UpdateUserStatus(ctx context.Context, userID, status string) (*model.User, error) {
	st := model.UserStatus(strings.ToUpper(strings.TrimSpace(status)))
	if !st.Valid() {
		return nil, apperr.Validation(apperr.CodeInvalidStatus, "status must be ACTIVE or FROZEN")
	}
	u, err := s.users.UpdateStatus(ctx, userID, st)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound(apperr.CodeUserNotFound, "user not found")
	}
	if err != nil {
		return nil, apperr.Internal("update user status", err)
	}
	s.log.Info().Str("user_id", userID).Str("status", string(st)).Msg("user status updated")
	return u, nil
}

// Pause sets the omnibus pause flag; it sends nothing when the flag is
// already in the requested state.
func (s *AdminService) Pause(ctx context.Context, paused bool) (*PauseResult, error) {
	cur, err := s.omnibus.Paused(ctx)
	if err != nil {
		return nil, chainFailure("paused", err)
	}
	if cur == paused {
		return &PauseResult{Paused: cur}, nil
	}
	rcpt, err := s.omnibus.Pause(ctx, paused)
	if err != nil {
		return nil, chainFailure("pause", err)
	}
	s.log.Warn().Bool("paused", paused).Str("tx_hash", rcpt.TxHash.Hex()).Msg("omnibus pause flag changed")
	return &PauseResult{Paused: paused, Changed: true, TxHash: rcpt.TxHash.Hex()}, nil
}

func (s *AdminService) PausedStatus(ctx context.Context) (bool, error) {
	p, err := s.omnibus.Paused(ctx)
	if err != nil {
		return false, chainFailure("paused", err)
	}
	return p, nil
}

func (s *AdminService) Events(ctx context.Context, limit int) (*EventPage, error) {
	list, err := s.events.List(ctx, limit)
	if err != nil {
		return nil, apperr.Internal("list events", err)
	}
	total, err := s.events.Count(ctx)
	if err != nil {
		return nil, apperr.Internal("count events", err)
	}
	return &EventPage{Total: total, Events: list}, nil
}

func (s *AdminService) Transactions(ctx context.Context, limit int) ([]model.Transaction, error) {
	list, err := s.ledger.List(ctx, limit)
	if err != nil {
		return nil, apperr.Internal("list transactions", err)
	}
	return list, nil
}
