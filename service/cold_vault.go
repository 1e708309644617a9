package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/omnibus_custody/apperr"
	"github.com/omnibus_custody/chain"
	"github.com/omnibus_custody/metrics"
)

// LegOutcome is what happened to one approval leg of a cold move.
type LegOutcome string

const (
	LegSucceeded       LegOutcome = "succeeded"
	LegAlreadyApproved LegOutcome = "already_approved"
	LegFailed          LegOutcome = "failed"
	LegSkipped         LegOutcome = "skipped"
)

// MoveApproval reports both approval legs and the flags read back after them.
type MoveApproval struct {
	MoveID         string     `json:"moveId"`
	Amount         string     `json:"amount"`
	First          LegOutcome `json:"first"`
	FirstTxHash    string     `json:"firstTxHash,omitempty"`
	Second         LegOutcome `json:"second"`
	SecondTxHash   string     `json:"secondTxHash,omitempty"`
	ApprovedAdmin1 bool       `json:"approvedAdmin1"`
	ApprovedAdmin2 bool       `json:"approvedAdmin2"`
	Executed       bool       `json:"executed"`
}

type MoveResult struct {
	MoveID   string `json:"moveId,omitempty"`
	TxHash   string `json:"txHash"`
	Amount   string `json:"amount"`
	Executed bool   `json:"executed"`
}

type Balances struct {
	Omnibus    string `json:"omnibus"`
	OmnibusWei string `json:"omnibusWei"`
	Cold       string `json:"cold,omitempty"`
	ColdWei    string `json:"coldWei,omitempty"`
}

// ColdVaultService moves treasury funds between the cold vault and the
// omnibus under 2-of-2 approval: the owner seat is admin1, the TSS seat admin2.
type ColdVaultService struct {
	cold    ColdVaultContract
	omnibus OmnibusContract
	reader  ChainReader
	log     zerolog.Logger
}

func NewColdVaultService(c Contracts, log zerolog.Logger) *ColdVaultService {
	return &ColdVaultService{
		cold:    c.Cold,
		omnibus: c.Omnibus,
		reader:  c.Reader,
		log:     log.With().Str("component", "cold_vault").Logger(),
	}
}

func (s *ColdVaultService) vault() (ColdVaultContract, error) {
	if s.cold == nil {
		return nil, apperr.New(apperr.KindChainFailure, apperr.CodeChainCall, "cold vault is not configured")
	}
	return s.cold, nil
}

func parseMoveID(s string) (common.Hash, error) {
	id, err := chain.ParseID(s)
	if err != nil {
		return common.Hash{}, apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidMoveID, "invalid moveId", err)
	}
	return id, nil
}

// Deposit sends amount from the owner seat into the cold vault.
func (s *ColdVaultService) Deposit(ctx context.Context, amount string) (res *MoveResult, err error) {
	defer func() { metrics.ColdOps.WithLabelValues("deposit", metrics.Result(err)).Inc() }()
	cold, err := s.vault()
	if err != nil {
		return nil, err
	}
	wei, err := parseAmount(amount)
	if err != nil {
		return nil, err
	}
	rcpt, err := cold.AdminDeposit(ctx, wei)
	if err != nil {
		return nil, chainFailure("adminDeposit", err)
	}
	return &MoveResult{TxHash: rcpt.TxHash.Hex(), Amount: chain.FormatEther(wei)}, nil
}

// RequestMove opens a move of amount to the omnibus. When the call succeeds
// but the id cannot be read from the receipt, the error carries the hash so
// the id can be recovered from the transaction logs.
func (s *ColdVaultService) RequestMove(ctx context.Context, amount string) (res *MoveResult, err error) {
	defer func() { metrics.ColdOps.WithLabelValues("request", metrics.Result(err)).Inc() }()
	cold, err := s.vault()
	if err != nil {
		return nil, err
	}
	wei, err := parseAmount(amount)
	if err != nil {
		return nil, err
	}
	rcpt, id, err := cold.RequestMove(ctx, wei)
	if errors.Is(err, chain.ErrMoveIDNotFound) && rcpt != nil {
		s.log.Error().Str("tx_hash", rcpt.TxHash.Hex()).Msg("move requested but MoveRequested log missing")
		return &MoveResult{TxHash: rcpt.TxHash.Hex(), Amount: chain.FormatEther(wei)},
			apperr.Wrap(apperr.KindPartialCompletion, apperr.CodeMoveIDUnavailable,
				fmt.Sprintf("move requested in %s but its id was not found in the receipt", rcpt.TxHash.Hex()), err)
	}
	if err != nil {
		return nil, chainFailure("requestMove", err)
	}
	s.log.Info().Str("move_id", id.Hex()).Str("tx_hash", rcpt.TxHash.Hex()).Msg("move requested")
	return &MoveResult{MoveID: id.Hex(), TxHash: rcpt.TxHash.Hex(), Amount: chain.FormatEther(wei)}, nil
}

// ApproveMove runs admin1 then admin2. A leg that is already approved is
// absorbed. When admin1 is in place and admin2 fails the result is still
// returned, together with a second_approval_failed error.
func (s *ColdVaultService) ApproveMove(ctx context.Context, moveID string) (res *MoveApproval, err error) {
	defer func() { metrics.ColdOps.WithLabelValues("approve", metrics.Result(err)).Inc() }()
	cold, err := s.vault()
	if err != nil {
		return nil, err
	}
	id, err := parseMoveID(moveID)
	if err != nil {
		return nil, err
	}
	m, err := cold.Move(ctx, id)
	if err != nil {
		return nil, chainFailure("moves", err)
	}
	if !m.Exists() {
		return nil, apperr.NotFound(apperr.CodeMoveNotFound, "move not found")
	}
	if m.Executed {
		return nil, apperr.Conflict(apperr.CodeAlreadyExecuted, "move already executed")
	}

	res = &MoveApproval{MoveID: id.Hex(), Amount: chain.FormatEther(m.Amount)}
	res.setFlags(m)

	// 第一签：admin1
	rcpt, err := cold.ApproveMove(ctx, chain.SeatOwner, id)
	switch {
	case err == nil:
		res.First, res.FirstTxHash = LegSucceeded, rcpt.TxHash.Hex()
		res.ApprovedAdmin1 = true
	case chain.IsCode(err, chain.CodeDuplicateApprover):
		res.First = LegAlreadyApproved
		res.ApprovedAdmin1 = true
	default:
		res.First, res.Second = LegFailed, LegSkipped
		return res, chainFailure("approveMove(admin1)", err)
	}

	s.refresh(ctx, cold, res)
	if res.Executed {
		res.Second = LegSkipped
		return res, apperr.Conflict(apperr.CodeAlreadyExecuted, "move already executed")
	}
	if res.ApprovedAdmin1 && res.ApprovedAdmin2 {
		res.Second = LegSkipped
		return res, nil
	}

	// 第二签：admin2 (TSS)
	rcpt, err = cold.ApproveMove(ctx, chain.SeatTSS, id)
	switch {
	case err == nil:
		res.Second, res.SecondTxHash = LegSucceeded, rcpt.TxHash.Hex()
		res.ApprovedAdmin2 = true
	case chain.IsCode(err, chain.CodeDuplicateApprover):
		res.Second = LegAlreadyApproved
		res.ApprovedAdmin2 = true
	default:
		res.Second = LegFailed
		s.refresh(ctx, cold, res)
		s.log.Error().Err(err).Str("move_id", res.MoveID).Str("first_tx_hash", res.FirstTxHash).
			Msg("admin1 approved but admin2 approval failed")
		return res, apperr.Wrap(apperr.KindPartialCompletion, apperr.CodeSecondApprovalFailed,
			"first approval succeeded, second approval failed", chainFailure("approveMove(admin2)", err))
	}
	s.refresh(ctx, cold, res)
	return res, nil
}

// refresh re-reads the move; on a failed read the flags already known stay.
func (s *ColdVaultService) refresh(ctx context.Context, cold ColdVaultContract, res *MoveApproval) {
	m, err := cold.Move(ctx, common.HexToHash(res.MoveID))
	if err != nil {
		s.log.Warn().Err(err).Str("move_id", res.MoveID).Msg("re-read move failed")
		return
	}
	res.setFlags(m)
}

func (r *MoveApproval) setFlags(m *chain.Move) {
	// 审批标志只会 false → true
	r.ApprovedAdmin1 = r.ApprovedAdmin1 || m.ApprovedAdmin1
	r.ApprovedAdmin2 = r.ApprovedAdmin2 || m.ApprovedAdmin2
	r.Executed = r.Executed || m.Executed
}

// ExecuteMove executes a fully approved move. A move that cannot execute is
// classified by its flags instead of a generic failure.
func (s *ColdVaultService) ExecuteMove(ctx context.Context, moveID string) (res *MoveResult, err error) {
	defer func() { metrics.ColdOps.WithLabelValues("execute", metrics.Result(err)).Inc() }()
	cold, err := s.vault()
	if err != nil {
		return nil, err
	}
	id, err := parseMoveID(moveID)
	if err != nil {
		return nil, err
	}
	ok, err := cold.IsExecutableMove(ctx, id)
	if err != nil {
		return nil, chainFailure("isExecutableMoveView", err)
	}
	m, err := cold.Move(ctx, id)
	if err != nil {
		return nil, chainFailure("moves", err)
	}
	if !ok {
		switch {
		case !m.Exists():
			return nil, apperr.NotFound(apperr.CodeMoveNotFound, "move not found")
		case m.Executed:
			return nil, apperr.Conflict(apperr.CodeAlreadyExecuted, "move already executed")
		case !m.FullyApproved():
			return nil, apperr.Conflict(apperr.CodeApprovalIncomplete, "2/2 approval incomplete")
		default:
			return nil, apperr.Conflict(apperr.CodeNotExecutable, "move not executable")
		}
	}
	rcpt, err := cold.ExecuteMove(ctx, id)
	if err != nil {
		return nil, chainFailure("executeMove", err)
	}
	s.log.Info().Str("move_id", id.Hex()).Str("tx_hash", rcpt.TxHash.Hex()).Msg("move executed")
	return &MoveResult{MoveID: id.Hex(), TxHash: rcpt.TxHash.Hex(), Amount: chain.FormatEther(m.Amount), Executed: true}, nil
}

// Balances reads the omnibus and cold vault balances.
func (s *ColdVaultService) Balances(ctx context.Context) (*Balances, error) {
	ob, err := s.reader.BalanceAt(ctx, s.omnibus.Address())
	if err != nil {
		return nil, chainFailure("balance", err)
	}
	out := &Balances{Omnibus: chain.FormatEther(ob), OmnibusWei: ob.String()}
	if s.cold != nil {
		cb, err := s.reader.BalanceAt(ctx, s.cold.Address())
		if err != nil {
			return nil, chainFailure("balance", err)
		}
		out.Cold, out.ColdWei = chain.FormatEther(cb), cb.String()
	}
	return out, nil
}
