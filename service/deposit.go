package service

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/omnibus_custody/apperr"
	"github.com/omnibus_custody/chain"
	"github.com/omnibus_custody/model"
	"github.com/omnibus_custody/repository"
)

// DepositService credits users for confirmed transfers into the omnibus.
type DepositService struct {
	omnibus OmnibusContract
	reader  ChainReader
	users   *repository.UserRepository
	ledger  *repository.LedgerRepository
	log     zerolog.Logger
}

func NewDepositService(c Contracts, users *repository.UserRepository, ledger *repository.LedgerRepository, log zerolog.Logger) *DepositService {
	return &DepositService{
		omnibus: c.Omnibus,
		reader:  c.Reader,
		users:   users,
		ledger:  ledger,
		log:     log.With().Str("component", "deposit").Logger(),
	}
}

// Settle credits userID with the value of txHash. Concurrent calls for one
// hash produce one ledger row; the losers get duplicate_settlement.
func (s *DepositService) Settle(ctx context.Context, userID, txHash string) (*model.Transaction, error) {
	hash, err := chain.ParseID(txHash)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidTxHash, "invalid txHash", err)
	}
	exists, err := s.ledger.ExistsHash(ctx, hash.Hex())
	if err != nil {
		return nil, apperr.Internal("check ledger", err)
	}
	if exists {
		return nil, apperr.Conflict(apperr.CodeDuplicateSettlement, "transaction already settled")
	}

	tr, err := s.reader.Transfer(ctx, hash)
	if errors.Is(err, chain.ErrTxNotFound) {
		return nil, apperr.NotFound(apperr.CodeTxNotFound, "transaction not found")
	}
	if err != nil {
		return nil, chainFailure("transfer", err)
	}
	if tr.Pending || tr.Receipt == nil {
		return nil, apperr.Validation(apperr.CodeTxNotConfirmed, "transaction not confirmed yet")
	}
	if !tr.Succeeded() {
		return nil, apperr.Validation(apperr.CodeTxFailed, "transaction failed on chain")
	}
	if tr.To == nil || *tr.To != s.omnibus.Address() {
		return nil, apperr.Validation(apperr.CodeWrongRecipient, "transaction is not a transfer to the omnibus")
	}
	if tr.Value == nil || tr.Value.Sign() <= 0 {
		return nil, apperr.Validation(apperr.CodeInvalidAmount, "transaction carries no value")
	}

	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound(apperr.CodeUserNotFound, "user not found")
	}
	if err != nil {
		return nil, apperr.Internal("load user", err)
	}

	rec := &model.Transaction{
		TxHash:            hash.Hex(),
		UserID:            user.ID,
		Status:            model.TxStatusSuccess,
		FromAddress:       strings.ToLower(tr.From.Hex()),
		ToAddress:         strings.ToLower(tr.To.Hex()),
		Amount:            model.NewWei(tr.Value),
		GasUsed:           tr.Receipt.GasUsed,
		EffectiveGasPrice: model.NewWei(tr.Receipt.EffectiveGasPrice),
		FeePaid:           model.NewWei(tr.Receipt.Fee()),
		BlockNumber:       tr.Receipt.BlockNumber,
		BlockHash:         tr.Receipt.BlockHash.Hex(),
		BlockTimestamp:    tr.BlockTime,
	}
	if err := s.ledger.Credit(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.Wrap(apperr.KindConflict, apperr.CodeDuplicateSettlement, "transaction already settled", err)
		}
		return nil, apperr.Internal("credit deposit", err)
	}
	s.log.Info().Str("tx_hash", rec.TxHash).Str("user_id", user.ID).Str("amount", rec.Amount.String()).Msg("deposit settled")
	return rec, nil
}
