package service

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"github.com/omnibus_custody/apperr"
	"github.com/omnibus_custody/chain"
	"github.com/omnibus_custody/model"
	"github.com/omnibus_custody/repository"
)

const maxHistoryDays = 366

type DailyBalance struct {
	Date       string `json:"date"`
	Balance    string `json:"balance"`
	BalanceWei string `json:"balanceWei"`
}

// BalanceHistory is the end-of-day balance for each requested day, oldest
// first. Drift is set when the ledger rows do not add up to the stored
// balance; the affected days are best effort.
type BalanceHistory struct {
	Days  []DailyBalance `json:"days"`
	Drift bool           `json:"drift"`
}

type HistoryService struct {
	users  *repository.UserRepository
	ledger *repository.LedgerRepository
	log    zerolog.Logger
}

func NewHistoryService(users *repository.UserRepository, ledger *repository.LedgerRepository, log zerolog.Logger) *HistoryService {
	return &HistoryService{users: users, ledger: ledger, log: log.With().Str("component", "history").Logger()}
}

// DailyBalances walks back from the current balance over the user's ledger
// rows, newest first, in a single pass.
func (s *HistoryService) DailyBalances(ctx context.Context, userID string, days int, now time.Time) (*BalanceHistory, error) {
	if days <= 0 || days > maxHistoryDays {
		return nil, apperr.Validation(apperr.CodeInvalidParameter, "days must be between 1 and 366")
	}
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound(apperr.CodeUserNotFound, "user not found")
	}
	if err != nil {
		return nil, apperr.Internal("load user", err)
	}

	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	rows, err := s.ledger.ListByUserSince(ctx, userID, today.AddDate(0, 0, -(days-1)))
	if err != nil {
		return nil, apperr.Internal("list transactions", err)
	}

	out := &BalanceHistory{Days: make([]DailyBalance, days)}
	bal := user.Balance.Big()
	next := 0
	for i := 0; i < days; i++ {
		dayStart := today.AddDate(0, 0, -i)
		out.Days[days-1-i] = DailyBalance{
			Date:       dayStart.Format("2006-01-02"),
			Balance:    chain.FormatEther(bal),
			BalanceWei: bal.String(),
		}
		for ; next < len(rows) && !rows[next].CreatedAt.Before(dayStart); next++ {
			chainTies(rows, next, bal)
			r := rows[next]
			if bal.Cmp(r.BalanceAfter.Big()) != 0 {
				out.Drift = true
			}
			switch r.Direction {
			case model.DirectionIn:
				bal.Sub(bal, r.Amount.Big())
			case model.DirectionOut:
				bal.Add(bal, r.Amount.Big())
			}
			if bal.Sign() < 0 {
				bal = new(big.Int)
				out.Drift = true
			}
		}
	}
	if out.Drift {
		s.log.Warn().Str("user_id", userID).Msg("ledger rows do not reconcile with the stored balance")
	}
	return out, nil
}

// chainTies moves the row whose balance_after matches bal to position i when
// several rows share its created_at, so equal timestamps never read as drift.
func chainTies(rows []model.Transaction, i int, bal *big.Int) {
	if bal.Cmp(rows[i].BalanceAfter.Big()) == 0 {
		return
	}
	for j := i + 1; j < len(rows) && rows[j].CreatedAt.Equal(rows[i].CreatedAt); j++ {
		if bal.Cmp(rows[j].BalanceAfter.Big()) == 0 {
			rows[i], rows[j] = rows[j], rows[i]
			return
		}
	}
}
