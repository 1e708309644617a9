package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/omnibus_custody/apperr"
	"github.com/omnibus_custody/chain"
	"github.com/omnibus_custody/model"
	"github.com/omnibus_custody/repository"
)

type DailyLimitView struct {
	Max         string  `json:"max"`
	Spent       string  `json:"spent"`
	Remaining   *string `json:"remaining"`
	DayKey      uint64  `json:"dayKey"`
	TodayKey    uint64  `json:"todayKey"`
	IsUnlimited bool    `json:"isUnlimited"`
	IsNewDay    bool    `json:"isNewDay"`
}

type SetLimitResult struct {
	Max         string `json:"max"`
	IsUnlimited bool   `json:"isUnlimited"`
	TxHash      string `json:"txHash"`
}

// SettingService keeps the per-user withdrawal whitelist and daily limit in
// the policy guard, mirroring the whitelist in the database.
type SettingService struct {
	guard     GuardContract
	users     *repository.UserRepository
	whitelist *repository.WhitelistRepository
	log       zerolog.Logger
}

func NewSettingService(c Contracts, users *repository.UserRepository, whitelist *repository.WhitelistRepository, log zerolog.Logger) *SettingService {
	return &SettingService{
		guard:     c.Guard,
		users:     users,
		whitelist: whitelist,
		log:       log.With().Str("component", "setting").Logger(),
	}
}

func (s *SettingService) user(ctx context.Context, userID string) (*model.User, error) {
	u, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound(apperr.CodeUserNotFound, "user not found")
	}
	if err != nil {
		return nil, apperr.Internal("load user", err)
	}
	return u, nil
}

// RegisterWhitelist allows to for the user, on the guard first when one is
// configured.
func (s *SettingService) RegisterWhitelist(ctx context.Context, userID, to string) (*model.WithdrawalWhitelist, error) {
	u, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	addr, err := chain.ParseAddress(to)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidAddress, "invalid address", err)
	}
	if s.guard != nil {
		if _, err := s.guard.SetUserWL(ctx, chain.UserKey(u.Email), addr); err != nil {
			return nil, chainFailure("setUserWL", err)
		}
	}
	row, err := s.whitelist.Upsert(ctx, u.ID, addr.Hex())
	if err != nil {
		return nil, apperr.Internal("save whitelist", err)
	}
	return row, nil
}

func (s *SettingService) Whitelist(ctx context.Context, userID string) ([]model.WithdrawalWhitelist, error) {
	list, err := s.whitelist.List(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("list whitelist", err)
	}
	return list, nil
}

func (s *SettingService) RemoveWhitelist(ctx context.Context, userID, to string) error {
	u, err := s.user(ctx, userID)
	if err != nil {
		return err
	}
	addr, err := chain.ParseAddress(to)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidAddress, "invalid address", err)
	}
	if s.guard != nil {
		if _, err := s.guard.UnsetUserWL(ctx, chain.UserKey(u.Email), addr); err != nil {
			return chainFailure("unsetUserWL", err)
		}
	}
	err = s.whitelist.Delete(ctx, u.ID, addr.Hex())
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(apperr.CodeNotWhitelisted, "address is not whitelisted")
	}
	if err != nil {
		return apperr.Internal("delete whitelist", err)
	}
	return nil
}

// SetDailyLimit sets the user's daily maximum; "0" removes the limit.
func (s *SettingService) SetDailyLimit(ctx context.Context, userID, maxEth string) (*SetLimitResult, error) {
	if s.guard == nil {
		return nil, apperr.New(apperr.KindChainFailure, apperr.CodeGuardUnavailable, "policy guard is not configured")
	}
	u, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	wei, err := chain.ParseEtherOrZero(maxEth)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidAmount, "daily limit must be a non-negative amount", err)
	}
	rcpt, err := s.guard.SetUserDailyLimit(ctx, chain.UserKey(u.Email), wei)
	if err != nil {
		return nil, chainFailure("setUserDailyLimit", err)
	}
	s.log.Info().Str("user_id", u.ID).Str("max", wei.String()).Msg("daily limit set")
	return &SetLimitResult{Max: chain.FormatEther(wei), IsUnlimited: wei.Sign() == 0, TxHash: rcpt.TxHash.Hex()}, nil
}

func (s *SettingService) DailyLimit(ctx context.Context, userID string, now time.Time) (*DailyLimitView, error) {
	if s.guard == nil {
		return nil, apperr.New(apperr.KindChainFailure, apperr.CodeGuardUnavailable, "policy guard is not configured")
	}
	u, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	l, err := s.guard.UserDailyLimit(ctx, chain.UserKey(u.Email))
	if err != nil {
		return nil, chainFailure("userDailyETH", err)
	}
	today := chain.DayKeyOf(now)
	view := &DailyLimitView{
		Max:         chain.FormatEther(l.Max),
		Spent:       chain.FormatEther(l.Spent),
		DayKey:      l.DayKey,
		TodayKey:    today,
		IsUnlimited: l.Unlimited(),
		IsNewDay:    l.DayKey != today,
	}
	if view.IsNewDay {
		view.Spent = "0"
	}
	if rem := l.Remaining(now); rem != nil {
		r := chain.FormatEther(rem)
		view.Remaining = &r
	}
	return view, nil
}
