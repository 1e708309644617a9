package service_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/omnibus_custody/apperr"
	"github.com/omnibus_custody/chain"
	"github.com/omnibus_custody/chain/chaintest"
	"github.com/omnibus_custody/model"
	"github.com/omnibus_custody/repository"
	"github.com/omnibus_custody/repository/repotest"
	"github.com/omnibus_custody/service"
)

const password = "correct horse"

var (
	recipient = common.HexToAddress("0xAAAaaAaAaaAAaAaAaAaaaAAAaaAAaAAaaAAAAaA1")
	// 0.01 ether
	threshold = big.NewInt(10_000_000_000_000_000)
)

type env struct {
	chain     *chaintest.Chain
	db        *gorm.DB
	users     *repository.UserRepository
	ledger    *repository.LedgerRepository
	events    *repository.EventRepository
	whitelist *repository.WhitelistRepository

	withdrawals *service.WithdrawalService
	deposits    *service.DepositService
	cold        *service.ColdVaultService
	admin       *service.AdminService
	settings    *service.SettingService
	history     *service.HistoryService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	c := chaintest.New()
	db := repotest.Open(t)
	e := &env{
		chain:     c,
		db:        db,
		users:     repository.NewUserRepository(db),
		ledger:    repository.NewLedgerRepository(db),
		events:    repository.NewEventRepository(db),
		whitelist: repository.NewWhitelistRepository(db),
	}
	contracts := service.Contracts{Omnibus: c.Omnibus, Cold: c.Cold, Guard: c.Guard, Reader: c}
	log := zerolog.Nop()
	e.withdrawals = service.NewWithdrawalService(contracts, e.users, e.ledger, threshold, log)
	e.deposits = service.NewDepositService(contracts, e.users, e.ledger, log)
	e.cold = service.NewColdVaultService(contracts, log)
	e.admin = service.NewAdminService(contracts, e.users, e.ledger, e.events, threshold, 0, log)
	e.settings = service.NewSettingService(contracts, e.users, e.whitelist, log)
	e.history = service.NewHistoryService(e.users, e.ledger, log)
	c.Fund(ether(t, "10"))
	return e
}

func (e *env) seedUser(t *testing.T, email string, balance *big.Int) *model.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	u := &model.User{Email: email, Password: string(hash), Balance: model.NewWei(balance)}
	require.NoError(t, e.users.Create(t.Context(), u))
	return u
}

// balanceOf returns the stored balance in wei as a decimal string.
func (e *env) balanceOf(t *testing.T, userID string) string {
	t.Helper()
	u, err := e.users.FindByID(t.Context(), userID)
	require.NoError(t, err)
	return u.Balance.String()
}

// approved submits and TSS-approves a withdrawal of amount for u.
func (e *env) approved(t *testing.T, u *model.User, amount string) string {
	t.Helper()
	sub, err := e.withdrawals.Submit(t.Context(), u.Email, recipient.Hex(), amount, password)
	require.NoError(t, err)
	_, err = e.withdrawals.Approve(t.Context(), sub.TxID)
	require.NoError(t, err)
	return sub.TxID
}

func ether(t testing.TB, s string) *big.Int {
	t.Helper()
	v, err := chain.ParseEther(s)
	require.NoError(t, err)
	return v
}

func requireCode(t *testing.T, err error, kind apperr.Kind, code string) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, apperr.KindOf(err), "error: %v", err)
	require.Equal(t, code, apperr.CodeOf(err), "error: %v", err)
}
