package router_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/omnibus_custody/chain"
	"github.com/omnibus_custody/chain/chaintest"
	"github.com/omnibus_custody/handler"
	"github.com/omnibus_custody/model"
	"github.com/omnibus_custody/repository"
	"github.com/omnibus_custody/repository/repotest"
	"github.com/omnibus_custody/router"
	"github.com/omnibus_custody/service"
)

const (
	secret   = "0123456789abcdef0123456789abcdef"
	password = "correct horse"
)

var recipient = common.HexToAddress("0xAAAaaAaAaaAAaAaAaAaaaAAAaaAAaAAaaAAAAaA1")

type harness struct {
	engine *gin.Engine
	chain  *chaintest.Chain
	users  *repository.UserRepository
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	c := chaintest.New()
	c.Fund(new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18)))
	db := repotest.Open(t)
	log := zerolog.Nop()

	users := repository.NewUserRepository(db)
	ledger := repository.NewLedgerRepository(db)
	events := repository.NewEventRepository(db)
	whitelist := repository.NewWhitelistRepository(db)
	contracts := service.Contracts{Omnibus: c.Omnibus, Cold: c.Cold, Guard: c.Guard, Reader: c}
	threshold := big.NewInt(10_000_000_000_000_000)

	h := router.Handlers{
		Auth: handler.NewAuthenticator(secret, users, log),
		Tx: handler.NewTxHandler(
			service.NewWithdrawalService(contracts, users, ledger, threshold, log),
			service.NewDepositService(contracts, users, ledger, log),
			service.NewHistoryService(users, ledger, log),
		),
		Setting: handler.NewSettingHandler(service.NewSettingService(contracts, users, whitelist, log)),
		Admin: handler.NewAdminHandler(
			service.NewAdminService(contracts, users, ledger, events, threshold, 0, log),
			service.NewColdVaultService(contracts, log),
		),
		Health: handler.NewHealthHandler(db, nil, nil),
	}
	return &harness{engine: router.SetupRouter(h, log), chain: c, users: users}
}

func (h *harness) seed(t *testing.T, email string, role model.Role, balance int64) *model.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	u := &model.User{Email: email, Password: string(hash), Role: role, Balance: model.WeiFromInt64(balance)}
	require.NoError(t, h.users.Create(t.Context(), u))
	return u
}

func token(t *testing.T, key string, method jwt.SigningMethod, u *model.User) string {
	t.Helper()
	claims := handler.Claims{
		Email: u.Email,
		Role:  string(u.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

type response struct {
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (h *harness) do(t *testing.T, method, path, bearer string, body any) (int, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)

	var res response
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res), w.Body.String())
	}
	return w.Code, res
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"database":"ok"`)
}

func TestAuthentication(t *testing.T) {
	h := newHarness(t)
	u := h.seed(t, "alice@example.com", model.RoleUser, 0)

	code, res := h.do(t, http.MethodGet, "/tx/tx-history", "", nil)
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, "unauthenticated", res.Error)

	code, _ = h.do(t, http.MethodGet, "/tx/tx-history", token(t, "some-other-secret-value", jwt.SigningMethodHS256, u), nil)
	require.Equal(t, http.StatusUnauthorized, code)

	ghost := &model.User{ID: "00000000-0000-0000-0000-000000000000", Email: "ghost@example.com"}
	code, _ = h.do(t, http.MethodGet, "/tx/tx-history", token(t, secret, jwt.SigningMethodHS256, ghost), nil)
	require.Equal(t, http.StatusUnauthorized, code)

	code, _ = h.do(t, http.MethodGet, "/tx/tx-history", token(t, secret, jwt.SigningMethodHS384, u), nil)
	require.Equal(t, http.StatusUnauthorized, code, "only HS256 is accepted")

	code, res = h.do(t, http.MethodGet, "/tx/tx-history", token(t, secret, jwt.SigningMethodHS256, u), nil)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `[]`, string(res.Data))
}

func TestAdminGuard(t *testing.T) {
	h := newHarness(t)
	u := h.seed(t, "alice@example.com", model.RoleUser, 0)
	admin := h.seed(t, "ops@example.com", model.RoleAdmin, 0)

	code, res := h.do(t, http.MethodGet, "/admin/users", token(t, secret, jwt.SigningMethodHS256, u), nil)
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, "forbidden", res.Error)

	code, res = h.do(t, http.MethodGet, "/admin/users", token(t, secret, jwt.SigningMethodHS256, admin), nil)
	require.Equal(t, http.StatusOK, code)
	var list []model.User
	require.NoError(t, json.Unmarshal(res.Data, &list))
	require.Len(t, list, 2)
}

func TestWithdrawalOverHTTP(t *testing.T) {
	h := newHarness(t)
	u := h.seed(t, "alice@example.com", model.RoleUser, 1_000_000_000_000_000_000)
	admin := h.seed(t, "ops@example.com", model.RoleAdmin, 0)
	userTok := token(t, secret, jwt.SigningMethodHS256, u)
	adminTok := token(t, secret, jwt.SigningMethodHS256, admin)

	code, res := h.do(t, http.MethodPost, "/tx/withdraw/submit", userTok, gin.H{
		"to": recipient.Hex(), "amount": "0.5", "password": password,
	})
	require.Equal(t, http.StatusOK, code, res.Message)
	var sub service.SubmitResult
	require.NoError(t, json.Unmarshal(res.Data, &sub))
	require.Equal(t, service.StatusSubmitted, sub.Status)

	code, res = h.do(t, http.MethodPost, "/tx/withdraw/approve", userTok, gin.H{"txId": sub.TxID})
	require.Equal(t, http.StatusOK, code, res.Message)

	code, res = h.do(t, http.MethodPost, "/tx/withdraw/execute", userTok, gin.H{"txId": sub.TxID})
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "manager_approval_missing", res.Error)

	code, res = h.do(t, http.MethodGet, "/admin/withdrawals/pending", adminTok, nil)
	require.Equal(t, http.StatusOK, code)
	var pending []service.PendingWithdrawal
	require.NoError(t, json.Unmarshal(res.Data, &pending))
	require.Len(t, pending, 1)
	require.Equal(t, sub.TxID, pending[0].TxID)
	require.Equal(t, u.Email, pending[0].Email)

	code, res = h.do(t, http.MethodPost, "/admin/withdrawals/approve", adminTok, gin.H{"txId": sub.TxID})
	require.Equal(t, http.StatusOK, code, res.Message)

	code, res = h.do(t, http.MethodPost, "/tx/withdraw/execute", userTok, gin.H{"txId": sub.TxID})
	require.Equal(t, http.StatusOK, code, res.Message)
	var exec service.ExecuteResult
	require.NoError(t, json.Unmarshal(res.Data, &exec))
	require.Equal(t, service.StatusExecuted, exec.Status)

	stored, err := h.users.FindByID(t.Context(), u.ID)
	require.NoError(t, err)
	require.Equal(t, "500000000000000000", stored.Balance.String())

	code, res = h.do(t, http.MethodGet, "/tx/tx-history?direction=out", userTok, nil)
	require.Equal(t, http.StatusOK, code)
	var rows []model.Transaction
	require.NoError(t, json.Unmarshal(res.Data, &rows))
	require.Len(t, rows, 1)
	require.Equal(t, model.DirectionOut, rows[0].Direction)

	code, res = h.do(t, http.MethodPost, "/tx/withdraw/execute", userTok, gin.H{"txId": sub.TxID})
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "already_executed", res.Error)
}

func TestRequestValidation(t *testing.T) {
	h := newHarness(t)
	u := h.seed(t, "alice@example.com", model.RoleUser, 0)
	tok := token(t, secret, jwt.SigningMethodHS256, u)

	code, res := h.do(t, http.MethodPost, "/tx/withdraw/submit", tok, gin.H{"to": recipient.Hex()})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "invalid_parameter", res.Error)

	code, res = h.do(t, http.MethodPost, "/tx/withdraw/submit", tok, gin.H{"to": recipient.Hex(), "amount": "1", "password": "wrong"})
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, "invalid_credential", res.Error)

	code, res = h.do(t, http.MethodGet, "/tx/balance-history?days=abc", tok, nil)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "invalid_parameter", res.Error)

	code, res = h.do(t, http.MethodGet, "/tx/tx-history?direction=sideways", tok, nil)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "invalid_parameter", res.Error)

	code, res = h.do(t, http.MethodPost, "/tx/withdraw/submit", tok, gin.H{"to": recipient.Hex(), "amount": "0.005", "password": password})
	require.Equal(t, http.StatusOK, code, res.Message)
	var sub service.SubmitResult
	require.NoError(t, json.Unmarshal(res.Data, &sub))
	code, _ = h.do(t, http.MethodPost, "/tx/withdraw/approve", tok, gin.H{"txId": sub.TxID})
	require.Equal(t, http.StatusOK, code)

	code, res = h.do(t, http.MethodPost, "/tx/withdraw/execute", tok, gin.H{"txId": sub.TxID})
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Equal(t, "insufficient_balance", res.Error)
}

func TestSettingsOverHTTP(t *testing.T) {
	h := newHarness(t)
	u := h.seed(t, "alice@example.com", model.RoleUser, 0)
	tok := token(t, secret, jwt.SigningMethodHS256, u)

	code, res := h.do(t, http.MethodPost, "/setting/whitelist", tok, gin.H{"to": recipient.Hex()})
	require.Equal(t, http.StatusOK, code, res.Message)

	code, res = h.do(t, http.MethodGet, "/setting/whitelist", tok, nil)
	require.Equal(t, http.StatusOK, code)
	var list []model.WithdrawalWhitelist
	require.NoError(t, json.Unmarshal(res.Data, &list))
	require.Len(t, list, 1)

	code, _ = h.do(t, http.MethodDelete, "/setting/whitelist", tok, gin.H{"to": recipient.Hex()})
	require.Equal(t, http.StatusOK, code)
	code, res = h.do(t, http.MethodDelete, "/setting/whitelist", tok, gin.H{"to": recipient.Hex()})
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "not_whitelisted", res.Error)

	code, res = h.do(t, http.MethodPost, "/setting/daily-limit", tok, gin.H{"maxEth": 1.5})
	require.Equal(t, http.StatusOK, code, res.Message)

	code, res = h.do(t, http.MethodGet, "/setting/daily-limit", tok, nil)
	require.Equal(t, http.StatusOK, code)
	var view service.DailyLimitView
	require.NoError(t, json.Unmarshal(res.Data, &view))
	require.False(t, view.IsUnlimited)
	require.Equal(t, "0", view.Spent)

	code, res = h.do(t, http.MethodPost, "/setting/daily-limit", tok, gin.H{"maxEth": "-1"})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "invalid_amount", res.Error)
}

func TestColdMoveOverHTTP(t *testing.T) {
	h := newHarness(t)
	admin := h.seed(t, "ops@example.com", model.RoleAdmin, 0)
	tok := token(t, secret, jwt.SigningMethodHS256, admin)

	code, res := h.do(t, http.MethodPost, "/admin/cold/deposit", tok, gin.H{"amountEth": "2"})
	require.Equal(t, http.StatusOK, code, res.Message)

	code, res = h.do(t, http.MethodPost, "/admin/cold/move/request", tok, gin.H{"amountEth": "1"})
	require.Equal(t, http.StatusOK, code, res.Message)
	var move service.MoveResult
	require.NoError(t, json.Unmarshal(res.Data, &move))
	require.NotEmpty(t, move.MoveID)

	code, res = h.do(t, http.MethodPost, "/admin/cold/move/execute", tok, gin.H{"moveId": move.MoveID})
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "approval_incomplete", res.Error)

	h.chain.FailNext("cold.approveMove/tss", &chain.Error{Op: "cold.approveMove", Code: chain.CodeRPC, Err: errors.New("connection reset")})
	code, res = h.do(t, http.MethodPost, "/admin/cold/move/approve", tok, gin.H{"moveId": move.MoveID})
	require.Equal(t, http.StatusAccepted, code)
	require.Equal(t, "second_approval_failed", res.Error)
	var approval service.MoveApproval
	require.NoError(t, json.Unmarshal(res.Data, &approval))
	require.Equal(t, service.LegSucceeded, approval.First)
	require.Equal(t, service.LegFailed, approval.Second)

	code, res = h.do(t, http.MethodPost, "/admin/cold/move/approve", tok, gin.H{"moveId": move.MoveID})
	require.Equal(t, http.StatusOK, code, res.Message)
	require.NoError(t, json.Unmarshal(res.Data, &approval))
	require.Equal(t, service.LegAlreadyApproved, approval.First)
	require.Equal(t, service.LegSucceeded, approval.Second)

	code, res = h.do(t, http.MethodPost, "/admin/cold/move/execute", tok, gin.H{"moveId": move.MoveID})
	require.Equal(t, http.StatusOK, code, res.Message)

	code, res = h.do(t, http.MethodGet, "/admin/cold-balance", tok, nil)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"balance":"1","balanceWei":"1000000000000000000"}`, string(res.Data))
}

func TestPauseOverHTTP(t *testing.T) {
	h := newHarness(t)
	admin := h.seed(t, "ops@example.com", model.RoleAdmin, 0)
	tok := token(t, secret, jwt.SigningMethodHS256, admin)

	code, res := h.do(t, http.MethodPost, "/admin/omnibus/pause", tok, gin.H{})
	require.Equal(t, http.StatusBadRequest, code)

	code, res = h.do(t, http.MethodPost, "/admin/omnibus/pause", tok, gin.H{"paused": true})
	require.Equal(t, http.StatusOK, code, res.Message)
	require.Equal(t, "omnibus paused", res.Message)

	code, res = h.do(t, http.MethodGet, "/admin/omnibus/paused", tok, nil)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"paused":true}`, string(res.Data))
}
