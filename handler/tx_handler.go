package handler

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/omnibus_custody/apperr"
	"github.com/omnibus_custody/model"
	"github.com/omnibus_custody/service"
)

type TxHandler struct {
	withdrawals *service.WithdrawalService
	deposits    *service.DepositService
	history     *service.HistoryService
}

func NewTxHandler(withdrawals *service.WithdrawalService, deposits *service.DepositService, history *service.HistoryService) *TxHandler {
	return &TxHandler{withdrawals: withdrawals, deposits: deposits, history: history}
}

type depositRequest struct {
	TxHash string `json:"txHash" binding:"required"`
}

type submitRequest struct {
	To       string `json:"to" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type txIDRequest struct {
	TxID string `json:"txId" binding:"required"`
}

// POST /tx/deposit
func (h *TxHandler) Deposit(c *gin.Context) {
	var req depositRequest
	if !bind(c, &req) {
		return
	}
	id, _ := identityOf(c)

	row, err := h.deposits.Settle(c.Request.Context(), id.UserID, req.TxHash)
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, "deposit settled", row)
}

// POST /tx/withdraw/submit
func (h *TxHandler) Submit(c *gin.Context) {
	var req submitRequest
	if !bind(c, &req) {
		return
	}
	id, _ := identityOf(c)

	res, err := h.withdrawals.Submit(c.Request.Context(), id.Email, req.To, req.Amount, req.Password)
	if err != nil {
		fail(c, err, res)
		return
	}
	ok(c, "withdrawal submitted", res)
}

// POST /tx/withdraw/approve
func (h *TxHandler) Approve(c *gin.Context) {
	var req txIDRequest
	if !bind(c, &req) {
		return
	}

	res, err := h.withdrawals.Approve(c.Request.Context(), req.TxID)
	if err != nil {
		fail(c, err, res)
		return
	}
	ok(c, "withdrawal approved", res)
}

// POST /tx/withdraw/execute
func (h *TxHandler) Execute(c *gin.Context) {
	var req txIDRequest
	if !bind(c, &req) {
		return
	}
	id, _ := identityOf(c)

	res, err := h.withdrawals.Execute(c.Request.Context(), req.TxID, id.UserID, id.Email)
	if err != nil {
		fail(c, err, res)
		return
	}
	ok(c, "withdrawal executed", res)
}

// GET /tx/tx-history?direction=IN|OUT
func (h *TxHandler) History(c *gin.Context) {
	id, _ := identityOf(c)
	direction := model.Direction(strings.ToUpper(c.Query("direction")))

	list, err := h.withdrawals.History(c.Request.Context(), id.UserID, direction)
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, "transaction history", list)
}

// GET /tx/balance-history?days=7
func (h *TxHandler) BalanceHistory(c *gin.Context) {
	id, _ := identityOf(c)
	days, good := queryInt(c, "days", 7)
	if !good {
		return
	}

	hist, err := h.history.DailyBalances(c.Request.Context(), id.UserID, days, time.Now())
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, "balance history", hist)
}

// queryInt reads an optional positive integer query parameter.
func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		fail(c, apperr.Validation(apperr.CodeInvalidParameter, name+" must be a positive integer"), nil)
		return 0, false
	}
	return n, true
}
