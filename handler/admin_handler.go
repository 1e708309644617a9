package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/omnibus_custody/service"
)

// AdminHandler serves /admin; every route runs behind Required and AdminOnly.
type AdminHandler struct {
	admin *service.AdminService
	cold  *service.ColdVaultService
}

func NewAdminHandler(admin *service.AdminService, cold *service.ColdVaultService) *AdminHandler {
	return &AdminHandler{admin: admin, cold: cold}
}

type userStatusRequest struct {
	UserID string `json:"userId" binding:"required"`
	Status string `json:"status" binding:"required"`
}

type pauseRequest struct {
	Paused *bool `json:"paused" binding:"required"`
}

type amountRequest struct {
	AmountEth string `json:"amountEth" binding:"required"`
}

type moveIDRequest struct {
	MoveID string `json:"moveId" binding:"required"`
}

type reconcileRequest struct {
	TxID   string `json:"txId" binding:"required"`
	TxHash string `json:"txHash" binding:"required"`
}

// GET /admin/omnibus-balance
func (h *AdminHandler) OmnibusBalance(c *gin.Context) {
	b, err := h.cold.Balances(c.Request.Context())
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, "omnibus balance", gin.H{"balance": b.Omnibus, "balanceWei": b.OmnibusWei})
}

// GET /admin/cold-balance
func (h *AdminHandler) ColdBalance(c *gin.Context) {
	b, err := h.cold.Balances(c.Request.Context())
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, "cold balance", gin.H{"balance": b.Cold, "balanceWei": b.ColdWei})
}

// GET /admin/users
func (h *AdminHandler) Users(c *gin.Context) {
	list, err := h.admin.Users(c.Request.Context())
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, "users", list)
}

// PATCH /admin/users/status
func (h *AdminHandler) UpdateUserStatus(c *gin.Context) {
	var req userStatusRequest
	if !bind(c, &req) {
		return
	}
	user, err := h.admin.UpdateUserStatus(c.Request.Context(), req.UserID, req.Status)
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, "user status updated", user)
}

// GET /admin/omnibus/paused
func (h *AdminHandler) PausedStatus(c *gin.Context) {
	paused, err := h.admin.PausedStatus(c.Request.Context())
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, "omnibus status", gin.H{"paused": paused})
}

// POST /admin/omnibus/pause
func (h *AdminHandler) Pause(c *gin.Context) {
	var req pauseRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.admin.Pause(c.Request.Context(), *req.Paused)
	if err != nil {
		fail(c, err, nil)
		return
	}
	msg := "omnibus unpaused"
	if res.Paused {
		msg = "omnibus paused"
	}
	if !res.Changed {
		msg = "omnibus already in requested state"
	}
	ok(c, msg, res)
}

// POST /admin/cold/deposit
func (h *AdminHandler) ColdDeposit(c *gin.Context) {
	var req amountRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.cold.Deposit(c.Request.Context(), req.AmountEth)
	if err != nil {
		fail(c, err, res)
		return
	}
	ok(c, "cold vault deposit confirmed", res)
}

// POST /admin/cold/move/request
func (h *AdminHandler) RequestMove(c *gin.Context) {
	var req amountRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.cold.RequestMove(c.Request.Context(), req.AmountEth)
	if err != nil {
		fail(c, err, res)
		return
	}
	ok(c, "move requested", res)
}

// POST /admin/cold/move/approve
func (h *AdminHandler) ApproveMove(c *gin.Context) {
	var req moveIDRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.cold.ApproveMove(c.Request.Context(), req.MoveID)
	if err != nil {
		fail(c, err, res)
		return
	}
	ok(c, "move approved", res)
}

// POST /admin/cold/move/execute
func (h *AdminHandler) ExecuteMove(c *gin.Context) {
	var req moveIDRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.cold.ExecuteMove(c.Request.Context(), req.MoveID)
	if err != nil {
		fail(c, err, res)
		return
	}
	ok(c, "move executed", res)
}

// GET /admin/transactions?limit=
// Lists ingested deposit/withdraw events.
func (h *AdminHandler) Events(c *gin.Context) {
	limit, good := queryInt(c, "limit", 100)
	if !good {
		return
	}
	page, err := h.admin.Events(c.Request.Context(), limit)
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, "deposit/withdraw events", page)
}

// GET /admin/ledger?limit=
func (h *AdminHandler) Ledger(c *gin.Context) {
	limit, good := queryInt(c, "limit", 100)
	if !good {
		return
	}
	list, err := h.admin.Transactions(c.Request.Context(), limit)
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, "ledger", list)
}

// GET /admin/withdrawals/pending?limit=
func (h *AdminHandler) PendingWithdrawals(c *gin.Context) {
	limit, good := queryInt(c, "limit", 50)
	if !good {
		return
	}
	list, err := h.admin.PendingWithdrawals(c.Request.Context(), limit)
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, "pending withdrawals", list)
}

// GET /admin/withdrawals/:txId
func (h *AdminHandler) WithdrawalInfo(c *gin.Context) {
	info, err := h.admin.WithdrawalInfo(c.Request.Context(), c.Param("txId"))
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, "withdrawal", info)
}

// POST /admin/withdrawals/approve
func (h *AdminHandler) ApproveWithdrawal(c *gin.Context) {
	var req txIDRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.admin.ApproveWithdrawal(c.Request.Context(), req.TxID)
	if err != nil {
		fail(c, err, res)
		return
	}
	ok(c, "withdrawal approved by manager", res)
}

// POST /admin/withdrawals/execute
func (h *AdminHandler) ExecuteWithdrawal(c *gin.Context) {
	var req txIDRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.admin.ExecuteWithdrawal(c.Request.Context(), req.TxID)
	if err != nil {
		fail(c, err, res)
		return
	}
	ok(c, "withdrawal executed", res)
}

// POST /admin/withdrawals/reconcile
func (h *AdminHandler) ReconcileWithdrawal(c *gin.Context) {
	var req reconcileRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.admin.ReconcileWithdrawal(c.Request.Context(), req.TxID, req.TxHash)
	if err != nil {
		fail(c, err, res)
		return
	}
	ok(c, "withdrawal settled", res)
}
