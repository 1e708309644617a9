package handler

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/omnibus_custody/service"
)

type SettingHandler struct {
	settings *service.SettingService
}

func NewSettingHandler(settings *service.SettingService) *SettingHandler {
	return &SettingHandler{settings: settings}
}

type whitelistRequest struct {
	To string `json:"to" binding:"required"`
}

// maxEth is accepted as a JSON number or a numeric string.
type dailyLimitRequest struct {
	MaxEth json.Number `json:"maxEth" binding:"required"`
}

// POST /setting/whitelist
func (h *SettingHandler) RegisterWhitelist(c *gin.Context) {
	var req whitelistRequest
	if !bind(c, &req) {
		return
	}
	id, _ := identityOf(c)

	row, err := h.settings.RegisterWhitelist(c.Request.Context(), id.UserID, req.To)
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, "whitelist address registered", row)
}

// GET /setting/whitelist
func (h *SettingHandler) Whitelist(c *gin.Context) {
	id, _ := identityOf(c)

	list, err := h.settings.Whitelist(c.Request.Context(), id.UserID)
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, "whitelist", list)
}

// DELETE /setting/whitelist
func (h *SettingHandler) RemoveWhitelist(c *gin.Context) {
	var req whitelistRequest
	if !bind(c, &req) {
		return
	}
	id, _ := identityOf(c)

	if err := h.settings.RemoveWhitelist(c.Request.Context(), id.UserID, req.To); err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, "whitelist address removed", gin.H{"to": req.To})
}

// POST /setting/daily-limit
func (h *SettingHandler) SetDailyLimit(c *gin.Context) {
	var req dailyLimitRequest
	if !bind(c, &req) {
		return
	}
	id, _ := identityOf(c)

	res, err := h.settings.SetDailyLimit(c.Request.Context(), id.UserID, req.MaxEth.String())
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, "daily limit set", res)
}

// GET /setting/daily-limit
func (h *SettingHandler) DailyLimit(c *gin.Context) {
	id, _ := identityOf(c)

	view, err := h.settings.DailyLimit(c.Request.Context(), id.UserID, time.Now())
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, "daily limit", view)
}
