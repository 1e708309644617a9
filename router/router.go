package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/omnibus_custody/handler"
	"github.com/omnibus_custody/metrics"
)

type Handlers struct {
	Auth    *handler.Authenticator
	Tx      *handler.TxHandler
	Setting *handler.SettingHandler
	Admin   *handler.AdminHandler
	Health  *handler.HealthHandler
	// WebSocket upgrades /ws; nil leaves the route unregistered.
	WebSocket gin.HandlerFunc
}

func SetupRouter(h Handlers, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	r.GET("/health", h.Health.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	if h.WebSocket != nil {
		r.GET("/ws", h.WebSocket)
	}

	authed := h.Auth.Required()

	tx := r.Group("/tx", authed)
	{
		tx.POST("/deposit", h.Tx.Deposit)
		tx.POST("/withdraw/submit", h.Tx.Submit)
		tx.POST("/withdraw/approve", h.Tx.Approve)
		tx.POST("/withdraw/execute", h.Tx.Execute)
		tx.GET("/tx-history", h.Tx.History)
		tx.GET("/balance-history", h.Tx.BalanceHistory)
	}

	setting := r.Group("/setting", authed)
	{
		setting.POST("/whitelist", h.Setting.RegisterWhitelist)
		setting.GET("/whitelist", h.Setting.Whitelist)
		setting.DELETE("/whitelist", h.Setting.RemoveWhitelist)
		setting.POST("/daily-limit", h.Setting.SetDailyLimit)
		setting.GET("/daily-limit", h.Setting.DailyLimit)
	}

	admin := r.Group("/admin", authed, handler.AdminOnly())
	{
		admin.GET("/omnibus-balance", h.Admin.OmnibusBalance)
		admin.GET("/cold-balance", h.Admin.ColdBalance)
		admin.GET("/users", h.Admin.Users)
		admin.PATCH("/users/status", h.Admin.UpdateUserStatus)
		admin.GET("/omnibus/paused", h.Admin.PausedStatus)
		admin.POST("/omnibus/pause", h.Admin.Pause)

		admin.POST("/cold/deposit", h.Admin.ColdDeposit)
		admin.POST("/cold/move/request", h.Admin.RequestMove)
		admin.POST("/cold/move/approve", h.Admin.ApproveMove)
		admin.POST("/cold/move/execute", h.Admin.ExecuteMove)

		admin.GET("/transactions", h.Admin.Events)
		admin.GET("/ledger", h.Admin.Ledger)

		admin.GET("/withdrawals/pending", h.Admin.PendingWithdrawals)
		admin.GET("/withdrawals/:txId", h.Admin.WithdrawalInfo)
		admin.POST("/withdrawals/approve", h.Admin.ApproveWithdrawal)
		admin.POST("/withdrawals/execute", h.Admin.ExecuteWithdrawal)
		admin.POST("/withdrawals/reconcile", h.Admin.ReconcileWithdrawal)
	}

	return r
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	log = log.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ev := log.Info()
		if len(c.Errors) > 0 {
			ev = log.Error().Str("errors", c.Errors.String())
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}
