package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/omnibus_custody/ingest"
)

// ListenerStatus and ClientCounter are satisfied by ingest.Listener and hub.Hub.
type ListenerStatus interface {
	State() ingest.State
}

type ClientCounter interface {
	Clients() int
}

type HealthHandler struct {
	db       *gorm.DB
	listener ListenerStatus
	clients  ClientCounter
}

func NewHealthHandler(db *gorm.DB, listener ListenerStatus, clients ClientCounter) *HealthHandler {
	return &HealthHandler{db: db, listener: listener, clients: clients}
}

// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	body := gin.H{
		"status":    "healthy",
		"service":   "omnibus-custody",
		"timestamp": time.Now().UTC(),
	}
	status := http.StatusOK

	if h.db != nil {
		if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			body["status"] = "degraded"
			body["database"] = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			body["database"] = "ok"
		}
	}
	if h.listener != nil {
		body["listener"] = h.listener.State().String()
	}
	if h.clients != nil {
		body["ws_clients"] = h.clients.Clients()
	}
	c.JSON(status, body)
}
