// Package hub fans stored deposit/withdraw events out to WebSocket clients.
package hub

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/omnibus_custody/config"
	"github.com/omnibus_custody/model"
)

const EventName = "deposit_withdraw_event"

// Message is the frame written to every client.
type Message struct {
	Event string     `json:"event"`
	Data  EventFrame `json:"data"`
}

type EventFrame struct {
	Type      string  `json:"type"`
	Email     *string `json:"email"`
	From      *string `json:"from,omitempty"`
	To        *string `json:"to,omitempty"`
	Amount    string  `json:"amount"`
	Timestamp int64   `json:"timestamp"`
}

// FrameOf converts a stored event; the timestamp is in milliseconds.
func FrameOf(ev model.DepositWithdrawEvent) Message {
	return Message{
		Event: EventName,
		Data: EventFrame{
			Type:      string(ev.Type),
			Email:     ev.Email,
			From:      ev.FromAddress,
			To:        ev.ToAddress,
			Amount:    ev.Amount.String(),
			Timestamp: ev.Timestamp * 1000,
		},
	}
}

type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	upgrader   websocket.Upgrader
	count      chan chan int
	stopped    chan struct{}
	queueSize  int
	log        zerolog.Logger
}

func New(cfg config.WebSocketConfig, log zerolog.Logger) *Hub {
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = 256
	}
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 100),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		count:      make(chan chan int),
		stopped:    make(chan struct{}),
		queueSize:  queue,
		log:        log.With().Str("component", "hub").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			if !cfg.CheckOrigin {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || strings.HasSuffix(origin, "://"+r.Host)
		},
	}
	return h
}

// Run owns the client set until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.log.Info().Str("client_id", client.id).Int("clients", len(h.clients)).Msg("client connected")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				h.log.Info().Str("client_id", client.id).Int("clients", len(h.clients)).Msg("client disconnected")
			}

		case reply := <-h.count:
			reply <- len(h.clients)

		case msg := <-h.broadcast:
			for client := range h.clients {
				if !client.Send(msg) {
					h.log.Warn().Str("client_id", client.id).Msg("client queue full, dropping client")
					delete(h.clients, client)
					client.Close()
				}
			}
		}
	}
}

// Publish never blocks; when the broadcast queue is full the event is dropped.
func (h *Hub) Publish(ev model.DepositWithdrawEvent) {
	select {
	case h.broadcast <- FrameOf(ev):
	default:
		h.log.Warn().Str("tx_hash", ev.TransactionHash).Msg("broadcast queue full, event dropped")
	}
}

// Clients reports the number of registered clients, or 0 once Run has stopped.
func (h *Hub) Clients() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.stopped:
		return 0
	}
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := newClient(uuid.NewString(), conn, h.queueSize, h.log)
	select {
	case h.register <- client:
	case <-h.stopped:
		conn.Close()
		return
	}

	go client.writePump()
	go func() {
		client.readPump()
		select {
		case h.unregister <- client:
		case <-h.stopped:
		}
	}()
}
