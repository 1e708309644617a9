package hub_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/omnibus_custody/config"
	"github.com/omnibus_custody/hub"
	"github.com/omnibus_custody/model"
)

func newServer(t *testing.T) (*hub.Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := hub.New(config.WebSocketConfig{ReadBufferSize: 1024, WriteBufferSize: 1024, QueueSize: 4}, zerolog.Nop())
	go h.Run(t.Context())

	r := gin.New()
	r.GET("/ws", h.ServeWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return h, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func strPtr(s string) *string { return &s }

func TestBroadcastReachesEveryClient(t *testing.T) {
	h, url := newServer(t)
	a := dial(t, url)
	b := dial(t, url)
	require.Eventually(t, func() bool { return h.Clients() == 2 }, 2*time.Second, 10*time.Millisecond)

	h.Publish(model.DepositWithdrawEvent{
		Type:            model.EventDeposit,
		Email:           strPtr("alice@example.com"),
		FromAddress:     strPtr("0x00000000000000000000000000000000000d0501"),
		Amount:          model.WeiFromInt64(1_500_000_000_000_000_000),
		Timestamp:       1767225600,
		TransactionHash: "0x01",
	})

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got map[string]any
		require.NoError(t, conn.ReadJSON(&got))
		require.Equal(t, hub.EventName, got["event"])

		data := got["data"].(map[string]any)
		require.Equal(t, "DEPOSIT", data["type"])
		require.Equal(t, "alice@example.com", data["email"])
		require.Equal(t, "0x00000000000000000000000000000000000d0501", data["from"])
		require.NotContains(t, data, "to")
		require.Equal(t, "1500000000000000000", data["amount"])
		require.EqualValues(t, 1767225600000, data["timestamp"])
	}
}

func TestWithdrawFrameCarriesRecipient(t *testing.T) {
	msg := hub.FrameOf(model.DepositWithdrawEvent{
		Type:      model.EventWithdraw,
		ToAddress: strPtr("0xaaaa"),
		Amount:    model.WeiFromInt64(7),
		Timestamp: 2,
	})
	require.Equal(t, "WITHDRAW", msg.Data.Type)
	require.Nil(t, msg.Data.From)
	require.Equal(t, "0xaaaa", *msg.Data.To)
	require.Nil(t, msg.Data.Email)
	require.Equal(t, int64(2000), msg.Data.Timestamp)
}

func TestDisconnectUnregisters(t *testing.T) {
	h, url := newServer(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return h.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()
	require.Eventually(t, func() bool { return h.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestPublishDoesNotBlockWithoutRunner(t *testing.T) {
	h := hub.New(config.WebSocketConfig{}, zerolog.Nop())
	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			h.Publish(model.DepositWithdrawEvent{Type: model.EventDeposit, Amount: model.WeiFromInt64(1)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked")
	}
}
