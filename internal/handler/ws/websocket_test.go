package ws

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/docchat/internal/backend"
	chatservice "github.com/zhouzirui/docchat/internal/service/chat"
	"github.com/zhouzirui/docchat/internal/service/events"
	"github.com/zhouzirui/docchat/internal/storage"
)

type received struct {
	Type string          `json:"type"`
	Seq  uint64          `json:"seq"`
	Data json.RawMessage `json:"data"`
}

func dial(t *testing.T) (*websocket.Conn, *chatservice.Service) {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"conv_id":"c1","reply":"hi there"}`)
	}))
	t.Cleanup(upstream.Close)

	bus := events.NewBus(nil)
	t.Cleanup(func() { _ = bus.Close() })
	svc := chatservice.NewService(backend.NewClient(upstream.URL), storage.NewMemoryStore(nil), chatservice.WithPublisher(bus))

	r := chi.NewRouter()
	NewWebSocketHandler(svc, bus, nil).RegisterWebSocketRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, svc
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) received {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg received
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == typ {
			return msg
		}
	}
}

func TestWebSocketSendCommand(t *testing.T) {
	conn, svc := dial(t)

	readUntil(t, conn, "snapshot")

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "send",
		"data": map[string]string{"text": "hello"},
	}))

	reply := readUntil(t, conn, string(events.TypeReplyReceived))
	var evt events.Event
	require.NoError(t, json.Unmarshal(reply.Data, &evt))
	require.Len(t, evt.Snapshot.Messages, 2)
	assert.Equal(t, "hi there", evt.Snapshot.Messages[1].Text)
	assert.Equal(t, "c1", svc.Snapshot().Session.ConversationID)
}

func TestWebSocketUnknownCommand(t *testing.T) {
	conn, _ := dial(t)

	readUntil(t, conn, "snapshot")
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "dance"}))

	msg := readUntil(t, conn, "error")
	assert.Contains(t, string(msg.Data), "unsupported message type")
}

func TestWebSocketRejectsUnlistedOrigin(t *testing.T) {
	bus := events.NewBus(nil)
	t.Cleanup(func() { _ = bus.Close() })
	svc := chatservice.NewService(backend.NewClient("http://127.0.0.1:1"), storage.NewMemoryStore(nil), chatservice.WithPublisher(bus))

	r := chi.NewRouter()
	NewWebSocketHandler(svc, bus, nil, "http://app.test").RegisterWebSocketRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.test"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://app.test"}})
	require.NoError(t, err)
	conn.Close()

	conn, _, err = websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err, "clients without an Origin header are not browsers")
	conn.Close()
}
