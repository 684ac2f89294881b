package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dialTestHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()
	hub := NewHub(zap.NewNop())
	t.Cleanup(hub.Close)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return hub, conn
}

func TestPublishReachesSubscriber(t *testing.T) {
	hub, conn := dialTestHub(t)

	require.NoError(t, conn.WriteJSON(map[string][]string{"subscribe": {"trades"}}))

	// Subscription is processed asynchronously; retry until the message
	// lands or the deadline passes.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-done:
				return
			default:
				hub.Publish("trades", map[string]string{"pair": "BTC/USD"})
				time.Sleep(10 * time.Millisecond)
			}
		}
	}()

	var msg Message
	err := conn.ReadJSON(&msg)
	done <- struct{}{}
	require.NoError(t, err)
	require.Equal(t, "trades", msg.Topic)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	require.Equal(t, "BTC/USD", payload["pair"])
}

func TestUnsubscribedTopicNotDelivered(t *testing.T) {
	hub, conn := dialTestHub(t)

	require.NoError(t, conn.WriteJSON(map[string][]string{"subscribe": {"trades"}}))
	time.Sleep(50 * time.Millisecond)

	hub.Publish("prices", []string{"ignored"})
	hub.Publish("trades", map[string]string{"pair": "ETH/USD"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "trades", msg.Topic)
}

func TestPublishWithoutSubscribersDoesNotBlock(t *testing.T) {
	hub := NewHub(zap.NewNop())
	defer hub.Close()

	for i := 0; i < 1000; i++ {
		hub.Publish("trades", i)
	}
}
