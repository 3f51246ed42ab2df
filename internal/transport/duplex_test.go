package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webthings/thingcheck/internal/dialect"
)

// echoThing answers every setProperty with a propertyStatus and, when asked,
// sends a burst of unsolicited notifications before the caller reads any.
func echoThing(t *testing.T, burst int) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for i := 0; i < burst; i++ {
			_ = conn.WriteJSON(map[string]any{"messageType": "propertyStatus", "data": map[string]any{"n": i}})
		}
		for {
			var env map[string]any
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if env["messageType"] == "setProperty" {
				_ = conn.WriteJSON(map[string]any{"messageType": "propertyStatus", "data": env["data"]})
			}
			if env["messageType"] == "garbage" {
				_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestDuplexSendReceive(t *testing.T) {
	server := echoThing(t, 0)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dx, err := Dial(ctx, wsURL(server), dialect.MustParse("Webthings"))
	require.NoError(t, err)

	require.NoError(t, dx.Send(ctx, MsgSetProperty, map[string]any{"brightness": 10}))
	msg, err := dx.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, MsgPropertyStatus, msg.Type)
	assert.Equal(t, map[string]any{"brightness": 10.0}, msg.Data)

	assert.NoError(t, dx.Close())
	assert.NoError(t, dx.Close())

	_, err = dx.Receive(ctx)
	assert.True(t, IsClosed(err))
}

func TestDuplexBuffersUnreadMessages(t *testing.T) {
	server := echoThing(t, 5)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dx, err := Dial(ctx, wsURL(server), dialect.MustParse("WoT"))
	require.NoError(t, err)
	defer dx.Close()

	for i := 0; i < 5; i++ {
		msg, err := dx.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, float64(i), msg.Data["n"])
	}
}

func TestDuplexReceiveTimesOut(t *testing.T) {
	server := echoThing(t, 0)
	defer server.Close()

	dx, err := Dial(context.Background(), wsURL(server), dialect.MustParse("Webthings"))
	require.NoError(t, err)
	defer dx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = dx.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDuplexReportsInvalidFrames(t *testing.T) {
	server := echoThing(t, 0)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dx, err := Dial(ctx, wsURL(server), dialect.MustParse("Webthings"))
	require.NoError(t, err)
	defer dx.Close()

	require.NoError(t, dx.Send(ctx, "garbage", nil))
	_, err = dx.Receive(ctx)
	assert.True(t, IsParseError(err))
}

func TestDialRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := Dial(context.Background(), wsURL(server), dialect.MustParse("Webthings"))
	require.Error(t, err)
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ErrTypeHandshake, terr.Type)
	assert.Equal(t, http.StatusUnauthorized, terr.StatusCode)
}

func TestDuplexURL(t *testing.T) {
	cfg := Config{Protocol: "http", Host: "192.168.1.20", Port: 8888, AuthHeader: "Bearer tok"}

	got, err := cfg.DuplexURL("ws://localhost:8888/things/lamp")
	require.NoError(t, err)
	assert.Equal(t, "ws://192.168.1.20:8888/things/lamp?jwt=tok", got)

	cfg.AuthHeader = ""
	got, err = cfg.DuplexURL("ws://localhost:8888")
	require.NoError(t, err)
	assert.Equal(t, "ws://192.168.1.20:8888", got)

	_, err = cfg.DuplexURL("http://localhost:8888")
	assert.Error(t, err)
}
