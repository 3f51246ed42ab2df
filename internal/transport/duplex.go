package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/webthings/thingcheck/internal/dialect"
	"github.com/webthings/thingcheck/internal/logging"
)

const (
	// Time allowed to write a message to the thing
	writeWait = 10 * time.Second

	// Time allowed for the upgrade handshake
	handshakeTimeout = 10 * time.Second

	// Inbound messages buffered ahead of the reader
	inboxSize = 64
)

// Duplex message kinds.
const (
	MsgSetProperty          = "setProperty"
	MsgPropertyStatus       = "propertyStatus"
	MsgRequestAction        = "requestAction"
	MsgActionStatus         = "actionStatus"
	MsgAddEventSubscription = "addEventSubscription"
	MsgEvent                = "event"
)

// Message is one inbound duplex notification. It is consumed at most once.
type Message struct {
	Type string
	Data map[string]any
	Raw  []byte
}

// String renders the message as received.
func (m *Message) String() string {
	return string(m.Raw)
}

// Channel is a subscribed duplex message stream.
type Channel interface {
	Send(ctx context.Context, messageType string, data map[string]any) error
	Receive(ctx context.Context) (*Message, error)
	Close() error
}

type inbound struct {
	msg *Message
	err error
}

// Duplex is a duplex channel backed by a WebSocket connection. A single
// reader goroutine buffers inbound frames so notifications sent while the
// caller is busy with a synchronous request are not lost.
type Duplex struct {
	conn    *websocket.Conn
	url     string
	dialect *dialect.Dialect

	inbox chan inbound
	quit  chan struct{}
	done  chan struct{}

	writeMu   sync.Mutex
	closing   atomic.Bool
	closeOnce sync.Once
}

// DuplexURL re-targets a duplex href advertised by the description at the
// configured host and port, and appends the bearer token as ?jwt=.
func (c Config) DuplexURL(href string) (string, error) {
	u, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("invalid duplex href %q: %w", href, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("duplex href %q is not a ws or wss URL", href)
	}
	u.Host = c.Authority()

	if token := bearerToken(c.AuthHeader); token != "" {
		q := u.Query()
		q.Set("jwt", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func bearerToken(header string) string {
	fields := strings.Fields(header)
	switch len(fields) {
	case 0:
		return ""
	case 1:
		return fields[0]
	default:
		return fields[1]
	}
}

// Dial opens the duplex channel.
func Dial(ctx context.Context, rawURL string, d *dialect.Dialect) (*Duplex, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return nil, NewHandshakeError(rawURL, resp.StatusCode, err)
		}
		return nil, NewNetworkError("duplex dial failed", rawURL, err)
	}
	_ = resp.Body.Close()

	logging.LogDuplexEvent(rawURL, "connected")

	dx := &Duplex{
		conn:    conn,
		url:     rawURL,
		dialect: d,
		inbox:   make(chan inbound, inboxSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go dx.readLoop()
	return dx, nil
}

// URL returns the dialed URL.
func (dx *Duplex) URL() string {
	return dx.url
}

func (dx *Duplex) readLoop() {
	defer close(dx.done)
	defer close(dx.inbox)

	for {
		messageType, data, err := dx.conn.ReadMessage()
		if err != nil {
			if dx.closing.Load() {
				return
			}
			logging.Warn("Duplex read failed", zap.String("url", dx.url), zap.Error(err))
			dx.push(inbound{err: NewNetworkError("duplex receive failed", dx.url, err)})
			return
		}

		logging.LogDuplexMessage(dx.url, "received", messageType, data)

		msg, err := dx.decode(data)
		if !dx.push(inbound{msg: msg, err: err}) {
			return
		}
	}
}

func (dx *Duplex) push(in inbound) bool {
	select {
	case dx.inbox <- in:
		return true
	case <-dx.quit:
		return false
	}
}

func (dx *Duplex) decode(data []byte) (*Message, error) {
	var envelope map[string]any
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, NewParseError("duplex message is not a JSON object", dx.url, err)
	}

	msg := &Message{Raw: data}
	msg.Type, _ = envelope[dx.dialect.Key(dialect.FieldMessageType)].(string)
	if msg.Type == "" {
		return nil, NewParseError(fmt.Sprintf("duplex message has no %s: %s", dx.dialect.Key(dialect.FieldMessageType), data), dx.url, nil)
	}
	msg.Data, _ = envelope[dx.dialect.Key(dialect.FieldMessageData)].(map[string]any)
	return msg, nil
}

// Send writes one envelope. Writes are serialized.
func (dx *Duplex) Send(ctx context.Context, messageType string, data map[string]any) error {
	envelope := map[string]any{
		dx.dialect.Key(dialect.FieldMessageType): messageType,
		dx.dialect.Key(dialect.FieldMessageData): data,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", messageType, err)
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	dx.writeMu.Lock()
	defer dx.writeMu.Unlock()

	if err := dx.conn.SetWriteDeadline(deadline); err != nil {
		return NewNetworkError("failed to set write deadline", dx.url, err)
	}
	if err := dx.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return NewNetworkError("duplex send failed", dx.url, err)
	}

	logging.LogDuplexMessage(dx.url, "sent", websocket.TextMessage, payload)
	return nil
}

// Receive blocks until one message arrives, the channel fails or ctx ends.
func (dx *Duplex) Receive(ctx context.Context) (*Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case in, ok := <-dx.inbox:
		if !ok {
			return nil, &Error{Type: ErrTypeClosed, Message: "Duplex channel closed", Target: dx.url}
		}
		return in.msg, in.err
	}
}

// Close closes the channel. Closing is part of a normal run, so the close
// handshake and the reader shutting down are not errors.
func (dx *Duplex) Close() error {
	var err error
	dx.closeOnce.Do(func() {
		dx.closing.Store(true)
		close(dx.quit)

		dx.writeMu.Lock()
		_ = dx.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		dx.writeMu.Unlock()

		if cerr := dx.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
		<-dx.done
		logging.LogDuplexEvent(dx.url, "closed")
	})
	return err
}
