package chatclient

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/pawfect/pkg/chat"
)

const wsWriteTimeout = 10 * time.Second

// ErrTransportClosed is returned by writes after the connection went away.
var ErrTransportClosed = errors.New("realtime transport closed")

// WSTransport is the shared websocket connection to the message-events service.
// One reader goroutine dispatches inbound frames; writes are serialized.
type WSTransport struct {
	*Dispatcher

	conn    *websocket.Conn
	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

var _ Transport = (*WSTransport)(nil)

// WSURL derives the websocket endpoint from the REST base URL.
func WSURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// DialWS connects to wsURL presenting token as bearer credential.
func DialWS(ctx context.Context, wsURL, token string) (*WSTransport, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial %s: status %d", wsURL, resp.StatusCode)
		}
		return nil, errors.Wrapf(err, "dial %s", wsURL)
	}
	t := &WSTransport{
		Dispatcher: NewDispatcher(),
		conn:       conn,
		done:       make(chan struct{}),
	}
	go t.readLoop()
	log.Debug().Str("component", "chatclient").Str("url", wsURL).Msg("realtime transport connected")
	return t, nil
}

func (t *WSTransport) readLoop() {
	defer t.shutdown()
	for {
		var f chat.Frame
		if err := t.conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case <-t.done:
				default:
					log.Warn().Err(err).Str("component", "chatclient").Msg("realtime transport read failed")
				}
			}
			t.setErr(err)
			return
		}
		if f.Event == "" {
			continue
		}
		if n := t.Dispatch(f.Event, f.Data); n == 0 {
			log.Trace().Str("component", "chatclient").Str("event", f.Event).Msg("no subscribers for event")
		}
	}
}

// Emit sends one event frame.
func (t *WSTransport) Emit(ctx context.Context, event string, payload any) error {
	f, err := chat.NewFrame(event, payload)
	if err != nil {
		return err
	}
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	deadline := time.Now().Add(wsWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = t.conn.SetWriteDeadline(deadline)
	if err := t.conn.WriteJSON(f); err != nil {
		return errors.Wrapf(err, "emit %s", event)
	}
	return nil
}

func (t *WSTransport) JoinRoom(ctx context.Context, conversationID int64) error {
	return t.Emit(ctx, chat.EventJoinConversation, conversationID)
}

func (t *WSTransport) LeaveRoom(ctx context.Context, conversationID int64) error {
	return t.Emit(ctx, chat.EventLeaveConversation, conversationID)
}

// Done is closed once the connection is gone.
func (t *WSTransport) Done() <-chan struct{} { return t.done }

// Err returns the read error that ended the connection, if any.
func (t *WSTransport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

func (t *WSTransport) setErr(err error) {
	t.errMu.Lock()
	if t.err == nil {
		t.err = err
	}
	t.errMu.Unlock()
}

// Close sends a close frame and tears the connection down.
func (t *WSTransport) Close() error {
	t.writeMu.Lock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()
	t.shutdown()
	return nil
}

func (t *WSTransport) shutdown() {
	t.closeOnce.Do(func() {
		close(t.done)
		_ = t.conn.Close()
	})
}
