package webchat

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/pawfect/pkg/chat"
	"github.com/go-go-golems/pawfect/pkg/persistence/chatstore"
)

const (
	eventPing = "ping"
	eventPong = "pong"
)

type StreamHubConfig struct {
	BaseCtx      context.Context
	Rooms        *RoomManager
	Store        chatstore.Store
	SendBuffer   int
	WriteTimeout time.Duration
}

// StreamHub owns websocket connections: room membership, typing relay and
// ping/pong. Persisted events reach the rooms through the Forwarder instead.
type StreamHub struct {
	baseCtx      context.Context
	rooms        *RoomManager
	store        chatstore.Store
	sendBuffer   int
	writeTimeout time.Duration

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewStreamHub(cfg StreamHubConfig) (*StreamHub, error) {
	if cfg.BaseCtx == nil {
		return nil, errors.New("stream hub base context is nil")
	}
	if cfg.Rooms == nil {
		return nil, errors.New("stream hub room manager is nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("stream hub store is nil")
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &StreamHub{
		baseCtx:      cfg.BaseCtx,
		rooms:        cfg.Rooms,
		store:        cfg.Store,
		sendBuffer:   cfg.SendBuffer,
		writeTimeout: writeTimeout,
		clients:      map[*client]struct{}{},
	}, nil
}

// AttachWebSocket takes over conn for an authenticated principal. Admins join the
// inbox room right away; everything else is driven by the client's frames.
func (h *StreamHub) AttachWebSocket(conn *websocket.Conn, p Principal) error {
	if h == nil || h.rooms == nil {
		return errors.New("stream hub is not initialized")
	}
	if conn == nil {
		return errors.New("websocket connection is nil")
	}
	c := newClient(conn, p, h.sendBuffer, h.writeTimeout)
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	go c.writePump()

	if p.IsAdmin() {
		h.rooms.Join(RoomAdmins, c)
	}

	wsLog := log.With().
		Str("component", "webchat").
		Str("remote", conn.RemoteAddr().String()).
		Str("client_id", c.id).
		Int64("user_id", p.UserID).
		Str("role", string(p.Role)).
		Logger()
	wsLog.Info().Msg("ws connected")

	go func() {
		defer h.detach(c)
		defer wsLog.Info().Msg("ws disconnected")
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				wsLog.Debug().Err(err).Msg("ws read loop end")
				return
			}
			if msgType != websocket.TextMessage || len(data) == 0 {
				continue
			}
			h.handleFrame(c, data, wsLog)
		}
	}()
	return nil
}

func (h *StreamHub) detach(c *client) {
	h.rooms.LeaveAll(c)
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// Count returns the number of attached connections.
func (h *StreamHub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every attached connection, including those in no room.
func (h *StreamHub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func (h *StreamHub) handleFrame(c *client, data []byte, wsLog zerolog.Logger) {
	if strings.EqualFold(strings.TrimSpace(string(data)), eventPing) {
		h.sendFrame(c, chat.Frame{Event: eventPong})
		return
	}
	var f chat.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		h.sendError(c, "malformed frame")
		return
	}
	switch f.Event {
	case eventPing:
		h.sendFrame(c, chat.Frame{Event: eventPong})
	case chat.EventJoinConversation:
		h.join(c, f, wsLog)
	case chat.EventLeaveConversation:
		id, err := chat.ParseRoomPayload(f.Data)
		if err != nil || id <= 0 {
			h.sendError(c, "invalid conversation id")
			return
		}
		h.rooms.Leave(RoomForConversation(id), c)
		wsLog.Debug().Int64("conv_id", id).Msg("left conversation room")
	case chat.EventTyping, chat.EventStopTyping:
		h.relayTyping(c, f)
	default:
		h.sendError(c, "unknown event "+f.Event)
	}
}

func (h *StreamHub) join(c *client, f chat.Frame, wsLog zerolog.Logger) {
	id, err := chat.ParseRoomPayload(f.Data)
	if err != nil || id <= 0 {
		h.sendError(c, "invalid conversation id")
		return
	}
	if _, err := authorizeConversation(h.baseCtx, h.store, c.principal, id); err != nil {
		wsLog.Debug().Err(err).Int64("conv_id", id).Msg("join refused")
		h.sendError(c, "cannot join conversation")
		return
	}
	h.rooms.Join(RoomForConversation(id), c)
	wsLog.Debug().Int64("conv_id", id).Msg("joined conversation room")
}

// relayTyping re-broadcasts a typing signal to the rest of the room. The sender
// must be a member, and the role is taken from its credentials.
func (h *StreamHub) relayTyping(c *client, f chat.Frame) {
	var tp chat.TypingPayload
	if err := f.Decode(&tp); err != nil || tp.ConversationID <= 0 {
		h.sendError(c, "invalid typing payload")
		return
	}
	pool, ok := h.rooms.Room(RoomForConversation(tp.ConversationID))
	if !ok || !pool.Has(c) {
		h.sendError(c, "not in conversation")
		return
	}
	tp.SenderRole = c.principal.Role
	out, err := chat.NewFrame(f.Event, tp)
	if err != nil {
		return
	}
	b, err := json.Marshal(out)
	if err != nil {
		return
	}
	pool.Broadcast(b, c)
}

func (h *StreamHub) sendError(c *client, msg string) {
	f, err := chat.NewFrame(chat.EventError, chat.ErrorPayload{Message: msg})
	if err != nil {
		return
	}
	h.sendFrame(c, f)
}

func (h *StreamHub) sendFrame(c *client, f chat.Frame) {
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	if !c.enqueue(b) {
		c.close()
	}
}
