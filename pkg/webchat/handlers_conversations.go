package webchat

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/pawfect/pkg/chat"
	"github.com/go-go-golems/pawfect/pkg/persistence/chatstore"
)

// Handlers serves the REST surface. Writes are persisted first and then
// published on the event stream; a failed publish is logged, never returned.
type Handlers struct {
	store         chatstore.Store
	tokens        *TokenIssuer
	events        EventPublisher
	idempotency   *idempotencyCache
	secureCookies bool
}

func NewHandlers(store chatstore.Store, tokens *TokenIssuer, events EventPublisher) (*Handlers, error) {
	if store == nil {
		return nil, errors.New("handlers store is nil")
	}
	if tokens == nil {
		return nil, errors.New("handlers token issuer is nil")
	}
	if events == nil {
		return nil, errors.New("handlers event publisher is nil")
	}
	return &Handlers{store: store, tokens: tokens, events: events, idempotency: newIdempotencyCache(0)}, nil
}

var (
	errForbidden = errors.New("forbidden")
)

// authorizeConversation loads a conversation the principal may access: admins
// any, pet owners only their own.
func authorizeConversation(ctx context.Context, store chatstore.Store, p Principal, conversationID int64) (chat.Conversation, error) {
	conv, err := store.GetConversation(ctx, conversationID)
	if err != nil {
		return chat.Conversation{}, err
	}
	if !p.IsAdmin() && conv.UserID != p.UserID {
		return chat.Conversation{}, errForbidden
	}
	return conv, nil
}

func (h *Handlers) conversationFor(w http.ResponseWriter, r *http.Request) (Principal, chat.Conversation, bool) {
	p, _ := PrincipalFrom(r.Context())
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return p, chat.Conversation{}, false
	}
	conv, err := authorizeConversation(r.Context(), h.store, p, id)
	if errors.Is(err, errForbidden) {
		writeError(w, http.StatusForbidden, "not your conversation")
		return p, chat.Conversation{}, false
	}
	if err != nil {
		writeStoreError(w, err, "conversation")
		return p, chat.Conversation{}, false
	}
	return p, conv, true
}

// handleMyConversation fetches or creates the pet owner's conversation.
func (h *Handlers) handleMyConversation(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	if p.Role != chat.RolePetOwner {
		writeError(w, http.StatusForbidden, "only pet owners have a personal conversation")
		return
	}
	conv, err := h.store.EnsureConversation(r.Context(), p.UserID)
	if err != nil {
		writeStoreError(w, err, "conversation")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *Handlers) handleListConversations(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	if !p.IsAdmin() {
		writeError(w, http.StatusForbidden, "admin only")
		return
	}
	convs, err := h.store.ListConversations(r.Context())
	if err != nil {
		writeStoreError(w, err, "list conversations")
		return
	}
	if convs == nil {
		convs = []chat.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *Handlers) handleListMessages(w http.ResponseWriter, r *http.Request) {
	_, conv, ok := h.conversationFor(w, r)
	if !ok {
		return
	}
	msgs, err := h.store.ListMessages(r.Context(), conv.ConversationID)
	if err != nil {
		writeStoreError(w, err, "list messages")
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

// handleSendMessage persists a message, then announces it to the conversation
// room (new_message) and to the admin inbox (conversation_updated). A repeated
// Idempotency-Key replays the stored message with 200.
func (h *Handlers) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, "content is empty")
		return
	}
	p, conv, ok := h.conversationFor(w, r)
	if !ok {
		return
	}
	var (
		msg      chat.Message
		replayed bool
		err      error
	)
	if key := idempotencyKeyFromRequest(r); key != "" {
		// concurrent retries wait on this send, so it must outlive this request
		ctx := context.WithoutCancel(r.Context())
		msg, replayed, err = h.idempotency.Do(p.UserID, conv.ConversationID, key, func() (chat.Message, error) {
			return h.appendAndAnnounce(ctx, p, conv, content)
		})
	} else {
		msg, err = h.appendAndAnnounce(r.Context(), p, conv, content)
	}
	if err != nil {
		writeStoreError(w, err, "send message")
		return
	}
	if replayed {
		writeJSON(w, http.StatusOK, msg)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handlers) appendAndAnnounce(ctx context.Context, p Principal, conv chat.Conversation, content string) (chat.Message, error) {
	msg, err := h.store.AppendMessage(ctx, conv.ConversationID, p.UserID, p.Role, content)
	if err != nil {
		return chat.Message{}, err
	}
	log.Debug().Str("component", "webchat").Int64("conv_id", conv.ConversationID).Int64("message_id", msg.MessageID).Str("role", string(p.Role)).Msg("message stored")

	h.publish(ctx, chat.EventNewMessage, chat.AudienceConversation, conv.ConversationID, msg)
	if updated, err := h.store.GetConversation(ctx, conv.ConversationID); err == nil {
		h.publish(ctx, chat.EventConversationUpdated, chat.AudienceAdmins, conv.ConversationID, updated)
	} else {
		log.Warn().Err(err).Str("component", "webchat").Int64("conv_id", conv.ConversationID).Msg("reload conversation failed")
	}
	return msg, nil
}

type markReadResponse struct {
	Updated int64 `json:"updated"`
}

// handleMarkRead marks the peer's messages read and tells the room who read them.
func (h *Handlers) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	p, conv, ok := h.conversationFor(w, r)
	if !ok {
		return
	}
	n, err := h.store.MarkRead(r.Context(), conv.ConversationID, p.Role)
	if err != nil {
		writeStoreError(w, err, "mark read")
		return
	}
	h.publish(r.Context(), chat.EventMessagesRead, chat.AudienceConversation, conv.ConversationID, chat.ReadPayload{
		ConversationID: conv.ConversationID,
		ReaderID:       p.UserID,
		ReaderRole:     p.Role,
	})
	writeJSON(w, http.StatusOK, markReadResponse{Updated: n})
}

func (h *Handlers) publish(ctx context.Context, name string, audience chat.Audience, conversationID int64, data any) {
	ev, err := chat.NewEvent(name, audience, conversationID, data)
	if err == nil {
		err = h.events.PublishEvent(ctx, ev)
	}
	if err != nil {
		log.Warn().Err(err).Str("component", "webchat").Str("event", name).Int64("conv_id", conversationID).Msg("publish chat event failed")
	}
}
