package chatclient

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/pawfect/pkg/chat"
)

// InboxAPI adds the admin conversation listing to API.
type InboxAPI interface {
	API
	ListConversations(ctx context.Context) ([]chat.Conversation, error)
}

// InboxConfig wires an admin inbox.
type InboxConfig struct {
	Viewer        Viewer
	API           InboxAPI
	Transport     Transport
	TypingTimeout time.Duration
	// OnChange fires when the list, the selection or the open conversation changes.
	OnChange func(InboxSnapshot)
}

// InboxSnapshot is the inbox state at one point in time. Version orders
// snapshots the same way Snapshot.Version does.
type InboxSnapshot struct {
	Version       uint64
	Conversations []chat.Conversation
	Selected      int64
	Chat          Snapshot
}

// Inbox is the admin surface: all conversations, one of them open.
type Inbox struct {
	cfg InboxConfig

	mu            sync.Mutex
	conversations []chat.Conversation
	selected      int64
	store         *Store
	updatesSub    SubscriptionID
	loaded        bool
	version       uint64
}

func NewInbox(cfg InboxConfig) (*Inbox, error) {
	if cfg.Viewer.Role != chat.RoleAdmin {
		return nil, errors.Errorf("inbox viewer must be %q, got %q", chat.RoleAdmin, cfg.Viewer.Role)
	}
	if cfg.API == nil || cfg.Transport == nil {
		return nil, errors.New("inbox needs an api and a transport")
	}
	in := &Inbox{cfg: cfg}
	in.updatesSub = cfg.Transport.On(chat.EventConversationUpdated, in.onConversationUpdated)
	return in, nil
}

// Refresh reloads the conversation list. The backend order (most recent first) is kept.
func (in *Inbox) Refresh(ctx context.Context) error {
	convs, err := in.cfg.API.ListConversations(ctx)
	if err != nil {
		log.Error().Err(err).Str("component", "inbox").Msg("fetch conversations failed")
		return err
	}
	in.mu.Lock()
	in.conversations = convs
	in.loaded = true
	in.mu.Unlock()
	in.notify()
	return nil
}

// Select closes the open conversation, if any, and opens conversationID.
func (in *Inbox) Select(ctx context.Context, conversationID int64) error {
	in.mu.Lock()
	prev := in.store
	conv, ok := in.findLocked(conversationID)
	in.mu.Unlock()
	if !ok {
		conv = chat.Conversation{ConversationID: conversationID}
	}
	if prev != nil {
		prev.Close()
	}

	store, err := NewStore(StoreConfig{
		Viewer:        in.cfg.Viewer,
		API:           in.cfg.API,
		Transport:     in.cfg.Transport,
		TypingTimeout: in.cfg.TypingTimeout,
		Resolve: func(context.Context) (chat.Conversation, error) {
			return conv, nil
		},
		OnChange: func(Snapshot) { in.notify() },
	})
	if err != nil {
		return err
	}
	in.mu.Lock()
	in.store = store
	in.selected = conversationID
	in.mu.Unlock()
	in.notify()

	return store.Open(ctx)
}

// Selected returns the store of the open conversation, or nil.
func (in *Inbox) Selected() *Store {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.store
}

func (in *Inbox) Send(ctx context.Context, text string) error {
	s := in.Selected()
	if s == nil {
		return nil
	}
	s.SetTyping(false)
	return s.Send(ctx, text)
}

// Input reports a keystroke in the reply box.
func (in *Inbox) Input(text string) {
	if s := in.Selected(); s != nil {
		s.SetTyping(text != "")
	}
}

func (in *Inbox) Conversations() []chat.Conversation {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]chat.Conversation(nil), in.conversations...)
}

func (in *Inbox) Snapshot() InboxSnapshot {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.version++
	snap := InboxSnapshot{
		Version:       in.version,
		Conversations: append([]chat.Conversation(nil), in.conversations...),
		Selected:      in.selected,
	}
	// stores never call back into the inbox while holding their lock
	if in.store != nil {
		snap.Chat = in.store.Snapshot()
	}
	return snap
}

// Close releases the open conversation and the inbox subscription.
func (in *Inbox) Close() {
	in.mu.Lock()
	store := in.store
	in.store = nil
	in.selected = 0
	sub := in.updatesSub
	in.updatesSub = ""
	in.mu.Unlock()
	if store != nil {
		store.Close()
	}
	if sub != "" {
		in.cfg.Transport.Off(sub)
	}
}

// onConversationUpdated refreshes one entry's preview in place. Conversations the
// list has not seen yet are put on top.
func (in *Inbox) onConversationUpdated(data json.RawMessage) {
	var c chat.Conversation
	if err := json.Unmarshal(data, &c); err != nil {
		log.Warn().Err(err).Str("component", "inbox").Msg("bad conversation_updated payload")
		return
	}
	in.mu.Lock()
	if !in.loaded {
		in.mu.Unlock()
		return
	}
	updated := false
	for i := range in.conversations {
		if in.conversations[i].ConversationID == c.ConversationID {
			in.conversations[i].LastMessageAt = c.LastMessageAt
			in.conversations[i].LastMessagePreview = c.LastMessagePreview
			updated = true
			break
		}
	}
	if !updated {
		in.conversations = append([]chat.Conversation{c}, in.conversations...)
	}
	in.mu.Unlock()
	in.notify()
}

func (in *Inbox) findLocked(id int64) (chat.Conversation, bool) {
	for _, c := range in.conversations {
		if c.ConversationID == id {
			return c, true
		}
	}
	return chat.Conversation{}, false
}

func (in *Inbox) notify() {
	if in.cfg.OnChange == nil {
		return
	}
	in.cfg.OnChange(in.Snapshot())
}
