package chatclient

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/pawfect/pkg/chat"
)

// State is the lifecycle of a Store.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Viewer is the authenticated participant a Store belongs to.
type Viewer struct {
	UserID int64
	Role   chat.Role
}

// ViewerOf returns the viewer for a logged-in user.
func ViewerOf(u chat.User) Viewer {
	return Viewer{UserID: u.UserID, Role: u.Role}
}

// Resolver picks the conversation a Store opens.
type Resolver func(ctx context.Context) (chat.Conversation, error)

// StoreConfig wires a Store to its collaborators.
type StoreConfig struct {
	Viewer    Viewer
	API       API
	Transport Transport
	// Resolve defaults to the viewer's own conversation (GET /conversations/me).
	Resolve       Resolver
	TypingTimeout time.Duration
	// OnChange receives a snapshot after every mutation, outside the store lock.
	OnChange func(Snapshot)
}

// Snapshot is a deep copy of the store's observable state. Version grows with
// every snapshot taken, so of two snapshots the higher version is the newer.
type Snapshot struct {
	Version      uint64
	State        State
	Conversation *chat.Conversation
	Messages     []chat.Message
	PeerTyping   bool
}

// Store mirrors one conversation for one viewer: the REST history merged with
// realtime deltas, read receipts and typing state.
type Store struct {
	cfg    StoreConfig
	logger zerolog.Logger

	mu         sync.Mutex
	state      State
	gen        uint64
	conv       *chat.Conversation
	messages   []chat.Message
	seen       map[int64]struct{}
	pending    []chat.Message
	peerRead   bool
	peerTyping bool
	version    uint64
	subs       []SubscriptionID
	joined     bool

	typing     *debouncer
	peerExpiry *debouncer
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.API == nil {
		return nil, errors.New("store api is nil")
	}
	if cfg.Transport == nil {
		return nil, errors.New("store transport is nil")
	}
	if cfg.Viewer.UserID == 0 {
		return nil, errors.New("store viewer has no user id")
	}
	if !cfg.Viewer.Role.Valid() {
		return nil, errors.Errorf("store viewer has unknown role %q", cfg.Viewer.Role)
	}
	if cfg.Resolve == nil {
		cfg.Resolve = cfg.API.MyConversation
	}
	return &Store{
		cfg: cfg,
		logger: log.With().
			Str("component", "chatclient").
			Int64("user_id", cfg.Viewer.UserID).
			Str("role", string(cfg.Viewer.Role)).
			Logger(),
		seen:       map[int64]struct{}{},
		typing:     newDebouncer(cfg.TypingTimeout),
		peerExpiry: newDebouncer(cfg.TypingTimeout),
	}, nil
}

// Open loads the conversation, subscribes to its room and fetches the history.
// It is a no-op while Loading or Ready. On failure the store returns to Idle.
func (s *Store) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil
	}
	s.state = StateLoading
	s.gen++
	gen := s.gen
	s.mu.Unlock()
	s.notify()

	conv, err := s.cfg.Resolve(ctx)
	if err != nil {
		return s.fail(gen, errors.Wrap(err, "resolve conversation"))
	}

	// Subscribe before fetching history so nothing published in between is lost;
	// deltas that arrive while Loading are buffered and merged by id.
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return nil
	}
	c := conv
	s.conv = &c
	s.subs = []SubscriptionID{
		s.cfg.Transport.On(chat.EventNewMessage, s.onNewMessage),
		s.cfg.Transport.On(chat.EventTyping, s.onTyping),
		s.cfg.Transport.On(chat.EventStopTyping, s.onStopTyping),
		s.cfg.Transport.On(chat.EventMessagesRead, s.onMessagesRead),
	}
	s.mu.Unlock()

	if err := s.cfg.Transport.JoinRoom(ctx, conv.ConversationID); err != nil {
		return s.fail(gen, errors.Wrapf(err, "join conversation %d", conv.ConversationID))
	}
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		_ = s.cfg.Transport.LeaveRoom(context.Background(), conv.ConversationID)
		return nil
	}
	s.joined = true
	s.mu.Unlock()

	history, err := s.cfg.API.ListMessages(ctx, conv.ConversationID)
	if err != nil {
		return s.fail(gen, err)
	}

	readErr := s.cfg.API.MarkRead(ctx, conv.ConversationID)
	if readErr != nil {
		s.logger.Warn().Err(readErr).Int64("conv_id", conv.ConversationID).Msg("mark read failed")
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return nil
	}
	s.messages, s.seen = mergeByID(history, s.pending)
	s.pending = nil
	if s.peerRead {
		s.markOwnReadLocked()
		s.peerRead = false
	}
	if readErr == nil {
		for i := range s.messages {
			if !s.messages[i].IsFrom(s.cfg.Viewer.UserID) {
				s.messages[i].IsRead = true
			}
		}
	}
	s.state = StateReady
	n := len(s.messages)
	s.mu.Unlock()

	s.logger.Debug().Int64("conv_id", conv.ConversationID).Int("messages", n).Msg("conversation open")
	s.notify()
	return nil
}

func (s *Store) fail(gen uint64, err error) error {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return err
	}
	subs, convID, joined := s.resetLocked()
	s.mu.Unlock()

	s.release(subs, convID, joined)
	s.logger.Error().Err(err).Msg("open conversation failed")
	s.notify()
	return err
}

// resetLocked returns the store to Idle and hands back what must be released
// outside the lock.
func (s *Store) resetLocked() ([]SubscriptionID, int64, bool) {
	subs := s.subs
	var convID int64
	if s.conv != nil {
		convID = s.conv.ConversationID
	}
	joined := s.joined

	s.gen++
	s.state = StateIdle
	s.conv = nil
	s.messages = nil
	s.seen = map[int64]struct{}{}
	s.pending = nil
	s.peerRead = false
	s.peerTyping = false
	s.subs = nil
	s.joined = false
	s.peerExpiry.Cancel()
	return subs, convID, joined
}

func (s *Store) release(subs []SubscriptionID, convID int64, joined bool) {
	for _, id := range subs {
		s.cfg.Transport.Off(id)
	}
	if joined {
		if err := s.cfg.Transport.LeaveRoom(context.Background(), convID); err != nil {
			s.logger.Debug().Err(err).Int64("conv_id", convID).Msg("leave conversation failed")
		}
	}
}

// Close deregisters this store's subscriptions, leaves the room, stops the
// timers and returns to Idle. Safe to call repeatedly.
func (s *Store) Close() {
	s.mu.Lock()
	if s.state == StateIdle && len(s.subs) == 0 {
		s.mu.Unlock()
		return
	}
	var stop *chat.TypingPayload
	if s.typing.Cancel() && s.conv != nil {
		stop = &chat.TypingPayload{ConversationID: s.conv.ConversationID, SenderRole: s.cfg.Viewer.Role}
	}
	subs, convID, joined := s.resetLocked()
	s.mu.Unlock()

	if stop != nil {
		s.emit(chat.EventStopTyping, *stop)
	}
	s.release(subs, convID, joined)
	s.notify()
}

// AppendIncoming adds a realtime message if it belongs to the open conversation
// and is not already present. It reports whether the message was taken.
func (s *Store) AppendIncoming(msg chat.Message) bool {
	s.mu.Lock()
	if s.conv == nil || msg.ConversationID != s.conv.ConversationID {
		s.mu.Unlock()
		return false
	}
	switch s.state {
	case StateLoading:
		s.pending = append(s.pending, msg)
		s.mu.Unlock()
		return true
	case StateReady:
		if _, dup := s.seen[msg.MessageID]; dup {
			s.mu.Unlock()
			return false
		}
		s.seen[msg.MessageID] = struct{}{}
		s.messages = append(s.messages, msg)
		s.mu.Unlock()
		s.notify()
		return true
	default:
		s.mu.Unlock()
		return false
	}
}

// Send posts text to the open conversation. The message shows up through the
// realtime echo, not locally. Blank text or no open conversation is a no-op.
func (s *Store) Send(ctx context.Context, text string) error {
	content := strings.TrimSpace(text)
	if content == "" {
		return nil
	}
	s.mu.Lock()
	if s.state != StateReady || s.conv == nil {
		s.mu.Unlock()
		return nil
	}
	convID := s.conv.ConversationID
	s.mu.Unlock()

	if _, err := s.cfg.API.SendMessage(ctx, convID, content); err != nil {
		s.logger.Error().Err(err).Int64("conv_id", convID).Msg("send message failed")
		return err
	}
	return nil
}

// SetTyping reports local typing activity. active=true emits typing now and
// re-arms the debounce that sends one stop_typing after the timeout;
// active=false sends stop_typing immediately if one was pending.
func (s *Store) SetTyping(active bool) {
	s.mu.Lock()
	if s.state != StateReady || s.conv == nil {
		s.mu.Unlock()
		return
	}
	payload := chat.TypingPayload{ConversationID: s.conv.ConversationID, SenderRole: s.cfg.Viewer.Role}

	if !active {
		pending := s.typing.Cancel()
		s.mu.Unlock()
		if pending {
			s.emit(chat.EventStopTyping, payload)
		}
		return
	}
	// typing goes out and the timer is armed under s.mu, so a Close either
	// precedes both or sees the timer and flushes stop_typing itself.
	gen := s.gen
	s.emit(chat.EventTyping, payload)
	s.typing.Arm(func() { s.stopTyping(gen, payload) })
	s.mu.Unlock()
}

func (s *Store) stopTyping(gen uint64, payload chat.TypingPayload) {
	s.mu.Lock()
	live := s.gen == gen
	s.mu.Unlock()
	if live {
		s.emit(chat.EventStopTyping, payload)
	}
}

// MarkPeerRead flips the read marker on every message the viewer authored.
func (s *Store) MarkPeerRead() {
	s.mu.Lock()
	changed := s.markOwnReadLocked()
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

func (s *Store) markOwnReadLocked() bool {
	changed := false
	for i := range s.messages {
		m := &s.messages[i]
		if m.IsFrom(s.cfg.Viewer.UserID) && !m.IsRead {
			m.IsRead = true
			changed = true
		}
	}
	return changed
}

func (s *Store) onNewMessage(data json.RawMessage) {
	var msg chat.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn().Err(err).Msg("bad new_message payload")
		return
	}
	s.AppendIncoming(msg)
}

func (s *Store) onTyping(data json.RawMessage) {
	s.peerTypingEvent(data, true)
}

func (s *Store) onStopTyping(data json.RawMessage) {
	s.peerTypingEvent(data, false)
}

func (s *Store) peerTypingEvent(data json.RawMessage, typing bool) {
	var p chat.TypingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Warn().Err(err).Msg("bad typing payload")
		return
	}
	s.mu.Lock()
	if s.state != StateReady || s.conv == nil || p.ConversationID != s.conv.ConversationID || p.SenderRole == s.cfg.Viewer.Role {
		s.mu.Unlock()
		return
	}
	changed := s.peerTyping != typing
	s.peerTyping = typing
	gen := s.gen
	s.mu.Unlock()

	if typing {
		s.peerExpiry.Arm(func() { s.expirePeerTyping(gen) })
	} else {
		s.peerExpiry.Cancel()
	}
	if changed {
		s.notify()
	}
}

func (s *Store) expirePeerTyping(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || !s.peerTyping {
		s.mu.Unlock()
		return
	}
	s.peerTyping = false
	s.mu.Unlock()
	s.notify()
}

func (s *Store) onMessagesRead(data json.RawMessage) {
	var p chat.ReadPayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Warn().Err(err).Msg("bad messages_read payload")
		return
	}
	// The viewer's own read call echoes back; only the peer reading counts.
	if p.ReaderID == s.cfg.Viewer.UserID || (p.ReaderID == 0 && p.ReaderRole == s.cfg.Viewer.Role) {
		return
	}
	s.mu.Lock()
	if s.conv == nil || p.ConversationID != s.conv.ConversationID {
		s.mu.Unlock()
		return
	}
	switch s.state {
	case StateLoading:
		// the history being fetched may predate this read
		s.peerRead = true
		s.mu.Unlock()
	case StateReady:
		s.mu.Unlock()
		s.MarkPeerRead()
	default:
		s.mu.Unlock()
	}
}

func (s *Store) emit(event string, payload chat.TypingPayload) {
	if err := s.cfg.Transport.Emit(context.Background(), event, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", event).Int64("conv_id", payload.ConversationID).Msg("emit failed")
	}
}

func (s *Store) notify() {
	if s.cfg.OnChange == nil {
		return
	}
	s.cfg.OnChange(s.Snapshot())
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
	snap := Snapshot{
		Version:    s.version,
		State:      s.state,
		Messages:   append([]chat.Message(nil), s.messages...),
		PeerTyping: s.peerTyping,
	}
	if s.conv != nil {
		c := *s.conv
		snap.Conversation = &c
	}
	return snap
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Store) Viewer() Viewer { return s.cfg.Viewer }

// LastOwnMessage returns the most recent message authored by the viewer.
func (s *Store) LastOwnMessage() (chat.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].IsFrom(s.cfg.Viewer.UserID) {
			return s.messages[i], true
		}
	}
	return chat.Message{}, false
}

// mergeByID combines history with buffered deltas: unique ids, ascending.
func mergeByID(history, pending []chat.Message) ([]chat.Message, map[int64]struct{}) {
	seen := make(map[int64]struct{}, len(history)+len(pending))
	out := make([]chat.Message, 0, len(history)+len(pending))
	for _, batch := range [][]chat.Message{history, pending} {
		for _, m := range batch {
			if _, ok := seen[m.MessageID]; ok {
				continue
			}
			seen[m.MessageID] = struct{}{}
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	return out, seen
}
