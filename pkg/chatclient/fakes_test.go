package chatclient

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/pawfect/pkg/chat"
)

type emitted struct {
	event   string
	payload any
}

// fakeTransport records writes and lets tests push inbound events.
type fakeTransport struct {
	*Dispatcher

	// beforeEmit runs before an emit is recorded.
	beforeEmit func(event string)

	mu     sync.Mutex
	emits  []emitted
	joins  []int64
	leaves []int64
	ops    []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{Dispatcher: NewDispatcher()}
}

func (f *fakeTransport) JoinRoom(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, id)
	f.ops = append(f.ops, "join")
	return nil
}

func (f *fakeTransport) LeaveRoom(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, id)
	f.ops = append(f.ops, "leave")
	return nil
}

func (f *fakeTransport) Emit(_ context.Context, event string, payload any) error {
	if f.beforeEmit != nil {
		f.beforeEmit(event)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, emitted{event: event, payload: payload})
	f.ops = append(f.ops, event)
	return nil
}

// opLog lists joins, leaves and emitted events in the order they happened.
func (f *fakeTransport) opLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeTransport) deliver(t *testing.T, event string, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	f.Dispatch(event, b)
}

func (f *fakeTransport) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.emits {
		if e.event == event {
			n++
		}
	}
	return n
}

func (f *fakeTransport) joinCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.joins)
}

func (f *fakeTransport) leaveList() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.leaves...)
}

// fakeAPI is an in-memory backend. SendMessage persists and echoes the message
// through the transport the way the real backend does.
type fakeAPI struct {
	mu            sync.Mutex
	mine          chat.Conversation
	conversations []chat.Conversation
	messages      map[int64][]chat.Message
	nextID        int64
	listCalls     int
	readCalls     []int64
	sendErr       error
	listErr       error
	beforeList    func()
	echo          *fakeTransport
	t             *testing.T
}

func newFakeAPI(t *testing.T, echo *fakeTransport) *fakeAPI {
	return &fakeAPI{messages: map[int64][]chat.Message{}, nextID: 100, echo: echo, t: t}
}

func (a *fakeAPI) MyConversation(context.Context) (chat.Conversation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mine.ConversationID == 0 {
		return chat.Conversation{}, errors.New("no conversation")
	}
	return a.mine, nil
}

func (a *fakeAPI) ListConversations(context.Context) ([]chat.Conversation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]chat.Conversation(nil), a.conversations...), nil
}

func (a *fakeAPI) ListMessages(_ context.Context, id int64) ([]chat.Message, error) {
	a.mu.Lock()
	a.listCalls++
	hook := a.beforeList
	err := a.listErr
	a.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]chat.Message(nil), a.messages[id]...), nil
}

func (a *fakeAPI) SendMessage(_ context.Context, id int64, content string) (chat.Message, error) {
	a.mu.Lock()
	if a.sendErr != nil {
		a.mu.Unlock()
		return chat.Message{}, a.sendErr
	}
	a.nextID++
	m := chat.Message{MessageID: a.nextID, ConversationID: id, Content: content, CreatedAt: time.Now()}
	a.mu.Unlock()
	return m, nil
}

func (a *fakeAPI) MarkRead(_ context.Context, id int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.readCalls = append(a.readCalls, id)
	return nil
}

func (a *fakeAPI) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listCalls
}

func (a *fakeAPI) seed(msgs ...chat.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, m := range msgs {
		a.messages[m.ConversationID] = append(a.messages[m.ConversationID], m)
	}
}

// echoingAPI wraps fakeAPI so sends come back as new_message from a sender.
type echoingAPI struct {
	*fakeAPI
	sender Viewer
}

func (e *echoingAPI) SendMessage(ctx context.Context, id int64, content string) (chat.Message, error) {
	m, err := e.fakeAPI.SendMessage(ctx, id, content)
	if err != nil {
		return m, err
	}
	m.SenderID = e.sender.UserID
	m.SenderRole = e.sender.Role
	e.seed(m)
	e.echo.deliver(e.t, chat.EventNewMessage, m)
	return m, nil
}

func msg(id, conv, sender int64, role chat.Role, content string) chat.Message {
	return chat.Message{MessageID: id, ConversationID: conv, SenderID: sender, SenderRole: role, Content: content}
}

func ids(msgs []chat.Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.MessageID)
	}
	return out
}
