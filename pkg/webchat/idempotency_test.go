package webchat

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/pawfect/pkg/chat"
	"github.com/go-go-golems/pawfect/pkg/persistence/chatstore"
)

func TestIdempotencyCacheReplaysPerUser(t *testing.T) {
	c := newIdempotencyCache(time.Minute)
	var calls int32
	send := func() (chat.Message, error) {
		n := atomic.AddInt32(&calls, 1)
		return chat.Message{MessageID: int64(n)}, nil
	}

	msg, replayed, err := c.Do(1, 5, "k", send)
	require.NoError(t, err)
	require.False(t, replayed)
	require.Equal(t, int64(1), msg.MessageID)

	msg, replayed, err = c.Do(1, 5, "k", send)
	require.NoError(t, err)
	require.True(t, replayed)
	require.Equal(t, int64(1), msg.MessageID)

	// the same key from another user is a different request
	msg, replayed, err = c.Do(2, 5, "k", send)
	require.NoError(t, err)
	require.False(t, replayed)
	require.Equal(t, int64(2), msg.MessageID)

	// and so is the same key on another conversation
	msg, replayed, err = c.Do(1, 6, "k", send)
	require.NoError(t, err)
	require.False(t, replayed)
	require.Equal(t, int64(3), msg.MessageID)
}

func TestIdempotencyCacheExpiresAndForgetsFailures(t *testing.T) {
	c := newIdempotencyCache(time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	_, _, err := c.Do(1, 5, "k", func() (chat.Message, error) { return chat.Message{}, errors.New("db down") })
	require.Error(t, err)

	msg, replayed, err := c.Do(1, 5, "k", func() (chat.Message, error) { return chat.Message{MessageID: 5}, nil })
	require.NoError(t, err)
	require.False(t, replayed, "a failed attempt is not remembered")
	require.Equal(t, int64(5), msg.MessageID)

	now = now.Add(2 * time.Minute)
	_, replayed, err = c.Do(1, 5, "k", func() (chat.Message, error) { return chat.Message{MessageID: 6}, nil })
	require.NoError(t, err)
	require.False(t, replayed)
}

func TestIdempotencyCacheRunsConcurrentSendsOnce(t *testing.T) {
	c := newIdempotencyCache(time.Minute)
	var calls int32
	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.Do(1, 5, "k", func() (chat.Message, error) {
				atomic.AddInt32(&calls, 1)
				<-release
				return chat.Message{MessageID: 1}, nil
			})
			assert.NoError(t, err)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSendWithIdempotencyKeyIsStoredOnce(t *testing.T) {
	srv, ts := newTestServer(t)
	ownerTok, _ := registerAndLogin(t, ts, "ana@example.com")
	var conv chat.Conversation
	call(t, ts, http.MethodGet, "/conversations/me", ownerTok, nil).decode(t, &conv)
	path := ts.URL + "/conversations/" + strconv.FormatInt(conv.ConversationID, 10) + "/messages"

	post := func() (int, chat.Message) {
		req, err := http.NewRequest(http.MethodPost, path, bytes.NewBufferString(`{"content":"Is Bantay still available?"}`))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+ownerTok)
		req.Header.Set("Idempotency-Key", "retry-1")
		resp, err := ts.Client().Do(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(resp.Body)
		res := apiResult{status: resp.StatusCode, body: buf.Bytes()}
		var m chat.Message
		res.decode(t, &m)
		return res.status, m
	}

	status, first := post()
	require.Equal(t, http.StatusCreated, status)
	status, second := post()
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, first.MessageID, second.MessageID)

	msgs, err := srv.Store().ListMessages(t.Context(), conv.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestAdminReusingKeyOnAnotherConversationIsNotReplayed(t *testing.T) {
	_, ts := newTestServer(t)
	anaTok, _ := registerAndLogin(t, ts, "ana@example.com")
	boTok, _ := registerAndLogin(t, ts, "bo@example.com")
	adminTok, _ := login(t, ts, testAdminEmail, testAdminPassword)

	var first, second chat.Conversation
	call(t, ts, http.MethodGet, "/conversations/me", anaTok, nil).decode(t, &first)
	call(t, ts, http.MethodGet, "/conversations/me", boTok, nil).decode(t, &second)

	post := func(convID int64, content string) (int, chat.Message) {
		path := ts.URL + "/conversations/" + strconv.FormatInt(convID, 10) + "/messages"
		req, err := http.NewRequest(http.MethodPost, path, bytes.NewBufferString(`{"content":"`+content+`"}`))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+adminTok)
		req.Header.Set("Idempotency-Key", "reply-1")
		resp, err := ts.Client().Do(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(resp.Body)
		res := apiResult{status: resp.StatusCode, body: buf.Bytes()}
		var m chat.Message
		res.decode(t, &m)
		return res.status, m
	}

	status, a := post(first.ConversationID, "Hi Ana")
	require.Equal(t, http.StatusCreated, status)
	status, b := post(second.ConversationID, "Hi Bo")
	require.Equal(t, http.StatusCreated, status)
	require.NotEqual(t, a.MessageID, b.MessageID)
	require.Equal(t, second.ConversationID, b.ConversationID)
	require.Equal(t, "Hi Bo", b.Content)
}

// cancelCheckingStore fails appends whose context is already done.
type cancelCheckingStore struct {
	chatstore.Store
}

func (s cancelCheckingStore) AppendMessage(ctx context.Context, conversationID, senderID int64, role chat.Role, content string) (chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return chat.Message{}, err
	}
	return s.Store.AppendMessage(ctx, conversationID, senderID, role, content)
}

type discardEvents struct{}

func (discardEvents) PublishEvent(context.Context, chat.Event) error { return nil }

func TestKeyedSendIsNotTiedToTheRequestContext(t *testing.T) {
	mem := chatstore.NewInMemoryStore()
	t.Cleanup(func() { _ = mem.Close() })
	u, err := mem.CreateUser(t.Context(), chatstore.NewUser{
		FirstName: "Ana", LastName: "Cruz", Email: "ana@example.com", PasswordHash: "x", Role: chat.RolePetOwner,
	})
	require.NoError(t, err)
	conv, err := mem.EnsureConversation(t.Context(), u.UserID)
	require.NoError(t, err)

	tokens, err := NewTokenIssuer("test-secret", time.Minute, time.Hour)
	require.NoError(t, err)
	h, err := NewHandlers(cancelCheckingStore{Store: mem}, tokens, discardEvents{})
	require.NoError(t, err)

	// the client went away after the request was read
	ctx, cancel := context.WithCancel(WithPrincipal(context.Background(), Principal{UserID: u.UserID, Role: chat.RolePetOwner}))
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/conversations/x/messages", bytes.NewBufferString(`{"content":"hello"}`)).WithContext(ctx)
	req = mux.SetURLVars(req, map[string]string{"id": strconv.FormatInt(conv.ConversationID, 10)})
	req.Header.Set("Idempotency-Key", "k-1")
	rec := httptest.NewRecorder()

	h.handleSendMessage(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	msgs, err := mem.ListMessages(t.Context(), conv.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}
