package chatstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/pawfect/pkg/chat"
)

// InMemoryStore is a Store kept in process memory. It mirrors the ordering
// semantics of the SQLite store so both can back the same server.
type InMemoryStore struct {
	mu sync.Mutex

	nextUserID int64
	nextConvID int64
	nextMsgID  int64

	users         map[int64]UserRecord
	usersByEmail  map[string]int64
	conversations map[int64]*chat.Conversation
	convByUser    map[int64]int64
	messages      map[int64][]chat.Message
}

var _ Store = &InMemoryStore{}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:         map[int64]UserRecord{},
		usersByEmail:  map[string]int64{},
		conversations: map[int64]*chat.Conversation{},
		convByUser:    map[int64]int64{},
		messages:      map[int64][]chat.Message{},
	}
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) CreateUser(_ context.Context, u NewUser) (chat.User, error) {
	u, err := validateNewUser(u)
	if err != nil {
		return chat.User{}, errors.Wrap(err, "in-memory chat store: create user")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usersByEmail[u.Email]; ok {
		return chat.User{}, ErrEmailTaken
	}
	s.nextUserID++
	rec := UserRecord{
		User: chat.User{
			UserID:        s.nextUserID,
			FirstName:     u.FirstName,
			LastName:      u.LastName,
			Email:         u.Email,
			Role:          u.Role,
			Address:       u.Address,
			Birthdate:     u.Birthdate,
			Sex:           u.Sex,
			MonthlySalary: u.MonthlySalary,
			CreatedAt:     fromMs(time.Now().UnixMilli()),
		},
		PasswordHash: u.PasswordHash,
	}
	s.users[rec.UserID] = rec
	s.usersByEmail[rec.Email] = rec.UserID
	return rec.User, nil
}

func (s *InMemoryStore) GetUserByEmail(_ context.Context, email string) (UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.usersByEmail[normalizeEmail(email)]
	if !ok {
		return UserRecord{}, ErrNotFound
	}
	return s.users[id], nil
}

func (s *InMemoryStore) GetUserByID(_ context.Context, userID int64) (chat.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[userID]
	if !ok {
		return chat.User{}, ErrNotFound
	}
	return rec.User, nil
}

func (s *InMemoryStore) EnsureConversation(_ context.Context, userID int64) (chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return chat.Conversation{}, ErrNotFound
	}
	if id, ok := s.convByUser[userID]; ok {
		return s.conversationLocked(id), nil
	}
	s.nextConvID++
	s.conversations[s.nextConvID] = &chat.Conversation{
		ConversationID: s.nextConvID,
		UserID:         userID,
		CreatedAt:      fromMs(time.Now().UnixMilli()),
	}
	s.convByUser[userID] = s.nextConvID
	return s.conversationLocked(s.nextConvID), nil
}

// conversationLocked returns a copy joined with the owner's name.
func (s *InMemoryStore) conversationLocked(id int64) chat.Conversation {
	c := *s.conversations[id]
	if c.LastMessageAt != nil {
		t := *c.LastMessageAt
		c.LastMessageAt = &t
	}
	u := s.users[c.UserID]
	c.FirstName = u.FirstName
	c.LastName = u.LastName
	return c
}

func (s *InMemoryStore) GetConversation(_ context.Context, conversationID int64) (chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return chat.Conversation{}, ErrNotFound
	}
	return s.conversationLocked(conversationID), nil
}

func (s *InMemoryStore) ListConversations(_ context.Context) ([]chat.Conversation, error) {
	s.mu.Lock()
	out := make([]chat.Conversation, 0, len(s.conversations))
	for id := range s.conversations {
		out = append(out, s.conversationLocked(id))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.LastMessageAt == nil && b.LastMessageAt != nil:
			return false
		case a.LastMessageAt != nil && b.LastMessageAt == nil:
			return true
		case a.LastMessageAt != nil && !a.LastMessageAt.Equal(*b.LastMessageAt):
			return a.LastMessageAt.After(*b.LastMessageAt)
		default:
			return a.ConversationID > b.ConversationID
		}
	})
	return out, nil
}

func (s *InMemoryStore) ListMessages(_ context.Context, conversationID int64) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}
	return append([]chat.Message{}, s.messages[conversationID]...), nil
}

func (s *InMemoryStore) AppendMessage(_ context.Context, conversationID, senderID int64, role chat.Role, content string) (chat.Message, error) {
	content, err := validateMessage(role, content)
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "in-memory chat store: append message")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return chat.Message{}, ErrNotFound
	}
	now := fromMs(time.Now().UnixMilli())
	s.nextMsgID++
	m := chat.Message{
		MessageID:      s.nextMsgID,
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderRole:     role,
		Content:        content,
		CreatedAt:      now,
	}
	s.messages[conversationID] = append(s.messages[conversationID], m)
	conv.LastMessageAt = &now
	conv.LastMessagePreview = chat.Preview(content)
	return m, nil
}

func (s *InMemoryStore) MarkRead(_ context.Context, conversationID int64, readerRole chat.Role) (int64, error) {
	if !readerRole.Valid() {
		return 0, errors.Errorf("in-memory chat store: unknown reader role %q", readerRole)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return 0, ErrNotFound
	}
	var n int64
	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].SenderRole != readerRole && !msgs[i].IsRead {
			msgs[i].IsRead = true
			n++
		}
	}
	return n, nil
}
