package chatstore

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/pawfect/pkg/chat"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrEmailTaken = errors.New("email already registered")
)

// NewUser is the input of CreateUser. The password is already hashed.
type NewUser struct {
	FirstName     string
	LastName      string
	Email         string
	PasswordHash  string
	Role          chat.Role
	Address       string
	Birthdate     string
	Sex           string
	MonthlySalary float64
}

// UserRecord is a stored user including its credential hash.
type UserRecord struct {
	chat.User
	PasswordHash string
}

// Store is the durable chat state: users, one conversation per pet owner, and
// the messages of each conversation.
//
// Message ids increase with insertion order. Conversations are listed most
// recently active first; conversations without messages come last.
type Store interface {
	CreateUser(ctx context.Context, u NewUser) (chat.User, error)
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID int64) (chat.User, error)

	EnsureConversation(ctx context.Context, userID int64) (chat.Conversation, error)
	GetConversation(ctx context.Context, conversationID int64) (chat.Conversation, error)
	ListConversations(ctx context.Context) ([]chat.Conversation, error)

	ListMessages(ctx context.Context, conversationID int64) ([]chat.Message, error)
	AppendMessage(ctx context.Context, conversationID, senderID int64, role chat.Role, content string) (chat.Message, error)
	// MarkRead marks every message not authored by readerRole as read and
	// returns how many changed.
	MarkRead(ctx context.Context, conversationID int64, readerRole chat.Role) (int64, error)

	Close() error
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateNewUser(u NewUser) (NewUser, error) {
	u.Email = normalizeEmail(u.Email)
	u.FirstName = strings.TrimSpace(u.FirstName)
	u.LastName = strings.TrimSpace(u.LastName)
	switch {
	case u.Email == "":
		return u, errors.New("email is empty")
	case u.PasswordHash == "":
		return u, errors.New("password hash is empty")
	case !u.Role.Valid():
		return u, errors.Errorf("unknown role %q", u.Role)
	}
	return u, nil
}

func validateMessage(role chat.Role, content string) (string, error) {
	if !role.Valid() {
		return "", errors.Errorf("unknown sender role %q", role)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", errors.New("message content is empty")
	}
	return content, nil
}

func fromMs(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
