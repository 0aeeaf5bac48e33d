// Package chat holds the conversation domain shared by the backend and the client core:
// conversations, messages, roles and the realtime event vocabulary.
package chat

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Role is the sender role token carried on every message and typing signal.
type Role string

const (
	RoleAdmin    Role = "admin"
	RolePetOwner Role = "pet owner"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RolePetOwner
}

// Peer returns the role on the other side of a conversation.
func (r Role) Peer() Role {
	if r == RoleAdmin {
		return RolePetOwner
	}
	return RoleAdmin
}

// User is a registered account.
type User struct {
	UserID        int64     `json:"user_id"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	Email         string    `json:"email"`
	Role          Role      `json:"role"`
	Address       string    `json:"address,omitempty"`
	Birthdate     string    `json:"birthdate,omitempty"`
	Sex           string    `json:"sex,omitempty"`
	MonthlySalary float64   `json:"monthly_salary,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// Conversation is the 1:1 thread between one pet owner and the admin party.
type Conversation struct {
	ConversationID     int64      `json:"conversation_id"`
	UserID             int64      `json:"user_id"`
	FirstName          string     `json:"first_name"`
	LastName           string     `json:"last_name"`
	LastMessageAt      *time.Time `json:"last_message_at,omitempty"`
	LastMessagePreview string     `json:"last_message_preview,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func (c Conversation) DisplayName() string {
	name := strings.TrimSpace(c.FirstName + " " + c.LastName)
	if name == "" {
		return "User #" + strconv.FormatInt(c.UserID, 10)
	}
	return name
}

// Message is one persisted chat line. Ids are server-assigned and increase
// with insertion order inside a conversation.
type Message struct {
	MessageID      int64     `json:"message_id"`
	ConversationID int64     `json:"conversation_id"`
	SenderID       int64     `json:"sender_id"`
	SenderRole     Role      `json:"sender_role"`
	Content        string    `json:"content"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
}

// IsFrom reports whether the message was authored by the given user. This is the
// single ownership rule: role tokens are never consulted.
func (m Message) IsFrom(userID int64) bool {
	return userID != 0 && m.SenderID == userID
}

// PreviewLimit bounds the denormalized last-message preview stored on a conversation.
const PreviewLimit = 120

// Preview shortens content for the conversation list.
func Preview(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(content) <= PreviewLimit {
		return content
	}
	runes := []rune(content)
	return string(runes[:PreviewLimit-1]) + "…"
}
