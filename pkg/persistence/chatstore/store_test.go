package chatstore

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/pawfect/pkg/chat"
)

func newSQLiteForTest(t *testing.T) Store {
	t.Helper()
	dsn, err := SQLiteDSNForFile(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	s, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteForTest(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewInMemoryStore()) })
}

func mustUser(t *testing.T, s Store, email string, role chat.Role) chat.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), NewUser{
		FirstName: "First " + email, LastName: "Last", Email: email, PasswordHash: "hash", Role: role,
	})
	require.NoError(t, err)
	return u
}

func TestUsers(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		u := mustUser(t, s, "Ana@Example.com", chat.RolePetOwner)
		require.NotZero(t, u.UserID)
		require.Equal(t, "ana@example.com", u.Email)

		_, err := s.CreateUser(ctx, NewUser{Email: "ana@example.com ", PasswordHash: "x", Role: chat.RolePetOwner})
		require.ErrorIs(t, err, ErrEmailTaken)

		_, err = s.CreateUser(ctx, NewUser{Email: "x@example.com", PasswordHash: "x", Role: "guest"})
		require.Error(t, err)

		rec, err := s.GetUserByEmail(ctx, "ANA@example.com")
		require.NoError(t, err)
		require.Equal(t, u.UserID, rec.UserID)
		require.Equal(t, "hash", rec.PasswordHash)

		got, err := s.GetUserByID(ctx, u.UserID)
		require.NoError(t, err)
		require.Equal(t, chat.RolePetOwner, got.Role)

		_, err = s.GetUserByID(ctx, 999)
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetUserByEmail(ctx, "nobody@example.com")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestEnsureConversationIsIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		u := mustUser(t, s, "ana@example.com", chat.RolePetOwner)

		c1, err := s.EnsureConversation(ctx, u.UserID)
		require.NoError(t, err)
		c2, err := s.EnsureConversation(ctx, u.UserID)
		require.NoError(t, err)
		require.Equal(t, c1.ConversationID, c2.ConversationID)
		require.Equal(t, u.UserID, c1.UserID)
		require.Equal(t, u.FirstName, c1.FirstName)
		require.Nil(t, c1.LastMessageAt)

		_, err = s.EnsureConversation(ctx, 999)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAppendAndListMessages(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		owner := mustUser(t, s, "ana@example.com", chat.RolePetOwner)
		admin := mustUser(t, s, "admin@example.com", chat.RoleAdmin)
		c, err := s.EnsureConversation(ctx, owner.UserID)
		require.NoError(t, err)

		m1, err := s.AppendMessage(ctx, c.ConversationID, owner.UserID, chat.RolePetOwner, "  hello  ")
		require.NoError(t, err)
		require.Equal(t, "hello", m1.Content)
		m2, err := s.AppendMessage(ctx, c.ConversationID, admin.UserID, chat.RoleAdmin, strings.Repeat("x", 300))
		require.NoError(t, err)
		require.Greater(t, m2.MessageID, m1.MessageID)

		_, err = s.AppendMessage(ctx, c.ConversationID, owner.UserID, chat.RolePetOwner, "   ")
		require.Error(t, err)
		_, err = s.AppendMessage(ctx, 999, owner.UserID, chat.RolePetOwner, "hi")
		require.ErrorIs(t, err, ErrNotFound)

		msgs, err := s.ListMessages(ctx, c.ConversationID)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		require.Equal(t, m1.MessageID, msgs[0].MessageID)
		require.Equal(t, chat.RoleAdmin, msgs[1].SenderRole)
		require.False(t, msgs[0].IsRead)

		got, err := s.GetConversation(ctx, c.ConversationID)
		require.NoError(t, err)
		require.NotNil(t, got.LastMessageAt)
		require.Equal(t, chat.PreviewLimit, len([]rune(got.LastMessagePreview)))

		_, err = s.ListMessages(ctx, 999)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMarkReadFlipsOnlyPeerMessages(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		owner := mustUser(t, s, "ana@example.com", chat.RolePetOwner)
		c, err := s.EnsureConversation(ctx, owner.UserID)
		require.NoError(t, err)

		_, err = s.AppendMessage(ctx, c.ConversationID, owner.UserID, chat.RolePetOwner, "q1")
		require.NoError(t, err)
		_, err = s.AppendMessage(ctx, c.ConversationID, 1, chat.RoleAdmin, "a1")
		require.NoError(t, err)
		_, err = s.AppendMessage(ctx, c.ConversationID, owner.UserID, chat.RolePetOwner, "q2")
		require.NoError(t, err)

		n, err := s.MarkRead(ctx, c.ConversationID, chat.RoleAdmin)
		require.NoError(t, err)
		require.Equal(t, int64(2), n)
		n, err = s.MarkRead(ctx, c.ConversationID, chat.RoleAdmin)
		require.NoError(t, err)
		require.Equal(t, int64(0), n)

		msgs, err := s.ListMessages(ctx, c.ConversationID)
		require.NoError(t, err)
		require.True(t, msgs[0].IsRead)
		require.False(t, msgs[1].IsRead)
		require.True(t, msgs[2].IsRead)

		_, err = s.MarkRead(ctx, 999, chat.RoleAdmin)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestListConversationsByRecency(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var convs []chat.Conversation
		for _, email := range []string{"a@x.io", "b@x.io", "c@x.io", "d@x.io"} {
			u := mustUser(t, s, email, chat.RolePetOwner)
			c, err := s.EnsureConversation(ctx, u.UserID)
			require.NoError(t, err)
			convs = append(convs, c)
		}
		// b gets a message, then a; c and d never do.
		_, err := s.AppendMessage(ctx, convs[1].ConversationID, convs[1].UserID, chat.RolePetOwner, "first")
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
		_, err = s.AppendMessage(ctx, convs[0].ConversationID, convs[0].UserID, chat.RolePetOwner, "second")
		require.NoError(t, err)

		list, err := s.ListConversations(ctx)
		require.NoError(t, err)
		var order []int64
		for _, c := range list {
			order = append(order, c.ConversationID)
		}
		require.Equal(t, []int64{
			convs[0].ConversationID,
			convs[1].ConversationID,
			convs[3].ConversationID,
			convs[2].ConversationID,
		}, order)
		require.Equal(t, "second", list[0].LastMessagePreview)
	})
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")
	dsn, err := SQLiteDSNForFile(path)
	require.NoError(t, err)

	s, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	u := mustUser(t, s, "ana@example.com", chat.RolePetOwner)
	c, err := s.EnsureConversation(context.Background(), u.UserID)
	require.NoError(t, err)
	_, err = s.AppendMessage(context.Background(), c.ConversationID, u.UserID, chat.RolePetOwner, "hi")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(dsn)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	msgs, err := s.ListMessages(context.Background(), c.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestSQLiteDSNForFile(t *testing.T) {
	_, err := SQLiteDSNForFile("")
	require.Error(t, err)
	_, err = NewSQLiteStore("")
	require.Error(t, err)
}
