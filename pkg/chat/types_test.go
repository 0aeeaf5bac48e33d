package chat

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestMessageIsFromUsesSenderIDOnly(t *testing.T) {
	m := Message{MessageID: 1, SenderID: 7, SenderRole: RoleAdmin}
	require.True(t, m.IsFrom(7))
	require.False(t, m.IsFrom(8))
	require.False(t, Message{SenderID: 0, SenderRole: RolePetOwner}.IsFrom(0))
}

func TestRolePeer(t *testing.T) {
	require.Equal(t, RolePetOwner, RoleAdmin.Peer())
	require.Equal(t, RoleAdmin, RolePetOwner.Peer())
	require.True(t, RolePetOwner.Valid())
	require.False(t, Role("guest").Valid())
}

func TestPreviewTruncatesOnRunes(t *testing.T) {
	require.Equal(t, "hi there", Preview("  hi\n there "))

	long := strings.Repeat("é", PreviewLimit+10)
	p := Preview(long)
	require.Equal(t, PreviewLimit, utf8.RuneCountInString(p))
	require.True(t, strings.HasSuffix(p, "…"))
}

func TestConversationDisplayNameFallsBackToUserID(t *testing.T) {
	require.Equal(t, "Ana Cruz", Conversation{FirstName: "Ana", LastName: "Cruz"}.DisplayName())
	require.Equal(t, "User #12", Conversation{UserID: 12}.DisplayName())
}

func TestParseRoomPayloadAcceptsBothForms(t *testing.T) {
	id, err := ParseRoomPayload(json.RawMessage(`42`))
	require.NoError(t, err)
	require.Equal(t, int64(42), id)

	id, err = ParseRoomPayload(json.RawMessage(`{"conversationId":9}`))
	require.NoError(t, err)
	require.Equal(t, int64(9), id)

	_, err = ParseRoomPayload(json.RawMessage(`"x"`))
	require.Error(t, err)
}

func TestTypingPayloadWireNames(t *testing.T) {
	f, err := NewFrame(EventTyping, TypingPayload{ConversationID: 3, SenderRole: RolePetOwner})
	require.NoError(t, err)

	b, err := json.Marshal(f)
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"typing","data":{"conversationId":3,"sender_role":"pet owner"}}`, string(b))

	var p TypingPayload
	require.NoError(t, f.Decode(&p))
	require.Equal(t, int64(3), p.ConversationID)
}

func TestEventFrameCarriesData(t *testing.T) {
	ev, err := NewEvent(EventMessagesRead, AudienceConversation, 5, ReadPayload{ConversationID: 5, ReaderID: 2, ReaderRole: RoleAdmin})
	require.NoError(t, err)
	f := ev.Frame()
	require.Equal(t, EventMessagesRead, f.Event)

	var p ReadPayload
	require.NoError(t, f.Decode(&p))
	require.Equal(t, int64(2), p.ReaderID)

	require.Error(t, Frame{Event: EventTyping}.Decode(&p))
}
