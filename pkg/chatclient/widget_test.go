package chatclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/pawfect/pkg/chat"
)

func TestWidgetRequiresPetOwner(t *testing.T) {
	tr := newFakeTransport()
	_, err := NewWidget(WidgetConfig{Viewer: admin, API: newFakeAPI(t, tr), Transport: tr})
	require.Error(t, err)
}

func TestWidgetTypingLabel(t *testing.T) {
	tr := newFakeTransport()
	api := newFakeAPI(t, tr)
	api.mine = chat.Conversation{ConversationID: 5, UserID: ownerID}
	w, err := NewWidget(WidgetConfig{Viewer: owner, API: api, Transport: tr})
	require.NoError(t, err)
	t.Cleanup(w.Close)

	// Closed panel: typing traffic is not observed.
	tr.deliver(t, chat.EventTyping, chat.TypingPayload{ConversationID: 5, SenderRole: chat.RoleAdmin})
	require.Equal(t, "", w.TypingLabel())

	require.NoError(t, w.SetOpen(context.Background(), true))
	tr.deliver(t, chat.EventTyping, chat.TypingPayload{ConversationID: 5, SenderRole: chat.RoleAdmin})
	require.Equal(t, AdminTypingLabel, w.TypingLabel())
	tr.deliver(t, chat.EventStopTyping, chat.TypingPayload{ConversationID: 5, SenderRole: chat.RoleAdmin})
	require.Equal(t, "", w.TypingLabel())
}

func TestWidgetReceiptFollowsLatestOwnMessage(t *testing.T) {
	tr := newFakeTransport()
	api := newFakeAPI(t, tr)
	api.mine = chat.Conversation{ConversationID: 5, UserID: ownerID}
	w, err := NewWidget(WidgetConfig{Viewer: owner, API: api, Transport: tr})
	require.NoError(t, err)
	t.Cleanup(w.Close)
	require.NoError(t, w.SetOpen(context.Background(), true))

	tr.deliver(t, chat.EventNewMessage, msg(1, 5, ownerID, chat.RolePetOwner, "hello"))
	require.Equal(t, ReceiptSent, w.Receipt())

	tr.deliver(t, chat.EventMessagesRead, chat.ReadPayload{ConversationID: 5, ReaderID: adminID, ReaderRole: chat.RoleAdmin})
	require.Equal(t, ReceiptSeen, w.Receipt())

	// An admin reply does not change the receipt; a new own message resets it.
	tr.deliver(t, chat.EventNewMessage, msg(2, 5, adminID, chat.RoleAdmin, "hi!"))
	require.Equal(t, ReceiptSeen, w.Receipt())
	tr.deliver(t, chat.EventNewMessage, msg(3, 5, ownerID, chat.RolePetOwner, "thanks"))
	require.Equal(t, ReceiptSent, w.Receipt())
}
