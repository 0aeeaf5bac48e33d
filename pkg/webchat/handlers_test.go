package webchat

import (
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/pawfect/pkg/chat"
)

func TestRegisterForcesPetOwnerAndRejectsDuplicates(t *testing.T) {
	_, ts := newTestServer(t)
	token, u := registerAndLogin(t, ts, "ana@example.com")
	require.Equal(t, chat.RolePetOwner, u.Role)

	res := call(t, ts, http.MethodGet, "/users/me", token, nil)
	require.Equal(t, http.StatusOK, res.status)
	var me chat.User
	res.decode(t, &me)
	require.Equal(t, u.UserID, me.UserID)

	res = call(t, ts, http.MethodPost, "/users/register", "", map[string]any{
		"first_name": "Ana", "last_name": "Cruz", "email": "ANA@example.com", "password": "longenough",
	})
	require.Equal(t, http.StatusConflict, res.status)

	res = call(t, ts, http.MethodPost, "/users/register", "", map[string]any{
		"first_name": "Bo", "last_name": "Lee", "email": "bo@example.com", "password": "short",
	})
	require.Equal(t, http.StatusBadRequest, res.status)
}

func TestLoginFailures(t *testing.T) {
	_, ts := newTestServer(t)
	res := call(t, ts, http.MethodPost, "/users/login", "", map[string]string{"email": testAdminEmail, "password": "nope"})
	require.Equal(t, http.StatusUnauthorized, res.status)
	res = call(t, ts, http.MethodPost, "/users/login", "", map[string]string{"email": "ghost@example.com", "password": "nope"})
	require.Equal(t, http.StatusUnauthorized, res.status)
}

func TestRefreshCookieIssuesNewAccessToken(t *testing.T) {
	_, ts := newTestServer(t)
	res := call(t, ts, http.MethodPost, "/users/login", "", map[string]string{"email": testAdminEmail, "password": testAdminPassword})
	require.Equal(t, http.StatusOK, res.status)
	var refresh *http.Cookie
	for _, c := range res.cookies {
		if c.Name == RefreshCookieName {
			refresh = c
		}
	}
	require.NotNil(t, refresh)
	require.True(t, refresh.HttpOnly)

	res = call(t, ts, http.MethodPost, "/users/refresh", "", nil, refresh)
	require.Equal(t, http.StatusOK, res.status)
	var tr tokenResponse
	res.decode(t, &tr)
	require.NotEmpty(t, tr.AccessToken)
	require.Equal(t, http.StatusOK, call(t, ts, http.MethodGet, "/users/me", tr.AccessToken, nil).status)

	require.Equal(t, http.StatusUnauthorized, call(t, ts, http.MethodPost, "/users/refresh", "", nil).status)
	// an access token is not a refresh token
	bogus := &http.Cookie{Name: RefreshCookieName, Value: tr.AccessToken}
	require.Equal(t, http.StatusUnauthorized, call(t, ts, http.MethodPost, "/users/refresh", "", nil, bogus).status)

	res = call(t, ts, http.MethodPost, "/users/logout", "", nil)
	require.Equal(t, http.StatusNoContent, res.status)
}

func TestConversationAuthorization(t *testing.T) {
	_, ts := newTestServer(t)
	ownerTok, _ := registerAndLogin(t, ts, "ana@example.com")
	otherTok, _ := registerAndLogin(t, ts, "bo@example.com")
	adminTok, _ := login(t, ts, testAdminEmail, testAdminPassword)

	res := call(t, ts, http.MethodGet, "/conversations/me", ownerTok, nil)
	require.Equal(t, http.StatusOK, res.status)
	var conv chat.Conversation
	res.decode(t, &conv)
	require.NotZero(t, conv.ConversationID)

	// fetch-or-create returns the same conversation
	var again chat.Conversation
	call(t, ts, http.MethodGet, "/conversations/me", ownerTok, nil).decode(t, &again)
	require.Equal(t, conv.ConversationID, again.ConversationID)

	path := "/conversations/" + strconv.FormatInt(conv.ConversationID, 10) + "/messages"
	require.Equal(t, http.StatusForbidden, call(t, ts, http.MethodGet, "/conversations/me", adminTok, nil).status)
	require.Equal(t, http.StatusForbidden, call(t, ts, http.MethodGet, "/conversations", ownerTok, nil).status)
	require.Equal(t, http.StatusForbidden, call(t, ts, http.MethodGet, path, otherTok, nil).status)
	require.Equal(t, http.StatusForbidden, call(t, ts, http.MethodPost, path, otherTok, map[string]string{"content": "hi"}).status)
	require.Equal(t, http.StatusNotFound, call(t, ts, http.MethodGet, "/conversations/999/messages", adminTok, nil).status)
	require.Equal(t, http.StatusUnauthorized, call(t, ts, http.MethodGet, path, "", nil).status)
	require.Equal(t, http.StatusBadRequest, call(t, ts, http.MethodPost, path, ownerTok, map[string]string{"content": "   "}).status)

	res = call(t, ts, http.MethodPost, path, ownerTok, map[string]string{"content": "  Hello  "})
	require.Equal(t, http.StatusCreated, res.status)
	var m chat.Message
	res.decode(t, &m)
	require.Equal(t, "Hello", m.Content)
	require.Equal(t, chat.RolePetOwner, m.SenderRole)

	res = call(t, ts, http.MethodGet, "/conversations", adminTok, nil)
	require.Equal(t, http.StatusOK, res.status)
	var convs []chat.Conversation
	res.decode(t, &convs)
	require.Len(t, convs, 1)
	require.Equal(t, conv.ConversationID, convs[0].ConversationID)
	require.Equal(t, "Hello", convs[0].LastMessagePreview)

	res = call(t, ts, http.MethodPost, "/conversations/"+strconv.FormatInt(conv.ConversationID, 10)+"/read", adminTok, nil)
	require.Equal(t, http.StatusOK, res.status)
	var mr markReadResponse
	res.decode(t, &mr)
	require.Equal(t, int64(1), mr.Updated)

	var msgs []chat.Message
	call(t, ts, http.MethodGet, path, ownerTok, nil).decode(t, &msgs)
	require.Len(t, msgs, 1)
	require.True(t, msgs[0].IsRead)
}
