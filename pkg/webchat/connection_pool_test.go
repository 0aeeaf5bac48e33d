package webchat

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/pawfect/pkg/chat"
)

type stubConn struct {
	mu       sync.Mutex
	writes   [][]byte
	blockCh  chan struct{}
	closedCh chan struct{}
}

func newStubConn(blockWrites bool) *stubConn {
	blockCh := make(chan struct{})
	if !blockWrites {
		close(blockCh)
	}
	return &stubConn{blockCh: blockCh, closedCh: make(chan struct{})}
}

func (s *stubConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-s.closedCh:
		return errors.New("closed")
	case <-s.blockCh:
	}
	s.mu.Lock()
	s.writes = append(s.writes, data)
	s.mu.Unlock()
	return nil
}

func (s *stubConn) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closedCh:
	default:
		close(s.closedCh)
	}
	return nil
}

func (s *stubConn) SetWriteDeadline(_ time.Time) error {
	return nil
}

func (s *stubConn) written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.writes))
	for _, w := range s.writes {
		out = append(out, string(w))
	}
	return out
}

func startStubClient(t *testing.T, conn *stubConn, p Principal, buffer int) *client {
	t.Helper()
	c := newClient(conn, p, buffer, 0)
	go c.writePump()
	t.Cleanup(c.close)
	return c
}

func TestConnectionPoolDropsOnFullBuffer(t *testing.T) {
	pool := NewConnectionPool("conversation:1")
	conn := newStubConn(true)
	c := startStubClient(t, conn, Principal{UserID: 1, Role: chat.RolePetOwner}, 1)
	pool.Add(c)

	pool.Broadcast([]byte("one"), nil)
	pool.Broadcast([]byte("two"), nil)
	pool.Broadcast([]byte("three"), nil)

	require.Eventually(t, func() bool {
		return pool.Count() == 0
	}, time.Second, 10*time.Millisecond)
	require.True(t, c.closed())
}

func TestConnectionPoolBroadcastSkipsSender(t *testing.T) {
	pool := NewConnectionPool("conversation:1")
	senderConn, peerConn := newStubConn(false), newStubConn(false)
	sender := startStubClient(t, senderConn, Principal{UserID: 1, Role: chat.RolePetOwner}, 4)
	peer := startStubClient(t, peerConn, Principal{UserID: 2, Role: chat.RoleAdmin}, 4)
	pool.Add(sender)
	pool.Add(peer)

	require.Equal(t, 1, pool.Broadcast([]byte("typing"), sender))
	require.Eventually(t, func() bool { return len(peerConn.written()) == 1 }, time.Second, 10*time.Millisecond)
	require.Empty(t, senderConn.written())
	require.True(t, pool.Has(sender))

	pool.Remove(sender)
	require.False(t, pool.Has(sender))
	require.False(t, sender.closed())
}

func TestRoomManagerJoinLeaveAll(t *testing.T) {
	rm := NewRoomManager(RoomManagerOptions{})
	c := startStubClient(t, newStubConn(false), Principal{UserID: 9, Role: chat.RoleAdmin}, 4)

	rm.Join(RoomAdmins, c)
	rm.Join(RoomForConversation(3), c)
	require.Equal(t, 2, rm.Count())

	rm.LeaveAll(c)
	for _, name := range []string{RoomAdmins, "conversation:3"} {
		pool, ok := rm.Room(name)
		require.True(t, ok)
		require.True(t, pool.IsEmpty())
	}
}

func TestRoomManagerEvictIdleOnce(t *testing.T) {
	rm := NewRoomManager(RoomManagerOptions{EvictIdle: 10 * time.Second, EvictInterval: time.Second})
	c := startStubClient(t, newStubConn(false), Principal{UserID: 1, Role: chat.RolePetOwner}, 4)

	idle := rm.Join(RoomForConversation(1), c)
	rm.Leave(RoomForConversation(1), c)
	idle.mu.Lock()
	idle.lastActivity = time.Now().Add(-time.Hour)
	idle.mu.Unlock()

	busy := rm.Join(RoomForConversation(2), c)
	busy.mu.Lock()
	busy.lastActivity = time.Now().Add(-time.Hour)
	busy.mu.Unlock()

	require.Equal(t, 1, rm.evictIdleOnce(time.Now()))
	_, ok := rm.Room(RoomForConversation(1))
	require.False(t, ok)
	_, ok = rm.Room(RoomForConversation(2))
	require.True(t, ok)
}

func TestRoomManagerEvictionDisabled(t *testing.T) {
	rm := NewRoomManager(RoomManagerOptions{})
	c := startStubClient(t, newStubConn(false), Principal{}, 4)
	pool := rm.Join("conversation:5", c)
	rm.Leave("conversation:5", c)
	pool.mu.Lock()
	pool.lastActivity = time.Now().Add(-time.Hour)
	pool.mu.Unlock()

	require.Equal(t, 0, rm.evictIdleOnce(time.Now()))
	require.Equal(t, 1, rm.Count())
}
