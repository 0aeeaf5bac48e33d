package webchat

import (
	"strconv"
	"sync"
	"time"
)

// RoomAdmins is joined automatically by every admin connection and receives the
// inbox notifications.
const RoomAdmins = "admins"

// RoomForConversation names the room of one conversation.
func RoomForConversation(conversationID int64) string {
	return "conversation:" + strconv.FormatInt(conversationID, 10)
}

type RoomManagerOptions struct {
	EvictIdle     time.Duration
	EvictInterval time.Duration
}

// RoomManager owns the rooms held by this backend instance.
type RoomManager struct {
	mu    sync.Mutex
	rooms map[string]*ConnectionPool

	evictIdle     time.Duration
	evictInterval time.Duration
	evictRunning  bool
}

func NewRoomManager(opts RoomManagerOptions) *RoomManager {
	return &RoomManager{
		rooms:         map[string]*ConnectionPool{},
		evictIdle:     opts.EvictIdle,
		evictInterval: opts.EvictInterval,
	}
}

// Join adds c to the named room, creating the room on first use.
func (rm *RoomManager) Join(room string, c *client) *ConnectionPool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	pool, ok := rm.rooms[room]
	if !ok {
		pool = NewConnectionPool(room)
		rm.rooms[room] = pool
	}
	// under rm.mu so eviction cannot drop the pool in between
	pool.Add(c)
	return pool
}

func (rm *RoomManager) Leave(room string, c *client) {
	if pool, ok := rm.Room(room); ok {
		pool.Remove(c)
	}
}

// LeaveAll removes c from every room it joined.
func (rm *RoomManager) LeaveAll(c *client) {
	for _, pool := range rm.snapshot() {
		pool.Remove(c)
	}
}

func (rm *RoomManager) Room(room string) (*ConnectionPool, bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	pool, ok := rm.rooms[room]
	return pool, ok
}

func (rm *RoomManager) Count() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.rooms)
}

// CloseAll disconnects every client and forgets every room.
func (rm *RoomManager) CloseAll() {
	rm.mu.Lock()
	pools := make([]*ConnectionPool, 0, len(rm.rooms))
	for name, pool := range rm.rooms {
		pools = append(pools, pool)
		delete(rm.rooms, name)
	}
	rm.mu.Unlock()
	for _, pool := range pools {
		pool.CloseAll()
	}
}

func (rm *RoomManager) snapshot() []*ConnectionPool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	pools := make([]*ConnectionPool, 0, len(rm.rooms))
	for _, pool := range rm.rooms {
		pools = append(pools, pool)
	}
	return pools
}
