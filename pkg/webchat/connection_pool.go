package webchat

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ConnectionPool holds the websocket clients of one room and tracks when the
// room was last used, so the room manager can evict it once it sits empty.
type ConnectionPool struct {
	room         string
	mu           sync.Mutex
	clients      map[*client]struct{}
	lastActivity time.Time
}

func NewConnectionPool(room string) *ConnectionPool {
	return &ConnectionPool{
		room:         room,
		clients:      map[*client]struct{}{},
		lastActivity: time.Now(),
	}
}

func (cp *ConnectionPool) Add(c *client) {
	if cp == nil || c == nil {
		return
	}
	cp.mu.Lock()
	cp.clients[c] = struct{}{}
	cp.lastActivity = time.Now()
	cp.mu.Unlock()
}

// Remove drops c from the room. The connection stays open; it may be a member of
// other rooms.
func (cp *ConnectionPool) Remove(c *client) {
	if cp == nil || c == nil {
		return
	}
	cp.mu.Lock()
	delete(cp.clients, c)
	cp.lastActivity = time.Now()
	cp.mu.Unlock()
}

func (cp *ConnectionPool) Has(c *client) bool {
	if cp == nil || c == nil {
		return false
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	_, ok := cp.clients[c]
	return ok
}

// Broadcast queues data on every member except the given one. Members whose
// queue is full are dropped and disconnected.
func (cp *ConnectionPool) Broadcast(data []byte, except *client) int {
	if cp == nil || len(data) == 0 {
		return 0
	}
	sent := 0
	var dropped []*client
	cp.mu.Lock()
	for c := range cp.clients {
		if c == except {
			continue
		}
		if !c.enqueue(data) {
			delete(cp.clients, c)
			dropped = append(dropped, c)
			continue
		}
		sent++
	}
	cp.lastActivity = time.Now()
	cp.mu.Unlock()

	for _, c := range dropped {
		log.Warn().Str("component", "webchat").Str("room", cp.room).Str("client_id", c.id).Msg("ws send queue full or closed, dropping connection")
		c.close()
	}
	return sent
}

func (cp *ConnectionPool) Count() int {
	if cp == nil {
		return 0
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.clients)
}

func (cp *ConnectionPool) IsEmpty() bool {
	return cp.Count() == 0
}

func (cp *ConnectionPool) LastActivity() time.Time {
	if cp == nil {
		return time.Time{}
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.lastActivity
}

// CloseAll disconnects every member.
func (cp *ConnectionPool) CloseAll() {
	if cp == nil {
		return
	}
	cp.mu.Lock()
	clients := make([]*client, 0, len(cp.clients))
	for c := range cp.clients {
		clients = append(clients, c)
		delete(cp.clients, c)
	}
	cp.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}
