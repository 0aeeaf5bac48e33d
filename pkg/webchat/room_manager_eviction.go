package webchat

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// StartEvictionLoop runs eviction every EvictInterval until ctx is done. It is
// a no-op when eviction is disabled or already running.
func (rm *RoomManager) StartEvictionLoop(ctx context.Context) {
	if rm == nil {
		return
	}
	if ctx == nil {
		panic("webchat: StartEvictionLoop requires non-nil ctx")
	}
	rm.mu.Lock()
	if rm.evictRunning {
		rm.mu.Unlock()
		return
	}
	idle := rm.evictIdle
	interval := rm.evictInterval
	if idle <= 0 || interval <= 0 {
		rm.mu.Unlock()
		return
	}
	rm.evictRunning = true
	rm.mu.Unlock()

	go rm.runEvictionLoop(ctx, interval)
}

func (rm *RoomManager) runEvictionLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rm.mu.Lock()
			rm.evictRunning = false
			rm.mu.Unlock()
			return
		case now := <-ticker.C:
			if n := rm.evictIdleOnce(now); n > 0 {
				log.Debug().Str("component", "webchat").Int("evicted", n).Int("rooms", rm.Count()).Msg("evicted idle rooms")
			}
		}
	}
}

// evictIdleOnce drops every empty room whose last activity is older than the
// idle window and returns how many were dropped.
func (rm *RoomManager) evictIdleOnce(now time.Time) int {
	if rm == nil {
		return 0
	}
	if now.IsZero() {
		now = time.Now()
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	idle := rm.evictIdle
	if idle <= 0 {
		return 0
	}
	evicted := 0
	for name, pool := range rm.rooms {
		if !shouldEvictRoom(now, idle, pool) {
			continue
		}
		delete(rm.rooms, name)
		evicted++
	}
	return evicted
}

func shouldEvictRoom(now time.Time, idle time.Duration, pool *ConnectionPool) bool {
	if pool == nil {
		return true
	}
	if !pool.IsEmpty() {
		return false
	}
	last := pool.LastActivity()
	if last.IsZero() {
		return false
	}
	return now.Sub(last) >= idle
}
