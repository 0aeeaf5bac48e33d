package webchat

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/go-go-golems/pawfect/pkg/chat"
)

const defaultIdempotencyTTL = 10 * time.Minute

func idempotencyKeyFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		key = strings.TrimSpace(r.Header.Get("X-Idempotency-Key"))
	}
	return key
}

// idempotencyCache remembers the message created for a (user, conversation,
// key) triple so a
// retried send returns the stored message instead of posting it twice.
// Concurrent requests with the same key run the send once.
type idempotencyCache struct {
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]idempotencyEntry
}

type idempotencyEntry struct {
	msg chat.Message
	at  time.Time
}

type idempotencyResult struct {
	msg      chat.Message
	replayed bool
}

func newIdempotencyCache(ttl time.Duration) *idempotencyCache {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return &idempotencyCache{ttl: ttl, now: time.Now, entries: map[string]idempotencyEntry{}}
}

// Do runs send unless key was already used by userID on conversationID within
// the TTL. replayed reports whether msg comes from an earlier request.
func (c *idempotencyCache) Do(userID, conversationID int64, key string, send func() (chat.Message, error)) (chat.Message, bool, error) {
	k := strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(conversationID, 10) + ":" + key
	v, err, _ := c.group.Do(k, func() (any, error) {
		if msg, ok := c.lookup(k); ok {
			return idempotencyResult{msg: msg, replayed: true}, nil
		}
		msg, err := send()
		if err != nil {
			return nil, err
		}
		c.remember(k, msg)
		return idempotencyResult{msg: msg}, nil
	})
	if err != nil {
		return chat.Message{}, false, err
	}
	res := v.(idempotencyResult)
	return res.msg, res.replayed, nil
}

func (c *idempotencyCache) lookup(k string) (chat.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, e := range c.entries {
		if now.Sub(e.at) > c.ttl {
			delete(c.entries, key)
		}
	}
	e, ok := c.entries[k]
	return e.msg, ok
}

func (c *idempotencyCache) remember(k string, msg chat.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[k] = idempotencyEntry{msg: msg, at: c.now()}
}
