// Package chatclient is the client side of pawfect chat: the session that
// authenticates REST calls, the shared realtime transport, and the conversation
// store that both chat surfaces (admin inbox and end-user widget) run on.
package chatclient

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SubscriptionID identifies one handler registration.
type SubscriptionID string

// Handler receives the raw payload of one inbound event.
type Handler func(data json.RawMessage)

// Transport is the shared realtime connection. Registrations are additive: On
// never replaces another subscriber's handler, and Off removes only the
// registration it is given.
type Transport interface {
	JoinRoom(ctx context.Context, conversationID int64) error
	LeaveRoom(ctx context.Context, conversationID int64) error
	Emit(ctx context.Context, event string, payload any) error
	On(event string, h Handler) SubscriptionID
	Off(id SubscriptionID)
}

type subscription struct {
	id SubscriptionID
	h  Handler
}

// Dispatcher is the subscription registry behind a Transport.
type Dispatcher struct {
	mu     sync.RWMutex
	byName map[string][]subscription
	index  map[SubscriptionID]string
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		byName: map[string][]subscription{},
		index:  map[SubscriptionID]string{},
	}
}

// On registers h for event and returns its subscription id.
func (d *Dispatcher) On(event string, h Handler) SubscriptionID {
	if h == nil {
		return ""
	}
	id := SubscriptionID(uuid.NewString())
	d.mu.Lock()
	d.byName[event] = append(d.byName[event], subscription{id: id, h: h})
	d.index[id] = event
	d.mu.Unlock()
	return id
}

// Off removes one registration. Unknown ids are ignored.
func (d *Dispatcher) Off(id SubscriptionID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	event, ok := d.index[id]
	if !ok {
		return
	}
	delete(d.index, id)
	subs := d.byName[event]
	for i, s := range subs {
		if s.id == id {
			d.byName[event] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(d.byName[event]) == 0 {
		delete(d.byName, event)
	}
}

// Dispatch invokes every handler registered for event, in registration order,
// outside the registry lock. It returns the number of handlers called.
func (d *Dispatcher) Dispatch(event string, data json.RawMessage) int {
	d.mu.RLock()
	subs := append([]subscription(nil), d.byName[event]...)
	d.mu.RUnlock()

	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Str("component", "chatclient").Str("event", event).Interface("panic", r).Msg("event handler panicked")
				}
			}()
			s.h(data)
		}()
	}
	return len(subs)
}

// Count returns the number of live registrations for event.
func (d *Dispatcher) Count(event string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byName[event])
}
