package webchat

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/pawfect/pkg/chat"
)

// Forwarder consumes the event stream and broadcasts each event to the room its
// audience names. Every message is acked: delivery to websockets is at most once.
type Forwarder struct {
	sub message.Subscriber
	ws  WSPublisher
}

func NewForwarder(sub message.Subscriber, ws WSPublisher) *Forwarder {
	return &Forwarder{sub: sub, ws: ws}
}

// Start subscribes before returning, so events published afterwards are not
// missed, and forwards until ctx is done or the subscription closes.
func (f *Forwarder) Start(ctx context.Context) (<-chan struct{}, error) {
	if f == nil || f.sub == nil || f.ws == nil {
		return nil, errors.New("forwarder is not initialized")
	}
	msgs, err := f.sub.Subscribe(ctx, EventsTopic)
	if err != nil {
		return nil, errors.Wrap(err, "subscribe to chat events")
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				f.forward(ctx, msg)
				msg.Ack()
			}
		}
	}()
	return done, nil
}

func (f *Forwarder) forward(ctx context.Context, msg *message.Message) {
	var ev chat.Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		log.Warn().Err(err).Str("component", "webchat").Str("msg_id", msg.UUID).Msg("dropping undecodable chat event")
		return
	}
	room, ok := roomForEvent(ev)
	if !ok {
		log.Warn().Str("component", "webchat").Str("event", ev.Name).Str("audience", string(ev.Audience)).Msg("chat event has no room")
		return
	}
	err := f.ws.PublishFrame(ctx, room, ev.Frame())
	switch {
	case err == nil:
	case errors.Is(err, ErrRoomNotFound):
		// nobody on this instance listens to the room
	default:
		log.Warn().Err(err).Str("component", "webchat").Str("event", ev.Name).Str("room", room).Msg("forward chat event failed")
	}
}

func roomForEvent(ev chat.Event) (string, bool) {
	switch ev.Audience {
	case chat.AudienceAdmins:
		return RoomAdmins, true
	case chat.AudienceConversation:
		if ev.ConversationID <= 0 {
			return "", false
		}
		return RoomForConversation(ev.ConversationID), true
	default:
		return "", false
	}
}
