package webchat

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/pawfect/pkg/chat"
	"github.com/go-go-golems/pawfect/pkg/logging"
	rediscfg "github.com/go-go-golems/pawfect/pkg/redisstream"
)

// EventsTopic carries every chat.Event published by the REST handlers.
const EventsTopic = "pawfect.chat.events"

// StreamBackend wraps transport setup concerns (in-memory or redis) and exposes
// the publisher and subscriber of the chat event stream.
type StreamBackend interface {
	Publisher() message.Publisher
	Subscriber() message.Subscriber
	// Redis reports whether events cross process boundaries.
	Redis() bool
	Close() error
}

type goChannelBackend struct {
	ch *gochannel.GoChannel
}

type redisStreamBackend struct {
	client redis.UniversalClient
	pub    message.Publisher
	sub    message.Subscriber
}

// NewStreamBackend builds an in-process backend, or a Redis Streams backend when
// rs.Enabled is set. instanceID names this process inside its consumer group; an
// empty id gets a random one.
func NewStreamBackend(ctx context.Context, rs rediscfg.Settings, instanceID string) (StreamBackend, error) {
	if ctx == nil {
		return nil, errors.New("ctx is nil")
	}
	logger := logging.NewWatermill(log.Logger)
	if !rs.Enabled {
		// publish returns after the forwarder acked, which keeps per-room order
		ch := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            256,
			BlockPublishUntilSubscriberAck: true,
		}, logger)
		return &goChannelBackend{ch: ch}, nil
	}

	if instanceID == "" {
		instanceID = rs.Consumer
	}
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	client, err := rediscfg.NewClient(rs)
	if err != nil {
		return nil, err
	}
	group := rs.GroupFor(instanceID)
	if err := rediscfg.EnsureGroupAtTail(ctx, client, EventsTopic, group); err != nil {
		_ = client.Close()
		return nil, err
	}
	pub, err := rediscfg.BuildPublisher(client, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	sub, err := rediscfg.BuildGroupSubscriber(client, group, instanceID, logger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, err
	}
	log.Info().Str("component", "webchat").Str("redis_addr", rs.Addr).Str("group", group).Msg("using redis streams event backend")
	return &redisStreamBackend{client: client, pub: pub, sub: sub}, nil
}

func (b *goChannelBackend) Publisher() message.Publisher   { return b.ch }
func (b *goChannelBackend) Subscriber() message.Subscriber { return b.ch }
func (b *goChannelBackend) Redis() bool                    { return false }
func (b *goChannelBackend) Close() error                   { return b.ch.Close() }

func (b *redisStreamBackend) Publisher() message.Publisher   { return b.pub }
func (b *redisStreamBackend) Subscriber() message.Subscriber { return b.sub }
func (b *redisStreamBackend) Redis() bool                    { return true }

func (b *redisStreamBackend) Close() error {
	var firstErr error
	for _, c := range []func() error{b.sub.Close, b.pub.Close, b.client.Close} {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// EventPublisher is what the REST handlers publish through.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev chat.Event) error
}

// streamEventPublisher encodes chat events as watermill messages on EventsTopic.
type streamEventPublisher struct {
	pub message.Publisher
}

func NewEventPublisher(pub message.Publisher) EventPublisher {
	return &streamEventPublisher{pub: pub}
}

func (p *streamEventPublisher) PublishEvent(ctx context.Context, ev chat.Event) error {
	if p == nil || p.pub == nil {
		return errors.New("event publisher is not initialized")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", ev.Name)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("event", ev.Name)
	msg.SetContext(ctx)
	if err := p.pub.Publish(EventsTopic, msg); err != nil {
		return errors.Wrapf(err, "publish %s", ev.Name)
	}
	return nil
}
