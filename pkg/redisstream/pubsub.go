// Package redisstream builds Watermill publishers and subscribers backed by Redis Streams.
package redisstream

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// NewClient returns a redis client for the configured address.
func NewClient(s Settings) (redis.UniversalClient, error) {
	if s.Addr == "" {
		return nil, errors.New("redis addr is empty")
	}
	return redis.NewClient(&redis.Options{Addr: s.Addr}), nil
}

// BuildPublisher returns a Redis Streams publisher.
func BuildPublisher(client redis.UniversalClient, logger watermill.LoggerAdapter) (message.Publisher, error) {
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "redis stream publisher")
	}
	return pub, nil
}

// BuildGroupSubscriber returns a Redis Streams subscriber bound to the given consumer group/name.
func BuildGroupSubscriber(client redis.UniversalClient, group, consumer string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if group == "" {
		return nil, errors.New("consumer group is empty")
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: group,
		Consumer:      consumer,
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "redis stream subscriber")
	}
	return sub, nil
}

// EnsureGroupAtTail creates the consumer group for a given stream at the tail ($) if it doesn't exist.
// This prevents full historical replay on first subscribe.
func EnsureGroupAtTail(ctx context.Context, client redis.UniversalClient, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		// BUSYGROUP: group already exists
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "create consumer group %s on %s", group, stream)
	}
	log.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}
