package rbac

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/boardperm/pkg/observability"
)

// DefaultInvalidationChannel is the Redis channel used when none is configured
const DefaultInvalidationChannel = "boardperm:invalidations"

// invalidationMessage is the wire format on the Redis channel
type invalidationMessage struct {
	Origin        string         `json:"origin"`
	Invalidations []Invalidation `json:"invalidations"`
}

// RedisBroadcaster shares invalidations between processes through Redis
// pub/sub. Each process publishes the batches produced by its Invalidator and
// applies the batches published by the others.
type RedisBroadcaster struct {
	client     *redis.Client
	channel    string
	instanceID string
	log        logrus.FieldLogger
}

// NewRedisBroadcaster creates a broadcaster with a random instance ID
func NewRedisBroadcaster(client *redis.Client, channel string, log logrus.FieldLogger) *RedisBroadcaster {
	if channel == "" {
		channel = DefaultInvalidationChannel
	}
	return &RedisBroadcaster{
		client:     client,
		channel:    channel,
		instanceID: uuid.NewString(),
		log:        loggerOrDiscard(log),
	}
}

// InstanceID identifies this process on the channel
func (b *RedisBroadcaster) InstanceID() string {
	return b.instanceID
}

// Publish sends a batch to every subscribed process
func (b *RedisBroadcaster) Publish(ctx context.Context, batch []Invalidation) error {
	if len(batch) == 0 {
		return nil
	}

	data, err := json.Marshal(invalidationMessage{Origin: b.instanceID, Invalidations: batch})
	if err != nil {
		return fmt.Errorf("failed to marshal invalidations: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidations: %w", err)
	}
	return nil
}

// Subscription is a running listener on the invalidation channel
type Subscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
}

// Subscribe starts applying batches from other processes. It returns once the
// subscription is confirmed by Redis. Batches published by this instance are
// skipped since they were already applied locally.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, apply func([]Invalidation)) (*Subscription, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	sub := &Subscription{
		pubsub: pubsub,
		done:   make(chan struct{}),
	}
	go b.listen(ctx, sub, apply)

	b.log.WithFields(logrus.Fields{"channel": b.channel, "instance_id": b.instanceID}).
		Info("listening for permission cache invalidations")

	return sub, nil
}

func (b *RedisBroadcaster) listen(ctx context.Context, sub *Subscription, apply func([]Invalidation)) {
	defer close(sub.done)

	ch := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var im invalidationMessage
			if err := json.Unmarshal([]byte(msg.Payload), &im); err != nil {
				b.log.WithError(err).Warn("dropping malformed invalidation message")
				continue
			}
			if im.Origin == b.instanceID {
				continue
			}

			b.applyRemote(apply, im.Invalidations)
		}
	}
}

// applyRemote keeps the listener alive if apply panics
func (b *RedisBroadcaster) applyRemote(apply func([]Invalidation), batch []Invalidation) {
	defer observability.RecoverPanic(b.log, "apply remote invalidation")
	apply(batch)
}

// Close stops the listener and waits for it to exit
func (s *Subscription) Close() error {
	err := s.pubsub.Close()
	<-s.done
	return err
}
