package storage

import (
	"context"
	"encoding/json"
	"strings"

	"moodpair/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultChannelPrefix is prepended to the session ID to form the channel name.
const DefaultChannelPrefix = "moodpair:session:"

// RedisBroadcaster fans events out over Redis Pub/Sub so that every server
// instance can reach the clients it holds.
type RedisBroadcaster struct {
	rdb    *redis.Client
	prefix string
	log    logrus.FieldLogger
}

func NewRedisBroadcaster(rdb *redis.Client, log logrus.FieldLogger) *RedisBroadcaster {
	return &RedisBroadcaster{rdb: rdb, prefix: DefaultChannelPrefix, log: log}
}

// Publish sends ev on the session's channel.
func (b *RedisBroadcaster) Publish(ctx context.Context, ev models.ChatEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.prefix+ev.SessionID, payload).Err()
}

// Subscribe listens on every session channel until ctx is done. The returned
// channel is closed when the subscription ends.
func (b *RedisBroadcaster) Subscribe(ctx context.Context) (<-chan models.ChatEvent, error) {
	pubsub := b.rdb.PSubscribe(ctx, b.prefix+"*")
	// Wait for the confirmation so events published right after Subscribe
	// returns are not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	out := make(chan models.ChatEvent, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev models.ChatEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.log.WithError(err).WithField("channel", msg.Channel).Warn("Error unmarshalling Redis event")
					continue
				}
				if ev.SessionID == "" {
					ev.SessionID = strings.TrimPrefix(msg.Channel, b.prefix)
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
