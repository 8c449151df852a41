package cache

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	// PolicyChannel carries policy version bumps between processes.
	PolicyChannel    = "sentinel.policy.bump"
	policyVersionKey = "sentinel:policy:version"
)

// Broadcaster fans policy invalidations out to every process holding a ConfigCache.
type Broadcaster struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewBroadcaster builds a Broadcaster on PolicyChannel.
func NewBroadcaster(client *redis.Client, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{client: client, channel: PolicyChannel, logger: logger}
}

// Bump increments the shared policy version and publishes it.
func (b *Broadcaster) Bump(ctx context.Context) (int64, error) {
	if b == nil || b.client == nil {
		return 0, nil
	}
	ver, err := b.client.Incr(ctx, policyVersionKey).Result()
	if err != nil {
		return 0, err
	}
	if err := b.client.Publish(ctx, b.channel, strconv.FormatInt(ver, 10)).Err(); err != nil {
		return 0, err
	}
	return ver, nil
}

// Listen subscribes to bumps and calls onBump for each one until ctx is done.
// It returns once the subscription is confirmed.
func (b *Broadcaster) Listen(ctx context.Context, onBump func(ctx context.Context, version int64)) error {
	if b == nil || b.client == nil {
		return nil
	}
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ver, err := strconv.ParseInt(msg.Payload, 10, 64)
				if err != nil {
					b.logger.Warn("policy bump payload", slog.String("payload", msg.Payload), slog.Any("error", err))
				}
				onBump(ctx, ver)
			}
		}
	}()
	return nil
}
