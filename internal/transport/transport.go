// Package transport implements the pub/sub abstraction described by the
// spec: a scoped connection with publish/subscribe/poll/num-subscribers
// operations, currently bound to Redis.
//
// A Transport is single-owner: the client, each Grunt Worker and the
// Worker Manager each construct and Close their own instance rather than
// sharing one — concurrent use from unrelated logical flows always
// requires separate instances.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aiotaskq-go/aiotaskq/internal/platform"
	"github.com/aiotaskq-go/aiotaskq/taskerr"
)

// Message is a single payload delivered by Poll.
type Message struct {
	Channel string
	Data    []byte
}

// Transport is the scoped pub/sub connection contract every component in
// this module depends on, never on a concrete Redis type.
type Transport interface {
	// Publish sends payload on channel.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe starts subscribing to channel. Idempotent per
	// connection: subscribing twice to the same channel is a no-op.
	Subscribe(ctx context.Context, channel string) error
	// Poll blocks cooperatively, on an internal poll interval, until a
	// message arrives on a subscribed channel, ignoring subscription
	// acknowledgements.
	Poll(ctx context.Context) (Message, error)
	// NumSubscribers reports how many subscribers are currently
	// listening on channel.
	NumSubscribers(ctx context.Context, channel string) (int, error)
	// Incr atomically increments the integer value at key and returns
	// the new value, used by the retry engine to maintain its
	// broker-side counters.
	Incr(ctx context.Context, key string) (int64, error)
	// Close releases the underlying connection.
	Close() error
}

// RedisTransport is the Redis binding of Transport.
type RedisTransport struct {
	client       *redis.Client
	pubsub       *redis.PubSub
	pollInterval time.Duration
	subscribed   map[string]bool
}

// New constructs a RedisTransport against url, failing fast with
// ErrTransportURLUnsupported or ErrTransportUnavailable.
func New(url string, pollInterval time.Duration) (*RedisTransport, error) {
	client, err := platform.NewClient(url)
	if err != nil {
		return nil, err
	}
	return &RedisTransport{
		client:       client,
		pubsub:       client.Subscribe(context.Background()),
		pollInterval: pollInterval,
		subscribed:   make(map[string]bool),
	}, nil
}

// Publish implements Transport.
func (t *RedisTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := t.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("%w: %v", taskerr.ErrTransportUnavailable, err)
	}
	return nil
}

// Subscribe implements Transport.
func (t *RedisTransport) Subscribe(ctx context.Context, channel string) error {
	if t.subscribed[channel] {
		return nil
	}
	if err := t.pubsub.Subscribe(ctx, channel); err != nil {
		return fmt.Errorf("%w: %v", taskerr.ErrTransportUnavailable, err)
	}
	t.subscribed[channel] = true
	return nil
}

// Poll implements Transport: it keeps requesting a new message on
// pollInterval and returns one only once available, ignoring
// subscription-confirmation messages. A bare poll-interval timeout is
// not an error and is retried silently; a genuine connection failure is
// surfaced as ErrTransportUnavailable instead of being retried forever
// inside this loop, so callers (the Worker Manager's reconnect/backoff
// branch in particular) see it.
func (t *RedisTransport) Poll(ctx context.Context) (Message, error) {
	for {
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		default:
		}

		msg, err := t.pubsub.ReceiveTimeout(ctx, t.pollInterval)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return Message{}, err
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// Timeout waiting for a message on this interval: keep polling.
				continue
			}
			return Message{}, fmt.Errorf("%w: %v", taskerr.ErrTransportUnavailable, err)
		}

		switch m := msg.(type) {
		case *redis.Message:
			return Message{Channel: m.Channel, Data: []byte(m.Payload)}, nil
		case *redis.Subscription, *redis.Pong:
			continue
		default:
			continue
		}
	}
}

// NumSubscribers implements Transport.
func (t *RedisTransport) NumSubscribers(ctx context.Context, channel string) (int, error) {
	res, err := t.client.PubSubNumSub(ctx, channel).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", taskerr.ErrTransportUnavailable, err)
	}
	return int(res[channel]), nil
}

// Incr implements Transport.
func (t *RedisTransport) Incr(ctx context.Context, key string) (int64, error) {
	n, err := t.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", taskerr.ErrTransportUnavailable, err)
	}
	return n, nil
}

// Close implements Transport.
func (t *RedisTransport) Close() error {
	_ = t.pubsub.Close()
	return t.client.Close()
}
