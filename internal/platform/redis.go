// Package platform constructs the Redis client shared by the transport
// layer and the retry engine.
//
// This used to sit behind a sync.Once-guarded process-wide singleton. A
// Transport is single-owner, so each caller (the client, a Grunt Worker,
// the Worker Manager) constructs and owns its own client explicitly
// instead of reaching for shared global state.
package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aiotaskq-go/aiotaskq/taskerr"
)

// NewClient parses url (a redis:// URL) and returns a connected,
// ping-verified client. It fails with ErrTransportURLUnsupported for a
// non-redis scheme and ErrTransportUnavailable if the server cannot be
// reached.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", taskerr.ErrTransportURLUnsupported, url, err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", taskerr.ErrTransportUnavailable, err)
	}

	return client, nil
}
