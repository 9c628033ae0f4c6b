// Package client implements the caller-facing ApplyAsync flow: encode a
// call, verify a worker is listening, publish it, and wait for its reply.
package client

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aiotaskq-go/aiotaskq/internal/chans"
	"github.com/aiotaskq-go/aiotaskq/internal/codec"
	"github.com/aiotaskq-go/aiotaskq/internal/transport"
	"github.com/aiotaskq-go/aiotaskq/task"
	"github.com/aiotaskq-go/aiotaskq/taskerr"
)

// Client publishes task calls and awaits their results over a single
// Transport instance it owns exclusively.
type Client struct {
	t   transport.Transport
	log *zap.SugaredLogger
}

// New wraps an already-constructed Transport. The caller retains
// ownership of its lifetime relative to other Transport users, per the
// spec's single-owner guarantee.
func New(t transport.Transport, log *zap.SugaredLogger) *Client {
	return &Client{t: t, log: log}
}

// ApplyAsync calls t asynchronously with the given positional arguments,
// returning the decoded result or a re-raised terminal error.
//
// Steps: validate arguments locally, generate a call_id, verify a worker
// (normally the Worker Manager) is subscribed to the shared task
// channel, subscribe to the result
// channel *before* publishing (the safer of the two orderings an
// implementer could choose here — see DESIGN.md), publish, then poll
// for the reply.
func (c *Client) ApplyAsync(ctx context.Context, t *task.Task, args ...any) (any, error) {
	if err := t.ValidateArgs(args); err != nil {
		return nil, err
	}

	call := t.ForCall(args, nil)

	n, err := c.t.NumSubscribers(ctx, chans.Tasks)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, taskerr.ErrWorkerNotReady
	}

	resultChannel := chans.Results(call.CallID)
	if err := c.t.Subscribe(ctx, resultChannel); err != nil {
		return nil, err
	}

	payload, err := codec.EncodeTask(call)
	if err != nil {
		return nil, fmt.Errorf("client: failed to encode call %s: %w", call.CallID, err)
	}

	if c.log != nil {
		c.log.Debugw("publishing task call", "call_id", call.CallID, "task", call.QualifiedName)
	}
	if err := c.t.Publish(ctx, chans.Tasks, payload); err != nil {
		return nil, err
	}

	msg, err := c.t.Poll(ctx)
	if err != nil {
		return nil, fmt.Errorf("client: abandoned waiting for result of %s: %w", call.CallID, err)
	}

	result, err := codec.DecodeResult(msg.Data)
	if err != nil {
		return nil, fmt.Errorf("client: failed to decode result for %s: %w", call.CallID, err)
	}
	return result.Outcome()
}

// NewTransport is a convenience constructor using this module's default
// poll interval (10ms).
func NewTransport(brokerURL string) (transport.Transport, error) {
	return transport.New(brokerURL, 10*time.Millisecond)
}

// ApplyAsyncOnce constructs a fresh Transport scoped to exactly one
// call, the Go analogue of opening a pubsub connection as a per-call
// context manager, and closes it once the call completes.
func ApplyAsyncOnce(ctx context.Context, brokerURL string, t *task.Task, args ...any) (any, error) {
	tr, err := NewTransport(brokerURL)
	if err != nil {
		return nil, err
	}
	defer tr.Close()

	return New(tr, nil).ApplyAsync(ctx, t, args...)
}
