// Package retry implements the Retry Engine: a small state machine keyed
// by call_id, backed by a broker-side counter, deciding whether a failed
// call should be republished or surfaced as a terminal error.
package retry

import (
	"context"
	"fmt"

	"github.com/aiotaskq-go/aiotaskq/internal/chans"
	"github.com/aiotaskq-go/aiotaskq/internal/transport"
	"github.com/aiotaskq-go/aiotaskq/task"
	"github.com/aiotaskq-go/aiotaskq/taskerr"
)

// Engine consults a Task's retry policy against an encountered error and
// maintains the broker-side retry counter.
type Engine struct {
	t transport.Transport
}

// New constructs an Engine bound to t's broker-side key/value side
// channel.
func New(t transport.Transport) *Engine {
	return &Engine{t: t}
}

// Decision is the outcome of consulting the retry engine after a task
// body failed.
type Decision struct {
	// ShouldRetry is true when the call should be republished on the
	// shared task channel instead of surfacing a terminal error.
	ShouldRetry bool
	// Count is the retry attempt number just recorded, meaningful only
	// when ShouldRetry is true.
	Count int64
}

// Evaluate implements the retry state table: no retry policy, or an
// error that does not match retry.on, is always terminal. Otherwise
// the broker-side counter for callID is incremented and compared against
// MaxRetries.
func (e *Engine) Evaluate(ctx context.Context, callID string, retryOpts *task.RetryOptions, bodyErr error) (Decision, error) {
	if retryOpts == nil || !taskerr.MatchesAny(bodyErr, retryOpts.On) {
		return Decision{ShouldRetry: false}, nil
	}

	count, err := e.t.Incr(ctx, chans.RetryCounter(callID))
	if err != nil {
		return Decision{}, fmt.Errorf("retry: failed to read counter for %s: %w", callID, err)
	}

	if count > int64(retryOpts.MaxRetries) {
		return Decision{ShouldRetry: false, Count: count}, nil
	}
	return Decision{ShouldRetry: true, Count: count}, nil
}
