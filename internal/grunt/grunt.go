// Package grunt implements the Grunt Worker: a single-process executor
// loop that subscribes to its own private channel, decodes each call,
// executes it against the registry, consults the retry engine, and
// publishes a reply.
//
// This keeps the same constructor-with-dependencies shape and the same
// success/failure split as a webhook delivery processor, generalized
// from "simulate an HTTP webhook call" to "invoke a registered task
// function" and from a ZSET-scheduled future retry to an immediate
// republish-on-the-shared-channel retry protocol.
package grunt

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aiotaskq-go/aiotaskq/internal/bind"
	"github.com/aiotaskq-go/aiotaskq/internal/chans"
	"github.com/aiotaskq-go/aiotaskq/internal/codec"
	"github.com/aiotaskq-go/aiotaskq/internal/ratelimit"
	"github.com/aiotaskq-go/aiotaskq/internal/retry"
	"github.com/aiotaskq-go/aiotaskq/internal/transport"
	"github.com/aiotaskq-go/aiotaskq/registry"
	"github.com/aiotaskq-go/aiotaskq/task"
	"github.com/aiotaskq-go/aiotaskq/taskerr"
)

// Grunt is a single Grunt Worker: one Transport, the Task Registry loaded
// from the embedding application, a rate-limiting semaphore, and a
// detached per-call execution pool.
type Grunt struct {
	t       transport.Transport
	reg     *registry.Registry
	limiter ratelimit.Limiter
	retryE  *retry.Engine
	pid     int
	log     *zap.SugaredLogger
}

// New constructs a Grunt Worker. workerRateLimit <= 0 disables the
// in-process concurrency limit.
func New(t transport.Transport, reg *registry.Registry, workerRateLimit int, log *zap.SugaredLogger) *Grunt {
	return &Grunt{
		t:       t,
		reg:     reg,
		limiter: ratelimit.New(workerRateLimit),
		retryE:  retry.New(t),
		pid:     os.Getpid(),
		log:     log,
	}
}

// Run subscribes to this Grunt's private task channel and loops: acquire
// a rate-limit permit, poll for a message, decode it, and hand it off to
// a detached execution unit so the loop can return to polling
// immediately. Run returns when ctx is cancelled.
func (g *Grunt) Run(ctx context.Context) error {
	channel := chans.GruntTasks(g.pid)
	if err := g.t.Subscribe(ctx, channel); err != nil {
		return fmt.Errorf("grunt: failed to subscribe to %s: %w", channel, err)
	}
	g.log.Infow("grunt worker ready", "pid", g.pid, "channel", channel)

	grp, gctx := errgroup.WithContext(ctx)

	for {
		if err := g.limiter.Acquire(ctx); err != nil {
			return waitGroup(grp, ctx.Err())
		}

		msg, err := g.t.Poll(ctx)
		if err != nil {
			g.limiter.Release()
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return waitGroup(grp, ctx.Err())
			}
			g.log.Warnw("poll failed", "error", err)
			continue
		}

		t, err := codec.DecodeTask(msg.Data)
		if err != nil {
			g.limiter.Release()
			g.log.Warnw("failed to decode task message, dropping", "error", err)
			continue
		}

		grp.Go(func() error {
			defer g.limiter.Release()
			g.handle(gctx, t)
			return nil
		})
	}
}

func waitGroup(grp *errgroup.Group, outer error) error {
	_ = grp.Wait()
	return outer
}

// handle is the per-call detached execution unit: resolve the function,
// invoke it, and either publish a result or republish for retry.
func (g *Grunt) handle(ctx context.Context, t *task.Task) {
	entry, ok := g.reg.Lookup(t.QualifiedName)
	if !ok {
		g.publishError(ctx, t.CallID, &taskerr.Encoded{
			Tag:     taskerr.TagTaskNotRegistered,
			Message: fmt.Sprintf("no task registered under %q", t.QualifiedName),
		})
		return
	}

	result, bodyErr := g.invoke(entry, t.Args)
	if bodyErr == nil {
		g.publishResult(ctx, t.CallID, result)
		return
	}

	// A per-call override on the wire-carried Task always wins; absent
	// one, fall back to the policy this task was registered with.
	retryOpts := t.Options.Retry
	if retryOpts == nil {
		retryOpts = entry.Options.Retry
	}

	decision, err := g.retryE.Evaluate(ctx, t.CallID, retryOpts, bodyErr)
	if err != nil {
		g.log.Errorw("retry engine failed, surfacing terminal error", "call_id", t.CallID, "error", err)
		g.publishError(ctx, t.CallID, taskerr.EncodeError(bodyErr))
		return
	}
	if decision.ShouldRetry {
		g.republish(ctx, t)
		return
	}
	g.publishError(ctx, t.CallID, taskerr.EncodeError(bodyErr))
}

// invoke calls the resolved function, awaiting it on its own goroutine
// when registered as an asynchronous task body.
func (g *Grunt) invoke(entry registry.Entry, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	if entry.Body == registry.Sync {
		return bind.Call(entry.Fn, entry.In, args)
	}

	type outcome struct {
		result any
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		r, e := bind.Call(entry.Fn, entry.In, args)
		ch <- outcome{result: r, err: e}
	}()
	o := <-ch
	return o.result, o.err
}

func (g *Grunt) publishResult(ctx context.Context, callID string, result any) {
	g.publish(ctx, &task.AsyncResult{CallID: callID, Ready: true, Result: result})
}

func (g *Grunt) publishError(ctx context.Context, callID string, encoded *taskerr.Encoded) {
	g.publish(ctx, &task.AsyncResult{CallID: callID, Ready: true, Error: encoded})
}

func (g *Grunt) publish(ctx context.Context, result *task.AsyncResult) {
	payload, err := codec.EncodeResult(result)
	if err != nil {
		g.log.Errorw("failed to encode result", "call_id", result.CallID, "error", err)
		return
	}
	if err := g.t.Publish(ctx, chans.Results(result.CallID), payload); err != nil {
		g.log.Errorw("failed to publish result", "call_id", result.CallID, "error", err)
	}
}

// republish re-publishes the same encoded Task-request on the shared
// task channel, keeping the same call_id, so the Worker Manager's round
// robin may hand it to a different Grunt on its next attempt.
func (g *Grunt) republish(ctx context.Context, t *task.Task) {
	payload, err := codec.EncodeTask(t)
	if err != nil {
		g.log.Errorw("failed to encode task for retry", "call_id", t.CallID, "error", err)
		return
	}
	if err := g.t.Publish(ctx, chans.Tasks, payload); err != nil {
		g.log.Errorw("failed to republish task for retry", "call_id", t.CallID, "error", err)
	}
}
