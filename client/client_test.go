package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiotaskq-go/aiotaskq/internal/chans"
	"github.com/aiotaskq-go/aiotaskq/internal/codec"
	"github.com/aiotaskq-go/aiotaskq/internal/transport"
	"github.com/aiotaskq-go/aiotaskq/task"
	"github.com/aiotaskq-go/aiotaskq/taskerr"
)

func add(x, y int) (int, error) { return x + y, nil }

func newTestClient(t *testing.T) (*Client, transport.Transport, string) {
	t.Helper()
	mr := miniredis.RunT(t)

	clientTransport, err := transport.New("redis://"+mr.Addr(), time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = clientTransport.Close() })

	return New(clientTransport, nil), clientTransport, mr.Addr()
}

// fakeGrunt subscribes to the shared task channel on a transport of its
// own and answers exactly one call with result, simulating a Grunt
// Worker without pulling in the registry/retry machinery under test.
func fakeGrunt(t *testing.T, addr string, result any) {
	t.Helper()
	gruntTransport, err := transport.New("redis://"+addr, time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gruntTransport.Close() })

	ctx := context.Background()
	require.NoError(t, gruntTransport.Subscribe(ctx, chans.Tasks))

	go func() {
		msg, err := gruntTransport.Poll(ctx)
		if err != nil {
			return
		}
		call, err := codec.DecodeTask(msg.Data)
		if err != nil {
			return
		}
		payload, err := codec.EncodeResult(&task.AsyncResult{CallID: call.CallID, Ready: true, Result: result})
		if err != nil {
			return
		}
		_ = gruntTransport.Publish(ctx, chans.Results(call.CallID), payload)
	}()

	// Give the fake grunt time to subscribe before the client checks
	// num_subscribers.
	time.Sleep(20 * time.Millisecond)
}

func TestApplyAsync_Success(t *testing.T) {
	c, _, addr := newTestClient(t)
	fakeGrunt(t, addr, float64(42))

	tk, err := task.Define("testapp.add", add, task.Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := c.ApplyAsync(ctx, tk, 40, 2)
	require.NoError(t, err)
	assert.Equal(t, float64(42), result)
}

func TestApplyAsync_InvalidArgumentNeverPublishes(t *testing.T) {
	c, clientTransport, _ := newTestClient(t)

	tk, err := task.Define("testapp.add", add, task.Options{})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, clientTransport.Subscribe(ctx, chans.Tasks))

	_, err = c.ApplyAsync(ctx, tk, 1)
	require.ErrorIs(t, err, taskerr.ErrInvalidArgument)

	n, err := clientTransport.NumSubscribers(ctx, chans.Tasks)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the test's own probe subscriber")

	pollCtx, pollCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer pollCancel()
	_, err = clientTransport.Poll(pollCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "nothing was published on the shared task channel")
}

func TestApplyAsync_WorkerNotReady(t *testing.T) {
	c, _, _ := newTestClient(t)

	tk, err := task.Define("testapp.add", add, task.Options{})
	require.NoError(t, err)

	_, err = c.ApplyAsync(context.Background(), tk, 1, 2)
	require.ErrorIs(t, err, taskerr.ErrWorkerNotReady)
}

func TestApplyAsync_TerminalErrorIsReRaised(t *testing.T) {
	c, _, addr := newTestClient(t)

	gruntTransport, err := transport.New("redis://"+addr, time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gruntTransport.Close() })

	ctx := context.Background()
	require.NoError(t, gruntTransport.Subscribe(ctx, chans.Tasks))

	go func() {
		msg, err := gruntTransport.Poll(ctx)
		if err != nil {
			return
		}
		call, err := codec.DecodeTask(msg.Data)
		if err != nil {
			return
		}
		payload, _ := codec.EncodeResult(&task.AsyncResult{
			CallID: call.CallID,
			Ready:  true,
			Error:  &taskerr.Encoded{Tag: taskerr.TagTaskNotRegistered, Message: "no such task"},
		})
		_ = gruntTransport.Publish(ctx, chans.Results(call.CallID), payload)
	}()
	time.Sleep(20 * time.Millisecond)

	tk, err := task.Define("testapp.add", add, task.Options{})
	require.NoError(t, err)

	callCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = c.ApplyAsync(callCtx, tk, 1, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such task")
	assert.True(t, errors.Is(err, taskerr.ErrTaskNotRegistered), "decoded Encoded error unwraps to the local sentinel")
}
