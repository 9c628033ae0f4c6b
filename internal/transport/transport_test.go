package transport

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiotaskq-go/aiotaskq/taskerr"
)

func newTestTransport(t *testing.T) (*RedisTransport, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	tr, err := New("redis://"+mr.Addr(), 5*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr, mr
}

func TestNew_RejectsUnsupportedURL(t *testing.T) {
	_, err := New("not-a-url://host", time.Millisecond)
	assert.ErrorIs(t, err, taskerr.ErrTransportURLUnsupported)
}

func TestPublishSubscribePoll(t *testing.T) {
	tr, _ := newTestTransport(t)
	ctx := context.Background()

	require.NoError(t, tr.Subscribe(ctx, "channel:tasks"))

	// Subscribing twice is a no-op, per the contract.
	require.NoError(t, tr.Subscribe(ctx, "channel:tasks"))

	require.NoError(t, tr.Publish(ctx, "channel:tasks", []byte("json|{}")))

	msg, err := tr.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "channel:tasks", msg.Channel)
	assert.Equal(t, []byte("json|{}"), msg.Data)
}

func TestPoll_RespectsContextCancellation(t *testing.T) {
	tr, _ := newTestTransport(t)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, tr.Subscribe(ctx, "channel:tasks"))

	cancel()
	_, err := tr.Poll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPoll_SurfacesTransportUnavailableOnConnectionLoss(t *testing.T) {
	mr := miniredis.RunT(t)
	tr, err := New("redis://"+mr.Addr(), 5*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	ctx := context.Background()
	require.NoError(t, tr.Subscribe(ctx, "channel:tasks"))

	// A closed server breaks the already-established pubsub connection,
	// which must surface as a real transport error rather than being
	// swallowed as just another poll-interval timeout.
	mr.Close()

	_, err = tr.Poll(ctx)
	assert.ErrorIs(t, err, taskerr.ErrTransportUnavailable)
}

func TestNumSubscribers(t *testing.T) {
	tr, _ := newTestTransport(t)
	ctx := context.Background()

	n, err := tr.NumSubscribers(ctx, "channel:tasks")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, tr.Subscribe(ctx, "channel:tasks"))

	require.Eventually(t, func() bool {
		n, err := tr.NumSubscribers(ctx, "channel:tasks")
		return err == nil && n == 1
	}, time.Second, 5*time.Millisecond)
}

func TestIncr(t *testing.T) {
	tr, _ := newTestTransport(t)
	ctx := context.Background()

	n, err := tr.Incr(ctx, "retry:call-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = tr.Incr(ctx, "retry:call-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
