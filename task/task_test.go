package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiotaskq-go/aiotaskq/taskerr"
)

func add(x, y int) (int, error) { return x + y, nil }

func TestNew_RejectsEmptyRetryOn(t *testing.T) {
	_, err := New("testapp.add", Options{Retry: &RetryOptions{MaxRetries: 2, On: nil}})
	require.ErrorIs(t, err, taskerr.ErrInvalidRetryOptions)
}

func TestDefine_ValidateArgs(t *testing.T) {
	tk, err := Define("testapp.add", add, Options{})
	require.NoError(t, err)

	assert.NoError(t, tk.ValidateArgs([]any{1, 2}))
	assert.ErrorIs(t, tk.ValidateArgs([]any{1}), taskerr.ErrInvalidArgument)
	assert.ErrorIs(t, tk.ValidateArgs([]any{1, "two"}), taskerr.ErrInvalidArgument)
}

func TestTask_ValidateArgs_NoFunctionRefIsAlwaysValid(t *testing.T) {
	tk, err := New("testapp.add", Options{})
	require.NoError(t, err)
	assert.NoError(t, tk.ValidateArgs([]any{"anything", 1, true}))
}

func TestWithRetry(t *testing.T) {
	tk, err := Define("testapp.add", add, Options{})
	require.NoError(t, err)

	withRetry, err := tk.WithRetry(3, "E1")
	require.NoError(t, err)
	require.NotNil(t, withRetry.Options.Retry)
	assert.Equal(t, 3, withRetry.Options.Retry.MaxRetries)
	assert.Equal(t, []taskerr.Tag{"E1"}, withRetry.Options.Retry.On)

	// The original Task is untouched.
	assert.Nil(t, tk.Options.Retry)

	_, err = tk.WithRetry(3)
	require.ErrorIs(t, err, taskerr.ErrInvalidRetryOptions)
}

func TestForCall_GeneratesFreshCallIDEachTime(t *testing.T) {
	tk, err := Define("testapp.add", add, Options{})
	require.NoError(t, err)

	c1 := tk.ForCall([]any{1, 2}, nil)
	c2 := tk.ForCall([]any{1, 2}, nil)

	assert.NotEqual(t, c1.CallID, c2.CallID)
	assert.Equal(t, []any{1, 2}, c1.Args)
	assert.Empty(t, tk.CallID, "the template Task itself is never mutated")
}

func TestAsyncResult_Outcome(t *testing.T) {
	ok := &AsyncResult{CallID: "x", Ready: true, Result: 42}
	v, err := ok.Outcome()
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	failed := &AsyncResult{CallID: "x", Ready: true, Error: &taskerr.Encoded{Tag: "E1", Message: "boom"}}
	_, err = failed.Outcome()
	require.Error(t, err)
	assert.Equal(t, "E1: boom", err.Error())
}
