package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiotaskq-go/aiotaskq/task"
	"github.com/aiotaskq-go/aiotaskq/taskerr"
)

func TestTask_RoundTrip(t *testing.T) {
	call := &task.Task{
		QualifiedName: "testapp.add",
		CallID:        "testapp.add:abc-123",
		Args:          []any{float64(40), float64(2)},
		Options: task.Options{
			Retry: &task.RetryOptions{MaxRetries: 2, On: []taskerr.Tag{"E1", "E2"}},
		},
	}

	payload, err := EncodeTask(call)
	require.NoError(t, err)
	assert.Contains(t, string(payload), "json|")

	decoded, err := DecodeTask(payload)
	require.NoError(t, err)

	assert.Equal(t, call.QualifiedName, decoded.QualifiedName)
	assert.Equal(t, call.CallID, decoded.CallID)
	assert.Equal(t, call.Args, decoded.Args)
	require.NotNil(t, decoded.Options.Retry)
	assert.Equal(t, call.Options.Retry.MaxRetries, decoded.Options.Retry.MaxRetries)
	assert.Equal(t, call.Options.Retry.On, decoded.Options.Retry.On)
}

func TestTask_RoundTrip_NoRetryOptions(t *testing.T) {
	call := &task.Task{QualifiedName: "testapp.add", CallID: "testapp.add:1", Args: []any{1.0, 2.0}}

	payload, err := EncodeTask(call)
	require.NoError(t, err)

	decoded, err := DecodeTask(payload)
	require.NoError(t, err)
	assert.Nil(t, decoded.Options.Retry)
}

func TestResult_RoundTrip_Success(t *testing.T) {
	r := &task.AsyncResult{CallID: "c1", Ready: true, Result: float64(42)}

	payload, err := EncodeResult(r)
	require.NoError(t, err)

	decoded, err := DecodeResult(payload)
	require.NoError(t, err)
	assert.Equal(t, r.CallID, decoded.CallID)
	assert.True(t, decoded.Ready)
	assert.Equal(t, r.Result, decoded.Result)
	assert.Nil(t, decoded.Error)
}

func TestResult_RoundTrip_Error(t *testing.T) {
	r := &task.AsyncResult{CallID: "c1", Ready: true, Error: &taskerr.Encoded{Tag: "E1", Message: "boom"}}

	payload, err := EncodeResult(r)
	require.NoError(t, err)

	decoded, err := DecodeResult(payload)
	require.NoError(t, err)
	require.NotNil(t, decoded.Error)
	assert.Equal(t, taskerr.Tag("E1"), decoded.Error.Tag)
	assert.Equal(t, "boom", decoded.Error.Message)
}

func TestDecode_RejectsUnknownTag(t *testing.T) {
	_, err := DecodeTask([]byte("yaml|foo: bar"))
	assert.ErrorIs(t, err, ErrUnknownTag)

	_, err = DecodeResult([]byte("not-a-tagged-message"))
	assert.ErrorIs(t, err, ErrUnknownTag)
}

func TestQualifiedNameSplitJoin(t *testing.T) {
	m, q := splitQualifiedName("testapp.flaky_until")
	assert.Equal(t, "testapp", m)
	assert.Equal(t, "flaky_until", q)
	assert.Equal(t, "testapp.flaky_until", joinQualifiedName(m, q))

	m, q = splitQualifiedName("add")
	assert.Equal(t, "", m)
	assert.Equal(t, "add", q)
	assert.Equal(t, "add", joinQualifiedName(m, q))
}
