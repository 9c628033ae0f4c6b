// Package task defines the in-memory Task and AsyncResult types shared by
// the client, the Grunt Worker and the wire codec.
package task

import (
	"fmt"
	"reflect"

	"github.com/google/uuid"

	"github.com/aiotaskq-go/aiotaskq/internal/bind"
	"github.com/aiotaskq-go/aiotaskq/taskerr"
)

// RetryOptions is the policy consulted by a Grunt Worker after a task body
// raises an error: retry up to MaxRetries times, but only for errors whose
// tag appears in On.
type RetryOptions struct {
	MaxRetries int
	On         []taskerr.Tag
}

// Options holds the static options a Task is registered or called with.
type Options struct {
	Retry *RetryOptions
}

// validateRetry enforces the invariant that retry.on is non-empty whenever
// retry is set, both at registration time and on a per-call override.
func validateRetry(r *RetryOptions) error {
	if r == nil {
		return nil
	}
	if len(r.On) == 0 {
		return fmt.Errorf("%w", taskerr.ErrInvalidRetryOptions)
	}
	return nil
}

// Task is a named, registrable function together with its static options.
// A Task constructed on the client side is immutable; WithRetry returns a
// copy carrying the override.
type Task struct {
	QualifiedName string
	Options       Options

	// Per-call fields, populated only on the message path.
	CallID string
	Args   []any
	Kwargs map[string]any

	// fn and in are only ever populated on the client side, where the
	// Task was defined against a real function reference; a Task
	// decoded off the wire on the worker side has neither, since the
	// worker resolves its own function reference through its registry.
	fn reflect.Value
	in []reflect.Type
}

// New constructs a Task for the given qualified name (<module>.<function>)
// and static options. It fails if Options.Retry is set with an empty On.
func New(qualifiedName string, opts Options) (*Task, error) {
	if err := validateRetry(opts.Retry); err != nil {
		return nil, err
	}
	return &Task{QualifiedName: qualifiedName, Options: opts}, nil
}

// Define constructs a Task bound to a concrete function reference,
// usable only in the process where it was defined: the client keeps it
// around purely to validate call arguments against the function's
// declared signature before publishing, via a local function_ref
// field.
func Define(qualifiedName string, fn any, opts Options) (*Task, error) {
	t, err := New(qualifiedName, opts)
	if err != nil {
		return nil, err
	}
	t.fn, t.in = bind.Reflect(fn)
	return t, nil
}

// ValidateArgs binds args against the declared function signature this
// Task was defined with, failing with ErrInvalidArgument on a mismatch.
// It is a no-op (always valid) for a Task that carries no function
// reference, e.g. one decoded off the wire.
func (t *Task) ValidateArgs(args []any) error {
	if !t.fn.IsValid() {
		return nil
	}
	return bind.Validate(t.in, args)
}

// WithRetry returns a copy of t with the given per-call retry override. It
// fails with ErrInvalidRetryOptions if on is empty.
func (t *Task) WithRetry(maxRetries int, on ...taskerr.Tag) (*Task, error) {
	if len(on) == 0 {
		return nil, fmt.Errorf("%w", taskerr.ErrInvalidRetryOptions)
	}
	cp := *t
	cp.Options.Retry = &RetryOptions{MaxRetries: maxRetries, On: append([]taskerr.Tag{}, on...)}
	return &cp, nil
}

// ForCall returns a copy of t with a fresh call_id and the given call
// arguments populated, ready to be encoded and published.
func (t *Task) ForCall(args []any, kwargs map[string]any) *Task {
	cp := *t
	cp.CallID = t.GenerateCallID()
	cp.Args = args
	cp.Kwargs = kwargs
	return &cp
}

// GenerateCallID returns a fresh unique identifier for one invocation of
// this Task.
func (t *Task) GenerateCallID() string {
	return fmt.Sprintf("%s:%s", t.QualifiedName, uuid.New().String())
}

// AsyncResult is the message payload returned to the caller once a call
// has completed, either with a result or with a terminal error.
type AsyncResult struct {
	CallID string
	Ready  bool
	Result any
	Error  *taskerr.Encoded
}

// Outcome returns the decoded result, or the terminal error if the call
// failed.
func (a *AsyncResult) Outcome() (any, error) {
	if a.Error != nil {
		return nil, a.Error
	}
	return a.Result, nil
}
