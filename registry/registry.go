// Package registry implements the per-process Task Registry: an explicit
// mapping from a qualified task name to an executable function plus its
// static options.
//
// This is a deliberate departure from attaching tasks to a process-global
// map via decorator side effects. Here the
// registry is an explicit value threaded through the Grunt Worker's
// constructor, populated by explicit Register calls at composition time.
package registry

import (
	"fmt"
	"reflect"

	"github.com/aiotaskq-go/aiotaskq/internal/bind"
	"github.com/aiotaskq-go/aiotaskq/task"
	"github.com/aiotaskq-go/aiotaskq/taskerr"
)

// Body distinguishes a synchronous task function from one that should run
// detached in its own goroutine and be awaited, a sync/async task-body
// sum type.
type Body int

const (
	// Sync functions are invoked directly on the Grunt's per-call
	// execution goroutine.
	Sync Body = iota
	// Async functions are additionally run on their own goroutine and
	// their result is awaited over a channel, modeling a cooperative
	// await without a real coroutine runtime.
	Async
)

// Entry is one registered task: its callable, the reflected input types
// used for argument binding, and its static options.
type Entry struct {
	Name    string
	Fn      reflect.Value
	In      []reflect.Type
	Body    Body
	Options task.Options
}

// Registry is a process-wide mapping from qualified task name to Entry.
// The zero value is not usable; construct with New.
type Registry struct {
	entries map[string]Entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Option configures a Register call.
type Option func(*Entry)

// WithRetry registers the task with a default retry policy, used whenever
// a call does not supply its own override.
func WithRetry(maxRetries int, on ...taskerr.Tag) Option {
	return func(e *Entry) {
		e.Options.Retry = &task.RetryOptions{MaxRetries: maxRetries, On: append([]taskerr.Tag{}, on...)}
	}
}

// AsAsync marks the registered function as an asynchronous task body: the
// Grunt will run it on its own goroutine and await its result rather than
// calling it inline.
func AsAsync() Option {
	return func(e *Entry) {
		e.Body = Async
	}
}

// Register adds fn to the registry under name. fn must be a function;
// its declared parameter types are recorded so the caller can bind
// decoded call arguments against them. Panics on a duplicate name or a
// non-func fn, since both indicate a programming error in the embedding
// application discovered at composition time, not at runtime against
// untrusted input.
func (r *Registry) Register(name string, fn any, opts ...Option) {
	if _, exists := r.entries[name]; exists {
		panic(fmt.Sprintf("registry: task %q already registered", name))
	}
	v, in := bind.Reflect(fn)
	e := Entry{Name: name, Fn: v, In: in, Body: Sync}
	for _, opt := range opts {
		opt(&e)
	}
	r.entries[name] = e
}

// Lookup resolves a qualified name to its registered Entry.
func (r *Registry) Lookup(name string) (Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// Names returns every registered qualified name, for diagnostics.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	return names
}
