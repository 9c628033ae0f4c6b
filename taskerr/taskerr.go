// Package taskerr defines the error kinds raised across the client, the
// Grunt Worker and the Worker Manager, plus the stable string tags used to
// carry user exception classes and retry filters across the wire.
package taskerr

import (
	"errors"
	"fmt"
)

// Tag is a stable string identifier for an exception class. Go has no
// runtime class-list serialization primitive, so retry.on filters and
// terminal AsyncResult errors are matched by tag instead of by type
// identity.
type Tag string

// Sentinel error kinds. ErrInvalidArgument, ErrInvalidRetryOptions and
// ErrWorkerNotReady are local: they are returned directly to the caller of
// Client.ApplyAsync or Task construction before anything is published.
// ErrTaskNotRegistered crosses the wire as TagTaskNotRegistered and is
// matched again on the client through Encoded.Unwrap. The two transport
// errors are returned by any Transport user (client, Grunt, Manager).
var (
	ErrInvalidArgument         = errors.New("invalid argument")
	ErrInvalidRetryOptions     = errors.New("invalid retry options: on must be non-empty")
	ErrWorkerNotReady          = errors.New("no worker is subscribed to the tasks channel")
	ErrTaskNotRegistered       = errors.New("no task registered under this name")
	ErrTransportUnavailable    = errors.New("transport unavailable")
	ErrTransportURLUnsupported = errors.New("transport url scheme is not supported")
)

// TagTaskNotRegistered is the tag published on the wire when a Grunt
// cannot resolve a decoded call's qualified name in its registry. It is
// terminal; it never triggers a retry. tagSentinels maps it back to
// ErrTaskNotRegistered so a caller can match the decoded Encoded error
// with errors.Is instead of comparing tag strings.
const TagTaskNotRegistered Tag = "TaskNotRegistered"

var tagSentinels = map[Tag]error{
	TagTaskNotRegistered: ErrTaskNotRegistered,
}

// TagUnknown is used when a user-raised error was not registered under a
// known tag. It never matches a retry.on filter.
const TagUnknown Tag = "Unknown"

// Encoded is the wire representation of a terminal AsyncResult error.
type Encoded struct {
	Tag     Tag    `json:"tag"`
	Message string `json:"message"`
}

// Error implements the error interface so an Encoded can be re-raised to
// the client's caller.
func (e *Encoded) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Tag, e.Message)
}

// Unwrap lets errors.Is(err, ErrTaskNotRegistered) (and any other local
// sentinel with a known tag) succeed against a decoded Encoded carrying
// that tag, even though Encoded crossed the wire as plain JSON.
func (e *Encoded) Unwrap() error {
	if e == nil {
		return nil
	}
	return tagSentinels[e.Tag]
}

// Tagged is implemented by user errors that want to be classified under a
// specific retry tag instead of TagUnknown.
type Tagged interface {
	error
	TaskErrTag() Tag
}

// EncodeError converts an arbitrary error raised by a task body into the
// wire Encoded form, preferring a Tagged error's own tag.
func EncodeError(err error) *Encoded {
	if err == nil {
		return nil
	}
	var tagged Tagged
	if errors.As(err, &tagged) {
		return &Encoded{Tag: tagged.TaskErrTag(), Message: err.Error()}
	}
	return &Encoded{Tag: TagUnknown, Message: err.Error()}
}

// MatchesAny reports whether err's tag is present in the given retry.on
// set.
func MatchesAny(err error, on []Tag) bool {
	if err == nil || len(on) == 0 {
		return false
	}
	enc := EncodeError(err)
	for _, tag := range on {
		if enc.Tag == tag {
			return true
		}
	}
	return false
}
