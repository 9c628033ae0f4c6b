// Package testapp is a demo task module, the kind of thing an embedding
// application registers against a Registry before starting a Worker
// Manager. It exists to exercise the concrete scenarios used throughout
// the test suite: a plain synchronous task, a cooperatively-sleeping
// asynchronous task, and a task that fails a fixed number of times
// before succeeding.
package testapp

import (
	"fmt"
	"os"
	"time"

	"github.com/aiotaskq-go/aiotaskq/registry"
	"github.com/aiotaskq-go/aiotaskq/taskerr"
)

// TagE1 and TagE2 are two disjoint error tags used by FlakyUntil to exercise
// the retry engine's match/no-match paths.
const (
	TagE1 taskerr.Tag = "E1"
	TagE2 taskerr.Tag = "E2"
)

// FlakyError is a tagged error raised by FlakyUntil, classifiable by the
// retry engine under either TagE1 or TagE2.
type FlakyError struct {
	tag taskerr.Tag
}

func (e *FlakyError) Error() string           { return string(e.tag) }
func (e *FlakyError) TaskErrTag() taskerr.Tag { return e.tag }

// Add is the simple-parity task: it returns the sum of its two
// arguments.
func Add(x, y int) (int, error) {
	return x + y, nil
}

// Wait sleeps for tSeconds and returns it unchanged. It is registered
// as an asynchronous task body so a Grunt runs it on its own goroutine,
// letting several calls sleep concurrently within one process.
func Wait(tSeconds int) (int, error) {
	time.Sleep(time.Duration(tSeconds) * time.Second)
	return tSeconds, nil
}

// FlakyUntil appends this process's pid as a line to file, then raises
// a FlakyError tagged with tag unless the file already has more than
// failUntilLines lines, in which case it returns the current line
// count. tag is a plain string rather than a taskerr.Tag so the
// function remains callable with wire-decoded arguments, which never
// carry named Go types.
//
// This realizes the f(file) task from the retry scenarios: each
// attempt (initial call or retry) leaves a durable trace in file so
// the test can assert exactly how many attempts were made.
func FlakyUntil(file string, tag string, failUntilLines int) (int, error) {
	f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("testapp: failed to open %s: %w", file, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return 0, fmt.Errorf("testapp: failed to append to %s: %w", file, err)
	}

	n, err := countLines(file)
	if err != nil {
		return 0, err
	}

	if n <= failUntilLines {
		return 0, &FlakyError{tag: taskerr.Tag(tag)}
	}
	return n, nil
}

func countLines(file string) (int, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return 0, fmt.Errorf("testapp: failed to read %s: %w", file, err)
	}
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n, nil
}

// Register populates reg with every demo task used by the scenarios in
// the test suite.
func Register(reg *registry.Registry) {
	reg.Register("testapp.add", Add)
	reg.Register("testapp.wait", Wait, registry.AsAsync())
	reg.Register("testapp.flaky_until", FlakyUntil,
		registry.WithRetry(2, TagE1, TagE2))
}
