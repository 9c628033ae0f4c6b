// Package codec implements the bidirectional mapping between in-memory
// Task/AsyncResult objects and the wire bytes published on the broker.
//
// Every message is prefixed with a short ASCII tag identifying the
// encoding, followed by a JSON object, marshaling structs to JSON before
// handing them to Redis the same way the rest of this module's adapters
// do.
package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aiotaskq-go/aiotaskq/task"
	"github.com/aiotaskq-go/aiotaskq/taskerr"
)

// jsonTag is the wire prefix for the JSON encoding. Decoding any other
// prefix fails with ErrUnknownTag.
const jsonTag = "json"

// ErrUnknownTag is returned when decoding a message whose wire tag this
// codec does not recognize.
var ErrUnknownTag = fmt.Errorf("codec: unknown wire tag")

type funcRef struct {
	Module   string `json:"module"`
	Qualname string `json:"qualname"`
}

type retryOptionsWire struct {
	MaxRetries int      `json:"max_retries"`
	On         []string `json:"on"`
}

type taskOptionsWire struct {
	Retry *retryOptionsWire `json:"retry,omitempty"`
}

type taskWire struct {
	Func    funcRef         `json:"func"`
	TaskID  *string         `json:"task_id"`
	Args    []any           `json:"args"`
	Kwargs  map[string]any  `json:"kwargs"`
	Options taskOptionsWire `json:"options"`
}

// splitQualifiedName splits "<module>.<function>" into its two parts. If
// there is no separator, module is empty and the whole name is used as
// the qualname, matching how simple single-segment registrations round
// trip.
func splitQualifiedName(name string) (module, qualname string) {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+1:]
}

func joinQualifiedName(module, qualname string) string {
	if module == "" {
		return qualname
	}
	return module + "." + qualname
}

// EncodeTask serializes a Task-request to wire bytes.
func EncodeTask(t *task.Task) ([]byte, error) {
	module, qualname := splitQualifiedName(t.QualifiedName)
	w := taskWire{
		Func:   funcRef{Module: module, Qualname: qualname},
		TaskID: &t.CallID,
		Args:   t.Args,
		Kwargs: t.Kwargs,
	}
	if t.Options.Retry != nil {
		on := make([]string, len(t.Options.Retry.On))
		for i, tag := range t.Options.Retry.On {
			on[i] = string(tag)
		}
		w.Options.Retry = &retryOptionsWire{MaxRetries: t.Options.Retry.MaxRetries, On: on}
	}
	body, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("codec: failed to marshal task: %w", err)
	}
	return []byte(jsonTag + "|" + string(body)), nil
}

// DecodeTask deserializes wire bytes into a Task.
func DecodeTask(data []byte) (*task.Task, error) {
	payload, err := stripTag(data)
	if err != nil {
		return nil, err
	}
	var w taskWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("codec: failed to unmarshal task: %w", err)
	}
	t := &task.Task{
		QualifiedName: joinQualifiedName(w.Func.Module, w.Func.Qualname),
		Args:          w.Args,
		Kwargs:        w.Kwargs,
	}
	if w.TaskID != nil {
		t.CallID = *w.TaskID
	}
	if w.Options.Retry != nil {
		on := make([]taskerr.Tag, len(w.Options.Retry.On))
		for i, s := range w.Options.Retry.On {
			on[i] = taskerr.Tag(s)
		}
		t.Options.Retry = &task.RetryOptions{MaxRetries: w.Options.Retry.MaxRetries, On: on}
	}
	return t, nil
}

type encodedErrorWire struct {
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

type resultWire struct {
	TaskID string            `json:"task_id"`
	Ready  bool              `json:"ready"`
	Result any               `json:"result"`
	Error  *encodedErrorWire `json:"error"`
}

// EncodeResult serializes an AsyncResult to wire bytes.
func EncodeResult(r *task.AsyncResult) ([]byte, error) {
	w := resultWire{TaskID: r.CallID, Ready: true, Result: r.Result}
	if r.Error != nil {
		w.Error = &encodedErrorWire{Tag: string(r.Error.Tag), Message: r.Error.Message}
	}
	body, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("codec: failed to marshal result: %w", err)
	}
	return []byte(jsonTag + "|" + string(body)), nil
}

// DecodeResult deserializes wire bytes into an AsyncResult.
func DecodeResult(data []byte) (*task.AsyncResult, error) {
	payload, err := stripTag(data)
	if err != nil {
		return nil, err
	}
	var w resultWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("codec: failed to unmarshal result: %w", err)
	}
	r := &task.AsyncResult{CallID: w.TaskID, Ready: w.Ready, Result: w.Result}
	if w.Error != nil {
		r.Error = &taskerr.Encoded{Tag: taskerr.Tag(w.Error.Tag), Message: w.Error.Message}
	}
	return r, nil
}

func stripTag(data []byte) ([]byte, error) {
	s := string(data)
	i := strings.Index(s, "|")
	if i < 0 || s[:i] != jsonTag {
		return nil, ErrUnknownTag
	}
	return []byte(s[i+1:]), nil
}
