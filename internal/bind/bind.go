// Package bind implements the reflection-based argument binding shared by
// the client (to validate a call against a task's declared signature
// before publishing) and the Grunt Worker (to invoke the resolved
// function with decoded call arguments).
package bind

import (
	"fmt"
	"reflect"

	"github.com/aiotaskq-go/aiotaskq/taskerr"
)

// Reflect returns fn's reflect.Value and the declared types of its input
// parameters. It panics if fn is not a function, since that is a
// programming error in the caller, discovered at task-definition time.
func Reflect(fn any) (reflect.Value, []reflect.Type) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		panic(fmt.Sprintf("bind: %T is not a function", fn))
	}
	t := v.Type()
	in := make([]reflect.Type, t.NumIn())
	for i := range in {
		in[i] = t.In(i)
	}
	return v, in
}

// Validate checks that args can be bound against in, failing with
// taskerr.ErrInvalidArgument on an arity or type mismatch. It does not
// call the function.
func Validate(in []reflect.Type, args []any) error {
	if len(args) != len(in) {
		return fmt.Errorf("%w: expected %d argument(s), got %d", taskerr.ErrInvalidArgument, len(in), len(args))
	}
	for i, want := range in {
		if args[i] == nil {
			if !isNilable(want) {
				return fmt.Errorf("%w: argument %d cannot be nil for type %s", taskerr.ErrInvalidArgument, i, want)
			}
			continue
		}
		if !convertible(reflect.TypeOf(args[i]), want) {
			return fmt.Errorf("%w: argument %d has type %T, want %s", taskerr.ErrInvalidArgument, i, args[i], want)
		}
	}
	return nil
}

// Call binds args against in and invokes fn, returning (result, error):
// the first return value is the result and a trailing error return value
// is the error. A function with no return values yields (nil, nil), and
// one whose only return value is an error yields (nil, that error).
func Call(fn reflect.Value, in []reflect.Type, args []any) (any, error) {
	if err := Validate(in, args); err != nil {
		return nil, err
	}
	callArgs := make([]reflect.Value, len(args))
	for i, want := range in {
		if args[i] == nil {
			callArgs[i] = reflect.Zero(want)
			continue
		}
		callArgs[i] = coerce(reflect.ValueOf(args[i]), want)
	}
	out := fn.Call(callArgs)
	return splitResults(out)
}

func splitResults(out []reflect.Value) (any, error) {
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if err, ok := out[0].Interface().(error); ok {
			return nil, err
		}
		return out[0].Interface(), nil
	default:
		var err error
		if e, ok := out[len(out)-1].Interface().(error); ok {
			err = e
		}
		return out[0].Interface(), err
	}
}

func isNilable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Ptr, reflect.Slice:
		return true
	default:
		return false
	}
}

// convertible reports whether a value of type got can be coerced into
// want, allowing the numeric widening that a JSON round trip requires
// (e.g. a decoded float64 feeding an int parameter).
func convertible(got, want reflect.Type) bool {
	if got.AssignableTo(want) {
		return true
	}
	if got.ConvertibleTo(want) && isNumericKind(got.Kind()) && isNumericKind(want.Kind()) {
		return true
	}
	return false
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

func coerce(v reflect.Value, want reflect.Type) reflect.Value {
	if v.Type().AssignableTo(want) {
		return v
	}
	return v.Convert(want)
}
