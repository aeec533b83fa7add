package templating

import (
	"errors"
	"fmt"
)

// Sentinel causes carried by ArgumentError. Use errors.Is to test for them.
var (
	ErrArity           = errors.New("wrong number of arguments")
	ErrNotNumeric      = errors.New("arguments must be numeric")
	ErrDivideByZero    = errors.New("divide by zero")
	ErrNegativeSqrt    = errors.New("sqrt of negative number")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrLimitExceeded   = errors.New("limit exceeded")
	ErrUnknownFunction = errors.New("unknown function")
)

// ArgumentError is raised when a builtin is invoked with arguments it cannot
// accept. Unlike missing data, these errors propagate out of Render so the
// build driver can decide whether to skip the page or abort.
type ArgumentError struct {
	// Func is the name the function was invoked as.
	Func string
	// Msg is the human-readable description.
	Msg string
	// Err is one of the sentinel causes above.
	Err error
}

func (e *ArgumentError) Error() string {
	return e.Msg
}

func (e *ArgumentError) Unwrap() error {
	return e.Err
}

func argError(fn string, cause error, format string, args ...any) *ArgumentError {
	return &ArgumentError{Func: fn, Err: cause, Msg: fmt.Sprintf(format, args...)}
}

func notNumeric(fn string) *ArgumentError {
	return argError(fn, ErrNotNumeric, "%s arguments must be numeric", fn)
}

func divideByZero(fn string) *ArgumentError {
	return argError(fn, ErrDivideByZero, "divide by zero")
}

func invalidArg(fn, format string, args ...any) *ArgumentError {
	return argError(fn, ErrInvalidArgument, "%s: %s", fn, fmt.Sprintf(format, args...))
}

// argument conversion helpers shared by the builtin tables.

func numberArg(fn string, v any) (number, error) {
	n, ok := toNumber(v)
	if !ok {
		return number{}, notNumeric(fn)
	}
	return n, nil
}

func floatArg(fn string, v any) (float64, error) {
	n, err := numberArg(fn, v)
	if err != nil {
		return 0, err
	}
	return n.f, nil
}

func intArg(fn string, v any) (int, error) {
	i, ok := toInt(v)
	if !ok {
		return 0, invalidArg(fn, "expected an integer, got %q", toString(v))
	}
	return i, nil
}

func listArg(fn string, v any) ([]any, error) {
	l, ok := toList(v)
	if !ok {
		return nil, invalidArg(fn, "expected a list, got %T", v)
	}
	return l, nil
}
