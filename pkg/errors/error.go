package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

const maxStackDepth = 10

// Error carries an ErrorCode through the call chain.
type Error struct {
	Code    ErrorCode
	Message string                 // overrides Code.Message() when set
	Details map[string]interface{} // rendered into the response envelope
	Err     error
	Stack   string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code.Message()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: msg,
		Details: make(map[string]interface{}),
		Err:     cause,
		Stack:   callerStack(3),
	}
}

// New creates an Error with the default message of code.
func New(code ErrorCode) *Error {
	return newError(code, code.Message(), nil)
}

// Newf creates an Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return newError(code, fmt.Sprintf(format, args...), nil)
}

// Wrap attaches code to err.
// An *Error already in the chain keeps its message and only has its code replaced.
func Wrap(err error, code ErrorCode) *Error {
	if err == nil {
		return nil
	}
	if e, ok := as(err); ok {
		e.Code = code
		return e
	}
	return newError(code, err.Error(), err)
}

// Wrapf wraps err under a new message. The outer code wins over any code inside err.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return newError(code, fmt.Sprintf(format, args...), err)
}

func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func as(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the code of the outermost *Error in the chain.
// Plain errors report InternalServerError, nil reports Success.
func GetCode(err error) ErrorCode {
	if err == nil {
		return Success
	}
	if e, ok := as(err); ok {
		return e.Code
	}
	return InternalServerError
}

// GetError returns the outermost *Error, wrapping plain errors as InternalServerError.
func GetError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := as(err); ok {
		return e
	}
	return Wrap(err, InternalServerError)
}

// Is reports whether the outermost *Error in the chain has code.
// Plain errors never match.
func Is(err error, code ErrorCode) bool {
	e, ok := as(err)
	return ok && e.Code == code
}

// Retryable reports whether err was caused by load or infrastructure rather than its input.
func Retryable(err error) bool {
	return err != nil && GetCode(err).Retryable()
}

// ValidationError reports a rejected request field.
func ValidationError(field, reason string) *Error {
	return New(ValidationFailed).
		WithDetail("field", field).
		WithDetail("reason", reason)
}

func callerStack(skip int) string {
	var pcs [maxStackDepth]uintptr
	n := runtime.Callers(skip+1, pcs[:])
	if n == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs[:n])
	var b strings.Builder
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			fmt.Fprintf(&b, "\n\t%s:%d %s", frame.File, frame.Line, frame.Function)
		}
		if !more {
			break
		}
	}
	return b.String()
}
