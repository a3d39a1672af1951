// Package errs 定义截图流水线对外可见的错误分类。
package errs

import (
	"errors"
	"fmt"
)

// Code 错误类别
type Code string

const (
	CodeConfiguration Code = "CONFIGURATION"
	CodeValidation    Code = "VALIDATION"
	CodeLaunch        Code = "LAUNCH"
	CodeNavigation    Code = "NAVIGATION"
	CodeTimeout       Code = "TIMEOUT"
	CodeCapture       Code = "CAPTURE"
	CodeEncoding      Code = "ENCODING"
)

// Error 携带类别、可返回给调用方的消息以及内部原因。
// Message 不包含堆栈或 CDP 细节，Cause 只用于日志。
type Error struct {
	Code    Code
	Message string
	Field   string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error with the given code and client-facing message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithField records which request parameter was rejected.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithCause attaches the underlying error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Message returns the client-facing message of err, falling back to fallback
// for errors outside the taxonomy.
func Message(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallback
}
