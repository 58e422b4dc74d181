package amqp

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code identifies a category of error raised by the core (spec §7).
type Code string

const (
	CodeTransportError       Code = "TransportError"
	CodeTimeoutError         Code = "TimeoutError"
	CodeHeartbeatTimeout     Code = "HeartbeatTimeout"
	CodeFrameError           Code = "FrameError"
	CodeUnknownMethod        Code = "UnknownMethod"
	CodeBadServerVersion     Code = "BadServerVersion"
	CodeAuthenticationFailed Code = "AuthenticationFailure"
	CodeServerClose          Code = "ServerClose"
	CodeNoChannelsAvailable  Code = "NoChannelsAvailable"
	CodeUncaughtMethod       Code = "UncaughtMethod"
	CodeInvalidURI           Code = "InvalidURI"
)

// Error is the single error type the core raises. Permanent errors (a bad
// URI, a protocol version mismatch, a failed handshake) tell the
// Reconnection Supervisor not to retry even when reconnect is enabled.
type Error struct {
	Code      Code
	Message   string
	ReplyCode uint16 // populated for CodeServerClose
	cause     error
	permanent bool
}

func (e *Error) Error() string {
	if e.ReplyCode != 0 {
		return fmt.Sprintf("amqp: %s: %s (reply-code %d)", e.Code, e.Message, e.ReplyCode)
	}
	return fmt.Sprintf("amqp: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Permanent reports whether a Reconnection Supervisor should give up
// instead of retrying after this error.
func (e *Error) Permanent() bool { return e.permanent }

func newErr(code Code, permanent bool, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), permanent: permanent}
}

func wrapErr(code Code, permanent bool, cause error, format string, args ...any) *Error {
	return &Error{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		cause:     errors.Wrap(cause, string(code)),
		permanent: permanent,
	}
}

func errTransport(cause error, format string, args ...any) *Error {
	return wrapErr(CodeTransportError, false, cause, format, args...)
}

func errTimeout(format string, args ...any) *Error {
	return newErr(CodeTimeoutError, false, format, args...)
}

func errHeartbeatTimeout(graceSeconds int) *Error {
	return newErr(CodeHeartbeatTimeout, false, "no inbound traffic within %ds grace period", graceSeconds)
}

func errFrame(format string, args ...any) *Error {
	return newErr(CodeFrameError, false, format, args...)
}

func errUnknownMethod(classIndex, methodIndex uint16) *Error {
	return newErr(CodeUnknownMethod, false, "unknown method (class=%d, method=%d)", classIndex, methodIndex)
}

func errBadServerVersion(major, minor int) *Error {
	return newErr(CodeBadServerVersion, true, "server speaks AMQP %d-%d, expected 0-9", major, minor)
}

func errAuthenticationFailure() *Error {
	return newErr(CodeAuthenticationFailed, true, "transport ended before ready; likely authentication failure")
}

func errServerClose(replyCode uint16, replyText string) *Error {
	return &Error{Code: CodeServerClose, Message: replyText, ReplyCode: replyCode, permanent: replyCode == 403 || replyCode == 530}
}

func errNoChannelsAvailable() *Error {
	return newErr(CodeNoChannelsAvailable, false, "no channel ids available")
}

func errUncaughtMethod(class, method string, state string) *Error {
	return newErr(CodeUncaughtMethod, true, "uncaught method %s.%s in state %s", class, method, state)
}

func errInvalidURI(format string, args ...any) *Error {
	return newErr(CodeInvalidURI, true, format, args...)
}
