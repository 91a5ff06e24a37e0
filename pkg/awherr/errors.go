// Package awherr defines the error-kind taxonomy shared by every protocol
// package in this module, so that callers can branch on failure class
// (transport vs. protocol vs. auth, etc.) without parsing error strings.
package awherr

import (
	"errors"
	"fmt"
)

// Kind classifies the subsystem that produced an [Error].
type Kind int

const (
	KindTransport Kind = iota
	KindTLS
	KindDNS
	KindHTTP1
	KindHTTP2
	KindWS
	KindProxy
	KindAuth
	KindEncryption
	KindCompression
	KindResource
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindTLS:
		return "tls"
	case KindDNS:
		return "dns"
	case KindHTTP1:
		return "http1"
	case KindHTTP2:
		return "http2"
	case KindWS:
		return "ws"
	case KindProxy:
		return "proxy"
	case KindAuth:
		return "auth"
	case KindEncryption:
		return "encryption"
	case KindCompression:
		return "compression"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Error is the single error type returned across this module's protocol
// packages. It carries a [Kind], an optional protocol-specific numeric
// code (an RFC 9113 HTTP/2 error code, or an RFC 6455 WebSocket close
// code, depending on Kind), and the underlying cause.
type Error struct {
	Kind    Kind
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Kind, so callers
// can do errors.Is(err, awherr.New(awherr.KindDNS, 0, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New constructs an [Error] with no underlying cause.
func New(kind Kind, code int, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap constructs an [Error] wrapping err.
func Wrap(kind Kind, code int, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// KindOf returns the [Kind] of err if it (or something it wraps) is an
// *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Compression constructs a [KindCompression] error with no underlying cause.
func Compression(message string) *Error {
	return New(KindCompression, 0, message)
}

// WrapCompression constructs a [KindCompression] error wrapping err.
func WrapCompression(message string, err error) *Error {
	return Wrap(KindCompression, 0, message, err)
}

// Encryption constructs a [KindEncryption] error with no underlying cause.
func Encryption(message string) *Error {
	return New(KindEncryption, 0, message)
}

// WrapEncryption constructs a [KindEncryption] error wrapping err.
func WrapEncryption(message string, err error) *Error {
	return Wrap(KindEncryption, 0, message, err)
}
