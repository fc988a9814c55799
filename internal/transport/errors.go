package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// Kind classifies a transport failure
type Kind string

const (
	KindInvalidArgument   Kind = "invalid-argument"
	KindConnectionRefused Kind = "connection-refused"
	KindTimeout           Kind = "timeout"
	KindIOError           Kind = "io-error"
	KindUnknown           Kind = "unknown"
)

// Error is a classified transport failure. Detail is the caller-visible
// message.
type Error struct {
	Kind     Kind
	Endpoint Endpoint
	Detail   string
	Err      error
}

func (e *Error) Error() string {
	return e.Detail
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the classification of err, or KindUnknown
func KindOf(err error) Kind {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Kind
	}
	return KindUnknown
}

func invalidArgument(ep Endpoint, detail string) *Error {
	return &Error{Kind: KindInvalidArgument, Endpoint: ep, Detail: detail}
}

func classifyDial(ep Endpoint, err error) *Error {
	switch {
	case isTimeout(err):
		return &Error{Kind: KindTimeout, Endpoint: ep, Err: err,
			Detail: fmt.Sprintf("Timeout al conectar a %s", ep)}
	case isRefused(err):
		return &Error{Kind: KindConnectionRefused, Endpoint: ep, Err: err,
			Detail: fmt.Sprintf("No se pudo conectar a %s", ep)}
	default:
		return &Error{Kind: KindUnknown, Endpoint: ep, Err: err,
			Detail: fmt.Sprintf("Error de conexión: %v", err)}
	}
}

func classifyWrite(ep Endpoint, err error) *Error {
	if isTimeout(err) {
		return &Error{Kind: KindTimeout, Endpoint: ep, Err: err,
			Detail: fmt.Sprintf("Timeout al conectar a %s", ep)}
	}
	return &Error{Kind: KindIOError, Endpoint: ep, Err: err, Detail: err.Error()}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH)
}
