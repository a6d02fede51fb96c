package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrMalformedResponse marks a body that is not a processor response.
var ErrMalformedResponse = errors.New("malformed processor response")

// TransportKind classifies failures that happen before a processor verdict
// is available.
type TransportKind string

const (
	KindTimeout    TransportKind = "timeout"
	KindNetwork    TransportKind = "network"
	KindMalformed  TransportKind = "malformed"
	KindHTTPStatus TransportKind = "http_status"
)

// TransportError is returned for every call that did not produce a parsable
// processor response.
type TransportError struct {
	Op         Operation
	Kind       TransportKind
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("gateway %s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a bounded-timeout failure of a single call.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) && te.Kind == KindTimeout {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
