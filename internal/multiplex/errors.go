package multiplex

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolViolation is the root of every error caused by the remote breaking the wire protocol.
	// It is always fatal to the session.
	ErrProtocolViolation = errors.New("protocol violation")
	ErrStreamReset       = errors.New("stream reset")
	ErrSessionClosed     = errors.New("session closed")
	ErrTransport         = errors.New("transport error")
	ErrTimeout           = errors.New("deadline exceeded")
	ErrDrainTimeout      = errors.New("timed out waiting for streams to drain")
	ErrGoingAway         = errors.New("session is going away")
	ErrWriteClosed       = errors.New("write on closed stream")
	ErrWindowExceeded    = errors.New("flow control window exceeded")
	ErrNeedMoreData      = errors.New("incomplete frame")
	ErrStreamsExhausted  = errors.New("stream identifiers exhausted")
	ErrKeepAliveTimeout  = errors.New("keepalive timed out")
)

type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "protocol violation: " + e.Reason }

func (e *ProtocolError) Unwrap() error { return ErrProtocolViolation }

func protocolErrorf(format string, args ...interface{}) error {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// resetError is what a stream reports once the session it belongs to has died
func resetError(cause error) error {
	if cause == nil || errors.Is(cause, ErrStreamReset) {
		return ErrStreamReset
	}
	return fmt.Errorf("%w: %w", ErrStreamReset, cause)
}
