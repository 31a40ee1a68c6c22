package server

import (
	"errors"
	"fmt"
	"time"
)

// ConnectionOp names the connect phase that failed.
type ConnectionOp string

const (
	OpConfig    ConnectionOp = "config"
	OpDial      ConnectionOp = "dial"
	OpHandshake ConnectionOp = "handshake"
	OpAuth      ConnectionOp = "auth"
	OpHostKey   ConnectionOp = "host-key"
	OpState     ConnectionOp = "state"
)

// ConnectionError reports a failed attempt to establish a Session:
// unreachable host, DNS failure, rejected credentials or host key.
type ConnectionError struct {
	Op   ConnectionOp
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %s: %v", e.Addr, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// HostKeyError is wrapped by a ConnectionError when the presented host key
// is unknown or does not match the configured policy.
type HostKeyError struct {
	Host        string
	Fingerprint string
	Mismatch    bool
	Err         error
}

func (e *HostKeyError) Error() string {
	kind := "unknown"
	if e.Mismatch {
		kind = "mismatched"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s host key %s for %s: %v", kind, e.Fingerprint, e.Host, e.Err)
	}
	return fmt.Sprintf("%s host key %s for %s", kind, e.Fingerprint, e.Host)
}

func (e *HostKeyError) Unwrap() error { return e.Err }

// ExecReason classifies why a command could not produce an exit status.
type ExecReason string

const (
	ReasonClosed    ExecReason = "closed"
	ReasonStart     ExecReason = "start"
	ReasonTimeout   ExecReason = "timeout"
	ReasonCanceled  ExecReason = "canceled"
	ReasonTransport ExecReason = "transport"
)

// ExecutionError reports a command that did not run to completion.
// A command that ran and exited non-zero is not an ExecutionError.
type ExecutionError struct {
	Reason  ExecReason
	Timeout time.Duration
	Err     error
}

func (e *ExecutionError) Error() string {
	switch {
	case e.Reason == ReasonTimeout:
		return fmt.Sprintf("command timed out after %s", e.Timeout)
	case e.Err != nil:
		return fmt.Sprintf("command %s: %v", e.Reason, e.Err)
	default:
		return fmt.Sprintf("command %s", e.Reason)
	}
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// TransportLost reports whether the error means the Session can no longer
// run commands.
func (e *ExecutionError) TransportLost() bool {
	return e.Reason == ReasonTransport || e.Reason == ReasonClosed
}

// OutputTooLargeError reports captured output exceeding the capture cap.
// The remote command is terminated; nothing is silently truncated.
type OutputTooLargeError struct {
	Limit  int
	Stream string
}

func (e *OutputTooLargeError) Error() string {
	return fmt.Sprintf("%s exceeded output cap of %d bytes", e.Stream, e.Limit)
}

// IsTransportLost reports whether err leaves the Session unusable.
func IsTransportLost(err error) bool {
	var execErr *ExecutionError
	return errors.As(err, &execErr) && execErr.TransportLost()
}
