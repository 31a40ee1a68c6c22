package server

import (
	"context"
	"time"
)

// Server is a remote host that runs commands over an exclusively owned session.
type Server interface {
	// ID returns a unique identifier for the server.
	ID() string
	// Address returns the connection address (host:port).
	Address() string
	// Execute runs a command with a mandatory timeout. A non-zero exit status
	// is reported in Output, not as an error.
	Execute(ctx context.Context, command string, timeout time.Duration) (Output, error)
	// Close releases the underlying connection. It is safe to call twice.
	Close() error
}

// Output is what a remote command produced.
type Output struct {
	ExitStatus int
	Stdout     string
	Stderr     string
	Elapsed    time.Duration
}

// Succeeded reports a zero exit status.
func (o Output) Succeeded() bool {
	return o.ExitStatus == 0
}
