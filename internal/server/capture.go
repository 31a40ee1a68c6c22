package server

import (
	"bytes"
	"sync"
)

// DefaultMaxOutputBytes caps stdout and stderr combined for one command.
const DefaultMaxOutputBytes = 1 << 20

// capture collects stdout and stderr under one shared cap. Once the cap is
// hit it keeps draining the channel without storing, and signals overflow
// so the caller can stop the remote command.
type capture struct {
	mu       sync.Mutex
	limit    int
	total    int
	stdout   bytes.Buffer
	stderr   bytes.Buffer
	exceeded string
	overflow chan struct{}
}

func newCapture(limit int) *capture {
	if limit <= 0 {
		limit = DefaultMaxOutputBytes
	}
	return &capture{
		limit:    limit,
		overflow: make(chan struct{}),
	}
}

func (c *capture) write(stream string, buf *bytes.Buffer, p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.exceeded != "" {
		return len(p), nil
	}
	if c.total+len(p) > c.limit {
		c.exceeded = stream
		close(c.overflow)
		return len(p), nil
	}
	c.total += len(p)
	buf.Write(p)
	return len(p), nil
}

func (c *capture) Stdout() *streamWriter { return &streamWriter{c: c, stream: "stdout", buf: &c.stdout} }
func (c *capture) Stderr() *streamWriter { return &streamWriter{c: c, stream: "stderr", buf: &c.stderr} }

func (c *capture) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exceeded == "" {
		return nil
	}
	return &OutputTooLargeError{Limit: c.limit, Stream: c.exceeded}
}

func (c *capture) strings() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stdout.String(), c.stderr.String()
}

type streamWriter struct {
	c      *capture
	stream string
	buf    *bytes.Buffer
}

func (w *streamWriter) Write(p []byte) (int, error) {
	return w.c.write(w.stream, w.buf, p)
}
