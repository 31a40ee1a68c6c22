package server

import (
	"errors"
	"strings"
	"testing"
)

func TestCapture_SharedLimit(t *testing.T) {
	c := newCapture(10)

	if _, err := c.Stdout().Write([]byte("12345")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.Stderr().Write([]byte("abcd")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.err(); err != nil {
		t.Fatalf("expected no overflow yet, got %v", err)
	}

	n, err := c.Stderr().Write([]byte("xy"))
	if err != nil || n != 2 {
		t.Fatalf("overflowing write must still drain, got n=%d err=%v", n, err)
	}
	select {
	case <-c.overflow:
	default:
		t.Fatal("expected overflow to be signalled")
	}

	// Later writes are drained without panicking on the closed channel.
	if _, err := c.Stdout().Write([]byte(strings.Repeat("z", 100))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var tooLarge *OutputTooLargeError
	if !errors.As(c.err(), &tooLarge) {
		t.Fatalf("expected OutputTooLargeError, got %v", c.err())
	}
	if tooLarge.Stream != "stderr" || tooLarge.Limit != 10 {
		t.Fatalf("unexpected overflow details: %+v", tooLarge)
	}

	stdout, stderr := c.strings()
	if stdout != "12345" || stderr != "abcd" {
		t.Fatalf("captured %q / %q", stdout, stderr)
	}
}

func TestCapture_DefaultLimit(t *testing.T) {
	if c := newCapture(0); c.limit != DefaultMaxOutputBytes {
		t.Fatalf("expected default limit, got %d", c.limit)
	}
}
