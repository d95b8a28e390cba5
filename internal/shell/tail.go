package shell

import (
	"fmt"
	"sync"
	"unicode/utf8"
)

// DefaultTailBytes is the output cap used when a Tail is created with a
// non-positive size.
const DefaultTailBytes = 4096

// Tail is an io.Writer that keeps only the most recent bytes written to it.
// Older bytes are discarded once the cap is reached. It is safe for
// concurrent use: the process copies into it while readers snapshot it.
type Tail struct {
	mu    sync.Mutex
	max   int
	buf   []byte
	total int64
}

// NewTail creates a Tail holding at most max bytes.
func NewTail(max int) *Tail {
	if max <= 0 {
		max = DefaultTailBytes
	}
	return &Tail{max: max, buf: make([]byte, 0, max)}
}

// Write appends p, discarding the oldest bytes beyond the cap.
func (t *Tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total += int64(len(p))
	if len(p) >= t.max {
		t.buf = append(t.buf[:0], p[len(p)-t.max:]...)
		return len(p), nil
	}
	if over := len(t.buf) + len(p) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	t.buf = append(t.buf, p...)
	return len(p), nil
}

// Len returns the total number of bytes ever written.
func (t *Tail) Len() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Dropped returns how many bytes have been discarded from the front.
func (t *Tail) Dropped() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total - int64(len(t.buf))
}

// Bytes returns a copy of the retained bytes.
func (t *Tail) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, len(t.buf))
	copy(out, t.buf)
	return out
}

// String returns the retained output. When bytes were dropped the result
// starts with a notice and the first partial UTF-8 sequence is skipped.
func (t *Tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	dropped := t.total - int64(len(t.buf))
	if dropped == 0 {
		return string(t.buf)
	}
	b := t.buf
	for len(b) > 0 && !utf8.RuneStart(b[0]) {
		b = b[1:]
	}
	return fmt.Sprintf("...[%d earlier bytes dropped]\n%s", dropped, b)
}
