package dispatch

import (
	"bytes"
	"strings"
	"sync"
)

// truncationMarker is appended to captured output that hit the stream cap.
const truncationMarker = "\n[output truncated]"

// limitedBuffer captures at most max bytes and notes when writes overflow.
// Writes past the cap are swallowed but reported as fully written so the
// producing process never sees a short-write error. Safe for concurrent use:
// exec copies stdout and stderr from separate goroutines.
type limitedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remain := b.max - b.buf.Len()
	if remain <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remain {
		b.buf.Write(p[:remain])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

// String returns the captured output sanitized to valid UTF-8, with the
// truncation marker appended when the cap was hit.
func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := strings.ToValidUTF8(b.buf.String(), "�")
	if b.truncated {
		s += truncationMarker
	}
	return s
}

// Truncated reports whether any write overflowed the cap.
func (b *limitedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
