package lens

import (
	"bytes"
	"io"
	"sync"
)

// newLimitedRollingBufferWriter keeps roughly the last sizeLimit bytes written.
func newLimitedRollingBufferWriter(buf *bytes.Buffer, sizeLimit int) io.Writer {
	return &limitedRollingBuffer{
		buf:      buf,
		maxBytes: sizeLimit,
	}
}

type limitedRollingBuffer struct {
	mu       sync.Mutex
	buf      *bytes.Buffer
	maxBytes int
}

func (lb *limitedRollingBuffer) Write(p []byte) (n int, err error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.buf.Write(p)
	if lb.buf.Len() > lb.maxBytes {
		current := lb.buf.Bytes()
		trimmed := append([]byte(nil), current[len(current)-(lb.maxBytes/2):]...)
		lb.buf.Reset()
		lb.buf.WriteString("...")
		lb.buf.Write(trimmed)
	}
	return len(p), nil
}
