package code

import (
	"bytes"
	"sync"
)

const truncatedMarker = "\n... output truncated\n"

// outputBuffer collects one stream of one request. Scripts may write from
// several goroutines, and the executor reads a snapshot while a timed out
// worker is still writing.
type outputBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newOutputBuffer(limit int) *outputBuffer {
	return &outputBuffer{limit: limit}
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return len(p), nil
	}
	if b.limit > 0 && b.buf.Len()+len(p) > b.limit {
		b.buf.Write(p[:b.limit-b.buf.Len()])
		b.buf.WriteString(truncatedMarker)
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// combineOutput appends stderr to stdout under a "[STDERR]" header.
func combineOutput(stdout, stderr string) string {
	if stderr == "" {
		return stdout
	}
	return stdout + "\n[STDERR]\n" + stderr
}
