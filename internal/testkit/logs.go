package testkit

import (
	"bytes"
	"log"
	"os"
	"sync"
	"testing"
)

// LogBuffer collects standard logger output during a test.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CaptureLog redirects the standard logger until the test ends.
func CaptureLog(t *testing.T) *LogBuffer {
	t.Helper()
	b := &LogBuffer{}
	log.SetOutput(b)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	return b
}
