package logger

import (
	"bytes"
	"io"
	"sync"
)

// NewDiscardLogger returns a Logger that drops every entry.
func NewDiscardLogger() Logger {
	cl, _ := newCentralLogger(&LoggingConfig{
		DefaultLevel: "error",
		Console:      &ConsoleOutput{Enabled: false},
	}, io.Discard)
	return cl.Module("")
}

// syncBuffer guards a bytes.Buffer for loggers shared across goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// NewBufferLogger returns a trace-level Logger writing text output to the returned
// buffer, for asserting on log output in tests.
func NewBufferLogger() (Logger, interface{ String() string }) {
	buf := &syncBuffer{}
	cl, _ := newCentralLogger(&LoggingConfig{
		DefaultLevel: "trace",
		Console:      &ConsoleOutput{Enabled: true, Level: "trace"},
	}, buf)
	return cl.Module(""), buf
}
