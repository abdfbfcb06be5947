package engine

import (
	"bytes"
	"sync"
)

// consoleWriter batches one console stream into whole lines. Complete
// lines go out as soon as they are written; a trailing partial line waits
// for Flush.
type consoleWriter struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	send func(text string)
}

func newConsoleWriter(send func(text string)) *consoleWriter {
	return &consoleWriter{send: send}
}

func (w *consoleWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.buf.Write(p)
	var out string
	if i := bytes.LastIndexByte(w.buf.Bytes(), '\n'); i >= 0 {
		out = string(w.buf.Next(i + 1))
	}
	w.mu.Unlock()
	if out != "" {
		w.send(out)
	}
	return len(p), nil
}

func (w *consoleWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// Flush sends whatever is buffered.
func (w *consoleWriter) Flush() {
	if out := w.takePartial(); out != "" {
		w.send(out)
	}
}

// takePartial removes and returns the buffered partial line.
func (w *consoleWriter) takePartial() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.buf.String()
	w.buf.Reset()
	return out
}
