package producer

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gate4ai/chatstream/shared/stream"
)

var ErrWriterClosed = errors.New("event writer is closed")

// EventWriter is the output side of one stream. It is exclusively owned by a single Run.
type EventWriter interface {
	WriteEvent(e stream.Event) error
	Close() error
}

// commentWriter is implemented by writers that can emit SSE comment lines.
type commentWriter interface {
	WriteComment(text string) error
}

var (
	_ EventWriter   = (*Writer)(nil)
	_ commentWriter = (*Writer)(nil)
)

// Writer frames events onto an http.ResponseWriter.
type Writer struct {
	mu     sync.Mutex
	w      http.ResponseWriter
	rc     *http.ResponseController
	closed bool
}

// NewWriter sets the event-stream headers and sends the status line.
func NewWriter(w http.ResponseWriter) *Writer {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sw := &Writer{w: w, rc: http.NewResponseController(w)}
	_ = sw.rc.Flush() // a failed flush here resurfaces on the first write
	return sw
}

// WriteEvent writes one frame and flushes it to the client.
func (sw *Writer) WriteEvent(e stream.Event) error {
	return sw.write(stream.Encode(e))
}

// WriteComment writes an SSE comment frame. Decoders ignore it.
func (sw *Writer) WriteComment(text string) error {
	return sw.write([]byte(": " + text + stream.FrameDelimiter))
}

func (sw *Writer) write(frame []byte) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return ErrWriterClosed
	}
	if _, err := sw.w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if err := sw.rc.Flush(); err != nil {
		return fmt.Errorf("flush frame: %w", err)
	}
	return nil
}

// Close releases the writer. Calling it more than once is a no-op.
func (sw *Writer) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.closed = true
	return nil
}
