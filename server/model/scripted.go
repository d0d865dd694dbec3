package model

import (
	"context"
	"sync"
)

var _ Invoker = (*ScriptedInvoker)(nil)

// ScriptedInvoker replays the same chunks for every call. It backs the "fake"
// provider and tests.
type ScriptedInvoker struct {
	Chunks []Chunk
	// FailAfter chunks, Next returns Err. Ignored when Err is nil.
	FailAfter int
	Err       error
	// InvokeErr makes Invoke itself fail.
	InvokeErr error

	mu    sync.Mutex
	calls [][]Message
}

// NewScripted creates a ScriptedInvoker yielding chunks.
func NewScripted(chunks ...Chunk) *ScriptedInvoker {
	return &ScriptedInvoker{Chunks: chunks}
}

// Invoke records messages and returns a fresh sequence.
func (s *ScriptedInvoker) Invoke(ctx context.Context, messages []Message) (Sequence, error) {
	s.mu.Lock()
	s.calls = append(s.calls, append([]Message(nil), messages...))
	s.mu.Unlock()
	if s.InvokeErr != nil {
		return nil, s.InvokeErr
	}
	return &sliceSequence{chunks: s.Chunks, failAfter: s.FailAfter, err: s.Err}, nil
}

// Calls returns the message lists passed to Invoke so far.
func (s *ScriptedInvoker) Calls() [][]Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Message(nil), s.calls...)
}
