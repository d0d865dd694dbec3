// Package model defines the model invocation contract used by the stream
// producer and its implementations.
package model

import (
	"context"
	"io"
)

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one prior turn handed to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chunk is one unit yielded by a Sequence: TextChunk, ToolCallChunk or ToolResultChunk.
type Chunk interface {
	isChunk()
}

// TextChunk is a plain fragment of assistant output.
type TextChunk struct {
	Text string
}

// ToolCallChunk is a tool invocation requested by the model.
type ToolCallChunk struct {
	Name string
	Args any
}

// ToolResultChunk carries the result of the most recent tool call. Name may be
// empty when the model does not repeat it.
type ToolResultChunk struct {
	Name   string
	Output any
}

func (TextChunk) isChunk()       {}
func (ToolCallChunk) isChunk()   {}
func (ToolResultChunk) isChunk() {}

// Sequence is a lazy, finite, non-restartable stream of chunks.
// Next returns io.EOF once exhausted. Close releases the underlying call.
type Sequence interface {
	Next(ctx context.Context) (Chunk, error)
	Close() error
}

// Invoker starts one model call over an ordered list of messages.
type Invoker interface {
	Invoke(ctx context.Context, messages []Message) (Sequence, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, messages []Message) (Sequence, error)

func (f InvokerFunc) Invoke(ctx context.Context, messages []Message) (Sequence, error) {
	return f(ctx, messages)
}

// LastUserMessage returns the content of the last user message, or "".
func LastUserMessage(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// sliceSequence replays a fixed list of chunks.
type sliceSequence struct {
	chunks    []Chunk
	pos       int
	failAfter int
	err       error
	closed    bool
}

func (s *sliceSequence) Next(ctx context.Context) (Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed {
		return nil, io.ErrClosedPipe
	}
	if s.err != nil && s.pos == s.failAfter {
		return nil, s.err
	}
	if s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *sliceSequence) Close() error {
	s.closed = true
	return nil
}
