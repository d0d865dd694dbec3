package model

import (
	"context"
	"strings"
	"sync"
	"time"

	loremgen "github.com/bozaro/golorem"
)

var _ Invoker = (*LoremInvoker)(nil)

// LoremInvoker generates placeholder text so the server runs without API keys.
// A user message mentioning "calculate" first runs a simulated math tool.
type LoremInvoker struct {
	mu        sync.Mutex
	generator *loremgen.Lorem
	words     int
	delay     time.Duration
}

// NewLorem creates a LoremInvoker answering with about words words, pausing
// delay between chunks.
func NewLorem(words int, delay time.Duration) *LoremInvoker {
	if words <= 0 {
		words = 40
	}
	return &LoremInvoker{generator: loremgen.New(), words: words, delay: delay}
}

// Invoke prepares the full answer up front and streams it word by word.
func (l *LoremInvoker) Invoke(ctx context.Context, messages []Message) (Sequence, error) {
	var chunks []Chunk
	if strings.Contains(strings.ToLower(LastUserMessage(messages)), "calculate") {
		chunks = append(chunks,
			ToolCallChunk{Name: "math", Args: map[string]string{"expr": "2+2"}},
			ToolResultChunk{Name: "math", Output: map[string]string{"result": "4"}},
		)
	}
	for i, word := range strings.Fields(l.text()) {
		if i > 0 {
			word = " " + word
		}
		chunks = append(chunks, TextChunk{Text: word})
	}
	return &delayedSequence{inner: &sliceSequence{chunks: chunks}, delay: l.delay}, nil
}

func (l *LoremInvoker) text() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var b strings.Builder
	count := 0
	for count < l.words {
		sentence := l.generator.Sentence(5, 15)
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(sentence)
		count += len(strings.Fields(sentence))
	}
	return b.String()
}

type delayedSequence struct {
	inner Sequence
	delay time.Duration
}

func (d *delayedSequence) Next(ctx context.Context) (Chunk, error) {
	if d.delay > 0 {
		timer := time.NewTimer(d.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return d.inner.Next(ctx)
}

func (d *delayedSequence) Close() error {
	return d.inner.Close()
}
