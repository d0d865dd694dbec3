// Package conversation folds decoded stream events into chat state.
package conversation

import (
	"errors"
	"sync"
	"time"

	"github.com/gate4ai/chatstream/shared/stream"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrRequestInFlight is returned by Submit while a previous reply is still streaming.
var ErrRequestInFlight = errors.New("a reply is still streaming")

const unknownErrorMessage = "unknown error"

// ChangeFunc observes every event that changed the conversation, together
// with the streaming buffer as it was after the event.
type ChangeFunc func(event stream.Event, buffer StreamingBuffer)

type Option func(*Conversation)

// OnDone registers the callback invoked with each completed assistant message.
func OnDone(fn func(Message)) Option {
	return func(c *Conversation) { c.onDone = fn }
}

// OnChange registers a render hook.
func OnChange(fn ChangeFunc) Option {
	return func(c *Conversation) { c.onChange = fn }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Conversation) {
		if logger != nil {
			c.logger = logger.Named("conversation")
		}
	}
}

// WithClock replaces time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Conversation) { c.now = now }
}

// WithHistory seeds the conversation with already persisted messages.
func WithHistory(messages []Message) Option {
	return func(c *Conversation) {
		c.messages = append(c.messages, messages...)
	}
}

// Conversation is the client side state of one chat. It is safe for
// concurrent use; callbacks run after the state lock is released.
type Conversation struct {
	mu          sync.Mutex
	messages    []Message
	buffer      *StreamingBuffer
	pendingUser string
	loading     bool
	errorBanner string

	onDone   func(Message)
	onChange ChangeFunc
	now      func() time.Time
	newID    func() string
	logger   *zap.Logger
}

func New(options ...Option) *Conversation {
	c := &Conversation{
		now:    time.Now,
		newID:  uuid.NewString,
		logger: zap.NewNop(),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Submit inserts content as a temporary user message and starts a new
// streaming buffer for the reply.
func (c *Conversation) Submit(content string, attachment *Attachment) (Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buffer != nil {
		return Message{}, ErrRequestInFlight
	}
	msg := Message{
		ID:          c.newID(),
		Role:        RoleUser,
		Content:     content,
		CreatedAt:   c.now(),
		IsTemporary: true,
		Attachment:  attachment,
	}
	c.messages = append(c.messages, msg)
	c.buffer = &StreamingBuffer{}
	c.pendingUser = msg.ID
	c.loading = true
	c.errorBanner = ""
	return msg, nil
}

// Apply folds one event into the conversation. Events arriving while no
// reply is streaming, including any event after Done or Error, are ignored.
func (c *Conversation) Apply(e stream.Event) {
	c.mu.Lock()
	if c.buffer == nil {
		c.mu.Unlock()
		c.logger.Debug("Ignoring event outside of a streaming reply", zap.Stringer("event", e))
		return
	}

	var done *Message
	switch e.Type {
	case stream.TypeConnected:
		c.mu.Unlock()
		return
	case stream.TypeToken:
		c.buffer.AccumulatedText += e.Token
	case stream.TypeToolStart:
		c.buffer.PendingTool = &PendingTool{Name: e.Tool, Input: e.Input}
	case stream.TypeToolEnd:
		pending := c.buffer.PendingTool
		if pending == nil || pending.Name != e.Tool {
			c.mu.Unlock()
			c.logger.Debug("Ignoring unmatched tool end", zap.String("tool", e.Tool))
			return
		}
		c.buffer.AccumulatedText += FormatToolBlock(pending.Name, pending.Input, e.Output)
		c.buffer.PendingTool = nil
	case stream.TypeDone:
		done = c.finish()
	case stream.TypeError:
		c.rollback(e.Error)
	default:
		c.mu.Unlock()
		c.logger.Debug("Ignoring unknown event", zap.String("type", string(e.Type)))
		return
	}

	var buffer StreamingBuffer
	if c.buffer != nil {
		buffer = c.buffer.clone()
	}
	onChange, onDone := c.onChange, c.onDone
	c.mu.Unlock()

	if onChange != nil {
		onChange(e, buffer)
	}
	if done != nil && onDone != nil {
		onDone(*done)
	}
}

// Fail reports a client side failure through the same path as a server error event.
func (c *Conversation) Fail(err error) {
	if err == nil {
		return
	}
	c.Apply(stream.Failure(err.Error()))
}

// finish turns the buffer into an assistant message. Callers hold c.mu.
func (c *Conversation) finish() *Message {
	text := c.buffer.AccumulatedText
	if tool := c.buffer.PendingTool; tool != nil {
		text += FormatToolBlock(tool.Name, tool.Input, nil)
	}
	msg := Message{
		ID:        c.newID(),
		Role:      RoleAssistant,
		Content:   text,
		CreatedAt: c.now(),
	}
	c.messages = append(c.messages, msg)
	c.endRequest()
	return &msg
}

// rollback removes the optimistic user message of the failed request. Callers hold c.mu.
func (c *Conversation) rollback(message string) {
	for i, m := range c.messages {
		if m.ID == c.pendingUser {
			c.messages = append(c.messages[:i:i], c.messages[i+1:]...)
			break
		}
	}
	if message == "" {
		message = unknownErrorMessage
	}
	c.errorBanner = message
	c.endRequest()
}

func (c *Conversation) endRequest() {
	c.buffer = nil
	c.pendingUser = ""
	c.loading = false
}

// Messages returns a copy of the conversation.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// History returns the settled messages in wire form, excluding the user
// message of a reply that is still streaming.
func (c *Conversation) History() []stream.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]stream.ChatMessage, 0, len(c.messages))
	for _, m := range c.messages {
		if c.buffer != nil && m.ID == c.pendingUser {
			continue
		}
		out = append(out, stream.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func (c *Conversation) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

func (c *Conversation) ErrorBanner() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorBanner
}

// DismissError clears the error banner.
func (c *Conversation) DismissError() {
	c.mu.Lock()
	c.errorBanner = ""
	c.mu.Unlock()
}

// Buffer returns the in-flight streaming buffer, or false when no reply is streaming.
func (c *Conversation) Buffer() (StreamingBuffer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buffer == nil {
		return StreamingBuffer{}, false
	}
	return c.buffer.clone(), true
}
