// Package producer drives one model invocation and relays its output as SSE frames.
package producer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gate4ai/chatstream/server/model"
	"github.com/gate4ai/chatstream/server/storage"
	"github.com/gate4ai/chatstream/shared/stream"
	"go.uber.org/zap"
)

// State is the lifecycle position of one stream.
type State int

const (
	StateIdle State = iota
	StateConnected
	StateStreaming
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// IsTerminal reports whether the stream has finished.
func (s State) IsTerminal() bool { return s == StateDone || s == StateFailed }

// Notifier is told about every stream that reaches a terminal state.
type Notifier interface {
	Notify(n stream.Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n stream.Notification)

func (f NotifierFunc) Notify(n stream.Notification) { f(n) }

const persistTimeout = 10 * time.Second

// Producer runs streams. It holds no per-stream state, so one Producer serves concurrent requests.
type Producer struct {
	invoker        model.Invoker
	store          storage.MessageStore
	notifier       Notifier
	logger         *zap.Logger
	connectedEvent bool
	keepAlive      time.Duration

	persisting sync.WaitGroup
}

// Option configures a Producer.
type Option func(*Producer) error

func WithLogger(logger *zap.Logger) Option {
	return func(p *Producer) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		p.logger = logger
		return nil
	}
}

// WithStore enables persistence of user and assistant messages.
func WithStore(store storage.MessageStore) Option {
	return func(p *Producer) error {
		p.store = store
		return nil
	}
}

func WithNotifier(n Notifier) Option {
	return func(p *Producer) error {
		p.notifier = n
		return nil
	}
}

// WithConnectedEvent controls whether a connected frame opens every stream.
func WithConnectedEvent(enabled bool) Option {
	return func(p *Producer) error {
		p.connectedEvent = enabled
		return nil
	}
}

// WithKeepAlive sends a comment frame whenever the model is silent for interval. Zero disables it.
func WithKeepAlive(interval time.Duration) Option {
	return func(p *Producer) error {
		if interval < 0 {
			return errors.New("keepalive interval cannot be negative")
		}
		p.keepAlive = interval
		return nil
	}
}

func New(invoker model.Invoker, options ...Option) (*Producer, error) {
	if invoker == nil {
		return nil, errors.New("invoker cannot be nil")
	}
	p := &Producer{
		invoker:        invoker,
		logger:         zap.NewNop(),
		connectedEvent: true,
	}
	for _, option := range options {
		if err := option(p); err != nil {
			return nil, err
		}
	}
	p.logger = p.logger.Named("producer")
	return p, nil
}

// Wait blocks until background persistence started by earlier runs has finished.
func (p *Producer) Wait() {
	p.persisting.Wait()
}

// Run streams one response to w and returns the terminal state it reached.
// The writer is always closed before Run returns.
func (p *Producer) Run(ctx context.Context, w EventWriter, req Request) (State, error) {
	logger := p.logger.With(zap.String("chatId", req.ChatID))
	started := time.Now()

	userStored := p.persist(ctx, logger, req.ChatID, model.RoleUser, req.Prompt(), nil)

	var reply strings.Builder
	var tokens int
	state, err := p.stream(ctx, logger, w, req, &reply, &tokens)

	if cerr := w.Close(); cerr != nil {
		logger.Warn("Failed to close event writer", zap.Error(cerr))
	}

	if state == StateDone {
		p.persist(ctx, logger, req.ChatID, model.RoleAssistant, reply.String(), userStored)
	}

	fields := []zap.Field{zap.Stringer("state", state), zap.Int("tokens", tokens), zap.Duration("duration", time.Since(started))}
	if err != nil {
		logger.Warn("Stream failed", append(fields, zap.Error(err))...)
	} else {
		logger.Info("Stream finished", fields...)
	}

	if p.notifier != nil {
		n := stream.Notification{ChatID: req.ChatID, State: state.String(), Tokens: tokens, At: time.Now()}
		if err != nil {
			n.Error = err.Error()
		}
		p.notifier.Notify(n)
	}
	return state, err
}

type step struct {
	chunk model.Chunk
	err   error
}

func (p *Producer) stream(ctx context.Context, logger *zap.Logger, w EventWriter, req Request, reply *strings.Builder, tokens *int) (State, error) {
	if p.connectedEvent {
		if err := w.WriteEvent(stream.Connected()); err != nil {
			return p.fail(logger, w, fmt.Errorf("write connected event: %w", err))
		}
	}
	state := StateConnected

	// runCtx bounds the model call, so leaving early also aborts the upstream request.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	seq, err := p.invoker.Invoke(runCtx, req.Messages())
	if err != nil {
		return p.fail(logger, w, fmt.Errorf("invoke model: %w", err))
	}

	steps := make(chan step)
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		defer func() {
			if err := seq.Close(); err != nil {
				logger.Debug("Failed to close model sequence", zap.Error(err))
			}
		}()
		for {
			chunk, err := seq.Next(runCtx)
			select {
			case steps <- step{chunk: chunk, err: err}:
			case <-runCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	defer func() {
		cancel()
		<-pumpDone
	}()

	var keepAlive <-chan time.Time
	if p.keepAlive > 0 {
		ticker := time.NewTicker(p.keepAlive)
		defer ticker.Stop()
		keepAlive = ticker.C
	}

	var pendingTool string
	for {
		select {
		case <-ctx.Done():
			return p.fail(logger, w, fmt.Errorf("client disconnected: %w", ctx.Err()))

		case <-keepAlive:
			cw, ok := w.(commentWriter)
			if !ok {
				continue
			}
			if err := cw.WriteComment("keepalive"); err != nil {
				return p.fail(logger, w, err)
			}
			logger.Debug("Sent keepalive")

		case s := <-steps:
			if errors.Is(s.err, io.EOF) {
				if err := w.WriteEvent(stream.Done()); err != nil {
					return p.fail(logger, w, fmt.Errorf("write done event: %w", err))
				}
				return StateDone, nil
			}
			if s.err != nil {
				return p.fail(logger, w, s.err)
			}

			event, ok := chunkEvent(s.chunk, &pendingTool)
			if !ok {
				logger.Warn("Dropping unsupported chunk", zap.String("type", fmt.Sprintf("%T", s.chunk)))
				continue
			}
			if err := w.WriteEvent(event); err != nil {
				return p.fail(logger, w, err)
			}
			if event.Type == stream.TypeToken {
				reply.WriteString(event.Token)
				*tokens++
			}
			if state == StateConnected {
				state = StateStreaming
			}
		}
	}
}

// chunkEvent maps one chunk to its wire event. pendingTool tracks the single tool in flight.
func chunkEvent(chunk model.Chunk, pendingTool *string) (stream.Event, bool) {
	switch c := chunk.(type) {
	case model.TextChunk:
		return stream.Token(c.Text), true
	case model.ToolCallChunk:
		*pendingTool = c.Name
		return stream.ToolStart(c.Name, c.Args), true
	case model.ToolResultChunk:
		name := c.Name
		if name == "" {
			name = *pendingTool
		}
		*pendingTool = ""
		return stream.ToolEnd(name, c.Output), true
	default:
		return stream.Event{}, false
	}
}

// fail emits the single error frame for err. A write failure here is only logged.
func (p *Producer) fail(logger *zap.Logger, w EventWriter, err error) (State, error) {
	if werr := w.WriteEvent(stream.Failure(err.Error())); werr != nil {
		logger.Debug("Could not deliver error event", zap.Error(werr))
	}
	return StateFailed, err
}

// persist stores one message in the background. A non-nil after delays the write until it is closed
// so rows for one turn keep their order. The returned channel closes when the write completes.
func (p *Producer) persist(ctx context.Context, logger *zap.Logger, chatID, role, content string, after <-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	if p.store == nil || chatID == "" {
		close(done)
		return done
	}
	storeCtx := context.WithoutCancel(ctx)
	p.persisting.Add(1)
	go func() {
		defer p.persisting.Done()
		defer close(done)
		if after != nil {
			<-after
		}
		storeCtx, cancel := context.WithTimeout(storeCtx, persistTimeout)
		defer cancel()
		if err := p.store.Store(storeCtx, chatID, role, content); err != nil {
			logger.Error("Failed to persist message", zap.String("role", role), zap.Error(err))
		}
	}()
	return done
}
