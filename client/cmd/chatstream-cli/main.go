package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gate4ai/chatstream/client/consumer"
	"github.com/gate4ai/chatstream/client/conversation"
	"github.com/gate4ai/chatstream/client/notify"
	"github.com/gate4ai/chatstream/shared"
	"github.com/gate4ai/chatstream/shared/stream"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const EnvServerURL = "CHATSTREAM_SERVER_URL"

func main() {
	_, _ = shared.LoadDotEnv()

	serverURL := flag.String("server", "", "Chat server base URL (default $"+EnvServerURL+" or http://localhost:8080)")
	chatID := flag.String("chat", "", "Chat id used to persist the conversation")
	filePath := flag.String("file", "", "Text file sent as attachment with the first message")
	watch := flag.Bool("watch", false, "Print notifications of finished chats instead of chatting")
	logLevel := flag.String("log-level", "warn", "Log level")
	flag.Parse()

	logerConfig := zap.NewProductionConfig()
	logerConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if level, err := zapcore.ParseLevel(*logLevel); err == nil {
		logerConfig.Level = zap.NewAtomicLevelAt(level)
	}
	logger, err := logerConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	baseURL := *serverURL
	if baseURL == "" {
		baseURL = os.Getenv(EnvServerURL)
	}
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *watch {
		if err := runWatch(ctx, logger, baseURL); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	var attachment *stream.ChatAttachment
	if *filePath != "" {
		if attachment, err = readAttachment(*filePath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	client, err := consumer.New(baseURL, consumer.WithLogger(logger))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	chat := newChat(client, *chatID, logger)

	if message := strings.Join(flag.Args(), " "); message != "" {
		if err := chat.send(ctx, message, attachment); err != nil {
			os.Exit(1)
		}
		return
	}

	// Without a message argument, read one message per line.
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			// send reports its own failures; keep reading the next line.
			_ = chat.send(ctx, line, attachment)
			attachment = nil
		}
		if ctx.Err() != nil {
			return
		}
		fmt.Print("> ")
	}
}

// chat prints one conversation to out as events arrive. Failures go to errOut.
type chat struct {
	client  *consumer.Client
	chatID  string
	conv    *conversation.Conversation
	printed int
	out     io.Writer
	errOut  io.Writer
}

func newChat(client *consumer.Client, chatID string, logger *zap.Logger) *chat {
	c := &chat{client: client, chatID: chatID, out: os.Stdout, errOut: os.Stderr}
	c.conv = conversation.New(
		conversation.WithLogger(logger),
		conversation.OnChange(c.render),
	)
	return c
}

func (c *chat) render(e stream.Event, buffer conversation.StreamingBuffer) {
	switch e.Type {
	case stream.TypeDone, stream.TypeError:
		fmt.Fprintln(c.out)
		c.printed = 0
	case stream.TypeToolStart:
		fmt.Fprintf(c.out, "\n[running %s...]", e.Tool)
	default:
		if len(buffer.AccumulatedText) > c.printed {
			fmt.Fprint(c.out, buffer.AccumulatedText[c.printed:])
			c.printed = len(buffer.AccumulatedText)
		}
	}
}

func (c *chat) send(ctx context.Context, message string, attachment *stream.ChatAttachment) error {
	req := stream.ChatRequest{
		ChatID:     c.chatID,
		Messages:   c.conv.History(),
		Message:    message,
		Attachment: attachment,
	}
	var preview *conversation.Attachment
	if attachment != nil {
		preview = conversation.NewAttachment(attachment.Name, attachment.Type, attachment.Text)
	}
	if _, err := c.conv.Submit(message, preview); err != nil {
		fmt.Fprintln(c.errOut, "error:", err)
		return err
	}

	err := c.client.Stream(ctx, req, c.conv.Apply)
	if banner := c.conv.ErrorBanner(); banner != "" {
		fmt.Fprintln(c.errOut, "error:", banner)
		c.conv.DismissError()
	} else if err != nil {
		fmt.Fprintln(c.errOut, "error:", err)
	}
	return err
}

func readAttachment(path string) (*stream.ChatAttachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "text/plain"
	}
	return shared.PointerTo(stream.ChatAttachment{
		Name: filepath.Base(path),
		Type: contentType,
		Text: string(data),
	}), nil
}

func runWatch(ctx context.Context, logger *zap.Logger, baseURL string) error {
	watcher, err := notify.NewWatcher(baseURL, notify.WithLogger(logger))
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Watching %s for finished chats\n", baseURL)
	err = watcher.Watch(ctx, func(n stream.Notification) {
		line := fmt.Sprintf("%s chat=%q state=%s tokens=%d", n.At.Format("15:04:05"), n.ChatID, n.State, n.Tokens)
		if n.Error != "" {
			line += fmt.Sprintf(" error=%q", n.Error)
		}
		fmt.Println(line)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
