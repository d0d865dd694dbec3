package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const previewLength = 120

// Attachment describes a file sent along with a user message.
type Attachment struct {
	Type    string
	Name    string
	Preview string
}

// NewAttachment builds an Attachment whose Preview is the start of text.
func NewAttachment(name, contentType, text string) *Attachment {
	preview := strings.TrimSpace(text)
	if utf8.RuneCountInString(preview) > previewLength {
		preview = string([]rune(preview)[:previewLength]) + "…"
	}
	return &Attachment{Type: contentType, Name: name, Preview: preview}
}

// Message is one entry of the conversation. User messages created by Submit
// are temporary until a persisted copy replaces them.
type Message struct {
	ID          string
	Role        Role
	Content     string
	CreatedAt   time.Time
	IsTemporary bool
	Attachment  *Attachment
}

type PendingTool struct {
	Name  string
	Input json.RawMessage
}

// StreamingBuffer accumulates the assistant reply of the in-flight request.
type StreamingBuffer struct {
	AccumulatedText string
	PendingTool     *PendingTool
}

func (b StreamingBuffer) clone() StreamingBuffer {
	if b.PendingTool != nil {
		tool := *b.PendingTool
		b.PendingTool = &tool
	}
	return b
}

// FormatToolBlock renders one tool invocation as labelled fenced blocks
// holding the pretty-printed input and output. A nil output renders as a
// running tool.
func FormatToolBlock(name string, input, output json.RawMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n\n**Tool: %s**\n\nInput:\n```json\n%s\n```\n", name, prettyJSON(input))
	if output == nil {
		b.WriteString("Output: (no result)\n\n")
	} else {
		fmt.Fprintf(&b, "Output:\n```json\n%s\n```\n\n", prettyJSON(output))
	}
	return b.String()
}

// prettyJSON indents raw without HTML escaping, so <, > and & stay literal.
func prettyJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return string(raw)
	}
	var out bytes.Buffer
	enc := json.NewEncoder(&out)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return string(raw)
	}
	return strings.TrimSuffix(out.String(), "\n")
}
