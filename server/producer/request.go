package producer

import (
	"strings"

	"github.com/gate4ai/chatstream/server/model"
)

// Attachment is a file whose text has already been extracted upstream.
type Attachment struct {
	Name string
	Type string
	Text string
}

// Request is one turn handed to the producer.
type Request struct {
	ChatID     string
	History    []model.Message
	Message    string
	Attachment *Attachment
}

// Prompt returns the user message with any attachment text appended.
func (r Request) Prompt() string {
	if r.Attachment == nil || strings.TrimSpace(r.Attachment.Text) == "" {
		return r.Message
	}
	var b strings.Builder
	b.WriteString(r.Message)
	b.WriteString("\n\n")
	if r.Attachment.Name != "" {
		b.WriteString("[File: ")
		b.WriteString(r.Attachment.Name)
		b.WriteString("]\n")
	}
	b.WriteString(r.Attachment.Text)
	return b.String()
}

// Messages returns the history followed by the new user message.
func (r Request) Messages() []model.Message {
	msgs := make([]model.Message, 0, len(r.History)+1)
	msgs = append(msgs, r.History...)
	return append(msgs, model.Message{Role: model.RoleUser, Content: r.Prompt()})
}
