package stream

// ChatMessage is one prior turn sent with a chat request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatAttachment carries the extracted text of an uploaded file.
type ChatAttachment struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	Text string `json:"text"`
}

// ChatRequest is the JSON body of POST /chat.
type ChatRequest struct {
	ChatID     string          `json:"chatId,omitempty"`
	Messages   []ChatMessage   `json:"messages,omitempty"`
	Message    string          `json:"message"`
	Attachment *ChatAttachment `json:"attachment,omitempty"`
}
