package consumer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrStreamIncomplete is reported when the response body ends before a done or error frame.
var ErrStreamIncomplete = errors.New("stream ended before completion")

const bodyExcerptLimit = 512

// ConnectionError reports that the chat stream could not be opened.
// Status is zero when no HTTP response was received.
type ConnectionError struct {
	Status int
	Body   string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("open chat stream: %v", e.Err)
	}
	if msg := serverMessage(e.Body); msg != "" {
		return fmt.Sprintf("open chat stream: status %d: %s", e.Status, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("open chat stream: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("open chat stream: status %d", e.Status)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// serverMessage extracts the message of a {"error": "..."} body, falling back to the raw text.
func serverMessage(body string) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(body)
}

func excerpt(body []byte) string {
	if len(body) <= bodyExcerptLimit {
		return string(body)
	}
	return string(body[:bodyExcerptLimit]) + "..."
}
