package stream

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the discriminator carried in the "type" field of every frame.
type EventType string

const (
	TypeConnected EventType = "connected"
	TypeToken     EventType = "token"
	TypeToolStart EventType = "tool_start"
	TypeToolEnd   EventType = "tool_end"
	TypeDone      EventType = "done"
	TypeError     EventType = "error"
)

// Known reports whether t is one of the event types understood by this package.
func (t EventType) Known() bool {
	switch t {
	case TypeConnected, TypeToken, TypeToolStart, TypeToolEnd, TypeDone, TypeError:
		return true
	}
	return false
}

// Event is the unit exchanged over the wire. Only the fields belonging to Type are set.
type Event struct {
	Type   EventType       `json:"type"`
	Token  string          `json:"token,omitempty"`
	Tool   string          `json:"tool,omitempty"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Connected is emitted once right after a stream opens.
func Connected() Event { return Event{Type: TypeConnected} }

// Token carries one incremental fragment of assistant output.
func Token(text string) Event { return Event{Type: TypeToken, Token: text} }

// ToolStart signals that the named tool began running with input.
func ToolStart(name string, input any) Event {
	return Event{Type: TypeToolStart, Tool: name, Input: RawJSON(input)}
}

// ToolEnd signals that the named tool finished with output.
func ToolEnd(name string, output any) Event {
	return Event{Type: TypeToolEnd, Tool: name, Output: RawJSON(output)}
}

// Done is the terminal success marker.
func Done() Event { return Event{Type: TypeDone} }

// Failure is the terminal error marker carrying a human-readable message.
func Failure(message string) Event { return Event{Type: TypeError, Error: message} }

// IsTerminal reports whether no further events may follow e.
func (e Event) IsTerminal() bool {
	return e.Type == TypeDone || e.Type == TypeError
}

func (e Event) String() string {
	switch e.Type {
	case TypeToken:
		return fmt.Sprintf("token(%q)", e.Token)
	case TypeToolStart:
		return fmt.Sprintf("tool_start(%s, %s)", e.Tool, e.Input)
	case TypeToolEnd:
		return fmt.Sprintf("tool_end(%s, %s)", e.Tool, e.Output)
	case TypeError:
		return fmt.Sprintf("error(%q)", e.Error)
	default:
		return string(e.Type)
	}
}

// RawJSON marshals v into compact JSON. Values that cannot be marshalled are
// replaced by an object describing the failure, so tool payloads never break a frame.
func RawJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(map[string]string{"encodeError": err.Error()})
	}
	return b
}

// Notification describes one finished stream. It is published to watchers
// after the stream reached a terminal state.
type Notification struct {
	ChatID string    `json:"chatId"`
	State  string    `json:"state"`
	Error  string    `json:"error,omitempty"`
	Tokens int       `json:"tokens"`
	At     time.Time `json:"at"`
}
