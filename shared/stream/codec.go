package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Wire framing constants. A frame is FramePrefix + JSON + FrameDelimiter.
const (
	FramePrefix    = "data: "
	FrameDelimiter = "\n\n"
)

// Encode serializes e into one SSE frame. It never fails: an event whose raw
// payloads are not valid JSON is encoded as an error frame describing why.
func Encode(e Event) []byte {
	payload, err := json.Marshal(e)
	if err != nil {
		payload, _ = json.Marshal(Failure(fmt.Sprintf("encode %s event: %v", e.Type, err)))
	}
	frame := make([]byte, 0, len(FramePrefix)+len(payload)+len(FrameDelimiter))
	frame = append(frame, FramePrefix...)
	frame = append(frame, payload...)
	frame = append(frame, FrameDelimiter...)
	return frame
}

// EncodeAll concatenates the frames of events in order.
func EncodeAll(events ...Event) []byte {
	var buf bytes.Buffer
	for _, e := range events {
		buf.Write(Encode(e))
	}
	return buf.Bytes()
}

// Decode extracts every complete "data: " line from buffer. Text after the
// last line break is returned as remainder and must be prepended to the next
// chunk. A data line that is not a valid event becomes an error event.
func Decode(buffer string) (events []Event, remainder string) {
	lines := strings.Split(buffer, "\n")
	remainder = lines[len(lines)-1]
	for _, line := range lines[:len(lines)-1] {
		line = strings.TrimSuffix(line, "\r")
		if !strings.HasPrefix(line, FramePrefix) {
			// blank delimiters, ": comment" keepalives and other SSE fields
			continue
		}
		events = append(events, parseLine(line[len(FramePrefix):]))
	}
	return events, remainder
}

func parseLine(data string) Event {
	var e Event
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return Failure(fmt.Sprintf("malformed frame %q: %v", truncate(data, 64), err))
	}
	if !e.Type.Known() {
		return Failure(fmt.Sprintf("unknown event type %q", e.Type))
	}
	return e
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Decoder is an incremental Decode that keeps the unterminated tail between chunks.
type Decoder struct {
	pending []byte
}

// Feed appends chunk to the pending bytes and returns every event completed by it.
// Chunks may split frames, lines or multi-byte characters at any position.
func (d *Decoder) Feed(chunk []byte) []Event {
	d.pending = append(d.pending, chunk...)
	cut := bytes.LastIndexByte(d.pending, '\n')
	if cut < 0 {
		return nil
	}
	events, _ := Decode(string(d.pending[:cut+1]))
	rest := copy(d.pending, d.pending[cut+1:])
	d.pending = d.pending[:rest]
	return events
}

// Pending returns the bytes not yet terminated by a line break.
func (d *Decoder) Pending() string {
	return string(d.pending)
}

// Reset drops any buffered partial frame.
func (d *Decoder) Reset() {
	d.pending = d.pending[:0]
}
