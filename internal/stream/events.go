package stream

import (
	"encoding/json"

	"github.com/switchboardhq/switchboard/internal/models"
)

// LegacyDoneSentinel is the bare-string done signal older producers publish.
// It carries no result; readers fall back to the durable subtask row.
const LegacyDoneSentinel = "__STREAM_DONE__"

// doneMarkerType tags the structured done marker on the pub/sub channel.
const doneMarkerType = "STREAM_DONE"

// FirstEvent opens every fresh stream so the client can persist the ids for
// later resume.
type FirstEvent struct {
	TaskID    int64  `json:"task_id"`
	SubtaskID int64  `json:"subtask_id"`
	Content   string `json:"content"`
	Done      bool   `json:"done"`
}

// ContentEvent carries one chunk. Offset is the absolute position in the
// accumulated string at which the chunk begins. Cached flags replay from the
// accumulation cache rather than the live channel.
type ContentEvent struct {
	Offset  int    `json:"offset"`
	Content string `json:"content"`
	Done    bool   `json:"done"`
	Cached  bool   `json:"cached,omitempty"`
}

// TerminalEvent closes a stream, carrying the final result.
type TerminalEvent struct {
	Offset  int                   `json:"offset"`
	Content string                `json:"content"`
	Done    bool                  `json:"done"`
	Result  *models.SubtaskResult `json:"result"`
}

// ErrorEvent reports an in-band failure once the stream has begun.
type ErrorEvent struct {
	Error string `json:"error"`
}

// doneMarker is the structured stream-done payload.
type doneMarker struct {
	Type   string                `json:"__type__"`
	Result *models.SubtaskResult `json:"result"`
}

// EncodeDoneMarker builds the structured done payload for PublishDone.
func EncodeDoneMarker(result *models.SubtaskResult) (string, error) {
	data, err := json.Marshal(doneMarker{Type: doneMarkerType, Result: result})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeDoneMarker reports whether payload is a structured done marker and,
// if so, returns its result.
func decodeDoneMarker(payload string) (*models.SubtaskResult, bool) {
	if len(payload) == 0 || payload[0] != '{' {
		return nil, false
	}
	var m doneMarker
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, false
	}
	if m.Type != doneMarkerType {
		return nil, false
	}
	return m.Result, true
}

// Sink receives stream events. The HTTP layer adapts it onto SSE writes;
// tests collect events directly.
type Sink interface {
	Send(event any) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(event any) error

// Send implements Sink.
func (f SinkFunc) Send(event any) error { return f(event) }
