// Package stream carries the ordered events of one turn to the caller.
//
// A Sender has exactly one writer, the turn controller. Events are delivered
// in the order they are sent. Finish delivers the terminal done event and
// closes the channel; nothing can be sent afterwards.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/louisbranch/tarot.space/internal/services/reader/reading"
)

// ErrClosed is returned when sending on a closed Sender.
var ErrClosed = errors.New("stream closed")

// EventType names a stream event.
type EventType string

const (
	EventText        EventType = "text"
	EventToolCall    EventType = "tool_call"
	EventToolResult  EventType = "tool_result"
	EventSpreadLaid  EventType = "spread_laid"
	EventLedgerEntry EventType = "ledger_entry"
	EventError       EventType = "error"
	EventDone        EventType = "done"
)

// Event is one message on the stream. Fields are populated per type.
type Event struct {
	Type        EventType             `json:"type"`
	Text        string                `json:"text,omitempty"`
	ToolCallID  string                `json:"toolCallId,omitempty"`
	Name        string                `json:"name,omitempty"`
	Arguments   json.RawMessage       `json:"arguments,omitempty"`
	Result      string                `json:"result,omitempty"`
	Spread      *reading.ActiveSpread `json:"spread,omitempty"`
	LedgerEntry *reading.LedgerEntry  `json:"ledgerEntry,omitempty"`
	Error       string                `json:"error,omitempty"`
	Outcome     string                `json:"outcome,omitempty"`
}

// Text builds a text event.
func Text(text string) Event {
	return Event{Type: EventText, Text: text}
}

// ToolCall builds a tool_call event. Arguments that are not valid JSON are
// carried as a JSON string.
func ToolCall(id, name, arguments string) Event {
	return Event{Type: EventToolCall, ToolCallID: id, Name: name, Arguments: rawArguments(arguments)}
}

// ToolResult builds a tool_result event.
func ToolResult(id, name, result string) Event {
	return Event{Type: EventToolResult, ToolCallID: id, Name: name, Result: result}
}

// SpreadLaid builds a spread_laid event.
func SpreadLaid(spread reading.ActiveSpread) Event {
	clone := spread.Clone()
	return Event{Type: EventSpreadLaid, Spread: &clone}
}

// Ledger builds a ledger_entry event.
func Ledger(entry reading.LedgerEntry) Event {
	return Event{Type: EventLedgerEntry, LedgerEntry: &entry}
}

// Error builds an error event.
func Error(message string) Event {
	return Event{Type: EventError, Error: message}
}

func rawArguments(arguments string) json.RawMessage {
	if arguments == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(arguments)) {
		return json.RawMessage(arguments)
	}
	quoted, _ := json.Marshal(arguments)
	return quoted
}

// Sender is the single-writer event channel of one turn.
type Sender struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// NewSender returns a Sender whose channel buffers up to buffer events.
func NewSender(buffer int) *Sender {
	if buffer < 0 {
		buffer = 0
	}
	return &Sender{ch: make(chan Event, buffer)}
}

// Events returns the receive side of the stream.
func (s *Sender) Events() <-chan Event {
	return s.ch
}

// Send delivers ev, blocking until the consumer accepts it or ctx ends.
func (s *Sender) Send(ctx context.Context, ev Event) error {
	if ev.Type == EventDone {
		return errors.New("done is sent by Finish")
	}
	return s.send(ctx, ev)
}

func (s *Sender) send(ctx context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finish sends the terminal done event and closes the stream. The stream is
// closed even when delivery fails.
func (s *Sender) Finish(ctx context.Context, outcome string) error {
	err := s.send(ctx, Event{Type: EventDone, Outcome: outcome})
	s.Close()
	return err
}

// Close closes the stream without a done event. It is idempotent.
func (s *Sender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Closed reports whether the stream has been closed.
func (s *Sender) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
