package turn

import "fmt"

// State is a turn controller state.
type State int

const (
	AwaitingModel State = iota
	StreamingText
	ToolCallsPending
	ExecutingTools
	NoToolCallsDone
	HandoffDone
	IterationCapDone
	Errored
)

func (s State) String() string {
	switch s {
	case AwaitingModel:
		return "awaiting_model"
	case StreamingText:
		return "streaming_text"
	case ToolCallsPending:
		return "tool_calls_pending"
	case ExecutingTools:
		return "executing_tools"
	case NoToolCallsDone:
		return "no_tool_calls"
	case HandoffDone:
		return "handoff"
	case IterationCapDone:
		return "iteration_cap"
	case Errored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s >= NoToolCallsDone
}

var transitions = map[State][]State{
	AwaitingModel:    {StreamingText, ToolCallsPending, NoToolCallsDone, Errored},
	StreamingText:    {ToolCallsPending, NoToolCallsDone, Errored},
	ToolCallsPending: {ExecutingTools, Errored},
	ExecutingTools:   {AwaitingModel, HandoffDone, IterationCapDone, Errored},
}

// machine tracks one turn's state. It doubles as the handoff guard handed to
// tools, so request_interpretation can only succeed once per turn.
type machine struct {
	state State
}

func (m *machine) to(next State) error {
	if m.state == next && (next == StreamingText || next == ToolCallsPending) {
		return nil
	}
	for _, allowed := range transitions[m.state] {
		if allowed == next {
			m.state = next
			return nil
		}
	}
	return fmt.Errorf("invalid turn transition %s -> %s", m.state, next)
}

// HandoffDone reports whether the interpretation handoff has happened.
func (m *machine) HandoffDone() bool {
	return m.state == HandoffDone
}

// MarkHandoff enters HandoffDone. Tools run only while executing, so the
// transition is always valid when a tool calls it.
func (m *machine) MarkHandoff() {
	_ = m.to(HandoffDone)
}
