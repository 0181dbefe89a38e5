package tools

import (
	"context"

	"github.com/louisbranch/tarot.space/internal/services/reader/handoff"
	"github.com/louisbranch/tarot.space/internal/services/reader/llm"
)

// RequestInterpretationArgs are the request_interpretation arguments.
type RequestInterpretationArgs struct {
	FocusArea string `json:"focus_area,omitempty" jsonschema:"description=Optional aspect of the question to emphasise"`
}

// Interpreter starts an interpretation handoff.
type Interpreter interface {
	Start(ctx context.Context, in handoff.Input) *handoff.Stream
}

// RequestInterpretation hands the turn to the interpretation model. It runs
// at most once per turn.
type RequestInterpretation struct {
	interpreter Interpreter
}

// NewRequestInterpretation builds the tool.
func NewRequestInterpretation(interpreter Interpreter) *RequestInterpretation {
	return &RequestInterpretation{interpreter: interpreter}
}

func (*RequestInterpretation) Name() string { return NameRequestInterpretation }

func (*RequestInterpretation) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        NameRequestInterpretation,
		Description: "Interpret the active spread for the querent. Call once after draw_cards and then stop.",
		Parameters:  parameters(&RequestInterpretationArgs{}),
	}
}

func (t *RequestInterpretation) Execute(ctx context.Context, arguments string, env *Env) (Result, error) {
	if env.Guard != nil && env.Guard.HandoffDone() {
		return Result{Text: AlreadyProvided}, nil
	}
	var args RequestInterpretationArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return Result{}, err
	}
	if env.ActiveSpread == nil || len(env.ActiveSpread.Cards) == 0 {
		return Result{}, ErrNoActiveSpread
	}
	if env.Guard != nil {
		env.Guard.MarkHandoff()
	}
	stream := t.interpreter.Start(ctx, handoff.Input{
		Spread:  env.ActiveSpread.Clone(),
		Summary: env.Summary,
		Ledger:  env.Ledger,
		History: env.History,
		Focus:   args.FocusArea,
	})
	return Result{Text: "The interpretation was delivered to the querent.", Interpretation: stream}, nil
}
