// Package tools implements the capabilities the conversation model can call:
// list_spreads, draw_cards and request_interpretation.
//
// Tool failures never abort a turn. The dispatcher turns them into a textual
// result the model reads and reacts to.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/tarot.space/internal/platform/otel"
	"github.com/louisbranch/tarot.space/internal/services/reader/handoff"
	"github.com/louisbranch/tarot.space/internal/services/reader/llm"
	"github.com/louisbranch/tarot.space/internal/services/reader/reading"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Tool names.
const (
	NameListSpreads           = "list_spreads"
	NameDrawCards             = "draw_cards"
	NameRequestInterpretation = "request_interpretation"
)

var (
	// ErrUnknownTool indicates the model called a tool that does not exist.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidArguments indicates tool arguments did not parse.
	ErrInvalidArguments = errors.New("invalid tool arguments")
	// ErrUnknownSpread indicates a spread slug did not resolve and no custom
	// positions were given.
	ErrUnknownSpread = errors.New("unknown spread")
	// ErrNoActiveSpread indicates interpretation was requested before any draw.
	ErrNoActiveSpread = errors.New("no spread has been drawn yet")
)

// AlreadyProvided is the result of a repeated request_interpretation call in
// the same turn.
const AlreadyProvided = "The interpretation has already been provided in this turn. Do not request it again."

// HandoffGuard is the turn-level record of whether the interpretation
// handoff already happened.
type HandoffGuard interface {
	HandoffDone() bool
	MarkHandoff()
}

// Env is the session state a tool may read or replace during a turn.
type Env struct {
	ActiveSpread *reading.ActiveSpread
	Summary      *reading.Summary
	Ledger       []reading.LedgerEntry
	// History is the trailing message window the conversation model saw.
	History []llm.Message
	Guard   HandoffGuard
}

// Result is the outcome of one tool call.
type Result struct {
	// Text is fed back to the model.
	Text string
	// Ephemeral results are never persisted into conversation history.
	Ephemeral bool
	IsError   bool
	// SpreadLaid is sent to the caller only.
	SpreadLaid *reading.ActiveSpread
	// Interpretation is the handoff stream started by request_interpretation.
	Interpretation *handoff.Stream
}

// Tool is one callable capability.
type Tool interface {
	Name() string
	Definition() llm.ToolDefinition
	Execute(ctx context.Context, arguments string, env *Env) (Result, error)
}

// Dispatcher routes tool calls by name.
type Dispatcher struct {
	tools  map[string]Tool
	order  []string
	logger *zap.Logger
}

// NewDispatcher registers tools in the given order.
func NewDispatcher(logger *zap.Logger, tools ...Tool) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{tools: make(map[string]Tool, len(tools)), logger: logger}
	for _, tool := range tools {
		if _, dup := d.tools[tool.Name()]; dup {
			continue
		}
		d.tools[tool.Name()] = tool
		d.order = append(d.order, tool.Name())
	}
	return d
}

// Definitions advertises every registered tool in registration order.
func (d *Dispatcher) Definitions() []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.tools[name].Definition())
	}
	return out
}

// Execute runs one call. It never returns an error: failures become an
// error-flagged textual result.
func (d *Dispatcher) Execute(ctx context.Context, call llm.ToolCall, env *Env) Result {
	ctx, span := otel.Tracer("reader/tools").Start(ctx, "reader.tool")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", call.Name))

	tool, ok := d.tools[call.Name]
	if !ok {
		span.SetStatus(codes.Error, ErrUnknownTool.Error())
		return errorResult(fmt.Errorf("%w %q", ErrUnknownTool, call.Name))
	}
	if env == nil {
		env = &Env{}
	}
	res, err := tool.Execute(ctx, call.Arguments, env)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		d.logger.Info("tool call failed", zap.String("tool", call.Name), zap.Error(err))
		return errorResult(err)
	}
	return res
}

func errorResult(err error) Result {
	return Result{Text: "Error: " + err.Error(), IsError: true}
}

func decodeArgs(arguments string, target any) error {
	arguments = strings.TrimSpace(arguments)
	if arguments == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(arguments), target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}
