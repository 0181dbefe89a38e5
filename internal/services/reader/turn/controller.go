// Package turn drives one user message through the conversation model, tool
// calls and the interpretation handoff to a single terminal outcome.
//
// A turn runs on the caller's goroutine and does no work in parallel: model
// deltas are consumed as they arrive and tool calls execute one at a time in
// the order the model emitted them. Every event reaches the caller through a
// single stream.Sender, and Run always finishes it with a done event.
package turn

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/louisbranch/tarot.space/internal/platform/id"
	"github.com/louisbranch/tarot.space/internal/platform/otel"
	"github.com/louisbranch/tarot.space/internal/platform/timeouts"
	"github.com/louisbranch/tarot.space/internal/services/reader/llm"
	"github.com/louisbranch/tarot.space/internal/services/reader/prompt"
	"github.com/louisbranch/tarot.space/internal/services/reader/reading"
	"github.com/louisbranch/tarot.space/internal/services/reader/stream"
	"github.com/louisbranch/tarot.space/internal/services/reader/summarize"
	"github.com/louisbranch/tarot.space/internal/services/reader/tools"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// DefaultMaxIterations caps model calls per turn.
	DefaultMaxIterations = 5
	// DefaultHistoryWindow caps the trailing messages sent to the model.
	DefaultHistoryWindow = 40
)

// ErrModelStream is reported when the conversation model call fails.
var ErrModelStream = errors.New("conversation model failed")

// Input is the session state a turn starts from. History ends with the new
// user message.
type Input struct {
	TurnID       string
	History      []llm.Message
	Summary      *reading.Summary
	ActiveSpread *reading.ActiveSpread
	Ledger       []reading.LedgerEntry
}

// Outcome is the result of a finished turn.
type Outcome struct {
	TurnID     string
	State      State
	Iterations int
	// Messages are the transcript entries produced by the turn, ephemeral
	// tool traffic excluded. Callers append them to their history.
	Messages     []llm.Message
	ActiveSpread *reading.ActiveSpread
	Ledger       []reading.LedgerEntry
	Err          error
}

// Text joins the assistant text the caller saw during the turn.
func (o Outcome) Text() string {
	var parts []string
	for _, m := range o.Messages {
		if m.Role == llm.RoleAssistant && m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "")
}

// Executor runs tool calls.
type Executor interface {
	Definitions() []llm.ToolDefinition
	Execute(ctx context.Context, call llm.ToolCall, env *tools.Env) tools.Result
}

// Controller runs turns.
type Controller struct {
	model         llm.ChatModel
	tools         Executor
	maxIterations int
	historyWindow int
	modelTimeout  time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithMaxIterations caps model calls per turn.
func WithMaxIterations(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithHistoryWindow caps the trailing history sent to the model.
func WithHistoryWindow(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.historyWindow = n
		}
	}
}

// WithModelTimeout bounds each conversation model call.
func WithModelTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.modelTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the time source used for ledger entries.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// NewController builds a turn controller.
func NewController(model llm.ChatModel, executor Executor, opts ...Option) *Controller {
	c := &Controller{
		model:         model,
		tools:         executor,
		maxIterations: DefaultMaxIterations,
		historyWindow: DefaultHistoryWindow,
		modelTimeout:  timeouts.ModelCall,
		logger:        zap.NewNop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// run is the mutable state of one turn.
type run struct {
	c       *Controller
	m       machine
	out     *stream.Sender
	logger  *zap.Logger
	env     tools.Env
	history []llm.Message
	// working holds this turn's messages as the model must see them;
	// persist holds what survives into long-term history.
	working []llm.Message
	persist []llm.Message
}

// Run processes one turn and finishes out with a done event carrying the
// terminal state. It never returns before out is closed.
func (c *Controller) Run(ctx context.Context, in Input, out *stream.Sender) Outcome {
	turnID := in.TurnID
	if turnID == "" {
		turnID = id.MustNewID()
	}
	ctx, span := otel.Tracer("reader/turn").Start(ctx, "reader.turn")
	defer span.End()
	span.SetAttributes(attribute.String("turn.id", turnID))

	r := &run{
		c:      c,
		out:    out,
		logger: c.logger.With(zap.String("turn_id", turnID)),
		env: tools.Env{
			ActiveSpread: in.ActiveSpread,
			Summary:      in.Summary,
			Ledger:       append([]reading.LedgerEntry(nil), in.Ledger...),
		},
		history: summarize.Window(in.History, c.historyWindow),
	}
	r.env.Guard = &r.m

	iterations, err := r.loop(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.String("turn.outcome", r.m.state.String()),
		attribute.Int("turn.iterations", iterations),
	)
	if finishErr := out.Finish(ctx, r.m.state.String()); finishErr != nil && err == nil && !errors.Is(finishErr, stream.ErrClosed) {
		err = finishErr
	}
	r.logger.Debug("turn finished",
		zap.String("outcome", r.m.state.String()),
		zap.Int("iteration", iterations),
	)
	return Outcome{
		TurnID:       turnID,
		State:        r.m.state,
		Iterations:   iterations,
		Messages:     r.persist,
		ActiveSpread: r.env.ActiveSpread,
		Ledger:       r.env.Ledger,
		Err:          err,
	}
}

func (r *run) loop(ctx context.Context) (int, error) {
	for iteration := 1; ; iteration++ {
		if iteration > 1 {
			if err := r.m.to(AwaitingModel); err != nil {
				return iteration - 1, r.fail(ctx, err)
			}
		}
		text, calls, err := r.callModel(ctx, iteration)
		if err != nil {
			return iteration, r.fail(ctx, err)
		}
		if len(calls) == 0 {
			if text != "" {
				r.record(llm.Message{Role: llm.RoleAssistant, Content: text})
			}
			return iteration, r.fail(ctx, r.m.to(NoToolCallsDone))
		}
		if err := r.m.to(ExecutingTools); err != nil {
			return iteration, r.fail(ctx, err)
		}
		if err := r.executeAll(ctx, iteration, text, calls); err != nil {
			return iteration, r.fail(ctx, err)
		}
		if r.m.HandoffDone() {
			return iteration, nil
		}
		if iteration >= r.c.maxIterations {
			return iteration, r.fail(ctx, r.m.to(IterationCapDone))
		}
	}
}

// fail moves the turn to Errored for a non-nil error. When the caller is
// still connected the error is reported on the stream.
func (r *run) fail(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if !r.m.state.Terminal() {
		_ = r.m.to(Errored)
	}
	r.logger.Warn("turn failed", zap.String("state", r.m.state.String()), zap.Error(err))
	if errors.Is(err, stream.ErrClosed) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	message := "The reader could not respond. Please try again."
	if errors.Is(err, context.DeadlineExceeded) {
		message = "The reader took too long to respond. Please try again."
	}
	_ = r.out.Send(ctx, stream.Error(message))
	return err
}

func (r *run) context() []llm.Message {
	msgs := make([]llm.Message, 0, len(r.history)+len(r.working))
	msgs = append(msgs, r.history...)
	return append(msgs, r.working...)
}

func (r *run) systemPrompt() string {
	return prompt.Assemble(prompt.Sections{
		Persona:      prompt.ConversationPersona,
		Summary:      r.env.Summary,
		ActiveSpread: r.env.ActiveSpread,
		Ledger:       r.env.Ledger,
	})
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

func (r *run) callModel(ctx context.Context, iteration int) (string, []llm.ToolCall, error) {
	ctx, span := otel.Tracer("reader/turn").Start(ctx, "reader.model_call",
		trace.WithAttributes(attribute.Int("turn.iteration", iteration)))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, r.c.modelTimeout)
	defer cancel()

	var text strings.Builder
	pending := map[int]*pendingCall{}
	err := r.c.model.StreamChat(callCtx, llm.ChatRequest{
		System:   r.systemPrompt(),
		Messages: r.context(),
		Tools:    r.c.tools.Definitions(),
	}, func(d llm.Delta) error {
		if d.Text != "" {
			if r.m.state == AwaitingModel {
				if err := r.m.to(StreamingText); err != nil {
					return err
				}
			}
			text.WriteString(d.Text)
			if err := r.out.Send(ctx, stream.Text(d.Text)); err != nil {
				return err
			}
		}
		if tc := d.ToolCall; tc != nil {
			if err := r.m.to(ToolCallsPending); err != nil {
				return err
			}
			call, ok := pending[tc.Index]
			if !ok {
				call = &pendingCall{}
				pending[tc.Index] = call
			}
			if tc.ID != "" {
				call.id = tc.ID
			}
			if tc.Name != "" {
				call.name = tc.Name
			}
			call.args.WriteString(tc.Arguments)
		}
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
		return "", nil, fmt.Errorf("%w: %w", ErrModelStream, err)
	}

	indexes := make([]int, 0, len(pending))
	for idx := range pending {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	calls := make([]llm.ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		p := pending[idx]
		callID := p.id
		if callID == "" {
			callID = fmt.Sprintf("call_%d_%d", iteration, idx)
		}
		calls = append(calls, llm.ToolCall{ID: callID, Name: p.name, Arguments: p.args.String()})
	}
	return text.String(), calls, nil
}

// executeAll runs one batch strictly in emission order. Once the handoff
// happens the conversation model is never called again, but the rest of the
// batch still executes so each call gets a result.
func (r *run) executeAll(ctx context.Context, iteration int, text string, calls []llm.ToolCall) error {
	r.working = append(r.working, llm.Message{Role: llm.RoleAssistant, Content: text, ToolCalls: calls})
	r.env.History = r.context()

	kept := make([]llm.ToolCall, 0, len(calls))
	var results []llm.Message
	var interpretation strings.Builder

	for _, call := range calls {
		logger := r.logger.With(zap.Int("iteration", iteration), zap.String("tool", call.Name))
		if err := r.out.Send(ctx, stream.ToolCall(call.ID, call.Name, call.Arguments)); err != nil {
			return err
		}
		res := r.c.tools.Execute(ctx, call, &r.env)
		logger.Debug("tool executed", zap.Bool("is_error", res.IsError), zap.Bool("ephemeral", res.Ephemeral))

		if res.Interpretation != nil {
			delivered, err := r.forward(ctx, res)
			interpretation.WriteString(delivered)
			if err != nil {
				return err
			}
		}
		if res.SpreadLaid != nil {
			if err := r.out.Send(ctx, stream.SpreadLaid(*res.SpreadLaid)); err != nil {
				return err
			}
		}
		if err := r.out.Send(ctx, stream.ToolResult(call.ID, call.Name, res.Text)); err != nil {
			return err
		}
		if res.Interpretation != nil && r.env.ActiveSpread != nil {
			entry := reading.NewLedgerEntry(*r.env.ActiveSpread, r.c.now())
			r.env.Ledger = append(r.env.Ledger, entry)
			logger.Info("reading interpreted", zap.String("reading_id", entry.ReadingID))
			if err := r.out.Send(ctx, stream.Ledger(entry)); err != nil {
				return err
			}
		}

		toolMsg := llm.Message{Role: llm.RoleTool, Content: res.Text, ToolCallID: call.ID}
		r.working = append(r.working, toolMsg)
		if !res.Ephemeral {
			kept = append(kept, call)
			results = append(results, toolMsg)
		}
	}

	if text != "" || len(kept) > 0 {
		r.record(llm.Message{Role: llm.RoleAssistant, Content: text, ToolCalls: kept})
		for _, msg := range results {
			r.record(msg)
		}
	}
	if interpretation.Len() > 0 {
		msg := llm.Message{Role: llm.RoleAssistant, Content: interpretation.String()}
		r.working = append(r.working, msg)
		r.record(msg)
	}
	return nil
}

// forward relays interpretation chunks to the caller as ordinary text.
func (r *run) forward(ctx context.Context, res tools.Result) (string, error) {
	s := res.Interpretation
	defer s.Close()
	var b strings.Builder
	for {
		chunk, ok := s.Next(ctx)
		if !ok {
			break
		}
		b.WriteString(chunk)
		if err := r.out.Send(ctx, stream.Text(chunk)); err != nil {
			return b.String(), err
		}
	}
	if err := ctx.Err(); err != nil {
		return b.String(), err
	}
	if err := s.Err(); err != nil {
		r.logger.Info("interpretation used fallback", zap.Bool("fell_back", s.FellBack()), zap.Error(err))
	}
	return b.String(), nil
}

func (r *run) record(msg llm.Message) {
	r.persist = append(r.persist, msg)
}
