package draw

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/louisbranch/tarot.space/internal/platform/id"
	"github.com/louisbranch/tarot.space/internal/platform/otel"
	"github.com/louisbranch/tarot.space/internal/platform/timeouts"
	"github.com/louisbranch/tarot.space/internal/services/reader/entropy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Record is one draw as written to the provenance audit log.
type Record struct {
	Request    Request
	Provenance Provenance
	Draws      []Card
	Error      string
	CreatedAt  time.Time
}

// Recorder persists draw records. Recording failures never fail a draw.
type Recorder interface {
	RecordDraw(ctx context.Context, rec Record) error
}

// Engine draws cards from an ordered cascade of entropy sources.
type Engine struct {
	sources     []entropy.Source
	tierTimeout time.Duration
	recorder    Recorder
	logger      *zap.Logger
	now         func() time.Time
	newID       func() (string, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithTierTimeout bounds each source attempt.
func WithTierTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.tierTimeout = d
		}
	}
}

// WithRecorder sets the provenance audit log.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides provenance id generation.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// NewEngine builds an engine that tries sources in the given order.
func NewEngine(sources []entropy.Source, opts ...Option) *Engine {
	e := &Engine{
		sources:     append([]entropy.Source(nil), sources...),
		tierTimeout: timeouts.EntropyTier,
		logger:      zap.NewNop(),
		now:         time.Now,
		newID:       id.NewID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Draw samples req.N cards. On exhaustion it returns ErrEntropyExhausted
// together with a Result whose Provenance lists every failed attempt.
func (e *Engine) Draw(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	ctx, span := otel.Tracer("reader/draw").Start(ctx, "reader.draw")
	defer span.End()
	span.SetAttributes(
		attribute.Int("draw.n", req.N),
		attribute.Bool("draw.allow_duplicates", req.AllowDuplicates),
		attribute.Bool("draw.allow_reversals", req.AllowReversals),
	)

	drawID, err := e.newID()
	if err != nil {
		return Result{}, fmt.Errorf("draw id: %w", err)
	}
	result := Result{Provenance: Provenance{ID: drawID, Attempts: make([]Attempt, 0, len(e.sources))}}

	for _, source := range e.sources {
		draws, attempt := e.attempt(ctx, source, req)
		result.Provenance.Attempts = append(result.Provenance.Attempts, attempt)
		if attempt.Success {
			result.Draws = draws
			result.Provenance.MethodUsed = source.Tier()
			span.SetAttributes(attribute.String("draw.method_used", string(source.Tier())))
			e.record(ctx, req, result, nil)
			return result, nil
		}
		e.logger.Warn("entropy tier failed",
			zap.String("draw_id", drawID),
			zap.String("tier", string(source.Tier())),
			zap.String("error", attempt.Error),
		)
		if ctx.Err() != nil {
			break
		}
	}

	err = ErrEntropyExhausted
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w: %w", ErrEntropyExhausted, ctxErr)
	}
	span.SetStatus(codes.Error, err.Error())
	e.record(ctx, req, result, err)
	return result, err
}

func (e *Engine) attempt(ctx context.Context, source entropy.Source, req Request) ([]Card, Attempt) {
	attempt := Attempt{Tier: source.Tier(), StartedAt: e.now().UTC()}

	ctx, span := otel.Tracer("reader/draw").Start(ctx, "reader.entropy_tier")
	defer span.End()
	span.SetAttributes(attribute.String("entropy.tier", string(source.Tier())))

	tierCtx, cancel := context.WithTimeout(ctx, e.tierTimeout)
	defer cancel()

	s := newSampler(req)
	err := e.fill(tierCtx, source, s, &attempt)
	attempt.EndedAt = e.now().UTC()
	if err != nil {
		attempt.Error = err.Error()
		span.SetStatus(codes.Error, attempt.Error)
		return nil, attempt
	}
	attempt.Success = true
	return s.draws, attempt
}

func (e *Engine) fill(ctx context.Context, source entropy.Source, s *sampler, attempt *Attempt) error {
	limit := maxRounds(s.req.N)
	for !s.done() {
		if attempt.Rounds >= limit {
			return fmt.Errorf("insufficient accepted values after %d rounds", attempt.Rounds)
		}
		attempt.Rounds++
		values, err := source.Read(ctx, batchSize(s.remaining(), !s.req.AllowDuplicates))
		if err != nil {
			return err
		}
		if len(values) == 0 {
			return entropy.ErrBadResponse
		}
		for _, v := range values {
			if s.feed(v) {
				break
			}
		}
		if err := ctx.Err(); err != nil && !s.done() {
			return err
		}
	}
	return nil
}

func (e *Engine) record(ctx context.Context, req Request, result Result, drawErr error) {
	if e.recorder == nil {
		return
	}
	rec := Record{
		Request:    req,
		Provenance: result.Provenance,
		Draws:      result.Draws,
		CreatedAt:  e.now().UTC(),
	}
	if drawErr != nil {
		rec.Error = drawErr.Error()
	}
	// The caller may already be gone; the audit row is still wanted.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.EntropyTier)
	defer cancel()
	if err := e.recorder.RecordDraw(recCtx, rec); err != nil {
		e.logger.Error("record draw provenance",
			zap.String("draw_id", result.Provenance.ID),
			zap.Error(err),
		)
	}
}

// IsExhausted reports whether err is an entropy exhaustion failure.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrEntropyExhausted)
}
