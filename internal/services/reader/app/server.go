// Package server wires the reader runtime and its HTTP lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/louisbranch/tarot.space/internal/platform/timeouts"
	"github.com/louisbranch/tarot.space/internal/services/reader/api/httpapi"
	"github.com/louisbranch/tarot.space/internal/services/reader/api/mcpapi"
	"github.com/louisbranch/tarot.space/internal/services/reader/catalog"
	"github.com/louisbranch/tarot.space/internal/services/reader/draw"
	"github.com/louisbranch/tarot.space/internal/services/reader/entropy"
	"github.com/louisbranch/tarot.space/internal/services/reader/handoff"
	"github.com/louisbranch/tarot.space/internal/services/reader/llm"
	"github.com/louisbranch/tarot.space/internal/services/reader/llm/anthropic"
	"github.com/louisbranch/tarot.space/internal/services/reader/llm/openai"
	"github.com/louisbranch/tarot.space/internal/services/reader/session"
	readersqlite "github.com/louisbranch/tarot.space/internal/services/reader/storage/sqlite"
	"github.com/louisbranch/tarot.space/internal/services/reader/summarize"
	"github.com/louisbranch/tarot.space/internal/services/reader/tools"
	"github.com/louisbranch/tarot.space/internal/services/reader/turn"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Deps overrides collaborators normally built from Config. Zero fields are
// built from Config.
type Deps struct {
	Chat    llm.ChatModel
	Text    llm.TextModel
	Sources []entropy.Source
}

// Server hosts the reader HTTP API, the MCP endpoint and the session sweeper.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	sessions   *session.Registry
	store      *readersqlite.Store
	logger     *zap.Logger
}

// New builds a server listening on cfg.Addr.
func New(ctx context.Context, cfg Config, logger *zap.Logger, deps Deps) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	chat, text, err := buildModels(cfg, deps)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Load()
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	var store *readersqlite.Store
	if path := strings.TrimSpace(cfg.DBPath); path != "" {
		store, err = readersqlite.Open(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("open provenance store: %w", err)
		}
	}
	engine := NewEngine(cfg, logger, deps.Sources, store)

	interpreter := handoff.New(text,
		handoff.WithTimeout(cfg.InterpretationTimeout),
		handoff.WithLogger(logger.Named("handoff")),
	)
	dispatcher := tools.NewDispatcher(logger.Named("tools"),
		tools.NewListSpreads(cat),
		tools.NewDrawCards(cat, engine),
		tools.NewRequestInterpretation(interpreter),
	)
	controller := turn.NewController(chat, dispatcher,
		turn.WithMaxIterations(cfg.MaxIterations),
		turn.WithHistoryWindow(cfg.HistoryWindow),
		turn.WithModelTimeout(cfg.ModelTimeout),
		turn.WithLogger(logger.Named("turn")),
	)
	summarizer := summarize.New(text,
		summarize.WithThreshold(cfg.SummaryThreshold),
		summarize.WithKeepRecent(cfg.SummaryKeepRecent),
		summarize.WithLogger(logger.Named("summarize")),
	)
	sessions := session.NewRegistry(cfg.SessionIdleTTL, session.WithLogger(logger.Named("session")))

	apiDeps := httpapi.Deps{
		Turns:      controller,
		Drawer:     engine,
		Summarizer: summarizer,
		Sessions:   sessions,
		Logger:     logger.Named("http"),

		HistoryWindow: cfg.HistoryWindow,
	}
	if store != nil {
		apiDeps.Provenance = store
	}
	handler, err := httpapi.NewHandler(apiDeps)
	if err != nil {
		closeStore(store, logger)
		return nil, err
	}

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/mcp", mcpapi.NewHandler(mcpapi.NewServer(cat, engine)))

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		closeStore(store, logger)
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}

	return &Server{
		listener: listener,
		httpServer: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
		sessions: sessions,
		store:    store,
		logger:   logger,
	}, nil
}

// NewEngine builds the draw engine over sources, or over the configured
// cascade when sources is empty. A nil store disables the audit log.
func NewEngine(cfg Config, logger *zap.Logger, sources []entropy.Source, store *readersqlite.Store) *draw.Engine {
	if len(sources) == 0 {
		sources = cfg.entropySources()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []draw.Option{
		draw.WithTierTimeout(cfg.tierTimeout()),
		draw.WithLogger(logger.Named("draw")),
	}
	if store != nil {
		opts = append(opts, draw.WithRecorder(store))
	}
	return draw.NewEngine(sources, opts...)
}

func buildModels(cfg Config, deps Deps) (llm.ChatModel, llm.TextModel, error) {
	chat := deps.Chat
	if chat == nil {
		client, err := openai.New(openai.Config{
			APIKey:  cfg.ConversationAPIKey,
			BaseURL: cfg.ConversationBaseURL,
			Model:   cfg.ConversationModel,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("conversation model: %w", err)
		}
		chat = client
	}

	text := deps.Text
	if text == nil {
		var err error
		switch strings.ToLower(strings.TrimSpace(cfg.InterpretationProvider)) {
		case ProviderOpenAI:
			text, err = openai.New(openai.Config{
				APIKey:  cfg.InterpretationAPIKey,
				BaseURL: cfg.InterpretationBaseURL,
				Model:   cfg.InterpretationModel,
			})
		default:
			text, err = anthropic.New(anthropic.Config{
				APIKey:  cfg.InterpretationAPIKey,
				BaseURL: cfg.InterpretationBaseURL,
				Model:   cfg.InterpretationModel,
			})
		}
		if err != nil {
			return nil, nil, fmt.Errorf("interpretation model: %w", err)
		}
	}
	return chat, text, nil
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run builds a server and serves until ctx ends.
func Run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	srv, err := New(ctx, cfg, logger, Deps{})
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// Serve runs the HTTP server and the session sweeper until ctx ends, then
// shuts both down.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	defer s.Close()

	s.logger.Info("reader listening", zap.String("addr", s.Addr()))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return s.sessions.RunSweeper(gctx, timeouts.SessionSweep)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.Shutdown)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Close releases the listener and the provenance store.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	closeStore(s.store, s.logger)
	s.store = nil
}

func closeStore(store *readersqlite.Store, logger *zap.Logger) {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		logger.Warn("close provenance store", zap.Error(err))
	}
}
