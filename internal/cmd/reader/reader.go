// Package reader parses reader command configuration and launches the
// service or a one-off draw.
package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	entrypoint "github.com/louisbranch/tarot.space/internal/platform/cmd"
	"github.com/louisbranch/tarot.space/internal/platform/logging"
	server "github.com/louisbranch/tarot.space/internal/services/reader/app"
	"github.com/louisbranch/tarot.space/internal/services/reader/draw"
	readersqlite "github.com/louisbranch/tarot.space/internal/services/reader/storage/sqlite"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// flagValues are command-line overrides of the environment configuration.
type flagValues struct {
	addr           string
	dbPath         string
	logLevel       string
	logDevelopment bool
}

// ParseConfig loads the environment configuration and applies the flags the
// caller set explicitly.
func ParseConfig(cmd *cobra.Command, flags flagValues) (server.Config, error) {
	cfg, err := server.LoadConfig()
	if err != nil {
		return server.Config{}, err
	}
	set := cmd.Flags()
	if set.Changed("addr") {
		cfg.Addr = flags.addr
	}
	if set.Changed("db-path") {
		cfg.DBPath = flags.dbPath
	}
	if set.Changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if set.Changed("log-development") {
		cfg.LogDevelopment = flags.logDevelopment
	}
	return cfg, nil
}

func newLogger(cfg server.Config) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Level:       cfg.LogLevel,
		Development: cfg.LogDevelopment,
		Service:     entrypoint.ServiceReader,
	})
}

// NewCommand builds the reader command tree.
func NewCommand() *cobra.Command {
	var flags flagValues
	root := &cobra.Command{
		Use:           "reader",
		Short:         "Tarot reader conversation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.dbPath, "db-path", "", "SQLite path for the draw provenance log (overrides TAROT_SPACE_READER_DB_PATH)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level (overrides TAROT_SPACE_READER_LOG_LEVEL)")
	root.PersistentFlags().BoolVar(&flags.logDevelopment, "log-development", false, "Use the development logger")

	root.AddCommand(newServeCommand(&flags), newDrawCommand(&flags))
	return root
}

func newServeCommand(flags *flagValues) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reader HTTP service until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ParseConfig(cmd, *flags)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return entrypoint.RunWithTelemetry(cmd.Context(), entrypoint.ServiceReader, logger, func(ctx context.Context) error {
				return server.Run(ctx, cfg, logger)
			})
		},
	}
	cmd.Flags().StringVar(&flags.addr, "addr", ":8090", "HTTP listen address (overrides TAROT_SPACE_READER_ADDR)")
	return cmd
}

func newDrawCommand(flags *flagValues) *cobra.Command {
	var (
		n               int
		allowDuplicates bool
		noReversals     bool
	)
	cmd := &cobra.Command{
		Use:   "draw",
		Short: "Draw cards once through the entropy cascade and print the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ParseConfig(cmd, *flags)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			var store *readersqlite.Store
			if path := strings.TrimSpace(cfg.DBPath); path != "" {
				store, err = readersqlite.Open(cmd.Context(), path)
				if err != nil {
					return fmt.Errorf("open provenance store: %w", err)
				}
				defer func() { _ = store.Close() }()
			}

			engine := server.NewEngine(cfg, logger, nil, store)
			result, drawErr := engine.Draw(cmd.Context(), draw.Request{
				N:               n,
				AllowDuplicates: allowDuplicates,
				AllowReversals:  !noReversals,
			})
			if drawErr != nil && result.Provenance.ID == "" {
				return drawErr
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(result); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
			return drawErr
		},
	}
	cmd.Flags().IntVarP(&n, "count", "n", 1, "Number of cards to draw")
	cmd.Flags().BoolVar(&allowDuplicates, "allow-duplicates", false, "Allow the same card more than once")
	cmd.Flags().BoolVar(&noReversals, "no-reversals", false, "Draw every card upright")
	return cmd
}

// Execute runs the command tree with args.
func Execute(ctx context.Context, args []string) error {
	root := NewCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
