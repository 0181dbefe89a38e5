package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/tarot.space/internal/platform/config"
	"github.com/louisbranch/tarot.space/internal/platform/timeouts"
	"github.com/louisbranch/tarot.space/internal/services/reader/entropy"
)

// EnvPrefix prefixes every reader environment variable.
const EnvPrefix = config.Prefix + "READER_"

// Interpretation providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Config holds the reader process settings.
type Config struct {
	Addr   string `env:"ADDR" envDefault:":8090"`
	DBPath string `env:"DB_PATH"`

	ConversationBaseURL string `env:"CONVERSATION_BASE_URL"`
	ConversationAPIKey  string `env:"CONVERSATION_API_KEY"`
	ConversationModel   string `env:"CONVERSATION_MODEL" envDefault:"gpt-4o-mini"`

	InterpretationProvider string `env:"INTERPRETATION_PROVIDER" envDefault:"anthropic"`
	InterpretationBaseURL  string `env:"INTERPRETATION_BASE_URL"`
	InterpretationAPIKey   string `env:"INTERPRETATION_API_KEY"`
	InterpretationModel    string `env:"INTERPRETATION_MODEL" envDefault:"claude-sonnet-4-5"`

	QRNGURL         string `env:"QRNG_URL" envDefault:"https://qrng.anu.edu.au/API/jsonI.php"`
	RandomOrgURL    string `env:"RANDOM_ORG_URL" envDefault:"https://api.random.org/json-rpc/4/invoke"`
	RandomOrgAPIKey string `env:"RANDOM_ORG_API_KEY"`

	TierTimeout           time.Duration `env:"TIER_TIMEOUT" envDefault:"5s"`
	ModelTimeout          time.Duration `env:"MODEL_TIMEOUT" envDefault:"60s"`
	InterpretationTimeout time.Duration `env:"INTERPRETATION_TIMEOUT" envDefault:"90s"`
	MaxIterations         int           `env:"MAX_ITERATIONS" envDefault:"5"`
	SummaryThreshold      int           `env:"SUMMARY_THRESHOLD" envDefault:"20"`
	SummaryKeepRecent     int           `env:"SUMMARY_KEEP_RECENT" envDefault:"3"`
	HistoryWindow         int           `env:"HISTORY_WINDOW" envDefault:"40"`
	SessionIdleTTL        time.Duration `env:"SESSION_IDLE_TTL" envDefault:"1h"`

	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT"`
}

// LoadConfig reads Config from TAROT_SPACE_READER_* variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := config.ParseEnvPrefixed(&cfg, EnvPrefix); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the process cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	switch strings.ToLower(strings.TrimSpace(c.InterpretationProvider)) {
	case ProviderAnthropic, ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("interpretation provider %q is not supported", c.InterpretationProvider))
	}
	if c.MaxIterations < 1 {
		errs = append(errs, errors.New("max iterations must be at least 1"))
	}
	if c.SummaryThreshold < 1 || c.SummaryKeepRecent < 1 {
		errs = append(errs, errors.New("summary threshold and keep-recent must be at least 1"))
	}
	if c.SummaryKeepRecent > c.SummaryThreshold {
		errs = append(errs, errors.New("summary keep-recent must not exceed the threshold"))
	}
	if c.HistoryWindow < 1 {
		errs = append(errs, errors.New("history window must be at least 1"))
	}
	return errors.Join(errs...)
}

func (c Config) tierTimeout() time.Duration {
	if c.TierTimeout <= 0 {
		return timeouts.EntropyTier
	}
	return c.TierTimeout
}

// entropySources builds the tier cascade: quantum, random.org when a key is
// configured, then the local generator.
func (c Config) entropySources() []entropy.Source {
	sources := []entropy.Source{entropy.Quantum{URL: c.QRNGURL}}
	if strings.TrimSpace(c.RandomOrgAPIKey) != "" {
		sources = append(sources, &entropy.RandomOrg{URL: c.RandomOrgURL, APIKey: c.RandomOrgAPIKey})
	}
	return append(sources, entropy.Crypto{})
}
