// Package config loads and validates the bot configuration from a YAML file,
// with environment overrides for the trading kill switch.
package config

import (
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/rxtech-lab/argo-options/pkg/errors"
)

// SafetyConfig holds the account-level risk governance knobs. TradingEnabled
// defaults to false and must be switched on explicitly; every entry attempt is
// gated on it.
type SafetyConfig struct {
	TradingEnabled  bool    `yaml:"trading_enabled"`
	AccountSize     float64 `yaml:"account_size" validate:"required,gt=0"`
	RiskPerTradePct float64 `yaml:"risk_per_trade_pct" validate:"required,gt=0,lte=1"`
	MaxDailyLossPct float64 `yaml:"max_daily_loss_pct" validate:"required,gt=0,lte=1"`
	MaxTradesPerDay int     `yaml:"max_trades_per_day" validate:"required,gte=1"`
}

// StrategyConfig holds the candidate selection parameters.
type StrategyConfig struct {
	Underlyings []string `yaml:"underlyings" validate:"required,min=1,dive,required"`
	DTEMin      int      `yaml:"dte_min" validate:"gte=0"`
	DTEMax      int      `yaml:"dte_max" validate:"required,gtefield=DTEMin"`
	DeltaMin    float64  `yaml:"delta_min" validate:"gte=0,lte=1"`
	DeltaMax    float64  `yaml:"delta_max" validate:"required,gt=0,lte=1,gtefield=DeltaMin"`
	SpreadWidth float64  `yaml:"spread_width" validate:"required,gt=0"`
	// LegMaxBidAsk rejects strikes whose bid-ask spread exceeds this per leg.
	LegMaxBidAsk float64 `yaml:"leg_max_bidask" validate:"required,gt=0"`
	// RequireGreeks fails a symbol scan closed when Greeks are unavailable.
	// When false, strikes are chosen by distance to OTMTargetPct from spot.
	RequireGreeks bool    `yaml:"require_greeks"`
	OTMTargetPct  float64 `yaml:"otm_target_pct" validate:"required,gt=0,lt=1"`
	// CandidateLimit caps the ranked candidates returned per symbol scan.
	CandidateLimit int `yaml:"candidate_limit" validate:"required,gte=1"`
}

// ExitConfig holds the position-management exit thresholds.
type ExitConfig struct {
	// TPCapturePct closes when the cost to close falls to this fraction of the credit.
	TPCapturePct float64 `yaml:"tp_capture_pct" validate:"required,gt=0,lt=1"`
	// SLMultiple closes when the cost to close reaches this multiple of the credit.
	SLMultiple float64 `yaml:"sl_multiple" validate:"required,gt=1"`
	// TimeExitDTE closes regardless of price once DTE falls to this threshold.
	TimeExitDTE int `yaml:"time_exit_dte" validate:"gte=0"`
}

// ExecutionConfig holds the session-loop and order-protocol timing knobs.
type ExecutionConfig struct {
	EntryWindowStart      string  `yaml:"entry_window_start" validate:"required"`
	EntryWindowEnd        string  `yaml:"entry_window_end" validate:"required"`
	ManageIntervalSeconds int     `yaml:"manage_interval_seconds" validate:"required,gte=1"`
	TickIntervalSeconds   int     `yaml:"tick_interval_seconds" validate:"required,gte=1"`
	EntryMaxSlippage      float64 `yaml:"entry_max_slippage" validate:"required,gt=0"`
	// EntrySlippageStep is the per-retry limit-price adjustment.
	EntrySlippageStep float64 `yaml:"entry_slippage_step" validate:"required,gt=0"`
	EntryRetrySeconds int     `yaml:"entry_retry_seconds" validate:"required,gte=1"`
	EntryMaxAttempts  int     `yaml:"entry_max_attempts" validate:"required,gte=1"`
	// OrderPollSeconds bounds each order-status poll while awaiting a fill.
	OrderPollSeconds int `yaml:"order_poll_seconds" validate:"required,gte=1"`
}

// StoreConfig holds the persistence settings.
type StoreConfig struct {
	// Path is the DuckDB database file; ":memory:" is accepted for tests.
	Path string `yaml:"path" validate:"required"`
}

// Config is the full application configuration.
type Config struct {
	Timezone  string          `yaml:"timezone" validate:"required"`
	Safety    SafetyConfig    `yaml:"safety" validate:"required"`
	Strategy  StrategyConfig  `yaml:"strategy" validate:"required"`
	Exits     ExitConfig      `yaml:"exits" validate:"required"`
	Execution ExecutionConfig `yaml:"execution" validate:"required"`
	Store     StoreConfig     `yaml:"store" validate:"required"`
}

// Default returns the configuration used when a field is absent from the file.
// The defaults mirror a conservative small-account setup with trading disabled.
func Default() Config {
	return Config{
		Timezone: "America/New_York",
		Safety: SafetyConfig{
			TradingEnabled:  false,
			AccountSize:     1000,
			RiskPerTradePct: 0.02,
			MaxDailyLossPct: 0.03,
			MaxTradesPerDay: 2,
		},
		Strategy: StrategyConfig{
			Underlyings:    []string{"SPY", "QQQ"},
			DTEMin:         7,
			DTEMax:         21,
			DeltaMin:       0.15,
			DeltaMax:       0.25,
			SpreadWidth:    1.0,
			LegMaxBidAsk:   0.10,
			RequireGreeks:  true,
			OTMTargetPct:   0.04,
			CandidateLimit: 5,
		},
		Exits: ExitConfig{
			TPCapturePct: 0.50,
			SLMultiple:   2.0,
			TimeExitDTE:  3,
		},
		Execution: ExecutionConfig{
			EntryWindowStart:      "10:00",
			EntryWindowEnd:        "11:00",
			ManageIntervalSeconds: 300,
			TickIntervalSeconds:   30,
			EntryMaxSlippage:      0.05,
			EntrySlippageStep:     0.01,
			EntryRetrySeconds:     60,
			EntryMaxAttempts:      5,
			OrderPollSeconds:      2,
		},
		Store: StoreConfig{
			Path: "data/bot.duckdb",
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read config file %s", path)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config file", err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// applyEnvOverrides applies the environment kill switch. TRADING_ENABLED must
// be exactly "true" to enable trading; any other value forces it off so a
// mistyped variable fails closed.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("TRADING_ENABLED"); ok {
		cfg.Safety.TradingEnabled = strings.EqualFold(strings.TrimSpace(v), "true")
	}
}

// Validate checks the configuration against its struct tags and cross-field rules.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid configuration", err)
	}

	if c.Execution.EntrySlippageStep > c.Execution.EntryMaxSlippage {
		return errors.New(errors.ErrCodeInvalidConfiguration, "entry_slippage_step exceeds entry_max_slippage")
	}

	return nil
}

// Snapshot renders the configuration as YAML for the session record.
func (c *Config) Snapshot() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to render config snapshot", err)
	}

	return string(data), nil
}
