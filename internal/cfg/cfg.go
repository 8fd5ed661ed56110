package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds pipeline-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIAuthToken          string

	DedupWindowSeconds int
	HistoryCap         int
	RulesFile          string
	EventSnapshotPath  string
	EscalationHistory  int

	DatabaseURL     string
	SlackWebhookURL string
	ClaudeAPIKey    string
	ClaudeModel     string

	AbstainMinConfidence   float64
	AbstainMaxUncertainty  float64
	AbstainMinSamples      int
	AbstainMaxDisagreement float64
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIAuthToken, "api-auth-token", "", "bearer token required on API requests (empty = no auth)")
	fs.IntVar(&c.DedupWindowSeconds, "dedup-window-seconds", 300, "trailing window for signal/event dedup suppression (1..3600)")
	fs.IntVar(&c.HistoryCap, "history-cap", 10000, "maximum signals kept in the in-memory bus history (100..1000000)")
	fs.StringVar(&c.RulesFile, "rules-file", "", "YAML correlation rules file (empty = built-in rules)")
	fs.StringVar(&c.EventSnapshotPath, "event-snapshot-path", "", "JSON snapshot file for the in-memory event store (empty = no snapshot)")
	fs.IntVar(&c.EscalationHistory, "escalation-history", 1000, "maximum escalation records kept in memory (10..100000)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for escalation notifications")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for incident summaries (empty = summaries disabled)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-5", "Claude model for incident summaries")
	fs.Float64Var(&c.AbstainMinConfidence, "abstain-min-confidence", 0.65, "minimum confidence for autonomous action (0..1)")
	fs.Float64Var(&c.AbstainMaxUncertainty, "abstain-max-uncertainty", 0.35, "maximum uncertainty for autonomous action (0..1)")
	fs.IntVar(&c.AbstainMinSamples, "abstain-min-samples", 5, "minimum sample count for autonomous action (>= 0)")
	fs.Float64Var(&c.AbstainMaxDisagreement, "abstain-max-disagreement", 0.20, "maximum cross-system disagreement for autonomous action (0..1)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.DedupWindowSeconds <= 0 || c.DedupWindowSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid DEDUP_WINDOW_SECONDS %d (must be 1..3600)", c.DedupWindowSeconds))
	}
	if c.HistoryCap < 100 || c.HistoryCap > 1_000_000 {
		errs = append(errs, fmt.Errorf("invalid HISTORY_CAP %d (must be 100..1000000)", c.HistoryCap))
	}
	if c.EscalationHistory < 10 || c.EscalationHistory > 100_000 {
		errs = append(errs, fmt.Errorf("invalid ESCALATION_HISTORY %d (must be 10..100000)", c.EscalationHistory))
	}

	// Claude model only matters when summaries are enabled
	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}

	for _, v := range []struct {
		name string
		val  float64
	}{
		{"ABSTAIN_MIN_CONFIDENCE", c.AbstainMinConfidence},
		{"ABSTAIN_MAX_UNCERTAINTY", c.AbstainMaxUncertainty},
		{"ABSTAIN_MAX_DISAGREEMENT", c.AbstainMaxDisagreement},
	} {
		if v.val < 0 || v.val > 1 {
			errs = append(errs, fmt.Errorf("invalid %s %v (must be 0..1)", v.name, v.val))
		}
	}
	if c.AbstainMinSamples < 0 {
		errs = append(errs, fmt.Errorf("invalid ABSTAIN_MIN_SAMPLES %d (must be >= 0)", c.AbstainMinSamples))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
