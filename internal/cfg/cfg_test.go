package cfg

import (
	"flag"
	"math"
	"strings"
	"testing"
)

// validBase returns a Config with all fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:           60,
		ShutdownBudgetSeconds:  90,
		APIPort:                8080,
		DedupWindowSeconds:     300,
		HistoryCap:             10000,
		EscalationHistory:      1000,
		ClaudeAPIKey:           "sk-test-key",
		ClaudeModel:            "claude-sonnet-4-5",
		AbstainMinConfidence:   0.65,
		AbstainMaxUncertainty:  0.35,
		AbstainMinSamples:      5,
		AbstainMaxDisagreement: 0.20,
	}
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.DrainSeconds != 60 {
		t.Errorf("DrainSeconds = %d, want 60", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 90 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 90", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", c.APIPort)
	}
	if c.DedupWindowSeconds != 300 {
		t.Errorf("DedupWindowSeconds = %d, want 300", c.DedupWindowSeconds)
	}
	if c.HistoryCap != 10000 {
		t.Errorf("HistoryCap = %d, want 10000", c.HistoryCap)
	}
	if c.EscalationHistory != 1000 {
		t.Errorf("EscalationHistory = %d, want 1000", c.EscalationHistory)
	}
	if c.AbstainMinConfidence != 0.65 {
		t.Errorf("AbstainMinConfidence = %v, want 0.65", c.AbstainMinConfidence)
	}
	if c.AbstainMinSamples != 5 {
		t.Errorf("AbstainMinSamples = %d, want 5", c.AbstainMinSamples)
	}

	// defaults must validate as-is
	if err := c.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "30",
		"-shutdown-budget-seconds", "120",
		"-http-port", "9090",
		"-api-auth-token", "secret",
		"-dedup-window-seconds", "60",
		"-rules-file", "/etc/sentinel/rules.yaml",
		"-database-url", "postgres://localhost/sentinel",
		"-claude-api-key", "sk-override",
		"-abstain-min-confidence", "0.8",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.DrainSeconds != 30 {
		t.Errorf("DrainSeconds = %d, want 30", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 120 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 120", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", c.APIPort)
	}
	if c.APIAuthToken != "secret" {
		t.Errorf("APIAuthToken = %q, want %q", c.APIAuthToken, "secret")
	}
	if c.DedupWindowSeconds != 60 {
		t.Errorf("DedupWindowSeconds = %d, want 60", c.DedupWindowSeconds)
	}
	if c.RulesFile != "/etc/sentinel/rules.yaml" {
		t.Errorf("RulesFile = %q", c.RulesFile)
	}
	if c.DatabaseURL != "postgres://localhost/sentinel" {
		t.Errorf("DatabaseURL = %q", c.DatabaseURL)
	}
	if c.ClaudeAPIKey != "sk-override" {
		t.Errorf("ClaudeAPIKey = %q, want %q", c.ClaudeAPIKey, "sk-override")
	}
	if c.AbstainMinConfidence != 0.8 {
		t.Errorf("AbstainMinConfidence = %v, want 0.8", c.AbstainMinConfidence)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	mutate := func(fn func(*Config)) Config {
		c := validBase()
		fn(&c)
		return c
	}

	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:    "base is valid",
			cfg:     validBase(),
			wantErr: false,
		},
		{
			name: "empty claude key disables summaries without error",
			cfg: mutate(func(c *Config) {
				c.ClaudeAPIKey = ""
				c.ClaudeModel = ""
			}),
			wantErr: false,
		},
		// DrainSeconds boundaries
		{
			name:      "drain zero",
			cfg:       mutate(func(c *Config) { c.DrainSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain above max",
			cfg:       mutate(func(c *Config) { c.DrainSeconds = 301; c.ShutdownBudgetSeconds = 302 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS"},
		},
		// Cross-field: budget vs drain
		{
			name:      "budget equals drain",
			cfg:       mutate(func(c *Config) { c.ShutdownBudgetSeconds = c.DrainSeconds }),
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		{
			name:    "budget is drain plus one",
			cfg:     mutate(func(c *Config) { c.ShutdownBudgetSeconds = c.DrainSeconds + 1 }),
			wantErr: false,
		},
		// APIPort boundaries
		{
			name:      "port zero",
			cfg:       mutate(func(c *Config) { c.APIPort = 0 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:      "port above max",
			cfg:       mutate(func(c *Config) { c.APIPort = 65536 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		// Pipeline knobs
		{
			name:      "dedup window zero",
			cfg:       mutate(func(c *Config) { c.DedupWindowSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"DEDUP_WINDOW_SECONDS"},
		},
		{
			name:      "dedup window above max",
			cfg:       mutate(func(c *Config) { c.DedupWindowSeconds = 3601 }),
			wantErr:   true,
			errSubstr: []string{"DEDUP_WINDOW_SECONDS"},
		},
		{
			name:      "history cap too small",
			cfg:       mutate(func(c *Config) { c.HistoryCap = 99 }),
			wantErr:   true,
			errSubstr: []string{"HISTORY_CAP"},
		},
		{
			name:      "escalation history too small",
			cfg:       mutate(func(c *Config) { c.EscalationHistory = 9 }),
			wantErr:   true,
			errSubstr: []string{"ESCALATION_HISTORY"},
		},
		// Claude coupling
		{
			name:      "key without model",
			cfg:       mutate(func(c *Config) { c.ClaudeModel = "" }),
			wantErr:   true,
			errSubstr: []string{"CLAUDE_MODEL"},
		},
		// Abstention thresholds
		{
			name:      "min confidence above one",
			cfg:       mutate(func(c *Config) { c.AbstainMinConfidence = 1.5 }),
			wantErr:   true,
			errSubstr: []string{"ABSTAIN_MIN_CONFIDENCE"},
		},
		{
			name:      "negative disagreement",
			cfg:       mutate(func(c *Config) { c.AbstainMaxDisagreement = -0.1 }),
			wantErr:   true,
			errSubstr: []string{"ABSTAIN_MAX_DISAGREEMENT"},
		},
		{
			name:      "negative min samples",
			cfg:       mutate(func(c *Config) { c.AbstainMinSamples = -1 }),
			wantErr:   true,
			errSubstr: []string{"ABSTAIN_MIN_SAMPLES"},
		},
		// Error accumulation
		{
			name:    "all fields invalid",
			cfg:     Config{},
			wantErr: true,
			errSubstr: []string{
				"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT",
				"DEDUP_WINDOW_SECONDS", "HISTORY_CAP", "ESCALATION_HISTORY",
			},
		},
		{
			name: "extreme negative values",
			cfg: mutate(func(c *Config) {
				c.DrainSeconds = math.MinInt32
				c.ShutdownBudgetSeconds = math.MinInt32
				c.APIPort = math.MinInt32
			}),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func FuzzValidate(f *testing.F) {
	seeds := []struct {
		drain, budget, port, dedup int
	}{
		{60, 90, 8080, 300},
		{1, 2, 1, 1},
		{299, 300, 65535, 3600},
		{0, 0, 0, 0},
		{-1, -1, -1, -1},
		{300, 300, 65535, 3600},
		{301, 302, 65536, 3601},
		{150, 100, 8080, 300},
		{math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.dedup)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port, dedup int) {
		c := validBase()
		c.DrainSeconds = drain
		c.ShutdownBudgetSeconds = budget
		c.APIPort = port
		c.DedupWindowSeconds = dedup
		err := c.Validate()

		drainOK := drain >= 1 && drain <= 300
		budgetOK := budget >= 1 && budget <= 300
		portOK := port >= 1 && port <= 65535
		crossOK := budget > drain
		dedupOK := dedup >= 1 && dedup <= 3600

		allValid := drainOK && budgetOK && portOK && crossOK && dedupOK

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}
