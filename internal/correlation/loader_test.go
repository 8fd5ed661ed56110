package correlation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/linnemanlabs/sentinel/internal/signal"
)

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write rules file: %v", err)
	}
	return path
}

func TestLoadFile_Valid(t *testing.T) {
	t.Parallel()

	path := writeRules(t, `
rules:
  - id: anomaly-burst
    name: Anomaly burst
    signal_types: [anomaly_detected]
    window_seconds: 60
    min_count: 3
    cooldown_seconds: 120
    emit_type: threat_detected
    emit_severity: high
    emit_confidence: 0.7
  - id: quiet-rule
    name: Disabled rule
    enabled: false
    signal_types: [policy_violation]
    window_seconds: 60
    min_count: 2
    cooldown_seconds: 60
    emit_type: escalation_required
    emit_severity: medium
    emit_confidence: 0.5
`)

	rules, warnings, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none", warnings)
	}
	if len(rules) != 2 {
		t.Fatalf("rules = %d, want 2", len(rules))
	}
	if !rules[0].Enabled {
		t.Error("enabled should default to true when omitted")
	}
	if rules[1].Enabled {
		t.Error("explicit enabled: false not honored")
	}
	if rules[0].SignalTypes[0] != signal.TypeAnomalyDetected {
		t.Errorf("signal type = %q", rules[0].SignalTypes[0])
	}
}

func TestLoadFile_DropsInvalidWithWarning(t *testing.T) {
	t.Parallel()

	path := writeRules(t, `
rules:
  - id: too-eager
    signal_types: [anomaly_detected]
    window_seconds: 5
    min_count: 1
    cooldown_seconds: 2
    emit_type: threat_detected
    emit_severity: high
    emit_confidence: 0.7
  - id: fine
    signal_types: [anomaly_detected]
    window_seconds: 60
    min_count: 3
    cooldown_seconds: 60
    emit_type: threat_detected
    emit_severity: high
    emit_confidence: 0.7
`)

	rules, warnings, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(rules) != 1 || rules[0].ID != "fine" {
		t.Errorf("rules = %v, want just 'fine'", rules)
	}
	if len(warnings) != 1 {
		t.Errorf("warnings = %d, want 1", len(warnings))
	}
}

func TestLoadFile_DuplicateIDKeepsFirst(t *testing.T) {
	t.Parallel()

	path := writeRules(t, `
rules:
  - id: dup
    signal_types: [anomaly_detected]
    window_seconds: 60
    min_count: 3
    cooldown_seconds: 60
    emit_type: threat_detected
    emit_severity: high
    emit_confidence: 0.7
  - id: dup
    signal_types: [policy_violation]
    window_seconds: 60
    min_count: 3
    cooldown_seconds: 60
    emit_type: threat_detected
    emit_severity: low
    emit_confidence: 0.5
`)

	rules, warnings, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("rules = %d, want 1", len(rules))
	}
	if rules[0].SignalTypes[0] != signal.TypeAnomalyDetected {
		t.Error("second definition should not replace the first")
	}
	if len(warnings) != 1 {
		t.Errorf("warnings = %d, want 1", len(warnings))
	}
}

func TestLoadFile_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	rules, warnings, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v", warnings)
	}
	if len(rules) != len(DefaultRules()) {
		t.Errorf("rules = %d, want defaults (%d)", len(rules), len(DefaultRules()))
	}
}

func TestLoadFile_MalformedYAML(t *testing.T) {
	t.Parallel()

	path := writeRules(t, "rules: [what")
	if _, _, err := LoadFile(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestDefaultRulesAreValid(t *testing.T) {
	t.Parallel()

	for _, r := range DefaultRules() {
		if err := r.Validate(); err != nil {
			t.Errorf("default rule %s invalid: %v", r.ID, err)
		}
	}
}
