package claude

import (
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
)

func TestExtractText_TextBlocks(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "attacker probed the admin panel. "},
			{Type: "text", Text: "Block the source address."},
		},
		StopReason: anthropic.StopReasonEndTurn,
	}

	want := "attacker probed the admin panel. Block the source address."
	if got := extractText(msg); got != want {
		t.Errorf("extractText() = %q, want %q", got, want)
	}
}

func TestExtractText_IgnoresNonText(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "tool_use", ID: "tu-1", Name: "lookup", Input: json.RawMessage(`{}`)},
			{Type: "text", Text: "  summary  "},
		},
		StopReason: anthropic.StopReasonToolUse,
	}

	if got := extractText(msg); got != "summary" {
		t.Errorf("extractText() = %q, want %q", got, "summary")
	}
}

func TestExtractText_Empty(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{StopReason: anthropic.StopReasonEndTurn}
	if got := extractText(msg); got != "" {
		t.Errorf("extractText() = %q, want empty", got)
	}
}

func TestNew_DefaultModel(t *testing.T) {
	t.Parallel()

	s := New("test-key", "")
	if s.model != anthropic.Model(DefaultModel) {
		t.Errorf("model = %q, want default %q", s.model, DefaultModel)
	}

	s = New("test-key", "claude-opus-4-1")
	if s.model != "claude-opus-4-1" {
		t.Errorf("model = %q, want explicit override", s.model)
	}
}
