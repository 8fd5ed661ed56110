// Package claude generates analyst-facing incident summaries with the
// Anthropic API.
package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "claude-sonnet-4-5"

	maxSummaryTokens = 1024

	systemPrompt = "You are a security operations analyst. Summarize the " +
		"escalated incident below in at most three sentences: what happened, " +
		"why it was escalated, and the most useful next step for the on-call " +
		"analyst. Be concrete; do not restate field names."
)

// Summarizer produces a short natural-language summary of an escalation.
type Summarizer struct {
	client anthropic.Client
	model  anthropic.Model
}

// New creates a Summarizer authenticated with the given API key.
func New(apiKey, model string) *Summarizer {
	if model == "" {
		model = DefaultModel
	}
	return &Summarizer{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// Summarize sends the rendered incident text to the model and returns the
// concatenated text of the response.
func (s *Summarizer) Summarize(ctx context.Context, incident string) (string, error) {
	msg, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: maxSummaryTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(incident)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude: summarize: %w", err)
	}

	out := extractText(msg)
	if out == "" {
		return "", fmt.Errorf("claude: empty summary (stop reason %q)", msg.StopReason)
	}
	return out, nil
}

// extractText concatenates the text blocks of a response, ignoring any
// other block types.
func extractText(msg *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}
