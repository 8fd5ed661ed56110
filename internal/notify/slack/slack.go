// Package slack sends escalation notifications to Slack via incoming
// webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/linnemanlabs/sentinel/internal/escalation"
	"github.com/linnemanlabs/sentinel/internal/signal"
)

const (
	maxDetailFields = 8
	httpTimeout     = 10 * time.Second
)

// Notifier sends escalation records to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Send posts an escalation record to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, r *escalation.Record) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(r)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(r *escalation.Record) map[string]any {
	blocks := []map[string]any{
		headerBlock(r),
		{"type": "divider"},
		fieldsBlock(r),
	}
	if r.Summary != "" {
		blocks = append(blocks, map[string]any{"type": "divider"}, summaryBlock(r))
	}
	if len(r.Detail) > 0 {
		blocks = append(blocks, map[string]any{"type": "divider"}, detailBlock(r))
	}
	blocks = append(blocks, map[string]any{"type": "divider"}, contextBlock(r))
	return map[string]any{"blocks": blocks}
}

func headerBlock(r *escalation.Record) map[string]any {
	text := fmt.Sprintf("%s Escalation: %s", severityEmoji(r.Severity), r.Subject)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(r *escalation.Record) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Severity:* %s", r.Severity),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Tier:* %d", r.Tier),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Origin:* %s", r.Origin),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Respond by:* %s", slaText(r)),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func summaryBlock(r *escalation.Record) map[string]any {
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Summary*\n\n%s", r.Summary),
		},
	}
}

func detailBlock(r *escalation.Record) map[string]any {
	keys := make([]string, 0, len(r.Detail))
	for k := range r.Detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > maxDetailFields {
		keys = keys[:maxDetailFields]
	}

	text := "*Details*\n"
	for _, k := range keys {
		text += fmt.Sprintf("• %s: `%v`\n", k, r.Detail[k])
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

func contextBlock(r *escalation.Record) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("sentinel • escalation %s • %s", r.ID, r.Time.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func slaText(r *escalation.Record) string {
	if r.SLADeadline.IsZero() {
		return "no SLA"
	}
	return r.SLADeadline.UTC().Format("2006-01-02 15:04 UTC")
}

func severityEmoji(sev signal.Severity) string {
	switch sev {
	case signal.SeverityCritical:
		return "\U0001f534" // red circle
	case signal.SeverityHigh:
		return "\U0001f7e0" // orange circle
	case signal.SeverityMedium:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}
