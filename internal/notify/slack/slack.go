// Package slack posts newly submitted high-urgency help requests to a
// coordinator channel via a Slack incoming webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/crisisconnect/internal/triage"
)

const (
	maxDescriptionLen = 1500
	httpTimeout       = 10 * time.Second
	mapsURL           = "https://www.google.com/maps/search/?api=1&query="
)

// Notifier posts help requests to a Slack webhook. It implements triage.Notifier.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Notify posts r to the configured webhook.
func (n *Notifier) Notify(ctx context.Context, r *triage.HelpRequest) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(r))
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

	n.logger.Info(ctx, "coordinator feed posted", "help_id", r.ID, "urgency", r.Urgency)
	return nil
}

func buildMessage(r *triage.HelpRequest) map[string]any {
	return map[string]any{
		// fallback for notifications and clients without block support
		"text": fmt.Sprintf("%s help request: %s", strings.ToUpper(string(r.Urgency)), plain(r.Description, 150)),
		"blocks": []map[string]any{
			headerBlock(r),
			descriptionBlock(r),
			fieldsBlock(r),
			{"type": "divider"},
			contextBlock(r),
		},
	}
}

func headerBlock(r *triage.HelpRequest) map[string]any {
	people := "1 person"
	if r.NumPeople > 1 {
		people = strconv.Itoa(r.NumPeople) + " people"
	}
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s %s: %s need help", urgencyEmoji(r.Urgency), strings.ToUpper(string(r.Urgency)), people),
		},
	}
}

func descriptionBlock(r *triage.HelpRequest) map[string]any {
	text := escape(truncate(r.Description, maxDescriptionLen))
	if notes := strings.TrimSpace(r.Notes); notes != "" {
		text += "\n\n*Notes:* " + escape(truncate(notes, maxDescriptionLen/3))
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

func fieldsBlock(r *triage.HelpRequest) map[string]any {
	types := "_none given_"
	if len(r.RequestTypes) > 0 {
		types = escape(strings.Join(r.RequestTypes, ", "))
	}
	phone := "_not provided_"
	if r.PhoneNumber != "" {
		phone = escape(r.PhoneNumber)
	}
	reporter := "_anonymous_"
	if r.ReporterName != "" {
		reporter = escape(r.ReporterName)
	}

	fields := []map[string]any{
		{"type": "mrkdwn", "text": "*Needs:* " + types},
		{"type": "mrkdwn", "text": "*Source:* " + string(r.Source)},
		{"type": "mrkdwn", "text": "*Phone:* " + phone},
		{"type": "mrkdwn", "text": "*Reporter:* " + reporter},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Location:* <%s|%.5f, %.5f>", mapLink(r.Location), r.Location.Lat, r.Location.Lng)},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func contextBlock(r *triage.HelpRequest) map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("crisisconnect • help %s • %s", r.ID, r.CreatedAt.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}

func urgencyEmoji(u triage.Urgency) string {
	switch u {
	case triage.UrgencyCritical:
		return "\U0001f534" // red circle
	case triage.UrgencyUrgent:
		return "\U0001f7e0" // orange circle
	case triage.UrgencyRequest:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func mapLink(l triage.Location) string {
	return mapsURL + strconv.FormatFloat(l.Lat, 'f', -1, 64) + "%2C" + strconv.FormatFloat(l.Lng, 'f', -1, 64)
}

// escape neutralizes the characters Slack treats as control sequences in
// mrkdwn, so reporter text cannot produce mentions or links.
func escape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}

// plain truncates s and collapses newlines for the one-line fallback text.
func plain(s string, limit int) string {
	return strings.Join(strings.Fields(truncate(s, limit)), " ")
}

// truncate shortens s to at most limit runes.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}
