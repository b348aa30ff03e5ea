// Package alert delivers operational alerts to a Discord webhook as rich
// embeds. Alerting is strictly best-effort: a missing webhook URL makes the
// notifier a silent no-op, and a failed delivery is logged but never
// propagated, so alerting can never break a collection or processing run.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"bidflow/internal/types"
)

// Discord embed color codes for the two severities (decimal color values).
const (
	colorError    = 0xFFA500 // Amber
	colorCritical = 0xFF0000 // Red
)

const (
	titleError    = "⚠️ Error Alert"
	titleCritical = "🚨 CRITICAL ALERT"
)

// maxResponseBodyRead limits how much of a webhook response body is read
// for error logging.
const maxResponseBodyRead = 4096

// Field is one inline key/value pair rendered inside the alert embed.
type Field struct {
	Name  string
	Value string
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// Notifier sends severity-tagged alerts to a single Discord webhook.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
	clock      types.Clock
}

// NewNotifier creates a Notifier. An empty webhookURL produces a working
// no-op notifier. httpClient and clock default when nil.
func NewNotifier(webhookURL string, httpClient *http.Client, logger *slog.Logger) *Notifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		webhookURL: webhookURL,
		httpClient: httpClient,
		logger:     logger,
		clock:      types.RealClock{},
	}
}

// WithClock overrides the timestamp source. Test helper.
func (n *Notifier) WithClock(clock types.Clock) *Notifier {
	n.clock = clock
	return n
}

// Error sends an amber alert for a recoverable failure.
func (n *Notifier) Error(ctx context.Context, message string, fields ...Field) {
	n.send(ctx, types.SeverityError, message, fields)
}

// Critical sends a red alert for a failure that needs human attention.
func (n *Notifier) Critical(ctx context.Context, message string, fields ...Field) {
	n.send(ctx, types.SeverityCritical, message, fields)
}

func (n *Notifier) send(ctx context.Context, severity types.AlertSeverity, message string, fields []Field) {
	if n.webhookURL == "" {
		return
	}

	title := titleError
	color := colorError
	if severity == types.SeverityCritical {
		title = titleCritical
		color = colorCritical
	}

	embed := discordEmbed{
		Title:       title,
		Description: message,
		Color:       color,
		Timestamp:   n.clock.Now().Format(time.RFC3339),
	}
	for _, f := range fields {
		embed.Fields = append(embed.Fields, discordField{Name: f.Name, Value: f.Value, Inline: true})
	}

	body, err := json.Marshal(discordPayload{Embeds: []discordEmbed{embed}})
	if err != nil {
		n.logger.ErrorContext(ctx, "failed to encode alert payload", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		n.logger.ErrorContext(ctx, "failed to build alert request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.ErrorContext(ctx, "failed to deliver alert", "error", err, "severity", severity)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyRead))
		n.logger.ErrorContext(ctx, "alert webhook returned an error",
			"status", resp.StatusCode,
			"body", string(respBody),
			"severity", severity,
		)
	}
}
