// Package notify defines the fire-and-forget side channels the deletion
// subsystem uses for human visibility. Failures here are logged and dropped;
// they never block or abort a deletion.
package notify

import "context"

// Severity levels for operator alerts.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Mailer sends templated email. The SMTP transport and templating engine live
// outside this repository; the orchestrator only depends on this contract.
type Mailer interface {
	SendEmail(ctx context.Context, to []string, subject, html string) error
}

// Alerter pushes a structured alert to the chat-ops/paging sink.
type Alerter interface {
	SendAlert(ctx context.Context, channel, severity, title, message string, fields map[string]string) error
}

// NopMailer drops mail; used in tests and in deployments without a mail relay.
type NopMailer struct{}

func (NopMailer) SendEmail(context.Context, []string, string, string) error { return nil }

// NopAlerter drops alerts.
type NopAlerter struct{}

func (NopAlerter) SendAlert(context.Context, string, string, string, string, map[string]string) error {
	return nil
}
