package notification

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"text/template"
	"time"

	"github.com/smukkama/airquality-pipeline/internal/models"
	"github.com/smukkama/airquality-pipeline/pkg/config"
)

var digestTemplate = template.Must(template.New("digest").Parse(`The following air quality alerts have been detected:
{{range .}}
ALERT: {{.Message}}
Severity: {{.Severity}}
Time: {{.TriggeredAt.UTC.Format "2006-01-02 15:04:05 MST"}}
Health Recommendation: {{.Recommendation}}
{{end}}
This is an automated message from the Air Quality Monitoring System.
`))

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailSink sends one digest e-mail per batch of alerts
type EmailSink struct {
	config *config.SMTPConfig
	send   sendFunc
	logger *slog.Logger
}

// NewEmailSink creates a new e-mail sink
func NewEmailSink(cfg *config.SMTPConfig, logger *slog.Logger) *EmailSink {
	return &EmailSink{
		config: cfg,
		send:   smtp.SendMail,
		logger: logger.With("component", "email"),
	}
}

// Configured reports whether SMTP credentials and recipients are set
func (e *EmailSink) Configured() bool {
	return e.config.Host != "" && e.config.Username != "" && e.config.Password != "" && len(e.recipients()) > 0
}

func (e *EmailSink) recipients() []string {
	var out []string
	for _, r := range strings.Split(e.config.To, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// Subject returns the digest subject line
func Subject(alerts []*models.AlertEvent) string {
	return fmt.Sprintf("Air Quality Alert: %d alerts detected", len(alerts))
}

// RenderDigest renders the digest body
func RenderDigest(alerts []*models.AlertEvent) (string, error) {
	var buf bytes.Buffer
	if err := digestTemplate.Execute(&buf, alerts); err != nil {
		return "", fmt.Errorf("failed to render email template: %w", err)
	}
	return buf.String(), nil
}

// Publish sends the digest. Without SMTP settings the digest is logged and dropped.
func (e *EmailSink) Publish(ctx context.Context, alerts []*models.AlertEvent) error {
	if len(alerts) == 0 {
		return nil
	}

	subject := Subject(alerts)
	body, err := RenderDigest(alerts)
	if err != nil {
		return err
	}

	if !e.Configured() {
		e.logger.Info("SMTP not configured, skipping email", "subject", subject)
		return nil
	}

	to := e.recipients()
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", e.config.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	// net/smtp cannot be cancelled mid-send, so a done context stops it here
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("email not sent: %w", err)
	}

	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	if err := e.send(addr, auth, e.config.From, to, []byte(msg.String())); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	e.logger.Info("Email sent", "subject", subject, "recipients", len(to))
	return nil
}
