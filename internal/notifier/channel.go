package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"text/template"
	"time"

	"github.com/maintrack/maintrack/internal/apiserver/database"
	"github.com/maintrack/maintrack/internal/common/config"
	"github.com/maintrack/maintrack/internal/queue"

	"github.com/Masterminds/sprig/v3"
)

// ChannelSender delivers one notification over one external channel.
// Implementations classify permanent failures with queue.Terminal;
// anything else is treated as transient and retried.
type ChannelSender interface {
	Name() string
	Send(ctx context.Context, recipient *database.User, n *database.Notification) error
}

const emailBodyTemplate = `Hello {{ .Recipient.Username | title }},

{{ .Notification.Title }}

{{ .Notification.Message }}
{{- if .Notification.ReferenceType }}

Reference: {{ .Notification.ReferenceType }} #{{ .Notification.ReferenceID }}
{{- end }}

Priority: {{ printf "%s" .Notification.Priority | upper }}
Sent: {{ .Notification.CreatedAt.Format "2006-01-02 15:04" }}
`

// EmailSender delivers notifications over SMTP.
type EmailSender struct {
	cfg  config.EmailConfig
	body *template.Template
}

// NewEmailSender parses the body template up front so a broken
// template fails at startup, not per delivery.
func NewEmailSender(cfg config.EmailConfig) (*EmailSender, error) {
	body, err := template.New("email_body").Funcs(sprig.TxtFuncMap()).Parse(emailBodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse email body template: %w", err)
	}
	return &EmailSender{cfg: cfg, body: body}, nil
}

func (s *EmailSender) Name() string { return "email" }

func (s *EmailSender) Send(_ context.Context, recipient *database.User, n *database.Notification) error {
	if recipient.Email == "" {
		return queue.Terminal(fmt.Errorf("user %d has no email address", recipient.ID))
	}

	var body bytes.Buffer
	err := s.body.Execute(&body, map[string]any{
		"Recipient":    recipient,
		"Notification": n,
	})
	if err != nil {
		return queue.Terminal(fmt.Errorf("failed to render email body: %w", err))
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		s.cfg.From, recipient.Email, n.Title, body.String())

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, s.cfg.From, []string{recipient.Email}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", recipient.Email, err)
	}
	return nil
}

// PushSender delivers notifications to a mobile push gateway over
// HTTP.
type PushSender struct {
	cfg    config.PushConfig
	client *http.Client
}

func NewPushSender(cfg config.PushConfig) *PushSender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PushSender{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *PushSender) Name() string { return "push" }

func (s *PushSender) Send(ctx context.Context, recipient *database.User, n *database.Notification) error {
	if recipient.DeviceToken == "" {
		return queue.Terminal(fmt.Errorf("user %d has no device token", recipient.ID))
	}

	payload, err := json.Marshal(map[string]any{
		"deviceToken":   recipient.DeviceToken,
		"title":         n.Title,
		"message":       n.Message,
		"priority":      n.Priority,
		"referenceType": n.ReferenceType,
		"referenceId":   n.ReferenceID,
	})
	if err != nil {
		return queue.Terminal(fmt.Errorf("failed to encode push payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return queue.Terminal(fmt.Errorf("failed to build push request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("push gateway request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("push gateway returned %d", resp.StatusCode)
	default:
		// the gateway rejected the payload itself
		return queue.Terminal(fmt.Errorf("push gateway rejected request with %d", resp.StatusCode))
	}
}
