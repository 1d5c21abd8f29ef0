// Package notify renders and delivers templated user notifications.
package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/sailfish-mobile/storefront/pkg/logger"
)

// TemplatePurchaseConfirmation is sent after a purchase completes.
const TemplatePurchaseConfirmation = "purchase_confirmation"

//go:embed templates/*.txt
var templateFS embed.FS

var subjects = map[string]string{
	TemplatePurchaseConfirmation: "Your Sailfish Mobile purchase confirmation",
}

// Notifier sends a templated message to one address.
type Notifier interface {
	Notify(ctx context.Context, template string, data map[string]any, address string) error
}

// Message is a rendered mail.
type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// Transport delivers rendered messages.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// Mailer renders embedded templates and hands them to a Transport.
type Mailer struct {
	from      string
	transport Transport
	templates *template.Template
	log       *logger.Logger
}

var _ Notifier = (*Mailer)(nil)

// NewMailer parses the embedded templates.
func NewMailer(from string, transport Transport, log *logger.Logger) (*Mailer, error) {
	if log == nil {
		log = logger.NewDefault("notify")
	}
	if transport == nil {
		transport = NewLogTransport(log)
	}
	tmpl, err := template.New("mail").Option("missingkey=error").ParseFS(templateFS, "templates/*.txt")
	if err != nil {
		return nil, fmt.Errorf("parse mail templates: %w", err)
	}
	return &Mailer{from: from, transport: transport, templates: tmpl, log: log}, nil
}

// Render returns the message for name without sending it.
func (m *Mailer) Render(name string, data map[string]any, address string) (Message, error) {
	subject, ok := subjects[name]
	if !ok {
		return Message{}, fmt.Errorf("unknown mail template %q", name)
	}
	var buf bytes.Buffer
	if err := m.templates.ExecuteTemplate(&buf, name+".txt", data); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", name, err)
	}
	return Message{From: m.from, To: address, Subject: subject, Text: buf.String()}, nil
}

// Notify renders template with data and sends it to address.
func (m *Mailer) Notify(ctx context.Context, name string, data map[string]any, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("no address for %s notification", name)
	}
	msg, err := m.Render(name, data, address)
	if err != nil {
		return err
	}
	if err := m.transport.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %s to %s: %w", name, address, err)
	}
	m.log.Infof("sent %s notification to %s", name, address)
	return nil
}
