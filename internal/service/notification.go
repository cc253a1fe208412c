package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/noah-isme/academy-portal-api/pkg/mailer"
)

// NotificationKind selects the notice template.
type NotificationKind string

const (
	NoticeSelectionTest  NotificationKind = "selection_test"
	NoticePendingHealing NotificationKind = "pending_healing"
	NoticeFederation     NotificationKind = "federation_handoff"
	NoticeCancellation   NotificationKind = "appointment_cancelled"
	NoticeBooked         NotificationKind = "appointment_booked"
)

// NotificationDispatcher delivers a notice of kind to recipient.
type NotificationDispatcher interface {
	Send(ctx context.Context, kind NotificationKind, recipient string, data map[string]string) error
}

type noticeTemplate struct {
	subject *template.Template
	body    *template.Template
}

var noticeTemplates = map[NotificationKind]noticeTemplate{
	NoticeSelectionTest: mustNotice(
		"Selection test request: {{.person}}",
		"A selection test request from {{.person}} was accepted.\n\n{{.form}}\n"),
	NoticePendingHealing: mustNotice(
		"Your accident report is pending a healing certificate",
		"Hello {{.person}},\n\nYour accident report was reviewed. Please send the healing certificate so it can be forwarded to the federation.\n"),
	NoticeFederation: mustNotice(
		"Accident report: {{.person}}",
		"Please find the accident report for {{.person}}.\n{{if .document}}Healing certificate: {{.document}}\n{{end}}{{if eq .accident_only \"true\"}}Accident-only dossier.\n{{end}}\n{{.form}}\n"),
	NoticeCancellation: mustNotice(
		"Appointment on {{.date}} at {{.time}} cancelled",
		"Hello {{.person}},\n\nYour appointment on {{.date}} at {{.time}} has been cancelled.\n"),
	NoticeBooked: mustNotice(
		"Appointment on {{.date}} at {{.time}}",
		"Hello {{.person}},\n\nAn appointment was booked for you on {{.date}} at {{.time}}.\n"),
}

func mustNotice(subject, body string) noticeTemplate {
	return noticeTemplate{
		subject: template.Must(template.New("subject").Option("missingkey=zero").Parse(subject)),
		body:    template.Must(template.New("body").Option("missingkey=zero").Parse(body)),
	}
}

// MailNotifier renders notices and hands them to a mailer.Sender.
type MailNotifier struct {
	sender mailer.Sender
}

// NewMailNotifier constructs the notifier.
func NewMailNotifier(sender mailer.Sender) *MailNotifier {
	return &MailNotifier{sender: sender}
}

// Render builds the subject and body for kind.
func (n *MailNotifier) Render(kind NotificationKind, data map[string]string) (string, string, error) {
	tpl, ok := noticeTemplates[kind]
	if !ok {
		return "", "", fmt.Errorf("unknown notification kind %q", kind)
	}
	var subject, body bytes.Buffer
	if err := tpl.subject.Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", kind, err)
	}
	if err := tpl.body.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", kind, err)
	}
	return strings.TrimSpace(subject.String()), body.String(), nil
}

// Send renders and delivers the notice.
func (n *MailNotifier) Send(ctx context.Context, kind NotificationKind, recipient string, data map[string]string) error {
	subject, body, err := n.Render(kind, data)
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, mailer.Message{To: []string{recipient}, Subject: subject, Body: body})
}
