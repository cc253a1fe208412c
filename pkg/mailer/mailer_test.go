package mailer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewSMTPSenderRequiresHostAndFrom(t *testing.T) {
	_, err := NewSMTPSender(Config{From: "portal@academy.test"})
	require.Error(t, err)
	_, err = NewSMTPSender(Config{Host: "smtp.academy.test"})
	require.Error(t, err)
}

func TestBuildMessage(t *testing.T) {
	sender, err := NewSMTPSender(Config{Host: "smtp.academy.test", Port: 2525, From: "portal@academy.test", FromName: "Academy Portal"})
	require.NoError(t, err)

	msg, err := sender.Build(Message{To: []string{"jane@example.com"}, Subject: "Appointment cancelled", Body: "See you soon"})
	require.NoError(t, err)
	require.Equal(t, []string{"Appointment cancelled"}, msg.GetGenHeader(mail.HeaderSubject))

	_, err = sender.Build(Message{To: []string{"not an address"}, Subject: "x"})
	require.Error(t, err)
	_, err = sender.Build(Message{Subject: "x"})
	require.Error(t, err)
}

func TestLogSender(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sender := NewLogSender(zap.New(core))

	require.NoError(t, sender.Send(context.Background(), Message{To: []string{"fed@example.org"}, Subject: "Accident report"}))
	require.Equal(t, 1, logs.Len())
	require.Error(t, sender.Send(context.Background(), Message{Subject: "nobody"}))
}
