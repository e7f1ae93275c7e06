package mailer

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestNewSMTPSender_Defaults(t *testing.T) {
	s, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Username: "bot@example.com"})
	if err != nil {
		t.Fatalf("NewSMTPSender() error = %v", err)
	}
	if s.config.Port != 587 {
		t.Errorf("Port = %d, want 587", s.config.Port)
	}
	if s.config.From != "bot@example.com" {
		t.Errorf("From = %q, want username fallback", s.config.From)
	}
	if s.config.Timeout == 0 {
		t.Error("Timeout should have a default")
	}
}

func TestNewSMTPSender_RequiresHostAndSender(t *testing.T) {
	if _, err := NewSMTPSender(SMTPConfig{}); err == nil {
		t.Error("expected error without host")
	}
	if _, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com"}); err == nil {
		t.Error("expected error without sender address")
	}
}

func TestBuildMessage(t *testing.T) {
	msg, err := buildMessage("bot@example.com", "user@example.com", "確認コード", "123456")
	if err != nil {
		t.Fatalf("buildMessage() error = %v", err)
	}
	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}
	raw := buf.String()
	if !strings.Contains(raw, "user@example.com") {
		t.Error("message should contain recipient")
	}
	if !strings.Contains(raw, "123456") {
		t.Error("message should contain body")
	}
}

func TestBuildMessage_InvalidAddress(t *testing.T) {
	if _, err := buildMessage("bot@example.com", "not an address", "s", "b"); err == nil {
		t.Error("expected error for invalid recipient")
	}
	if _, err := buildMessage("", "user@example.com", "s", "b"); err == nil {
		t.Error("expected error for empty sender")
	}
}

func TestSMTPSender_Send_InvalidRecipientFailsBeforeDial(t *testing.T) {
	s, _ := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: 1, From: "bot@example.com"})
	if err := s.Send(context.Background(), "bad address", "s", "b"); err == nil {
		t.Error("expected error for invalid recipient")
	}
}

func TestLogSender_NeverFails(t *testing.T) {
	if err := (LogSender{}).Send(context.Background(), "user@example.com", "s", "b"); err != nil {
		t.Errorf("LogSender.Send() error = %v", err)
	}
}
