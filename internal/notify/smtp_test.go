package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSplitRecipients(t *testing.T) {
	got := splitRecipients(" ops@example.com, ,oncall@example.com ")
	if len(got) != 2 || got[0] != "ops@example.com" || got[1] != "oncall@example.com" {
		t.Errorf("unexpected recipients %v", got)
	}
	if got := splitRecipients(""); len(got) != 0 {
		t.Errorf("expected none, got %v", got)
	}
}

func TestBuildMessage(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := string(buildMessage(
		"noreply@example.com",
		[]string{"ops@example.com", "oncall@example.com"},
		"DNS create failed\r\nBcc: attacker@example.net",
		"line one\nline two",
		at,
	))

	head, body, ok := strings.Cut(msg, "\r\n\r\n")
	if !ok {
		t.Fatalf("no header/body separator in %q", msg)
	}
	for _, want := range []string{
		"From: noreply@example.com",
		"To: ops@example.com, oncall@example.com",
		"Subject: DNS create failed Bcc: attacker@example.net",
		"Date: Fri, 02 Jan 2026 03:04:05 +0000",
	} {
		if !strings.Contains(head, want) {
			t.Errorf("headers missing %q:\n%s", want, head)
		}
	}
	if strings.Contains(head, "\r\nBcc:") {
		t.Error("subject injected a header")
	}
	if body != "line one\r\nline two" {
		t.Errorf("body: got %q", body)
	}
}

func TestSMTPSender_NoRecipients(t *testing.T) {
	s := NewSMTPSender("localhost", 25, "", "", "noreply@example.com")
	if err := s.Send(context.Background(), " , ", "subject", "body"); !errors.Is(err, ErrNoRecipients) {
		t.Errorf("expected ErrNoRecipients, got %v", err)
	}
}
