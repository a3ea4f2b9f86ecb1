package mailer

import (
	"strings"
	"testing"
	"time"
)

func TestResetLink(t *testing.T) {
	tests := []struct {
		name, base, want string
	}{
		{"trailing slash", "https://pses.example.com/", "https://pses.example.com?resetToken=abc.def"},
		{"keeps query", "https://pses.example.com/app?lang=en", "https://pses.example.com/app?lang=en&resetToken=abc.def"},
		{"empty base", "", "http://localhost:5173?resetToken=abc.def"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResetLink(tt.base, "abc.def")
			if err != nil {
				t.Fatalf("ResetLink: %v", err)
			}
			if got != tt.want {
				t.Errorf("ResetLink = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPasswordResetMessage(t *testing.T) {
	msg := PasswordResetMessage("user@example.com", "https://x/?resetToken=t", 30*time.Minute)
	if msg.To != "user@example.com" || msg.Subject != ResetSubject {
		t.Errorf("message header = %q / %q", msg.To, msg.Subject)
	}
	if !strings.Contains(msg.Text, "https://x/?resetToken=t") || !strings.Contains(msg.Text, "30 minutes") {
		t.Errorf("message body = %q", msg.Text)
	}
}

func TestNewSMTPSender_Incomplete(t *testing.T) {
	if _, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: 587}); err == nil {
		t.Fatal("incomplete config should be rejected")
	}
	if (SMTPConfig{Host: "h", Port: 465, Username: "u", Password: "p", From: "f@example.com"}).Complete() != true {
		t.Error("complete config reported incomplete")
	}
}

func TestNewSMTPSender_Complete(t *testing.T) {
	s, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: 465, Username: "u", Password: "p", From: "noreply@example.com"})
	if err != nil {
		t.Fatalf("NewSMTPSender: %v", err)
	}
	if s.from != "noreply@example.com" {
		t.Errorf("from = %q", s.from)
	}
}
