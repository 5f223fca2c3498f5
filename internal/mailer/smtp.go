package mailer

import (
	"fmt"

	"gopkg.in/gomail.v2"
)

// SMTPSender delivers one-time code messages over SMTP.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPSender builds a sender from SMTP credentials.
func NewSMTPSender(host string, port int, username, password, from string) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

// Send delivers a single verification-code email.
func (s *SMTPSender) Send(msg Message) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.ToEmail)
	m.SetHeader("Subject", "Your verification code")

	body := fmt.Sprintf(`
		<h3>Verification code</h3>
		<p>Your one-time code is: <strong>%s</strong></p>
		<p>It expires in %d minutes. If you did not request this code, you can ignore this email.</p>
	`, msg.OTPCode, msg.ExpiresInMinutes)

	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send verification code email: %w", err)
	}

	return nil
}
