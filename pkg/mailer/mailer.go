package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// Mailer delivers transactional email.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// SMTP sends mail through a STARTTLS SMTP relay.
type SMTP struct {
	Host     string
	Port     int
	Email    string
	Password string
}

// NewSMTP constructs an SMTP mailer.
func NewSMTP(host string, port int, email, password string) SMTP {
	return SMTP{Host: host, Port: port, Email: email, Password: password}
}

// Send delivers a single HTML message.
func (m SMTP) Send(ctx context.Context, to, subject, htmlBody string) error {
	if m.Host == "" {
		return fmt.Errorf("smtp relay not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", m.Email)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)

	addr := fmt.Sprintf("%s:%d", m.Host, m.Port)
	auth := smtp.PlainAuth("", m.Email, m.Password, m.Host)
	if err := smtp.SendMail(addr, auth, m.Email, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// OTPBody renders the password reset email.
func OTPBody(otp string, ttlMinutes int) string {
	return fmt.Sprintf(`<html>
  <body style="font-family: Arial, sans-serif; background-color: #f6f6f6; padding: 20px;">
    <div style="max-width: 500px; margin: auto; background: #ffffff; padding: 30px; border-radius: 10px;">
      <h2 style="color: #333333; text-align: center;">Password Reset Request</h2>
      <p>Hi there,</p>
      <p>We received a request to reset your password. Use the OTP below to proceed:</p>
      <p style="text-align: center; font-size: 24px; font-weight: bold; color: #1a73e8; margin: 20px 0;">%s</p>
      <p>This OTP is valid for <b>%d minutes</b>. Please do not share it with anyone.</p>
      <hr style="border: none; border-top: 1px solid #eeeeee; margin: 20px 0;">
      <p style="font-size: 12px; color: #888888;">If you did not request a password reset, please ignore this email.</p>
    </div>
  </body>
</html>`, otp, ttlMinutes)
}
