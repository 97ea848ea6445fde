package mailer

import (
	"fmt"
	"html"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPMailer(host string, port int, username, password, from string) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

func (m *SMTPMailer) SendVerification(toEmail, name, link string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", toEmail)
	msg.SetHeader("Subject", "Verify your MedScan email address")
	msg.SetBody("text/plain", VerificationText(name, link))
	msg.AddAlternative("text/html", verificationHTML(name, link))

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send verification mail failed: %w", err)
	}
	return nil
}

// SendContact forwards a contact form message to the support inbox. Replies
// go to the visitor.
func (m *SMTPMailer) SendContact(inbox, name, email, message string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", inbox)
	msg.SetAddressHeader("Reply-To", email, name)
	msg.SetHeader("Subject", ContactSubject(name))
	msg.SetBody("text/plain", ContactText(name, email, message))

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send contact mail failed: %w", err)
	}
	return nil
}

func ContactSubject(name string) string {
	return "MedScan contact message from " + name
}

func ContactText(name, email, message string) string {
	return fmt.Sprintf("Name: %s\nEmail: %s\n\n%s\n", name, email, message)
}

// VerificationText is the plain-text body of the verification mail.
func VerificationText(name, link string) string {
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("Hi %s,\n\nConfirm your email address by opening this link:\n%s\n\nIf you did not create a MedScan account, ignore this message.\n", name, link)
}

func verificationHTML(name, link string) string {
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf(`<div style="font-family: Arial, sans-serif; padding: 20px; color: #333;">
	<p>Hi %s,</p>
	<p>Confirm your email address to finish setting up MedScan.</p>
	<a href="%s" style="background-color: #007BFF; color: white; padding: 10px 20px; text-decoration: none; border-radius: 5px; display: inline-block;">Verify email</a>
	<p>If you did not create a MedScan account, ignore this message.</p>
</div>`, html.EscapeString(name), html.EscapeString(link))
}

// LogMailer writes outgoing mail to the log instead of sending it.
// It is used when no SMTP host is configured.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendVerification(toEmail, _ string, link string) error {
	m.logger.Info("verification mail not sent, smtp disabled",
		zap.String("to", toEmail),
		zap.String("link", link),
	)
	return nil
}

func (m *LogMailer) SendContact(inbox, name, email, message string) error {
	m.logger.Info("contact mail not sent, smtp disabled",
		zap.String("to", inbox),
		zap.String("reply_to", email),
		zap.String("name", name),
		zap.Int("message_len", len(message)),
	)
	return nil
}
