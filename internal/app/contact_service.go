package app

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
)

var ErrContactUnavailable = errors.New("contact message could not be delivered")

const maxContactMessageLength = 5000

type ContactMailer interface {
	SendContact(inbox, name, email, message string) error
}

type Mailer interface {
	VerificationMailer
	ContactMailer
}

type ContactInput struct {
	Name    string
	Email   string
	Message string
}

// ContactService forwards contact form messages to the support inbox.
// Delivery is attempted once; the visitor resubmits on failure.
type ContactService struct {
	mailer ContactMailer
	inbox  string
	logger *zap.Logger
}

func NewContactService(mailer ContactMailer, inbox string, logger *zap.Logger) *ContactService {
	return &ContactService{mailer: mailer, inbox: inbox, logger: logger}
}

func (s *ContactService) Send(input ContactInput) error {
	name := strings.TrimSpace(input.Name)
	email := normalizeEmail(input.Email)
	message := strings.TrimSpace(input.Message)

	switch {
	case name == "", utf8.RuneCountInString(name) > maxNameLength, hasControl(name):
		return fmt.Errorf("%w: name", ErrInvalidInput)
	case !validEmail(email):
		return fmt.Errorf("%w: email", ErrInvalidInput)
	case message == "", utf8.RuneCountInString(message) > maxContactMessageLength:
		return fmt.Errorf("%w: message", ErrInvalidInput)
	}

	if err := s.mailer.SendContact(s.inbox, name, email, message); err != nil {
		s.logger.Error("send contact message failed", zap.String("reply_to", email), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrContactUnavailable, err)
	}
	s.logger.Info("contact message sent", zap.String("reply_to", email))
	return nil
}

// name ends up in mail headers
func hasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}
