// Package email delivers one-time sign-in codes to admins.
package email

import (
	"context"
	"strings"
	"unicode"
)

//go:generate mockgen -source=email.go -destination=mocks/mocks.go -package=mocks Sender

// Message is one outgoing email.
type Message struct {
	To      string
	Name    string
	Subject string
	Body    string
}

// SendResult is the endpoint's immediate answer. There are no delivery receipts.
type SendResult struct {
	Accepted bool
	Detail   string
}

// Sender delivers messages over a transactional email endpoint.
type Sender interface {
	Send(ctx context.Context, msg Message) (*SendResult, error)
}

// IsValidEmail performs lightweight validation of an email address format.
func IsValidEmail(email string) bool {
	if email == "" || strings.ContainsAny(email, " \t\r\n") {
		return false
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return false
	}
	return strings.Contains(domain, ".")
}

// DeriveName turns the local part of an email into a greeting name,
// e.g. "ada.lovelace@club.org" becomes "Ada Lovelace".
func DeriveName(email string) string {
	localPart := email
	if at := strings.IndexByte(email, '@'); at >= 0 {
		localPart = email[:at]
	}

	parts := strings.FieldsFunc(localPart, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	if len(parts) == 0 {
		return "Admin"
	}
	for i, p := range parts {
		parts[i] = capitalize(p)
	}
	return strings.Join(parts, " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
