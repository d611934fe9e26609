// Package validation holds the size limits applied at the HTTP boundary.
package validation

import (
	"fmt"

	dErrors "clubadmin/pkg/domain-errors"
)

// MaxBodySize bounds request bodies; every admin request is a small JSON object.
const MaxBodySize = 16 << 10

const (
	MaxEmailLength = 255
	// MaxTokenLength covers the six-digit code and legacy static tokens.
	MaxTokenLength = 256
	// MaxAuthCodeLength bounds provider authorization codes.
	MaxAuthCodeLength = 2048
	MaxStateLength    = 500
)

// CheckStringLength rejects value when it is longer than max bytes.
func CheckStringLength(fieldName, value string, max int) error {
	if len(value) > max {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s exceeds max length of %d", fieldName, max))
	}
	return nil
}

// CheckRequired rejects an empty value, then applies CheckStringLength.
func CheckRequired(fieldName, value string, max int) error {
	if value == "" {
		return dErrors.New(dErrors.CodeValidation, fieldName+" is required")
	}
	return CheckStringLength(fieldName, value, max)
}
