package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	dErrors "clubadmin/pkg/domain-errors"
)

// LimitsSuite covers the boundary: max must pass, max+1 must fail.
type LimitsSuite struct {
	suite.Suite
}

func TestLimitsSuite(t *testing.T) {
	suite.Run(t, new(LimitsSuite))
}

func (s *LimitsSuite) TestCheckStringLength() {
	s.Run("Given a value of exactly max bytes When checking Then it passes", func() {
		s.NoError(CheckStringLength("token", strings.Repeat("a", MaxTokenLength), MaxTokenLength))
	})

	s.Run("Given a value one byte over max When checking Then it fails with validation_failed", func() {
		err := CheckStringLength("token", strings.Repeat("a", MaxTokenLength+1), MaxTokenLength)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Contains(err.Error(), "token exceeds max length of 256")
	})

	s.Run("Given an empty value When checking length Then it passes", func() {
		s.NoError(CheckStringLength("code", "", MaxAuthCodeLength))
	})
}

func (s *LimitsSuite) TestCheckRequired() {
	s.Run("Given an empty value When required Then it fails", func() {
		err := CheckRequired("token", "", MaxTokenLength)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Contains(err.Error(), "token is required")
	})

	s.Run("Given a present value within bounds When required Then it passes", func() {
		s.NoError(CheckRequired("token", "123456", MaxTokenLength))
	})

	s.Run("Given an oversized value When required Then the length check still applies", func() {
		s.Error(CheckRequired("state", strings.Repeat("s", MaxStateLength+1), MaxStateLength))
	})
}
