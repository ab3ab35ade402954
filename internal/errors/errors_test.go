package errors_test

import (
	"fmt"
	"io"
	"testing"

	"codeberg.org/mutker/iswctl/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorMessageIncludesDataAndCause(t *testing.T) {
	err := errors.New().WrapWithData(errors.ErrHardwareTimeout, io.ErrUnexpectedEOF, struct {
		Op      string
		Address string
	}{Op: "read", Address: "0x68"})

	assert.Equal(t, errors.ErrHardwareTimeout, err.Code())
	assert.Contains(t, err.Error(), "EC did not respond within retry budget")
	assert.Contains(t, err.Error(), "0x68")
	assert.Contains(t, err.Error(), io.ErrUnexpectedEOF.Error())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestHasCode(t *testing.T) {
	factory := errors.New()
	base := factory.New(errors.ErrProfileParse)
	wrapped := fmt.Errorf("section MS-1: %w", base)
	joined := errors.Join(io.EOF, wrapped)

	assert.True(t, errors.HasCode(base, errors.ErrProfileParse))
	assert.True(t, errors.HasCode(wrapped, errors.ErrProfileParse))
	assert.True(t, errors.HasCode(joined, errors.ErrProfileParse))
	assert.False(t, errors.HasCode(joined, errors.ErrProfileNotFound))
	assert.False(t, errors.HasCode(nil, errors.ErrProfileParse))
}

func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("apply: %w", errors.New().New(errors.ErrPermissionDenied))

	assert.Equal(t, errors.ErrPermissionDenied, errors.CodeOf(err))
	assert.Equal(t, errors.ErrInternal, errors.CodeOf(io.EOF))
}

func TestWithMessageOverridesDefault(t *testing.T) {
	err := errors.New().New(errors.ErrValidation).WithMessage("threshold must be between 20 and 100")

	assert.Equal(t, "threshold must be between 20 and 100", err.Error())
	assert.Equal(t, errors.ErrValidation, err.Code())
}

func TestIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("write 0xef: %w", errors.New().WithData(errors.ErrHardwareTimeout, "attempt 3"))

	assert.ErrorIs(t, err, errors.ErrHardwareTimeout)
	assert.NotErrorIs(t, err, errors.ErrHardwareUnavailable)
	assert.Equal(t, "EC did not respond within retry budget", errors.ErrHardwareTimeout.Error())
}
