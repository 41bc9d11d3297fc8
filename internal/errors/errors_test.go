package errors_test

import (
	"fmt"
	"io"
	"testing"

	"codeberg.org/mutker/loadlogger/internal/errors"
	"github.com/stretchr/testify/assert"
	"go.uber.org/multierr"
)

func TestErrorMessage(t *testing.T) {
	f := errors.New()

	assert.Equal(t, "Operation timed out", f.New(errors.ErrTimeout).Error())
	assert.Equal(t, "Operation timed out: EOF", f.Wrap(errors.ErrTimeout, io.EOF).Error())
	assert.Equal(t, "custom", f.WithMessage(errors.ErrTimeout, "custom").Error())
	assert.Equal(t, "Invalid argument provided: 42", f.WithData(errors.ErrInvalidArgument, 42).Error())
	assert.Equal(t, "unknown_code", f.New(errors.ErrorCode("unknown_code")).Error())
}

func TestWrapKeepsCause(t *testing.T) {
	err := errors.New().Wrap(errors.ErrOperationFailed, io.ErrUnexpectedEOF)

	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, errors.ErrOperationFailed, errors.CodeOf(err))
}

func TestIsMatchesCode(t *testing.T) {
	f := errors.New()
	sentinel := f.New(errors.ErrTimeout)
	err := fmt.Errorf("reading: %w", f.Wrap(errors.ErrTimeout, io.EOF))

	assert.True(t, errors.Is(err, sentinel))
	assert.False(t, errors.Is(err, f.New(errors.ErrInternal)))
}

func TestHasCode(t *testing.T) {
	f := errors.New()
	agg := multierr.Combine(
		f.Wrap(errors.ErrOperationFailed, io.EOF),
		fmt.Errorf("nested: %w", f.New(errors.ErrTimeout)),
	)

	assert.True(t, errors.HasCode(agg, errors.ErrTimeout))
	assert.True(t, errors.HasCode(agg, errors.ErrOperationFailed))
	assert.False(t, errors.HasCode(agg, errors.ErrInternal))
	assert.False(t, errors.HasCode(nil, errors.ErrInternal))
	assert.Equal(t, errors.ErrorCode(""), errors.CodeOf(io.EOF))
}
