package blockdev

import "codeberg.org/mutker/loadlogger/internal/errors"

const (
	ErrOpen        = errors.ErrorCode("blockdev_open_failed")
	ErrClose       = errors.ErrorCode("blockdev_close_failed")
	ErrNotOpen     = errors.ErrorCode("blockdev_not_open")
	ErrOutOfRange  = errors.ErrorCode("blockdev_out_of_range")
	ErrProgram     = errors.ErrorCode("blockdev_program_failed")
	ErrRead        = errors.ErrorCode("blockdev_read_failed")
	ErrInvalidSize = errors.ErrorCode("blockdev_invalid_size")
)
