package flash

import "codeberg.org/mutker/loadlogger/internal/errors"

const (
	ErrInitFailed    = errors.ErrorCode("flash_init_failed")
	ErrDeinitFailed  = errors.ErrorCode("flash_deinit_failed")
	ErrProgramFailed = errors.ErrorCode("flash_program_failed")
	ErrBatchPartial  = errors.ErrorCode("flash_batch_partial")
	ErrDeviceFull    = errors.ErrorCode("flash_device_full")
	ErrReadFailed    = errors.ErrorCode("flash_read_failed")
	ErrTrailingBytes = errors.ErrorCode("flash_trailing_bytes")
)
