package board

import "codeberg.org/mutker/loadlogger/internal/errors"

const (
	ErrHostInit     = errors.ErrorCode("board_host_init_failed")
	ErrPinNotFound  = errors.ErrorCode("board_pin_not_found")
	ErrADCNotFound  = errors.ErrorCode("board_adc_not_found")
	ErrADCRead      = errors.ErrorCode("board_adc_read_failed")
	ErrADCMalformed = errors.ErrorCode("board_adc_malformed_value")
)
