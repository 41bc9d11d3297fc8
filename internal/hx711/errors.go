package hx711

import "codeberg.org/mutker/loadlogger/internal/errors"

const (
	ErrConfigurePins = errors.ErrorCode("hx711_configure_pins_failed")
	ErrClockWrite    = errors.ErrorCode("hx711_clock_write_failed")
	ErrReadyTimeout  = errors.ErrorCode("hx711_ready_timeout")
	ErrReadCanceled  = errors.ErrorCode("hx711_read_canceled")
	ErrPowerDown     = errors.ErrorCode("hx711_power_down_failed")
)
