package hx711

import (
	"time"

	"codeberg.org/mutker/loadlogger/internal/logger"
	"github.com/benbjohnson/clock"
)

const (
	DefaultGain         = 128
	DefaultReadyTimeout = time.Second
	DefaultTimes        = 10
)

// Option configures a Device.
type Option func(*Device)

// WithGain selects the channel A gain (128 or 64) or channel B (32).
func WithGain(gain int) Option {
	return func(d *Device) { d.setGain(gain) }
}

// WithPollInterval sets the sleep between readiness checks. Zero yields the
// processor instead of sleeping.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Device) { d.pollInterval = interval }
}

// WithReadyTimeout bounds WaitReady. Zero waits until the context ends.
func WithReadyTimeout(timeout time.Duration) Option {
	return func(d *Device) { d.readyTimeout = timeout }
}

func WithLogger(l logger.Logger) Option {
	return func(d *Device) { d.logger = l }
}

func WithClock(c clock.Clock) Option {
	return func(d *Device) { d.clock = c }
}
