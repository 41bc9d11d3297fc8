// Package hx711 drives the HX711 24-bit load cell amplifier over its
// two-wire serial interface.
package hx711

import (
	"context"
	"runtime"
	"sync"
	"time"

	"codeberg.org/mutker/loadlogger/internal/errors"
	"codeberg.org/mutker/loadlogger/internal/logger"
	"github.com/benbjohnson/clock"
	"github.com/chewxy/math32"
	"periph.io/x/conn/v3/gpio"
)

const (
	dataBits = 24
	// halfPeriod is the clock high and low time of one serial pulse.
	halfPeriod = time.Microsecond
)

// Device is one HX711 bound to a data (DOUT) and clock (PD_SCK) line.
type Device struct {
	data gpio.PinIn
	sck  gpio.PinOut

	// bus serializes conversions on the serial interface.
	bus sync.Mutex

	mu         sync.RWMutex
	gain       int
	gainPulses int
	offset     int32
	scale      float32

	pollInterval time.Duration
	readyTimeout time.Duration
	clock        clock.Clock
	logger       logger.Logger
}

// New configures the data line as input, drives the clock low and applies
// the options. The gain defaults to 128.
func New(data gpio.PinIn, sck gpio.PinOut, opts ...Option) (*Device, error) {
	errFactory := errors.New()

	d := &Device{
		data:         data,
		sck:          sck,
		scale:        1,
		readyTimeout: DefaultReadyTimeout,
		clock:        clock.New(),
		logger:       logger.Nop(),
	}
	d.setGain(DefaultGain)

	for _, opt := range opts {
		opt(d)
	}

	if err := data.In(gpio.Float, gpio.NoEdge); err != nil {
		return nil, errFactory.Wrap(ErrConfigurePins, err)
	}
	if err := sck.Out(gpio.Low); err != nil {
		return nil, errFactory.Wrap(ErrConfigurePins, err)
	}

	d.logger.Debug().
		Str("data", data.String()).
		Str("clock", sck.String()).
		Int("gain", d.Gain()).
		Msg("HX711 initialized")

	return d, nil
}

// IsReady reports whether a conversion is waiting to be read out.
func (d *Device) IsReady() bool {
	return d.data.Read() == gpio.Low
}

// WaitReady blocks until the chip is ready, the ready timeout elapses or ctx
// ends.
func (d *Device) WaitReady(ctx context.Context) error {
	errFactory := errors.New()

	var deadline time.Time
	if d.readyTimeout > 0 {
		deadline = d.clock.Now().Add(d.readyTimeout)
	}

	for {
		if d.IsReady() {
			return nil
		}

		if err := ctx.Err(); err != nil {
			return errFactory.Wrap(ErrReadCanceled, err)
		}

		if !deadline.IsZero() && !d.clock.Now().Before(deadline) {
			return errFactory.WithData(ErrReadyTimeout, d.readyTimeout.String())
		}

		if d.pollInterval <= 0 {
			runtime.Gosched()
			continue
		}

		select {
		case <-ctx.Done():
			return errFactory.Wrap(ErrReadCanceled, ctx.Err())
		case <-d.clock.After(d.pollInterval):
		}
	}
}

// SetGain selects 128, 64 or 32. Other values leave the gain unchanged. The
// new gain applies from the conversion after the next read.
func (d *Device) SetGain(gain int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setGain(gain)
}

func (d *Device) setGain(gain int) {
	switch gain {
	case 128:
		d.gainPulses = 1
	case 64:
		d.gainPulses = 3
	case 32:
		d.gainPulses = 2
	default:
		return
	}
	d.gain = gain
}

func (d *Device) Gain() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.gain
}

// GainPulses returns the number of clock pulses sent after the data bits.
func (d *Device) GainPulses() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.gainPulses
}

// SignExtend24 interprets the low 24 bits of v as a two's complement value.
func SignExtend24(v uint32) int32 {
	return int32(v<<8) >> 8
}

// delay busy-waits d. Sleeping would overshoot the protocol timing by
// orders of magnitude.
func delay(d time.Duration) {
	start := time.Now()
	for time.Since(start) < d {
	}
}

func (d *Device) pulse() (gpio.Level, error) {
	if err := d.sck.Out(gpio.High); err != nil {
		return gpio.Low, err
	}
	delay(halfPeriod)
	bit := d.data.Read()
	if err := d.sck.Out(gpio.Low); err != nil {
		return gpio.Low, err
	}
	delay(halfPeriod)
	return bit, nil
}

// ReadRaw waits for a conversion and shifts it out, MSB first.
func (d *Device) ReadRaw(ctx context.Context) (int32, error) {
	errFactory := errors.New()

	d.bus.Lock()
	defer d.bus.Unlock()

	if err := d.WaitReady(ctx); err != nil {
		return 0, err
	}

	var v uint32
	for i := 0; i < dataBits; i++ {
		bit, err := d.pulse()
		if err != nil {
			return 0, errFactory.Wrap(ErrClockWrite, err)
		}
		v <<= 1
		if bit == gpio.High {
			v |= 1
		}
	}

	for i := d.GainPulses(); i > 0; i-- {
		if _, err := d.pulse(); err != nil {
			return 0, errFactory.Wrap(ErrClockWrite, err)
		}
	}

	return SignExtend24(v), nil
}

// ReadAverage returns the truncated mean of times conversions.
func (d *Device) ReadAverage(ctx context.Context, times int) (int32, error) {
	if times < 1 {
		times = 1
	}

	var sum int64
	for i := 0; i < times; i++ {
		v, err := d.ReadRaw(ctx)
		if err != nil {
			return 0, err
		}
		sum += int64(v)
		runtime.Gosched()
	}

	return int32(sum / int64(times)), nil
}

// Tare takes the mean of times conversions as the zero offset.
func (d *Device) Tare(ctx context.Context, times int) error {
	avg, err := d.ReadAverage(ctx, times)
	if err != nil {
		return err
	}

	d.SetOffset(avg)
	d.logger.Info().Int32("offset", avg).Int("samples", times).Msg("Tared load cell")

	return nil
}

// Value returns the averaged reading minus the tare offset.
func (d *Device) Value(ctx context.Context, times int) (float64, error) {
	avg, err := d.ReadAverage(ctx, times)
	if err != nil {
		return 0, err
	}
	return float64(int64(avg) - int64(d.Offset())), nil
}

// Units returns the averaged reading converted with the calibration.
func (d *Device) Units(ctx context.Context, times int) (float32, error) {
	v, err := d.Value(ctx, times)
	if err != nil {
		return 0, err
	}
	return float32(v) / d.Scale(), nil
}

// SetScale sets the divisor applied by Units. Zero, NaN and infinite
// values are rejected and the previous scale is kept.
func (d *Device) SetScale(scale float32) error {
	if scale == 0 || math32.IsNaN(scale) || math32.IsInf(scale, 0) {
		return errors.New().WithData(errors.ErrInvalidArgument, scale).
			WithMessage("scale must be a finite non-zero number")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.scale = scale

	return nil
}

func (d *Device) Scale() float32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.scale
}

func (d *Device) SetOffset(offset int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.offset = offset
}

func (d *Device) Offset() int32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.offset
}
