package hx711

import (
	"context"
	"time"

	"codeberg.org/mutker/loadlogger/internal/errors"
	"periph.io/x/conn/v3/gpio"
)

// powerDownHold is how long the clock line is held high to enter power
// down. The chip needs more than 60µs.
const powerDownHold = 60 * time.Millisecond

// PowerDown puts the chip in its low power mode by holding the clock high.
// If ctx ends before the hold completes, power down is not guaranteed and
// ErrPowerDown is returned; the clock line is left high.
func (d *Device) PowerDown(ctx context.Context) error {
	errFactory := errors.New()

	d.bus.Lock()
	defer d.bus.Unlock()

	if err := d.sck.Out(gpio.Low); err != nil {
		return errFactory.Wrap(ErrPowerDown, err)
	}
	if err := d.sck.Out(gpio.High); err != nil {
		return errFactory.Wrap(ErrPowerDown, err)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrPowerDown, ctx.Err())
	case <-d.clock.After(powerDownHold):
	}

	d.logger.Debug().Msg("HX711 powered down")

	return nil
}

// PowerUp wakes the chip. The next conversion uses gain 128 until a read
// completes.
func (d *Device) PowerUp() error {
	d.bus.Lock()
	defer d.bus.Unlock()

	if err := d.sck.Out(gpio.Low); err != nil {
		return errors.New().Wrap(ErrClockWrite, err)
	}

	d.logger.Debug().Msg("HX711 powered up")

	return nil
}

// Close powers the chip down and releases both lines.
func (d *Device) Close() error {
	errFactory := errors.New()

	if err := d.PowerDown(context.Background()); err != nil {
		return err
	}
	if err := d.data.Halt(); err != nil {
		return errFactory.Wrap(errors.ErrShutdownFailed, err)
	}
	if err := d.sck.Halt(); err != nil {
		return errFactory.Wrap(errors.ErrShutdownFailed, err)
	}

	return nil
}
