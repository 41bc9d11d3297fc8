// Package board binds the logger to its hardware: the HX711 pin pair and
// the analog input of the pressure transducer.
package board

import (
	"codeberg.org/mutker/loadlogger/internal/errors"
	"codeberg.org/mutker/loadlogger/internal/logger"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Pins is the HX711 pin pair.
type Pins struct {
	Data  gpio.PinIn
	Clock gpio.PinOut
}

// Open initializes the host drivers and looks up the named GPIO lines.
func Open(dataName, clockName string) (*Pins, error) {
	errFactory := errors.New()

	state, err := host.Init()
	if err != nil {
		return nil, errFactory.Wrap(ErrHostInit, err)
	}

	for _, d := range state.Loaded {
		logger.Debug().Str("driver", d.String()).Msg("Loaded host driver")
	}
	for _, f := range state.Failed {
		logger.Debug().Str("driver", f.D.String()).Err(f.Err).Msg("Host driver failed")
	}

	data := gpioreg.ByName(dataName)
	if data == nil {
		return nil, errFactory.WithData(ErrPinNotFound, dataName)
	}

	clock := gpioreg.ByName(clockName)
	if clock == nil {
		return nil, errFactory.WithData(ErrPinNotFound, clockName)
	}

	logger.Info().
		Str("data", data.String()).
		Str("clock", clock.String()).
		Msg("Bound HX711 pins")

	return &Pins{Data: data, Clock: clock}, nil
}
