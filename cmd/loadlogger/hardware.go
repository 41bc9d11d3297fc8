package main

import (
	"math"
	"time"

	"codeberg.org/mutker/loadlogger/internal/board"
	"codeberg.org/mutker/loadlogger/internal/logger"
	"github.com/spf13/afero"
	"periph.io/x/conn/v3/analog"
)

const (
	simOffset = 8000
	// simPeriod is the period of the simulated load and pressure waves.
	simPeriod = 20 * time.Second
)

func openHardware() (*board.Pins, analog.PinADC, error) {
	if cfg.Simulate {
		logger.Warn().Msg("Simulation mode, no hardware is accessed")
		return openSimulator()
	}

	pins, err := board.Open(cfg.LoadCell.DataPin, cfg.LoadCell.ClockPin)
	if err != nil {
		return nil, nil, err
	}

	adc, err := board.NewIIOADC(afero.NewOsFs(), cfg.Analog.Device, cfg.Analog.Channel, cfg.Analog.Bits)
	if err != nil {
		return nil, nil, err
	}

	return pins, adc, nil
}

// openSimulator returns a simulated HX711 carrying a load that swings
// between 0 and 5 units, and an ADC reading a slow triangle wave.
func openSimulator() (*board.Pins, analog.PinADC, error) {
	start := time.Now()
	phase := func() float64 {
		return 2 * math.Pi * float64(time.Since(start)%simPeriod) / float64(simPeriod)
	}

	scale := float64(cfg.LoadCell.Scale)
	settled := start.Add(cfg.LoadCell.Settle)

	cell := board.NewSimHX711(func() int32 {
		// unloaded until tare has been taken
		if time.Now().Before(settled.Add(time.Second)) {
			return simOffset
		}
		load := 2.5 * (1 - math.Cos(phase()))
		return int32(simOffset + load*scale)
	})

	maxRaw := float64(int32(1)<<cfg.Analog.Bits - 1)
	adc := board.NewSimADC("SIM_A0", cfg.Analog.Bits, func() int32 {
		p := phase() / (2 * math.Pi)
		if p > 0.5 {
			p = 1 - p
		}
		return int32(2 * p * maxRaw)
	})

	return cell.Pins(), adc, nil
}
