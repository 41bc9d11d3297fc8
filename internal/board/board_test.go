package board_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"codeberg.org/mutker/loadlogger/internal/board"
	"codeberg.org/mutker/loadlogger/internal/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

func writeAttr(t *testing.T, fs afero.Fs, name, value string) {
	t.Helper()
	path := filepath.Join(board.IIORoot, "iio:device0", name)
	require.NoError(t, afero.WriteFile(fs, path, []byte(value+"\n"), 0o644))
}

func TestIIOADC(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeAttr(t, fs, "in_voltage1_raw", "2048")
	writeAttr(t, fs, "in_voltage_scale", "0.5")

	adc, err := board.NewIIOADC(fs, "iio:device0", 1, 12)
	require.NoError(t, err)
	assert.Equal(t, "iio:device0/in_voltage1", adc.String())

	lo, hi, err := adc.Range()
	require.NoError(t, err)
	assert.Equal(t, int32(0), lo.Raw)
	assert.Equal(t, int32(4095), hi.Raw)

	s, err := adc.Read()
	require.NoError(t, err)
	assert.Equal(t, int32(2048), s.Raw)
	assert.Equal(t, 1024*physic.MilliVolt, s.V)

	writeAttr(t, fs, "in_voltage1_raw", "17")
	s, err = adc.Read()
	require.NoError(t, err)
	assert.Equal(t, int32(17), s.Raw)
}

func TestIIOADCErrors(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := board.NewIIOADC(fs, "iio:device0", 0, 12)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, board.ErrADCNotFound))

	_, err = board.NewIIOADC(fs, "iio:device0", 0, 0)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))

	writeAttr(t, fs, "in_voltage0_raw", "garbage")
	adc, err := board.NewIIOADC(fs, "iio:device0", 0, 12)
	require.NoError(t, err)

	_, err = adc.Read()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, board.ErrADCMalformed))
}

func TestSimADC(t *testing.T) {
	v := int32(5000)
	adc := board.NewSimADC("LDR", 12, func() int32 { return v })

	s, err := adc.Read()
	require.NoError(t, err)
	assert.Equal(t, int32(4095), s.Raw, "clamped to range")
	assert.Equal(t, 3300*physic.MilliVolt, s.V)

	v = -1
	s, err = adc.Read()
	require.NoError(t, err)
	assert.Equal(t, int32(0), s.Raw)

	adc.SetError(fmt.Errorf("boom"))
	_, err = adc.Read()
	assert.Error(t, err)
}

// shiftIn clocks out one conversion the way the HX711 driver does.
func shiftIn(pins *board.Pins, extra int) uint32 {
	var v uint32
	for i := 0; i < 24; i++ {
		_ = pins.Clock.Out(gpio.High)
		bit := pins.Data.Read()
		_ = pins.Clock.Out(gpio.Low)
		v <<= 1
		if bit == gpio.High {
			v |= 1
		}
	}
	for i := 0; i < extra; i++ {
		_ = pins.Clock.Out(gpio.High)
		_ = pins.Clock.Out(gpio.Low)
	}
	return v
}

func TestSimHX711Protocol(t *testing.T) {
	sim := board.NewSimHX711(nil)
	pins := sim.Pins()
	sim.Push(0x123456, -1)

	assert.Equal(t, gpio.Low, pins.Data.Read(), "ready")
	assert.Equal(t, uint32(0x123456), shiftIn(pins, 1))
	assert.Equal(t, 1, sim.ExtraPulses())

	assert.Equal(t, gpio.Low, pins.Data.Read(), "ready again")
	assert.Equal(t, uint32(0xFFFFFF), shiftIn(pins, 3))
	assert.Equal(t, 3, sim.ExtraPulses())
	assert.Equal(t, 2, sim.Samples())

	// source takes over once the queue is empty
	assert.Equal(t, uint32(0), shiftIn(pins, 2))
}

func TestSimHX711Busy(t *testing.T) {
	sim := board.NewSimHX711(nil)
	sim.SetBusy(true)
	assert.Equal(t, gpio.High, sim.Pins().Data.Read())

	sim.SetBusy(false)
	assert.Equal(t, gpio.Low, sim.Pins().Data.Read())
}
