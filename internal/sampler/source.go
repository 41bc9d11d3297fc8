package sampler

import (
	"context"

	"codeberg.org/mutker/loadlogger/internal/errors"
	"github.com/chewxy/math32"
	"periph.io/x/conn/v3/analog"
)

// DefaultFullScale maps a normalized analog reading onto 12-bit counts.
const DefaultFullScale = 4095

// Source produces one reading per call.
type Source interface {
	Sample(ctx context.Context) (float32, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (float32, error)

func (f SourceFunc) Sample(ctx context.Context) (float32, error) { return f(ctx) }

// LoadCell is the part of the HX711 driver a LoadCellSource reads from.
type LoadCell interface {
	Units(ctx context.Context, times int) (float32, error)
}

// LoadCellSource reads calibrated units from a load cell amplifier.
type LoadCellSource struct {
	Driver LoadCell
	// Times is the number of conversions averaged per sample; 0 means 1.
	Times int
}

func (s LoadCellSource) Sample(ctx context.Context) (float32, error) {
	times := s.Times
	if times < 1 {
		times = 1
	}
	return s.Driver.Units(ctx, times)
}

// AnalogSource reads a transducer on an ADC channel.
type AnalogSource struct {
	Pin analog.PinADC
	// FullScale multiplies the reading normalized to [0,1]; the product is
	// truncated to a whole count. Zero stores the normalized value.
	FullScale float32
}

func (s AnalogSource) Sample(_ context.Context) (float32, error) {
	errFactory := errors.New()

	lo, hi, err := s.Pin.Range()
	if err != nil {
		return 0, errFactory.Wrap(ErrSourceRead, err)
	}

	sample, err := s.Pin.Read()
	if err != nil {
		return 0, errFactory.Wrap(ErrSourceRead, err)
	}

	var norm float32
	switch {
	case hi.Raw != lo.Raw:
		norm = float32(sample.Raw-lo.Raw) / float32(hi.Raw-lo.Raw)
	case hi.V != lo.V:
		norm = float32(sample.V-lo.V) / float32(hi.V-lo.V)
	default:
		return 0, errFactory.WithData(ErrSourceRange, s.Pin.String())
	}
	norm = math32.Max(0, math32.Min(1, norm))

	if s.FullScale == 0 {
		return norm, nil
	}

	return float32(uint32(norm * s.FullScale)), nil
}
