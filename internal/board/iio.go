package board

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"codeberg.org/mutker/loadlogger/internal/errors"
	"github.com/spf13/afero"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/physic"
)

// IIORoot is where the kernel exposes industrial I/O devices.
const IIORoot = "/sys/bus/iio/devices"

// IIOADC reads one voltage channel of a Linux IIO analog-to-digital
// converter through sysfs.
type IIOADC struct {
	fs      afero.Fs
	dir     string
	name    string
	channel int
	maxRaw  int32
	scale   float64 // millivolts per LSB
}

var _ analog.PinADC = (*IIOADC)(nil)

// NewIIOADC opens channel of the IIO device (e.g. "iio:device0") with the
// given resolution in bits. A missing in_voltage_scale attribute means the
// converter reports raw counts only.
func NewIIOADC(fs afero.Fs, device string, channel, bits int) (*IIOADC, error) {
	errFactory := errors.New()

	if bits < 1 || bits > 31 {
		return nil, errFactory.WithData(errors.ErrInvalidArgument, fmt.Sprintf("adc resolution %d bits", bits))
	}

	a := &IIOADC{
		fs:      fs,
		dir:     filepath.Join(IIORoot, device),
		name:    fmt.Sprintf("%s/in_voltage%d", device, channel),
		channel: channel,
		maxRaw:  int32(1)<<bits - 1,
		scale:   1,
	}

	if ok, err := afero.Exists(fs, a.rawPath()); err != nil || !ok {
		if err == nil {
			err = fmt.Errorf("%s does not exist", a.rawPath())
		}
		return nil, errFactory.Wrap(ErrADCNotFound, err)
	}

	if s, err := a.readAttr(a.scalePath()); err == nil {
		scale, perr := strconv.ParseFloat(s, 64)
		if perr != nil {
			return nil, errFactory.Wrap(ErrADCMalformed, perr)
		}
		a.scale = scale
	}

	return a, nil
}

func (a *IIOADC) rawPath() string {
	return filepath.Join(a.dir, fmt.Sprintf("in_voltage%d_raw", a.channel))
}

func (a *IIOADC) scalePath() string {
	return filepath.Join(a.dir, "in_voltage_scale")
}

func (a *IIOADC) readAttr(path string) (string, error) {
	b, err := afero.ReadFile(a.fs, path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func (a *IIOADC) sample(raw int32) analog.Sample {
	return analog.Sample{
		V:   physic.ElectricPotential(float64(raw) * a.scale * float64(physic.MilliVolt)),
		Raw: raw,
	}
}

// Range returns the lowest and highest sample the converter can produce.
func (a *IIOADC) Range() (analog.Sample, analog.Sample, error) {
	return a.sample(0), a.sample(a.maxRaw), nil
}

func (a *IIOADC) Read() (analog.Sample, error) {
	errFactory := errors.New()

	s, err := a.readAttr(a.rawPath())
	if err != nil {
		return analog.Sample{}, errFactory.Wrap(ErrADCRead, err)
	}

	raw, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return analog.Sample{}, errFactory.Wrap(ErrADCMalformed, err)
	}

	return a.sample(int32(raw)), nil
}

func (a *IIOADC) String() string   { return a.name }
func (a *IIOADC) Name() string     { return a.name }
func (a *IIOADC) Number() int      { return a.channel }
func (a *IIOADC) Function() string { return "ADC" }
func (a *IIOADC) Halt() error      { return nil }
