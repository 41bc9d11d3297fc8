package board

import (
	"sync"
	"time"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
)

const (
	hx711Bits = 24
	// powerDownHold is how long the clock line must stay high before the
	// simulated chip enters power down. The real chip needs 60µs; the
	// simulator waits longer so a preempted read is not mistaken for it.
	powerDownHold = 10 * time.Millisecond
)

// SimHX711 emulates the two-wire serial interface of an HX711 on a pair of
// in-memory pins. Conversions are taken from a queue of values and, once the
// queue is empty, from the source function.
type SimHX711 struct {
	mu sync.Mutex

	source  func() int32
	queue   []int32
	busy    bool
	current uint32
	latched bool

	clock   gpio.Level
	rise    time.Time
	pulses  int
	extra   int
	samples int

	data *simDataPin
	clk  *simClockPin
}

type simDataPin struct {
	gpiotest.Pin
	sim *SimHX711
}

type simClockPin struct {
	gpiotest.Pin
	sim *SimHX711
}

// NewSimHX711 returns a simulator producing source() for every conversion.
// A nil source always converts to 0.
func NewSimHX711(source func() int32) *SimHX711 {
	if source == nil {
		source = func() int32 { return 0 }
	}

	s := &SimHX711{source: source}
	s.data = &simDataPin{Pin: gpiotest.Pin{N: "SIM_DOUT", Num: -1}, sim: s}
	s.clk = &simClockPin{Pin: gpiotest.Pin{N: "SIM_PD_SCK", Num: -1}, sim: s}

	return s
}

// Pins returns the data and clock lines of the simulated chip.
func (s *SimHX711) Pins() *Pins {
	return &Pins{Data: s.data, Clock: s.clk}
}

// Push queues raw 24-bit conversion results ahead of the source function.
func (s *SimHX711) Push(values ...int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, values...)
}

// SetBusy holds the data line high, as a chip that never finishes a
// conversion would.
func (s *SimHX711) SetBusy(busy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = busy
}

// ExtraPulses returns the number of clock pulses beyond the 24 data bits of
// the most recent conversion.
func (s *SimHX711) ExtraPulses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pulses >= hx711Bits {
		return s.pulses - hx711Bits
	}
	return s.extra
}

// Samples returns the number of conversions read out so far.
func (s *SimHX711) Samples() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples
}

// PoweredDown reports whether the clock line has been held high long enough
// to power the chip down.
func (s *SimHX711) PoweredDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poweredDown()
}

func (s *SimHX711) poweredDown() bool {
	return s.clock == gpio.High && time.Since(s.rise) >= powerDownHold
}

func (s *SimHX711) next() uint32 {
	var v int32
	if len(s.queue) > 0 {
		v, s.queue = s.queue[0], s.queue[1:]
	} else {
		v = s.source()
	}
	return uint32(v) & 0xFFFFFF
}

// finish closes a conversion whose data bits have all been shifted out.
func (s *SimHX711) finish() {
	if s.pulses >= hx711Bits {
		s.extra = s.pulses - hx711Bits
		s.pulses = 0
	}
}

func (s *SimHX711) setClock(l gpio.Level) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case l == gpio.High && s.clock == gpio.Low:
		s.rise = time.Now()
		if s.pulses == 0 {
			s.latched = false
		}
		s.pulses++
	case l == gpio.Low && s.clock == gpio.High:
		if time.Since(s.rise) >= powerDownHold {
			// leaving power down resets the serial interface
			s.pulses = 0
		}
	}

	s.clock = l
}

func (s *SimHX711) readData() gpio.Level {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.poweredDown() {
		return gpio.High
	}

	if s.clock == gpio.High && s.pulses >= 1 && s.pulses <= hx711Bits {
		if !s.latched {
			s.current = s.next()
			s.samples++
			s.latched = true
		}
		bit := s.current >> (hx711Bits - s.pulses) & 1
		return gpio.Level(bit == 1)
	}

	if s.clock == gpio.Low {
		s.finish()
		if s.pulses == 0 && !s.busy {
			return gpio.Low
		}
	}

	return gpio.High
}

func (p *simDataPin) Read() gpio.Level {
	return p.sim.readData()
}

func (p *simClockPin) Out(l gpio.Level) error {
	p.sim.setClock(l)
	return nil
}

// SimADC is a synthetic analog input for simulation mode and tests.
type SimADC struct {
	mu     sync.Mutex
	name   string
	maxRaw int32
	source func() int32
	err    error
}

var _ analog.PinADC = (*SimADC)(nil)

// NewSimADC returns an ADC with the given resolution producing source()
// clamped to its range.
func NewSimADC(name string, bits int, source func() int32) *SimADC {
	if source == nil {
		source = func() int32 { return 0 }
	}
	return &SimADC{name: name, maxRaw: int32(1)<<bits - 1, source: source}
}

// SetError makes every subsequent Read fail with err; nil clears it.
func (a *SimADC) SetError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

func (a *SimADC) sample(raw int32) analog.Sample {
	// 3.3V reference
	v := physic.ElectricPotential(int64(raw) * int64(3300*physic.MilliVolt) / int64(a.maxRaw))
	return analog.Sample{V: v, Raw: raw}
}

func (a *SimADC) Range() (analog.Sample, analog.Sample, error) {
	return a.sample(0), a.sample(a.maxRaw), nil
}

func (a *SimADC) Read() (analog.Sample, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.err != nil {
		return analog.Sample{}, a.err
	}

	raw := a.source()
	switch {
	case raw < 0:
		raw = 0
	case raw > a.maxRaw:
		raw = a.maxRaw
	}

	return a.sample(raw), nil
}

func (a *SimADC) String() string   { return a.name }
func (a *SimADC) Name() string     { return a.name }
func (a *SimADC) Number() int      { return -1 }
func (a *SimADC) Function() string { return "ADC" }
func (a *SimADC) Halt() error      { return nil }
