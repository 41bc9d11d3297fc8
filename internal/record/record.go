// Package record defines the sample record and its on-flash layout.
package record

import (
	"encoding/binary"
	"fmt"
	"math"

	"codeberg.org/mutker/loadlogger/internal/errors"
)

const (
	// Size is the number of bytes one record occupies on flash.
	Size = 1 + 4 + 4

	// Erased is the value of an unprogrammed flash byte.
	Erased = 0xFF
)

var ErrShortBuffer = errors.ErrorCode("record_short_buffer")

// SensorID identifies the transducer a record was sampled from.
type SensorID uint8

const (
	// Tombstone marks a slot whose record could not be programmed. The slot
	// is zeroed so readers skip it and the log continues past it.
	Tombstone SensorID = 0x00
	LoadCell  SensorID = 0x01
	Pressure  SensorID = 0x02
)

func (id SensorID) String() string {
	switch id {
	case LoadCell:
		return "loadcell"
	case Pressure:
		return "pressure"
	case Tombstone:
		return "tombstone"
	case Erased:
		return "erased"
	default:
		return fmt.Sprintf("sensor(0x%02x)", uint8(id))
	}
}

// Valid reports whether id names a known sensor.
func (id SensorID) Valid() bool {
	return id == LoadCell || id == Pressure
}

// Record is a single timestamped sample.
type Record struct {
	ID          SensorID `yaml:"id"`
	TimestampMs uint32   `yaml:"timestamp_ms"`
	Value       float32  `yaml:"value"`
}

// New returns a record for sensor id.
func New(id SensorID, timestampMs uint32, value float32) Record {
	return Record{ID: id, TimestampMs: timestampMs, Value: value}
}

// AppendBinary appends the flash encoding of r to b.
func (r Record) AppendBinary(b []byte) []byte {
	b = append(b, byte(r.ID))
	b = binary.NativeEndian.AppendUint32(b, r.TimestampMs)
	return binary.NativeEndian.AppendUint32(b, math.Float32bits(r.Value))
}

// Encode returns the Size-byte flash encoding of r.
func (r Record) Encode() []byte {
	return r.AppendBinary(make([]byte, 0, Size))
}

// Decode parses one record from the first Size bytes of b. The sensor id is
// not validated.
func Decode(b []byte) (Record, error) {
	if len(b) < Size {
		return Record{}, errors.New().WithData(ErrShortBuffer, len(b))
	}

	return Record{
		ID:          SensorID(b[0]),
		TimestampMs: binary.NativeEndian.Uint32(b[1:5]),
		Value:       math.Float32frombits(binary.NativeEndian.Uint32(b[5:9])),
	}, nil
}

// TombstoneSlot returns the encoding programmed over a failed slot.
func TombstoneSlot() []byte {
	return make([]byte, Size)
}

// IsErased reports whether the slot starting at b has never been programmed:
// every byte of it, up to Size, still reads Erased.
func IsErased(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	if len(b) > Size {
		b = b[:Size]
	}
	for _, c := range b {
		if c != Erased {
			return false
		}
	}
	return true
}
