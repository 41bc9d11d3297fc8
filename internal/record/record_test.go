package record_test

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"codeberg.org/mutker/loadlogger/internal/errors"
	"codeberg.org/mutker/loadlogger/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeLayout(t *testing.T) {
	r := record.New(record.Pressure, 0x01020304, 1.5)
	b := r.Encode()

	require.Len(t, b, record.Size)
	assert.Equal(t, byte(0x02), b[0])
	assert.Equal(t, uint32(0x01020304), binary.NativeEndian.Uint32(b[1:5]))
	assert.Equal(t, math.Float32bits(1.5), binary.NativeEndian.Uint32(b[5:9]))
}

func TestDecode(t *testing.T) {
	tests := []record.Record{
		record.New(record.LoadCell, 0, 0),
		record.New(record.LoadCell, 12, -0.25),
		record.New(record.Pressure, math.MaxUint32, 4095),
		record.New(record.Pressure, 20, float32(math.Inf(-1))),
	}

	for _, want := range tests {
		got, err := record.Decode(want.Encode())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	_, err := record.Decode(make([]byte, record.Size-1))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, record.ErrShortBuffer))
}

func TestAppendBinaryConcatenates(t *testing.T) {
	var b []byte
	b = record.New(record.LoadCell, 1, 1).AppendBinary(b)
	b = record.New(record.Pressure, 2, 2).AppendBinary(b)
	require.Len(t, b, 2*record.Size)

	second, err := record.Decode(b[record.Size:])
	require.NoError(t, err)
	assert.Equal(t, record.Pressure, second.ID)
	assert.Equal(t, uint32(2), second.TimestampMs)
}

func TestSensorID(t *testing.T) {
	assert.True(t, record.LoadCell.Valid())
	assert.True(t, record.Pressure.Valid())
	assert.False(t, record.Tombstone.Valid())
	assert.False(t, record.SensorID(record.Erased).Valid())

	assert.Equal(t, "loadcell", record.LoadCell.String())
	assert.Equal(t, "pressure", record.Pressure.String())
	assert.Equal(t, "erased", record.SensorID(0xFF).String())
	assert.Equal(t, "tombstone", record.SensorID(0).String())
	assert.Equal(t, "sensor(0x07)", record.SensorID(7).String())
}

func TestIsErased(t *testing.T) {
	assert.True(t, record.IsErased([]byte{0xFF, 0xFF, 0xFF}))
	assert.True(t, record.IsErased(append(bytes.Repeat([]byte{0xFF}, record.Size), 0x01)))
	// a slot with only its id byte erased was partially programmed
	assert.False(t, record.IsErased([]byte{0xFF, 0, 0}))
	assert.False(t, record.IsErased(record.TombstoneSlot()))
	assert.False(t, record.IsErased(record.New(record.LoadCell, 0, 0).Encode()))
	assert.False(t, record.IsErased(nil))
}
