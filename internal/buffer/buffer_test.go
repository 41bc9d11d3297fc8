package buffer_test

import (
	"sync"
	"testing"

	"codeberg.org/mutker/loadlogger/internal/buffer"
	"codeberg.org/mutker/loadlogger/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(ts uint32) record.Record {
	return record.New(record.LoadCell, ts, float32(ts))
}

func TestNewDefaultCapacity(t *testing.T) {
	assert.Equal(t, buffer.DefaultCapacity, buffer.New(0).Cap())
	assert.Equal(t, buffer.DefaultCapacity, buffer.New(-3).Cap())
	assert.Equal(t, 4, buffer.New(4).Cap())
}

func TestAppendUntilFull(t *testing.T) {
	b := buffer.New(3)

	assert.True(t, b.Append(rec(1)))
	assert.True(t, b.Append(rec(2)))
	assert.False(t, b.IsFull())

	// capacity-1 records stored: one more fits
	assert.True(t, b.Append(rec(3)))
	assert.True(t, b.IsFull())
	assert.Equal(t, 3, b.Len())

	// at capacity: dropped
	assert.False(t, b.Append(rec(4)))
	assert.False(t, b.Append(rec(5)))
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, uint64(2), b.Dropped())
}

func TestFullNotification(t *testing.T) {
	b := buffer.New(2)

	b.Append(rec(1))
	select {
	case <-b.Full():
		t.Fatal("unexpected full notification")
	default:
	}

	b.Append(rec(2))
	select {
	case <-b.Full():
	default:
		t.Fatal("expected full notification")
	}

	// drops do not post another notification
	b.Append(rec(3))
	select {
	case <-b.Full():
		t.Fatal("unexpected second notification")
	default:
	}
}

func TestDrainAndReset(t *testing.T) {
	b := buffer.New(4)
	for i := uint32(1); i <= 3; i++ {
		require.True(t, b.Append(rec(i)))
	}

	out := b.DrainAndReset()
	require.Len(t, out, 3)
	for i, r := range out {
		assert.Equal(t, uint32(i+1), r.TimestampMs)
	}
	assert.Equal(t, 0, b.Len())

	// the drained slice is a copy
	require.True(t, b.Append(rec(9)))
	assert.Equal(t, uint32(1), out[0].TimestampMs)
}

func TestDrainEmpty(t *testing.T) {
	out := buffer.New(4).DrainAndReset()
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestConcurrentProducers(t *testing.T) {
	const producers, perProducer = 4, 100
	b := buffer.New(128)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				b.Append(rec(uint32(i)))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 128, b.Len())
	assert.Equal(t, uint64(producers*perProducer-128), b.Dropped())
	assert.Len(t, b.DrainAndReset(), 128)
}
