// Package buffer holds records between the sampling tasks and the flash
// writer.
package buffer

import (
	"sync"

	"codeberg.org/mutker/loadlogger/internal/record"
	"go.uber.org/atomic"
)

const DefaultCapacity = 128

// Buffer is a fixed-capacity record container shared by several producers
// and one consumer. Records are appended until the buffer is full and then
// dropped until the consumer drains it.
type Buffer struct {
	mu      sync.Mutex
	records []record.Record
	cursor  int

	dropped atomic.Uint64
	full    chan struct{}
}

// New returns an empty buffer. A capacity <= 0 selects DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Buffer{
		records: make([]record.Record, capacity),
		full:    make(chan struct{}, 1),
	}
}

// Append stores r if there is room and reports whether it did. A record that
// does not fit is counted in Dropped.
func (b *Buffer) Append(r record.Record) bool {
	b.mu.Lock()
	if b.cursor >= len(b.records) {
		b.mu.Unlock()
		b.dropped.Inc()
		return false
	}

	b.records[b.cursor] = r
	b.cursor++
	filled := b.cursor == len(b.records)
	b.mu.Unlock()

	if filled {
		select {
		case b.full <- struct{}{}:
		default:
		}
	}

	return true
}

// DrainAndReset returns the buffered records in arrival order and empties
// the buffer. The returned slice is never nil.
func (b *Buffer) DrainAndReset() []record.Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]record.Record, b.cursor)
	copy(out, b.records[:b.cursor])
	b.cursor = 0

	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor
}

func (b *Buffer) Cap() int {
	return len(b.records)
}

func (b *Buffer) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor >= len(b.records)
}

// Dropped returns the number of records rejected since creation.
func (b *Buffer) Dropped() uint64 {
	return b.dropped.Load()
}

// Full delivers a notification when an append fills the buffer. At most one
// notification is pending at a time.
func (b *Buffer) Full() <-chan struct{} {
	return b.full
}
