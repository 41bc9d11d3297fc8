package metrics

import (
	"context"
	"time"
)

// Collector records flush snapshots.
type Collector interface {
	Record(ctx context.Context, snapshot *Snapshot) error
	Recent(ctx context.Context, limit int) ([]*Snapshot, error)
	Close() error
}

// Repository defines the interface for metrics data storage
type Repository interface {
	Record(snapshot *Snapshot) error
	Recent(limit int) ([]*Snapshot, error)
	Close() error
}

// Snapshot describes one flush of the record buffer.
type Snapshot struct {
	Timestamp time.Time
	Flush     FlushMetrics
	Buffer    BufferMetrics
}

type FlushMetrics struct {
	Records      int
	Written      int
	Failed       int
	Lost         int
	StartAddress uint64
	EndAddress   uint64
	Duration     time.Duration
}

type BufferMetrics struct {
	Capacity int
	Dropped  uint64
}
