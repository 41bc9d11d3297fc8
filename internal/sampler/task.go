// Package sampler runs the periodic producers that feed the record buffer.
package sampler

import (
	"context"
	"time"

	"codeberg.org/mutker/loadlogger/internal/buffer"
	"codeberg.org/mutker/loadlogger/internal/logger"
	"codeberg.org/mutker/loadlogger/internal/record"
	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
)

// errorLogEvery limits logging of consecutive source errors to the first one
// and then every errorLogEvery-th.
const errorLogEvery = 100

// Task samples one sensor at a fixed period into a buffer.
type Task struct {
	Name   string
	Sensor record.SensorID
	Period time.Duration
	Source Source

	Buffer *buffer.Buffer
	Clock  clock.Clock
	Logger logger.Logger

	samples atomic.Uint64
	errs    atomic.Uint64
	drops   atomic.Uint64
}

// Stats are the counters of a running task.
type Stats struct {
	Samples uint64
	Errors  uint64
	Dropped uint64
}

func (t *Task) Stats() Stats {
	return Stats{
		Samples: t.samples.Load(),
		Errors:  t.errs.Load(),
		Dropped: t.drops.Load(),
	}
}

// Run samples until ctx ends. Timestamps are milliseconds since start.
func (t *Task) Run(ctx context.Context, start time.Time) error {
	clk := t.Clock
	if clk == nil {
		clk = clock.New()
	}
	log := t.Logger
	if log == nil {
		log = logger.Nop()
	}

	log.Debug().
		Str("task", t.Name).
		Stringer("sensor", t.Sensor).
		Dur("period", t.Period).
		Msg("Sampling task started")

	ticker := clk.Ticker(t.Period)
	defer ticker.Stop()

	var consecutive uint64
	for {
		elapsed := uint32(clk.Since(start).Milliseconds())

		v, err := t.Source.Sample(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			t.errs.Inc()
			consecutive++
			if consecutive%errorLogEvery == 1 {
				log.Warn().
					Err(err).
					Str("task", t.Name).
					Uint64("consecutive", consecutive).
					Msg("Sensor read failed")
			}
		default:
			if consecutive > 0 {
				log.Info().Str("task", t.Name).Uint64("failed", consecutive).Msg("Sensor recovered")
				consecutive = 0
			}
			t.samples.Inc()
			if !t.Buffer.Append(record.New(t.Sensor, elapsed, v)) {
				t.drops.Inc()
			}
		}

		select {
		case <-ctx.Done():
			log.Debug().Str("task", t.Name).Msg("Sampling task stopped")
			return nil
		case <-ticker.C:
		}
	}
}
