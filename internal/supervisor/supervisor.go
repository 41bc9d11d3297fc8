// Package supervisor moves records from the shared buffer to flash whenever
// the buffer fills up.
package supervisor

import (
	"context"
	"time"

	"codeberg.org/mutker/loadlogger/internal/buffer"
	"codeberg.org/mutker/loadlogger/internal/errors"
	"codeberg.org/mutker/loadlogger/internal/flash"
	"codeberg.org/mutker/loadlogger/internal/logger"
	"codeberg.org/mutker/loadlogger/internal/metrics"
	"codeberg.org/mutker/loadlogger/internal/record"
	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
)

const DefaultCheckInterval = time.Second

type State int32

const (
	Idle State = iota
	Sampling
	Flushing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sampling:
		return "sampling"
	case Flushing:
		return "flushing"
	default:
		return "unknown"
	}
}

// Persister writes a batch of records to storage.
type Persister interface {
	Persist(ctx context.Context, records []record.Record) (flash.Result, error)
}

// Stats are cumulative counters since the supervisor was created.
type Stats struct {
	Flushes     uint64
	FlushErrors uint64
	Persisted   uint64
	Failed      uint64
	Lost        uint64
	Dropped     uint64
}

type Supervisor struct {
	buf           *buffer.Buffer
	writer        Persister
	checkInterval time.Duration
	clock         clock.Clock
	metrics       metrics.Collector
	logger        logger.Logger

	state       atomic.Int32
	flushes     atomic.Uint64
	flushErrors atomic.Uint64
	persisted   atomic.Uint64
	failed      atomic.Uint64
	lost        atomic.Uint64

	// lastDropped is only touched by the Run goroutine.
	lastDropped uint64
}

type Option func(*Supervisor)

func WithCheckInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.checkInterval = d
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

func WithMetrics(m metrics.Collector) Option {
	return func(s *Supervisor) { s.metrics = m }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

func New(buf *buffer.Buffer, writer Persister, opts ...Option) *Supervisor {
	s := &Supervisor{
		buf:           buf,
		writer:        writer,
		checkInterval: DefaultCheckInterval,
		clock:         clock.New(),
		metrics:       metrics.NewNoop(),
		logger:        logger.Nop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Supervisor) State() State {
	return State(s.state.Load())
}

func (s *Supervisor) Stats() Stats {
	return Stats{
		Flushes:     s.flushes.Load(),
		FlushErrors: s.flushErrors.Load(),
		Persisted:   s.persisted.Load(),
		Failed:      s.failed.Load(),
		Lost:        s.lost.Load(),
		Dropped:     s.buf.Dropped(),
	}
}

// Start marks startup as complete. Sampling may begin afterwards.
func (s *Supervisor) Start() error {
	if !s.state.CompareAndSwap(int32(Idle), int32(Sampling)) {
		return errors.New().WithData(errors.ErrInvalidOperation, "supervisor already started")
	}
	s.logger.Info().Dur("check_interval", s.checkInterval).Msg("Sampling started")
	return nil
}

// Run flushes the buffer each time it fills until ctx ends, then flushes
// whatever is left and returns.
func (s *Supervisor) Run(ctx context.Context) error {
	errFactory := errors.New()

	if s.State() == Idle {
		return errFactory.WithData(errors.ErrInvalidOperation, "supervisor not started")
	}

	ticker := s.clock.Ticker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.finalFlush(context.WithoutCancel(ctx))
		case <-s.buf.Full():
			// the notification may be stale if the ticker already drained
			if s.buf.IsFull() {
				s.flush(ctx)
			}
		case <-ticker.C:
			s.checkDropped()
			if s.buf.IsFull() {
				s.flush(ctx)
			}
		}
	}
}

func (s *Supervisor) finalFlush(ctx context.Context) error {
	if s.buf.Len() == 0 {
		return nil
	}

	s.logger.Info().Int("records", s.buf.Len()).Msg("Flushing remaining records")
	if err := s.flush(ctx); err != nil {
		return errors.New().Wrap(errors.ErrFinalFlush, err)
	}

	return nil
}

func (s *Supervisor) checkDropped() {
	dropped := s.buf.Dropped()
	if dropped > s.lastDropped {
		s.logger.Warn().
			Uint64("dropped", dropped-s.lastDropped).
			Uint64("total", dropped).
			Msg("Buffer full, records dropped")
		s.lastDropped = dropped
	}
}

func (s *Supervisor) flush(ctx context.Context) error {
	s.state.Store(int32(Flushing))
	defer s.state.Store(int32(Sampling))

	records := s.buf.DrainAndReset()
	if len(records) == 0 {
		return nil
	}

	start := s.clock.Now()
	res, err := s.writer.Persist(ctx, records)
	elapsed := s.clock.Since(start)

	s.flushes.Inc()
	s.persisted.Add(uint64(res.Written))
	s.failed.Add(uint64(res.Failed))
	s.lost.Add(uint64(res.Lost))

	if err != nil {
		s.flushErrors.Inc()
		if appErr, ok := err.(errors.Error); ok {
			s.logger.ErrorWithCode(appErr).
				Int("written", res.Written).
				Int("failed", res.Failed).
				Int("lost", res.Lost).
				Msg("Flush incomplete")
		} else {
			s.logger.Error().Err(err).Msg("Flush failed")
		}
	} else {
		s.logger.Debug().
			Int("records", res.Written).
			Uint64("start", res.StartAddress).
			Uint64("end", res.EndAddress).
			Dur("elapsed", elapsed).
			Msg("Flushed buffer")
	}

	snapshot := &metrics.Snapshot{
		Timestamp: s.clock.Now(),
		Flush: metrics.FlushMetrics{
			Records:      len(records),
			Written:      res.Written,
			Failed:       res.Failed,
			Lost:         res.Lost,
			StartAddress: res.StartAddress,
			EndAddress:   res.EndAddress,
			Duration:     elapsed,
		},
		Buffer: metrics.BufferMetrics{
			Capacity: s.buf.Cap(),
			Dropped:  s.buf.Dropped(),
		},
	}
	if mErr := s.metrics.Record(ctx, snapshot); mErr != nil {
		s.logger.Warn().Err(mErr).Msg("Failed to record flush metrics")
	}

	return err
}
