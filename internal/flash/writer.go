// Package flash persists record batches to a block device and reads them
// back.
package flash

import (
	"context"
	"sync"

	"codeberg.org/mutker/loadlogger/internal/blockdev"
	"codeberg.org/mutker/loadlogger/internal/errors"
	"codeberg.org/mutker/loadlogger/internal/logger"
	"codeberg.org/mutker/loadlogger/internal/record"
	"go.uber.org/multierr"
)

const DefaultRetries = 1

// Result summarizes one Persist call.
type Result struct {
	Written int
	Failed  int // programming failed after retries
	Lost    int // did not fit on the device or was canceled
	// StartAddress and EndAddress delimit the slots consumed by the batch.
	StartAddress uint64
	EndAddress   uint64
}

// Writer appends records to a block device at a monotonically increasing
// cursor.
type Writer struct {
	dev     blockdev.Device
	retries int
	start   uint64
	logger  logger.Logger

	mu     sync.Mutex
	cursor uint64
}

type Option func(*Writer)

// WithStartAddress sets the address of the first slot.
func WithStartAddress(addr uint64) Option {
	return func(w *Writer) { w.start = addr }
}

// WithRetries sets how many times a failed record is reprogrammed before it
// is skipped.
func WithRetries(n int) Option {
	return func(w *Writer) {
		if n >= 0 {
			w.retries = n
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(w *Writer) { w.logger = l }
}

func NewWriter(dev blockdev.Device, opts ...Option) *Writer {
	w := &Writer{
		dev:     dev,
		retries: DefaultRetries,
		logger:  logger.Nop(),
	}

	for _, opt := range opts {
		opt(w)
	}
	w.cursor = w.start

	return w
}

// Cursor returns the address the next record will be programmed at.
func (w *Writer) Cursor() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cursor
}

// Persist programs records at the cursor, one slot each, in order. The
// cursor advances past every slot attempted, including failed ones, which
// are overwritten with a tombstone. A failing record does not stop the rest
// of the batch; all failures are returned together as a flash_batch_partial
// error.
func (w *Writer) Persist(ctx context.Context, records []record.Record) (res Result, err error) {
	errFactory := errors.New()

	w.mu.Lock()
	defer w.mu.Unlock()

	res.StartAddress = w.cursor
	res.EndAddress = w.cursor

	if len(records) == 0 {
		return res, nil
	}

	if initErr := w.dev.Init(); initErr != nil {
		res.Lost = len(records)
		return res, errFactory.Wrap(ErrInitFailed, initErr)
	}

	var failures error
	defer func() {
		if deinitErr := w.dev.Deinit(); deinitErr != nil {
			failures = multierr.Append(failures, errFactory.Wrap(ErrDeinitFailed, deinitErr))
		}
		if failures != nil {
			err = errFactory.Wrap(ErrBatchPartial, failures)
		}
	}()

	size := w.dev.Size()
	buf := make([]byte, 0, record.Size)

	for i, r := range records {
		if ctxErr := ctx.Err(); ctxErr != nil {
			res.Lost += len(records) - i
			failures = multierr.Append(failures, errFactory.Wrap(errors.ErrOperationFailed, ctxErr))
			break
		}

		if w.cursor > size || size-w.cursor < record.Size {
			res.Lost += len(records) - i
			failures = multierr.Append(failures, errFactory.WithData(ErrDeviceFull, w.cursor))
			break
		}

		addr := w.cursor
		buf = r.AppendBinary(buf[:0])

		if progErr := w.program(buf, addr); progErr != nil {
			res.Failed++
			failures = multierr.Append(failures, errFactory.Wrap(ErrProgramFailed, progErr))
			w.invalidate(addr)
		} else {
			res.Written++
			w.logger.Debug().
				Uint8("id", uint8(r.ID)).
				Uint32("time", r.TimestampMs).
				Float32("value", r.Value).
				Uint64("addr", addr).
				Msg("Persisted record")
		}

		w.cursor += record.Size
	}

	res.EndAddress = w.cursor

	return res, nil
}

// invalidate programs a tombstone over the slot at addr so readers and
// Resume step over it. If that fails as well the slot may stay erased; it is
// then skipped as a hole as long as a later slot is programmed.
func (w *Writer) invalidate(addr uint64) {
	if err := w.program(record.TombstoneSlot(), addr); err != nil {
		w.logger.Warn().Err(err).Uint64("addr", addr).Msg("Failed to mark slot as skipped")
		return
	}
	w.logger.Debug().Uint64("addr", addr).Msg("Marked failed slot as skipped")
}

func (w *Writer) program(buf []byte, addr uint64) error {
	var err error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if err = w.dev.Program(buf, addr); err == nil {
			return nil
		}
		w.logger.Debug().Err(err).Uint64("addr", addr).Int("attempt", attempt+1).Msg("Program failed")
	}
	return err
}
