package flash

import (
	"context"

	"codeberg.org/mutker/loadlogger/internal/blockdev"
	"codeberg.org/mutker/loadlogger/internal/errors"
	"codeberg.org/mutker/loadlogger/internal/record"
)

// scanChunk is the number of slots read per device access while scanning.
const scanChunk = 512

// Decode parses the record slots in data up to the last programmed one.
// Slots before it that hold a tombstone, an unknown sensor id or nothing at
// all are skipped and counted. A partial, programmed slot at the end of data
// yields flash_trailing_bytes together with the records parsed so far.
func Decode(data []byte) ([]record.Record, int, error) {
	whole := len(data) / record.Size * record.Size
	end := whole
	for end > 0 && record.IsErased(data[end-record.Size:end]) {
		end -= record.Size
	}

	records := make([]record.Record, 0, end/record.Size)
	skipped := 0

	for off := 0; off < end; off += record.Size {
		r, err := record.Decode(data[off : off+record.Size])
		if err != nil {
			return records, skipped, err
		}
		if !r.ID.Valid() {
			skipped++
			continue
		}
		records = append(records, r)
	}

	if rest := data[whole:]; len(rest) > 0 && !record.IsErased(rest) {
		return records, skipped, errors.New().WithData(ErrTrailingBytes, len(rest))
	}

	return records, skipped, nil
}

// ReadAll reads every record stored on dev from start.
func ReadAll(dev blockdev.Device, start uint64) ([]record.Record, int, error) {
	errFactory := errors.New()

	if err := dev.Init(); err != nil {
		return nil, 0, errFactory.Wrap(ErrInitFailed, err)
	}
	defer dev.Deinit()

	end, err := logEnd(context.Background(), dev, start)
	if err != nil {
		return nil, 0, err
	}

	data := make([]byte, end-start)
	if err := dev.Read(data, start); err != nil {
		return nil, 0, errFactory.Wrap(ErrReadFailed, err)
	}

	return Decode(data)
}

// Resume moves the cursor just past the last programmed slot at or after
// the start address, so records from earlier runs are kept.
func (w *Writer) Resume(ctx context.Context) error {
	errFactory := errors.New()

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.dev.Init(); err != nil {
		return errFactory.Wrap(ErrInitFailed, err)
	}
	defer w.dev.Deinit()

	addr, err := logEnd(ctx, w.dev, w.start)
	if err != nil {
		return err
	}

	w.cursor = addr
	w.logger.Info().
		Uint64("cursor", addr).
		Uint64("slots", (addr-w.start)/record.Size).
		Msg("Resumed flash cursor")

	return nil
}

// logEnd scans every whole slot from start to the end of the device and
// returns the address following the last one that is not erased, or start
// when the log is empty. Erased slots before that point are holes left by
// failed programs, not the end of the log.
func logEnd(ctx context.Context, dev blockdev.Device, start uint64) (uint64, error) {
	errFactory := errors.New()

	size := dev.Size()
	buf := make([]byte, scanChunk*record.Size)
	addr := start
	end := start

	for addr <= size && size-addr >= record.Size {
		if err := ctx.Err(); err != nil {
			return 0, errFactory.Wrap(errors.ErrOperationFailed, err)
		}

		n := uint64(len(buf))
		if avail := (size - addr) / record.Size * record.Size; avail < n {
			n = avail
		}

		chunk := buf[:n]
		if err := dev.Read(chunk, addr); err != nil {
			return 0, errFactory.Wrap(ErrReadFailed, err)
		}

		for off := uint64(0); off < n; off += record.Size {
			if !record.IsErased(chunk[off : off+record.Size]) {
				end = addr + off + record.Size
			}
		}

		addr += n
	}

	return end, nil
}
