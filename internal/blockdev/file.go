// Package blockdev provides the storage the flash writer programs records
// into.
package blockdev

import (
	"io"
	"os"
	"sync"

	"codeberg.org/mutker/loadlogger/internal/errors"
	"github.com/spf13/afero"
)

const erased = 0xFF

// FileDevice is a Device backed by a file: a flash image or a raw block
// device node such as an MTD partition. Bytes beyond the end of the file
// read as erased.
type FileDevice struct {
	fs   afero.Fs
	path string
	size uint64

	mu   sync.Mutex
	file afero.File
}

var _ Device = (*FileDevice)(nil)

// NewFileDevice returns a device of size bytes stored at path. The file is
// created on the first Init if it does not exist.
func NewFileDevice(fs afero.Fs, path string, size uint64) (*FileDevice, error) {
	if size == 0 {
		return nil, errors.New().WithData(ErrInvalidSize, path)
	}
	return &FileDevice{fs: fs, path: path, size: size}, nil
}

func (d *FileDevice) Path() string { return d.path }

func (d *FileDevice) Size() uint64 { return d.size }

func (d *FileDevice) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file != nil {
		return nil
	}

	f, err := d.fs.OpenFile(d.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return errors.New().Wrap(ErrOpen, err)
	}
	d.file = f

	return nil
}

func (d *FileDevice) Deinit() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return nil
	}

	errFactory := errors.New()
	f := d.file
	d.file = nil

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return errFactory.Wrap(ErrClose, err)
	}
	if err := f.Close(); err != nil {
		return errFactory.Wrap(ErrClose, err)
	}

	return nil
}

func (d *FileDevice) checkRange(n int, addr uint64) error {
	if addr > d.size || uint64(n) > d.size-addr {
		return errors.New().WithData(ErrOutOfRange, struct {
			Addr uint64
			Len  int
			Size uint64
		}{addr, n, d.size})
	}
	return nil
}

func (d *FileDevice) Program(buf []byte, addr uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return errors.New().New(ErrNotOpen)
	}
	if err := d.checkRange(len(buf), addr); err != nil {
		return err
	}

	if err := d.fill(int64(addr)); err != nil {
		return errors.New().Wrap(ErrProgram, err)
	}
	if _, err := d.file.WriteAt(buf, int64(addr)); err != nil {
		return errors.New().Wrap(ErrProgram, err)
	}

	return nil
}

// fill pads the file with erased bytes up to off so that skipped slots do
// not read back as zeros.
func (d *FileDevice) fill(off int64) error {
	info, err := d.file.Stat()
	if err != nil {
		return err
	}

	gap := off - info.Size()
	if gap <= 0 {
		return nil
	}

	pad := make([]byte, gap)
	for i := range pad {
		pad[i] = erased
	}
	_, err = d.file.WriteAt(pad, info.Size())

	return err
}

func (d *FileDevice) Read(buf []byte, addr uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return errors.New().New(ErrNotOpen)
	}
	if err := d.checkRange(len(buf), addr); err != nil {
		return err
	}

	n, err := d.file.ReadAt(buf, int64(addr))
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return errors.New().Wrap(ErrRead, err)
	}
	for i := n; i < len(buf); i++ {
		buf[i] = erased
	}

	return nil
}
