package blockdev_test

import (
	"bytes"
	"testing"

	"codeberg.org/mutker/loadlogger/internal/blockdev"
	"codeberg.org/mutker/loadlogger/internal/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDevice(t *testing.T, size uint64) (*blockdev.FileDevice, afero.Fs) {
	t.Helper()

	fs := afero.NewMemMapFs()
	dev, err := blockdev.NewFileDevice(fs, "/flash.img", size)
	require.NoError(t, err)
	require.NoError(t, dev.Init())
	t.Cleanup(func() { _ = dev.Deinit() })

	return dev, fs
}

func TestNewFileDeviceRejectsZeroSize(t *testing.T) {
	_, err := blockdev.NewFileDevice(afero.NewMemMapFs(), "/flash.img", 0)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, blockdev.ErrInvalidSize))
}

func TestUnprogrammedReadsErased(t *testing.T) {
	dev, _ := newDevice(t, 64)

	buf := make([]byte, 16)
	require.NoError(t, dev.Read(buf, 8))
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 16), buf)
}

func TestProgramAndRead(t *testing.T) {
	dev, fs := newDevice(t, 64)

	require.NoError(t, dev.Program([]byte{1, 2, 3}, 10))

	buf := make([]byte, 14)
	require.NoError(t, dev.Read(buf, 0))
	assert.Equal(t, append(bytes.Repeat([]byte{0xFF}, 10), 1, 2, 3, 0xFF), buf)

	require.NoError(t, dev.Deinit())
	data, err := afero.ReadFile(fs, "/flash.img")
	require.NoError(t, err)
	assert.Len(t, data, 13)
}

func TestOutOfRange(t *testing.T) {
	dev, _ := newDevice(t, 16)

	err := dev.Program(make([]byte, 4), 13)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, blockdev.ErrOutOfRange))

	err = dev.Read(make([]byte, 1), 16)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, blockdev.ErrOutOfRange))

	require.NoError(t, dev.Program(make([]byte, 4), 12))
}

func TestNotOpen(t *testing.T) {
	dev, err := blockdev.NewFileDevice(afero.NewMemMapFs(), "/flash.img", 16)
	require.NoError(t, err)

	err = dev.Program([]byte{1}, 0)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, blockdev.ErrNotOpen))

	// Deinit without Init is a no-op
	require.NoError(t, dev.Deinit())
}

func TestReopenKeepsContents(t *testing.T) {
	fs := afero.NewMemMapFs()
	dev, err := blockdev.NewFileDevice(fs, "/flash.img", 32)
	require.NoError(t, err)

	require.NoError(t, dev.Init())
	require.NoError(t, dev.Program([]byte{0xAB}, 0))
	require.NoError(t, dev.Deinit())

	require.NoError(t, dev.Init())
	defer dev.Deinit()

	buf := make([]byte, 2)
	require.NoError(t, dev.Read(buf, 0))
	assert.Equal(t, []byte{0xAB, 0xFF}, buf)
}
