package blockdev

// Device is a byte-addressable block device.
type Device interface {
	// Init makes the device ready for Program and Read.
	Init() error
	// Deinit flushes and releases the device.
	Deinit() error
	// Program writes buf at addr.
	Program(buf []byte, addr uint64) error
	// Read fills buf from addr. Bytes never programmed read as 0xFF.
	Read(buf []byte, addr uint64) error
	// Size is the capacity in bytes.
	Size() uint64
}
