package logger

import (
	"io"

	"codeberg.org/mutker/loadlogger/internal/errors"
	"go.bug.st/serial"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// DefaultConsoleBaudRate matches the USB CDC console of the acquisition board.
	DefaultConsoleBaudRate = 115200

	defaultMaxSizeMB  = 10
	defaultMaxBackups = 3
	defaultMaxAgeDays = 28
)

// OpenConsole opens a serial port used as a line-oriented status console.
func OpenConsole(port string, baudRate int) (io.WriteCloser, error) {
	if baudRate == 0 {
		baudRate = DefaultConsoleBaudRate
	}

	conn, err := serial.Open(port, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrOpenConsole, err).WithMessage("failed to open serial console " + port)
	}

	return conn, nil
}

// NewFileWriter returns a size-rotated log file writer.
func NewFileWriter(path string, maxSizeMB int) io.WriteCloser {
	if maxSizeMB <= 0 {
		maxSizeMB = defaultMaxSizeMB
	}

	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: defaultMaxBackups,
		MaxAge:     defaultMaxAgeDays,
		Compress:   true,
	}
}
