// Package pid guards against two daemons driving the same GPIO lines.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/loadlogger/internal/errors"
	"codeberg.org/mutker/loadlogger/internal/logger"
)

const fileName = "loadlogger.pid"

// File is a PID file in a directory.
type File struct {
	path string
}

// New returns the PID file in dir. An empty dir uses the system temp dir.
func New(dir string) *File {
	if dir == "" {
		dir = os.TempDir()
	}
	return &File{path: filepath.Join(dir, fileName)}
}

func (f *File) Path() string { return f.path }

// Write records the current process ID. It fails with already_running when
// the file names another live process; a stale file is replaced.
func (f *File) Write() error {
	errFactory := errors.New()

	if owner, ok := f.owner(); ok && owner != os.Getpid() {
		if alive(owner) {
			return errFactory.WithData(errors.ErrAlreadyRunning, owner)
		}
		logger.Warn().Int("pid", owner).Str("path", f.path).Msg("Replacing stale PID file")
	}

	if err := os.WriteFile(f.path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove deletes the PID file if it exists.
func (f *File) Remove() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}
	return nil
}

// owner returns the PID stored in the file, if it holds a valid one.
func (f *File) owner() (int, bool) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, false
	}

	return pid, true
}

func alive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
