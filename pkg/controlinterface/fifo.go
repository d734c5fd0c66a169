package controlinterface

import (
	"fmt"
	"os"
	"syscall"
)

// fifoMode matches the permissions the agent itself needs plus the
// workload process it is handing the pipe to; both run as the same user
// in every supported deployment so group/other bits are left closed.
const fifoMode = 0o600

// Fifo owns the lifecycle of one named pipe on disk: reusing it if it
// already exists (an agent restart recovering a workload's existing
// control interface), creating it otherwise, and removing it when the
// workload's control interface is torn down.
type Fifo struct {
	path string
}

// NewFifo ensures a named pipe exists at path, creating it if necessary,
// and returns a Fifo owning it.
func NewFifo(path string) (*Fifo, error) {
	if isFifo(path) {
		return &Fifo{path: path}, nil
	}
	if err := syscall.Mkfifo(path, fifoMode); err != nil {
		return nil, fmt.Errorf("create fifo %s: %w", path, err)
	}
	return &Fifo{path: path}, nil
}

func isFifo(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeNamedPipe != 0
}

// Path returns the filesystem path of the pipe.
func (f *Fifo) Path() string {
	return f.path
}

// Remove deletes the pipe from disk. It is idempotent: removing an
// already-gone pipe is not an error, matching a workload's control
// interface being torn down more than once during shutdown.
func (f *Fifo) Remove() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove fifo %s: %w", f.path, err)
	}
	return nil
}
