package controlinterface

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/cuemby/ankagent/pkg/log"
)

// agentReconnectInterval is how long WriteAll waits after a broken
// pipe before trying to reopen it, matching the reconnect interval the
// original output pipe implementation retries at when its receiver goes
// away.
const agentReconnectInterval = 100 * time.Millisecond

// OutputPipe is the write side of a control interface FIFO; the agent opens
// the workload's "input" FIFO with it. It reopens the pipe on demand: a workload process reading the other end
// may exit and restart (or never have started yet), so every write must
// tolerate "no reader yet" without the whole control interface failing.
type OutputPipe struct {
	path string
	file *os.File
}

// OpenOutputPipe returns an OutputPipe over path. Unlike a plain
// os.OpenFile, the initial open (and every reopen after a broken pipe) is
// non-blocking, so the absence of a reader is reported as an error instead
// of hanging the caller.
func OpenOutputPipe(path string) *OutputPipe {
	p := &OutputPipe{path: path}
	p.file, _ = openNonBlockingWriter(path)
	return p
}

func openNonBlockingWriter(path string) (*os.File, error) {
	fd, err := syscall.Open(path, syscall.O_WRONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s for writing: %w", path, err)
	}
	return os.NewFile(uintptr(fd), path), nil
}

// WriteAll writes buf to the pipe, reopening and retrying every
// agentReconnectInterval while the receiving end is gone (ENXIO on open,
// or EPIPE on write once the reader has disappeared mid-stream).
func (p *OutputPipe) WriteAll(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	for {
		err := p.tryWriteAll(buf)
		if err == nil {
			return nil
		}
		if !isBrokenPipe(err) {
			return err
		}
		p.file = nil
		log.WithComponent("control_interface").Debug().Str("path", p.path).Msg("broken pipe, waiting for a reader before retrying")
		time.Sleep(agentReconnectInterval)
	}
}

func (p *OutputPipe) tryWriteAll(buf []byte) error {
	if p.file == nil {
		file, err := openNonBlockingWriter(p.path)
		if err != nil {
			return err
		}
		p.file = file
	}
	_, err := p.file.Write(buf)
	return err
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ENXIO) || errors.Is(err, os.ErrClosed)
}

// Close releases the underlying file descriptor, if one is currently open.
func (p *OutputPipe) Close() error {
	if p.file == nil {
		return nil
	}
	return p.file.Close()
}
