package controlinterface

import (
	"bufio"
	"fmt"
	"os"
)

// InputPipe is the read side of a control interface FIFO. The agent opens
// the workload's "output" FIFO with it to read the stream of envelopes the
// workload process sends the agent. Opening blocks
// until a writer connects, the normal behavior of a FIFO's read end and
// exactly what a dedicated reader goroutine is expected to block on.
type InputPipe struct {
	file   *os.File
	reader *bufio.Reader
}

// OpenInputPipe blocks until a writer opens the other end of path, then
// returns an InputPipe whose Reader is ready for wire.ReadDelimited.
func OpenInputPipe(path string) (*InputPipe, error) {
	file, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s for reading: %w", path, err)
	}
	return &InputPipe{file: file, reader: bufio.NewReader(file)}, nil
}

// Reader exposes the buffered reader so wire.ReadDelimited can be driven
// directly by a forwarding loop.
func (p *InputPipe) Reader() *bufio.Reader {
	return p.reader
}

// Close releases the underlying file descriptor.
func (p *InputPipe) Close() error {
	return p.file.Close()
}
