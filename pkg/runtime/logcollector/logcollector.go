// Package logcollector buffers raw bytes from a workload's output stream
// into complete lines, regardless of how the underlying reader chooses to
// chunk its reads.
package logcollector

import (
	"bytes"
	"io"
)

const lineFeed = '\n'

// LineCollector reads from an underlying stream and hands back complete
// lines, buffering any trailing partial line across calls. It is the
// generic implementation any Connector's log fetcher can wrap a
// subprocess's stdout, or a container runtime's attached IO, in.
type LineCollector struct {
	reader   io.Reader
	buffered bytes.Buffer
}

// New wraps reader in a LineCollector.
func New(reader io.Reader) *LineCollector {
	return &LineCollector{reader: reader}
}

// NextLines blocks on the underlying reader until at least one newline has
// been seen, then returns every complete line accumulated so far. At
// end-of-stream it returns any final partial line once, then reports ok =
// false on every subsequent call.
func (c *LineCollector) NextLines() (lines []string, ok bool) {
	buf := make([]byte, 4096)

	for {
		if queued := c.drainCompleteLines(); len(queued) > 0 {
			return queued, true
		}

		n, err := c.reader.Read(buf)
		if n > 0 {
			c.buffered.Write(buf[:n])
		}
		if err != nil {
			lines := c.drainCompleteLines()
			if c.buffered.Len() > 0 {
				lines = append(lines, c.buffered.String())
				c.buffered.Reset()
			}
			if len(lines) > 0 {
				return lines, true
			}
			return nil, false
		}
	}
}

// drainCompleteLines removes and returns every newline-terminated line
// currently buffered, leaving any trailing partial line in place.
func (c *LineCollector) drainCompleteLines() []string {
	var lines []string
	for {
		data := c.buffered.Bytes()
		idx := bytes.IndexByte(data, lineFeed)
		if idx < 0 {
			return lines
		}
		line := make([]byte, idx)
		copy(line, data[:idx])
		c.buffered.Next(idx + 1)
		lines = append(lines, string(line))
	}
}
