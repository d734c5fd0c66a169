package controlinterface

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	"github.com/cuemby/ankagent/pkg/controlinterface/wire"
	"github.com/cuemby/ankagent/pkg/log"
	"github.com/cuemby/ankagent/pkg/types"
	"github.com/rs/zerolog"
)

// inputFileName and outputFileName name the two FIFOs inside a workload's
// pipes directory, named from the workload process's point of view (it
// opens "input" for reading and "output" for writing): "input" carries
// envelopes from the agent to the workload, "output" carries envelopes
// from the workload to the agent.
const (
	inputFileName  = "input"
	outputFileName = "output"
)

// ControlInterface is one workload's full control interface: its pipes
// directory, the input/output FIFOs inside it, and the authorizer gating
// what that workload may read, write or subscribe to through it.
type ControlInterface struct {
	dir       *directory
	input     *Fifo
	output    *Fifo
	writer    *OutputPipe
	authorize *Authorizer
	logger    zerolog.Logger
}

// New creates (or reuses, on agent restart) the pipes directory at path
// and the input/output FIFOs inside it, gated by access.
func New(path string, access *types.ControlInterfaceAccess) (*ControlInterface, error) {
	dir, err := newDirectory(path)
	if err != nil {
		return nil, err
	}
	input, err := NewFifo(filepath.Join(path, inputFileName))
	if err != nil {
		return nil, err
	}
	output, err := NewFifo(filepath.Join(path, outputFileName))
	if err != nil {
		return nil, err
	}

	return &ControlInterface{
		dir:       dir,
		input:     input,
		output:    output,
		writer:    OpenOutputPipe(input.Path()),
		authorize: NewAuthorizer(access),
		logger:    log.WithComponent("control_interface"),
	}, nil
}

// Location returns the pipes directory's path, passed to the connector so
// the workload process can be told where to find its pipes.
func (c *ControlInterface) Location() string {
	return c.dir.Path()
}

// Send writes e, length-delimited, to the input pipe (the FIFO the workload
// reads), transparently retrying across a disconnected reader.
func (c *ControlInterface) Send(e wire.Envelope) error {
	var framed bytes.Buffer
	if err := wire.WriteDelimited(&framed, wire.Encode(e)); err != nil {
		return err
	}
	return c.writer.WriteAll(framed.Bytes())
}

// RunReader opens the output FIFO (blocking until the workload process
// connects) and invokes handle for every envelope it sends, until ctx is
// canceled or the pipe is closed. It is meant to run in its own goroutine
// for the lifetime of the workload.
func (c *ControlInterface) RunReader(ctx context.Context, handle func(wire.Envelope)) error {
	pipe, err := OpenInputPipe(c.output.Path())
	if err != nil {
		return fmt.Errorf("open output pipe: %w", err)
	}
	defer pipe.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			pipe.Close()
		case <-done:
		}
	}()

	for {
		data, err := wire.ReadDelimited(pipe.Reader())
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read envelope: %w", err)
		}
		envelope, err := wire.Decode(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed control interface envelope")
			continue
		}
		handle(envelope)
	}
}

// AuthorizeState reports whether this workload's access rules permit op
// on the given dot-separated state path.
func (c *ControlInterface) AuthorizeState(path string, op types.AccessOperation) bool {
	return c.authorize.AuthorizeState(NewPath(path), op)
}

// AuthorizeLog reports whether this workload's access rules permit it to
// subscribe to workloadName's logs.
func (c *ControlInterface) AuthorizeLog(workloadName string) bool {
	return c.authorize.AuthorizeLog(workloadName)
}

// Close releases the input pipe's file descriptor and removes both FIFOs
// and the pipes directory from disk.
func (c *ControlInterface) Close() error {
	if err := c.writer.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to close input pipe")
	}
	if err := c.input.Remove(); err != nil {
		c.logger.Error().Err(err).Msg("failed to remove input fifo")
	}
	if err := c.output.Remove(); err != nil {
		c.logger.Error().Err(err).Msg("failed to remove output fifo")
	}
	return c.dir.Remove()
}
