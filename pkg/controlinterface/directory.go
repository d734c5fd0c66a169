package controlinterface

import (
	"fmt"
	"os"
)

// directoryMode is the permission the pipes directory is created with;
// only this agent and the workload process it hands the pipes to need
// access.
const directoryMode = 0o700

// directory owns the lifecycle of one workload's pipes folder: the parent
// of its input and output FIFOs.
type directory struct {
	path string
}

func newDirectory(path string) (*directory, error) {
	if err := os.MkdirAll(path, directoryMode); err != nil {
		return nil, fmt.Errorf("create pipes directory %s: %w", path, err)
	}
	return &directory{path: path}, nil
}

func (d *directory) Path() string {
	return d.path
}

func (d *directory) Remove() error {
	if err := os.RemoveAll(d.path); err != nil {
		return fmt.Errorf("remove pipes directory %s: %w", d.path, err)
	}
	return nil
}
