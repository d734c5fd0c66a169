// Package controlinterface implements the per-workload control interface:
// a pair of FIFOs under a workload's pipes directory, an authorizer gating
// which parts of state and which workloads' logs a workload may request,
// and a length-delimited wire codec for the messages carried over the
// pipes.
package controlinterface

import "strings"

// pathSeparator matches the separator the complete state tree's own field
// masks use, so a rule's filter mask and a request's path compare directly
// without reformatting either side.
const pathSeparator = "."

// Path is a dot-separated location within the complete state tree, split
// into its sections for prefix/wildcard comparison against access rules.
type Path struct {
	Sections []string
}

// NewPath splits value on the path separator. An empty string yields a
// Path with no sections, matching the root of the state tree.
func NewPath(value string) Path {
	if value == "" {
		return Path{}
	}
	return Path{Sections: strings.Split(value, pathSeparator)}
}

// String re-joins the path's sections with the path separator.
func (p Path) String() string {
	return strings.Join(p.Sections, pathSeparator)
}
