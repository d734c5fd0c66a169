package controlinterface

import "github.com/cuemby/ankagent/pkg/types"

// Authorizer decides whether a workload's control interface may read or
// write a given path in the complete state, or subscribe to another
// workload's logs, compiled once from the workload's
// types.ControlInterfaceAccess.
type Authorizer struct {
	fullAccess bool

	allowRead  []StateRule
	denyRead   []StateRule
	allowWrite []StateRule
	denyWrite  []StateRule

	allowLog []LogRule
	denyLog  []LogRule
}

// NewAuthorizer compiles access into an Authorizer. A nil access grants
// full read/write/log access, matching the default a workload with no
// access list configured gets.
func NewAuthorizer(access *types.ControlInterfaceAccess) *Authorizer {
	if access == nil {
		return &Authorizer{fullAccess: true}
	}

	a := &Authorizer{}
	for _, rule := range access.AllowStateRules {
		stateRule := NewStateRule(rule.FilterMasks)
		if rule.Operation == types.AccessWrite {
			a.allowWrite = append(a.allowWrite, stateRule)
		} else {
			a.allowRead = append(a.allowRead, stateRule)
		}
	}
	for _, rule := range access.DenyStateRules {
		stateRule := NewStateRule(rule.FilterMasks)
		if rule.Operation == types.AccessWrite {
			a.denyWrite = append(a.denyWrite, stateRule)
		} else {
			a.denyRead = append(a.denyRead, stateRule)
		}
	}
	for _, rule := range access.AllowLogRules {
		a.allowLog = append(a.allowLog, NewLogRule(rule.WorkloadNames))
	}
	for _, rule := range access.DenyLogRules {
		a.denyLog = append(a.denyLog, NewLogRule(rule.WorkloadNames))
	}
	return a
}

// AuthorizeState reports whether op is permitted on path. A matching deny
// rule always wins over a matching allow rule; with an access list
// configured and no matching allow rule, the request is denied by
// default.
func (a *Authorizer) AuthorizeState(path Path, op types.AccessOperation) bool {
	if a.fullAccess {
		return true
	}
	allow, deny := a.allowRead, a.denyRead
	if op == types.AccessWrite {
		allow, deny = a.allowWrite, a.denyWrite
	}

	for _, rule := range deny {
		if ok, _ := rule.Matches(path); ok {
			return false
		}
	}
	for _, rule := range allow {
		if ok, _ := rule.Matches(path); ok {
			return true
		}
	}
	return false
}

// AuthorizeLog reports whether the control interface may subscribe to
// workloadName's logs, with the same deny-overrides-allow precedence as
// AuthorizeState.
func (a *Authorizer) AuthorizeLog(workloadName string) bool {
	if a.fullAccess {
		return true
	}
	for _, rule := range a.denyLog {
		if rule.Matches(workloadName) {
			return false
		}
	}
	for _, rule := range a.allowLog {
		if rule.Matches(workloadName) {
			return true
		}
	}
	return false
}
