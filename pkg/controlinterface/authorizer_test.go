package controlinterface

import (
	"testing"

	"github.com/cuemby/ankagent/pkg/types"
)

func TestPathPattern_PrefixAndWildcardMatch(t *testing.T) {
	p := NewPathPattern("workloads.*.runtime")

	if ok, _ := p.Matches(NewPath("workloads.nginx.runtime")); !ok {
		t.Error("wildcard section should match any single section")
	}
	if ok, _ := p.Matches(NewPath("workloads.nginx.runtime.extra")); !ok {
		t.Error("pattern should match as a prefix of a longer path")
	}
	if ok, _ := p.Matches(NewPath("workloads.nginx")); ok {
		t.Error("pattern should not match a path shorter than itself")
	}
	if ok, _ := p.Matches(NewPath("agents.nginx.runtime")); ok {
		t.Error("literal section should not match a differing section")
	}
}

func TestLogRule_Matches(t *testing.T) {
	rule := NewLogRule([]string{"workload1", "workload2"})

	if !rule.Matches("workload1") || !rule.Matches("workload2") {
		t.Error("LogRule should match every named workload")
	}
	if rule.Matches("workload3") {
		t.Error("LogRule should not match an unnamed workload")
	}
}

func TestAuthorizer_NilAccessGrantsFullAccess(t *testing.T) {
	a := NewAuthorizer(nil)

	if !a.AuthorizeState(NewPath("anything.at.all"), types.AccessWrite) {
		t.Error("nil access should grant full state access")
	}
	if !a.AuthorizeLog("any-workload") {
		t.Error("nil access should grant full log access")
	}
}

func TestAuthorizer_DenyOverridesAllow(t *testing.T) {
	access := &types.ControlInterfaceAccess{
		AllowStateRules: []types.AccessRule{{Operation: types.AccessRead, FilterMasks: []string{"workloads"}}},
		DenyStateRules:  []types.AccessRule{{Operation: types.AccessRead, FilterMasks: []string{"workloads.secret"}}},
	}
	a := NewAuthorizer(access)

	if !a.AuthorizeState(NewPath("workloads.nginx"), types.AccessRead) {
		t.Error("expected access to a path only matched by the allow rule")
	}
	if a.AuthorizeState(NewPath("workloads.secret.value"), types.AccessRead) {
		t.Error("expected deny rule to override the broader allow rule")
	}
}

func TestAuthorizer_NoMatchingAllowRuleDeniesByDefault(t *testing.T) {
	access := &types.ControlInterfaceAccess{
		AllowStateRules: []types.AccessRule{{Operation: types.AccessRead, FilterMasks: []string{"workloads"}}},
	}
	a := NewAuthorizer(access)

	if a.AuthorizeState(NewPath("agents.agent_A"), types.AccessRead) {
		t.Error("expected default deny for a path matching no allow rule")
	}
}

func TestAuthorizer_OperationsAreIndependent(t *testing.T) {
	access := &types.ControlInterfaceAccess{
		AllowStateRules: []types.AccessRule{{Operation: types.AccessRead, FilterMasks: []string{"workloads"}}},
	}
	a := NewAuthorizer(access)

	if a.AuthorizeState(NewPath("workloads.nginx"), types.AccessWrite) {
		t.Error("a read-only allow rule should not grant write access")
	}
}
