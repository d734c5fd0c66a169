package controlinterface

// StateRule is a set of path patterns that together decide whether a
// particular location in the complete state tree is in scope, generalized
// over types.AccessRule's FilterMasks.
type StateRule struct {
	patterns []PathPattern
}

// NewStateRule compiles every filter mask in masks into a StateRule.
func NewStateRule(masks []string) StateRule {
	patterns := make([]PathPattern, 0, len(masks))
	for _, mask := range masks {
		patterns = append(patterns, NewPathPattern(mask))
	}
	return StateRule{patterns: patterns}
}

// Matches reports whether any pattern in the rule matches path, and if so
// which pattern (for logging which rule granted or denied the request).
func (r StateRule) Matches(path Path) (bool, string) {
	for _, p := range r.patterns {
		if ok, reason := p.Matches(path); ok {
			return true, reason
		}
	}
	return false, ""
}

// LogRule is a set of workload names a control interface may request logs
// from.
type LogRule struct {
	workloadNames map[string]struct{}
}

// NewLogRule builds a LogRule from a list of workload names.
func NewLogRule(workloadNames []string) LogRule {
	set := make(map[string]struct{}, len(workloadNames))
	for _, name := range workloadNames {
		set[name] = struct{}{}
	}
	return LogRule{workloadNames: set}
}

// Matches reports whether workloadName is named by this rule.
func (r LogRule) Matches(workloadName string) bool {
	_, ok := r.workloadNames[workloadName]
	return ok
}
