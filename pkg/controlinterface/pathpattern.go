package controlinterface

// wildcardSection matches any single path section, the same single-level
// wildcard a complete-state field mask uses.
const wildcardSection = "*"

// PathPattern is one compiled filter mask: a sequence of sections, each
// either a literal that must match exactly or a wildcard that matches any
// single section.
type PathPattern struct {
	sections []string
}

// NewPathPattern compiles a dot-separated filter mask into a PathPattern.
func NewPathPattern(mask string) PathPattern {
	return PathPattern{sections: NewPath(mask).Sections}
}

// Matches reports whether path falls under this pattern. A pattern
// matches any path that starts with its sections (field masks in the
// complete state tree select a subtree, not just a single leaf), with each
// pattern section either matching literally or, if "*", matching any
// section in that position.
func (p PathPattern) Matches(path Path) (bool, string) {
	if len(p.sections) > len(path.Sections) {
		return false, ""
	}
	for i, section := range p.sections {
		if section == wildcardSection {
			continue
		}
		if section != path.Sections[i] {
			return false, ""
		}
	}
	return true, p.String()
}

// String re-joins the pattern's sections, used as the match reason reported
// back to a caller that wants to know which rule granted or denied access.
func (p PathPattern) String() string {
	return Path{Sections: p.sections}.String()
}
