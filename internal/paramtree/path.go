package paramtree

import "strings"

// Wildcard is the path segment that selects every child of a branch.
const Wildcard = "*"

// Path is a parsed slash-delimited parameter path. Sequence items are
// addressed by their decimal index.
type Path []string

// ParsePath splits s on "/" and drops empty segments, so leading,
// trailing and repeated slashes are ignored.
func ParsePath(s string) Path {
	parts := strings.Split(s, "/")
	p := make(Path, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			p = append(p, part)
		}
	}
	return p
}

// String joins the segments with "/".
func (p Path) String() string {
	return strings.Join(p, "/")
}

// Join returns a new path with segs appended. p is never modified.
func (p Path) Join(segs ...string) Path {
	out := make(Path, 0, len(p)+len(segs))
	out = append(out, p...)
	return append(out, segs...)
}

// Last returns the final segment, or "" for the empty path.
func (p Path) Last() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// HasWildcard reports whether any segment is the wildcard.
func (p Path) HasWildcard() bool {
	for _, seg := range p {
		if seg == Wildcard {
			return true
		}
	}
	return false
}
