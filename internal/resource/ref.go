package resource

import (
	"fmt"
	"strings"
)

// Ref is the fully qualified identity of a resource.
type Ref struct {
	Kind string
	Name string
}

// String returns the canonical "Kind.Name" form.
func (r Ref) String() string {
	return r.Kind + "." + r.Name
}

// ParseRef splits a "Kind.Name" reference at its last dot. Kinds are
// themselves dot-segmented, so only the final segment is the name.
func ParseRef(s string) (Ref, error) {
	i := strings.LastIndex(s, ".")
	if i <= 0 || i == len(s)-1 {
		return Ref{}, fmt.Errorf("invalid resource reference %q: want \"Kind.Name\"", s)
	}
	return Ref{Kind: s[:i], Name: s[i+1:]}, nil
}
