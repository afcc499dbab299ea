package ir

import "strings"

// Identity uniquely names a declared resource within a configuration.
type Identity struct {
	Type string `pkl:"type" json:"type"`
	Name string `pkl:"name" json:"name"`
}

// Address returns the canonical "type.name" form used throughout plans,
// graphs, and state.
func (id Identity) Address() string {
	return id.Type + "." + id.Name
}

func (id Identity) String() string { return id.Address() }

// ParseAddress splits a "type.name" address back into an Identity.
// Types may themselves contain dots (e.g. "aws.s3.Bucket"), so the split
// happens at the last dot.
func ParseAddress(addr string) (Identity, bool) {
	i := strings.LastIndex(addr, ".")
	if i <= 0 || i == len(addr)-1 {
		return Identity{}, false
	}
	return Identity{Type: addr[:i], Name: addr[i+1:]}, true
}

// Resource is a single declared unit of desired state. Attribute values may
// be literals or contain references to other resources' output attributes.
type Resource struct {
	Type       string         `pkl:"type" json:"type"`
	Name       string         `pkl:"name" json:"name"`
	Provider   string         `pkl:"provider" json:"provider"`
	DependsOn  []string       `pkl:"dependsOn" json:"dependsOn,omitempty"`
	Attributes map[string]any `pkl:"attributes" json:"attributes"`
}

func (r *Resource) Identity() Identity {
	return Identity{Type: r.Type, Name: r.Name}
}

func (r *Resource) Address() string { return r.Identity().Address() }

// CloneAttributes returns a deep copy of the resource's attribute map so
// callers can resolve references without mutating the declaration.
func (r *Resource) CloneAttributes() map[string]any {
	return cloneMap(r.Attributes)
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
