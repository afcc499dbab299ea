package ir

import (
	"fmt"
	"regexp"
	"strings"
)

// Reference is a typed edge from a consuming attribute to a producing
// resource's output attribute. On the wire it is written
// "ref://<type>/<name>/<attribute>"; at graph-build time every occurrence
// is parsed into this form so the dependency structure is checkable.
type Reference struct {
	Target    Identity
	Attribute string
}

func (ref Reference) String() string {
	return fmt.Sprintf("ref://%s/%s/%s", ref.Target.Type, ref.Target.Name, ref.Attribute)
}

var refPattern = regexp.MustCompile(`ref://([A-Za-z0-9_.\-]+)/([A-Za-z0-9_\-]+)/([A-Za-z0-9_.\-]+)`)

// ParseReference parses s as a single whole-string reference.
func ParseReference(s string) (Reference, bool) {
	if !strings.HasPrefix(s, "ref://") {
		return Reference{}, false
	}
	m := refPattern.FindStringSubmatch(s)
	if m == nil || m[0] != s {
		return Reference{}, false
	}
	return Reference{
		Target:    Identity{Type: m[1], Name: m[2]},
		Attribute: m[3],
	}, true
}

// FindReferences returns every reference embedded in s. A single attribute
// string may interpolate several references.
func FindReferences(s string) []Reference {
	var refs []Reference
	for _, m := range refPattern.FindAllStringSubmatch(s, -1) {
		refs = append(refs, Reference{
			Target:    Identity{Type: m[1], Name: m[2]},
			Attribute: m[3],
		})
	}
	return refs
}

// ExtractReferences walks an attribute value (scalars, nested maps, lists)
// and collects every reference it contains.
func ExtractReferences(v any) []Reference {
	var refs []Reference
	switch val := v.(type) {
	case string:
		refs = append(refs, FindReferences(val)...)
	case map[string]any:
		for _, item := range val {
			refs = append(refs, ExtractReferences(item)...)
		}
	case map[any]any:
		for _, item := range val {
			refs = append(refs, ExtractReferences(item)...)
		}
	case []any:
		for _, item := range val {
			refs = append(refs, ExtractReferences(item)...)
		}
	}
	return refs
}

// ResolveValue substitutes references inside v using lookup. A string that
// is exactly one reference resolves to the target value with its type
// preserved; references interpolated into larger strings are substituted
// textually. Unresolvable references are left in place.
func ResolveValue(v any, lookup func(Reference) (any, bool)) any {
	switch val := v.(type) {
	case string:
		if ref, ok := ParseReference(val); ok {
			if resolved, found := lookup(ref); found {
				return resolved
			}
			return val
		}
		return refPattern.ReplaceAllStringFunc(val, func(match string) string {
			ref, ok := ParseReference(match)
			if !ok {
				return match
			}
			if resolved, found := lookup(ref); found {
				return fmt.Sprintf("%v", resolved)
			}
			return match
		})
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = ResolveValue(item, lookup)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = ResolveValue(item, lookup)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = ResolveValue(item, lookup)
		}
		return out
	default:
		return v
	}
}

// ResolveAttributes applies ResolveValue to every attribute of a resource.
func ResolveAttributes(attrs map[string]any, lookup func(Reference) (any, bool)) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = ResolveValue(v, lookup)
	}
	return out
}
