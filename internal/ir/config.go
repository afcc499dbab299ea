package ir

import "fmt"

// Config represents the top-level configuration: the full set of declared
// resources for one run. Declaration order is significant: it breaks ties
// between resources with no mutual dependency so plans stay deterministic.
type Config struct {
	Resources []*Resource `pkl:"resources" json:"resources"`
}

// DuplicateResourceError indicates the same (type, name) pair was declared
// twice in one configuration load.
type DuplicateResourceError struct {
	ID Identity
}

func (e *DuplicateResourceError) Error() string {
	return fmt.Sprintf("resource %s declared more than once", e.ID)
}

// UnknownResourceError indicates a lookup of a resource absent from the
// configuration.
type UnknownResourceError struct {
	ID Identity
}

func (e *UnknownResourceError) Error() string {
	return fmt.Sprintf("unknown resource %s", e.ID)
}

// Declare registers a resource. It fails with *DuplicateResourceError if
// the (type, name) pair is already declared.
func (c *Config) Declare(resourceType, name, providerName string, attrs map[string]any) (*Resource, error) {
	id := Identity{Type: resourceType, Name: name}
	for _, res := range c.Resources {
		if res.Identity() == id {
			return nil, &DuplicateResourceError{ID: id}
		}
	}
	res := &Resource{
		Type:       resourceType,
		Name:       name,
		Provider:   providerName,
		Attributes: attrs,
	}
	c.Resources = append(c.Resources, res)
	return res, nil
}

// Resource returns the declared resource for (type, name), or
// *UnknownResourceError if absent.
func (c *Config) Resource(resourceType, name string) (*Resource, error) {
	id := Identity{Type: resourceType, Name: name}
	for _, res := range c.Resources {
		if res.Identity() == id {
			return res, nil
		}
	}
	return nil, &UnknownResourceError{ID: id}
}

// AttributesOf returns the raw (possibly reference-laden) attribute map of
// a declared resource.
func (c *Config) AttributesOf(resourceType, name string) (map[string]any, error) {
	res, err := c.Resource(resourceType, name)
	if err != nil {
		return nil, err
	}
	return res.Attributes, nil
}

// Validate checks the invariants a parsed configuration must satisfy before
// graph construction: unique identities and non-empty names. Configurations
// built through Declare are valid by construction; this covers configs
// loaded from evaluated files.
func (c *Config) Validate() error {
	seen := make(map[Identity]bool, len(c.Resources))
	for _, res := range c.Resources {
		if res.Type == "" || res.Name == "" {
			return fmt.Errorf("resource %q/%q: type and name are required", res.Type, res.Name)
		}
		id := res.Identity()
		if seen[id] {
			return &DuplicateResourceError{ID: id}
		}
		seen[id] = true
	}
	return nil
}
