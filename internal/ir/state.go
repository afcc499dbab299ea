package ir

import (
	"time"

	"github.com/google/uuid"
)

// StateVersion is the current state serialization format version.
const StateVersion = 1

// State is the persisted record set of applied resources. Serial increments
// on every flush; Lineage is fixed at creation and distinguishes unrelated
// state histories.
type State struct {
	Version   int       `json:"version"`
	Serial    int       `json:"serial"`
	Lineage   string    `json:"lineage"`
	Resources []*Record `json:"resources"`
}

// Record is the persisted tuple for one applied resource: identity,
// provider-assigned id, last-applied attribute snapshot, provider outputs,
// the dependency addresses it was created with, and the apply timestamp.
// Dependencies are kept so deletions of removed resources can be ordered
// against a graph that no longer exists in the configuration.
type Record struct {
	Type         string         `json:"type"`
	Name         string         `json:"name"`
	Provider     string         `json:"provider"`
	ID           string         `json:"id"`
	Attributes   map[string]any `json:"attributes"`
	Outputs      map[string]any `json:"outputs,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	AppliedAt    time.Time      `json:"appliedAt"`
}

func (r *Record) Identity() Identity {
	return Identity{Type: r.Type, Name: r.Name}
}

func (r *Record) Address() string { return r.Identity().Address() }

// Output returns the named output attribute, falling back to the applied
// attribute snapshot for inputs that pass through unchanged.
func (r *Record) Output(attr string) (any, bool) {
	if v, ok := r.Outputs[attr]; ok {
		return v, true
	}
	v, ok := r.Attributes[attr]
	return v, ok
}

// NewState returns an empty state with a fresh lineage.
func NewState() *State {
	return &State{
		Version: StateVersion,
		Lineage: uuid.NewString(),
	}
}
