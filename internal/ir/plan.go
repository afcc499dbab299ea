package ir

import "time"

// Action is the planned disposition of a single resource.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionNoOp   Action = "noop"
)

// Operation is one step of a plan. Create and Update carry the desired
// resource; Update and Delete carry the last-applied state record.
type Operation struct {
	Address string                    `json:"address"`
	Action  Action                    `json:"action"`
	Desired *Resource                 `json:"desired,omitempty"`
	Prior   *Record                   `json:"prior,omitempty"`
	Diff    map[string]*AttributeDiff `json:"diff,omitempty"`
}

// AttributeDiff records the before/after values of one changed attribute.
type AttributeDiff struct {
	Before any    `json:"before,omitempty"`
	After  any    `json:"after,omitempty"`
	Action Action `json:"action"`
}

// Summary counts planned operations by action.
type Summary struct {
	Create int `json:"create"`
	Update int `json:"update"`
	Delete int `json:"delete"`
	NoOp   int `json:"noop"`
}

// Plan is an ordered operation list reconciling desired against
// last-applied state. Executing the operations in order never touches a
// resource before everything it references has reached a terminal outcome.
type Plan struct {
	CreatedAt  time.Time    `json:"createdAt"`
	Operations []*Operation `json:"operations"`
	Summary    *Summary     `json:"summary"`
}

// Changes returns the operations that mutate something (everything except
// NoOp).
func (p *Plan) Changes() []*Operation {
	var out []*Operation
	for _, op := range p.Operations {
		if op.Action != ActionNoOp {
			out = append(out, op)
		}
	}
	return out
}
