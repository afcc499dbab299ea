// Package engine computes and executes reconciliation plans: it diffs
// desired configuration against last-applied state and drives resource
// providers in dependency order.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/applyr-io/applyr/internal/ir"
	"github.com/applyr-io/applyr/internal/logging"
	"github.com/applyr-io/applyr/internal/provider"
	"github.com/applyr-io/applyr/internal/state"
)

const defaultParallelism = 10

// Engine orchestrates the lifecycle of resources against a state store and
// a provider registry.
type Engine struct {
	registry *provider.Registry
	store    state.Store

	// Parallelism bounds the number of concurrently executing
	// operations. Zero means defaultParallelism.
	Parallelism int

	// OperationTimeout is the per-provider-call timeout. Zero means
	// DefaultTimeout. An exceeded timeout counts as a transient failure.
	OperationTimeout time.Duration

	// Retry overrides the retry policy for transient provider errors.
	Retry *RetryPolicy
}

func New(registry *provider.Registry, store state.Store) *Engine {
	return &Engine{
		registry: registry,
		store:    store,
	}
}

// Plan computes the ordered operation list reconciling cfg with the state
// store. Planning is pure: it makes no provider calls and never mutates
// state, so any validation error aborts before the first side effect.
func (e *Engine) Plan(ctx context.Context, cfg *ir.Config) (*ir.Plan, error) {
	graph, err := BuildGraph(cfg)
	if err != nil {
		return nil, err
	}

	records, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}
	logging.Debug("planning", "resources", len(cfg.Resources), "state_records", len(records))

	recordByAddr := make(map[string]*ir.Record, len(records))
	for _, rec := range records {
		recordByAddr[rec.Address()] = rec
	}
	configByAddr := make(map[string]*ir.Resource, len(cfg.Resources))
	for _, res := range cfg.Resources {
		configByAddr[res.Address()] = res
	}

	// Records whose identity vanished from the configuration become
	// deletions. A surviving record that still depends on a vanished one
	// means the configuration would leave a dangling reference; fail
	// before planning any operation.
	removed := make(map[string]*ir.Record)
	for _, rec := range records {
		if _, ok := configByAddr[rec.Address()]; !ok {
			removed[rec.Address()] = rec
		}
	}
	for _, rec := range records {
		if _, gone := removed[rec.Address()]; gone {
			continue
		}
		for _, dep := range rec.Dependencies {
			if _, gone := removed[dep]; gone {
				return nil, &DanglingReferenceError{From: rec.Address(), To: dep}
			}
		}
	}

	plan := &ir.Plan{
		CreatedAt: time.Now().UTC(),
		Summary:   &ir.Summary{},
	}

	// References resolve against values already planned in this pass
	// first, then against outputs recorded in state. Resources are planned
	// in topological order, so a producer's planned attributes are always
	// available before any dependent resolves against them; a changed
	// producer attribute therefore cascades into the dependent's diff in
	// the same run. Provider-assigned outputs absent from the planned
	// attributes still come from the state record.
	planned := make(map[string]map[string]any, len(cfg.Resources))
	lookup := func(ref ir.Reference) (any, bool) {
		if attrs, ok := planned[ref.Target.Address()]; ok {
			if v, ok := attrs[ref.Attribute]; ok {
				return v, true
			}
		}
		rec, ok := recordByAddr[ref.Target.Address()]
		if !ok {
			return nil, false
		}
		return rec.Output(ref.Attribute)
	}

	for _, addr := range graph.Order() {
		res := configByAddr[addr]
		resolved := ir.ResolveAttributes(res.Attributes, lookup)
		planned[addr] = resolved

		rec, exists := recordByAddr[addr]
		switch {
		case !exists:
			plan.Operations = append(plan.Operations, &ir.Operation{
				Address: addr,
				Action:  ir.ActionCreate,
				Desired: res,
				Diff:    createDiff(resolved),
			})
			plan.Summary.Create++
		case !attributesEqual(resolved, rec.Attributes):
			plan.Operations = append(plan.Operations, &ir.Operation{
				Address: addr,
				Action:  ir.ActionUpdate,
				Desired: res,
				Prior:   rec,
				Diff:    updateDiff(rec.Attributes, resolved),
			})
			plan.Summary.Update++
		default:
			plan.Operations = append(plan.Operations, &ir.Operation{
				Address: addr,
				Action:  ir.ActionNoOp,
				Desired: res,
				Prior:   rec,
			})
			plan.Summary.NoOp++
		}
	}

	if len(removed) > 0 {
		deletes, err := deleteOperations(records, removed)
		if err != nil {
			return nil, err
		}
		plan.Operations = append(plan.Operations, deletes...)
		plan.Summary.Delete += len(deletes)
	}

	return plan, nil
}

// PlanDestroy computes a plan that deletes every resource in the state
// store, in reverse dependency order.
func (e *Engine) PlanDestroy(ctx context.Context) (*ir.Plan, error) {
	records, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}

	removed := make(map[string]*ir.Record, len(records))
	for _, rec := range records {
		removed[rec.Address()] = rec
	}

	plan := &ir.Plan{
		CreatedAt: time.Now().UTC(),
		Summary:   &ir.Summary{},
	}
	deletes, err := deleteOperations(records, removed)
	if err != nil {
		return nil, err
	}
	plan.Operations = deletes
	plan.Summary.Delete = len(deletes)
	return plan, nil
}

// deleteOperations orders deletions by the last-known graph, reconstructed
// from persisted dependency lists: dependents are deleted before their
// dependencies.
func deleteOperations(records []*ir.Record, removed map[string]*ir.Record) ([]*ir.Operation, error) {
	priorGraph, err := BuildGraphFromState(records)
	if err != nil {
		return nil, err
	}

	var ops []*ir.Operation
	for _, addr := range priorGraph.ReverseOrder() {
		rec, ok := removed[addr]
		if !ok {
			continue
		}
		ops = append(ops, &ir.Operation{
			Address: addr,
			Action:  ir.ActionDelete,
			Prior:   rec,
			Diff:    deleteDiff(rec.Attributes),
		})
	}
	return ops, nil
}

// attributesEqual compares attribute maps through their canonical JSON
// encoding, which normalizes numeric types and map key order.
func attributesEqual(a, b map[string]any) bool {
	return bytes.Equal(canonical(a), canonical(b))
}

func valuesEqual(a, b any) bool {
	return bytes.Equal(canonical(a), canonical(b))
}

func canonical(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return []byte(err.Error())
	}
	return raw
}

func createDiff(attrs map[string]any) map[string]*ir.AttributeDiff {
	diff := make(map[string]*ir.AttributeDiff, len(attrs))
	for k, v := range attrs {
		diff[k] = &ir.AttributeDiff{After: v, Action: ir.ActionCreate}
	}
	return diff
}

func deleteDiff(attrs map[string]any) map[string]*ir.AttributeDiff {
	diff := make(map[string]*ir.AttributeDiff, len(attrs))
	for k, v := range attrs {
		diff[k] = &ir.AttributeDiff{Before: v, Action: ir.ActionDelete}
	}
	return diff
}

func updateDiff(prior, desired map[string]any) map[string]*ir.AttributeDiff {
	diff := make(map[string]*ir.AttributeDiff)

	allKeys := make(map[string]bool, len(prior)+len(desired))
	for k := range prior {
		allKeys[k] = true
	}
	for k := range desired {
		allKeys[k] = true
	}

	for k := range allKeys {
		priorVal, inPrior := prior[k]
		desiredVal, inDesired := desired[k]

		switch {
		case !inPrior:
			diff[k] = &ir.AttributeDiff{After: desiredVal, Action: ir.ActionCreate}
		case !inDesired:
			diff[k] = &ir.AttributeDiff{Before: priorVal, Action: ir.ActionDelete}
		case !valuesEqual(priorVal, desiredVal):
			diff[k] = &ir.AttributeDiff{Before: priorVal, After: desiredVal, Action: ir.ActionUpdate}
		}
	}

	return diff
}
