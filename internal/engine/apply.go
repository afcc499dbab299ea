package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/applyr-io/applyr/internal/ir"
	"github.com/applyr-io/applyr/internal/logging"
	"github.com/applyr-io/applyr/pkg/provider"
)

// OpStatus is the executor-side state of one operation.
type OpStatus string

const (
	StatusPending    OpStatus = "pending"
	StatusInProgress OpStatus = "in_progress"
	StatusApplied    OpStatus = "applied"
	StatusFailed     OpStatus = "failed"
	StatusSkipped    OpStatus = "skipped"
	StatusNoOp       OpStatus = "noop"
)

// OperationResult is the terminal outcome of one operation.
type OperationResult struct {
	Address  string
	Action   ir.Action
	Status   OpStatus
	Duration time.Duration
	Err      error

	// BlockedBy names the failed resource that caused a skip, directly
	// or through a chain of skipped dependents.
	BlockedBy string
}

// ExecutionResult aggregates per-operation outcomes for a run.
type ExecutionResult struct {
	Results []*OperationResult
}

// Succeeded reports whether every operation reached Applied or NoOp.
func (r *ExecutionResult) Succeeded() bool {
	for _, res := range r.Results {
		if res.Status != StatusApplied && res.Status != StatusNoOp {
			return false
		}
	}
	return true
}

// Count returns the number of operations with the given status.
func (r *ExecutionResult) Count(status OpStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// ApplyEvent is a progress notification emitted as operations start and
// finish.
type ApplyEvent struct {
	Address  string
	Action   ir.Action
	Status   OpStatus
	Duration time.Duration
	Err      error
}

// ApplyCallback receives progress events during Apply if set.
type ApplyCallback func(event ApplyEvent)

// Apply executes a plan. Independent branches of the dependency graph run
// concurrently up to the configured parallelism; two operations with a
// dependency edge never start out of order. Every applied operation is
// persisted to the state store before its dependents may start, so an
// interrupted run resumes without re-creating anything that succeeded.
//
// Apply returns the per-operation results together with a
// *PartialApplyError when any operation failed or was skipped.
func (e *Engine) Apply(ctx context.Context, plan *ir.Plan) (*ExecutionResult, error) {
	return e.ApplyWithCallback(ctx, plan, nil)
}

// ApplyWithCallback is Apply with progress event callbacks.
func (e *Engine) ApplyWithCallback(ctx context.Context, plan *ir.Plan, callback ApplyCallback) (*ExecutionResult, error) {
	emit := func(event ApplyEvent) {
		if callback != nil {
			callback(event)
		}
	}

	result := &ExecutionResult{
		Results: make([]*OperationResult, len(plan.Operations)),
	}

	var changes, deletes []*execOp
	changeAddrs := make(map[string]bool)
	noops := make(map[string]bool)

	for i, op := range plan.Operations {
		res := &OperationResult{
			Address: op.Address,
			Action:  op.Action,
			Status:  StatusPending,
		}
		result.Results[i] = res

		switch op.Action {
		case ir.ActionNoOp:
			res.Status = StatusNoOp
			noops[op.Address] = true
		case ir.ActionDelete:
			deletes = append(deletes, &execOp{op: op, res: res})
		default:
			changes = append(changes, &execOp{op: op, res: res})
			changeAddrs[op.Address] = true
		}
	}

	// Creates and updates wait on the declared dependencies that have a
	// pending operation of their own; unchanged (NoOp) dependencies are
	// satisfied from the start.
	for _, eo := range changes {
		for _, dep := range dependencyAddrs(eo.op.Desired) {
			if changeAddrs[dep] || noops[dep] {
				eo.deps = append(eo.deps, dep)
			}
		}
	}

	// Deletions invert the edges: a resource may only be deleted once
	// every resource that depended on it is gone.
	deleteByAddr := make(map[string]*execOp, len(deletes))
	for _, eo := range deletes {
		deleteByAddr[eo.op.Address] = eo
	}
	for _, eo := range deletes {
		for _, dep := range eo.op.Prior.Dependencies {
			if target, ok := deleteByAddr[dep]; ok {
				target.deps = append(target.deps, eo.op.Address)
			}
		}
	}

	e.runPhase(ctx, changes, noops, emit)
	e.runPhase(ctx, deletes, nil, emit)

	if !result.Succeeded() {
		return result, &PartialApplyError{Result: result}
	}
	return result, nil
}

// execOp pairs a planned operation with its live result and the addresses
// it must wait for within its execution phase.
type execOp struct {
	op   *ir.Operation
	res  *OperationResult
	deps []string
}

// runPhase executes one group of operations concurrently, respecting
// dependency edges. satisfied holds addresses that count as already done.
// A failed or skipped operation blocks its dependents but leaves unrelated
// branches running.
func (e *Engine) runPhase(ctx context.Context, ops []*execOp, satisfied map[string]bool, emit func(ApplyEvent)) {
	if len(ops) == 0 {
		return
	}

	parallelism := e.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}

	completed := make(map[string]bool, len(satisfied)+len(ops))
	for addr := range satisfied {
		completed[addr] = true
	}
	blocked := make(map[string]string) // address -> root failed address

	var mu sync.Mutex
	cond := sync.NewCond(&mu)
	sem := make(chan struct{}, parallelism)

	var wg sync.WaitGroup
	for _, eo := range ops {
		wg.Add(1)
		go func(eo *execOp) {
			defer wg.Done()

			mu.Lock()
			for {
				blockedBy := ""
				waiting := false
				for _, dep := range eo.deps {
					if root, failed := blocked[dep]; failed {
						blockedBy = root
						break
					}
					if !completed[dep] {
						waiting = true
					}
				}
				if blockedBy != "" {
					eo.res.Status = StatusSkipped
					eo.res.BlockedBy = blockedBy
					blocked[eo.op.Address] = blockedBy
					mu.Unlock()
					cond.Broadcast()
					emit(ApplyEvent{Address: eo.op.Address, Action: eo.op.Action, Status: StatusSkipped})
					return
				}
				if !waiting {
					break
				}
				cond.Wait()
			}
			mu.Unlock()

			// Cooperative cancellation: nothing new is dispatched after
			// the signal, but operations already running finish and are
			// recorded.
			if err := ctx.Err(); err != nil {
				mu.Lock()
				eo.res.Status = StatusSkipped
				eo.res.Err = err
				blocked[eo.op.Address] = eo.op.Address
				mu.Unlock()
				cond.Broadcast()
				emit(ApplyEvent{Address: eo.op.Address, Action: eo.op.Action, Status: StatusSkipped, Err: err})
				return
			}

			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			mu.Lock()
			eo.res.Status = StatusInProgress
			mu.Unlock()
			emit(ApplyEvent{Address: eo.op.Address, Action: eo.op.Action, Status: StatusInProgress})

			err := e.applyOperation(ctx, eo.op)

			mu.Lock()
			eo.res.Duration = time.Since(start)
			if err != nil {
				eo.res.Status = StatusFailed
				eo.res.Err = err
				blocked[eo.op.Address] = eo.op.Address
			} else {
				eo.res.Status = StatusApplied
				completed[eo.op.Address] = true
			}
			status := eo.res.Status
			mu.Unlock()
			cond.Broadcast()
			emit(ApplyEvent{Address: eo.op.Address, Action: eo.op.Action, Status: status, Duration: eo.res.Duration, Err: err})
		}(eo)
	}

	wg.Wait()
}

// applyOperation performs one provider call with timeout and retry, then
// persists the outcome. The call itself runs detached from the run
// context so cancellation never abandons a half-created remote resource.
func (e *Engine) applyOperation(ctx context.Context, op *ir.Operation) error {
	logging.Debug("applying operation", "address", op.Address, "action", op.Action)

	timeout := e.OperationTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	baseCtx := context.WithoutCancel(ctx)

	lookup := func(ref ir.Reference) (any, bool) {
		rec, err := e.store.Get(baseCtx, ref.Target)
		if err != nil {
			return nil, false
		}
		return rec.Output(ref.Attribute)
	}

	switch op.Action {
	case ir.ActionCreate:
		prov, err := e.registry.Get(op.Desired.Provider)
		if err != nil {
			return err
		}
		resolved := ir.ResolveAttributes(op.Desired.Attributes, lookup)

		var created *provider.CreateResult
		err = RetryWithBackoff(ctx, e.Retry, func() error {
			callCtx, cancel := context.WithTimeout(baseCtx, timeout)
			defer cancel()
			var callErr error
			created, callErr = prov.Create(callCtx, op.Desired.Type, resolved)
			return callErr
		}, isRetryable)
		if err != nil {
			return fmt.Errorf("create failed for %s: %w", op.Address, err)
		}

		rec := &ir.Record{
			Type:         op.Desired.Type,
			Name:         op.Desired.Name,
			Provider:     op.Desired.Provider,
			ID:           created.ID,
			Attributes:   resolved,
			Outputs:      created.Outputs,
			Dependencies: dependencyAddrs(op.Desired),
			AppliedAt:    time.Now().UTC(),
		}
		if err := e.store.Put(baseCtx, rec); err != nil {
			return fmt.Errorf("failed to persist state for %s: %w", op.Address, err)
		}

	case ir.ActionUpdate:
		prov, err := e.registry.Get(op.Desired.Provider)
		if err != nil {
			return err
		}
		resolved := ir.ResolveAttributes(op.Desired.Attributes, lookup)

		var outputs map[string]any
		err = RetryWithBackoff(ctx, e.Retry, func() error {
			callCtx, cancel := context.WithTimeout(baseCtx, timeout)
			defer cancel()
			var callErr error
			outputs, callErr = prov.Update(callCtx, op.Desired.Type, op.Prior.ID, resolved)
			return callErr
		}, isRetryable)
		if err != nil {
			return fmt.Errorf("update failed for %s: %w", op.Address, err)
		}

		rec := &ir.Record{
			Type:         op.Desired.Type,
			Name:         op.Desired.Name,
			Provider:     op.Desired.Provider,
			ID:           op.Prior.ID,
			Attributes:   resolved,
			Outputs:      outputs,
			Dependencies: dependencyAddrs(op.Desired),
			AppliedAt:    time.Now().UTC(),
		}
		if err := e.store.Put(baseCtx, rec); err != nil {
			return fmt.Errorf("failed to persist state for %s: %w", op.Address, err)
		}

	case ir.ActionDelete:
		prov, err := e.registry.Get(op.Prior.Provider)
		if err != nil {
			return err
		}

		err = RetryWithBackoff(ctx, e.Retry, func() error {
			callCtx, cancel := context.WithTimeout(baseCtx, timeout)
			defer cancel()
			return prov.Delete(callCtx, op.Prior.Type, op.Prior.ID)
		}, isRetryable)
		if err != nil {
			return fmt.Errorf("delete failed for %s: %w", op.Address, err)
		}

		if err := e.store.Delete(baseCtx, op.Prior.Identity()); err != nil {
			return fmt.Errorf("failed to remove state for %s: %w", op.Address, err)
		}
	}

	return nil
}

// dependencyAddrs collects a resource's dependency addresses from explicit
// dependsOn entries and embedded references, deduplicated and sorted.
func dependencyAddrs(res *ir.Resource) []string {
	seen := make(map[string]bool)
	for _, dep := range res.DependsOn {
		seen[dep] = true
	}
	for _, ref := range ir.ExtractReferences(res.Attributes) {
		seen[ref.Target.Address()] = true
	}
	self := res.Address()
	addrs := make([]string, 0, len(seen))
	for addr := range seen {
		if addr == self {
			continue
		}
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}
