package engine

import (
	"fmt"
	"strings"
)

// UnresolvedReferenceError indicates an attribute or depends_on entry that
// names a resource absent from the configuration.
type UnresolvedReferenceError struct {
	From string // consuming resource address
	To   string // missing target address
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("resource %s references %s, which is not declared in this configuration", e.From, e.To)
}

// CyclicDependencyError carries the full cycle path for diagnostics. The
// path starts and ends at the same address.
type CyclicDependencyError struct {
	Path []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

// DanglingReferenceError indicates a plan that would delete a resource
// while a surviving resource still references it.
type DanglingReferenceError struct {
	From string // surviving resource
	To   string // resource pending deletion
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("resource %s still references %s, which is pending deletion", e.From, e.To)
}

// PartialApplyError is returned when a run completes with at least one
// failed or skipped operation. It carries the full per-operation result
// list so the caller can re-run idempotently after addressing the cause.
type PartialApplyError struct {
	Result *ExecutionResult
}

func (e *PartialApplyError) Error() string {
	failed, skipped := 0, 0
	for _, res := range e.Result.Results {
		switch res.Status {
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		}
	}
	return fmt.Sprintf("apply incomplete: %d operation(s) failed, %d skipped", failed, skipped)
}
