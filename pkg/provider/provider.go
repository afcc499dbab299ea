// Package provider defines the contract between the orchestration engine
// and the systems that actually create, read, update, and delete resources.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Read when the remote resource no longer exists.
var ErrNotFound = errors.New("provider: resource not found")

// CreateResult carries the provider-assigned identifier and output
// attributes of a newly created resource.
type CreateResult struct {
	ID      string
	Outputs map[string]any
}

// Provider is implemented once per remote system. All calls are blocking
// network round-trips and must honor context cancellation and deadlines.
type Provider interface {
	// Create provisions a new resource and returns its provider-assigned
	// identifier together with any computed output attributes.
	Create(ctx context.Context, resourceType string, attrs map[string]any) (*CreateResult, error)

	// Read fetches the current remote attributes of a resource.
	// Returns ErrNotFound if the resource no longer exists remotely.
	Read(ctx context.Context, resourceType, id string) (map[string]any, error)

	// Update reconfigures an existing resource in place and returns the
	// refreshed output attributes.
	Update(ctx context.Context, resourceType, id string, attrs map[string]any) (map[string]any, error)

	// Delete removes the resource. Deleting an already-absent resource
	// must succeed.
	Delete(ctx context.Context, resourceType, id string) error
}

// ErrorKind classifies a provider failure for retry purposes.
type ErrorKind int

const (
	// Permanent failures (validation errors, conflicts) are surfaced
	// immediately and never retried.
	Permanent ErrorKind = iota

	// Transient failures (throttling, timeouts, connection resets) are
	// eligible for retry with backoff.
	Transient
)

func (k ErrorKind) String() string {
	if k == Transient {
		return "transient"
	}
	return "permanent"
}

// Error is the tagged error type providers return for remote failures.
type Error struct {
	Kind ErrorKind
	Op   string // "create", "read", "update", "delete"
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewTransient wraps err as a retryable provider error.
func NewTransient(op string, err error) *Error {
	return &Error{Kind: Transient, Op: op, Err: err}
}

// NewPermanent wraps err as a non-retryable provider error.
func NewPermanent(op string, err error) *Error {
	return &Error{Kind: Permanent, Op: op, Err: err}
}

// IsTransient reports whether err carries an explicit Transient tag.
// Context deadline expiry counts as transient: a timed-out call may be
// retried with a fresh deadline.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == Transient
	}
	return errors.Is(err, context.DeadlineExceeded)
}
