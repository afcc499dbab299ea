// Package state persists the last-applied record of every managed
// resource. Stores guarantee atomic upserts keyed by resource identity so
// concurrent executor branches can write distinct resources without
// coordination, while writes to the same identity serialize.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/applyr-io/applyr/internal/ir"
)

// ErrNotFound is returned by Get when no record exists for an identity.
var ErrNotFound = errors.New("state: record not found")

// Store is the durable, queryable record of applied resources. Records are
// mutated only by the executor after a provider call succeeds; the planner
// is a read-only consumer.
type Store interface {
	// Get returns the last snapshot for an identity, or ErrNotFound.
	Get(ctx context.Context, id ir.Identity) (*ir.Record, error)

	// Put upserts a record. The upsert is atomic per identity.
	Put(ctx context.Context, rec *ir.Record) error

	// Delete removes a record; called only after a confirmed
	// provider-side delete.
	Delete(ctx context.Context, id ir.Identity) error

	// List returns all records in insertion order.
	List(ctx context.Context) ([]*ir.Record, error)
}

// Locker is implemented by stores that support an exclusive advisory lock
// across runs.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

// LocalStore keeps state in a JSON file. Every successful mutation is
// flushed before returning, so an interrupted run leaves behind a state
// file reflecting exactly the operations that completed.
type LocalStore struct {
	path string

	mu     sync.Mutex
	loaded bool
	state  *ir.State

	identityMu sync.Map // address -> *sync.Mutex
}

// NewLocalStore returns a store backed by the JSON file at path. The file
// is created on first write.
func NewLocalStore(path string) *LocalStore {
	return &LocalStore{path: path}
}

func (s *LocalStore) load() error {
	if s.loaded {
		return nil
	}

	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.state = ir.NewState()
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read state file %s: %w", s.path, err)
	}

	raw, err = Decrypt(raw)
	if err != nil {
		return fmt.Errorf("failed to decrypt state: %w", err)
	}

	var st ir.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Errorf("failed to parse state file %s: %w", s.path, err)
	}
	s.state = &st
	s.loaded = true
	return nil
}

// flush writes the full record set atomically: serialize, write to a temp
// file in the same directory, then rename over the target.
func (s *LocalStore) flush() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	raw, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}

	raw, err = Encrypt(raw)
	if err != nil {
		return fmt.Errorf("failed to encrypt state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

func (s *LocalStore) identityLock(id ir.Identity) *sync.Mutex {
	mu, _ := s.identityMu.LoadOrStore(id.Address(), &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *LocalStore) Get(ctx context.Context, id ir.Identity) (*ir.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}
	for _, rec := range s.state.Resources {
		if rec.Identity() == id {
			return rec, nil
		}
	}
	return nil, ErrNotFound
}

func (s *LocalStore) Put(ctx context.Context, rec *ir.Record) error {
	idMu := s.identityLock(rec.Identity())
	idMu.Lock()
	defer idMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}

	replaced := false
	for i, existing := range s.state.Resources {
		if existing.Identity() == rec.Identity() {
			s.state.Resources[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		s.state.Resources = append(s.state.Resources, rec)
	}
	s.state.Serial++
	return s.flush()
}

func (s *LocalStore) Delete(ctx context.Context, id ir.Identity) error {
	idMu := s.identityLock(id)
	idMu.Lock()
	defer idMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}

	for i, existing := range s.state.Resources {
		if existing.Identity() == id {
			s.state.Resources = append(s.state.Resources[:i], s.state.Resources[i+1:]...)
			s.state.Serial++
			return s.flush()
		}
	}
	return nil
}

func (s *LocalStore) List(ctx context.Context) ([]*ir.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}
	out := make([]*ir.Record, len(s.state.Resources))
	copy(out, s.state.Resources)
	return out, nil
}

// Lock acquires a lock file next to the state file to prevent concurrent
// runs against the same state. Locks older than staleLockAge are treated as
// abandoned and broken.
func (s *LocalStore) Lock(ctx context.Context) error {
	lockPath := s.lockPath()
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	if info, err := os.Stat(lockPath); err == nil {
		if time.Since(info.ModTime()) > staleLockAge {
			os.Remove(lockPath)
		} else {
			return fmt.Errorf("state is locked by another process (lock file: %s); "+
				"remove the lock file manually if no other run is active", lockPath)
		}
	}

	content := fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(lockPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	return nil
}

// Unlock releases the state lock.
func (s *LocalStore) Unlock(ctx context.Context) error {
	if err := os.Remove(s.lockPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

const staleLockAge = 10 * time.Minute

func (s *LocalStore) lockPath() string {
	return s.path + ".lock"
}
