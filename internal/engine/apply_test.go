package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/applyr-io/applyr/internal/ir"
	pkgprovider "github.com/applyr-io/applyr/pkg/provider"
)

// fakeProvider records call order and fails on demand. Resources are
// keyed by their "name" attribute.
type fakeProvider struct {
	mu      sync.Mutex
	calls   []string       // "<op>:<name>"
	fail    map[string]error
	flaky   map[string]int // name -> transient failures before success
	applied map[string]map[string]any
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		fail:    make(map[string]error),
		flaky:   make(map[string]int),
		applied: make(map[string]map[string]any),
	}
}

func (f *fakeProvider) record(op, name string) {
	f.calls = append(f.calls, op+":"+name)
}

func (f *fakeProvider) Create(ctx context.Context, resourceType string, attrs map[string]any) (*pkgprovider.CreateResult, error) {
	name, _ := attrs["name"].(string)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create", name)

	if remaining := f.flaky[name]; remaining > 0 {
		f.flaky[name] = remaining - 1
		return nil, pkgprovider.NewTransient("create", errors.New("temporarily unavailable"))
	}
	if err := f.fail[name]; err != nil {
		return nil, err
	}

	f.applied[name] = attrs
	return &pkgprovider.CreateResult{
		ID:      "id-" + name,
		Outputs: map[string]any{"id": "id-" + name, "endpoint": name + ".internal"},
	}, nil
}

func (f *fakeProvider) Read(ctx context.Context, resourceType, id string) (map[string]any, error) {
	return nil, pkgprovider.ErrNotFound
}

func (f *fakeProvider) Update(ctx context.Context, resourceType, id string, attrs map[string]any) (map[string]any, error) {
	name, _ := attrs["name"].(string)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("update", name)

	if err := f.fail[name]; err != nil {
		return nil, err
	}
	f.applied[name] = attrs
	return map[string]any{"id": id}, nil
}

func (f *fakeProvider) Delete(ctx context.Context, resourceType, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete", id)
	if err := f.fail[id]; err != nil {
		return err
	}
	return nil
}

func (f *fakeProvider) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func indexOf(calls []string, want string) int {
	for i, c := range calls {
		if c == want {
			return i
		}
	}
	return -1
}

func fastRetry() *RetryPolicy {
	return &RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func resource(resType, name string, deps ...string) *ir.Resource {
	return &ir.Resource{
		Type: resType, Name: name, Provider: "fake",
		DependsOn:  deps,
		Attributes: map[string]any{"name": name},
	}
}

func TestEngine_Apply_CreatesInDependencyOrder(t *testing.T) {
	eng, registry, store := newTestEngine(t)
	fake := newFakeProvider()
	registry.Register("fake", fake)
	eng.Retry = fastRetry()
	ctx := context.Background()

	cfg := &ir.Config{Resources: []*ir.Resource{
		resource("service", "web", "database.main"),
		resource("database", "main", "network.main"),
		resource("network", "main"),
	}}

	plan, err := eng.Plan(ctx, cfg)
	require.NoError(t, err)

	result, err := eng.Apply(ctx, plan)
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, 3, result.Count(StatusApplied))

	calls := fake.callOrder()
	assert.Less(t, indexOf(calls, "create:main"), indexOf(calls, "create:web"))

	records, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestEngine_Apply_PersistsEachOperation(t *testing.T) {
	eng, registry, store := newTestEngine(t)
	fake := newFakeProvider()
	fake.fail["web"] = errors.New("boom")
	registry.Register("fake", fake)
	eng.Retry = fastRetry()
	ctx := context.Background()

	cfg := &ir.Config{Resources: []*ir.Resource{
		resource("network", "main"),
		resource("service", "web", "network.main"),
	}}

	plan, err := eng.Plan(ctx, cfg)
	require.NoError(t, err)

	result, err := eng.Apply(ctx, plan)
	var partial *PartialApplyError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 1, result.Count(StatusApplied))
	assert.Equal(t, 1, result.Count(StatusFailed))

	// The successful create must already be in state.
	rec, err := store.Get(ctx, ir.Identity{Type: "network", Name: "main"})
	require.NoError(t, err)
	assert.Equal(t, "id-main", rec.ID)
	assert.Empty(t, rec.Dependencies)

	// Re-running after the failure only retries the failed resource.
	fake.mu.Lock()
	delete(fake.fail, "web")
	fake.calls = nil
	fake.mu.Unlock()

	plan, err = eng.Plan(ctx, cfg)
	require.NoError(t, err)
	result, err = eng.Apply(ctx, plan)
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, []string{"create:web"}, fake.callOrder())
}

func TestEngine_Apply_SkipsDependentsOfFailures(t *testing.T) {
	eng, registry, _ := newTestEngine(t)
	fake := newFakeProvider()
	fake.fail["db"] = errors.New("provision failed")
	registry.Register("fake", fake)
	eng.Retry = fastRetry()
	ctx := context.Background()

	// Two disjoint subtrees: db -> api -> worker fails at the root, the
	// cache branch must still apply.
	cfg := &ir.Config{Resources: []*ir.Resource{
		resource("database", "db"),
		resource("service", "api", "database.db"),
		resource("service", "worker", "service.api"),
		resource("cache", "redis"),
		resource("service", "cache-warmer", "cache.redis"),
	}}

	plan, err := eng.Plan(ctx, cfg)
	require.NoError(t, err)

	result, err := eng.Apply(ctx, plan)
	var partial *PartialApplyError
	require.ErrorAs(t, err, &partial)

	byAddr := make(map[string]*OperationResult)
	for _, res := range result.Results {
		byAddr[res.Address] = res
	}

	assert.Equal(t, StatusFailed, byAddr["database.db"].Status)
	assert.Equal(t, StatusSkipped, byAddr["service.api"].Status)
	assert.Equal(t, "database.db", byAddr["service.api"].BlockedBy)
	assert.Equal(t, StatusSkipped, byAddr["service.worker"].Status)
	assert.Equal(t, "database.db", byAddr["service.worker"].BlockedBy)

	// Unrelated branch is unaffected.
	assert.Equal(t, StatusApplied, byAddr["cache.redis"].Status)
	assert.Equal(t, StatusApplied, byAddr["service.cache-warmer"].Status)
}

func TestEngine_Apply_RetriesTransientErrors(t *testing.T) {
	eng, registry, _ := newTestEngine(t)
	fake := newFakeProvider()
	fake.flaky["web"] = 2
	registry.Register("fake", fake)
	eng.Retry = fastRetry()
	ctx := context.Background()

	cfg := &ir.Config{Resources: []*ir.Resource{resource("service", "web")}}
	plan, err := eng.Plan(ctx, cfg)
	require.NoError(t, err)

	result, err := eng.Apply(ctx, plan)
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Len(t, fake.callOrder(), 3)
}

func TestEngine_Apply_DoesNotRetryPermanentErrors(t *testing.T) {
	eng, registry, _ := newTestEngine(t)
	fake := newFakeProvider()
	fake.fail["web"] = pkgprovider.NewPermanent("create", errors.New("invalid attribute"))
	registry.Register("fake", fake)
	eng.Retry = fastRetry()
	ctx := context.Background()

	cfg := &ir.Config{Resources: []*ir.Resource{resource("service", "web")}}
	plan, err := eng.Plan(ctx, cfg)
	require.NoError(t, err)

	result, err := eng.Apply(ctx, plan)
	require.Error(t, err)
	assert.Equal(t, 1, result.Count(StatusFailed))
	assert.Len(t, fake.callOrder(), 1)
}

func TestEngine_Apply_UpdateKeepsProviderID(t *testing.T) {
	eng, registry, store := newTestEngine(t)
	fake := newFakeProvider()
	registry.Register("fake", fake)
	eng.Retry = fastRetry()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &ir.Record{
		Type: "service", Name: "web", Provider: "fake", ID: "id-web",
		Attributes: map[string]any{"name": "web", "image": "nginx:1.24"},
	}))

	cfg := &ir.Config{Resources: []*ir.Resource{
		{Type: "service", Name: "web", Provider: "fake", Attributes: map[string]any{
			"name": "web", "image": "nginx:1.25",
		}},
	}}

	plan, err := eng.Plan(ctx, cfg)
	require.NoError(t, err)
	require.Equal(t, 1, plan.Summary.Update)

	_, err = eng.Apply(ctx, plan)
	require.NoError(t, err)

	rec, err := store.Get(ctx, ir.Identity{Type: "service", Name: "web"})
	require.NoError(t, err)
	assert.Equal(t, "id-web", rec.ID)
	assert.Equal(t, "nginx:1.25", rec.Attributes["image"])
	assert.Equal(t, []string{"update:web"}, fake.callOrder())
}

func TestEngine_Apply_DeletesDependentsFirst(t *testing.T) {
	eng, registry, store := newTestEngine(t)
	fake := newFakeProvider()
	registry.Register("fake", fake)
	eng.Retry = fastRetry()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &ir.Record{
		Type: "network", Name: "main", Provider: "fake", ID: "net-1",
	}))
	require.NoError(t, store.Put(ctx, &ir.Record{
		Type: "service", Name: "web", Provider: "fake", ID: "c-1",
		Dependencies: []string{"network.main"},
	}))

	plan, err := eng.PlanDestroy(ctx)
	require.NoError(t, err)

	result, err := eng.Apply(ctx, plan)
	require.NoError(t, err)
	assert.True(t, result.Succeeded())

	calls := fake.callOrder()
	assert.Less(t, indexOf(calls, "delete:c-1"), indexOf(calls, "delete:net-1"))

	records, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestEngine_Apply_DeleteFailureKeepsRecord(t *testing.T) {
	eng, registry, store := newTestEngine(t)
	fake := newFakeProvider()
	fake.fail["net-1"] = errors.New("still in use")
	registry.Register("fake", fake)
	eng.Retry = fastRetry()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &ir.Record{
		Type: "network", Name: "main", Provider: "fake", ID: "net-1",
	}))

	plan, err := eng.PlanDestroy(ctx)
	require.NoError(t, err)

	_, err = eng.Apply(ctx, plan)
	require.Error(t, err)

	// The record survives so a later destroy can retry.
	_, err = store.Get(ctx, ir.Identity{Type: "network", Name: "main"})
	require.NoError(t, err)
}

func TestEngine_Apply_CancellationSkipsPendingOps(t *testing.T) {
	eng, registry, _ := newTestEngine(t)
	fake := newFakeProvider()
	registry.Register("fake", fake)
	eng.Retry = fastRetry()

	cfg := &ir.Config{Resources: []*ir.Resource{
		resource("network", "main"),
		resource("service", "web", "network.main"),
	}}

	plan, err := eng.Plan(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := eng.Apply(ctx, plan)
	var partial *PartialApplyError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 2, result.Count(StatusSkipped))
	assert.Empty(t, fake.callOrder())
}

func TestEngine_Apply_ResolvesReferencesFromFreshOutputs(t *testing.T) {
	eng, registry, store := newTestEngine(t)
	fake := newFakeProvider()
	registry.Register("fake", fake)
	eng.Retry = fastRetry()
	ctx := context.Background()

	cfg := &ir.Config{Resources: []*ir.Resource{
		{Type: "database", Name: "main", Provider: "fake", Attributes: map[string]any{"name": "db"}},
		{Type: "service", Name: "web", Provider: "fake", Attributes: map[string]any{
			"name": "web",
			"db":   "ref://database/main/endpoint",
		}},
	}}

	plan, err := eng.Plan(ctx, cfg)
	require.NoError(t, err)

	_, err = eng.Apply(ctx, plan)
	require.NoError(t, err)

	// The dependent saw the output produced moments earlier in the run.
	fake.mu.Lock()
	webAttrs := fake.applied["web"]
	fake.mu.Unlock()
	assert.Equal(t, "db.internal", webAttrs["db"])

	rec, err := store.Get(ctx, ir.Identity{Type: "service", Name: "web"})
	require.NoError(t, err)
	assert.Equal(t, "db.internal", rec.Attributes["db"])
	assert.Equal(t, []string{"database.main"}, rec.Dependencies)
}

func TestEngine_Apply_ParallelismIsBounded(t *testing.T) {
	eng, registry, _ := newTestEngine(t)

	var mu sync.Mutex
	active, peak := 0, 0
	gate := &gatedProvider{
		enter: func() {
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
		},
		exit: func() {
			mu.Lock()
			active--
			mu.Unlock()
		},
	}
	registry.Register("fake", gate)
	eng.Parallelism = 2
	eng.Retry = fastRetry()
	ctx := context.Background()

	cfg := &ir.Config{}
	for i := 0; i < 8; i++ {
		cfg.Resources = append(cfg.Resources, resource("service", fmt.Sprintf("s%d", i)))
	}

	plan, err := eng.Plan(ctx, cfg)
	require.NoError(t, err)
	_, err = eng.Apply(ctx, plan)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 2)
}

type gatedProvider struct {
	enter func()
	exit  func()
}

func (g *gatedProvider) Create(ctx context.Context, resourceType string, attrs map[string]any) (*pkgprovider.CreateResult, error) {
	g.enter()
	defer g.exit()
	return &pkgprovider.CreateResult{ID: "id"}, nil
}

func (g *gatedProvider) Read(ctx context.Context, resourceType, id string) (map[string]any, error) {
	return nil, pkgprovider.ErrNotFound
}

func (g *gatedProvider) Update(ctx context.Context, resourceType, id string, attrs map[string]any) (map[string]any, error) {
	g.enter()
	defer g.exit()
	return nil, nil
}

func (g *gatedProvider) Delete(ctx context.Context, resourceType, id string) error {
	g.enter()
	defer g.exit()
	return nil
}
