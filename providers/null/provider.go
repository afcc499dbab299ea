// Package null implements a provider that manages no real infrastructure.
// Resources exist only in state, which makes it useful for wiring
// dependency chains and for exercising the engine in tests.
package null

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/applyr-io/applyr/pkg/provider"
)

type Provider struct {
	mu        sync.Mutex
	resources map[string]map[string]any
}

func New() *Provider {
	return &Provider{
		resources: make(map[string]map[string]any),
	}
}

func (p *Provider) Create(ctx context.Context, resourceType string, attrs map[string]any) (*provider.CreateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := fmt.Sprintf("null-%s", uuid.NewString())

	p.mu.Lock()
	p.resources[id] = attrs
	p.mu.Unlock()

	outputs := map[string]any{"id": id}
	for k, v := range attrs {
		outputs[k] = v
	}
	return &provider.CreateResult{ID: id, Outputs: outputs}, nil
}

func (p *Provider) Read(ctx context.Context, resourceType, id string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	attrs, ok := p.resources[id]
	p.mu.Unlock()
	if !ok {
		return nil, provider.ErrNotFound
	}
	return attrs, nil
}

func (p *Provider) Update(ctx context.Context, resourceType, id string, attrs map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	_, ok := p.resources[id]
	if ok {
		p.resources[id] = attrs
	}
	p.mu.Unlock()
	if !ok {
		return nil, provider.ErrNotFound
	}

	outputs := map[string]any{"id": id}
	for k, v := range attrs {
		outputs[k] = v
	}
	return outputs, nil
}

func (p *Provider) Delete(ctx context.Context, resourceType, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	delete(p.resources, id)
	p.mu.Unlock()
	return nil
}
