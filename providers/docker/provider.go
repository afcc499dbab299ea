// Package docker implements a provider for local Docker resources:
// images, networks, volumes and containers.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/applyr-io/applyr/pkg/provider"
)

type Provider struct {
	client *client.Client
}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) ensureClient() error {
	if p.client != nil {
		return nil
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return provider.NewPermanent("configure", fmt.Errorf("failed to create Docker client: %w", err))
	}
	p.client = cli
	return nil
}

func (p *Provider) Create(ctx context.Context, resourceType string, attrs map[string]any) (*provider.CreateResult, error) {
	if err := p.ensureClient(); err != nil {
		return nil, err
	}

	switch resourceType {
	case "docker_image":
		return p.createImage(ctx, attrs)
	case "docker_network":
		return p.createNetwork(ctx, attrs)
	case "docker_volume":
		return p.createVolume(ctx, attrs)
	case "docker_container":
		return p.createContainer(ctx, attrs)
	}
	return nil, provider.NewPermanent("create", fmt.Errorf("unknown resource type: %s", resourceType))
}

func (p *Provider) Read(ctx context.Context, resourceType, id string) (map[string]any, error) {
	if err := p.ensureClient(); err != nil {
		return nil, err
	}

	switch resourceType {
	case "docker_image":
		inspect, _, err := p.client.ImageInspectWithRaw(ctx, id)
		if client.IsErrNotFound(err) {
			return nil, provider.ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{"image_id": inspect.ID}, nil

	case "docker_network":
		inspect, err := p.client.NetworkInspect(ctx, id, network.InspectOptions{})
		if client.IsErrNotFound(err) {
			return nil, provider.ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"network_id": inspect.ID,
			"name":       inspect.Name,
			"driver":     inspect.Driver,
		}, nil

	case "docker_volume":
		vol, err := p.client.VolumeInspect(ctx, id)
		if client.IsErrNotFound(err) {
			return nil, provider.ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"name":       vol.Name,
			"driver":     vol.Driver,
			"mountpoint": vol.Mountpoint,
		}, nil

	case "docker_container":
		inspect, err := p.client.ContainerInspect(ctx, id)
		if client.IsErrNotFound(err) {
			return nil, provider.ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"container_id": inspect.ID,
			"name":         strings.TrimPrefix(inspect.Name, "/"),
			"image":        inspect.Config.Image,
			"status":       inspect.State.Status,
		}, nil
	}
	return nil, provider.NewPermanent("read", fmt.Errorf("unknown resource type: %s", resourceType))
}

// Update replaces the resource: Docker objects are immutable once created,
// so an update removes the old object and creates its successor. The new
// object ID lands in the outputs.
func (p *Provider) Update(ctx context.Context, resourceType, id string, attrs map[string]any) (map[string]any, error) {
	if err := p.Delete(ctx, resourceType, id); err != nil {
		return nil, err
	}
	result, err := p.Create(ctx, resourceType, attrs)
	if err != nil {
		return nil, err
	}
	return result.Outputs, nil
}

func (p *Provider) Delete(ctx context.Context, resourceType, id string) error {
	if err := p.ensureClient(); err != nil {
		return err
	}

	switch resourceType {
	case "docker_image":
		_, err := p.client.ImageRemove(ctx, id, image.RemoveOptions{Force: true})
		if err != nil && !client.IsErrNotFound(err) {
			return fmt.Errorf("failed to remove image: %w", err)
		}
		return nil

	case "docker_network":
		if err := p.client.NetworkRemove(ctx, id); err != nil && !client.IsErrNotFound(err) {
			return fmt.Errorf("failed to remove network: %w", err)
		}
		return nil

	case "docker_volume":
		if err := p.client.VolumeRemove(ctx, id, true); err != nil && !client.IsErrNotFound(err) {
			return fmt.Errorf("failed to remove volume: %w", err)
		}
		return nil

	case "docker_container":
		timeout := 10 // seconds
		_ = p.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})
		if err := p.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
			return fmt.Errorf("failed to remove container: %w", err)
		}
		return nil
	}
	return provider.NewPermanent("delete", fmt.Errorf("unknown resource type: %s", resourceType))
}

func (p *Provider) createImage(ctx context.Context, attrs map[string]any) (*provider.CreateResult, error) {
	var desired imageConfig
	if err := decodeAttrs(attrs, &desired); err != nil {
		return nil, err
	}
	if desired.Name == "" {
		return nil, provider.NewPermanent("create", fmt.Errorf("docker_image requires a 'name' attribute"))
	}

	if desired.BuildContext != "" {
		tar, err := archive.TarWithOptions(desired.BuildContext, &archive.TarOptions{})
		if err != nil {
			return nil, provider.NewPermanent("create", fmt.Errorf("failed to create build context tar: %w", err))
		}

		opts := types.ImageBuildOptions{
			Tags:       []string{desired.Name},
			Dockerfile: desired.Dockerfile,
			Remove:     true,
		}
		resp, err := p.client.ImageBuild(ctx, tar, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to build image: %w", err)
		}
		defer resp.Body.Close()

		// Drain output to prevent blocking
		io.Copy(io.Discard, resp.Body)
	} else {
		reader, err := p.client.ImagePull(ctx, desired.Name, image.PullOptions{})
		if err != nil {
			return nil, provider.NewTransient("create", fmt.Errorf("failed to pull image %s: %w", desired.Name, err))
		}
		io.Copy(io.Discard, reader)
		reader.Close()
	}

	inspect, _, err := p.client.ImageInspectWithRaw(ctx, desired.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect image: %w", err)
	}

	return &provider.CreateResult{
		ID: inspect.ID,
		Outputs: map[string]any{
			"image_id": inspect.ID,
			"name":     desired.Name,
		},
	}, nil
}

func (p *Provider) createNetwork(ctx context.Context, attrs map[string]any) (*provider.CreateResult, error) {
	var desired networkConfig
	if err := decodeAttrs(attrs, &desired); err != nil {
		return nil, err
	}
	if desired.Name == "" {
		return nil, provider.NewPermanent("create", fmt.Errorf("docker_network requires a 'name' attribute"))
	}

	resp, err := p.client.NetworkCreate(ctx, desired.Name, types.NetworkCreate{
		Driver:   desired.Driver,
		Internal: desired.Internal,
		Labels:   desired.Labels,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create network: %w", err)
	}

	return &provider.CreateResult{
		ID: resp.ID,
		Outputs: map[string]any{
			"network_id": resp.ID,
			"name":       desired.Name,
			"driver":     desired.Driver,
		},
	}, nil
}

func (p *Provider) createVolume(ctx context.Context, attrs map[string]any) (*provider.CreateResult, error) {
	var desired volumeConfig
	if err := decodeAttrs(attrs, &desired); err != nil {
		return nil, err
	}
	if desired.Name == "" {
		return nil, provider.NewPermanent("create", fmt.Errorf("docker_volume requires a 'name' attribute"))
	}

	vol, err := p.client.VolumeCreate(ctx, volume.CreateOptions{
		Name:   desired.Name,
		Driver: desired.Driver,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create volume: %w", err)
	}

	return &provider.CreateResult{
		ID: vol.Name,
		Outputs: map[string]any{
			"name":       vol.Name,
			"driver":     vol.Driver,
			"mountpoint": vol.Mountpoint,
		},
	}, nil
}

func (p *Provider) createContainer(ctx context.Context, attrs map[string]any) (*provider.CreateResult, error) {
	var desired containerConfig
	if err := decodeAttrs(attrs, &desired); err != nil {
		return nil, err
	}
	if desired.Name == "" || desired.Image == "" {
		return nil, provider.NewPermanent("create", fmt.Errorf("docker_container requires 'name' and 'image' attributes"))
	}

	reader, err := p.client.ImagePull(ctx, desired.Image, image.PullOptions{})
	if err != nil {
		return nil, provider.NewTransient("create", fmt.Errorf("failed to pull image %s: %w", desired.Image, err))
	}
	io.Copy(io.Discard, reader)
	reader.Close()

	portBindings := nat.PortMap{}
	for hostPort, containerPort := range desired.Ports {
		port := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
		portBindings[port] = []nat.PortBinding{
			{
				HostIP:   "0.0.0.0",
				HostPort: hostPort,
			},
		}
	}

	var binds []string
	for _, v := range desired.Volumes {
		parts := strings.SplitN(v, ":", 2)
		if len(parts) > 0 && (strings.HasPrefix(parts[0], "./") || strings.HasPrefix(parts[0], "../")) {
			if abs, err := filepath.Abs(parts[0]); err == nil {
				parts[0] = abs
				binds = append(binds, strings.Join(parts, ":"))
				continue
			}
		}
		binds = append(binds, v)
	}

	hostConfig := &container.HostConfig{
		PortBindings: portBindings,
		Binds:        binds,
	}
	if len(desired.Networks) > 0 {
		hostConfig.NetworkMode = container.NetworkMode(desired.Networks[0])
	}
	if desired.Restart != "" {
		hostConfig.RestartPolicy = container.RestartPolicy{
			Name: container.RestartPolicyMode(desired.Restart),
		}
	}
	if desired.Logging != nil {
		hostConfig.LogConfig = container.LogConfig{
			Type:   desired.Logging.Driver,
			Config: desired.Logging.Options,
		}
	}

	config := &container.Config{
		Image:      desired.Image,
		Cmd:        desired.Command,
		Env:        mapToEnvList(desired.Env),
		Labels:     desired.Labels,
		WorkingDir: desired.WorkingDir,
		User:       desired.User,
	}

	if desired.Healthcheck != nil {
		test := desired.Healthcheck.Test
		if len(test) == 0 {
			test = []string{"NONE"}
		}
		interval, _ := time.ParseDuration(desired.Healthcheck.Interval)
		timeout, _ := time.ParseDuration(desired.Healthcheck.Timeout)
		startPeriod, _ := time.ParseDuration(desired.Healthcheck.StartPeriod)

		config.Healthcheck = &container.HealthConfig{
			Test:        test,
			Interval:    interval,
			Timeout:     timeout,
			StartPeriod: startPeriod,
			Retries:     desired.Healthcheck.Retries,
		}
	}

	resp, err := p.client.ContainerCreate(ctx,
		config,
		hostConfig,
		&network.NetworkingConfig{},
		&v1.Platform{},
		desired.Name,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	return &provider.CreateResult{
		ID: resp.ID,
		Outputs: map[string]any{
			"container_id": resp.ID,
			"name":         desired.Name,
			"image":        desired.Image,
		},
	}, nil
}

// decodeAttrs maps loosely typed attributes onto a typed config struct
// through their JSON encoding.
func decodeAttrs(attrs map[string]any, target any) error {
	raw, err := json.Marshal(attrs)
	if err != nil {
		return provider.NewPermanent("decode", err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return provider.NewPermanent("decode", fmt.Errorf("invalid attributes: %w", err))
	}
	return nil
}

func mapToEnvList(m map[string]string) []string {
	var env []string
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

type containerConfig struct {
	Image       string             `json:"image"`
	Name        string             `json:"name"`
	Command     []string           `json:"command"`
	Ports       map[string]int     `json:"ports"`
	Env         map[string]string  `json:"env"`
	Networks    []string           `json:"networks"`
	Volumes     []string           `json:"volumes"`
	Labels      map[string]string  `json:"labels"`
	WorkingDir  string             `json:"workingDir"`
	User        string             `json:"user"`
	Restart     string             `json:"restart"`
	Healthcheck *healthcheckConfig `json:"healthcheck"`
	Logging     *loggingConfig     `json:"logging"`
}

type healthcheckConfig struct {
	Test        []string `json:"test"`
	Interval    string   `json:"interval"`
	Timeout     string   `json:"timeout"`
	StartPeriod string   `json:"startPeriod"`
	Retries     int      `json:"retries"`
}

type loggingConfig struct {
	Driver  string            `json:"driver"`
	Options map[string]string `json:"options"`
}

type networkConfig struct {
	Name     string            `json:"name"`
	Driver   string            `json:"driver"`
	Internal bool              `json:"internal"`
	Labels   map[string]string `json:"labels"`
}

type volumeConfig struct {
	Name   string `json:"name"`
	Driver string `json:"driver"`
}

type imageConfig struct {
	Name         string `json:"name"`
	BuildContext string `json:"buildContext"`
	Dockerfile   string `json:"dockerfile"`
}
