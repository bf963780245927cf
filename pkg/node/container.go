package node

import (
	"context"
	"fmt"

	"Netgen/pkg/topo"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
)

// ContainerManager backs image-based routers with docker containers. The
// container runs privileged with docker networking disabled; the engine
// wires its interfaces itself through the container's network namespace.
type ContainerManager struct {
	dClient *client.Client
}

func NewContainerManager() (*ContainerManager, error) {
	dClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &ContainerManager{dClient: dClient}, nil
}

// AddContainer creates and starts the router's container and resolves its
// network namespace path. A container with the device's name that is
// already running is reused; a stopped leftover is replaced.
func (cm *ContainerManager) AddContainer(ctx context.Context, device, image string) (*Handle, error) {
	if res, err := cm.dClient.ContainerInspect(ctx, device); err == nil {
		if res.State != nil && res.State.Running {
			return &Handle{
				Device:      device,
				Kind:        topo.KindContainer,
				NsPath:      fmt.Sprintf("/proc/%d/ns/net", res.State.Pid),
				ContainerID: res.ID,
			}, nil
		}
		if err := cm.dClient.ContainerRemove(ctx, device, container.RemoveOptions{Force: true}); err != nil {
			return nil, fmt.Errorf("failed to replace stopped container %s: %w", device, err)
		}
	}

	sysctls := map[string]string{
		"net.ipv4.ip_forward":          "1",
		"net.ipv6.conf.all.forwarding": "1",
	}
	created, err := cm.dClient.ContainerCreate(ctx, &container.Config{
		Image:           image,
		NetworkDisabled: true,
		User:            "root",
	}, &container.HostConfig{
		Privileged: true,
		Sysctls:    sysctls,
	}, nil, nil, device)
	if err != nil {
		return nil, fmt.Errorf("failed to create container %s: %w", device, err)
	}

	if err := cm.dClient.ContainerStart(ctx, device, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container %s: %w", device, err)
	}

	res, err := cm.dClient.ContainerInspect(ctx, device)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container %s: %w", device, err)
	}
	return &Handle{
		Device:      device,
		Kind:        topo.KindContainer,
		NsPath:      fmt.Sprintf("/proc/%d/ns/net", res.State.Pid),
		ContainerID: created.ID,
	}, nil
}

// DeleteContainer force-removes the router's container; a container that no
// longer exists is success.
func (cm *ContainerManager) DeleteContainer(ctx context.Context, device string) error {
	err := cm.dClient.ContainerRemove(ctx, device, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", device, err)
	}
	return nil
}
