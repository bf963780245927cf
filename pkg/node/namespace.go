package node

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"Netgen/pkg/topo"

	ns "github.com/containernetworking/plugins/pkg/ns"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

// DefaultRoot is where namespaces and run state live unless the engine is
// configured otherwise.
const DefaultRoot = "/tmp/netgen-rs"

// Handle identifies one provisioned device at runtime. NsPath is empty for
// switches, which live in the host namespace.
type Handle struct {
	Device      string
	Kind        topo.Kind
	NsPath      string
	ContainerID string
}

// NsPath is the deterministic binding path for a device's namespace:
// <root>/ns/devices/<name>. External tooling can enter the namespace
// through it (e.g. nsenter --net=<path>).
func NsPath(root, device string) string {
	return filepath.Join(root, "ns", "devices", device)
}

// AddNamespace creates an isolated network namespace for the device and
// binds it at the deterministic path. Idempotent: a namespace already bound
// there is reused, so re-running start is safe. The loopback interface is
// brought up before the handle is returned.
func AddNamespace(root, device string) (*Handle, error) {
	path := NsPath(root, device)
	h := &Handle{Device: device, Kind: topo.KindNetns, NsPath: path}

	if live, err := ns.GetNS(path); err == nil {
		live.Close()
		return h, nil
	}

	if _, err := os.Stat(path); err == nil {
		// stale binding left by a crashed run, clear it first
		_ = unix.Unmount(path, unix.MNT_DETACH)
		_ = os.Remove(path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create namespace dir for %s: %w", device, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create namespace mount point for %s: %w", device, err)
	}
	f.Close()

	if err := bindNewNamespace(path); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to create namespace for %s: %w", device, err)
	}
	if err := loopbackUp(path); err != nil {
		_ = DeleteNamespace(root, device)
		return nil, fmt.Errorf("failed to bring up loopback in %s: %w", device, err)
	}
	return h, nil
}

// DeleteNamespace removes the namespace binding. A namespace that is
// already gone is not an error, so stop stays idempotent.
func DeleteNamespace(root, device string) error {
	path := NsPath(root, device)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := unix.Unmount(path, unix.MNT_DETACH); err != nil &&
		!errors.Is(err, unix.EINVAL) && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to unmount namespace of %s: %w", device, err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove namespace binding of %s: %w", device, err)
	}
	return nil
}

// bindNewNamespace unshares a fresh network namespace on a locked OS thread,
// bind-mounts it at path so it outlives the process, and returns the thread
// to the host namespace. The thread is only handed back to the scheduler
// once it is provably back in the namespace it started in.
func bindNewNamespace(path string) error {
	errc := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		origin, err := netns.Get()
		if err != nil {
			errc <- err
			return
		}
		defer origin.Close()

		fresh, err := netns.New() // creates and enters the new namespace
		if err != nil {
			errc <- err
			return
		}
		defer fresh.Close()

		src := fmt.Sprintf("/proc/self/task/%d/ns/net", unix.Gettid())
		err = unix.Mount(src, path, "", unix.MS_BIND, "")

		if back := netns.Set(origin); back == nil {
			runtime.UnlockOSThread()
		}
		errc <- err
	}()
	return <-errc
}

func loopbackUp(nsPath string) error {
	deviceNs, err := ns.GetNS(nsPath)
	if err != nil {
		return fmt.Errorf("failed to get namespace: %w", err)
	}
	defer deviceNs.Close()

	return deviceNs.Do(func(_ ns.NetNS) error {
		lo, err := netlink.LinkByName("lo")
		if err != nil {
			return fmt.Errorf("failed to get loopback: %w", err)
		}
		return netlink.LinkSetUp(lo)
	})
}
