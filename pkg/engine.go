package pkg

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"Netgen/api"
	"Netgen/pkg/link"
	"Netgen/pkg/node"
	"Netgen/pkg/ovs"
	"Netgen/pkg/state"
	"Netgen/pkg/topo"

	"golang.org/x/sync/errgroup"
)

// ResourceError is a kernel-level creation or teardown failure, carrying
// the device or link it happened on.
type ResourceError struct {
	Device string
	Link   string
	Err    error
}

func (e *ResourceError) Error() string {
	if e.Link != "" {
		return fmt.Sprintf("link %s: %v", e.Link, e.Err)
	}
	return fmt.Sprintf("device %s: %v", e.Device, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// Config is the engine's explicit configuration. Root anchors the
// namespace bindings and the state store; multiple engines with different
// roots can coexist.
type Config struct {
	Root    string
	Workers int // bounded parallelism, 1 means fully sequential
}

// linkProvisioner and deviceBackend are what Start/Stop drive; the kernel
// implementations are swapped for fakes in tests.
type linkProvisioner interface {
	Provision(id int, a, b link.Endpoint, props api.LinkProperties) (*link.Resource, error)
	Teardown(r *link.Resource) error
}

type deviceBackend interface {
	AddDevice(ctx context.Context, d *topo.Device) (*node.Handle, error)
	DeleteDevice(ctx context.Context, rec state.DeviceRecord) error
}

// Engine drives the idempotent lifecycle of a topology's namespaces and
// links and keeps the state store accurate after every step.
type Engine struct {
	cfg    Config
	store  *state.Store
	nodes  deviceBackend
	links  linkProvisioner
	events EventFunc
}

func NewEngine(cfg Config) *Engine {
	if cfg.Root == "" {
		cfg.Root = node.DefaultRoot
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	om := ovs.NewOvsManager()
	return &Engine{
		cfg:   cfg,
		store: state.NewStore(cfg.Root),
		nodes: &kernelBackend{
			root:       cfg.Root,
			om:         om,
			containers: sync.OnceValues(node.NewContainerManager),
		},
		links:  link.NewProvisioner(om),
		events: LogEvent,
	}
}

// SetEvents replaces the progress hook. Call before Start/Stop.
func (e *Engine) SetEvents(f EventFunc) {
	e.events = f
}

// Start brings the whole topology up: one device at a time gets its
// namespace (or container or bridge), then every link is provisioned. Each
// success is recorded durably before moving on. The first failure halts the
// run; resources already recorded stay live and tracked for a later Stop —
// there is deliberately no auto-rollback, since a partially-running
// topology is still something Stop can clean up.
func (e *Engine) Start(ctx context.Context, t *topo.Topology) error {
	identity := t.Identity()
	runLock, err := e.store.Acquire(identity)
	if err != nil {
		return err
	}
	defer runLock.Release()

	names := make([]string, 0, len(t.Devices))
	for name := range t.Devices {
		names = append(names, name)
	}
	sort.Strings(names)

	handles := make(map[string]*node.Handle, len(names))
	var hmu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for _, name := range names {
		d := t.Devices[name]
		g.Go(func() error {
			// a failure elsewhere halts the run: later devices are not attempted
			if err := gctx.Err(); err != nil {
				return err
			}
			e.events(Event{Action: ActionPowerOn, Stage: StageSettingUp, Device: d.Name})
			h, err := e.nodes.AddDevice(ctx, d)
			if err != nil {
				return &ResourceError{Device: d.Name, Err: err}
			}
			if err := e.store.AppendDevice(identity, state.DeviceRecord{
				Name:        d.Name,
				Kind:        d.Kind.String(),
				NsPath:      h.NsPath,
				ContainerID: h.ContainerID,
			}); err != nil {
				return err
			}
			hmu.Lock()
			handles[d.Name] = h
			hmu.Unlock()
			e.events(Event{Action: ActionPowerOn, Stage: StageComplete, Device: d.Name})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Links between distinct devices may be provisioned in parallel, but
	// operations inside one device's namespace must not interleave: every
	// link takes its two device locks in global name order.
	locks := make(map[string]*sync.Mutex, len(names))
	for _, name := range names {
		locks[name] = &sync.Mutex{}
	}

	lg, lctx := errgroup.WithContext(ctx)
	lg.SetLimit(e.cfg.Workers)
	for _, l := range t.Links {
		l := l
		lg.Go(func() error {
			if err := lctx.Err(); err != nil {
				return err
			}
			unlock := lockDevices(locks, l.Src.Device, l.Dst.Device)
			defer unlock()

			e.events(Event{Action: ActionLinkSetup, Stage: StageSettingUp, Link: l.String()})
			a := endpoint(t, handles, l.Src)
			b := endpoint(t, handles, l.Dst)
			res, err := e.links.Provision(l.ID, a, b, l.Properties)
			if err != nil {
				return &ResourceError{Link: l.String(), Err: err}
			}
			if err := e.store.AppendLink(identity, *res); err != nil {
				return err
			}
			e.events(Event{Action: ActionLinkSetup, Stage: StageComplete, Link: l.String()})
			return nil
		})
	}
	return lg.Wait()
}

// Stop reads the recorded resources for a topology identity and reverses
// them: links first, then devices, newest first. Resources that are
// already gone are fine; a second Stop in a row is a no-op. The record is
// cleared only after everything in it was destroyed.
func (e *Engine) Stop(ctx context.Context, identity string) error {
	runLock, err := e.store.Acquire(identity)
	if err != nil {
		return err
	}
	defer runLock.Release()

	rec, err := e.store.Load(identity)
	if err != nil {
		return err
	}
	if rec == nil {
		// never started, or already stopped
		return nil
	}

	for i := len(rec.Links) - 1; i >= 0; i-- {
		r := rec.Links[i]
		label := linkLabel(r)
		e.events(Event{Action: ActionLinkTeardown, Stage: StageSettingUp, Link: label})
		if err := e.links.Teardown(&r); err != nil {
			return &ResourceError{Link: label, Err: err}
		}
		e.events(Event{Action: ActionLinkTeardown, Stage: StageComplete, Link: label})
	}

	for i := len(rec.Devices) - 1; i >= 0; i-- {
		d := rec.Devices[i]
		e.events(Event{Action: ActionPowerOff, Stage: StageSettingUp, Device: d.Name})
		if err := e.nodes.DeleteDevice(ctx, d); err != nil {
			return &ResourceError{Device: d.Name, Err: err}
		}
		e.events(Event{Action: ActionPowerOff, Stage: StageComplete, Device: d.Name})
	}

	return e.store.Clear(identity)
}

// Store exposes the engine's state store, read-only use intended (show).
func (e *Engine) Store() *state.Store {
	return e.store
}

func endpoint(t *topo.Topology, handles map[string]*node.Handle, ep topo.Endpoint) link.Endpoint {
	return link.Endpoint{
		Handle:    handles[ep.Device],
		Iface:     ep.Iface,
		Addresses: t.Devices[ep.Device].Interfaces[ep.Iface].Addresses,
	}
}

func linkLabel(r link.Resource) string {
	return fmt.Sprintf("[%s:%s]-[%s:%s]",
		r.Ends[0].Device, r.Ends[0].Iface, r.Ends[1].Device, r.Ends[1].Iface)
}

// lockDevices locks both device mutexes in name order to keep two links
// sharing a device from deadlocking each other, and returns the matching
// unlock.
func lockDevices(locks map[string]*sync.Mutex, a, b string) func() {
	if a == b {
		locks[a].Lock()
		return locks[a].Unlock
	}
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	locks[first].Lock()
	locks[second].Lock()
	return func() {
		locks[second].Unlock()
		locks[first].Unlock()
	}
}

// kernelBackend is the real device backend. The docker client is only
// dialed the first time a container-backed device shows up.
type kernelBackend struct {
	root       string
	om         *ovs.OvsManager
	containers func() (*node.ContainerManager, error)
}

func (b *kernelBackend) AddDevice(ctx context.Context, d *topo.Device) (*node.Handle, error) {
	switch d.Kind {
	case topo.KindContainer:
		cm, err := b.containers()
		if err != nil {
			return nil, err
		}
		return cm.AddContainer(ctx, d.Name, d.Image)
	case topo.KindBridge:
		return node.AddBridge(d.Name)
	case topo.KindOvsBridge:
		if err := b.om.AddBridge(d.Name); err != nil {
			return nil, err
		}
		return &node.Handle{Device: d.Name, Kind: topo.KindOvsBridge}, nil
	default:
		return node.AddNamespace(b.root, d.Name)
	}
}

func (b *kernelBackend) DeleteDevice(ctx context.Context, rec state.DeviceRecord) error {
	switch topo.KindFromString(rec.Kind) {
	case topo.KindContainer:
		cm, err := b.containers()
		if err != nil {
			return err
		}
		return cm.DeleteContainer(ctx, rec.Name)
	case topo.KindBridge:
		return node.DeleteBridge(rec.Name)
	case topo.KindOvsBridge:
		return b.om.DeleteBridge(rec.Name)
	default:
		return node.DeleteNamespace(b.root, rec.Name)
	}
}
