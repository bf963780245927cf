package pkg

import (
	"context"
	"errors"
	"sync"
	"testing"

	"Netgen/api"
	"Netgen/pkg/link"
	"Netgen/pkg/node"
	"Netgen/pkg/state"
	"Netgen/pkg/topo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu      sync.Mutex
	added   []string
	deleted []string
	failOn  map[string]error
}

func (f *fakeBackend) AddDevice(_ context.Context, d *topo.Device) (*node.Handle, error) {
	if err := f.failOn[d.Name]; err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, d.Name)
	return &node.Handle{Device: d.Name, Kind: d.Kind, NsPath: "/fake/ns/" + d.Name}, nil
}

func (f *fakeBackend) DeleteDevice(_ context.Context, rec state.DeviceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, rec.Name)
	return nil
}

func (f *fakeBackend) live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.added) - len(f.deleted)
}

type fakeProvisioner struct {
	mu          sync.Mutex
	provisioned []int
	torn        []int
	failOn      map[int]error
}

func (f *fakeProvisioner) Provision(id int, a, b link.Endpoint, _ api.LinkProperties) (*link.Resource, error) {
	if err := f.failOn[id]; err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provisioned = append(f.provisioned, id)
	return &link.Resource{
		ID: id,
		Ends: [2]link.End{
			{Device: a.Handle.Device, Iface: a.Iface, NsPath: a.Handle.NsPath},
			{Device: b.Handle.Device, Iface: b.Iface, NsPath: b.Handle.NsPath},
		},
	}, nil
}

func (f *fakeProvisioner) Teardown(r *link.Resource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.torn = append(f.torn, r.ID)
	return nil
}

func newTestEngine(t *testing.T, nb *fakeBackend, lp *fakeProvisioner) *Engine {
	t.Helper()
	root := t.TempDir()
	return &Engine{
		cfg:    Config{Root: root, Workers: 1},
		store:  state.NewStore(root),
		nodes:  nb,
		links:  lp,
		events: func(Event) {},
	}
}

func chainTopology(t *testing.T) *topo.Topology {
	t.Helper()
	// r1 --- r2 --- r3, plus a closing link r3 --- r1
	doc := &api.TopoConfig{
		Name:    "chain",
		Routers: map[string]api.Router{"r1": {}, "r2": {}, "r3": {}},
		Links: []api.Link{
			{SrcDevice: "r1", SrcIface: "eth0", DstDevice: "r2", DstIface: "eth0"},
			{SrcDevice: "r2", SrcIface: "eth1", DstDevice: "r3", DstIface: "eth0"},
			{SrcDevice: "r3", SrcIface: "eth1", DstDevice: "r1", DstIface: "eth1"},
		},
	}
	topology, err := topo.Build(doc)
	require.NoError(t, err)
	return topology
}

func TestStartRecordsEverything(t *testing.T) {
	nb := &fakeBackend{}
	lp := &fakeProvisioner{}
	e := newTestEngine(t, nb, lp)

	require.NoError(t, e.Start(context.Background(), chainTopology(t)))

	assert.Equal(t, []string{"r1", "r2", "r3"}, nb.added)
	assert.Equal(t, []int{0, 1, 2}, lp.provisioned)

	rec, err := e.store.Load("chain")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Len(t, rec.Devices, 3)
	assert.Len(t, rec.Links, 3)
}

func TestStartThenStopLeavesNothing(t *testing.T) {
	nb := &fakeBackend{}
	lp := &fakeProvisioner{}
	e := newTestEngine(t, nb, lp)

	require.NoError(t, e.Start(context.Background(), chainTopology(t)))
	require.NoError(t, e.Stop(context.Background(), "chain"))

	assert.Zero(t, nb.live())
	assert.Len(t, lp.torn, 3)

	rec, err := e.store.Load("chain")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	nb := &fakeBackend{}
	lp := &fakeProvisioner{}
	e := newTestEngine(t, nb, lp)

	require.NoError(t, e.Stop(context.Background(), "never-started"))
	assert.Empty(t, nb.deleted)
	assert.Empty(t, lp.torn)
}

func TestStopTwiceIsIdempotent(t *testing.T) {
	nb := &fakeBackend{}
	lp := &fakeProvisioner{}
	e := newTestEngine(t, nb, lp)

	require.NoError(t, e.Start(context.Background(), chainTopology(t)))
	require.NoError(t, e.Stop(context.Background(), "chain"))

	// the second stop finds no record and must not destroy anything more
	require.NoError(t, e.Stop(context.Background(), "chain"))
	assert.Len(t, nb.deleted, 3)
	assert.Len(t, lp.torn, 3)
}

func TestDeviceFailureHaltsRun(t *testing.T) {
	boom := errors.New("operation not permitted")
	nb := &fakeBackend{failOn: map[string]error{"r3": boom}}
	lp := &fakeProvisioner{}
	e := newTestEngine(t, nb, lp)

	err := e.Start(context.Background(), chainTopology(t))
	require.Error(t, err)

	var rerr *ResourceError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "r3", rerr.Device)
	require.ErrorIs(t, err, boom)

	// devices created before the failure stay live and tracked; no link
	// was ever attempted
	assert.Equal(t, []string{"r1", "r2"}, nb.added)
	assert.Empty(t, lp.provisioned)

	rec, err := e.store.Load("chain")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Len(t, rec.Devices, 2)
	assert.Empty(t, rec.Links)

	// a later stop cleans up exactly the partial run
	require.NoError(t, e.Stop(context.Background(), "chain"))
	assert.Zero(t, nb.live())
}

func TestLinkFailureLeavesPriorWorkTracked(t *testing.T) {
	boom := errors.New("name collision")
	nb := &fakeBackend{}
	lp := &fakeProvisioner{failOn: map[int]error{1: boom}}
	e := newTestEngine(t, nb, lp)

	err := e.Start(context.Background(), chainTopology(t))
	require.Error(t, err)

	var rerr *ResourceError
	require.ErrorAs(t, err, &rerr)
	assert.Contains(t, rerr.Link, "r2:eth1")

	// the first link remains live and tracked, the third was never attempted
	assert.Equal(t, []int{0}, lp.provisioned)

	rec, err := e.store.Load("chain")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Len(t, rec.Devices, 3)
	require.Len(t, rec.Links, 1)
	assert.Equal(t, 0, rec.Links[0].ID)
}

func TestConcurrentStartRejected(t *testing.T) {
	nb := &fakeBackend{}
	lp := &fakeProvisioner{}
	e := newTestEngine(t, nb, lp)

	lock, err := e.store.Acquire("chain")
	require.NoError(t, err)
	defer lock.Release()

	err = e.Start(context.Background(), chainTopology(t))
	require.ErrorIs(t, err, state.ErrBusy)
	assert.Empty(t, nb.added)
}

func TestParallelStartSerializesSharedDevices(t *testing.T) {
	nb := &fakeBackend{}
	lp := &fakeProvisioner{}
	e := newTestEngine(t, nb, lp)
	e.cfg.Workers = 4

	require.NoError(t, e.Start(context.Background(), chainTopology(t)))

	assert.Len(t, nb.added, 3)
	assert.Len(t, lp.provisioned, 3)
}
