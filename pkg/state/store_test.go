package state

import (
	"os"
	"path/filepath"
	"testing"

	"Netgen/pkg/link"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAbsent(t *testing.T) {
	s := NewStore(t.TempDir())

	rec, err := s.Load("nothing")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestAppendAndLoad(t *testing.T) {
	s := NewStore(t.TempDir())

	require.NoError(t, s.AppendDevice("lab", DeviceRecord{
		Name: "RT-A", Kind: "netns", NsPath: "/tmp/x/ns/devices/RT-A",
	}))
	require.NoError(t, s.AppendDevice("lab", DeviceRecord{
		Name: "RT-B", Kind: "netns", NsPath: "/tmp/x/ns/devices/RT-B",
	}))
	require.NoError(t, s.AppendLink("lab", link.Resource{
		ID: 0,
		Ends: [2]link.End{
			{Device: "RT-A", Iface: "eth0", NsPath: "/tmp/x/ns/devices/RT-A"},
			{Device: "RT-B", Iface: "eth0", NsPath: "/tmp/x/ns/devices/RT-B"},
		},
	}))

	rec, err := s.Load("lab")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "lab", rec.Identity)
	require.Len(t, rec.Devices, 2)
	assert.Equal(t, "RT-A", rec.Devices[0].Name)
	assert.Equal(t, "RT-B", rec.Devices[1].Name)
	require.Len(t, rec.Links, 1)
	assert.Equal(t, "eth0", rec.Links[0].Ends[0].Iface)
}

// Every append must be durable on its own: a fresh store over the same
// directory (a new process, effectively) sees what the old one wrote.
func TestRecordSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	first := NewStore(dir)
	require.NoError(t, first.AppendDevice("lab", DeviceRecord{Name: "RT-A", Kind: "netns"}))

	second := NewStore(dir)
	rec, err := second.Load("lab")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Len(t, rec.Devices, 1)
}

func TestClear(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.AppendDevice("lab", DeviceRecord{Name: "RT-A", Kind: "netns"}))

	require.NoError(t, s.Clear("lab"))
	rec, err := s.Load("lab")
	require.NoError(t, err)
	assert.Nil(t, rec)

	// clearing twice is fine
	require.NoError(t, s.Clear("lab"))
}

func TestLoadCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "state"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "state", "lab.yml"), []byte("\tnot yaml"), 0o644))

	_, err := s.Load("lab")
	require.Error(t, err)
	var serr *StoreError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "lab", serr.Identity)
}

func TestAcquireRejectsConcurrentRun(t *testing.T) {
	s := NewStore(t.TempDir())

	l, err := s.Acquire("lab")
	require.NoError(t, err)

	_, err = s.Acquire("lab")
	require.ErrorIs(t, err, ErrBusy)

	// a different identity is independent
	other, err := s.Acquire("other")
	require.NoError(t, err)
	other.Release()

	l.Release()
	again, err := s.Acquire("lab")
	require.NoError(t, err)
	again.Release()
}
