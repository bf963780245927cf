package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"Netgen/pkg/link"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

// ErrBusy means another start run holds the advisory lock for the same
// topology identity.
var ErrBusy = errors.New("topology is currently running")

// StoreError marks a failure to read or write the persisted record. Losing
// track of created resources would leak them, so callers treat it as fatal
// for the whole run.
type StoreError struct {
	Identity string
	Err      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("state store, topology %s: %v", e.Identity, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// DeviceRecord is one provisioned device as persisted.
type DeviceRecord struct {
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"`
	NsPath      string `yaml:"ns-path,omitempty"`
	ContainerID string `yaml:"container-id,omitempty"`
}

// Record is everything a later stop invocation needs to find and destroy
// what a start run created. It is appended to synchronously after each
// successful resource creation, so a crash mid-run leaves an accurate
// partial record.
type Record struct {
	Identity string          `yaml:"identity"`
	Devices  []DeviceRecord  `yaml:"devices"`
	Links    []link.Resource `yaml:"links,omitempty"`
}

// Store keeps one yaml record per topology identity under <root>/state.
type Store struct {
	dir string
	mu  sync.Mutex
}

func NewStore(root string) *Store {
	return &Store{dir: filepath.Join(root, "state")}
}

func (s *Store) recordPath(identity string) string {
	return filepath.Join(s.dir, identity+".yml")
}

// Load reads the record for a topology identity. A missing record returns
// (nil, nil): nothing was ever started, or stop already cleaned up.
func (s *Store) Load(identity string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(identity)
}

func (s *Store) load(identity string) (*Record, error) {
	data, err := os.ReadFile(s.recordPath(identity))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreError{Identity: identity, Err: err}
	}
	var rec Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, &StoreError{Identity: identity, Err: err}
	}
	return &rec, nil
}

// AppendDevice records one created device, durably, before start moves on.
func (s *Store) AppendDevice(identity string, d DeviceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(identity)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &Record{Identity: identity}
	}
	rec.Devices = append(rec.Devices, d)
	return s.write(rec)
}

// AppendLink records one provisioned link, durably, before start moves on.
func (s *Store) AppendLink(identity string, r link.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(identity)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &Record{Identity: identity}
	}
	rec.Links = append(rec.Links, r)
	return s.write(rec)
}

// Clear removes the record once stop has destroyed everything in it.
// Clearing an absent record succeeds.
func (s *Store) Clear(identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.recordPath(identity)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &StoreError{Identity: identity, Err: err}
	}
	return nil
}

// write replaces the record atomically: marshal to a temp file in the same
// directory, fsync, rename over the old record.
func (s *Store) write(rec *Record) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return &StoreError{Identity: rec.Identity, Err: err}
	}
	data, err := yaml.Marshal(rec)
	if err != nil {
		return &StoreError{Identity: rec.Identity, Err: err}
	}
	tmp, err := os.CreateTemp(s.dir, "."+rec.Identity+"-*")
	if err != nil {
		return &StoreError{Identity: rec.Identity, Err: err}
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &StoreError{Identity: rec.Identity, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &StoreError{Identity: rec.Identity, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &StoreError{Identity: rec.Identity, Err: err}
	}
	if err := os.Rename(tmp.Name(), s.recordPath(rec.Identity)); err != nil {
		return &StoreError{Identity: rec.Identity, Err: err}
	}
	return nil
}

// RunLock is the advisory lock serializing runs over one topology identity.
type RunLock struct {
	f *os.File
}

// Acquire takes the per-identity flock non-blockingly; a second concurrent
// start (or stop) of the same identity gets ErrBusy. Runs over different
// identities are independent.
func (s *Store) Acquire(identity string) (*RunLock, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, &StoreError{Identity: identity, Err: err}
	}
	f, err := os.OpenFile(filepath.Join(s.dir, identity+".lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, &StoreError{Identity: identity, Err: err}
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("topology %s: %w", identity, ErrBusy)
		}
		return nil, &StoreError{Identity: identity, Err: err}
	}
	return &RunLock{f: f}, nil
}

// Release drops the flock. The lock file itself stays behind; it carries no
// state.
func (l *RunLock) Release() {
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	l.f.Close()
}
