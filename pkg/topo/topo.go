package topo

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sort"

	"Netgen/api"
	"Netgen/pkg/util"
)

// Validation failures, in the order the rules are checked. Callers match
// them with errors.Is; the wrapped message carries the offending identifier.
var (
	ErrDuplicateDevice = errors.New("device declared more than once")
	ErrUnknownDevice   = errors.New("link endpoint references unknown device")
	ErrInterfaceReused = errors.New("interface used by more than one link")
	ErrBadAddress      = errors.New("address is not valid CIDR notation")
)

type Kind int

const (
	KindNetns     Kind = iota // router in its own namespace
	KindContainer             // router backed by a docker container
	KindBridge                // switch backed by a kernel bridge
	KindOvsBridge             // switch backed by an OVS bridge
)

func (k Kind) String() string {
	switch k {
	case KindContainer:
		return "container"
	case KindBridge:
		return "bridge"
	case KindOvsBridge:
		return "ovs-bridge"
	default:
		return "netns"
	}
}

// KindFromString is the inverse of Kind.String, used when reading the
// state store back.
func KindFromString(s string) Kind {
	switch s {
	case "container":
		return KindContainer
	case "bridge":
		return KindBridge
	case "ovs-bridge":
		return KindOvsBridge
	default:
		return KindNetns
	}
}

// Device is one simulated node. A device corresponds 1:1 with one namespace
// (or bridge) at runtime; it has no identity beyond its name and interfaces.
type Device struct {
	Name       string
	Kind       Kind
	Image      string
	Interfaces map[string]*Interface
}

// Switch reports whether the device lives in the host namespace.
func (d *Device) Switch() bool {
	return d.Kind == KindBridge || d.Kind == KindOvsBridge
}

// Interface holds the parsed addresses assigned to one device interface.
// Addresses keep the host IP together with the prefix mask, the form
// netlink address assignment expects.
type Interface struct {
	Name      string
	Addresses []*net.IPNet
}

type Endpoint struct {
	Device string
	Iface  string
}

func (e Endpoint) String() string {
	return e.Device + ":" + e.Iface
}

type Link struct {
	ID         int
	Src        Endpoint
	Dst        Endpoint
	Properties api.LinkProperties
}

func (l *Link) String() string {
	return fmt.Sprintf("[%s]-[%s]", l.Src, l.Dst)
}

// Topology is the validated device/link graph. Pure data: building one
// touches no kernel state.
type Topology struct {
	Name    string
	Devices map[string]*Device
	Links   []*Link
}

// Identity names the state-store record for this topology: the declared
// name when there is one, otherwise a digest of the sorted device set so
// start and stop invocations over the same document agree.
func (t *Topology) Identity() string {
	if t.Name != "" {
		return t.Name
	}
	names := make([]string, 0, len(t.Devices))
	for name := range t.Devices {
		names = append(names, name)
	}
	sort.Strings(names)
	h := sha1.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// Device returns the named device, nil if absent.
func (t *Topology) Device(name string) *Device {
	return t.Devices[name]
}

// Build turns a deserialized topology document into a validated Topology.
// Validation rules, in order:
//  1. every link endpoint's device exists;
//  2. every link endpoint's interface resolves against that device —
//     declared under the device, or introduced by exactly this link;
//  3. no interface is the endpoint of more than one link;
//  4. every declared address parses as CIDR notation.
func Build(doc *api.TopoConfig) (*Topology, error) {
	t := &Topology{
		Name:    doc.Name,
		Devices: make(map[string]*Device),
	}

	for name, r := range doc.Routers {
		if name == "" {
			return nil, fmt.Errorf("router with empty name: %w", ErrUnknownDevice)
		}
		kind := KindNetns
		if r.Image != "" {
			kind = KindContainer
		}
		d := &Device{
			Name:       name,
			Kind:       kind,
			Image:      r.Image,
			Interfaces: make(map[string]*Interface),
		}
		if err := addInterfaces(d, r.Interfaces); err != nil {
			return nil, err
		}
		t.Devices[name] = d
	}

	for name, s := range doc.Switches {
		if name == "" {
			return nil, fmt.Errorf("switch with empty name: %w", ErrUnknownDevice)
		}
		if _, dup := t.Devices[name]; dup {
			return nil, fmt.Errorf("%q: %w", name, ErrDuplicateDevice)
		}
		kind := KindBridge
		if s.Ovs {
			kind = KindOvsBridge
		}
		d := &Device{
			Name:       name,
			Kind:       kind,
			Interfaces: make(map[string]*Interface),
		}
		if err := addInterfaces(d, s.Interfaces); err != nil {
			return nil, err
		}
		t.Devices[name] = d
	}

	// taken tracks which interface each endpoint already belongs to, so a
	// second link touching the same endpoint is rejected.
	taken := make(map[Endpoint]int)
	for i, l := range doc.Links {
		link := &Link{
			ID:         i,
			Src:        Endpoint{Device: l.SrcDevice, Iface: l.SrcIface},
			Dst:        Endpoint{Device: l.DstDevice, Iface: l.DstIface},
			Properties: l.Properties,
		}
		for _, ep := range []Endpoint{link.Src, link.Dst} {
			d, ok := t.Devices[ep.Device]
			if !ok {
				return nil, fmt.Errorf("link %s: %q: %w", link, ep.Device, ErrUnknownDevice)
			}
			if prev, used := taken[ep]; used {
				return nil, fmt.Errorf("link %s: %s already used by link %d: %w",
					link, ep, prev, ErrInterfaceReused)
			}
			taken[ep] = i
			// An endpoint may name an interface the device does not
			// declare; the link introduces it with no addresses.
			if _, declared := d.Interfaces[ep.Iface]; !declared {
				d.Interfaces[ep.Iface] = &Interface{Name: ep.Iface}
			}
		}
		t.Links = append(t.Links, link)
	}

	return t, nil
}

func addInterfaces(d *Device, ifaces map[string]api.Interface) error {
	for name, cfg := range ifaces {
		iface := &Interface{Name: name}
		for _, addr := range append(append([]string{}, cfg.Ipv4...), cfg.Ipv6...) {
			parsed, err := util.ParseAddr(addr)
			if err != nil {
				return fmt.Errorf("%s:%s: %q: %w", d.Name, name, addr, ErrBadAddress)
			}
			iface.Addresses = append(iface.Addresses, parsed)
		}
		d.Interfaces[name] = iface
	}
	return nil
}
