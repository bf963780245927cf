package link

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"

	"Netgen/api"
	"Netgen/pkg/node"
	"Netgen/pkg/ovs"
	"Netgen/pkg/topo"

	ns "github.com/containernetworking/plugins/pkg/ns"
	"github.com/vishvananda/netlink"
)

const defaultMTU = 1500

// Endpoint is one side of a link to be provisioned: the device handle the
// interface will live in, the declared interface name, and the addresses to
// assign.
type Endpoint struct {
	Handle    *node.Handle
	Iface     string
	Addresses []*net.IPNet
}

// End records where one side of a provisioned link ended up, enough for a
// later process to find and delete it.
type End struct {
	Device string `yaml:"device"`
	Iface  string `yaml:"iface"`
	NsPath string `yaml:"ns-path,omitempty"` // empty: host namespace
}

// HostName is the interface name an end carries in the host namespace.
// Switch-side ends are prefixed with the switch name since plain interface
// names like eth0 would collide between devices there.
func (e End) HostName() string {
	if e.NsPath == "" {
		return PortName(e.Device, e.Iface)
	}
	return e.Iface
}

// PortName is the host-namespace name for a switch port.
func PortName(device, iface string) string {
	return device + "-" + iface
}

// Resource is the runtime counterpart of a topology link: the two veth
// ends and where each lives.
type Resource struct {
	ID   int    `yaml:"id"`
	Ends [2]End `yaml:"ends"`
}

// Provisioner creates and destroys the veth pairs behind topology links.
type Provisioner struct {
	om *ovs.OvsManager
}

func NewProvisioner(om *ovs.OvsManager) *Provisioner {
	return &Provisioner{om: om}
}

// endState tracks where one veth end currently is while provisioning moves
// and renames it, so a mid-step failure can still find something to delete.
type endState struct {
	name   string
	nsPath string
}

// Provision creates the veth pair for one link and attaches the ends to
// their endpoints: move into the endpoint's namespace (or enslave to its
// bridge), rename to the declared interface name, assign addresses, set up.
// The rename happens after the move: interface names are namespace-scoped
// and the declared name may already be taken in the host namespace.
//
// If any step fails the pair is deleted before the error is returned, so no
// half-provisioned link is left behind. The caller must have both endpoint
// devices provisioned before calling.
func (p *Provisioner) Provision(id int, a, b Endpoint, props api.LinkProperties) (*Resource, error) {
	tmpA, tmpB, err := tempNames()
	if err != nil {
		return nil, err
	}

	attrs := netlink.NewLinkAttrs()
	attrs.Name = tmpA
	attrs.MTU = defaultMTU
	veth := &netlink.Veth{LinkAttrs: attrs, PeerName: tmpB}
	if err := netlink.LinkAdd(veth); err != nil {
		return nil, fmt.Errorf("failed to create veth pair: %w", err)
	}

	states := [2]*endState{{name: tmpA}, {name: tmpB}}
	for i, ep := range [2]Endpoint{a, b} {
		if err := p.attach(states[i], ep, props); err != nil {
			p.rollback(states)
			return nil, fmt.Errorf("failed to attach %s:%s: %w", ep.Handle.Device, ep.Iface, err)
		}
	}

	return &Resource{
		ID: id,
		Ends: [2]End{
			{Device: a.Handle.Device, Iface: a.Iface, NsPath: a.Handle.NsPath},
			{Device: b.Handle.Device, Iface: b.Iface, NsPath: b.Handle.NsPath},
		},
	}, nil
}

// attach takes one raw veth end from the host namespace to its final place,
// updating st after every step that moves or renames it.
func (p *Provisioner) attach(st *endState, ep Endpoint, props api.LinkProperties) error {
	raw, err := netlink.LinkByName(st.name)
	if err != nil {
		return fmt.Errorf("failed to find veth end %s: %w", st.name, err)
	}

	if ep.Handle.Kind == topo.KindBridge || ep.Handle.Kind == topo.KindOvsBridge {
		return p.enslave(st, raw, ep)
	}

	deviceNs, err := ns.GetNS(ep.Handle.NsPath)
	if err != nil {
		return fmt.Errorf("failed to get namespace of %s: %w", ep.Handle.Device, err)
	}
	defer deviceNs.Close()

	if err := netlink.LinkSetNsFd(raw, int(deviceNs.Fd())); err != nil {
		return fmt.Errorf("failed to move veth into namespace: %w", err)
	}
	st.nsPath = ep.Handle.NsPath

	return deviceNs.Do(func(_ ns.NetNS) error {
		moved, err := netlink.LinkByName(st.name)
		if err != nil {
			return fmt.Errorf("failed to find moved veth: %w", err)
		}
		if err := netlink.LinkSetName(moved, ep.Iface); err != nil {
			return fmt.Errorf("failed to rename to %s: %w", ep.Iface, err)
		}
		st.name = ep.Iface

		for _, addr := range ep.Addresses {
			if err := netlink.AddrAdd(moved, &netlink.Addr{IPNet: addr}); err != nil {
				return fmt.Errorf("failed to assign %s: %w", addr, err)
			}
		}
		if err := netlink.LinkSetUp(moved); err != nil {
			return fmt.Errorf("failed to set %s up: %w", ep.Iface, err)
		}
		return applyNetem(moved, props)
	})
}

// enslave keeps a switch-side end in the host namespace, renames it to the
// switch's port name and attaches it to the bridge.
func (p *Provisioner) enslave(st *endState, raw netlink.Link, ep Endpoint) error {
	port := PortName(ep.Handle.Device, ep.Iface)
	if err := netlink.LinkSetName(raw, port); err != nil {
		return fmt.Errorf("failed to rename to port %s: %w", port, err)
	}
	st.name = port

	renamed, err := netlink.LinkByName(port)
	if err != nil {
		return fmt.Errorf("failed to find port %s: %w", port, err)
	}
	if ep.Handle.Kind == topo.KindOvsBridge {
		if err := p.om.AddPort(ep.Handle.Device, port); err != nil {
			return err
		}
	} else {
		bridge, err := netlink.LinkByName(ep.Handle.Device)
		if err != nil {
			return fmt.Errorf("failed to find bridge %s: %w", ep.Handle.Device, err)
		}
		if err := netlink.LinkSetMaster(renamed, bridge); err != nil {
			return fmt.Errorf("failed to enslave %s to %s: %w", port, ep.Handle.Device, err)
		}
	}
	if err := netlink.LinkSetUp(renamed); err != nil {
		return fmt.Errorf("failed to set port %s up: %w", port, err)
	}
	return nil
}

// rollback deletes a partially provisioned pair. Deleting either veth end
// removes its partner at the kernel level, so the first successful delete
// finishes the job.
func (p *Provisioner) rollback(states [2]*endState) {
	for _, st := range states {
		if deleted, _ := deleteEnd(End{Iface: st.name, NsPath: st.nsPath}, st.name); deleted {
			return
		}
	}
}

// Teardown removes a provisioned link. It deletes whichever recorded end is
// still reachable and relies on veth-pair semantics for the partner; both
// ends being gone already (e.g. their namespaces were destroyed first) is
// success.
func (p *Provisioner) Teardown(r *Resource) error {
	for _, end := range r.Ends {
		deleted, err := deleteEnd(end, end.HostName())
		if err != nil {
			return fmt.Errorf("failed to tear down link %d at %s:%s: %w",
				r.ID, end.Device, end.Iface, err)
		}
		if deleted {
			return nil
		}
	}
	return nil
}

// deleteEnd deletes one veth end by name, in the host namespace or inside
// the end's network namespace. Reports whether anything was deleted; an
// absent interface or namespace is not an error.
func deleteEnd(end End, name string) (bool, error) {
	if end.NsPath == "" {
		link, err := netlink.LinkByName(name)
		if err != nil {
			if _, gone := err.(netlink.LinkNotFoundError); gone {
				return false, nil
			}
			return false, err
		}
		if err := netlink.LinkDel(link); err != nil {
			return false, err
		}
		return true, nil
	}

	deviceNs, err := ns.GetNS(end.NsPath)
	if err != nil {
		// namespace already destroyed, and the interface with it
		return false, nil
	}
	defer deviceNs.Close()

	deleted := false
	err = deviceNs.Do(func(_ ns.NetNS) error {
		link, err := netlink.LinkByName(name)
		if err != nil {
			if _, gone := err.(netlink.LinkNotFoundError); gone {
				return nil
			}
			return err
		}
		if err := netlink.LinkDel(link); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// tempNames picks random host-namespace names for a fresh pair, in the
// veth+hex style docker uses, so parallel provisioning cannot collide.
func tempNames() (string, string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to pick veth names: %w", err)
	}
	base := "ng" + hex.EncodeToString(b)[:7]
	return base + "-0", base + "-1", nil
}
