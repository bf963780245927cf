package node

import (
	"fmt"

	"Netgen/pkg/topo"

	"github.com/vishvananda/netlink"
)

// AddBridge creates a kernel bridge in the host namespace for a switch
// device and brings it up. Idempotent: an existing bridge with the name is
// reused.
func AddBridge(device string) (*Handle, error) {
	h := &Handle{Device: device, Kind: topo.KindBridge}

	if existing, err := netlink.LinkByName(device); err == nil {
		if _, ok := existing.(*netlink.Bridge); !ok {
			return nil, fmt.Errorf("%s exists but is not a bridge", device)
		}
		if err := netlink.LinkSetUp(existing); err != nil {
			return nil, fmt.Errorf("failed to bring up bridge %s: %w", device, err)
		}
		return h, nil
	}

	attrs := netlink.NewLinkAttrs()
	attrs.Name = device
	br := &netlink.Bridge{LinkAttrs: attrs}
	if err := netlink.LinkAdd(br); err != nil {
		return nil, fmt.Errorf("failed to create bridge %s: %w", device, err)
	}
	if err := netlink.LinkSetUp(br); err != nil {
		return nil, fmt.Errorf("failed to bring up bridge %s: %w", device, err)
	}
	return h, nil
}

// DeleteBridge removes a switch's bridge, treating an already-absent bridge
// as success.
func DeleteBridge(device string) error {
	link, err := netlink.LinkByName(device)
	if err != nil {
		if _, gone := err.(netlink.LinkNotFoundError); gone {
			return nil
		}
		return fmt.Errorf("failed to look up bridge %s: %w", device, err)
	}
	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("failed to delete bridge %s: %w", device, err)
	}
	return nil
}
