package link

import (
	"fmt"

	"Netgen/api"

	"github.com/vishvananda/netlink"
)

// applyNetem installs a netem root qdisc on the interface when the link
// declares conditioning properties. Runs inside the interface's namespace.
// tc equivalent: tc qdisc add dev eth0 root netem delay 10ms loss 0.1% rate 100mbit
func applyNetem(link netlink.Link, p api.LinkProperties) error {
	if p.Latency == 0 && p.Loss == 0 && p.Rate == 0 {
		return nil
	}

	netem := netlink.NewNetem(netlink.QdiscAttrs{
		LinkIndex: link.Attrs().Index,
		Handle:    netlink.MakeHandle(1, 0),
		Parent:    netlink.HANDLE_ROOT,
	}, netlink.NetemQdiscAttrs{
		Latency: p.Latency * 1000,         // ms to us
		Loss:    p.Loss,                   // in %
		Rate64:  p.Rate * 1000 * 1000 / 8, // mbps to bytes/s
	})

	if err := netlink.QdiscAdd(netem); err != nil {
		return fmt.Errorf("failed to add netem qdisc: %w", err)
	}
	return nil
}
