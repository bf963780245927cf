package ovs

import (
	"fmt"

	"github.com/digitalocean/go-openvswitch/ovs"
)

// OvsManager backs switch devices with OVS bridges, one bridge per switch.
// It shells out to ovs-vsctl through the go-openvswitch client, so an OVS
// daemon must be running on the host.
type OvsManager struct {
	oClient *ovs.Client
}

func NewOvsManager() *OvsManager {
	return &OvsManager{oClient: ovs.New()}
}

// AddBridge creates the switch's bridge. ovs-vsctl runs with --may-exist,
// so a bridge left over from a prior run is reused.
func (om *OvsManager) AddBridge(name string) error {
	if err := om.oClient.VSwitch.AddBridge(name); err != nil {
		return fmt.Errorf("failed to create OVS bridge %s: %w", name, err)
	}
	return nil
}

// DeleteBridge removes the switch's bridge; deleting a bridge that is
// already gone succeeds (--if-exists).
func (om *OvsManager) DeleteBridge(name string) error {
	if err := om.oClient.VSwitch.DeleteBridge(name); err != nil {
		return fmt.Errorf("failed to delete OVS bridge %s: %w", name, err)
	}
	return nil
}

// AddPort attaches a host-side veth end to the switch's bridge.
func (om *OvsManager) AddPort(bridge, port string) error {
	if err := om.oClient.VSwitch.AddPort(bridge, port); err != nil {
		return fmt.Errorf("failed to add port %s to OVS bridge %s: %w", port, bridge, err)
	}
	return nil
}
