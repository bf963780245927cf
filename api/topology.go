package api

// TopoConfig is the deserialized topology document. The engine never reads
// yaml itself; the CLI (or any other front-end) hands it one of these.
type TopoConfig struct {
	Name     string            `yaml:"name"`
	Routers  map[string]Router `yaml:"routers"`
	Switches map[string]Switch `yaml:"switches"`
	Links    []Link            `yaml:"links"`
}

// Router is a simulated L3 device backed by its own network namespace.
// When Image is set the router runs as a privileged container instead and
// the container's namespace is used.
type Router struct {
	Image      string               `yaml:"image"`
	Interfaces map[string]Interface `yaml:"interfaces"`
}

// Switch is a simulated L2 device living in the host namespace, backed by a
// kernel bridge or, when Ovs is set, an OVS bridge.
type Switch struct {
	Ovs        bool                 `yaml:"ovs"`
	Interfaces map[string]Interface `yaml:"interfaces"`
}

// Interface holds the addresses assigned to one device interface, in CIDR
// notation. Interface names are scoped to their device.
type Interface struct {
	Ipv4 []string `yaml:"ipv4"`
	Ipv6 []string `yaml:"ipv6"`
}

// Link connects two device interfaces with a veth pair.
type Link struct {
	SrcDevice  string         `yaml:"src-device"`
	SrcIface   string         `yaml:"src-iface"`
	DstDevice  string         `yaml:"dst-device"`
	DstIface   string         `yaml:"dst-iface"`
	Properties LinkProperties `yaml:"properties"`
}

// LinkProperties are optional conditioning parameters applied to both ends.
type LinkProperties struct {
	Latency uint32  `yaml:"latency"` // in ms
	Loss    float32 `yaml:"loss"`    // in percentage
	Rate    uint64  `yaml:"rate"`    // in mbps
}
