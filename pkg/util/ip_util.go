package util

import (
	"net"
)

// ParseAddr parses an address in CIDR notation, keeping the host address
// together with the prefix mask. net.ParseCIDR alone hands back the
// network address, which is not what gets assigned to an interface.
func ParseAddr(s string) (*net.IPNet, error) {
	ip, ipNet, err := net.ParseCIDR(s)
	if err != nil {
		return nil, err
	}
	return &net.IPNet{IP: ip, Mask: ipNet.Mask}, nil
}

// IsIPv4 reports whether the parsed address is an IPv4 one.
func IsIPv4(n *net.IPNet) bool {
	return n.IP.To4() != nil
}
