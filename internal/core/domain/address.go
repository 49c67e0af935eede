package domain

import (
	"fmt"
	"net"
	"strings"
)

// PeerAddress is the textual IPv4 identity of a connected peer.
type PeerAddress string

func (a PeerAddress) String() string { return string(a) }

// ParsePeerAddress accepts dotted-quad IPv4 literals only. Hostnames, IPv6,
// host:port forms and surrounding whitespace are rejected.
func ParsePeerAddress(s string) (PeerAddress, error) {
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil || strings.Contains(s, ":") {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return PeerAddress(ip.To4().String()), nil
}

// PeerAddressFromIP normalizes an IPv4 or IPv4-mapped IPv6 address.
func PeerAddressFromIP(ip net.IP) (PeerAddress, error) {
	v4 := ip.To4()
	if v4 == nil {
		return "", fmt.Errorf("%w: %s is not IPv4", ErrInvalidAddress, ip)
	}
	return PeerAddress(v4.String()), nil
}
