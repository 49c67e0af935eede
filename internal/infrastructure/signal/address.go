package signal

import (
	"fmt"
	"net"
	"strings"

	"lancast/internal/core/domain"
)

// AdvertiseAddress is the address other hosts should dial to reach this
// caster: configured when set, otherwise the first LAN IPv4 address.
func AdvertiseAddress(configured string) (domain.PeerAddress, error) {
	if configured != "" {
		return domain.ParsePeerAddress(strings.TrimSpace(configured))
	}
	return firstLANAddress(net.InterfaceAddrs)
}

func firstLANAddress(interfaceAddrs func() ([]net.Addr, error)) (domain.PeerAddress, error) {
	addrs, err := interfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("failed to list interface addresses: %w", err)
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipnet.IP.To4()
		if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}
		return domain.PeerAddressFromIP(ip)
	}
	return "", fmt.Errorf("%w: no LAN IPv4 address found", domain.ErrInvalidAddress)
}
