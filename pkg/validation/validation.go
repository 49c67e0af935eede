package validation

import (
	"fmt"
	"net"
	"os"
	"strings"

	"lancast/internal/core/domain"
)

// ValidateCasterAddress checks user input naming a caster. After trimming it
// must be a dotted-quad IPv4 literal naming a single host.
func ValidateCasterAddress(address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("%w: address is required", domain.ErrInvalidAddress)
	}
	addr, err := domain.ParsePeerAddress(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(addr.String())
	switch {
	case ip.IsUnspecified():
		return fmt.Errorf("%w: %s is the unspecified address", domain.ErrInvalidAddress, addr)
	case ip.Equal(net.IPv4bcast):
		return fmt.Errorf("%w: %s is the broadcast address", domain.ErrInvalidAddress, addr)
	case ip.IsMulticast():
		return fmt.Errorf("%w: %s is a multicast address", domain.ErrInvalidAddress, addr)
	}
	return nil
}

// ValidateAdvertiseAddress checks the address a caster publishes for
// discovery. Empty means auto-detect. Loopback is rejected since no other
// host could reach it.
func ValidateAdvertiseAddress(address string) error {
	if address == "" {
		return nil
	}
	if err := ValidateCasterAddress(address); err != nil {
		return err
	}
	if net.ParseIP(strings.TrimSpace(address)).IsLoopback() {
		return fmt.Errorf("%w: %s is a loopback address", domain.ErrInvalidAddress, address)
	}
	return nil
}

// ValidatePort validates a TCP/UDP port number
func ValidatePort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s must be in 1..65535", name)
	}
	return nil
}

// ValidateDirectory checks that dir exists and is a directory.
func ValidateDirectory(name, dir string) error {
	if err := ValidateNonEmptyString(dir, name); err != nil {
		return err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %s is not a directory", name, dir)
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}
