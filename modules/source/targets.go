package source

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// maxSubnetHosts caps how many addresses a single subnet target expands to.
// A /16 would otherwise mean 65k probes per discovery window.
const maxSubnetHosts = 1024

// Target is an extra discovery location: a single address or a subnet.
type Target struct {
	Prefix netip.Prefix
}

// IsHost reports whether the target is a single address.
func (t Target) IsHost() bool {
	return t.Prefix.IsSingleIP()
}

// String returns the address, or the subnet in CIDR notation.
func (t Target) String() string {
	if t.IsHost() {
		return t.Prefix.Addr().String()
	}
	return t.Prefix.String()
}

// Hosts expands the target into individual addresses. Subnets skip the
// network and (for IPv4) broadcast addresses and stop after maxSubnetHosts.
func (t Target) Hosts() []netip.Addr {
	if t.IsHost() {
		return []netip.Addr{t.Prefix.Addr()}
	}

	p := t.Prefix.Masked()
	var hosts []netip.Addr
	for a := p.Addr().Next(); a.IsValid() && p.Contains(a); a = a.Next() {
		if a.Is4() && !p.Contains(a.Next()) {
			break // broadcast
		}
		hosts = append(hosts, a)
		if len(hosts) == maxSubnetHosts {
			break
		}
	}
	return hosts
}

// ParseTarget parses "a.b.c.d" or "a.b.c.d/bits" (IPv6 accepted too).
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return Target{}, fmt.Errorf("source: invalid subnet %q: %w", s, err)
		}
		return Target{Prefix: p.Masked()}, nil
	}

	a, err := netip.ParseAddr(s)
	if err != nil {
		return Target{}, fmt.Errorf("source: invalid address %q: %w", s, err)
	}
	return Target{Prefix: netip.PrefixFrom(a, a.BitLen())}, nil
}

// ParseTargets parses every entry. Valid targets are always returned; the
// error joins one error per invalid entry so the caller can choose to log
// and continue or to refuse to start.
func ParseTargets(entries []string) ([]Target, error) {
	var targets []Target
	var errs []error
	for _, e := range entries {
		if strings.TrimSpace(e) == "" {
			continue
		}
		t, err := ParseTarget(e)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		targets = append(targets, t)
	}
	return targets, errors.Join(errs...)
}
