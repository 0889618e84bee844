// Package verifier implements the strategies used to check that an IP
// address belongs to a bot's infrastructure.
//
// There are exactly four strategies, one per Kind:
//
//   - ip_list: the address is one of a set of literal addresses.
//   - ip_ranges: the address lies within an inclusive [min, max] interval.
//   - cidr_list: the address is contained in one of a set of prefixes.
//   - fcrdns_hosts: forward-confirmed reverse DNS, optionally restricted to
//     a set of host suffixes.
//
// The Verifier type is closed: only the types in this package implement it.
// All strategies except FCrDNS are pure. FCrDNS performs lookups through the
// HostResolver in Env and reports every resolution failure as false.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/synqronlabs/bottica/dns"
)

// ErrUnknownKind is returned by ParseKind for names that are not a Kind.
var ErrUnknownKind = errors.New("verifier: unknown verifier kind")

// Kind names a verification strategy. The values are the keys used in
// configuration documents.
type Kind string

const (
	KindFCrDNS   Kind = "fcrdns_hosts"
	KindIPList   Kind = "ip_list"
	KindIPRanges Kind = "ip_ranges"
	KindCIDRList Kind = "cidr_list"
)

// Kinds returns every Kind in evaluation order, cheapest first.
func Kinds() []Kind {
	return []Kind{KindIPList, KindCIDRList, KindIPRanges, KindFCrDNS}
}

// ParseKind returns the Kind named s.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindFCrDNS, KindIPList, KindIPRanges, KindCIDRList:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// HostResolver performs the two lookups of forward-confirmed reverse DNS.
// *dns.Lookup implements it.
type HostResolver interface {
	ResolveHostByIP(ctx context.Context, ip netip.Addr, maxTries int) dns.Outcome
	ResolveIPsByHost(ctx context.Context, host string, maxTries int) dns.Outcome
}

var _ HostResolver = (*dns.Lookup)(nil)

// Env carries what a verifier may need beyond the address itself.
type Env struct {
	// DNS is required by FCrDNS. A nil DNS makes FCrDNS fail.
	DNS HostResolver

	// MaxTries is the retry budget of every lookup.
	MaxTries int

	// Logger for verification events. Optional.
	Logger *slog.Logger
}

func (e Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.Logger
}

// Verifier checks one strategy against an address.
type Verifier interface {
	Kind() Kind

	// Verify reports whether ip passes. It never fails with an error;
	// anything that prevents a positive answer is a negative one.
	Verify(ctx context.Context, ip netip.Addr, env Env) bool

	verifier()
}

// normalize unmaps IPv4-mapped IPv6 addresses and drops zones, so that
// addresses compare by value.
func normalize(ip netip.Addr) netip.Addr {
	return ip.Unmap().WithZone("")
}
