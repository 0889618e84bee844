package verifier

import (
	"context"
	"net/netip"
	"slices"

	"github.com/gaissmai/bart"
)

// IPList accepts addresses equal to one of its entries.
type IPList []netip.Addr

func (IPList) Kind() Kind { return KindIPList }
func (IPList) verifier()  {}

// Verify implements Verifier.
func (l IPList) Verify(_ context.Context, ip netip.Addr, _ Env) bool {
	return ContainsIP(l, ip)
}

// ContainsIP reports whether ip is one of list. Addresses compare as parsed
// values, so "::1" and "0:0:0:0:0:0:0:1" are equal, as are "192.0.2.1" and
// "::ffff:192.0.2.1".
func ContainsIP(list []netip.Addr, ip netip.Addr) bool {
	if !ip.IsValid() {
		return false
	}
	ip = normalize(ip)
	return slices.ContainsFunc(list, func(a netip.Addr) bool {
		return normalize(a) == ip
	})
}

// Range is an inclusive interval of addresses of one family.
type Range struct {
	Min netip.Addr
	Max netip.Addr
}

// Contains reports whether ip lies within r. An address never lies within a
// range of the other family.
func (r Range) Contains(ip netip.Addr) bool {
	ip = normalize(ip)
	lo, hi := normalize(r.Min), normalize(r.Max)
	if !ip.IsValid() || !lo.IsValid() || !hi.IsValid() {
		return false
	}
	if ip.Is4() != lo.Is4() || ip.Is4() != hi.Is4() {
		return false
	}
	return lo.Compare(ip) <= 0 && ip.Compare(hi) <= 0
}

// IPRanges accepts addresses within one of its ranges.
type IPRanges []Range

func (IPRanges) Kind() Kind { return KindIPRanges }
func (IPRanges) verifier()  {}

// Verify implements Verifier.
func (rs IPRanges) Verify(_ context.Context, ip netip.Addr, _ Env) bool {
	return InRanges(rs, ip)
}

// InRanges reports whether ip lies within at least one of ranges.
func InRanges(ranges []Range, ip netip.Addr) bool {
	return slices.ContainsFunc(ranges, func(r Range) bool {
		return r.Contains(ip)
	})
}

// CIDRList accepts addresses contained in one of its prefixes.
// The zero value accepts nothing.
type CIDRList struct {
	prefixes []netip.Prefix
	table    *bart.Lite
}

// NewCIDRList builds a CIDRList. Invalid prefixes are skipped.
func NewCIDRList(prefixes []netip.Prefix) CIDRList {
	t := new(bart.Lite)
	kept := make([]netip.Prefix, 0, len(prefixes))
	for _, p := range prefixes {
		if !p.IsValid() {
			continue
		}
		p = netip.PrefixFrom(p.Addr().WithZone(""), p.Bits()).Masked()
		t.Insert(p)
		kept = append(kept, p)
	}
	return CIDRList{prefixes: kept, table: t}
}

func (CIDRList) Kind() Kind { return KindCIDRList }
func (CIDRList) verifier()  {}

// Prefixes returns the masked prefixes of l.
func (l CIDRList) Prefixes() []netip.Prefix {
	return slices.Clone(l.prefixes)
}

// Len returns the number of prefixes in l.
func (l CIDRList) Len() int {
	if l.table == nil {
		return 0
	}
	return l.table.Size()
}

// Verify implements Verifier.
func (l CIDRList) Verify(_ context.Context, ip netip.Addr, _ Env) bool {
	if l.table == nil || !ip.IsValid() {
		return false
	}
	// bart requires native addresses
	return l.table.Lookup(normalize(ip))
}

// InCIDRs reports whether ip is contained in at least one of prefixes.
func InCIDRs(prefixes []netip.Prefix, ip netip.Addr) bool {
	return NewCIDRList(prefixes).Verify(context.Background(), ip, Env{})
}
