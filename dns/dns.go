// Package dns provides the hostname and address lookups used for
// forward-confirmed reverse DNS (FCrDNS) verification.
//
// Two layers are exposed. A Resolver performs a single PTR or A/AAAA query and
// reports failures through the sentinel errors below. Lookup wraps a Resolver
// with a bounded retry budget and reduces every query to one of three
// outcomes: found, not found, or fatal.
//
//	lookup := dns.NewLookup(dns.LookupConfig{
//	    Resolver: dns.NewResolver(dns.ResolverConfig{}),
//	})
//
//	out := lookup.ResolveHostByIP(ctx, netip.MustParseAddr("66.249.66.1"), 3)
//	switch out.Status {
//	case dns.StatusFound:
//	    // out.Primary is the PTR name
//	case dns.StatusNotFound:
//	    // no PTR record
//	case dns.StatusFatal:
//	    // out.Err explains why
//	}
package dns

import (
	"context"
	"errors"
	"net/netip"
)

// DNS errors reported by Resolver implementations.
var (
	ErrDNSNotFound = errors.New("dns: record not found")
	ErrDNSServFail = errors.New("dns: server failure")
	ErrDNSTimeout  = errors.New("dns: query timed out")
	ErrDNSRefused  = errors.New("dns: query refused")
	ErrDNSBogus    = errors.New("dns: DNSSEC validation failed")

	// ErrRetriesExhausted is wrapped by the fatal outcome of a lookup whose
	// transient failures used up the whole retry budget.
	ErrRetriesExhausted = errors.New("dns: retry budget exhausted")
)

// Result holds the records of a single lookup.
type Result[T any] struct {
	Records []T

	// Authentic indicates the answer carried the DNSSEC AD bit.
	Authentic bool
}

// Resolver performs single DNS queries.
//
// Implementations return ErrDNSNotFound when the name or record does not
// exist, and one of the other sentinel errors for server-side failures.
type Resolver interface {
	// LookupAddr returns the PTR names for ip.
	LookupAddr(ctx context.Context, ip netip.Addr) (Result[string], error)

	// LookupIP returns the A and AAAA records for host. IPv4 addresses are
	// returned in their 4-byte form.
	LookupIP(ctx context.Context, host string) (Result[netip.Addr], error)
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDNSNotFound)
}

// IsTimeout reports whether err is a timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrDNSTimeout)
}

// IsServFail reports whether err is a SERVFAIL response.
func IsServFail(err error) bool {
	return errors.Is(err, ErrDNSServFail)
}

// IsTemporary reports whether err may succeed on retry.
func IsTemporary(err error) bool {
	return Classify(err) == ClassTransient
}
