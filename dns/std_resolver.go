package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// StdResolver implements the Resolver interface using the standard library net package.
// This resolver does not support DNSSEC validation (Authentic will always be false).
// Use DNSResolver for DNSSEC support.
type StdResolver struct {
	resolver *net.Resolver
}

var _ Resolver = (*StdResolver)(nil)

// NewStdResolver creates a resolver using the standard library.
func NewStdResolver() *StdResolver {
	return &StdResolver{
		resolver: net.DefaultResolver,
	}
}

// NewStdResolverWithServer creates a resolver that sends every query to
// server ("host:port") instead of the system nameservers.
func NewStdResolverWithServer(server string) *StdResolver {
	var d net.Dialer
	return &StdResolver{
		resolver: &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
				return d.DialContext(ctx, network, server)
			},
		},
	}
}

// LookupIP retrieves A and AAAA records using the standard library.
func (r *StdResolver) LookupIP(ctx context.Context, host string) (Result[netip.Addr], error) {
	ips, err := r.resolver.LookupNetIP(ctx, "ip", strings.TrimSuffix(host, "."))
	if err != nil {
		return Result[netip.Addr]{}, convertError(err)
	}
	if len(ips) == 0 {
		return Result[netip.Addr]{}, ErrDNSNotFound
	}

	for i, ip := range ips {
		ips[i] = ip.Unmap()
	}
	return Result[netip.Addr]{Records: ips}, nil
}

// LookupAddr performs a reverse DNS lookup using the standard library.
// Names are returned without the trailing dot.
func (r *StdResolver) LookupAddr(ctx context.Context, ip netip.Addr) (Result[string], error) {
	if !ip.IsValid() {
		return Result[string]{}, fmt.Errorf("dns: invalid IP address")
	}

	names, err := r.resolver.LookupAddr(ctx, ip.Unmap().String())
	if err != nil {
		return Result[string]{}, convertError(err)
	}

	records := make([]string, 0, len(names))
	for _, name := range names {
		if name = strings.TrimSuffix(name, "."); name != "" {
			records = append(records, name)
		}
	}

	if len(records) == 0 {
		return Result[string]{}, ErrDNSNotFound
	}

	return Result[string]{Records: records}, nil
}

// convertError converts standard library DNS errors to package errors.
// The original error stays in the chain.
func convertError(err error) error {
	if err == nil {
		return nil
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return fmt.Errorf("%w: %w", ErrDNSNotFound, err)
		}
		if dnsErr.IsTimeout {
			return fmt.Errorf("%w: %w", ErrDNSTimeout, err)
		}
		if dnsErr.IsTemporary {
			return fmt.Errorf("%w: %w", ErrDNSServFail, err)
		}
	}

	return fmt.Errorf("dns lookup failed: %w", err)
}
