package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	mdns "github.com/miekg/dns"
)

// ResolverConfig contains configuration for the DNS resolver.
type ResolverConfig struct {
	// Nameservers is a list of DNS servers to query (e.g., "8.8.8.8:53").
	// If empty, system resolvers from /etc/resolv.conf are used,
	// falling back to public DNS (8.8.8.8, 1.1.1.1).
	Nameservers []string

	// DNSSEC sets the DO bit on queries and reports the AD bit of answers
	// in Result.Authentic. A SERVFAIL from a validating upstream is then
	// reported as ErrDNSBogus.
	DNSSEC bool

	// Timeout is the timeout for individual DNS queries. Default is 5 seconds.
	Timeout time.Duration
}

// DNSResolver implements the Resolver interface using github.com/miekg/dns.
//
// Each query walks the nameserver list once. Retrying is left to Lookup so
// that a single budget governs the whole lookup.
type DNSResolver struct {
	config ResolverConfig
	client *mdns.Client
}

var _ Resolver = (*DNSResolver)(nil)

// NewResolver creates a new DNS resolver.
func NewResolver(config ResolverConfig) *DNSResolver {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if len(config.Nameservers) == 0 {
		config.Nameservers = getSystemNameservers()
	}

	return &DNSResolver{
		config: config,
		client: &mdns.Client{
			Timeout: config.Timeout,
		},
	}
}

// getSystemNameservers tries to get system DNS servers from resolv.conf.
func getSystemNameservers() []string {
	config, err := mdns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(config.Servers) == 0 {
		// Fallback to common public DNS servers
		return []string{"8.8.8.8:53", "1.1.1.1:53"}
	}

	servers := make([]string, 0, len(config.Servers))
	for _, s := range config.Servers {
		servers = append(servers, net.JoinHostPort(s, config.Port))
	}
	return servers
}

// query sends one question to each nameserver in turn until one answers.
func (r *DNSResolver) query(ctx context.Context, name string, qtype uint16) (*mdns.Msg, bool, error) {
	m := new(mdns.Msg)
	m.SetQuestion(mdns.Fqdn(name), qtype)
	m.RecursionDesired = true

	if r.config.DNSSEC {
		m.SetEdns0(4096, true)
	}

	var lastErr error
	for _, server := range r.config.Nameservers {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}

		resp, _, err := r.client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = exchangeError(ctx, err)
			continue
		}

		authentic := r.config.DNSSEC && resp.AuthenticatedData

		switch resp.Rcode {
		case mdns.RcodeSuccess:
			return resp, authentic, nil
		case mdns.RcodeNameError: // NXDOMAIN
			return nil, authentic, ErrDNSNotFound
		case mdns.RcodeServerFailure:
			if r.config.DNSSEC {
				lastErr = ErrDNSBogus
			} else {
				lastErr = ErrDNSServFail
			}
		case mdns.RcodeRefused:
			lastErr = ErrDNSRefused
		default:
			lastErr = fmt.Errorf("%w: unexpected rcode %s", ErrDNSServFail, mdns.RcodeToString[resp.Rcode])
		}
	}

	if lastErr != nil {
		return nil, false, lastErr
	}
	return nil, false, ErrDNSServFail
}

// exchangeError maps a transport error from the client.
func exchangeError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrDNSTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrDNSServFail, err)
}

// LookupIP retrieves A and AAAA records for the given host.
func (r *DNSResolver) LookupIP(ctx context.Context, host string) (Result[netip.Addr], error) {
	var ips []netip.Addr
	authentic := true
	var lastErr error

	for _, qtype := range []uint16{mdns.TypeA, mdns.TypeAAAA} {
		resp, auth, err := r.query(ctx, host, qtype)
		if err != nil {
			if !errors.Is(err, ErrDNSNotFound) && lastErr == nil {
				lastErr = err
			}
			continue
		}
		authentic = authentic && auth
		for _, rr := range resp.Answer {
			var raw net.IP
			switch rec := rr.(type) {
			case *mdns.A:
				raw = rec.A
			case *mdns.AAAA:
				raw = rec.AAAA
			}
			if addr, ok := netip.AddrFromSlice(raw); ok {
				ips = append(ips, addr.Unmap())
			}
		}
	}

	if len(ips) == 0 {
		if lastErr != nil {
			return Result[netip.Addr]{}, lastErr
		}
		return Result[netip.Addr]{}, ErrDNSNotFound
	}

	return Result[netip.Addr]{Records: ips, Authentic: authentic}, nil
}

// LookupAddr performs a reverse DNS lookup for the given IP address.
// Names are returned without the trailing dot.
func (r *DNSResolver) LookupAddr(ctx context.Context, ip netip.Addr) (Result[string], error) {
	if !ip.IsValid() {
		return Result[string]{}, fmt.Errorf("dns: invalid IP address")
	}

	// Generate reverse DNS name (e.g., 1.0.168.192.in-addr.arpa.)
	arpa, err := mdns.ReverseAddr(ip.Unmap().String())
	if err != nil {
		return Result[string]{}, fmt.Errorf("dns: invalid IP for reverse lookup: %w", err)
	}

	resp, authentic, err := r.query(ctx, arpa, mdns.TypePTR)
	if err != nil {
		return Result[string]{Authentic: authentic}, err
	}

	var names []string
	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*mdns.PTR); ok {
			if name := strings.TrimSuffix(ptr.Ptr, "."); name != "" {
				names = append(names, name)
			}
		}
	}

	if len(names) == 0 {
		return Result[string]{Authentic: authentic}, ErrDNSNotFound
	}

	return Result[string]{Records: names, Authentic: authentic}, nil
}

// Config returns the resolver's current configuration.
func (r *DNSResolver) Config() ResolverConfig {
	return r.config
}
