package dns

import (
	"context"
	"net/netip"
	"slices"
)

// MockResolver is a Resolver used for testing.
// PTR is keyed by the textual IP; A and AAAA are keyed by FQDN (with trailing dot).
type MockResolver struct {
	PTR  map[string][]string
	A    map[string][]string
	AAAA map[string][]string

	// Fail contains records that will return a temporary error (SERVFAIL).
	// Format: "type name", e.g. "ptr 192.0.2.1" or "a host.example.com.".
	Fail []string

	// Errors overrides the outcome of a request with an arbitrary error.
	// Keys use the same format as Fail.
	Errors map[string]error

	// AllAuthentic sets the value for Authentic in responses.
	AllAuthentic bool
}

var _ Resolver = MockResolver{}

// mockReq represents a mock DNS request.
type mockReq struct {
	Type string // E.g. "a", "aaaa", "ptr"
	Name string
}

func (mr mockReq) String() string {
	return mr.Type + " " + mr.Name
}

// ensureFQDN ensures the name ends with a dot.
func ensureFQDN(name string) string {
	if len(name) == 0 || name[len(name)-1] != '.' {
		return name + "."
	}
	return name
}

// failure returns the configured error for mr, if any.
func (r MockResolver) failure(ctx context.Context, mr mockReq) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err, ok := r.Errors[mr.String()]; ok {
		return err
	}
	if slices.Contains(r.Fail, mr.String()) {
		return ErrDNSServFail
	}
	return nil
}

// LookupIP returns A and AAAA records for the given host.
func (r MockResolver) LookupIP(ctx context.Context, host string) (Result[netip.Addr], error) {
	fqdn := ensureFQDN(host)

	if err := r.failure(ctx, mockReq{"a", fqdn}); err != nil {
		return Result[netip.Addr]{}, err
	}
	if err := r.failure(ctx, mockReq{"aaaa", fqdn}); err != nil {
		return Result[netip.Addr]{}, err
	}

	var ips []netip.Addr
	for _, s := range slices.Concat(r.A[fqdn], r.AAAA[fqdn]) {
		if ip, err := netip.ParseAddr(s); err == nil {
			ips = append(ips, ip.Unmap())
		}
	}

	if len(ips) == 0 {
		return Result[netip.Addr]{Authentic: r.AllAuthentic}, ErrDNSNotFound
	}

	return Result[netip.Addr]{Records: ips, Authentic: r.AllAuthentic}, nil
}

// LookupAddr performs a reverse DNS lookup.
func (r MockResolver) LookupAddr(ctx context.Context, ip netip.Addr) (Result[string], error) {
	ipStr := ip.Unmap().String()

	if err := r.failure(ctx, mockReq{"ptr", ipStr}); err != nil {
		return Result[string]{}, err
	}

	records, ok := r.PTR[ipStr]
	if !ok || len(records) == 0 {
		return Result[string]{Authentic: r.AllAuthentic}, ErrDNSNotFound
	}

	return Result[string]{Records: records, Authentic: r.AllAuthentic}, nil
}
