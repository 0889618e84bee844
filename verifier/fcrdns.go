package verifier

import (
	"context"
	"log/slog"
	"net/netip"
	"strings"

	"golang.org/x/net/idna"

	"github.com/synqronlabs/bottica/dns"
)

// FCrDNS accepts addresses whose PTR name resolves back to them.
//
// The address is reverse-resolved to its primary name. When AllowedHosts is
// non-nil, the name must end with one of its entries; an empty non-nil slice
// accepts any name. The name is then forward-resolved and the address must
// be among the results. A failed lookup at either hop fails verification.
type FCrDNS struct {
	AllowedHosts []string
}

func (FCrDNS) Kind() Kind { return KindFCrDNS }
func (FCrDNS) verifier()  {}

// Verify implements Verifier.
func (f FCrDNS) Verify(ctx context.Context, ip netip.Addr, env Env) bool {
	log := env.logger()
	if env.DNS == nil || !ip.IsValid() {
		log.Warn("fcrdns verification without resolver or address", slog.String("ip", ip.String()))
		return false
	}
	ip = normalize(ip)

	reverse := env.DNS.ResolveHostByIP(ctx, ip, env.MaxTries)
	if reverse.Status != dns.StatusFound {
		log.Debug("fcrdns reverse lookup failed",
			slog.String("ip", ip.String()),
			slog.String("status", reverse.Status.String()),
			slog.Any("error", reverse.Err),
		)
		return false
	}

	host := reverse.Primary
	if f.AllowedHosts != nil && !MatchesHostSuffix(host, f.AllowedHosts) {
		log.Debug("fcrdns host not allowed",
			slog.String("ip", ip.String()),
			slog.String("host", host),
		)
		return false
	}

	forward := env.DNS.ResolveIPsByHost(ctx, host, env.MaxTries)
	if forward.Status != dns.StatusFound {
		log.Debug("fcrdns forward lookup failed",
			slog.String("host", host),
			slog.String("status", forward.Status.String()),
			slog.Any("error", forward.Err),
		)
		return false
	}

	ok := ContainsIP(forward.IPs, ip)
	log.Debug("fcrdns verification",
		slog.String("ip", ip.String()),
		slog.String("host", host),
		slog.Bool("confirmed", ok),
	)
	return ok
}

// MatchesHostSuffix reports whether host ends with one of suffixes. An empty
// suffix list matches any host. Names are compared case-insensitively in
// their ASCII form, without the trailing dot.
func MatchesHostSuffix(host string, suffixes []string) bool {
	if len(suffixes) == 0 {
		return true
	}
	host = NormalizeHost(host)
	if host == "" {
		return false
	}
	for _, s := range suffixes {
		if s = NormalizeHost(s); s != "" && strings.HasSuffix(host, s) {
			return true
		}
	}
	return false
}

// NormalizeHost lowercases name, strips the trailing dot and converts
// internationalized labels to their ASCII form. Names idna rejects are
// returned lowercased.
func NormalizeHost(name string) string {
	name = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(name), "."))
	if name == "" {
		return ""
	}
	if ascii, err := idna.Lookup.ToASCII(name); err == nil {
		return ascii
	}
	return name
}
