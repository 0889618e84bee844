package registry

import (
	"context"
	"net/netip"

	"github.com/synqronlabs/bottica/verifier"
)

// VerifierSet is the compiled verifiers of one bot, in evaluation order.
// An empty set passes every address.
type VerifierSet []verifier.Verifier

// Kinds returns the kinds in s.
func (s VerifierSet) Kinds() []verifier.Kind {
	kinds := make([]verifier.Kind, 0, len(s))
	for _, v := range s {
		kinds = append(kinds, v.Kind())
	}
	return kinds
}

// Verify reports whether ip passes every verifier in s. Evaluation stops at
// the first failure; the kinds evaluated are returned along with the kind
// that failed, if any.
func (s VerifierSet) Verify(ctx context.Context, ip netip.Addr, env verifier.Env) (ok bool, checked []verifier.Kind, failed verifier.Kind) {
	for _, v := range s {
		checked = append(checked, v.Kind())
		if !v.Verify(ctx, ip, env) {
			return false, checked, v.Kind()
		}
	}
	return true, checked, ""
}

// Compile validates doc and builds the verifier set of every bot.
func Compile(doc *Document) (map[string]VerifierSet, error) {
	if err := Validate(doc); err != nil {
		return nil, err
	}

	out := make(map[string]VerifierSet, len(doc.Bots))
	for _, bot := range doc.Bots {
		out[bot.Name] = compileEntry(bot)
	}
	return out, nil
}

// compileEntry builds the set of a validated entry.
func compileEntry(bot BotEntry) VerifierSet {
	set := make(VerifierSet, 0, 4)
	for _, kind := range bot.Kinds() {
		switch kind {
		case verifier.KindIPList:
			ips := make(verifier.IPList, 0, len(bot.IPList))
			for _, s := range bot.IPList {
				ip, _ := parseAddr(s)
				ips = append(ips, ip)
			}
			set = append(set, ips)

		case verifier.KindCIDRList:
			prefixes := make([]netip.Prefix, 0, len(bot.CIDRList))
			for _, s := range bot.CIDRList {
				p, _ := parsePrefix(s)
				prefixes = append(prefixes, p)
			}
			set = append(set, verifier.NewCIDRList(prefixes))

		case verifier.KindIPRanges:
			ranges := make(verifier.IPRanges, 0, len(bot.IPRanges))
			for _, r := range bot.IPRanges {
				lo, _ := parseAddr(r.Min)
				hi, _ := parseAddr(r.Max)
				ranges = append(ranges, verifier.Range{Min: lo, Max: hi})
			}
			set = append(set, ranges)

		case verifier.KindFCrDNS:
			hosts := make([]string, 0, len(bot.FCrDNSHosts))
			for _, h := range bot.FCrDNSHosts {
				hosts = append(hosts, verifier.NormalizeHost(h))
			}
			set = append(set, verifier.FCrDNS{AllowedHosts: hosts})
		}
	}
	return set
}
