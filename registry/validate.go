package registry

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/synqronlabs/bottica/verifier"
)

// FieldError describes one problem in a document. It matches
// ErrInvalidConfig.
type FieldError struct {
	Index int    // position of the bot in the document
	Bot   string // bot name, if any
	Field string // e.g. "ip_list[2]"
	Msg   string
}

func (e *FieldError) Error() string {
	where := fmt.Sprintf("bots[%d]", e.Index)
	if e.Bot != "" {
		where += fmt.Sprintf(" (%s)", e.Bot)
	}
	if e.Field != "" {
		where += "." + e.Field
	}
	return fmt.Sprintf("registry: %s: %s", where, e.Msg)
}

func (e *FieldError) Unwrap() error {
	return ErrInvalidConfig
}

// Validate checks doc and returns every problem found, joined. A nil error
// means Compile will succeed.
func Validate(doc *Document) error {
	if doc == nil || doc.Bots == nil {
		return fmt.Errorf("%w: missing bots", ErrInvalidConfig)
	}

	var errs []error
	names := make(map[string]int, len(doc.Bots))

	for i, bot := range doc.Bots {
		v := &validator{index: i, bot: bot.Name}

		if bot.Name == "" {
			v.fail("name", "must not be empty")
		} else if prev, ok := names[bot.Name]; ok {
			v.fail("name", fmt.Sprintf("duplicate of bots[%d]", prev))
		} else {
			names[bot.Name] = i
		}

		v.hosts(bot.FCrDNSHosts)
		v.ipList(bot.IPList)
		v.ipRanges(bot.IPRanges)
		v.cidrList(bot.CIDRList)

		errs = append(errs, v.errs...)
	}

	return errors.Join(errs...)
}

type validator struct {
	index int
	bot   string
	errs  []error
}

func (v *validator) fail(field, msg string) {
	v.errs = append(v.errs, &FieldError{Index: v.index, Bot: v.bot, Field: field, Msg: msg})
}

// unique records a duplicate problem when key was seen before.
func (v *validator) unique(seen map[string]int, key, field string, i int) {
	if prev, ok := seen[key]; ok {
		v.fail(fmt.Sprintf("%s[%d]", field, i), fmt.Sprintf("duplicate of %s[%d]", field, prev))
		return
	}
	seen[key] = i
}

func (v *validator) hosts(hosts []string) {
	field := string(verifier.KindFCrDNS)
	seen := make(map[string]int, len(hosts))
	for i, h := range hosts {
		n := verifier.NormalizeHost(h)
		if n == "" {
			v.fail(fmt.Sprintf("%s[%d]", field, i), "empty host")
			continue
		}
		v.unique(seen, n, field, i)
	}
}

func (v *validator) ipList(ips []string) {
	field := string(verifier.KindIPList)
	if ips != nil && len(ips) == 0 {
		v.fail(field, "must not be empty")
	}
	seen := make(map[string]int, len(ips))
	for i, s := range ips {
		ip, err := parseAddr(s)
		if err != nil {
			v.fail(fmt.Sprintf("%s[%d]", field, i), err.Error())
			continue
		}
		v.unique(seen, ip.String(), field, i)
	}
}

func (v *validator) ipRanges(ranges []IPRange) {
	field := string(verifier.KindIPRanges)
	seen := make(map[string]int, len(ranges))
	for i, r := range ranges {
		at := fmt.Sprintf("%s[%d]", field, i)
		lo, err := parseAddr(r.Min)
		if err != nil {
			v.fail(at+".min", err.Error())
		}
		hi, err2 := parseAddr(r.Max)
		if err2 != nil {
			v.fail(at+".max", err2.Error())
		}
		if err != nil || err2 != nil {
			continue
		}

		switch {
		case lo.Is4() != hi.Is4():
			v.fail(at, "min and max must be of the same address family")
			continue
		case lo.Compare(hi) > 0:
			v.fail(at, fmt.Sprintf("min %s is greater than max %s", lo, hi))
			continue
		}
		v.unique(seen, lo.String()+"-"+hi.String(), field, i)
	}
}

func (v *validator) cidrList(cidrs []string) {
	field := string(verifier.KindCIDRList)
	if cidrs != nil && len(cidrs) == 0 {
		v.fail(field, "must not be empty")
	}
	seen := make(map[string]int, len(cidrs))
	for i, s := range cidrs {
		p, err := parsePrefix(s)
		if err != nil {
			v.fail(fmt.Sprintf("%s[%d]", field, i), err.Error())
			continue
		}
		v.unique(seen, p.String(), field, i)
	}
}

// parseAddr parses a literal address. IPv4-mapped IPv6 addresses are
// unmapped; zoned addresses are rejected.
func parseAddr(s string) (netip.Addr, error) {
	ip, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid IP address %q", s)
	}
	if ip.Zone() != "" {
		return netip.Addr{}, fmt.Errorf("zoned IP address %q not allowed", s)
	}
	return ip.Unmap(), nil
}

// parsePrefix parses a CIDR block. Host bits are masked, and a bare address
// is a single-address block.
func parsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "/") {
		ip, err := parseAddr(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid CIDR block %q", s)
		}
		return netip.PrefixFrom(ip, ip.BitLen()), nil
	}

	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid CIDR block %q", s)
	}
	return p.Masked(), nil
}
