package bottica

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/synqronlabs/bottica/verifier"
)

// ParseIP parses a textual address. IPv4-mapped IPv6 addresses are
// unmapped.
func ParseIP(s string) (netip.Addr, error) {
	ip, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %q", ErrInvalidIP, s)
	}
	return ip.Unmap().WithZone(""), nil
}

// VerifyBot reports whether ip belongs to the named bot. It fails with
// *UnknownBotError if the registry has no such bot.
func (b *Bottica) VerifyBot(ctx context.Context, ip netip.Addr, name string) (bool, error) {
	v, err := b.Verify(ctx, ip, name)
	if err != nil {
		return false, err
	}
	return v.Verified, nil
}

// VerifyIdentity maps identity to a bot name and verifies ip against that
// bot. It fails with *UnknownBotError if no bot matches the identity or the
// matched name has no registry entry.
func (b *Bottica) VerifyIdentity(ctx context.Context, ip netip.Addr, identity string) (bool, error) {
	v, err := b.VerifyByIdentity(ctx, ip, identity)
	if err != nil {
		return false, err
	}
	return v.Verified, nil
}

// ParseIdentity returns the bot name identity maps to, or "" if none.
func (b *Bottica) ParseIdentity(identity string) string {
	return b.matcher.Match(identity)
}

// Verify is like VerifyBot but returns the full Verdict.
func (b *Bottica) Verify(ctx context.Context, ip netip.Addr, name string) (Verdict, error) {
	return b.verify(ctx, ip, name, "")
}

// VerifyByIdentity is like VerifyIdentity but returns the full Verdict.
func (b *Bottica) VerifyByIdentity(ctx context.Context, ip netip.Addr, identity string) (Verdict, error) {
	name := b.matcher.Match(identity)
	if name == "" {
		observeVerification("", resultUnknownBot, 0)
		b.logger.Warn("no bot matches identity", slog.String("identity", identity))
		return Verdict{}, &UnknownBotError{Identity: identity}
	}
	return b.verify(ctx, ip, name, identity)
}

func (b *Bottica) verify(ctx context.Context, ip netip.Addr, name, identity string) (Verdict, error) {
	start := time.Now()
	if !ip.IsValid() {
		return Verdict{}, fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}
	ip = ip.Unmap().WithZone("")

	set, generation, ok := b.registry.LookupGeneration(name)
	if !ok {
		observeVerification("", resultUnknownBot, 0)
		b.logger.Warn("unknown bot",
			slog.String("bot", name),
			slog.String("identity", identity),
		)
		return Verdict{}, &UnknownBotError{Name: name, Identity: identity}
	}

	v := Verdict{
		ID:       ulid.Make().String(),
		Bot:      name,
		Identity: identity,
		IP:       ip.String(),
	}
	log := b.logger.With(
		slog.String("verification_id", v.ID),
		slog.String("bot", name),
		slog.String("ip", v.IP),
	)

	if c, hit := b.cache.get(name, ip, generation); hit {
		v.Verified, v.Checked, v.Failed = c.verified, c.checked, c.failed
		v.Cached = true
	} else {
		ok, checked, failed := set.Verify(ctx, ip, verifier.Env{
			DNS:      b.lookup,
			MaxTries: b.maxTries,
			Logger:   log,
		})
		v.Verified = ok
		v.Failed = string(failed)
		v.Checked = make([]string, 0, len(checked))
		for _, k := range checked {
			v.Checked = append(v.Checked, string(k))
		}
		// A verdict cut short by cancellation says nothing about the bot
		if ctx.Err() == nil {
			b.cache.add(name, ip, generation, v)
		}
	}
	v.Duration = time.Since(start)

	result := resultRejected
	if v.Verified {
		result = resultVerified
	}
	observeVerification(name, result, v.Duration)

	log.Debug("bot verification",
		slog.Bool("verified", v.Verified),
		slog.Any("checked", v.Checked),
		slog.String("failed", v.Failed),
		slog.Bool("cached", v.Cached),
		slog.Duration("duration", v.Duration),
	)
	return v, nil
}
