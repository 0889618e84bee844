package dns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"
)

// Status is the outcome category of a lookup.
type Status int

const (
	StatusFound Status = iota
	StatusNotFound
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusNotFound:
		return "not_found"
	default:
		return "fatal"
	}
}

// Outcome is the result of a lookup through Lookup.
//
// Slices may be shared between concurrent callers and must not be modified.
type Outcome struct {
	Status Status

	// Primary is the first PTR name for reverse lookups, or the queried host
	// for forward lookups.
	Primary string

	// Names holds every PTR name (reverse) or the queried host (forward).
	Names []string

	// IPs holds the addresses reported by a forward lookup. IPv4-mapped IPv6
	// addresses are unmapped.
	IPs []netip.Addr

	Authentic bool

	// Attempts is the number of queries made.
	Attempts int

	// Err is set for StatusFatal only.
	Err error
}

// LookupConfig configures a Lookup.
type LookupConfig struct {
	// Resolver performs the queries. Default is NewStdResolver().
	Resolver Resolver

	// AttemptTimeout bounds every single attempt. Zero leaves attempts
	// bounded only by the resolver's own timeouts.
	AttemptTimeout time.Duration

	// BackOff returns the wait policy between attempts. The default retries
	// immediately.
	BackOff func() backoff.BackOff

	// Logger for lookup events. Optional.
	Logger *slog.Logger
}

// Lookup resolves names with a bounded retry budget.
//
// Only transient failures are retried. Concurrent identical lookups share a
// single set of queries.
type Lookup struct {
	resolver       Resolver
	attemptTimeout time.Duration
	newBackOff     func() backoff.BackOff
	logger         *slog.Logger
	group          singleflight.Group
}

// NewLookup creates a Lookup.
func NewLookup(config LookupConfig) *Lookup {
	if config.Resolver == nil {
		config.Resolver = NewStdResolver()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	initMetrics()

	return &Lookup{
		resolver:       config.Resolver,
		attemptTimeout: config.AttemptTimeout,
		newBackOff:     config.BackOff,
		logger:         config.Logger,
	}
}

// ResolveHostByIP reverse-resolves ip, making at most maxTries attempts.
// A maxTries below 1 is treated as 1.
func (l *Lookup) ResolveHostByIP(ctx context.Context, ip netip.Addr, maxTries int) Outcome {
	if !ip.IsValid() {
		return Outcome{Status: StatusFatal, Err: errors.New("dns: invalid IP address")}
	}
	ip = ip.Unmap().WithZone("")
	maxTries = max(maxTries, 1)

	key := fmt.Sprintf("ptr %s %d", ip, maxTries)
	return l.shared(ctx, key, func(ctx context.Context) Outcome {
		var res Result[string]
		attempts, err := l.retry(ctx, maxTries, func(ctx context.Context) error {
			var err error
			res, err = l.resolver.LookupAddr(ctx, ip)
			if err == nil && len(res.Records) == 0 {
				err = ErrDNSNotFound
			}
			return err
		})

		out := l.outcome("ptr", ip.String(), attempts, err)
		if out.Status == StatusFound {
			out.Primary = res.Records[0]
			out.Names = res.Records
			out.Authentic = res.Authentic
		}
		return out
	})
}

// ResolveIPsByHost forward-resolves host to its A and AAAA records, making at
// most maxTries attempts. A maxTries below 1 is treated as 1.
func (l *Lookup) ResolveIPsByHost(ctx context.Context, host string, maxTries int) Outcome {
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return Outcome{Status: StatusFatal, Err: errors.New("dns: empty host name")}
	}
	maxTries = max(maxTries, 1)

	key := fmt.Sprintf("ip %s %d", strings.ToLower(host), maxTries)
	return l.shared(ctx, key, func(ctx context.Context) Outcome {
		var res Result[netip.Addr]
		attempts, err := l.retry(ctx, maxTries, func(ctx context.Context) error {
			var err error
			res, err = l.resolver.LookupIP(ctx, host)
			if err == nil && len(res.Records) == 0 {
				err = ErrDNSNotFound
			}
			return err
		})

		out := l.outcome("ip", host, attempts, err)
		if out.Status == StatusFound {
			out.Primary = host
			out.Names = []string{host}
			out.Authentic = res.Authentic
			for _, ip := range res.Records {
				out.IPs = append(out.IPs, ip.Unmap())
			}
		}
		return out
	})
}

// shared runs fn once for all concurrent callers with the same key. The
// queries run detached from the first caller's cancellation; each caller
// stops waiting when its own context is done.
func (l *Lookup) shared(ctx context.Context, key string, fn func(context.Context) Outcome) Outcome {
	if err := ctx.Err(); err != nil {
		return Outcome{Status: StatusFatal, Err: err}
	}

	ch := l.group.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx)), nil
	})

	select {
	case res := <-ch:
		return res.Val.(Outcome)
	case <-ctx.Done():
		return Outcome{Status: StatusFatal, Err: ctx.Err()}
	}
}

// retry calls op until it succeeds, fails non-transiently, or maxTries
// attempts have been made.
func (l *Lookup) retry(ctx context.Context, maxTries int, op func(context.Context) error) (int, error) {
	var policy backoff.BackOff = &backoff.ZeroBackOff{}
	if l.newBackOff != nil {
		policy = l.newBackOff()
	}
	policy = backoff.WithContext(backoff.WithMaxRetries(policy, uint64(maxTries-1)), ctx)

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := l.attempt(ctx, op)
		if err == nil {
			return nil
		}
		if Classify(err) != ClassTransient {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, next time.Duration) {
		l.logger.Debug("retrying dns query",
			slog.Int("attempt", attempts),
			slog.Duration("backoff", next),
			slog.Any("error", err),
		)
	})
	return attempts, err
}

// attempt runs op under the per-attempt deadline. Expiry of that deadline,
// as opposed to the caller's, is reported as ErrDNSTimeout.
func (l *Lookup) attempt(ctx context.Context, op func(context.Context) error) error {
	if l.attemptTimeout <= 0 {
		return op(ctx)
	}

	actx, cancel := context.WithTimeout(ctx, l.attemptTimeout)
	defer cancel()

	err := op(actx)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", ErrDNSTimeout, err)
	}
	return err
}

func (l *Lookup) outcome(kind, name string, attempts int, err error) Outcome {
	out := Outcome{Attempts: attempts}

	switch Classify(err) {
	case ClassNone:
		out.Status = StatusFound
	case ClassNotFound:
		out.Status = StatusNotFound
	case ClassTransient:
		out.Status = StatusFatal
		out.Err = fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, err)
	default:
		out.Status = StatusFatal
		out.Err = err
	}

	observeLookup(kind, out.Status)

	attrs := []any{
		slog.String("kind", kind),
		slog.String("name", name),
		slog.String("status", out.Status.String()),
		slog.Int("attempts", attempts),
	}
	if out.Err != nil {
		l.logger.Warn("dns lookup failed", append(attrs, slog.Any("error", out.Err))...)
	} else {
		l.logger.Debug("dns lookup", attrs...)
	}

	return out
}
