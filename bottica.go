// Bottica verifies that traffic claiming to come from a known bot or crawler
// actually originates from that bot's infrastructure.
//
// # Verification
//
// Each bot in the registry has a set of verifiers. An address is attributed
// to the bot only if it passes all of them:
//
//	b, err := bottica.New(bottica.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ok, err := b.VerifyBot(ctx, netip.MustParseAddr("66.249.66.1"), "Googlebot")
//
// A bot configured without any verifier passes every address. Configure at
// least one verifier for bots that must be checked.
//
// Verification never fails because of the address or DNS data being
// checked: lookup failures make the reverse DNS verifier answer false. Only
// configuration problems are errors, such as a bot name that is not in the
// registry (ErrUnknownBot).
//
// # Identities
//
// Bots are usually identified by their User-Agent:
//
//	ok, err := b.VerifyIdentity(ctx, ip, r.Header.Get("User-Agent"))
//
// The identity is mapped to a bot name by an identity.Matcher, the
// process-wide identity.Default() unless Config.Matcher is set. Custom
// rules take priority over the built-in ones:
//
//	err := b.AddIdentityRules(strings.NewReader(`
//	user_agent_parsers:
//	  - regex: '(MyCrawler)/\d'
//	    family_replacement: 'MyCrawler'
//	`))
//
// # Configuration
//
// The built-in bots are loaded by New unless Config.SkipDefaults is set.
// Further documents are merged over them; later documents win by bot name:
//
//	err := b.LoadConfigurationFile("/etc/bottica/bots.yaml")
//
// See package registry for the document format.
package bottica

import (
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/synqronlabs/bottica/dns"
	"github.com/synqronlabs/bottica/identity"
	"github.com/synqronlabs/bottica/registry"
)

// DefaultMaxTries is the DNS retry budget used when Config.MaxTries is zero.
const DefaultMaxTries = 3

// Config configures a Bottica.
type Config struct {
	// MaxTries is the number of attempts of every DNS lookup. Only
	// transient failures are retried. Default is DefaultMaxTries.
	MaxTries int

	// Resolver performs DNS queries. Default is dns.NewStdResolver().
	Resolver dns.Resolver

	// AttemptTimeout bounds every single DNS attempt. Zero means no bound
	// beyond the resolver's own.
	AttemptTimeout time.Duration

	// BackOff returns the wait policy between DNS attempts. The default
	// retries immediately.
	BackOff func() backoff.BackOff

	// Matcher maps identities to bot names. Default is identity.Default().
	Matcher *identity.Matcher

	// SkipDefaults starts with an empty registry instead of the built-in
	// bots.
	SkipDefaults bool

	// CacheSize is the number of verdicts kept. Zero disables caching.
	CacheSize int

	// CacheTTL is how long a verdict is kept. Default is 5 minutes.
	CacheTTL time.Duration

	// Logger for verification events. Optional.
	Logger *slog.Logger
}

// Bottica verifies bots. It is safe for concurrent use.
type Bottica struct {
	maxTries int
	lookup   *dns.Lookup
	registry *registry.Registry
	matcher  *identity.Matcher
	cache    *verdictCache
	logger   *slog.Logger
}

// New creates a Bottica.
func New(config Config) (*Bottica, error) {
	if config.MaxTries <= 0 {
		config.MaxTries = DefaultMaxTries
	}
	if config.Resolver == nil {
		config.Resolver = dns.NewStdResolver()
	}
	if config.Matcher == nil {
		config.Matcher = identity.Default()
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 5 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	initMetrics()

	b := &Bottica{
		maxTries: config.MaxTries,
		matcher:  config.Matcher,
		logger:   config.Logger,
		lookup: dns.NewLookup(dns.LookupConfig{
			Resolver:       config.Resolver,
			AttemptTimeout: config.AttemptTimeout,
			BackOff:        config.BackOff,
			Logger:         config.Logger,
		}),
	}
	if config.CacheSize > 0 {
		b.cache = newVerdictCache(config.CacheSize, config.CacheTTL)
	}

	b.registry = registry.New(registry.Config{
		Logger:   config.Logger,
		OnChange: b.registryChanged,
	})
	if !config.SkipDefaults {
		if err := b.registry.LoadDefaults(); err != nil {
			return nil, err
		}
	}

	return b, nil
}

func (b *Bottica) registryChanged(_ []string) {
	// Verdicts of older generations are unreachable; drop them
	if b.cache != nil {
		b.cache.purge()
	}
}

// Registry returns the bot registry.
func (b *Bottica) Registry() *registry.Registry {
	return b.registry
}

// Matcher returns the identity matcher.
func (b *Bottica) Matcher() *identity.Matcher {
	return b.matcher
}

// MaxTries returns the DNS retry budget.
func (b *Bottica) MaxTries() int {
	return b.maxTries
}
