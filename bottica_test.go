package bottica

import (
	"context"
	"errors"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/synqronlabs/bottica/dns"
	"github.com/synqronlabs/bottica/identity"
	"github.com/synqronlabs/bottica/registry"
)

const googlebotUA = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"

func googleResolver() dns.MockResolver {
	return dns.MockResolver{
		PTR: map[string][]string{
			"66.249.66.1": {"crawl-66-249-66-1.googlebot.com"},
			"192.0.2.66":  {"crawl-66-249-66-1.googlebot.com"},
			"192.0.2.99":  {"spoof.example.net"},
		},
		A: map[string][]string{
			"crawl-66-249-66-1.googlebot.com.": {"66.249.66.1"},
			"spoof.example.net.":               {"192.0.2.99"},
		},
		Fail: []string{"ptr 192.0.2.77"},
	}
}

func newTestMatcher(t *testing.T) *identity.Matcher {
	t.Helper()
	m, err := identity.NewMatcher(identity.MatcherConfig{Rules: identity.Builtin()})
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	return m
}

func newTestBottica(t *testing.T, config Config) *Bottica {
	t.Helper()
	if config.Resolver == nil {
		config.Resolver = googleResolver()
	}
	if config.Matcher == nil {
		config.Matcher = newTestMatcher(t)
	}
	b, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

const testBots = `
bots:
  - name: listed
    ip_list: [192.0.2.1, "2001:db8::1"]
  - name: ranged
    ip_ranges:
      - {min: 192.0.2.10, max: 192.0.2.20}
  - name: blocks
    cidr_list: [1.2.0.0/16]
  - name: combined
    ip_list: [192.0.2.1, 192.0.2.2]
    cidr_list: [192.0.2.0/31]
  - name: anyhost
    fcrdns_hosts: []
  - name: unverifiable
`

func loadTestBots(t *testing.T, b *Bottica) {
	t.Helper()
	if err := b.LoadConfiguration(strings.NewReader(testBots)); err != nil {
		t.Fatalf("LoadConfiguration: %v", err)
	}
}

func TestVerifyBot(t *testing.T) {
	b := newTestBottica(t, Config{})
	loadTestBots(t, b)
	ctx := context.Background()

	tests := []struct {
		name     string
		bot      string
		ip       string
		expected bool
	}{
		{"ip list hit", "listed", "192.0.2.1", true},
		{"ip list v6 hit", "listed", "2001:db8:0:0::1", true},
		{"ip list miss", "listed", "192.0.2.3", false},
		{"range min", "ranged", "192.0.2.10", true},
		{"range max", "ranged", "192.0.2.20", true},
		{"range below", "ranged", "192.0.2.9", false},
		{"range above", "ranged", "192.0.2.21", false},
		{"cidr hit", "blocks", "1.2.3.4", true},
		{"cidr miss", "blocks", "2.2.3.4", false},
		{"all verifiers pass", "combined", "192.0.2.1", true},
		{"one verifier fails", "combined", "192.0.2.2", false},
		{"fcrdns confirmed", "Googlebot", "66.249.66.1", true},
		{"fcrdns forged ptr", "Googlebot", "192.0.2.66", false},
		{"fcrdns wrong domain", "Googlebot", "192.0.2.99", false},
		{"fcrdns no ptr", "Googlebot", "192.0.2.98", false},
		{"fcrdns resolver failure", "Googlebot", "192.0.2.77", false},
		{"fcrdns any host", "anyhost", "192.0.2.99", true},
		{"empty verifier set passes", "unverifiable", "203.0.113.50", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.VerifyBot(ctx, netip.MustParseAddr(tt.ip), tt.bot)
			if err != nil {
				t.Fatalf("VerifyBot returned error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("VerifyBot(%s, %s) = %v, want %v", tt.ip, tt.bot, got, tt.expected)
			}
		})
	}
}

func TestVerifyDetails(t *testing.T) {
	b := newTestBottica(t, Config{})
	loadTestBots(t, b)

	v, err := b.Verify(context.Background(), netip.MustParseAddr("::ffff:192.0.2.2"), "combined")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if v.Verified {
		t.Error("expected verification to fail")
	}
	if v.IP != "192.0.2.2" {
		t.Errorf("IP = %q, want unmapped address", v.IP)
	}
	if !slices.Equal(v.Checked, []string{"ip_list", "cidr_list"}) {
		t.Errorf("Checked = %v", v.Checked)
	}
	if v.Failed != "cidr_list" {
		t.Errorf("Failed = %q, want cidr_list", v.Failed)
	}
	if v.ID == "" {
		t.Error("expected a verification ID")
	}
}

func TestVerifyBotUnknown(t *testing.T) {
	b := newTestBottica(t, Config{SkipDefaults: true})

	ok, err := b.VerifyBot(context.Background(), netip.MustParseAddr("192.0.2.1"), "Nobot")
	if ok {
		t.Error("unknown bot must not verify")
	}
	if !errors.Is(err, ErrUnknownBot) {
		t.Fatalf("expected ErrUnknownBot, got %v", err)
	}

	var ube *UnknownBotError
	if !errors.As(err, &ube) || ube.Name != "Nobot" {
		t.Errorf("expected *UnknownBotError for Nobot, got %#v", err)
	}
}

func TestVerifyBotNamesAreCaseSensitive(t *testing.T) {
	b := newTestBottica(t, Config{})

	if _, err := b.VerifyBot(context.Background(), netip.MustParseAddr("66.249.66.1"), "googlebot"); !errors.Is(err, ErrUnknownBot) {
		t.Errorf("expected ErrUnknownBot, got %v", err)
	}
}

func TestVerifyIdentity(t *testing.T) {
	b := newTestBottica(t, Config{})
	ctx := context.Background()

	ok, err := b.VerifyIdentity(ctx, netip.MustParseAddr("66.249.66.1"), googlebotUA)
	if err != nil || !ok {
		t.Errorf("VerifyIdentity = %v, %v; want true, nil", ok, err)
	}

	ok, err = b.VerifyIdentity(ctx, netip.MustParseAddr("192.0.2.66"), googlebotUA)
	if err != nil || ok {
		t.Errorf("VerifyIdentity for spoofed address = %v, %v; want false, nil", ok, err)
	}

	if got := b.ParseIdentity(googlebotUA); got != "Googlebot" {
		t.Errorf("ParseIdentity = %q", got)
	}
}

func TestVerifyIdentityUnknown(t *testing.T) {
	ctx := context.Background()
	ip := netip.MustParseAddr("66.249.66.1")

	// No rule matches
	b := newTestBottica(t, Config{})
	_, err := b.VerifyIdentity(ctx, ip, "curl/8.5.0")
	var ube *UnknownBotError
	if !errors.As(err, &ube) || ube.Identity != "curl/8.5.0" || ube.Name != "" {
		t.Errorf("expected *UnknownBotError for the identity, got %v", err)
	}

	// A rule matches a name the registry does not have
	b = newTestBottica(t, Config{SkipDefaults: true})
	_, err = b.VerifyIdentity(ctx, ip, googlebotUA)
	if !errors.As(err, &ube) || ube.Name != "Googlebot" {
		t.Errorf("expected *UnknownBotError for Googlebot, got %v", err)
	}
}

func TestAddIdentityRules(t *testing.T) {
	b := newTestBottica(t, Config{})
	loadTestBots(t, b)

	doc := `
user_agent_parsers:
  - regex: '(ListedBot)/\d'
    family_replacement: 'listed'
  - regex: 'compatible; (Googlebot)'
    family_replacement: 'anyhost'
`
	if err := b.AddIdentityRules(strings.NewReader(doc)); err != nil {
		t.Fatalf("AddIdentityRules: %v", err)
	}

	if got := b.ParseIdentity("ListedBot/2"); got != "listed" {
		t.Errorf("ParseIdentity = %q, want listed", got)
	}
	if got := b.ParseIdentity(googlebotUA); got != "anyhost" {
		t.Errorf("custom rule must take priority over built-in rules, got %q", got)
	}

	ok, err := b.VerifyIdentity(context.Background(), netip.MustParseAddr("192.0.2.1"), "ListedBot/2")
	if err != nil || !ok {
		t.Errorf("VerifyIdentity = %v, %v", ok, err)
	}
}

func TestAddIdentityRulesInconsistent(t *testing.T) {
	b := newTestBottica(t, Config{})
	before := b.Matcher().Len()

	doc := `
user_agent_parsers:
  - regex: '(Googlebot)'
    family_replacement: 'Googlebot'
  - regex: '(Ghost)/\d'
    family_replacement: 'Ghost'
`
	err := b.AddIdentityRules(strings.NewReader(doc))
	if !errors.Is(err, ErrInconsistentRules) {
		t.Fatalf("expected ErrInconsistentRules, got %v", err)
	}
	if !strings.Contains(err.Error(), "Ghost") {
		t.Errorf("error should name the unknown bot: %v", err)
	}
	if b.Matcher().Len() != before {
		t.Error("no rule may be added when the check fails")
	}
}

func TestLoadConfigurationMerges(t *testing.T) {
	b := newTestBottica(t, Config{})
	loadTestBots(t, b)

	override := `
bots:
  - name: listed
    ip_list: [198.51.100.1]
`
	if err := b.LoadConfiguration(strings.NewReader(override)); err != nil {
		t.Fatalf("LoadConfiguration: %v", err)
	}

	ctx := context.Background()
	if ok, _ := b.VerifyBot(ctx, netip.MustParseAddr("192.0.2.1"), "listed"); ok {
		t.Error("overridden entry must no longer accept the old address")
	}
	if ok, _ := b.VerifyBot(ctx, netip.MustParseAddr("198.51.100.1"), "listed"); !ok {
		t.Error("overriding entry must accept the new address")
	}
	if ok, _ := b.VerifyBot(ctx, netip.MustParseAddr("1.2.3.4"), "blocks"); !ok {
		t.Error("entries absent from the second document must be kept")
	}
	if _, ok := b.Registry().Lookup("Googlebot"); !ok {
		t.Error("built-in bots must be kept")
	}
}

func TestLoadConfigurationInvalid(t *testing.T) {
	b := newTestBottica(t, Config{SkipDefaults: true})

	err := b.LoadConfiguration(strings.NewReader("bots:\n  - name: a\n  - name: a\n"))
	if !errors.Is(err, registry.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	err = b.LoadConfiguration(strings.NewReader("bots:\n  - name: a\n    asn_list: [13335]\n"))
	if !errors.Is(err, registry.ErrUnknownVerifierKind) {
		t.Errorf("expected ErrUnknownVerifierKind, got %v", err)
	}

	if b.Registry().Len() != 0 {
		t.Error("invalid documents must not change the registry")
	}
}

func TestVerdictCache(t *testing.T) {
	b := newTestBottica(t, Config{CacheSize: 16})
	loadTestBots(t, b)
	ctx := context.Background()
	ip := netip.MustParseAddr("66.249.66.1")

	first, err := b.Verify(ctx, ip, "Googlebot")
	if err != nil || first.Cached {
		t.Fatalf("first verification: cached=%v err=%v", first.Cached, err)
	}

	second, err := b.Verify(ctx, ip, "Googlebot")
	if err != nil || !second.Cached || !second.Verified {
		t.Fatalf("second verification: %+v err=%v", second, err)
	}
	if second.ID == first.ID {
		t.Error("cached verdicts get their own verification ID")
	}

	loadTestBots(t, b)
	if b.cache.len() != 0 {
		t.Error("registry changes must purge the cache")
	}

	third, _ := b.Verify(ctx, ip, "Googlebot")
	if third.Cached {
		t.Error("verdict after purge must not be cached")
	}
}

func TestCanceledVerdictIsNotCached(t *testing.T) {
	b := newTestBottica(t, Config{CacheSize: 16})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v, err := b.Verify(ctx, netip.MustParseAddr("66.249.66.1"), "Googlebot")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if v.Verified {
		t.Error("canceled verification must not pass")
	}
	if b.cache.len() != 0 {
		t.Error("canceled verification must not be cached")
	}
}

// gatedResolver holds the first reverse lookup until release is closed.
type gatedResolver struct {
	dns.MockResolver
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (r *gatedResolver) LookupAddr(ctx context.Context, ip netip.Addr) (dns.Result[string], error) {
	r.once.Do(func() {
		close(r.entered)
		<-r.release
	})
	return r.MockResolver.LookupAddr(ctx, ip)
}

func TestReloadDuringVerificationIsNotCached(t *testing.T) {
	r := &gatedResolver{
		MockResolver: googleResolver(),
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	b := newTestBottica(t, Config{Resolver: r, CacheSize: 16})
	ctx := context.Background()
	ip := netip.MustParseAddr("66.249.66.1")

	done := make(chan Verdict, 1)
	go func() {
		v, err := b.Verify(ctx, ip, "Googlebot")
		if err != nil {
			t.Errorf("in-flight Verify: %v", err)
		}
		done <- v
	}()

	<-r.entered
	err := b.LoadConfiguration(strings.NewReader(`
bots:
  - name: Googlebot
    ip_list: [192.0.2.1]
`))
	if err != nil {
		t.Fatalf("LoadConfiguration: %v", err)
	}
	close(r.release)

	if v := <-done; !v.Verified {
		t.Errorf("in-flight verification used the configuration it started with: %+v", v)
	}

	after, err := b.Verify(ctx, ip, "Googlebot")
	if err != nil {
		t.Fatalf("Verify after reload: %v", err)
	}
	if after.Verified || after.Cached {
		t.Errorf("after reload: verified=%v cached=%v, want a fresh rejection", after.Verified, after.Cached)
	}
	if after.Failed != "ip_list" {
		t.Errorf("after reload: failed %q, want ip_list", after.Failed)
	}
}

func TestParseIP(t *testing.T) {
	ip, err := ParseIP(" ::ffff:192.0.2.1 ")
	if err != nil || ip != netip.MustParseAddr("192.0.2.1") {
		t.Errorf("ParseIP = %v, %v", ip, err)
	}

	if _, err := ParseIP("192.0.2.300"); !errors.Is(err, ErrInvalidIP) {
		t.Errorf("expected ErrInvalidIP, got %v", err)
	}

	b := newTestBottica(t, Config{})
	if _, err := b.VerifyBot(context.Background(), netip.Addr{}, "Googlebot"); !errors.Is(err, ErrInvalidIP) {
		t.Errorf("expected ErrInvalidIP for zero address, got %v", err)
	}
}

func TestConcurrentVerification(t *testing.T) {
	b := newTestBottica(t, Config{CacheSize: 4})
	loadTestBots(t, b)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%4 == 0 {
				if err := b.LoadConfiguration(strings.NewReader(testBots)); err != nil {
					t.Errorf("LoadConfiguration: %v", err)
				}
				return
			}
			ok, err := b.VerifyBot(ctx, netip.MustParseAddr("66.249.66.1"), "Googlebot")
			if err != nil || !ok {
				t.Errorf("VerifyBot = %v, %v", ok, err)
			}
		}(i)
	}
	wg.Wait()
}
