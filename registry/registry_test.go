package registry

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synqronlabs/bottica/verifier"
)

func parse(t *testing.T, doc string) *Document {
	t.Helper()
	d, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	return d
}

func TestParse(t *testing.T) {
	doc := parse(t, `
bots:
  - name: full
    fcrdns_hosts: [example.com]
    ip_list: [192.0.2.1, "2001:db8::1"]
    ip_ranges:
      - {min: 192.0.2.10, max: 192.0.2.20}
    cidr_list: [198.51.100.0/24]
  - name: any-host
    fcrdns_hosts: []
  - name: null-hosts
    fcrdns_hosts:
  - name: nothing
`)
	require.Len(t, doc.Bots, 4)

	full := doc.Bots[0]
	assert.Equal(t, "full", full.Name)
	assert.Equal(t, []string{"example.com"}, full.FCrDNSHosts)
	assert.Equal(t, []string{"192.0.2.1", "2001:db8::1"}, full.IPList)
	assert.Equal(t, []IPRange{{Min: "192.0.2.10", Max: "192.0.2.20"}}, full.IPRanges)
	assert.Equal(t, []string{"198.51.100.0/24"}, full.CIDRList)
	assert.Equal(t, []verifier.Kind{
		verifier.KindIPList, verifier.KindCIDRList, verifier.KindIPRanges, verifier.KindFCrDNS,
	}, full.Kinds())

	assert.NotNil(t, doc.Bots[1].FCrDNSHosts, "empty list is present")
	assert.Empty(t, doc.Bots[1].FCrDNSHosts)
	assert.NotNil(t, doc.Bots[2].FCrDNSHosts, "null value is present")
	assert.Nil(t, doc.Bots[3].FCrDNSHosts, "missing key is absent")
	assert.Empty(t, doc.Bots[3].Kinds())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		err  error
	}{
		{"unknown verifier kind", "bots:\n  - name: x\n    asn_list: [1]\n", ErrUnknownVerifierKind},
		{"unknown top-level key", "robots: []\n", ErrInvalidConfig},
		{"entry not a mapping", "bots:\n  - just-a-name\n", ErrInvalidConfig},
		{"duplicate key", "bots:\n  - name: x\n    ip_list: [192.0.2.1]\n    ip_list: [192.0.2.2]\n", ErrInvalidConfig},
		{"wrong type", "bots:\n  - name: x\n    ip_list: 192.0.2.1\n", ErrInvalidConfig},
		{"empty document", "", ErrInvalidConfig},
		{"malformed yaml", "bots: [\n", ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"valid", "bots:\n  - name: a\n    ip_list: [192.0.2.1]\n  - name: b\n", ""},
		{"empty bot list", "bots: []\n", ""},
		{"missing bots", "{}\n", "missing bots"},
		{"duplicate name", "bots:\n  - name: a\n  - name: a\n", "duplicate of bots[0]"},
		{"empty name", "bots:\n  - ip_list: [192.0.2.1]\n", "must not be empty"},
		{"invalid ip", "bots:\n  - name: a\n    ip_list: [192.0.2.256]\n", "invalid IP address"},
		{"zoned ip", "bots:\n  - name: a\n    ip_list: [\"fe80::1%eth0\"]\n", "zoned IP address"},
		{"duplicate ip", "bots:\n  - name: a\n    ip_list: [192.0.2.1, 192.0.2.1]\n", "duplicate of ip_list[0]"},
		{"duplicate ip spelled differently", "bots:\n  - name: a\n    ip_list: [\"::1\", \"0:0:0:0:0:0:0:1\"]\n", "duplicate of ip_list[0]"},
		{"empty ip_list", "bots:\n  - name: a\n    ip_list: []\n", "ip_list: must not be empty"},
		{"invalid cidr", "bots:\n  - name: a\n    cidr_list: [192.0.2.0/33]\n", "invalid CIDR block"},
		{"duplicate cidr after masking", "bots:\n  - name: a\n    cidr_list: [192.0.2.0/24, 192.0.2.7/24]\n", "duplicate of cidr_list[0]"},
		{"empty cidr_list", "bots:\n  - name: a\n    cidr_list:\n", "cidr_list: must not be empty"},
		{"inverted range", "bots:\n  - name: a\n    ip_ranges: [{min: 192.0.2.20, max: 192.0.2.10}]\n", "greater than max"},
		{"mixed family range", "bots:\n  - name: a\n    ip_ranges: [{min: 192.0.2.1, max: \"2001:db8::1\"}]\n", "same address family"},
		{"invalid range bound", "bots:\n  - name: a\n    ip_ranges: [{min: nope, max: 192.0.2.1}]\n", "ip_ranges[0].min"},
		{"duplicate range", "bots:\n  - name: a\n    ip_ranges: [{min: 192.0.2.1, max: 192.0.2.2}, {min: 192.0.2.1, max: 192.0.2.2}]\n", "duplicate of ip_ranges[0]"},
		{"duplicate host", "bots:\n  - name: a\n    fcrdns_hosts: [Example.com, example.com.]\n", "duplicate of fcrdns_hosts[0]"},
		{"empty host", "bots:\n  - name: a\n    fcrdns_hosts: [\"\"]\n", "empty host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(parse(t, tt.doc))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	err := Validate(parse(t, `
bots:
  - name: a
    ip_list: [bad]
  - name: a
    cidr_list: [also-bad]
`))
	require.Error(t, err)

	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 0, fe.Index)

	msg := err.Error()
	assert.Contains(t, msg, "bots[0] (a).ip_list[0]")
	assert.Contains(t, msg, "bots[1] (a).name")
	assert.Contains(t, msg, "bots[1] (a).cidr_list[0]")
}

func TestCompile(t *testing.T) {
	sets, err := Compile(parse(t, `
bots:
  - name: full
    fcrdns_hosts: [Example.COM.]
    ip_list: ["::ffff:192.0.2.1"]
    ip_ranges: [{min: 192.0.2.10, max: 192.0.2.20}]
    cidr_list: [192.0.2.0/24, 198.51.100.7]
  - name: empty
`))
	require.NoError(t, err)

	full := sets["full"]
	require.Len(t, full, 4)
	assert.Equal(t, []verifier.Kind{
		verifier.KindIPList, verifier.KindCIDRList, verifier.KindIPRanges, verifier.KindFCrDNS,
	}, full.Kinds())

	assert.Equal(t, verifier.IPList{netip.MustParseAddr("192.0.2.1")}, full[0])
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("192.0.2.0/24"),
		netip.MustParsePrefix("198.51.100.7/32"),
	}, full[1].(verifier.CIDRList).Prefixes())
	assert.Equal(t, verifier.FCrDNS{AllowedHosts: []string{"example.com"}}, full[3])

	assert.Empty(t, sets["empty"])
	ok, checked, failed := sets["empty"].Verify(context.Background(), netip.MustParseAddr("203.0.113.1"), verifier.Env{})
	assert.True(t, ok, "a bot without verifiers always passes")
	assert.Empty(t, checked)
	assert.Empty(t, failed)
}

func TestCompileEmptyHostsAcceptsAnyHost(t *testing.T) {
	sets, err := Compile(parse(t, "bots:\n  - name: a\n    fcrdns_hosts: []\n"))
	require.NoError(t, err)

	v := sets["a"][0].(verifier.FCrDNS)
	assert.NotNil(t, v.AllowedHosts)
	assert.Empty(t, v.AllowedHosts)
}

func TestVerifierSetShortCircuits(t *testing.T) {
	sets, err := Compile(parse(t, `
bots:
  - name: a
    ip_list: [192.0.2.1]
    cidr_list: [198.51.100.0/24]
`))
	require.NoError(t, err)

	ok, checked, failed := sets["a"].Verify(context.Background(), netip.MustParseAddr("198.51.100.1"), verifier.Env{})
	assert.False(t, ok)
	assert.Equal(t, []verifier.Kind{verifier.KindIPList}, checked)
	assert.Equal(t, verifier.KindIPList, failed)
}

func TestRegistryMerge(t *testing.T) {
	var changes [][]string
	r := New(Config{OnChange: func(names []string) { changes = append(changes, names) }})

	require.NoError(t, r.Load(strings.NewReader(`
bots:
  - name: a
    ip_list: [192.0.2.1]
  - name: b
    ip_list: [192.0.2.2]
`)))
	require.NoError(t, r.Load(strings.NewReader(`
bots:
  - name: b
    cidr_list: [198.51.100.0/24]
  - name: c
`)))

	assert.Equal(t, []string{"a", "b", "c"}, r.Names())
	assert.Equal(t, 3, r.Len())

	b, ok := r.Lookup("b")
	require.True(t, ok)
	assert.Equal(t, []verifier.Kind{verifier.KindCIDRList}, b.Kinds(), "later document wins")

	a, ok := r.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, []verifier.Kind{verifier.KindIPList}, a.Kinds(), "earlier entries are kept")

	_, ok = r.Lookup("B")
	assert.False(t, ok, "names are case-sensitive")

	assert.Equal(t, [][]string{{"a", "b"}, {"a", "b", "c"}}, changes)
}

func TestRegistryRejectsInvalidDocument(t *testing.T) {
	r := New(Config{})
	require.NoError(t, r.Load(strings.NewReader("bots:\n  - name: a\n")))

	err := r.Load(strings.NewReader("bots:\n  - name: b\n  - name: b\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, []string{"a"}, r.Names(), "a failed load changes nothing")
}

func TestRegistrySourceReplacement(t *testing.T) {
	r := New(Config{})

	first := parse(t, "bots:\n  - name: a\n    ip_list: [192.0.2.1]\n  - name: b\n")
	override := parse(t, "bots:\n  - name: a\n    cidr_list: [192.0.2.0/24]\n")
	require.NoError(t, r.MergeSource("first", first))
	require.NoError(t, r.MergeSource("override", override))

	// Reloading the first source keeps it below the override
	reloaded := parse(t, "bots:\n  - name: a\n    ip_list: [192.0.2.9]\n")
	require.NoError(t, r.MergeSource("first", reloaded))

	assert.Equal(t, []string{"a"}, r.Names(), "b was removed from its source")
	a, _ := r.Lookup("a")
	assert.Equal(t, []verifier.Kind{verifier.KindCIDRList}, a.Kinds())

	r.Reset()
	assert.Equal(t, 0, r.Len())
}

func TestAnonymousMergesShareLayer(t *testing.T) {
	r := New(Config{})

	for i := range 50 {
		doc := parse(t, "bots:\n  - name: a\n    ip_list: [192.0.2."+strconv.Itoa(i+1)+"]\n")
		require.NoError(t, r.Merge(doc))
	}
	assert.Len(t, r.layers, 1)

	require.NoError(t, r.MergeSource("named", parse(t, "bots:\n  - name: b\n")))
	require.NoError(t, r.Merge(parse(t, "bots:\n  - name: c\n")))
	require.NoError(t, r.Merge(parse(t, "bots:\n  - name: a\n    cidr_list: [198.51.100.0/24]\n")))
	assert.Len(t, r.layers, 3, "a named source separates anonymous layers")

	assert.Equal(t, []string{"a", "b", "c"}, r.Names())
	a, _ := r.Lookup("a")
	assert.Equal(t, []verifier.Kind{verifier.KindCIDRList}, a.Kinds(), "later merge wins")

	// Replacing the named source keeps the anonymous layer above it
	require.NoError(t, r.MergeSource("named", parse(t, "bots:\n  - name: a\n  - name: b\n")))
	a, _ = r.Lookup("a")
	assert.Equal(t, []verifier.Kind{verifier.KindCIDRList}, a.Kinds())
}

func TestGenerationAdvancesOnChange(t *testing.T) {
	r := New(Config{})
	g0 := r.Generation()

	require.NoError(t, r.Load(strings.NewReader("bots:\n  - name: a\n")))
	_, g1, ok := r.LookupGeneration("a")
	require.True(t, ok)
	assert.Greater(t, g1, g0)

	require.NoError(t, r.Load(strings.NewReader("bots:\n  - name: a\n")))
	_, g2, _ := r.LookupGeneration("a")
	assert.Greater(t, g2, g1, "identical content still publishes a new generation")

	r.Reset()
	_, g3, ok := r.LookupGeneration("a")
	assert.False(t, ok)
	assert.Greater(t, g3, g2)
}

func TestDefaults(t *testing.T) {
	r := New(Config{})
	require.NoError(t, r.LoadDefaults())

	for _, name := range []string{"Googlebot", "bingbot", "DuckDuckBot", "Yandexbot", "Baiduspider", "Applebot"} {
		_, ok := r.Lookup(name)
		assert.True(t, ok, name)
	}

	// Defaults hands out copies
	d := Defaults()
	d.Bots[0].FCrDNSHosts[0] = "evil.example"
	assert.NotEqual(t, "evil.example", Defaults().Bots[0].FCrDNSHosts[0])
}

func TestConcurrentReadsDuringMerge(t *testing.T) {
	r := New(Config{})
	require.NoError(t, r.LoadDefaults())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_, ok := r.Lookup("Googlebot")
				assert.True(t, ok)
			}
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Load(strings.NewReader("bots:\n  - name: extra\n")))
		}()
	}
	wg.Wait()
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bots.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bots:\n  - name: a\n"), 0o644))

	r := New(Config{})
	require.NoError(t, r.LoadFile(path))
	assert.Equal(t, []string{"a"}, r.Names())

	require.NoError(t, os.WriteFile(path, []byte("bots:\n  - name: b\n"), 0o644))
	require.NoError(t, r.LoadFile(path))
	assert.Equal(t, []string{"b"}, r.Names(), "reloading a file replaces its bots")

	err := r.LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bots.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bots:\n  - name: a\n"), 0o644))

	r := New(Config{})
	w, err := r.Watch(path)
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, []string{"a"}, r.Names())

	require.NoError(t, os.WriteFile(path, []byte("bots:\n  - name: a\n  - name: b\n"), 0o644))
	require.Eventually(t, func() bool {
		return r.Len() == 2
	}, 5*time.Second, 50*time.Millisecond)

	// An invalid edit keeps the last good content
	require.NoError(t, os.WriteFile(path, []byte("bots:\n  - name: b\n  - name: b\n"), 0o644))
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, r.Names())

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
