// Package registry holds the bot registry: the mapping from bot name to the
// set of verifiers an address must pass to be attributed to that bot.
//
// Configuration documents are YAML:
//
//	bots:
//	  - name: Googlebot
//	    fcrdns_hosts: [googlebot.com, google.com]
//	  - name: ExampleBot
//	    ip_list: [192.0.2.1, 2001:db8::1]
//	    ip_ranges:
//	      - {min: 192.0.2.10, max: 192.0.2.20}
//	    cidr_list: [198.51.100.0/24]
//
// Documents are validated before they reach a Registry; a Registry never
// holds a partially applied document.
package registry

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/synqronlabs/bottica/verifier"
)

// Registry errors.
var (
	ErrInvalidConfig       = errors.New("registry: invalid configuration")
	ErrUnknownVerifierKind = errors.New("registry: unknown verifier kind")
)

// Document is a decoded configuration document.
type Document struct {
	Bots []BotEntry `yaml:"bots"`
}

// IPRange is an inclusive address interval as written in a document.
type IPRange struct {
	Min string `yaml:"min"`
	Max string `yaml:"max"`
}

// BotEntry is one bot of a document. A nil slice means the verifier is
// absent. FCrDNSHosts may be present and empty, which accepts any host.
type BotEntry struct {
	Name        string    `yaml:"name"`
	FCrDNSHosts []string  `yaml:"fcrdns_hosts,omitempty"`
	IPList      []string  `yaml:"ip_list,omitempty"`
	IPRanges    []IPRange `yaml:"ip_ranges,omitempty"`
	CIDRList    []string  `yaml:"cidr_list,omitempty"`
}

// Kinds returns the verifier kinds present on e, in evaluation order.
func (e BotEntry) Kinds() []verifier.Kind {
	var kinds []verifier.Kind
	for _, k := range verifier.Kinds() {
		if e.has(k) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func (e BotEntry) has(k verifier.Kind) bool {
	switch k {
	case verifier.KindFCrDNS:
		return e.FCrDNSHosts != nil
	case verifier.KindIPList:
		return e.IPList != nil
	case verifier.KindIPRanges:
		return e.IPRanges != nil
	case verifier.KindCIDRList:
		return e.CIDRList != nil
	}
	return false
}

// UnmarshalYAML decodes a bot entry. Keys other than name and the verifier
// kinds are rejected with ErrUnknownVerifierKind. A verifier key with a null
// value is present and empty.
func (e *BotEntry) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: line %d: bot entry must be a mapping", ErrInvalidConfig, value.Line)
	}

	var out BotEntry
	seen := make(map[string]bool, len(value.Content)/2)

	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i], value.Content[i+1]
		if seen[key.Value] {
			return fmt.Errorf("%w: line %d: duplicate key %q", ErrInvalidConfig, key.Line, key.Value)
		}
		seen[key.Value] = true

		if key.Value == "name" {
			if err := val.Decode(&out.Name); err != nil {
				return fmt.Errorf("%w: line %d: name: %w", ErrInvalidConfig, val.Line, err)
			}
			continue
		}

		kind, err := verifier.ParseKind(key.Value)
		if err != nil {
			return fmt.Errorf("%w: line %d: %q", ErrUnknownVerifierKind, key.Line, key.Value)
		}

		var dst any
		switch kind {
		case verifier.KindFCrDNS:
			out.FCrDNSHosts = []string{}
			dst = &out.FCrDNSHosts
		case verifier.KindIPList:
			out.IPList = []string{}
			dst = &out.IPList
		case verifier.KindIPRanges:
			out.IPRanges = []IPRange{}
			dst = &out.IPRanges
		case verifier.KindCIDRList:
			out.CIDRList = []string{}
			dst = &out.CIDRList
		}

		if val.Tag == "!!null" {
			continue
		}
		if err := val.Decode(dst); err != nil {
			return fmt.Errorf("%w: line %d: %s: %w", ErrInvalidConfig, val.Line, kind, err)
		}
	}

	*e = out
	return nil
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	out := &Document{Bots: make([]BotEntry, 0, len(d.Bots))}
	for _, b := range d.Bots {
		b.FCrDNSHosts = slices.Clone(b.FCrDNSHosts)
		b.IPList = slices.Clone(b.IPList)
		b.IPRanges = slices.Clone(b.IPRanges)
		b.CIDRList = slices.Clone(b.CIDRList)
		out.Bots = append(out.Bots, b)
	}
	return out
}

// Parse decodes a document. It does not validate it.
func Parse(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return nil, fmt.Errorf("%w: empty document", ErrInvalidConfig)
		case errors.Is(err, ErrUnknownVerifierKind), errors.Is(err, ErrInvalidConfig):
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return &doc, nil
}

// ParseFile is like Parse but reads from path.
func ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}
