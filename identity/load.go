package identity

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mssola/useragent"
	"gopkg.in/yaml.v3"
)

// ErrInvalidDocument is returned for rule documents that cannot be decoded.
var ErrInvalidDocument = errors.New("identity: invalid rule document")

type ruleDocument struct {
	Parsers []struct {
		Regex             string `yaml:"regex"`
		FamilyReplacement string `yaml:"family_replacement"`
	} `yaml:"user_agent_parsers"`
}

// LoadRules decodes a rule document:
//
//	user_agent_parsers:
//	  - regex: '(MyCrawler)/\d'
//	    family_replacement: 'MyCrawler'
//
// Rules are returned in document order.
func LoadRules(r io.Reader) ([]Rule, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc ruleDocument
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	rules := make([]Rule, 0, len(doc.Parsers))
	for i, p := range doc.Parsers {
		if p.Regex == "" {
			return nil, fmt.Errorf("%w: user_agent_parsers[%d]: empty regex", ErrInvalidDocument, i)
		}
		rule, err := NewRule(p.Regex, p.FamilyReplacement)
		if err != nil {
			return nil, fmt.Errorf("user_agent_parsers[%d]: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// LoadRulesFile is like LoadRules but reads from path.
func LoadRulesFile(path string) ([]Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return LoadRules(f)
}

// UserAgentFallback names crawlers that declare themselves as bots in their
// User-Agent but are not covered by any rule. Other identities yield "".
func UserAgentFallback(identity string) string {
	ua := useragent.New(identity)
	if !ua.Bot() {
		return ""
	}
	name, _ := ua.Browser()
	return name
}
