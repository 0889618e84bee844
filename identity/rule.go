// Package identity maps free-form client identities, such as User-Agent
// header values, to candidate bot names.
//
// A Matcher holds an ordered list of Rules and returns the name produced by
// the first rule whose pattern matches. Custom rules are always inserted
// ahead of the rules already present, so they take priority over the
// built-in ones.
package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidRule is returned for rules whose pattern does not compile.
var ErrInvalidRule = errors.New("identity: invalid rule")

// Rule maps identities matching Pattern to a bot name.
type Rule struct {
	// Pattern is the regular expression matched against the identity.
	Pattern string

	// Replacement is the produced name. "$1" is replaced by the first
	// capture group. When empty, the first capture group is produced, or
	// the whole match when the pattern has no groups.
	Replacement string

	re *regexp.Regexp
}

// NewRule compiles a Rule.
func NewRule(pattern, replacement string) (Rule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %q: %w", ErrInvalidRule, pattern, err)
	}
	return Rule{Pattern: pattern, Replacement: replacement, re: re}, nil
}

// MustRule is like NewRule but panics on error.
func MustRule(pattern, replacement string) Rule {
	r, err := NewRule(pattern, replacement)
	if err != nil {
		panic(err)
	}
	return r
}

// compiled returns r with its pattern compiled.
func (r Rule) compiled() (Rule, error) {
	if r.re != nil {
		return r, nil
	}
	return NewRule(r.Pattern, r.Replacement)
}

// Apply returns the name r produces for identity and whether r matched.
func (r Rule) Apply(identity string) (string, bool) {
	if r.re == nil {
		return "", false
	}
	m := r.re.FindStringSubmatch(identity)
	if m == nil {
		return "", false
	}

	var group string
	if len(m) > 1 {
		group = m[1]
	}

	switch {
	case r.Replacement != "":
		return strings.ReplaceAll(r.Replacement, "$1", group), true
	case len(m) > 1:
		return group, true
	default:
		return m[0], true
	}
}
