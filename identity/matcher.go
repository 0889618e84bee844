package identity

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
)

// InsertMode selects how AddRules orders the rules it inserts.
type InsertMode int

const (
	// InsertBlock inserts the rules as one block ahead of the existing
	// rules, keeping their relative order.
	InsertBlock InsertMode = iota

	// InsertReversed prepends the rules one at a time, so the last rule
	// supplied ends up first.
	InsertReversed
)

// MatcherConfig configures a Matcher.
type MatcherConfig struct {
	// Rules is the initial rule list, highest priority first.
	Rules []Rule

	// InsertMode controls AddRules. Default is InsertBlock.
	InsertMode InsertMode

	// Fallback is consulted when no rule matches. Optional.
	Fallback func(identity string) string

	// Logger for rule changes. Optional.
	Logger *slog.Logger
}

// Matcher is an ordered, first-match-wins list of Rules.
//
// Matching reads an immutable snapshot of the list and is safe for
// concurrent use. AddRules publishes a new snapshot, so a concurrent Match
// sees either all of the inserted rules or none of them.
type Matcher struct {
	mu       sync.Mutex // serializes writers
	rules    atomic.Pointer[[]Rule]
	mode     InsertMode
	fallback func(string) string
	logger   *slog.Logger
}

// NewMatcher creates a Matcher.
func NewMatcher(config MatcherConfig) (*Matcher, error) {
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}

	rules, err := compileAll(config.Rules)
	if err != nil {
		return nil, err
	}

	m := &Matcher{
		mode:     config.InsertMode,
		fallback: config.Fallback,
		logger:   config.Logger,
	}
	m.rules.Store(&rules)
	return m, nil
}

func compileAll(rules []Rule) ([]Rule, error) {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		c, err := r.compiled()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Match returns the name produced by the first rule matching identity.
// When no rule matches, the fallback's answer is returned, or "" without a
// fallback.
func (m *Matcher) Match(identity string) string {
	for _, r := range *m.rules.Load() {
		if name, ok := r.Apply(identity); ok {
			return name
		}
	}
	if m.fallback != nil {
		return m.fallback(identity)
	}
	return ""
}

// AddRules inserts rules ahead of all existing rules. Either every rule is
// inserted or, if one fails to compile, none is.
func (m *Matcher) AddRules(rules ...Rule) error {
	added, err := compileAll(rules)
	if err != nil {
		return err
	}
	if len(added) == 0 {
		return nil
	}
	if m.mode == InsertReversed {
		slices.Reverse(added)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := *m.rules.Load()
	next := make([]Rule, 0, len(added)+len(current))
	next = append(next, added...)
	next = append(next, current...)
	m.rules.Store(&next)

	m.logger.Info("identity rules added",
		slog.Int("added", len(added)),
		slog.Int("total", len(next)),
	)
	return nil
}

// Rules returns a copy of the current rule list, highest priority first.
func (m *Matcher) Rules() []Rule {
	return slices.Clone(*m.rules.Load())
}

// Len returns the number of rules.
func (m *Matcher) Len() int {
	return len(*m.rules.Load())
}
