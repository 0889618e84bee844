package identity

import (
	"sync"
)

// builtinRules recognise the crawlers shipped in the default bot registry.
// Names must match registry entry names exactly.
var builtinRules = []struct {
	pattern     string
	replacement string
}{
	{`\b(Googlebot)(?:-Image|-Video|-News)?/`, "Googlebot"},
	{`\b(bingbot)/`, "bingbot"},
	{`\b(DuckDuckBot)(?:-Https)?/`, "DuckDuckBot"},
	{`\b(YandexBot|YandexImages|YandexMobileBot|YandexNews|YandexMetrika)/`, "Yandexbot"},
	{`\b(Baiduspider)(?:-image|-video|-news)?/`, "Baiduspider"},
	{`\b(Applebot)/`, "Applebot"},
}

// Builtin returns the built-in rules, highest priority first.
func Builtin() []Rule {
	rules := make([]Rule, 0, len(builtinRules))
	for _, r := range builtinRules {
		rules = append(rules, MustRule(r.pattern, r.replacement))
	}
	return rules
}

var defaultMatcher = sync.OnceValue(func() *Matcher {
	m, err := NewMatcher(MatcherConfig{Rules: Builtin()})
	if err != nil {
		panic(err)
	}
	return m
})

// Default returns the process-wide Matcher. It starts with the built-in
// rules; custom rules are added with AddRules and stay for the life of the
// process.
func Default() *Matcher {
	return defaultMatcher()
}
