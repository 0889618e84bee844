package bottica

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/synqronlabs/bottica/identity"
	"github.com/synqronlabs/bottica/registry"
)

// LoadConfiguration validates a configuration document and merges it into
// the registry. Bots with names already present are replaced. Nothing is
// changed if the document is invalid.
func (b *Bottica) LoadConfiguration(r io.Reader) error {
	return b.registry.Load(r)
}

// LoadConfigurationFile is like LoadConfiguration but reads from path.
// Loading the same path again replaces what it contributed before.
func (b *Bottica) LoadConfigurationFile(path string) error {
	return b.registry.LoadFile(path)
}

// WatchConfigurationFile loads path and reloads it whenever it changes,
// until the returned Closer is closed.
func (b *Bottica) WatchConfigurationFile(path string) (io.Closer, error) {
	return b.registry.Watch(path)
}

// AddIdentityRules reads an identity rule document and inserts its rules
// ahead of the matcher's existing rules.
//
// Every literal replacement name must be a registry entry; otherwise
// ErrInconsistentRules is returned and no rule is added. Replacements that
// depend on the matched text cannot be checked in advance.
func (b *Bottica) AddIdentityRules(r io.Reader) error {
	rules, err := identity.LoadRules(r)
	if err != nil {
		return err
	}
	return b.AddRules(rules...)
}

// AddIdentityRulesFile is like AddIdentityRules but reads from path.
func (b *Bottica) AddIdentityRulesFile(path string) error {
	rules, err := identity.LoadRulesFile(path)
	if err != nil {
		return err
	}
	return b.AddRules(rules...)
}

// AddRules checks rules against the registry and inserts them ahead of the
// matcher's existing rules.
func (b *Bottica) AddRules(rules ...identity.Rule) error {
	if err := checkRules(b.registry, rules); err != nil {
		return err
	}
	if err := b.matcher.AddRules(rules...); err != nil {
		return err
	}
	b.logger.Info("identity rules added", slog.Int("count", len(rules)))
	return nil
}

func checkRules(reg *registry.Registry, rules []identity.Rule) error {
	var unknown []string
	for _, r := range rules {
		name := r.Replacement
		if name == "" || strings.Contains(name, "$") {
			continue
		}
		if _, ok := reg.Lookup(name); !ok && !slices.Contains(unknown, name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: %s", ErrInconsistentRules, strings.Join(unknown, ", "))
	}
	return nil
}
