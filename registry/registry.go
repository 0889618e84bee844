package registry

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
)

// Config configures a Registry.
type Config struct {
	// Logger for registry changes. Optional.
	Logger *slog.Logger

	// OnChange is called after every change with the resulting bot names.
	// It must not modify the Registry.
	OnChange func(names []string)
}

// layer is the compiled content of one source. Later layers override
// earlier ones by bot name.
type layer struct {
	source string
	bots   map[string]VerifierSet
}

// snapshot is an immutable published state of a Registry.
type snapshot struct {
	generation uint64
	bots       map[string]VerifierSet
}

// Registry maps bot names to verifier sets.
//
// Reads load an immutable snapshot and are safe for concurrent use. Changes
// are serialized and published atomically, so a reader never observes a
// partially applied document.
type Registry struct {
	mu     sync.Mutex // serializes writers
	layers []layer
	state  atomic.Pointer[snapshot]

	logger   *slog.Logger
	onChange func([]string)
}

// New creates an empty Registry.
func New(config Config) *Registry {
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	initMetrics()

	r := &Registry{
		logger:   config.Logger,
		onChange: config.OnChange,
	}
	r.state.Store(&snapshot{bots: map[string]VerifierSet{}})
	return r
}

// Load parses, validates and merges a document. Bots already present with
// the same names are replaced; other bots are kept.
func (r *Registry) Load(rd io.Reader) error {
	doc, err := Parse(rd)
	if err != nil {
		return err
	}
	return r.Merge(doc)
}

// LoadFile merges the document at path. Loading the same path again
// replaces what it contributed before, so bots removed from the file
// disappear unless another source defines them.
func (r *Registry) LoadFile(path string) error {
	doc, err := ParseFile(path)
	if err != nil {
		observeReload("error")
		return err
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if err := r.MergeSource(path, doc); err != nil {
		observeReload("error")
		return fmt.Errorf("%s: %w", path, err)
	}
	observeReload("success")
	return nil
}

// Merge validates doc and merges it over the current content.
func (r *Registry) Merge(doc *Document) error {
	return r.MergeSource("", doc)
}

// MergeSource is like Merge but records the bots under source. Merging a
// named source again replaces its previous contribution while keeping its
// precedence. Consecutive anonymous merges share one layer.
func (r *Registry) MergeSource(source string, doc *Document) error {
	bots, err := Compile(doc)
	if err != nil {
		return err
	}

	r.mu.Lock()
	replaced := false
	switch n := len(r.layers); {
	case source == "" && n > 0 && r.layers[n-1].source == "":
		// Fold into the trailing anonymous layer
		folded := maps.Clone(r.layers[n-1].bots)
		maps.Copy(folded, bots)
		r.layers[n-1].bots = folded
	case source != "":
		for i := range r.layers {
			if r.layers[i].source == source {
				r.layers[i].bots = bots
				replaced = true
				break
			}
		}
		if !replaced {
			r.layers = append(r.layers, layer{source: source, bots: bots})
		}
	default:
		r.layers = append(r.layers, layer{source: source, bots: bots})
	}
	names := r.publish()
	r.mu.Unlock()

	r.logger.Info("bot registry updated",
		slog.String("source", source),
		slog.Int("document_bots", len(bots)),
		slog.Int("total_bots", len(names)),
		slog.Bool("replaced", replaced),
	)
	r.changed(names)
	return nil
}

// Reset removes every bot.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.layers = nil
	names := r.publish()
	r.mu.Unlock()

	r.logger.Info("bot registry reset")
	r.changed(names)
}

// publish folds the layers into a new snapshot with the next generation.
// Must hold r.mu.
func (r *Registry) publish() []string {
	merged := make(map[string]VerifierSet)
	for _, l := range r.layers {
		maps.Copy(merged, l.bots)
	}
	r.state.Store(&snapshot{
		generation: r.state.Load().generation + 1,
		bots:       merged,
	})
	updateBots(len(merged))
	return slices.Sorted(maps.Keys(merged))
}

func (r *Registry) changed(names []string) {
	if r.onChange != nil {
		r.onChange(names)
	}
}

// Lookup returns the verifier set of the named bot. Names are
// case-sensitive.
func (r *Registry) Lookup(name string) (VerifierSet, bool) {
	set, _, ok := r.LookupGeneration(name)
	return set, ok
}

// LookupGeneration is like Lookup but also returns the generation of the
// snapshot the set was read from. Every published change increments the
// generation, so results derived from a set can be tied to it.
func (r *Registry) LookupGeneration(name string) (VerifierSet, uint64, bool) {
	st := r.state.Load()
	set, ok := st.bots[name]
	return set, st.generation, ok
}

// Generation returns the generation of the current snapshot.
func (r *Registry) Generation() uint64 {
	return r.state.Load().generation
}

// Names returns the sorted bot names.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.state.Load().bots))
}

// Len returns the number of bots.
func (r *Registry) Len() int {
	return len(r.state.Load().bots)
}
