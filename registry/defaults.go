package registry

import (
	"bytes"
	_ "embed"
	"sync"
)

// DefaultsSource is the source name the built-in document is merged under.
const DefaultsSource = "builtin"

//go:embed bots.yaml
var defaultBots []byte

var parsedDefaults = sync.OnceValue(func() *Document {
	doc, err := Parse(bytes.NewReader(defaultBots))
	if err != nil {
		panic("registry: built-in bots: " + err.Error())
	}
	if err := Validate(doc); err != nil {
		panic("registry: built-in bots: " + err.Error())
	}
	return doc
})

// Defaults returns a copy of the built-in document.
func Defaults() *Document {
	return parsedDefaults().Clone()
}

// LoadDefaults merges the built-in document.
func (r *Registry) LoadDefaults() error {
	return r.MergeSource(DefaultsSource, Defaults())
}
