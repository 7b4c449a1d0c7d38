// Package catalog holds the static model metadata shipped with the binary:
// the chat-compatible allow-list and the model lists of providers that
// cannot be queried.
package catalog

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/nulzo/onellm-router/pkg/api"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type Entry struct {
	ID      string `yaml:"id"`
	Created int64  `yaml:"created"`
}

type Catalog struct {
	ChatCompatible []string                    `yaml:"chat_compatible"`
	Static         map[api.ProviderKind][]Entry `yaml:"static"`
	AzureCreated   int64                       `yaml:"azure_created"`

	allowed map[string]struct{}
}

// Parse decodes a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	c.allowed = make(map[string]struct{}, len(c.ChatCompatible))
	for _, id := range c.ChatCompatible {
		c.allowed[id] = struct{}{}
	}
	return &c, nil
}

var (
	defaultOnce sync.Once
	defaultCat  *Catalog
)

// Default returns the embedded catalog. It panics if the embedded file is
// malformed, which the package tests guard against.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(defaultCatalog)
		if err != nil {
			panic(err)
		}
		defaultCat = c
	})
	return defaultCat
}

// IsChatCompatible reports whether id may be served through the chat endpoint.
// An empty allow-list admits everything.
func (c *Catalog) IsChatCompatible(id string) bool {
	if len(c.allowed) == 0 {
		return true
	}
	_, ok := c.allowed[id]
	return ok
}

// Models returns the chat-compatible static models of a provider, tagged
// with its kind.
func (c *Catalog) Models(kind api.ProviderKind) []api.Model {
	var out []api.Model
	for _, e := range c.Static[kind] {
		if !c.IsChatCompatible(e.ID) {
			continue
		}
		out = append(out, api.Model{
			ID:       e.ID,
			Object:   "model",
			Created:  e.Created,
			OwnedBy:  string(kind),
			Provider: kind,
		})
	}
	return out
}
