// Package catalog holds the static model catalog: which models the gateway
// advertises, their context windows, input modality, and token prices.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"chatgate/internal/core"
)

//go:embed models.yaml
var embeddedModels []byte

// InputType is the richest content a model accepts.
type InputType string

const (
	InputText  InputType = "text"
	InputImage InputType = "image"
)

// Entry describes one model.
type Entry struct {
	ID            string        `yaml:"id"`
	ContextWindow int           `yaml:"context_window"`
	InputType     InputType     `yaml:"input_type"`
	Pricing       *core.Pricing `yaml:"pricing"`
}

// OwnedBy returns the vendor prefix of an aggregator model, or "openai"
// for direct-API names.
func (e Entry) OwnedBy() string {
	if vendor, _, ok := strings.Cut(e.ID, "/"); ok {
		return vendor
	}
	return "openai"
}

type document struct {
	Models []Entry `yaml:"models"`
}

// Catalog is an immutable, ordered set of entries.
type Catalog struct {
	entries []Entry
	byID    map[string]int
}

// Parse decodes a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	c := &Catalog{byID: make(map[string]int, len(doc.Models))}
	for _, e := range doc.Models {
		if e.ID == "" {
			return nil, fmt.Errorf("catalog entry without id")
		}
		if e.InputType == "" {
			e.InputType = InputText
		}
		if i, dup := c.byID[e.ID]; dup {
			c.entries[i] = e
			continue
		}
		c.byID[e.ID] = len(c.entries)
		c.entries = append(c.entries, e)
	}
	return c, nil
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(embeddedModels)
	if err != nil {
		panic(err)
	}
	return c
}

// Load returns the built-in catalog merged with the file at path. Entries in
// the file replace built-in entries with the same id and are otherwise
// appended. An empty path returns the built-in catalog.
func Load(path string) (*Catalog, error) {
	base := Default()
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	overlay, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return base.Merge(overlay), nil
}

// Merge returns a new catalog holding c's entries overridden and extended by other's.
func (c *Catalog) Merge(other *Catalog) *Catalog {
	out := &Catalog{
		entries: append([]Entry(nil), c.entries...),
		byID:    make(map[string]int, len(c.entries)+len(other.entries)),
	}
	for id, i := range c.byID {
		out.byID[id] = i
	}
	for _, e := range other.entries {
		if i, ok := out.byID[e.ID]; ok {
			out.entries[i] = e
			continue
		}
		out.byID[e.ID] = len(out.entries)
		out.entries = append(out.entries, e)
	}
	return out
}

// Lookup returns the entry for id.
func (c *Catalog) Lookup(id string) (Entry, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Entry{}, false
	}
	return c.entries[i], true
}

// Pricing returns the price of id, or nil when unknown.
func (c *Catalog) Pricing(id string) *core.Pricing {
	if e, ok := c.Lookup(id); ok {
		return e.Pricing
	}
	return nil
}

// Entries returns the entries in catalog order.
func (c *Catalog) Entries() []Entry {
	return append([]Entry(nil), c.entries...)
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// ModelsResponse renders the catalog as a /v1/models payload, sorted by id.
func (c *Catalog) ModelsResponse() core.ModelsResponse {
	data := make([]core.Model, 0, len(c.entries))
	for _, e := range c.entries {
		data = append(data, core.Model{
			ID:            e.ID,
			Object:        "model",
			OwnedBy:       e.OwnedBy(),
			ContextWindow: e.ContextWindow,
			InputType:     string(e.InputType),
			Pricing:       e.Pricing,
		})
	}
	sort.Slice(data, func(i, j int) bool { return data[i].ID < data[j].ID })
	return core.ModelsResponse{Object: "list", Data: data}
}
