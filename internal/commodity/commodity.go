// Package commodity provides the immutable catalog of tradeable goods.
package commodity

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotFound is returned when a commodity id does not resolve in the catalog.
var ErrNotFound = errors.New("commodity not found")

// Rarity classifies how scarce a commodity is across the galaxy.
type Rarity uint8

const (
	RarityCommon   Rarity = iota // Bulk goods, every station stocks them
	RarityUncommon               // Regional goods
	RarityRare                   // Few producers
	RarityExotic                 // Single-source or salvage only
)

var rarityNames = [...]string{"common", "uncommon", "rare", "exotic"}

func (r Rarity) String() string {
	if int(r) < len(rarityNames) {
		return rarityNames[r]
	}
	return fmt.Sprintf("rarity(%d)", r)
}

// MarshalText encodes the rarity as its lowercase name.
func (r Rarity) MarshalText() ([]byte, error) {
	if int(r) >= len(rarityNames) {
		return nil, fmt.Errorf("invalid rarity %d", r)
	}
	return []byte(rarityNames[r]), nil
}

// UnmarshalText parses a rarity name.
func (r *Rarity) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	for i, n := range rarityNames {
		if n == name {
			*r = Rarity(i)
			return nil
		}
	}
	return fmt.Errorf("unknown rarity %q", name)
}

// Legality classifies how a commodity is treated by customs.
type Legality uint8

const (
	LegalityLegal      Legality = iota
	LegalityRestricted          // Permit required, tolerated at a markup
	LegalityIllegal             // Contraband
)

var legalityNames = [...]string{"legal", "restricted", "illegal"}

func (l Legality) String() string {
	if int(l) < len(legalityNames) {
		return legalityNames[l]
	}
	return fmt.Sprintf("legality(%d)", l)
}

// MarshalText encodes the legality tier as its lowercase name.
func (l Legality) MarshalText() ([]byte, error) {
	if int(l) >= len(legalityNames) {
		return nil, fmt.Errorf("invalid legality %d", l)
	}
	return []byte(legalityNames[l]), nil
}

// UnmarshalText parses a legality tier name.
func (l *Legality) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	for i, n := range legalityNames {
		if n == name {
			*l = Legality(i)
			return nil
		}
	}
	return fmt.Errorf("unknown legality %q", name)
}

// Commodity is a catalog entry. Other packages refer to it by ID only.
type Commodity struct {
	ID        string   `yaml:"id" json:"id"`                 // Unique ID (e.g., "ore_iron")
	Name      string   `yaml:"name" json:"name"`             // Display name
	Category  string   `yaml:"category" json:"category"`     // Economic category (e.g., "minerals")
	BasePrice float64  `yaml:"base_price" json:"base_price"` // Credits, before any modifier
	Rarity    Rarity   `yaml:"rarity" json:"rarity"`
	Legality  Legality `yaml:"legality" json:"legality"`
	Tags      []string `yaml:"tags" json:"tags,omitempty"`
}

// HasTag reports whether the commodity carries the given tag.
func (c Commodity) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Catalog is a read-only lookup of commodity definitions.
type Catalog struct {
	byID       map[string]Commodity
	ids        []string
	byCategory map[string][]string
}

// NewCatalog validates the definitions and builds a catalog.
// Any malformed entry fails the whole load.
func NewCatalog(items []Commodity) (*Catalog, error) {
	c := &Catalog{
		byID:       make(map[string]Commodity, len(items)),
		byCategory: make(map[string][]string),
	}
	for i, item := range items {
		if item.ID == "" {
			return nil, fmt.Errorf("commodity #%d: empty id", i)
		}
		if _, dup := c.byID[item.ID]; dup {
			return nil, fmt.Errorf("commodity %q: duplicate id", item.ID)
		}
		if !(item.BasePrice > 0) {
			return nil, fmt.Errorf("commodity %q: base_price must be > 0, got %v", item.ID, item.BasePrice)
		}
		if item.Category == "" {
			return nil, fmt.Errorf("commodity %q: empty category", item.ID)
		}
		item.Tags = append([]string(nil), item.Tags...)
		c.byID[item.ID] = item
		c.ids = append(c.ids, item.ID)
		c.byCategory[item.Category] = append(c.byCategory[item.Category], item.ID)
	}
	sort.Strings(c.ids)
	return c, nil
}

// Get returns the commodity with the given id.
func (c *Catalog) Get(id string) (Commodity, error) {
	item, ok := c.byID[id]
	if !ok {
		return Commodity{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return item, nil
}

// Has reports whether id resolves in the catalog.
func (c *Catalog) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// IDs returns all commodity ids in sorted order.
func (c *Catalog) IDs() []string {
	return append([]string(nil), c.ids...)
}

// InCategory returns the ids of every commodity in a category, in definition order.
func (c *Catalog) InCategory(category string) []string {
	return append([]string(nil), c.byCategory[category]...)
}

// Len returns the number of commodities.
func (c *Catalog) Len() int { return len(c.ids) }
