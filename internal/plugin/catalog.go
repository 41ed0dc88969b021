package plugin

import (
	"sort"

	"github.com/cory-johannsen/gamehost/internal/game"
)

// LibraryEntry is one loadable game.
type LibraryEntry struct {
	Ref   string
	Path  string
	Class string
	Title string
	// Meta holds every manifest field beyond the required four.
	Meta map[string]any
	// Factory builds a fresh module for one session.
	Factory game.Factory
}

// Catalog is the immutable ref → entry mapping produced by Load.
type Catalog struct {
	root    string
	entries map[string]LibraryEntry
}

// NewCatalog builds a catalog directly from entries. Later entries win on
// duplicate refs. Intended for tests and embedders that skip the manifest.
func NewCatalog(root string, entries ...LibraryEntry) *Catalog {
	c := &Catalog{root: root, entries: make(map[string]LibraryEntry, len(entries))}
	for _, e := range entries {
		c.entries[e.Ref] = e
	}
	return c
}

// Lookup returns the entry for ref.
func (c *Catalog) Lookup(ref string) (LibraryEntry, bool) {
	e, ok := c.entries[ref]
	return e, ok
}

// Refs returns every ref in ascending order.
func (c *Catalog) Refs() []string {
	refs := make([]string, 0, len(c.entries))
	for ref := range c.entries {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

// Entries returns every entry sorted by ref.
func (c *Catalog) Entries() []LibraryEntry {
	refs := c.Refs()
	out := make([]LibraryEntry, len(refs))
	for i, ref := range refs {
		out[i] = c.entries[ref]
	}
	return out
}

// Len returns the number of entries.
func (c *Catalog) Len() int { return len(c.entries) }

// LibraryRoot returns the resolved library directory.
func (c *Catalog) LibraryRoot() string { return c.root }
