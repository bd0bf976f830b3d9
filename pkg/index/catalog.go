package index

import (
	"fmt"
	"strings"
	"sync"

	"github.com/corvusdb/corvus/pkg/document"
)

// Catalog is the mutable per-collection index catalog. Planning never reads
// it directly; it hands out immutable CatalogView snapshots instead.
type Catalog struct {
	mu      sync.RWMutex
	entries []*IndexEntry
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{}
}

// CreateIndex validates and registers an index definition.
func (c *Catalog) CreateIndex(entry *IndexEntry) error {
	if entry.Name == "" {
		return fmt.Errorf("%w: index name is required", ErrInvalidIndexSpec)
	}
	if entry.KeyPattern == nil || entry.KeyPattern.Len() == 0 {
		return fmt.Errorf("%w: key pattern is required", ErrInvalidIndexSpec)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.Name == entry.Name {
			return fmt.Errorf("%w: %s", ErrIndexExists, entry.Name)
		}
	}
	c.entries = append(c.entries, entry)
	return nil
}

// DropIndex removes an index by name.
func (c *Catalog) DropIndex(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.entries {
		if e.Name == name {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrIndexNotFound, name)
}

// Snapshot returns a point-in-time view for one planning attempt. The view
// stays valid after subsequent catalog changes; planners must not hold it
// across query executions.
func (c *Catalog) Snapshot() *CatalogView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries := make([]*IndexEntry, len(c.entries))
	copy(entries, c.entries)
	return &CatalogView{entries: entries}
}

// CatalogView is an immutable snapshot of the catalog consumed by the
// planner.
type CatalogView struct {
	entries []*IndexEntry
}

// NewCatalogView builds a view directly from entries, for callers that
// assemble index metadata themselves.
func NewCatalogView(entries []*IndexEntry) *CatalogView {
	return &CatalogView{entries: entries}
}

// Entries returns all indexes in the view.
func (v *CatalogView) Entries() []*IndexEntry { return v.entries }

// FindByName returns the index with the given name, or nil.
func (v *CatalogView) FindByName(name string) *IndexEntry {
	for _, e := range v.entries {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// FindByKeyPattern returns every index whose key pattern equals the given
// pattern, field order and directions included.
func (v *CatalogView) FindByKeyPattern(pattern *document.Document) []*IndexEntry {
	var out []*IndexEntry
	for _, e := range v.entries {
		if samePattern(e.KeyPattern, pattern) {
			out = append(out, e)
		}
	}
	return out
}

func samePattern(a, b *document.Document) bool {
	ka, kb := a.Keys(), b.Keys()
	if len(ka) != len(kb) {
		return false
	}
	for i := range ka {
		if ka[i] != kb[i] {
			return false
		}
		va, _ := a.GetValue(ka[i])
		vb, _ := b.GetValue(kb[i])
		if va.Compare(vb) != 0 {
			return false
		}
	}
	return true
}

// FindRelevantIndices returns the indexes that could plausibly serve a
// predicate over the given fields: an index is relevant when its first key
// field is one of the predicate fields, or it is a wildcard index covering
// at least one of them. Text, geo and columnar indexes are handled by their
// own mandatory/fallback rules and are always returned.
func (v *CatalogView) FindRelevantIndices(fields []string) []*IndexEntry {
	fieldSet := make(map[string]bool, len(fields))
	for _, f := range fields {
		fieldSet[f] = true
	}
	var out []*IndexEntry
	for _, e := range v.entries {
		switch {
		case e.Type == IndexTypeText, e.Type == IndexType2D, e.Type == IndexType2DSphere, e.Type == IndexTypeColumnar:
			out = append(out, e)
		case e.IsWildcard():
			for f := range fieldSet {
				if e.CoversPath(f) {
					out = append(out, e)
					break
				}
			}
		default:
			first := e.KeyPattern.Keys()[0]
			if fieldSet[first] {
				out = append(out, e)
			}
		}
	}
	return out
}

// ExpandIndexes replaces each wildcard index with one concrete single-field
// entry per queried path it covers, leaving other indexes untouched. When
// hinted is set and a wildcard index covers none of the queried paths, the
// original wildcard entry is kept so the planner can recognize the hint and
// apply the wildcard-hint failure rule instead of silently losing the index.
func ExpandIndexes(fields []string, entries []*IndexEntry, hinted bool) []*IndexEntry {
	out := make([]*IndexEntry, 0, len(entries))
	for _, e := range entries {
		// Text, geo and columnar indexes have their own planning rules even
		// when their key pattern contains $**; only btree wildcard entries
		// expand to concrete per-path entries.
		if e.Type == IndexTypeText || e.Type == IndexType2D ||
			e.Type == IndexType2DSphere || e.Type == IndexTypeColumnar {
			out = append(out, e)
			continue
		}
		if !e.IsWildcard() {
			out = append(out, e)
			continue
		}
		expandedAny := false
		for _, f := range fields {
			if strings.Contains(f, WildcardFieldName) || !e.CoversPath(f) {
				continue
			}
			expanded := *e
			expanded.KeyPattern = document.D(f, document.Int32(1))
			expanded.Type = IndexTypeBTree
			expanded.WildcardFieldRef = f
			// A wildcard index stores nothing for documents missing the
			// path, so every expanded entry behaves as sparse.
			expanded.Sparse = true
			// Wildcard indexes cannot prove any path non-multikey without
			// per-path metadata, so expanded entries stay multikey unless
			// the path is explicitly known.
			if len(e.MultikeyPaths) == 0 {
				expanded.Multikey = true
			} else {
				expanded.Multikey = contains(e.MultikeyPaths, f)
			}
			out = append(out, &expanded)
			expandedAny = true
		}
		if hinted && !expandedAny {
			out = append(out, e)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
