package workspace

import (
	"path/filepath"
	"sort"
	"sync"
)

// Diagnostic is one problem marker attached to a document. nuscr prints free
// text, so no positions are recovered; a failed check records an empty set.
type Diagnostic struct {
	Message string
}

// Diagnostics is the per-document problem collection.
type Diagnostics struct {
	mu    sync.RWMutex
	items map[string][]Diagnostic
}

// NewDiagnostics returns an empty collection.
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{items: map[string][]Diagnostic{}}
}

// Set replaces the entries for path. A nil or empty slice still marks the
// document as failing.
func (d *Diagnostics) Set(path string, entries []Diagnostic) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items[key(path)] = append([]Diagnostic{}, entries...)
}

// Delete clears path from the collection.
func (d *Diagnostics) Delete(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.items, key(path))
}

// Get returns the entries for path and whether the document is marked.
func (d *Diagnostics) Get(path string) ([]Diagnostic, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entries, ok := d.items[key(path)]
	if !ok {
		return nil, false
	}
	return append([]Diagnostic{}, entries...), true
}

// Has reports whether path is marked.
func (d *Diagnostics) Has(path string) bool {
	_, ok := d.Get(path)
	return ok
}

// Paths lists every marked document in sorted order.
func (d *Diagnostics) Paths() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	paths := make([]string, 0, len(d.items))
	for p := range d.items {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func key(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
