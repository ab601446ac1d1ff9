package symbols

import (
	"slices"
	"sort"
	"strings"
)

// MaxCompletions caps the number of candidates Complete returns.
const MaxCompletions = 500

// Index maps symbol names to their entries. It is never modified after
// Builder.Index returns it, so it can be shared between goroutines freely.
type Index struct {
	entries map[string]*Entry
	names   []string // sorted
}

// Builder accumulates definitions into a new Index.
type Builder struct {
	entries map[string]*Entry
	files   int
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{entries: make(map[string]*Entry)}
}

// Add records the definitions found in the file at path.
func (b *Builder) Add(path string, defs []Definition) {
	b.files++
	for _, d := range defs {
		e, ok := b.entries[d.Name]
		if !ok {
			e = &Entry{Kind: d.Kind}
			b.entries[d.Name] = e
		}
		e.Locations = append(e.Locations, Location{Path: path, Line: d.Line, Column: d.Column})
	}
}

// Files reports how many files were added.
func (b *Builder) Files() int {
	return b.files
}

// Index finishes the build. The Builder must not be used afterwards.
func (b *Builder) Index() *Index {
	names := make([]string, 0, len(b.entries))
	for name := range b.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	idx := &Index{entries: b.entries, names: names}
	b.entries = nil
	return idx
}

// Empty returns an index with no entries.
func Empty() *Index {
	return &Index{entries: map[string]*Entry{}}
}

// Len returns the number of distinct names.
func (idx *Index) Len() int {
	return len(idx.names)
}

// Names returns all indexed names in sorted order.
func (idx *Index) Names() []string {
	return slices.Clone(idx.names)
}

// Lookup returns the entry for name. Only exact matches are found.
func (idx *Index) Lookup(name string) (Entry, bool) {
	e, ok := idx.entries[name]
	if !ok {
		return Entry{}, false
	}
	return Entry{Kind: e.Kind, Locations: slices.Clone(e.Locations)}, true
}

// Complete returns up to MaxCompletions names starting with prefix, in
// name order, each with its first location. An empty prefix matches every
// name. The boolean is false when nothing matched.
func (idx *Index) Complete(prefix string) ([]Candidate, bool) {
	start := sort.SearchStrings(idx.names, prefix)
	var out []Candidate
	for _, name := range idx.names[start:] {
		if !strings.HasPrefix(name, prefix) || len(out) == MaxCompletions {
			break
		}
		e := idx.entries[name]
		out = append(out, Candidate{Name: name, Kind: e.Kind, Location: e.Locations[0]})
	}
	return out, len(out) > 0
}

// Resolve finds the definition of word as seen from a document with the
// given text and path. A definition inside the document itself shadows the
// index and is returned alone; otherwise every indexed location is
// returned. The boolean is false when word is not defined anywhere.
func (idx *Index) Resolve(word, text, path string) ([]Location, bool) {
	if word == "" {
		return nil, false
	}
	if d, ok := FindDefinition(text, word); ok {
		return []Location{{Path: path, Line: d.Line, Column: d.Column}}, true
	}
	if e, ok := idx.Lookup(word); ok {
		return e.Locations, true
	}
	return nil, false
}

// Each calls fn for every entry in name order.
func (idx *Index) Each(fn func(name string, e Entry)) {
	for _, name := range idx.names {
		e := idx.entries[name]
		fn(name, Entry{Kind: e.Kind, Locations: slices.Clone(e.Locations)})
	}
}
