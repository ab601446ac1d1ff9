package lsp

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf16"

	lru "github.com/hashicorp/golang-lru/v2"

	"jaithonls/internal/symbols"
)

// outlineCacheSize bounds the number of cached document outlines.
const outlineCacheSize = 256

// Document is an open editor buffer.
type Document struct {
	URI     string
	Path    string
	Version int
	Text    string
}

type outlineKey struct {
	uri     string
	version int
}

// Documents tracks open buffers and caches their outlines by version.
type Documents struct {
	mu       sync.RWMutex
	open     map[string]Document
	outlines *lru.Cache[outlineKey, []symbols.Definition]
}

// NewDocuments creates an empty store.
func NewDocuments() *Documents {
	cache, err := lru.New[outlineKey, []symbols.Definition](outlineCacheSize)
	if err != nil {
		// Only a non-positive size fails.
		panic(err)
	}
	return &Documents{open: make(map[string]Document), outlines: cache}
}

// Open records a newly opened buffer.
func (d *Documents) Open(item TextDocumentItem) {
	d.mu.Lock()
	d.open[item.URI] = Document{URI: item.URI, Path: uriToPath(item.URI), Version: item.Version, Text: item.Text}
	d.mu.Unlock()
}

// Change replaces a buffer's text. With full sync the last change holds
// the complete content.
func (d *Documents) Change(id VersionedTextDocumentIdentifier, changes []TextDocumentContentChangeEvent) {
	if len(changes) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.open[id.URI]
	if !ok {
		doc = Document{URI: id.URI, Path: uriToPath(id.URI)}
	}
	doc.Version = id.Version
	doc.Text = changes[len(changes)-1].Text
	d.open[id.URI] = doc
}

// Close forgets a buffer.
func (d *Documents) Close(uri string) {
	d.mu.Lock()
	delete(d.open, uri)
	d.mu.Unlock()
}

// Get returns the open buffer for uri.
func (d *Documents) Get(uri string) (Document, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	doc, ok := d.open[uri]
	return doc, ok
}

// Read returns the open buffer for uri, or the file on disk when the
// document is not open. Disk reads get version -1.
func (d *Documents) Read(uri string) (Document, error) {
	if doc, ok := d.Get(uri); ok {
		return doc, nil
	}
	path := uriToPath(uri)
	content, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return Document{URI: uri, Path: path, Version: -1, Text: string(content)}, nil
}

// Outline returns the definitions in doc. Results for open buffers are
// cached per version.
func (d *Documents) Outline(doc Document) []symbols.Definition {
	if doc.Version < 0 {
		return symbols.Extract(doc.Text)
	}
	key := outlineKey{uri: doc.URI, version: doc.Version}
	if defs, ok := d.outlines.Get(key); ok {
		return defs
	}
	defs := symbols.Extract(doc.Text)
	d.outlines.Add(key, defs)
	return defs
}

// uriToPath converts a file:// URI to a local path. Anything else is
// returned unchanged.
func uriToPath(uri string) string {
	if !strings.HasPrefix(uri, "file://") {
		return uri
	}
	u, err := url.Parse(uri)
	if err != nil {
		return strings.TrimPrefix(uri, "file://")
	}
	p := u.Path
	// file:///C:/x on Windows
	if len(p) >= 3 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return filepath.FromSlash(p)
}

// pathToURI converts an absolute path to a file:// URI.
func pathToURI(path string) string {
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}

// lineAt returns line n of text without its line ending, or "" past the
// end.
func lineAt(text string, n int) string {
	for i := 0; i < n; i++ {
		idx := strings.IndexByte(text, '\n')
		if idx < 0 {
			return ""
		}
		text = text[idx+1:]
	}
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSuffix(text, "\r")
}

// byteOffset converts a UTF-16 column on line to a byte offset, clamped
// to the line length.
func byteOffset(line string, col int) int {
	units := 0
	for i, r := range line {
		if units >= col {
			return i
		}
		if n := utf16.RuneLen(r); n > 0 {
			units += n
		} else {
			units++
		}
	}
	return len(line)
}
