// Package assets holds the static UI bundle as one immutable blob with a
// URI-indexed table of byte ranges.
package assets

import (
	"fmt"
	"io/fs"
	"mime"
	"path"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Asset describes one servable file. Start and End delimit its bytes in
// the table blob.
type Asset struct {
	URI             string
	ContentType     string
	ContentEncoding string
	ETag            string
	Start, End      int
}

func (a Asset) Size() int { return a.End - a.Start }

type Table struct {
	blob   []byte
	assets map[string]Asset
}

// Load reads every regular file of fsys into a table. Files are served at
// "/"+path; a ".gz" suffix is stripped from the URI and served with
// Content-Encoding gzip. index.html is also served at its directory and
// other .html files without the extension.
// When both a file and its ".gz" twin exist, the compressed one wins.
func Load(fsys fs.FS) (*Table, error) {
	var names []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			names = append(names, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk assets: %w", err)
	}
	sort.Strings(names)

	t := &Table{assets: make(map[string]Asset, len(names))}
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read asset %s: %w", name, err)
		}
		uri := "/" + name
		a := Asset{Start: len(t.blob), ETag: fmt.Sprintf(`"%016x"`, xxhash.Sum64(data))}
		if strings.HasSuffix(uri, ".gz") {
			uri = strings.TrimSuffix(uri, ".gz")
			a.ContentEncoding = "gzip"
		}
		t.blob = append(t.blob, data...)
		a.End = len(t.blob)
		a.ContentType = contentType(uri)

		t.add(uri, a)
		switch {
		case path.Base(uri) == "index.html":
			t.add(strings.TrimSuffix(uri, "index.html"), a)
		case path.Ext(uri) == ".html":
			t.add(strings.TrimSuffix(uri, ".html"), a)
		}
	}
	return t, nil
}

func (t *Table) add(uri string, a Asset) {
	if prev, ok := t.assets[uri]; ok && prev.ContentEncoding != "" && a.ContentEncoding == "" {
		return
	}
	a.URI = uri
	t.assets[uri] = a
}

func contentType(uri string) string {
	if ct := mime.TypeByExtension(path.Ext(uri)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Lookup finds an asset by exact URI.
func (t *Table) Lookup(uri string) (Asset, bool) {
	a, ok := t.assets[uri]
	return a, ok
}

// Bytes returns the content of a. The slice must not be modified.
func (t *Table) Bytes(a Asset) []byte { return t.blob[a.Start:a.End] }

func (t *Table) Len() int { return len(t.assets) }

// URIs lists every servable URI in order.
func (t *Table) URIs() []string {
	out := make([]string, 0, len(t.assets))
	for uri := range t.assets {
		out = append(out, uri)
	}
	sort.Strings(out)
	return out
}
