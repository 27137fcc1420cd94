package assets

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"index.html":      {Data: []byte("<html>home</html>")},
		"cp.html":         {Data: []byte("<html>portal</html>")},
		"main.js":         {Data: []byte("plain")},
		"main.js.gz":      {Data: []byte("\x1f\x8bcompressed")},
		"css/site.css":    {Data: []byte("body{}")},
		"docs/index.html": {Data: []byte("docs")},
		"blob.unknownext": {Data: []byte("?")},
	}
}

func TestLoad(t *testing.T) {
	tbl, err := Load(testFS())
	require.NoError(t, err)

	home, ok := tbl.Lookup("/")
	require.True(t, ok)
	assert.Equal(t, "/", home.URI)
	assert.Equal(t, "<html>home</html>", string(tbl.Bytes(home)))
	assert.Contains(t, home.ContentType, "text/html")

	idx, ok := tbl.Lookup("/index.html")
	require.True(t, ok)
	assert.Equal(t, home.ETag, idx.ETag)

	docs, ok := tbl.Lookup("/docs/")
	require.True(t, ok)
	assert.Equal(t, "docs", string(tbl.Bytes(docs)))

	css, ok := tbl.Lookup("/css/site.css")
	require.True(t, ok)
	assert.Contains(t, css.ContentType, "text/css")

	bin, ok := tbl.Lookup("/blob.unknownext")
	require.True(t, ok)
	assert.Equal(t, "application/octet-stream", bin.ContentType)

	cp, ok := tbl.Lookup("/cp")
	require.True(t, ok)
	assert.Equal(t, "<html>portal</html>", string(tbl.Bytes(cp)))

	_, ok = tbl.Lookup("/missing")
	assert.False(t, ok)
}

func TestCompressedTwinWins(t *testing.T) {
	tbl, err := Load(testFS())
	require.NoError(t, err)

	js, ok := tbl.Lookup("/main.js")
	require.True(t, ok)
	assert.Equal(t, "gzip", js.ContentEncoding)
	assert.Contains(t, js.ContentType, "javascript")
	assert.Equal(t, "\x1f\x8bcompressed", string(tbl.Bytes(js)))

	_, ok = tbl.Lookup("/main.js.gz")
	assert.False(t, ok)
}

func TestETagsAreContentDerived(t *testing.T) {
	a, err := Load(fstest.MapFS{"a.txt": {Data: []byte("same")}, "b.txt": {Data: []byte("same")}, "c.txt": {Data: []byte("other")}})
	require.NoError(t, err)

	x, _ := a.Lookup("/a.txt")
	y, _ := a.Lookup("/b.txt")
	z, _ := a.Lookup("/c.txt")
	assert.Equal(t, x.ETag, y.ETag)
	assert.NotEqual(t, x.ETag, z.ETag)
	assert.Regexp(t, `^"[0-9a-f]{16}"$`, x.ETag)
	assert.Equal(t, 4, x.Size())
}

func TestEmbeddedBundle(t *testing.T) {
	tbl, err := LoadBundle("")
	require.NoError(t, err)

	for _, uri := range []string{"/", "/cp", "/main.js"} {
		_, ok := tbl.Lookup(uri)
		assert.True(t, ok, uri)
	}
}
