package gpio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEdgeTrackerSign(t *testing.T) {
	tr := &EdgeTracker{}
	assert.Equal(t, -100*time.Millisecond, tr.Edge(true, 100*time.Millisecond))
	assert.Equal(t, 250*time.Millisecond, tr.Edge(false, 350*time.Millisecond))
	assert.Equal(t, -time.Second, tr.Edge(true, 1350*time.Millisecond))
}

func TestEdgeTrackerActiveLow(t *testing.T) {
	tr := &EdgeTracker{ActiveLow: true}
	tr.Edge(true, time.Second)
	assert.Equal(t, -2*time.Second, tr.Edge(false, 3*time.Second))
	assert.Equal(t, time.Second, tr.Edge(true, 4*time.Second))
}

func TestEdgeTrackerClockSkew(t *testing.T) {
	tr := &EdgeTracker{}
	tr.Edge(true, time.Second)
	assert.Equal(t, time.Duration(0), tr.Edge(false, time.Millisecond))
}

func TestIIOChannel(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "iio:device0")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "in_voltage3_raw"), []byte("2048\n"), 0o644))

	ch := NewIIOChannel(root, 0, 3)
	v, err := ch.ReadRaw()
	require.NoError(t, err)
	assert.Equal(t, 2048, v)

	_, err = NewIIOChannel(root, 0, 4).ReadRaw()
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestIIOChannelGarbage(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "iio:device1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "in_voltage0_raw"), []byte("n/a"), 0o644))

	_, err := NewIIOChannel(root, 1, 0).ReadRaw()
	assert.Error(t, err)
}
