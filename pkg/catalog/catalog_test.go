package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("site: x\n"), 0o644))
	}
	return dir
}

func TestListOrdersAndMarksLatest(t *testing.T) {
	dir := seed(t, "harris_v1.yaml", "brevardclerk_v2.yaml", "brevardclerk_v1.yaml", "notes.txt")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "old.yaml"), 0o755))

	entries, err := New(dir).List()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "brevardclerk_v1", entries[0].Name)
	assert.False(t, entries[0].Latest)
	assert.Equal(t, "brevardclerk_v2", entries[1].Name)
	assert.True(t, entries[1].Latest)
	assert.Equal(t, 2, entries[1].Version)
	assert.Equal(t, "harris", entries[2].Site)
	assert.True(t, entries[2].Latest)
}

func TestListMissingDir(t *testing.T) {
	entries, err := New(filepath.Join(t.TempDir(), "missing")).List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSelect(t *testing.T) {
	dir := seed(t, "harris_v1.yaml", "brevardclerk_v2.yaml", "brevardclerk_v1.yaml", "tccsearch_v1.yaml")
	c := New(dir)

	m, err := NewMatcher([]string{"brevard*", "harris*"}, nil)
	require.NoError(t, err)
	got, err := c.Select(m, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"brevardclerk_v2", "harris_v1"}, names(got))

	m, err = NewMatcher(nil, []string{"*_v1"})
	require.NoError(t, err)
	got, err = c.Select(m, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"brevardclerk_v2"}, names(got))

	got, err = c.Select(nil, false)
	require.NoError(t, err)
	assert.Len(t, Paths(got), 4)
}

func TestNewMatcherRejectsBadPattern(t *testing.T) {
	_, err := NewMatcher([]string{"[unclosed"}, nil)
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	dir := seed(t, "harris_v1.yaml")
	c := New(dir)

	for _, ref := range []string{"harris_v1", "harris_v1.yaml", filepath.Join(dir, "harris_v1.yaml")} {
		path, err := c.Resolve(ref)
		require.NoError(t, err, ref)
		assert.Equal(t, filepath.Join(dir, "harris_v1.yaml"), path)
	}

	_, err := c.Resolve("missing_v1")
	assert.ErrorIs(t, err, ErrNotFound)

	other := seed(t, "harris_v1.yaml")
	_, err = c.Resolve(filepath.Join(other, "harris_v1.yaml"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Resolve("../harris_v1.yaml")
	assert.ErrorIs(t, err, ErrNotFound)
}

func names(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}
