package items

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fileshelf/internal/fsutil"
)

func fixture(t *testing.T) *Reader {
	t.Helper()
	root := t.TempDir()
	for rel, body := range map[string]string{
		"docs/readme.txt":    "hello",
		"docs/Zeta.txt":      "z",
		"docs/sub/deep.txt":  "deep",
		"docs/.secret":       "s",
		"site/index.html":    "<html>",
		"photos/cat.jpg":     "jpg",
		".hidden/readme.txt": "h",
		"top.txt":            "top",
	} {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	g, err := fsutil.NewGuard(fsutil.GuardOptions{
		Root:       root,
		Hidden:     []string{".*"},
		IndexFiles: []string{"index.html"},
	})
	require.NoError(t, err)
	return NewReader(g)
}

func hrefs(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Href)
	}
	return out
}

func TestList(t *testing.T) {
	r := fixture(t)

	got, err := r.List("docs")
	require.NoError(t, err)
	assert.Equal(t, []string{"/docs/sub/", "/docs/readme.txt", "/docs/Zeta.txt"}, hrefs(got))
	assert.Equal(t, TypeFolder, got[0].Type)
	assert.True(t, got[0].Managed)
	assert.Equal(t, int64(5), got[1].Size)
	assert.NotZero(t, got[1].Time)

	root, err := r.List("")
	require.NoError(t, err)
	assert.NotContains(t, hrefs(root), "/.hidden/")
	for _, it := range root {
		if it.Href == "/site/" {
			assert.False(t, it.Managed, "folders with an index file are unmanaged")
		}
	}

	_, err = r.List(".hidden")
	assert.ErrorIs(t, err, fsutil.ErrNotManaged)
}

func TestCollect(t *testing.T) {
	r := fixture(t)

	only, err := r.Collect("docs/sub", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"/docs/sub/"}, hrefs(only))

	withKids, err := r.Collect("docs/sub", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"/docs/sub/", "/docs/sub/deep.txt"}, hrefs(withKids))
	assert.True(t, withKids[0].Fetched)

	chain, err := r.Collect("docs/sub", 2)
	require.NoError(t, err)
	got := hrefs(chain)
	assert.Contains(t, got, "/docs/")
	assert.Contains(t, got, "/")
	assert.Contains(t, got, "/top.txt")
	assert.NotContains(t, got, "/.hidden/")
}

func TestSearch(t *testing.T) {
	r := fixture(t)

	res, err := r.Search("", "README", 100, 1000)
	require.NoError(t, err)
	assert.Equal(t, []string{"/docs/readme.txt"}, hrefs(res.Items), "hidden folders are not searched")
	assert.False(t, res.Truncated)

	res, err = r.Search("", `re:\.txt$`, 2, 1000)
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
	assert.True(t, res.Truncated)
	assert.Equal(t, "maxHits", res.Reason)

	res, err = r.Search("", "", 10, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Items)

	_, err = r.Search("", "re:(", 10, 10)
	assert.Error(t, err)
}

func TestItem_HiddenFlagIsEmitted(t *testing.T) {
	r := fixture(t)

	got, err := r.List("docs")
	require.NoError(t, err)
	for _, it := range got {
		assert.False(t, it.Hidden, it.Href)
	}

	b, err := json.Marshal(got[0])
	require.NoError(t, err)
	assert.Contains(t, string(b), `"hidden":false`)
}

func TestSearch_SkipsLinksTheGuardRejects(t *testing.T) {
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "leak.txt"), []byte("x"), 0o644))

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "plain.txt"), []byte("p"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(outside, "leak.txt"), filepath.Join(root, "link.txt")))

	g, err := fsutil.NewGuard(fsutil.GuardOptions{Root: root})
	require.NoError(t, err)
	r := NewReader(g)

	res, err := r.Search("", ".txt", 10, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"/plain.txt"}, hrefs(res.Items))

	listed, err := r.List("")
	require.NoError(t, err)
	assert.Equal(t, hrefs(listed), hrefs(res.Items))
}
