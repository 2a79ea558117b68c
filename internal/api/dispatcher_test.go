package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fileshelf/internal/archive"
	"fileshelf/internal/auth"
	"fileshelf/internal/config"
	"fileshelf/internal/fsutil"
	"fileshelf/internal/items"
)

type fixture struct {
	root string
	cfg  config.Config
	d    *Dispatcher
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	root := t.TempDir()
	for rel, body := range map[string]string{
		"docs/a.txt":             "alpha",
		"docs/b.txt":             "bravo",
		"docs/.secret":           "hidden",
		"docs/sub/c.txt":         "charlie",
		".private/x.txt":         "hidden",
		"site/index.html":        "<html>",
		"site/page.txt":          "page",
		"_fileshelf.header.html": "<h1>top</h1>",
	} {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}

	cfg := config.Default()
	cfg.Root = root
	cfg.Features.Delete = config.MutationConfig{Enabled: true}
	cfg.Features.Rename = config.MutationConfig{Enabled: true}
	cfg.Features.Upload = config.MutationConfig{Enabled: true}
	if mutate != nil {
		mutate(&cfg)
	}

	g, err := fsutil.NewGuard(fsutil.GuardOptions{
		Root:       root,
		RootHref:   cfg.RootHref,
		Hidden:     cfg.Hidden,
		IndexFiles: cfg.IndexFiles,
	})
	require.NoError(t, err)

	d := New(Options{
		Config:     cfg,
		Guard:      g,
		Items:      items.NewReader(g),
		Streamer:   archive.NewStreamer(g),
		StagingDir: t.TempDir(),
		Version:    "test",
	})
	return &fixture{root: root, cfg: cfg, d: d}
}

func (f *fixture) exists(rel string) bool {
	_, err := os.Lstat(filepath.Join(f.root, filepath.FromSlash(rel)))
	return err == nil
}

func (f *fixture) read(t *testing.T, rel string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(f.root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(b)
}

func formRequest(action string, kv ...string) *Request {
	p := url.Values{"action": {action}}
	for i := 0; i+1 < len(kv); i += 2 {
		p.Add(kv[i], kv[i+1])
	}
	return &Request{Action: action, Method: http.MethodPost, Params: p}
}

func uploadRequest(t *testing.T, params map[string]string, filename, body string) *Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range params {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile(UploadField, filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/api", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return ParseRequest(r, 1<<20)
}

func TestDispatch_UnknownActionHasNoEffect(t *testing.T) {
	f := newFixture(t, nil)

	for _, action := range []string{"", "unlink", "DELETE", "get "} {
		req := formRequest(action, "hrefs", "/docs/a.txt")
		res := f.d.Dispatch(context.Background(), req)
		assert.Equal(t, CodeUnsupported, res.Code, "action %q", action)
		assert.Equal(t, "unsupported action", res.Msg)
	}
	assert.True(t, f.exists("docs/a.txt"))
}

func TestDispatch_DisabledAndAdminGates(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Features.Delete = config.MutationConfig{Enabled: false}
		c.Features.Rename = config.MutationConfig{Enabled: true, AdminOnly: true}
	})

	res := f.d.Dispatch(context.Background(), formRequest("delete", "hrefs", "/docs/a.txt"))
	assert.Equal(t, CodeDisabled, res.Code)

	req := formRequest("rename", "href", "/docs/a.txt", "name", "z.txt")
	res = f.d.Dispatch(context.Background(), req)
	assert.Equal(t, CodeAdminRequired, res.Code)
	assert.True(t, f.exists("docs/a.txt"))

	req.Session = auth.Session{Admin: true}
	res = f.d.Dispatch(context.Background(), req)
	assert.Equal(t, CodeOK, res.Code)
	assert.True(t, f.exists("docs/z.txt"))
}

func TestResult_MarshalAlwaysHasCode(t *testing.T) {
	b, err := json.Marshal(ok(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":0}`, string(b))

	res := fail(CodeDeletePartial, "deletion failed for some")
	res.Data = map[string]any{"failed": []string{"/x"}}
	b, err = json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":2,"msg":"deletion failed for some","failed":["/x"]}`, string(b))
}

func TestFirstFailure_StopsAtFirst(t *testing.T) {
	evaluated := 0
	step := func(failed bool) check {
		return check{failed: func() bool { evaluated++; return failed }, code: 99}
	}
	res := firstFailure(step(false), when(true, 7, "seven"), step(true))
	require.NotNil(t, res)
	assert.Equal(t, 7, res.Code)
	assert.Equal(t, 1, evaluated)

	assert.Nil(t, firstFailure(step(false)))
}

func TestDelete(t *testing.T) {
	f := newFixture(t, nil)

	hrefs := strings.Join([]string{
		"/docs/a.txt",
		"/docs/sub/",
		"/docs/.secret",
		"/site/page.txt",
		"/docs/missing.txt",
		"/../etc/passwd",
	}, HrefSeparator)
	res := f.d.Dispatch(context.Background(), formRequest("delete", "hrefs", hrefs))

	assert.Equal(t, CodeDeletePartial, res.Code)
	assert.ElementsMatch(t, []string{
		"/docs/.secret",
		"/site/page.txt",
		"/docs/missing.txt",
		"/../etc/passwd",
	}, res.Data["failed"])
	assert.False(t, f.exists("docs/a.txt"))
	assert.False(t, f.exists("docs/sub"))
	assert.True(t, f.exists("docs/.secret"))
	assert.True(t, f.exists("site/page.txt"))
	assert.True(t, f.exists("docs/b.txt"))
}

func TestDelete_EmptySelectionAndMissingParam(t *testing.T) {
	f := newFixture(t, nil)

	res := f.d.Dispatch(context.Background(), formRequest("delete", "hrefs", ""))
	assert.Equal(t, CodeOK, res.Code)

	res = f.d.Dispatch(context.Background(), formRequest("delete"))
	assert.Equal(t, CodeMissingParam, res.Code)
	assert.Equal(t, "missing param: hrefs", res.Msg)
}

func TestRename(t *testing.T) {
	f := newFixture(t, nil)

	cases := []struct {
		name string
		href string
		to   string
		code int
	}{
		{"plain", "/docs/a.txt", "renamed.txt", CodeOK},
		{"name with slash", "/docs/b.txt", "../b.txt", CodeIllegalParam},
		{"dot dot", "/docs/b.txt", "..", CodeIllegalParam},
		{"hidden source", "/docs/.secret", "visible", CodeRenameNotManaged},
		{"hidden target", "/docs/b.txt", ".b.txt", CodeRenameNotManaged},
		{"hidden parent", "/.private/x.txt", "y.txt", CodeRenameNotManaged},
		{"unmanaged parent", "/site/page.txt", "p.txt", CodeRenameNotManaged},
		{"missing source", "/docs/nope.txt", "yes.txt", CodeRenameFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := f.d.Dispatch(context.Background(), formRequest("rename", "href", tc.href, "name", tc.to))
			assert.Equal(t, tc.code, res.Code, res.Msg)
		})
	}
	assert.True(t, f.exists("docs/renamed.txt"))
	assert.True(t, f.exists("docs/b.txt"))
	assert.True(t, f.exists(".private/x.txt"))

	res := f.d.Dispatch(context.Background(), formRequest("rename", "href", "/docs/b.txt"))
	assert.Equal(t, CodeMissingParam, res.Code)
}

func TestUpload(t *testing.T) {
	f := newFixture(t, nil)

	res := f.d.Dispatch(context.Background(), uploadRequest(t, map[string]string{"action": "upload", "href": "/docs/"}, "new.txt", "fresh"))
	require.Equal(t, CodeOK, res.Code, res.Msg)
	assert.Equal(t, "fresh", f.read(t, "docs/new.txt"))

	entries, err := os.ReadDir(f.d.stagingDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "staged files are cleaned up")
}

func TestUpload_NeverOverwrites(t *testing.T) {
	f := newFixture(t, nil)

	res := f.d.Dispatch(context.Background(), uploadRequest(t, map[string]string{"action": "upload", "href": "/docs/"}, "a.txt", "clobber"))
	assert.Equal(t, CodeUploadExists, res.Code)
	assert.Equal(t, "alpha", f.read(t, "docs/a.txt"))

	entries, err := os.ReadDir(f.d.stagingDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUpload_Codes(t *testing.T) {
	f := newFixture(t, nil)

	cases := []struct {
		name     string
		params   map[string]string
		filename string
		body     string
		code     int
	}{
		{"missing href", map[string]string{"action": "upload"}, "x.txt", "x", CodeMissingParam},
		{"no file", map[string]string{"action": "upload", "href": "/docs/"}, "", "", CodeUploadNoFile},
		{"folder", map[string]string{"action": "upload", "href": "/docs/"}, "dir", "null", CodeUploadFolder},
		{"hidden dir", map[string]string{"action": "upload", "href": "/.private/"}, "x.txt", "x", CodeUploadNotManaged},
		{"unmanaged dir", map[string]string{"action": "upload", "href": "/site/"}, "x.txt", "x", CodeUploadNotManaged},
		{"hidden name", map[string]string{"action": "upload", "href": "/docs/"}, ".env", "x", CodeUploadNotManaged},
		{"escaping dir", map[string]string{"action": "upload", "href": "/../../tmp/"}, "x.txt", "x", CodeUploadNotManaged},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := f.d.Dispatch(context.Background(), uploadRequest(t, tc.params, tc.filename, tc.body))
			assert.Equal(t, tc.code, res.Code, res.Msg)
		})
	}
	assert.False(t, f.exists("docs/dir"))
	assert.False(t, f.exists(".private/x.txt"))
	assert.False(t, f.exists("docs/.env"))

	req := formRequest("upload", "href", "/docs/")
	req.Method = http.MethodGet
	res := f.d.Dispatch(context.Background(), req)
	assert.Equal(t, CodeUploadMethod, res.Code)
}

func TestLoginLogout(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.PassHash = strings.ToUpper(auth.HashPassword("hunter2"))
	})

	res := f.d.Dispatch(context.Background(), formRequest("login", "pass", "wrong"))
	assert.Equal(t, CodeOK, res.Code)
	assert.Equal(t, false, res.Data["asAdmin"])
	require.NotNil(t, res.Session)
	assert.False(t, res.Session.Admin)

	res = f.d.Dispatch(context.Background(), formRequest("login", "pass", "hunter2"))
	assert.Equal(t, true, res.Data["asAdmin"])
	assert.True(t, res.Session.Admin)

	res = f.d.Dispatch(context.Background(), formRequest("login"))
	assert.Equal(t, CodeMissingParam, res.Code)
	assert.Nil(t, res.Session)

	res = f.d.Dispatch(context.Background(), formRequest("logout"))
	assert.Equal(t, false, res.Data["asAdmin"])
	require.NotNil(t, res.Session)
	assert.False(t, res.Session.Admin)
}

func TestDownload(t *testing.T) {
	f := newFixture(t, nil)

	req := formRequest("download", "as", "my docs", "type", "php-tar", "baseHref", "/", "hrefs", "/docs/")
	res := f.d.Dispatch(context.Background(), req)
	require.Equal(t, CodeOK, res.Code, res.Msg)
	require.NotNil(t, res.Stream)
	assert.Equal(t, "my docs.tar", res.Stream.Filename)

	var sink bytes.Buffer
	require.NoError(t, res.Stream.Write(context.Background(), &sink))
	assert.NotZero(t, sink.Len())
	assert.NotContains(t, sink.String(), "hidden")
	assert.Contains(t, sink.String(), "charlie")
}

func TestDownload_Failures(t *testing.T) {
	f := newFixture(t, nil)

	res := f.d.Dispatch(context.Background(), formRequest("download", "hrefs", "/docs/", "type", "rar"))
	assert.Equal(t, CodeDownloadFailed, res.Code)

	res = f.d.Dispatch(context.Background(), formRequest("download", "hrefs", "/.private/x.txt"))
	assert.Equal(t, CodeDownloadFailed, res.Code)
	assert.Nil(t, res.Stream)

	res = f.d.Dispatch(context.Background(), formRequest("download"))
	assert.Equal(t, CodeMissingParam, res.Code)
}

func TestSanitizeDownloadName(t *testing.T) {
	assert.Equal(t, "download.zip", sanitizeDownloadName("", archive.FormatZip))
	assert.Equal(t, "a-b.zip", sanitizeDownloadName("a/b.zip", archive.FormatZip))
	assert.Equal(t, "quoted.tar.gz", sanitizeDownloadName(`"quoted"`, archive.FormatTarGz))
}

func TestGet_Fragments(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.PassHash = auth.HashPassword("x")
		c.Types = map[string][]string{"txt": {"*.txt"}}
	})

	req := formRequest("get",
		"setup", "true",
		"options", "1",
		"types", "true",
		"items", "true", "items.href", "/docs/", "items.what", "1",
		"custom", "/docs/",
		"search", "1", "search.href", "/", "search.pattern", "c.TXT",
	)
	res := f.d.Dispatch(context.Background(), req)
	require.Equal(t, CodeOK, res.Code, res.Msg)

	setup := res.Data["setup"].(map[string]any)
	assert.Equal(t, true, setup["HAS_CUSTOM_PASSHASH"])
	assert.Equal(t, false, setup["AS_ADMIN"])
	assert.NotContains(t, setup, "ROOT_PATH")

	assert.Contains(t, res.Data["options"], "download")
	assert.Equal(t, map[string][]string{"txt": {"*.txt"}}, res.Data["types"])

	var hrefs []string
	for _, it := range res.Data["items"].([]items.Item) {
		hrefs = append(hrefs, it.Href)
	}
	assert.ElementsMatch(t, []string{"/docs/", "/docs/sub/", "/docs/a.txt", "/docs/b.txt"}, hrefs)

	custom := res.Data["custom"].(map[string]any)
	assert.Equal(t, "<h1>top</h1>", custom["header"])
	assert.Nil(t, custom["footer"])

	found := res.Data["search"].([]items.Item)
	require.Len(t, found, 1)
	assert.Equal(t, "/docs/sub/c.txt", found[0].Href)
}

func TestGet_AdminSetupAndGates(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Features.Search.Enabled = false
	})

	req := formRequest("get", "setup", "1")
	req.Session = auth.Session{Admin: true}
	res := f.d.Dispatch(context.Background(), req)
	setup := res.Data["setup"].(map[string]any)
	assert.Equal(t, f.root, setup["ROOT_PATH"])
	assert.Equal(t, false, setup["HAS_CUSTOM_PASSHASH"])

	res = f.d.Dispatch(context.Background(), formRequest("get", "setup", "1", "search", "1"))
	assert.Equal(t, CodeDisabled, res.Code)

	res = f.d.Dispatch(context.Background(), formRequest("get", "l10n", "en"))
	assert.Equal(t, CodeDisabled, res.Code)

	res = f.d.Dispatch(context.Background(), formRequest("get", "thumbs", "/docs/a.txt"))
	assert.Equal(t, CodeUnsupported, res.Code)
}

func TestGet_ItemsOutsideRootAreEmpty(t *testing.T) {
	f := newFixture(t, nil)

	res := f.d.Dispatch(context.Background(), formRequest("get", "items", "1", "items.href", "/.private/"))
	require.Equal(t, CodeOK, res.Code)
	assert.Empty(t, res.Data["items"])
}

func TestGet_L10n(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "de.json"), []byte(`{"lang":"deutsch"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "xx.json"), []byte(`not json`), 0o644))
	f := newFixture(t, func(c *config.Config) {
		c.Features.L10n = config.L10nConfig{Enabled: true, Dir: dir}
	})

	res := f.d.Dispatch(context.Background(), formRequest("get", "l10n", "de|:|xx|:|../etc|:|fr"))
	require.Equal(t, CodeOK, res.Code)
	l10n := res.Data["l10n"].(map[string]json.RawMessage)
	require.Len(t, l10n, 1)
	assert.JSONEq(t, `{"lang":"deutsch"}`, string(l10n["de"]))
}

func TestDelete_TrailingSpaceNamesTheExactEntry(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "docs", "a.txt "), []byte("spaced"), 0o644))

	res := f.d.Dispatch(context.Background(), formRequest("delete", "hrefs", "/docs/a.txt%20"))
	assert.Equal(t, CodeOK, res.Code, res.Msg)
	assert.False(t, f.exists("docs/a.txt "))
	assert.True(t, f.exists("docs/a.txt"))
}

func TestSanitizeDownloadName_CutsOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("a", maxDownloadName-1) + "é" + "tail"

	got := sanitizeDownloadName(long, archive.FormatZip)
	assert.True(t, utf8.ValidString(got), "%q", got)
	assert.Equal(t, strings.Repeat("a", maxDownloadName-1)+".zip", got)
}

func TestGet_FalsyFragmentIsNotRequested(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Features.Search.Enabled = false
		c.Features.Custom.Enabled = false
	})

	res := f.d.Dispatch(context.Background(), formRequest("get", "search", "0", "custom", "false", "setup", "1"))
	require.Equal(t, CodeOK, res.Code, res.Msg)
	assert.NotContains(t, res.Data, "search")
	assert.NotContains(t, res.Data, "custom")
	assert.Contains(t, res.Data, "setup")

	res = f.d.Dispatch(context.Background(), formRequest("get", "search", "1"))
	assert.Equal(t, CodeDisabled, res.Code)
}
