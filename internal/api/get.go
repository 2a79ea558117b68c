package api

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"runtime"

	"go.uber.org/zap"

	"fileshelf/internal/fsutil"
	"fileshelf/internal/items"
	"fileshelf/internal/logging"
)

const (
	customHeader = "_fileshelf.header.html"
	customFooter = "_fileshelf.footer.html"
)

var isoCode = regexp.MustCompile(`^[a-z]{2}(-[a-z]{2})?$`)

// get assembles the requested fragments. A fragment is requested by a truthy
// parameter; fragments are independent, but a requested disabled fragment
// fails the whole request.
func (d *Dispatcher) get(ctx context.Context, req *Request) *Result {
	feats := d.cfg.Features
	if res := firstFailure(
		when(req.Truthy("custom") && !feats.Custom.Enabled, CodeDisabled, "custom disabled"),
		when(req.Truthy("l10n") && !feats.L10n.Enabled, CodeDisabled, "l10n disabled"),
		when(req.Truthy("search") && !feats.Search.Enabled, CodeDisabled, "search disabled"),
		when(req.Truthy("thumbs") && !feats.Thumbnails.Enabled, CodeDisabled, "thumbnails disabled"),
		when(req.Truthy("thumbs") && d.thumbs == nil, CodeUnsupported, "thumbnails not supported"),
	); res != nil {
		return res
	}

	log := logging.WithContext(ctx)
	out := map[string]any{}

	if req.Truthy("langs") {
		langs := map[string]string{}
		for k, v := range feats.L10n.Langs {
			langs[k] = v
		}
		out["langs"] = langs
	}
	if req.Truthy("options") {
		out["options"] = d.options()
	}
	if req.Truthy("setup") {
		out["setup"] = d.setup(req)
	}
	if req.Truthy("types") {
		types := map[string][]string{}
		for k, v := range d.cfg.Types {
			types[k] = v
		}
		out["types"] = types
	}
	if req.Truthy("theme") {
		theme := map[string]string{}
		for k, v := range d.cfg.Theme {
			theme[k] = v
		}
		out["theme"] = theme
	}
	if req.Truthy("items") {
		list, err := d.getItems(req.Get("items.href"), req.Int("items.what", 0))
		if err != nil {
			log.Debug("items unavailable", zap.String("href", req.Get("items.href")), zap.Error(err))
			list = []items.Item{}
		}
		out["items"] = list
	}
	if req.Truthy("custom") {
		out["custom"] = d.customizations(req.Get("custom"))
	}
	if req.Truthy("l10n") {
		out["l10n"] = d.translations(req.List("l10n"))
	}
	if req.Truthy("search") {
		res, err := d.search(req.Get("search.href"), req.Get("search.pattern"))
		if err != nil {
			log.Debug("search failed", zap.Error(err))
		}
		out["search"] = res.Items
	}
	if req.Truthy("thumbs") {
		size := req.Int("thumbs.size", feats.Thumbnails.Size)
		if size <= 0 || size > 2048 {
			size = feats.Thumbnails.Size
		}
		out["thumbs"] = d.thumbnails(ctx, req.List("thumbs"), size)
	}
	return ok(out)
}

// options is the client-visible part of the feature configuration.
func (d *Dispatcher) options() map[string]any {
	f := d.cfg.Features
	return map[string]any{
		"download":   f.Download,
		"delete":     f.Delete,
		"rename":     f.Rename,
		"upload":     f.Upload,
		"search":     f.Search,
		"thumbnails": f.Thumbnails,
		"custom":     f.Custom,
		"l10n":       map[string]any{"enabled": f.L10n.Enabled},
	}
}

func (d *Dispatcher) setup(req *Request) map[string]any {
	s := map[string]any{
		"APP_HREF":            "/api",
		"ROOT_HREF":           d.guard.RootHref(),
		"VERSION":             d.version,
		"AS_ADMIN":            req.Session.Admin,
		"HAS_CUSTOM_PASSHASH": d.cfg.PassHash != "",
	}
	if req.Session.Admin {
		s["ROOT_PATH"] = d.guard.Root()
		s["GO_VERSION"] = runtime.Version()
		s["GOOS"] = runtime.GOOS
	}
	return s
}

func (d *Dispatcher) getItems(href string, what int) ([]items.Item, error) {
	rel, err := d.guard.RelFromHref(href)
	if err != nil {
		return nil, err
	}
	if !d.guard.IsManagedRel(rel) {
		return nil, fsutil.ErrNotManaged
	}
	return d.items.Collect(rel, what)
}

// customizations returns the header and footer snippets closest to href,
// looked up in the folder first and then its ancestors. Missing ones are nil.
func (d *Dispatcher) customizations(href string) map[string]any {
	out := map[string]any{"header": nil, "footer": nil}
	rel, err := d.guard.RelFromHref(href)
	if err != nil {
		return out
	}
	for {
		if abs, err := d.guard.ResolveRel(rel); err == nil {
			for key, name := range map[string]string{"header": customHeader, "footer": customFooter} {
				if out[key] != nil {
					continue
				}
				if b, err := os.ReadFile(filepath.Join(abs, name)); err == nil {
					out[key] = string(b)
				}
			}
		}
		if rel == "" || (out["header"] != nil && out["footer"] != nil) {
			return out
		}
		rel, _ = fsutil.SplitRel(rel)
	}
}

// translations reads <iso>.json from the l10n directory for each code.
// Unknown or malformed codes are left out.
func (d *Dispatcher) translations(codes []string) map[string]json.RawMessage {
	out := map[string]json.RawMessage{}
	dir := d.cfg.Features.L10n.Dir
	for _, code := range codes {
		if !isoCode.MatchString(code) {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, code+".json"))
		if err != nil || !json.Valid(b) {
			continue
		}
		out[code] = b
	}
	return out
}

func (d *Dispatcher) search(href, pattern string) (items.SearchResult, error) {
	rel, err := d.guard.RelFromHref(href)
	if err != nil {
		return items.SearchResult{Items: []items.Item{}}, err
	}
	s := d.cfg.Features.Search
	return d.items.Search(rel, pattern, s.MaxHits, s.MaxFiles)
}

// thumbnails maps each href to its thumbnail URL, or nil when none can be
// produced.
func (d *Dispatcher) thumbnails(ctx context.Context, hrefs []string, size int) map[string]any {
	out := make(map[string]any, len(hrefs))
	for _, href := range hrefs {
		out[href] = nil
		rel, err := d.guard.RelFromHref(href)
		if err != nil {
			continue
		}
		key, err := d.thumbs.Get(rel, size)
		if err != nil {
			logging.WithContext(ctx).Debug("no thumbnail", zap.String("href", href), zap.Error(err))
			continue
		}
		out[href] = "/thumbs/" + key
	}
	return out
}
