package fsutil

import (
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// GuardOptions configures a Guard.
type GuardOptions struct {
	Root           string   // absolute managed root
	RootHref       string   // URL prefix of the root, "/" or "/x/"
	Hidden         []string // glob or "re:" rules matched per segment
	IndexFiles     []string // folders containing one of these are unmanaged
	StateDir       string   // always hidden when inside Root
	FollowSymlinks bool
}

type rule struct {
	glob string
	re   *regexp.Regexp
}

func (r rule) match(name string) bool {
	if r.re != nil {
		return r.re.MatchString(name)
	}
	ok, _ := path.Match(r.glob, name)
	return ok
}

// Guard maps client hrefs to filesystem paths inside the managed root.
// It is safe for concurrent use; it holds no mutable state.
type Guard struct {
	root           string
	rootHref       string
	rules          []rule
	indexFiles     []string
	stateRel       string
	followSymlinks bool
}

func NewGuard(opts GuardOptions) (*Guard, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("guard: root is required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, err
	}
	rootHref := opts.RootHref
	if rootHref == "" {
		rootHref = "/"
	}
	rootHref = "/" + strings.Trim(path.Clean("/"+rootHref), "/")
	if rootHref != "/" {
		rootHref += "/"
	}

	g := &Guard{
		root:           root,
		rootHref:       rootHref,
		indexFiles:     opts.IndexFiles,
		followSymlinks: opts.FollowSymlinks,
	}
	for _, h := range opts.Hidden {
		if re, ok := strings.CutPrefix(h, "re:"); ok {
			c, err := regexp.Compile(re)
			if err != nil {
				return nil, fmt.Errorf("guard: hidden rule %q: %w", h, err)
			}
			g.rules = append(g.rules, rule{re: c})
			continue
		}
		if _, err := path.Match(h, ""); err != nil {
			return nil, fmt.Errorf("guard: hidden rule %q: %w", h, err)
		}
		g.rules = append(g.rules, rule{glob: h})
	}
	if opts.StateDir != "" {
		if st, err := filepath.Abs(opts.StateDir); err == nil && within(root, st) && st != root {
			rel, _ := filepath.Rel(root, st)
			g.stateRel = filepath.ToSlash(rel)
		}
	}
	return g, nil
}

func (g *Guard) Root() string     { return g.root }
func (g *Guard) RootHref() string { return g.rootHref }

// IsHidden reports whether a single entry name matches a hidden rule.
func (g *Guard) IsHidden(name string) bool {
	for _, r := range g.rules {
		if r.match(name) {
			return true
		}
	}
	return false
}

// IsHiddenRel reports whether rel or any of its ancestors is hidden.
func (g *Guard) IsHiddenRel(rel string) bool {
	rel = CleanRelPath(rel)
	if rel == "" {
		return false
	}
	if g.stateRel != "" && (rel == g.stateRel || strings.HasPrefix(rel, g.stateRel+"/")) {
		return true
	}
	for _, seg := range strings.Split(rel, "/") {
		if g.IsHidden(seg) {
			return true
		}
	}
	return false
}

// RelFromHref decodes and normalizes href and strips the root href.
// Normalization happens before the prefix check, so "/files/../etc" is
// compared as "/etc".
func (g *Guard) RelFromHref(href string) (string, error) {
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		href = href[:i]
	}
	dec, err := url.PathUnescape(href)
	if err != nil || strings.ContainsRune(dec, 0) {
		return "", ErrNotManaged
	}
	p := path.Clean("/" + strings.ReplaceAll(dec, "\\", "/"))
	if g.rootHref == "/" {
		return CleanRelPath(p), nil
	}
	base := strings.TrimSuffix(g.rootHref, "/")
	if p == base {
		return "", nil
	}
	rest, ok := strings.CutPrefix(p, base+"/")
	if !ok {
		return "", ErrNotManaged
	}
	return CleanRelPath(rest), nil
}

// Href renders rel as a client href. Folder hrefs end with "/".
func (g *Guard) Href(rel string, isDir bool) string {
	rel = CleanRelPath(rel)
	if rel == "" {
		return g.rootHref
	}
	segs := strings.Split(rel, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	h := g.rootHref + strings.Join(segs, "/")
	if isDir {
		h += "/"
	}
	return h
}

// Resolve maps a client href to an absolute path inside the root.
func (g *Guard) Resolve(href string) (string, error) {
	rel, err := g.RelFromHref(href)
	if err != nil {
		return "", err
	}
	return g.ResolveRel(rel)
}

// ResolveRel is Resolve for an already normalized rel path.
func (g *Guard) ResolveRel(rel string) (string, error) {
	rel = CleanRelPath(rel)
	if g.IsHiddenRel(rel) {
		return "", ErrNotManaged
	}
	abs, err := JoinWithinRoot(g.root, rel)
	if err != nil {
		return "", ErrNotManaged
	}
	if err := g.checkLinks(rel); err != nil {
		return "", err
	}
	return abs, nil
}

// checkLinks walks the existing prefix of rel. A symlink is rejected unless
// following is enabled and its target stays inside the root.
func (g *Guard) checkLinks(rel string) error {
	if rel == "" {
		return nil
	}
	cur := g.root
	var realRoot string
	for _, seg := range strings.Split(rel, "/") {
		cur = filepath.Join(cur, seg)
		st, err := os.Lstat(cur)
		if err != nil {
			// the rest does not exist yet
			return nil
		}
		if st.Mode()&fs.ModeSymlink == 0 {
			continue
		}
		if !g.followSymlinks {
			return ErrNotManaged
		}
		if realRoot == "" {
			if realRoot, err = filepath.EvalSymlinks(g.root); err != nil {
				return ErrNotManaged
			}
		}
		target, err := filepath.EvalSymlinks(cur)
		if err != nil || !within(realRoot, target) {
			return ErrNotManaged
		}
	}
	return nil
}

// IsManagedRel reports whether rel is a visible folder the server lists
// itself, i.e. not a page folder carrying its own index file.
func (g *Guard) IsManagedRel(rel string) bool {
	abs, err := g.ResolveRel(rel)
	if err != nil {
		return false
	}
	st, err := os.Stat(abs)
	if err != nil || !st.IsDir() {
		return false
	}
	return !g.HasIndexFile(abs)
}

// IsManaged is IsManagedRel for a client href.
func (g *Guard) IsManaged(href string) bool {
	rel, err := g.RelFromHref(href)
	if err != nil {
		return false
	}
	return g.IsManagedRel(rel)
}

// HasIndexFile reports whether dirAbs contains one of the index files.
func (g *Guard) HasIndexFile(dirAbs string) bool {
	for _, name := range g.indexFiles {
		if st, err := os.Stat(filepath.Join(dirAbs, name)); err == nil && st.Mode().IsRegular() {
			return true
		}
	}
	return false
}
