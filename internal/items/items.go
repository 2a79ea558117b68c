// Package items builds the read-only Item views returned by listings and
// searches.
package items

import (
	"errors"
	"os"
	"regexp"
	"sort"
	"strings"

	"fileshelf/internal/fsutil"
)

const (
	TypeFile   = "file"
	TypeFolder = "folder"
)

// Item is one filesystem entry as seen by the client.
type Item struct {
	Href    string `json:"href"`
	Type    string `json:"type"`
	Size    int64  `json:"size"`
	Time    int64  `json:"time"` // unix millis
	Managed bool   `json:"managed"`
	Hidden  bool   `json:"hidden"`
	// Fetched is set on folders whose content is part of the response.
	Fetched bool `json:"fetched,omitempty"`
}

func (it Item) IsFolder() bool { return it.Type == TypeFolder }

// Reader lists directories through a Guard.
type Reader struct {
	guard *fsutil.Guard
}

func NewReader(g *fsutil.Guard) *Reader {
	return &Reader{guard: g}
}

// Stat builds the Item for rel. Hidden or escaping paths yield ErrNotManaged.
func (r *Reader) Stat(rel string) (Item, error) {
	abs, err := r.guard.ResolveRel(rel)
	if err != nil {
		return Item{}, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return Item{}, err
	}
	return r.item(rel, abs, st), nil
}

func (r *Reader) item(rel, abs string, st os.FileInfo) Item {
	it := Item{
		Href: r.guard.Href(rel, st.IsDir()),
		Type: TypeFile,
		Size: st.Size(),
		Time: st.ModTime().UnixMilli(),
	}
	it.Hidden = r.guard.IsHiddenRel(rel)
	if st.IsDir() {
		it.Type = TypeFolder
		it.Size = 0
		it.Managed = !r.guard.HasIndexFile(abs)
	}
	return it
}

// List returns the visible children of the folder rel, folders first, then
// by case-insensitive name.
func (r *Reader) List(rel string) ([]Item, error) {
	abs, err := r.guard.ResolveRel(rel)
	if err != nil {
		return nil, err
	}
	ents, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(ents))
	for _, e := range ents {
		name := e.Name()
		if r.guard.IsHidden(name) {
			continue
		}
		childRel := fsutil.JoinRel(fsutil.CleanRelPath(rel), name)
		if r.guard.IsHiddenRel(childRel) {
			continue
		}
		// Stat follows symlinks; the guard decides whether that is allowed.
		childAbs, err := r.guard.ResolveRel(childRel)
		if err != nil {
			continue
		}
		st, err := os.Stat(childAbs)
		if err != nil {
			continue
		}
		out = append(out, r.item(childRel, childAbs, st))
	}
	sortItems(out)
	return out, nil
}

// Collect returns the items for a folder request: the folder itself (what=0),
// plus its content (what>=1), plus every ancestor folder with content
// (what>=2). Each fetched folder is marked Fetched.
func (r *Reader) Collect(rel string, what int) ([]Item, error) {
	rel = fsutil.CleanRelPath(rel)
	self, err := r.Stat(rel)
	if err != nil {
		return nil, err
	}
	if !self.IsFolder() {
		return []Item{self}, nil
	}

	seen := map[string]bool{}
	var out []Item
	add := func(it Item) {
		if seen[it.Href] {
			return
		}
		seen[it.Href] = true
		out = append(out, it)
	}

	fetch := func(folderRel string) error {
		it, err := r.Stat(folderRel)
		if err != nil {
			return err
		}
		kids, err := r.List(folderRel)
		if err != nil {
			return err
		}
		it.Fetched = true
		add(it)
		for _, k := range kids {
			add(k)
		}
		return nil
	}

	switch {
	case what <= 0:
		add(self)
	default:
		if err := fetch(rel); err != nil {
			return nil, err
		}
		if what >= 2 {
			for cur := rel; cur != ""; {
				cur, _ = fsutil.SplitRel(cur)
				if err := fetch(cur); err != nil {
					break
				}
			}
		}
	}
	return out, nil
}

// SearchResult is a bounded recursive search outcome.
type SearchResult struct {
	Items     []Item `json:"items"`
	Seen      int    `json:"seen"`
	Truncated bool   `json:"truncated"`
	Reason    string `json:"reason,omitempty"` // "maxHits" | "maxFiles"
}

var errLimit = errors.New("limit")

// Search walks below rel breadth-first and matches pattern against each
// entry's relative path. A "re:" prefix selects a regular expression;
// otherwise the match is a case-insensitive substring. Hidden entries are
// neither matched nor descended into.
func (r *Reader) Search(rel, pattern string, maxHits, maxFiles int) (SearchResult, error) {
	res := SearchResult{Items: []Item{}}
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return res, nil
	}
	match, err := matcher(pattern)
	if err != nil {
		return res, err
	}
	rel = fsutil.CleanRelPath(rel)
	if _, err := r.guard.ResolveRel(rel); err != nil {
		return res, err
	}

	queue := []string{rel}
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		// count the directory node itself against maxFiles
		res.Seen++
		if res.Seen > maxFiles {
			res.Truncated, res.Reason = true, "maxFiles"
			break
		}
		abs, err := r.guard.ResolveRel(dir)
		if err != nil {
			continue
		}
		ents, err := os.ReadDir(abs)
		if err != nil {
			continue
		}
		err = func() error {
			for _, e := range ents {
				if r.guard.IsHidden(e.Name()) {
					continue
				}
				res.Seen++
				if res.Seen > maxFiles {
					res.Truncated, res.Reason = true, "maxFiles"
					return errLimit
				}
				childRel := fsutil.JoinRel(dir, e.Name())
				if match(childRel) {
					// same visibility as List: the guard decides about links
					if childAbs, err := r.guard.ResolveRel(childRel); err == nil {
						if info, err := os.Stat(childAbs); err == nil {
							res.Items = append(res.Items, r.item(childRel, childAbs, info))
						}
					}
					if len(res.Items) >= maxHits {
						res.Truncated, res.Reason = true, "maxHits"
						return errLimit
					}
				}
				// do not follow symlinks (avoid loops)
				if e.IsDir() && e.Type()&os.ModeSymlink == 0 {
					queue = append(queue, childRel)
				}
			}
			return nil
		}()
		if err != nil {
			break
		}
	}
	sortItems(res.Items)
	return res, nil
}

func matcher(pattern string) (func(string) bool, error) {
	if expr, ok := strings.CutPrefix(pattern, "re:"); ok {
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return nil, err
		}
		return re.MatchString, nil
	}
	low := strings.ToLower(pattern)
	return func(rel string) bool {
		return strings.Contains(strings.ToLower(rel), low)
	}, nil
}

func sortItems(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].IsFolder() != items[j].IsFolder() {
			return items[i].IsFolder()
		}
		return strings.ToLower(items[i].Href) < strings.ToLower(items[j].Href)
	})
}
