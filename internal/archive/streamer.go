// Package archive streams a selection of files and folders as a single
// zip or tar container. Nothing is buffered beyond one copy buffer: entries
// are read and written one at a time straight into the sink.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"fileshelf/internal/fsutil"
	"fileshelf/internal/logging"
)

// ErrNoEntries means none of the requested hrefs resolved to a managed entry.
var ErrNoEntries = errors.New("nothing to archive")

const copyBufSize = 32 << 10

// Streamer builds archives from client hrefs through a Guard.
type Streamer struct {
	guard *fsutil.Guard
}

func NewStreamer(g *fsutil.Guard) *Streamer {
	return &Streamer{guard: g}
}

type planEntry struct {
	rel  string
	abs  string
	name string // path inside the archive; "" for the base folder itself
	dir  bool
}

// Plan is the resolved, de-duplicated selection of an archive request.
type Plan struct {
	entries []planEntry
	Skipped int
}

func (p *Plan) Len() int { return len(p.entries) }

// Stats describes a finished (or aborted) stream.
type Stats struct {
	Entries int
	Bytes   int64
}

// Plan resolves hrefs relative to baseHref. Hrefs that do not resolve are
// skipped; only an empty result is an error. Archive names are relative to
// baseHref, falling back to the base name for hrefs outside it.
func (s *Streamer) Plan(baseHref string, hrefs []string) (*Plan, error) {
	baseRel, err := s.guard.RelFromHref(baseHref)
	hasBase := err == nil && strings.TrimSpace(baseHref) != ""

	p := &Plan{}
	seen := map[string]bool{}
	for _, h := range hrefs {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		rel, err := s.guard.RelFromHref(h)
		if err != nil {
			p.Skipped++
			continue
		}
		abs, err := s.guard.ResolveRel(rel)
		if err != nil {
			p.Skipped++
			continue
		}
		st, err := os.Stat(abs)
		if err != nil || (!st.IsDir() && !st.Mode().IsRegular()) {
			p.Skipped++
			continue
		}
		name := archiveName(hasBase, baseRel, rel)
		if name == "" && !st.IsDir() {
			name = path.Base(rel)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		p.entries = append(p.entries, planEntry{rel: rel, abs: abs, name: name, dir: st.IsDir()})
	}
	if len(p.entries) == 0 {
		return nil, ErrNoEntries
	}
	return p, nil
}

func archiveName(hasBase bool, baseRel, rel string) string {
	if !hasBase {
		return path.Base("/" + rel)
	}
	if baseRel == "" {
		return rel
	}
	if rel == baseRel {
		return ""
	}
	if rest, ok := strings.CutPrefix(rel, baseRel+"/"); ok {
		return rest
	}
	return path.Base(rel)
}

// Write streams plan into sink in the given format. Once this is called the
// caller has committed to a byte stream: a returned error means the sink got
// a truncated archive. Cancelling ctx (client gone) stops at the next entry
// or the next failed write, whichever comes first.
func (s *Streamer) Write(ctx context.Context, sink io.Writer, format Format, plan *Plan) (Stats, error) {
	cw := &countingWriter{w: sink}
	c, err := newContainer(format, cw)
	if err != nil {
		return Stats{}, err
	}
	run := &run{
		s:       s,
		ctx:     ctx,
		c:       c,
		buf:     make([]byte, copyBufSize),
		log:     logging.WithContext(ctx),
		written: map[string]bool{},
	}
	for _, e := range plan.entries {
		if e.dir {
			err = run.walk(e.abs, e.rel, e.name)
		} else {
			err = run.file(e.abs, e.name)
		}
		if err != nil {
			return Stats{Entries: run.entries, Bytes: cw.n}, err
		}
	}
	if err := c.Close(); err != nil {
		return Stats{Entries: run.entries, Bytes: cw.n}, fmt.Errorf("finish archive: %w", err)
	}
	return Stats{Entries: run.entries, Bytes: cw.n}, nil
}

type run struct {
	s       *Streamer
	ctx     context.Context
	c       container
	buf     []byte
	log     *zap.Logger
	entries int
	// names already in the archive; overlapping selections add a file once
	written map[string]bool
}

// walk adds every visible regular file below dirAbs, depth first.
func (r *run) walk(dirAbs, dirRel, prefix string) error {
	ents, err := os.ReadDir(dirAbs)
	if err != nil {
		r.log.Debug("archive: skip unreadable folder", zap.String("rel", dirRel), zap.Error(err))
		return nil
	}
	for _, e := range ents {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		name := e.Name()
		if r.s.guard.IsHidden(name) {
			continue
		}
		childRel := fsutil.JoinRel(dirRel, name)
		if r.s.guard.IsHiddenRel(childRel) {
			continue
		}
		childName := joinName(prefix, name)
		childAbs := filepath.Join(dirAbs, name)

		switch t := e.Type(); {
		case t.IsDir():
			if err := r.walk(childAbs, childRel, childName); err != nil {
				return err
			}
		case t.IsRegular():
			if err := r.file(childAbs, childName); err != nil {
				return err
			}
		case t&fs.ModeSymlink != 0:
			// symlinked folders are never descended into (loops); files are
			// added when the guard accepts the link.
			if _, err := r.s.guard.ResolveRel(childRel); err != nil {
				continue
			}
			if st, err := os.Stat(childAbs); err == nil && st.Mode().IsRegular() {
				if err := r.file(childAbs, childName); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// file adds one file. Files that cannot be opened are omitted; only write
// failures abort the stream.
func (r *run) file(abs, name string) error {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	if r.written[name] {
		return nil
	}
	f, err := os.Open(abs)
	if err != nil {
		r.log.Debug("archive: skip unreadable file", zap.String("name", name), zap.Error(err))
		return nil
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil || !st.Mode().IsRegular() {
		return nil
	}
	if err := r.c.addFile(name, st, f, r.buf); err != nil {
		return fmt.Errorf("archive %s: %w", name, err)
	}
	r.written[name] = true
	r.entries++
	return nil
}

func joinName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
