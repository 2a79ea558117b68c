package api

import (
	"context"
	"os"

	"go.uber.org/zap"

	"fileshelf/internal/fsutil"
	"fileshelf/internal/logging"
)

// rename renames href to name inside the same folder. Collisions are left to
// the platform's rename semantics.
func (d *Dispatcher) rename(ctx context.Context, req *Request) *Result {
	opts := d.cfg.Features.Rename
	var src, dst string

	if res := firstFailure(
		when(!opts.Enabled, CodeDisabled, "renaming disabled"),
		requireAdmin(opts.AdminOnly, req),
		missing(req, "href"),
		missing(req, "name"),
		check{
			failed: func() bool { return !plainName(req.Get("name")) },
			code:   CodeIllegalParam,
			msg:    "illegal param: name",
		},
		check{
			failed: func() bool {
				var ok bool
				src, dst, ok = d.renamePaths(req.Get("href"), req.Get("name"))
				return !ok
			},
			code: CodeRenameNotManaged,
			msg:  "rename target no managed folder or ignored",
		},
		check{
			failed: func() bool {
				if err := os.Rename(src, dst); err != nil {
					logging.WithContext(ctx).Info("rename failed", zap.Error(err))
					return true
				}
				return false
			},
			code: CodeRenameFailed,
			msg:  "renaming failed",
		},
	); res != nil {
		return res
	}
	return ok(nil)
}

func (d *Dispatcher) renamePaths(href, newName string) (src, dst string, ok bool) {
	rel, err := d.guard.RelFromHref(href)
	if err != nil {
		return "", "", false
	}
	parent, name := fsutil.SplitRel(rel)
	if name == "" || !d.guard.IsManagedRel(parent) || d.guard.IsHidden(name) || d.guard.IsHidden(newName) {
		return "", "", false
	}
	if src, err = d.guard.ResolveRel(rel); err != nil {
		return "", "", false
	}
	if dst, err = d.guard.ResolveRel(fsutil.JoinRel(parent, newName)); err != nil {
		return "", "", false
	}
	return src, dst, true
}
