package api

import (
	"context"

	"go.uber.org/zap"

	"fileshelf/internal/fsutil"
	"fileshelf/internal/logging"
)

// delete removes every selected href whose parent folder is managed and
// whose own name is not hidden. An empty selection is a no-op; a missing
// hrefs parameter is an error.
func (d *Dispatcher) delete(ctx context.Context, req *Request) *Result {
	opts := d.cfg.Features.Delete
	if res := firstFailure(
		when(!opts.Enabled, CodeDisabled, "deletion disabled"),
		requireAdmin(opts.AdminOnly, req),
		missing(req, "hrefs"),
	); res != nil {
		return res
	}

	log := logging.WithContext(ctx)
	failed := []string{}
	for _, href := range req.List("hrefs") {
		if err := d.deleteOne(href); err != nil {
			log.Info("delete refused", zap.String("href", href), zap.Error(err))
			failed = append(failed, href)
		}
	}
	if len(failed) > 0 {
		res := fail(CodeDeletePartial, "deletion failed for some")
		res.Data = map[string]any{"failed": failed}
		return res
	}
	return ok(nil)
}

func (d *Dispatcher) deleteOne(href string) error {
	rel, err := d.guard.RelFromHref(href)
	if err != nil {
		return err
	}
	parent, name := fsutil.SplitRel(rel)
	if name == "" || !d.guard.IsManagedRel(parent) || d.guard.IsHidden(name) {
		return fsutil.ErrNotManaged
	}
	abs, err := d.guard.ResolveRel(rel)
	if err != nil {
		return err
	}
	return fsutil.RemoveTree(abs)
}
