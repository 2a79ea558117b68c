// Package api implements the action endpoint: a fixed set of named actions,
// each validated by its own fail-fast precondition chain before it touches
// the managed tree.
package api

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fileshelf/internal/archive"
	"fileshelf/internal/config"
	"fileshelf/internal/fsutil"
	"fileshelf/internal/items"
	"fileshelf/internal/logging"
	"fileshelf/internal/metrics"
	"fileshelf/internal/thumbs"
)

// Action names a supported action.
type Action string

const (
	ActionDownload Action = "download"
	ActionGet      Action = "get"
	ActionLogin    Action = "login"
	ActionLogout   Action = "logout"
	ActionDelete   Action = "delete"
	ActionUpload   Action = "upload"
	ActionRename   Action = "rename"
)

type handlerFunc func(ctx context.Context, req *Request) *Result

type Options struct {
	Config     config.Config
	Guard      *fsutil.Guard
	Items      *items.Reader
	Streamer   *archive.Streamer
	Thumbs     *thumbs.Cache // nil disables thumbnail rendering
	StagingDir string        // upload staging, on the same fs as Root ideally
	Version    string
}

// Dispatcher routes action requests to their handlers.
type Dispatcher struct {
	cfg        config.Config
	guard      *fsutil.Guard
	items      *items.Reader
	streamer   *archive.Streamer
	thumbs     *thumbs.Cache
	stagingDir string
	version    string

	handlers map[Action]handlerFunc
}

func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		cfg:        opts.Config,
		guard:      opts.Guard,
		items:      opts.Items,
		streamer:   opts.Streamer,
		thumbs:     opts.Thumbs,
		stagingDir: opts.StagingDir,
		version:    opts.Version,
	}
	d.handlers = map[Action]handlerFunc{
		ActionDownload: d.download,
		ActionGet:      d.get,
		ActionLogin:    d.login,
		ActionLogout:   d.logout,
		ActionDelete:   d.delete,
		ActionUpload:   d.upload,
		ActionRename:   d.rename,
	}
	return d
}

// Dispatch runs the handler for req.Action exactly once. Unknown actions are
// rejected before any handler logic runs.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) *Result {
	h, ok := d.handlers[Action(req.Action)]
	if !ok {
		metrics.RecordAction("unsupported", CodeUnsupported, 0)
		return fail(CodeUnsupported, "unsupported action")
	}
	start := time.Now()
	res := h(ctx, req)
	metrics.RecordAction(req.Action, res.Code, time.Since(start))
	if !res.OK() {
		logging.WithContext(ctx).Info("action failed",
			zap.String("action", req.Action),
			zap.Int("code", res.Code),
			zap.String("msg", res.Msg),
		)
	}
	return res
}

// requireAdmin is the authorization step shared by gated actions.
func requireAdmin(adminOnly bool, req *Request) check {
	return when(adminOnly && !req.Session.Admin, CodeAdminRequired, "admin required")
}
