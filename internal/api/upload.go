package api

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"fileshelf/internal/fsutil"
	"fileshelf/internal/logging"
	"fileshelf/internal/metrics"
)

// folderMarker is what browsers send as the body of a dropped folder.
var folderMarker = []byte("null")

// upload stores the posted file in the folder href. It never overwrites an
// existing entry.
func (d *Dispatcher) upload(ctx context.Context, req *Request) *Result {
	opts := d.cfg.Features.Upload
	log := logging.WithContext(ctx)

	var (
		staged string
		size   int64
		dest   string
	)
	defer func() {
		if staged != "" {
			_ = os.Remove(staged)
		}
	}()

	if res := firstFailure(
		when(!opts.Enabled, CodeDisabled, "upload disabled"),
		requireAdmin(opts.AdminOnly, req),
		missing(req, "href"),
		when(!strings.EqualFold(req.Method, http.MethodPost), CodeUploadMethod, "wrong HTTP method"),
		when(req.File == nil && req.FileErr == nil, CodeUploadNoFile, "something went wrong"),
		check{
			failed: func() bool {
				if req.FileErr != nil {
					log.Info("upload transport failed", zap.Error(req.FileErr))
					return true
				}
				var err error
				staged, size, err = d.stage(req.File)
				if err != nil {
					log.Warn("upload staging failed", zap.Error(err))
					return true
				}
				return false
			},
			code: CodeUploadTransport,
			msg:  "something went wrong",
		},
		check{
			failed: func() bool { return isFolderMarker(staged, size) },
			code:   CodeUploadFolder,
			msg:    "folders not supported",
		},
		check{
			failed: func() bool {
				var ok bool
				dest, ok = d.uploadTarget(req.Get("href"), req.File.Filename)
				return !ok
			},
			code: CodeUploadNotManaged,
			msg:  "upload dir no managed folder or ignored",
		},
		check{
			failed: func() bool {
				_, err := os.Lstat(dest)
				return err == nil
			},
			code: CodeUploadExists,
			msg:  "already exists",
		},
		check{
			failed: func() bool {
				if err := fsutil.MoveNoReplace(staged, dest); err != nil {
					log.Warn("upload move failed", zap.String("dest", dest), zap.Error(err))
					return true
				}
				staged = ""
				return false
			},
			code: CodeUploadMove,
			msg:  "can't move uploaded file",
		},
	); res != nil {
		return res
	}

	metrics.RecordUpload(size)
	return ok(nil)
}

// stage copies the uploaded part into the staging dir so it can be linked
// into place without ever opening the destination for writing.
func (d *Dispatcher) stage(fh *multipart.FileHeader) (string, int64, error) {
	src, err := fh.Open()
	if err != nil {
		return "", 0, err
	}
	defer src.Close()

	if err := os.MkdirAll(d.stagingDir, 0o755); err != nil {
		return "", 0, err
	}
	tmp, err := os.CreateTemp(d.stagingDir, "upload-*.part")
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", 0, err
	}
	return tmp.Name(), n, nil
}

func isFolderMarker(staged string, size int64) bool {
	if size != int64(len(folderMarker)) {
		return false
	}
	b, err := os.ReadFile(staged)
	return err == nil && bytes.Equal(b, folderMarker)
}

// uploadTarget resolves the destination file for an upload into dirHref.
func (d *Dispatcher) uploadTarget(dirHref, rawName string) (string, bool) {
	rel, err := d.guard.RelFromHref(dirHref)
	if err != nil || !d.guard.IsManagedRel(rel) {
		return "", false
	}
	name := rawName
	if dec, err := url.QueryUnescape(rawName); err == nil {
		name = dec
	}
	if !plainName(name) || d.guard.IsHidden(name) {
		return "", false
	}
	abs, err := d.guard.ResolveRel(fsutil.JoinRel(rel, name))
	if err != nil {
		return "", false
	}
	return abs, true
}

// plainName reports whether name is a single path segment.
func plainName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return false
	}
	return filepath.Base(name) == name
}
