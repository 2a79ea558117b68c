package api

import (
	"context"
	"io"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"fileshelf/internal/archive"
	"fileshelf/internal/logging"
	"fileshelf/internal/metrics"
)

func (d *Dispatcher) download(ctx context.Context, req *Request) *Result {
	opts := d.cfg.Features.Download

	var (
		format archive.Format
		plan   *archive.Plan
	)
	if res := firstFailure(
		when(!opts.Enabled, CodeDisabled, "download disabled"),
		requireAdmin(opts.AdminOnly, req),
		missing(req, "hrefs"),
		check{
			failed: func() bool {
				typ := req.Get("type")
				if typ == "" {
					typ = opts.Type
				}
				var err error
				format, err = archive.ParseFormat(typ)
				return err != nil
			},
			code: CodeDownloadFailed,
			msg:  "unsupported archive type",
		},
		check{
			failed: func() bool {
				var err error
				plan, err = d.streamer.Plan(req.Get("baseHref"), req.List("hrefs"))
				return err != nil
			},
			code: CodeDownloadFailed,
			msg:  "packaging failed",
		},
	); res != nil {
		return res
	}

	name := sanitizeDownloadName(req.Get("as"), format)
	return &Result{
		Stream: &Stream{
			Filename:    name,
			ContentType: "application/octet-stream",
			Write: func(ctx context.Context, w io.Writer) error {
				stats, err := d.streamer.Write(ctx, w, format, plan)
				metrics.RecordArchive(stats.Entries, stats.Bytes, err != nil)
				log := logging.WithContext(ctx).With(
					zap.String("archive", name),
					zap.Int("entries", stats.Entries),
					zap.Int64("bytes", stats.Bytes),
					zap.Int("skipped", plan.Skipped),
				)
				if err != nil {
					log.Warn("archive stream aborted", zap.Error(err))
					return err
				}
				log.Info("archive streamed")
				return nil
			},
		},
	}
}

// maxDownloadName bounds the attachment name in bytes, before the extension.
const maxDownloadName = 120

// sanitizeDownloadName makes a safe attachment file name ending in the
// format's extension.
func sanitizeDownloadName(s string, f archive.Format) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, f.Ext())
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '-'
		case r == '"' || r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, s)
	s = strings.Trim(s, ". ")
	if s == "" {
		s = "download"
	}
	if len(s) > maxDownloadName {
		n := maxDownloadName
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n]
	}
	return s + f.Ext()
}
