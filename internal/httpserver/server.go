package httpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"fileshelf/internal/api"
	"fileshelf/internal/archive"
	"fileshelf/internal/auth"
	"fileshelf/internal/config"
	"fileshelf/internal/fsutil"
	"fileshelf/internal/items"
	"fileshelf/internal/logging"
	"fileshelf/internal/metrics"
	"fileshelf/internal/thumbs"
)

// multipart bodies above this are spooled to temp files by net/http
const maxUploadMemory = 32 << 20

type Options struct {
	Config  config.Config
	Version string
}

type Server struct {
	cfg     config.Config
	guard   *fsutil.Guard
	thumbs  *thumbs.Cache
	cookies *auth.Cookies
	api     *api.Dispatcher
}

func New(opts Options) (*Server, error) {
	cfg := opts.Config
	g, err := fsutil.NewGuard(fsutil.GuardOptions{
		Root:           cfg.Root,
		RootHref:       cfg.RootHref,
		Hidden:         cfg.Hidden,
		IndexFiles:     cfg.IndexFiles,
		StateDir:       cfg.StateDir,
		FollowSymlinks: cfg.FollowSymlinks,
	})
	if err != nil {
		return nil, err
	}
	cookies, err := auth.NewCookies(cfg.Session.Secret, cfg.Session.TTL, cfg.Session.Secure)
	if err != nil {
		return nil, err
	}

	var tc *thumbs.Cache
	if cfg.Features.Thumbnails.Enabled {
		if tc, err = thumbs.New(g, cfg.StateDir); err != nil {
			logging.L().Warn("thumbnail cache unavailable", zap.Error(err))
			tc = nil
		}
	}

	staging := filepath.Join(cfg.StateDir, "uploads")
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir staging: %w", err)
	}

	return &Server{
		cfg:     cfg,
		guard:   g,
		thumbs:  tc,
		cookies: cookies,
		api: api.New(api.Options{
			Config:     cfg,
			Guard:      g,
			Items:      items.NewReader(g),
			Streamer:   archive.NewStreamer(g),
			Thumbs:     tc,
			StagingDir: staging,
			Version:    opts.Version,
		}),
	}, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// health
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/api", s.handleAPI)

	// file serving with Range
	mux.HandleFunc("/f/", s.handleFile)

	// thumbnails
	mux.HandleFunc("/thumbs/", s.handleThumb)

	var h http.Handler = mux
	h = s.cookies.Middleware(h)
	h = metrics.Middleware(h)
	h = logging.Middleware(h)
	return h
}

// --- handlers ---

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	req := api.ParseRequest(r, maxUploadMemory)
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	res := s.api.Dispatch(ctx, req)
	if res.Session != nil {
		if err := s.cookies.Save(w, *res.Session); err != nil {
			logging.WithContext(ctx).Error("session cookie", zap.Error(err))
		}
	}
	if res.Stream == nil {
		writeJSON(w, res)
		return
	}

	st := res.Stream
	w.Header().Set("Content-Type", st.ContentType)
	w.Header().Set("Content-Disposition", contentDisposition(st.Filename))
	w.Header().Set("Connection", "close")

	// archives can take arbitrarily long to stream
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		logging.WithContext(ctx).Debug("write deadline not cleared", zap.Error(err))
	}
	w.WriteHeader(http.StatusOK)
	// headers are gone; a failure can only truncate the body
	_ = st.Write(ctx, w)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rel := fsutil.CleanRelPath(strings.TrimPrefix(r.URL.Path, "/f/"))
	abs, err := s.guard.ResolveRel(rel)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	st, err := os.Stat(abs)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if st.IsDir() {
		http.Error(w, "is a directory", http.StatusBadRequest)
		return
	}

	f, err := os.Open(abs)
	if err != nil {
		http.Error(w, "open failed", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	ct := contentTypeForName(st.Name())
	if ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if r.URL.Query().Get("dl") == "1" {
		w.Header().Set("Content-Disposition", contentDisposition(st.Name()))
	}
	http.ServeContent(w, r, st.Name(), st.ModTime(), f)
}

func (s *Server) handleThumb(w http.ResponseWriter, r *http.Request) {
	if s.thumbs == nil {
		http.NotFound(w, r)
		return
	}
	p, ok := s.thumbs.Path(strings.TrimPrefix(r.URL.Path, "/thumbs/"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	b, err := os.ReadFile(p)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(b)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func contentDisposition(name string) string {
	ascii := strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, name)
	return fmt.Sprintf("attachment; filename=%q; filename*=UTF-8''%s", ascii, url.PathEscape(name))
}

func contentTypeForName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return ""
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	// Fallbacks for systems with sparse mime tables.
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".pdf":
		return "application/pdf"
	case ".txt", ".log", ".md", ".json", ".yaml", ".yml", ".toml", ".ini", ".go", ".sh", ".css", ".html":
		return "text/plain; charset=utf-8"
	case ".zip":
		return "application/zip"
	case ".tar":
		return "application/x-tar"
	case ".gz":
		return "application/gzip"
	case ".zst":
		return "application/zstd"
	default:
		return ""
	}
}
