package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/net/netutil"

	"fileshelf/internal/auth"
	"fileshelf/internal/config"
	"fileshelf/internal/httpserver"
	"fileshelf/internal/logging"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "passwd":
			passwdCmd(os.Args[2:])
			return
		case "init":
			initCmd(os.Args[2:])
			return
		}
	}

	var (
		cfgPath = flag.String("config", "", "path to config yaml (default: ./fileshelf.yaml if present)")
		addr    = flag.String("addr", "", "listen address (overrides config)")
		root    = flag.String("root", "", "managed root (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Listen = *addr
	}
	if *root != "" {
		cfg.Root = *root
	}
	if err := config.Finalize(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logging.Sync() }()
	log := logging.L()

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		log.Fatal("mkdir state", zap.Error(err))
	}
	if cfg.PassHash == "" {
		log.Warn("pass_hash is empty, admin login is disabled")
	}

	srv, err := httpserver.New(httpserver.Options{
		Config:  *cfg,
		Version: version,
	})
	if err != nil {
		log.Fatal("server init", zap.Error(err))
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		log.Fatal("listen", zap.Error(err))
	}
	if cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}

	hs := &http.Server{
		Handler:           withHeaders(srv.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	idle := make(chan struct{})
	go func() {
		defer close(idle)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown", zap.Error(err))
		}
	}()

	log.Info("fileshelf listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("root", cfg.Root),
		zap.String("root_href", cfg.RootHref),
		zap.String("version", version),
	)
	if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("serve", zap.Error(err))
	}
	<-idle
}

func passwdCmd(args []string) {
	fs := flag.NewFlagSet("passwd", flag.ExitOnError)
	var (
		password  = fs.String("p", "", "password (required)")
		useBcrypt = fs.Bool("bcrypt", false, "emit a bcrypt hash instead of a SHA-512 digest")
		cost      = fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	)
	_ = fs.Parse(args)
	if *password == "" {
		fmt.Fprintln(os.Stderr, "usage: fileshelf passwd -p <password> [-bcrypt [-cost N]]")
		os.Exit(2)
	}
	if !*useBcrypt {
		fmt.Println(auth.HashPassword(*password))
		return
	}
	if *cost < bcrypt.MinCost || *cost > bcrypt.MaxCost {
		fmt.Fprintf(os.Stderr, "invalid cost %d (min=%d max=%d)\n", *cost, bcrypt.MinCost, bcrypt.MaxCost)
		os.Exit(2)
	}
	h, err := auth.HashPasswordBcrypt(*password, *cost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bcrypt: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(h)
}

func initCmd(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	out := fs.String("o", "fileshelf.yaml", "output path")
	_ = fs.Parse(args)
	if err := config.WriteDefault(*out); err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("wrote", *out)
}

func withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Basic hardening.
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")

		if strings.HasPrefix(r.URL.Path, "/thumbs/") {
			w.Header().Set("Cache-Control", "public, max-age=3600")
		} else {
			w.Header().Set("Cache-Control", "no-store")
		}
		next.ServeHTTP(w, r)
	})
}
