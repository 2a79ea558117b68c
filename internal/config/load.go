package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Default returns the configuration used when no file or env overrides it.
func Default() Config {
	return Config{
		Listen:     "0.0.0.0:3923",
		RootHref:   "/",
		Hidden:     []string{".*", "_fileshelf.*"},
		IndexFiles: []string{"index.html", "index.htm"},
		Session: SessionConfig{
			TTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Features: FeaturesConfig{
			Download:   DownloadConfig{Enabled: true, Type: "zip"},
			Delete:     MutationConfig{Enabled: false, AdminOnly: true},
			Rename:     MutationConfig{Enabled: false, AdminOnly: true},
			Upload:     MutationConfig{Enabled: false, AdminOnly: true},
			Search:     SearchConfig{Enabled: true, MaxHits: 500, MaxFiles: 200_000},
			Thumbnails: ThumbnailConfig{Enabled: true, Size: 256},
			Custom:     Toggle{Enabled: true},
			L10n:       L10nConfig{Enabled: false, Langs: map[string]string{"en": "english"}},
		},
	}
}

// Load reads configuration from file, environment and defaults.
//
// Precedence (highest first):
//  1. Environment variables (FILESHELF_*)
//  2. Configuration file (explicit path, or ./fileshelf.yaml if present)
//  3. Default()
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("FILESHELF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("fileshelf")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Finalize resolves derived values (absolute root, state dir) and validates.
// Call it after CLI overrides were applied.
func Finalize(cfg *Config) error {
	if strings.TrimSpace(cfg.Root) != "" {
		abs, err := filepath.Abs(cfg.Root)
		if err != nil {
			return fmt.Errorf("abs root: %w", err)
		}
		cfg.Root = abs
	}
	if cfg.StateDir == "" && cfg.Root != "" {
		cfg.StateDir = filepath.Join(cfg.Root, ".fileshelf")
	}
	if cfg.StateDir != "" {
		abs, err := filepath.Abs(cfg.StateDir)
		if err != nil {
			return fmt.Errorf("abs state dir: %w", err)
		}
		cfg.StateDir = abs
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	return Validate(cfg)
}

// WriteDefault writes Default() as YAML to path. It refuses to overwrite.
func WriteDefault(path string) error {
	cfg := Default()
	cfg.Root = "/srv/files"
	b, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// setDefaults registers every leaf key so env overrides work for keys that
// are absent from the config file.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("listen", d.Listen)
	v.SetDefault("root", d.Root)
	v.SetDefault("root_href", d.RootHref)
	v.SetDefault("state_dir", d.StateDir)
	v.SetDefault("max_connections", d.MaxConnections)
	v.SetDefault("follow_symlinks", d.FollowSymlinks)
	v.SetDefault("hidden", d.Hidden)
	v.SetDefault("index_files", d.IndexFiles)
	v.SetDefault("pass_hash", d.PassHash)

	v.SetDefault("session.secret", d.Session.Secret)
	v.SetDefault("session.ttl", d.Session.TTL)
	v.SetDefault("session.secure", d.Session.Secure)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)

	f := d.Features
	v.SetDefault("features.download.enabled", f.Download.Enabled)
	v.SetDefault("features.download.admin_only", f.Download.AdminOnly)
	v.SetDefault("features.download.type", f.Download.Type)
	for name, m := range map[string]MutationConfig{"delete": f.Delete, "rename": f.Rename, "upload": f.Upload} {
		v.SetDefault("features."+name+".enabled", m.Enabled)
		v.SetDefault("features."+name+".admin_only", m.AdminOnly)
	}
	v.SetDefault("features.search.enabled", f.Search.Enabled)
	v.SetDefault("features.search.max_hits", f.Search.MaxHits)
	v.SetDefault("features.search.max_files", f.Search.MaxFiles)
	v.SetDefault("features.thumbnails.enabled", f.Thumbnails.Enabled)
	v.SetDefault("features.thumbnails.size", f.Thumbnails.Size)
	v.SetDefault("features.custom.enabled", f.Custom.Enabled)
	v.SetDefault("features.l10n.enabled", f.L10n.Enabled)
	v.SetDefault("features.l10n.dir", f.L10n.Dir)
	v.SetDefault("features.l10n.langs", f.L10n.Langs)
}
