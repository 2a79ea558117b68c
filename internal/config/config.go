package config

import "time"

// Config is intentionally small and YAML-friendly.
// If PassHash is empty, nobody can log in as admin.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `mapstructure:"listen" yaml:"listen" validate:"required"`

	// Root is the directory served by fileshelf (the managed root).
	Root string `mapstructure:"root" yaml:"root" validate:"required"`

	// RootHref is the URL prefix under which Root is exposed. Always starts
	// and ends with "/".
	RootHref string `mapstructure:"root_href" yaml:"root_href" validate:"required,startswith=/,endswith=/"`

	// StateDir stores upload staging files and the thumbnail cache.
	// Default: <root>/.fileshelf (always hidden from clients).
	StateDir string `mapstructure:"state_dir" yaml:"state_dir"`

	// MaxConnections caps concurrently accepted connections. 0 = unlimited.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections" validate:"gte=0"`

	// FollowSymlinks allows traversing symlinks which resolve to a path still
	// inside the root. Symlinks leaving the root are never followed.
	FollowSymlinks bool `mapstructure:"follow_symlinks" yaml:"follow_symlinks"`

	// Hidden lists name rules. A rule is a path.Match glob against a single
	// path segment, or a regular expression when prefixed with "re:".
	Hidden []string `mapstructure:"hidden" yaml:"hidden"`

	// IndexFiles marks folders as unmanaged (served as pages) when present.
	IndexFiles []string `mapstructure:"index_files" yaml:"index_files"`

	// PassHash is the admin credential: SHA-512 hex digest or bcrypt hash.
	PassHash string `mapstructure:"pass_hash" yaml:"pass_hash"`

	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Features FeaturesConfig `mapstructure:"features" yaml:"features"`

	// Types maps a file type name to globs, passed through to clients.
	Types map[string][]string `mapstructure:"types" yaml:"types"`

	// Theme maps a file type name to an icon URL, passed through to clients.
	Theme map[string]string `mapstructure:"theme" yaml:"theme"`
}

type SessionConfig struct {
	// Secret signs session cookies. Empty = random per process.
	Secret string        `mapstructure:"secret" yaml:"secret"`
	TTL    time.Duration `mapstructure:"ttl" yaml:"ttl" validate:"gt=0"`
	Secure bool          `mapstructure:"secure" yaml:"secure"`
}

type LoggingConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	// Format: json, console
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=json console"`
	// Output: stdout, stderr or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// FeaturesConfig holds the per-action switches the dispatcher consults.
type FeaturesConfig struct {
	Download   DownloadConfig  `mapstructure:"download" yaml:"download"`
	Delete     MutationConfig  `mapstructure:"delete" yaml:"delete"`
	Rename     MutationConfig  `mapstructure:"rename" yaml:"rename"`
	Upload     MutationConfig  `mapstructure:"upload" yaml:"upload"`
	Search     SearchConfig    `mapstructure:"search" yaml:"search"`
	Thumbnails ThumbnailConfig `mapstructure:"thumbnails" yaml:"thumbnails"`
	Custom     Toggle          `mapstructure:"custom" yaml:"custom"`
	L10n       L10nConfig      `mapstructure:"l10n" yaml:"l10n"`
}

type Toggle struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
}

type DownloadConfig struct {
	Enabled   bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	AdminOnly bool `mapstructure:"admin_only" yaml:"admin_only" json:"adminOnly"`
	// Type is the archive format offered to clients by default.
	Type string `mapstructure:"type" yaml:"type" json:"type" validate:"oneof=zip tar tar.gz tgz tar.zst shell-zip php-tar shell-tar"`
}

// MutationConfig gates a filesystem-mutating action.
type MutationConfig struct {
	Enabled   bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	AdminOnly bool `mapstructure:"admin_only" yaml:"admin_only" json:"adminOnly"`
}

type SearchConfig struct {
	Enabled  bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	MaxHits  int  `mapstructure:"max_hits" yaml:"max_hits" json:"-" validate:"gt=0"`
	MaxFiles int  `mapstructure:"max_files" yaml:"max_files" json:"-" validate:"gt=0"`
}

type ThumbnailConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	// Size is the default bounding box edge in pixels.
	Size int `mapstructure:"size" yaml:"size" json:"size" validate:"gt=0,lte=2048"`
}

type L10nConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	// Dir holds <iso>.json translation documents.
	Dir string `mapstructure:"dir" yaml:"dir" json:"-"`
	// Langs maps iso codes to display names.
	Langs map[string]string `mapstructure:"langs" yaml:"langs" json:"-"`
}
