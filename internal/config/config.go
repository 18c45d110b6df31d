package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/alexjbarnes/mdpreview/internal/auth"
	apperrors "github.com/alexjbarnes/mdpreview/internal/errors"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Watch backends accepted by WATCH_BACKEND.
const (
	BackendFSNotify = "fsnotify"
	BackendNotify   = "notify"
)

// Config holds all environment-based configuration for mdpreview.
// Command-line flags are applied on top by cmd/mdpreview.
type Config struct {
	// Directory to serve. Defaults to the working directory. Resolved to
	// an absolute, symlink-free path by SetRoot.
	Root string `env:"MDPREVIEW_ROOT"`

	// Listener settings. When Port is taken, the next PortAttempts-1 ports
	// are tried in order.
	Host         string `env:"MDPREVIEW_HOST" envDefault:"0.0.0.0"`
	Port         int    `env:"MDPREVIEW_PORT" envDefault:"13181"`
	PortAttempts int    `env:"MDPREVIEW_PORT_ATTEMPTS" envDefault:"10"`

	// TLS. With TLS enabled and no explicit cert/key, mkcert certificates
	// are used.
	TLS      bool   `env:"MDPREVIEW_TLS" envDefault:"false"`
	CertFile string `env:"MDPREVIEW_TLS_CERT"`
	KeyFile  string `env:"MDPREVIEW_TLS_KEY"`

	Open bool `env:"MDPREVIEW_OPEN" envDefault:"false"`

	SyntaxThemeLight string `env:"MDPREVIEW_SYNTAX_THEME_LIGHT" envDefault:"github"`
	SyntaxThemeDark  string `env:"MDPREVIEW_SYNTAX_THEME_DARK" envDefault:"monokai"`

	// Scope of tracked documents.
	Extension    string   `env:"MDPREVIEW_EXTENSION" envDefault:".md"`
	ExcludeDirs  []string `env:"MDPREVIEW_EXCLUDE_DIRS" envDefault:".git,node_modules" envSeparator:","`
	ExcludeGlobs []string `env:"MDPREVIEW_EXCLUDE_GLOBS" envSeparator:","`

	// Watch pipeline sizing.
	WatchBackend     string `env:"MDPREVIEW_WATCH_BACKEND" envDefault:"fsnotify"`
	EventQueueSize   int    `env:"MDPREVIEW_EVENT_QUEUE" envDefault:"256"`
	SubscriberBuffer int    `env:"MDPREVIEW_SUBSCRIBER_BUFFER" envDefault:"64"`
	ScanWorkers      int    `env:"MDPREVIEW_SCAN_WORKERS" envDefault:"0"`

	// Render cache database. Empty disables the cache.
	CachePath string `env:"MDPREVIEW_CACHE_PATH"`

	EnableMCP bool `env:"MDPREVIEW_ENABLE_MCP" envDefault:"false"`

	// Basic auth users, "user1:bcrypt_hash1,user2:bcrypt_hash2". Empty
	// disables authentication.
	AuthUsers string `env:"MDPREVIEW_AUTH_USERS"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing password hashes to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	root := cfg.Root
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determining working directory: %w", err)
		}

		root = wd
	}

	if err := cfg.SetRoot(root); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks field ranges and combinations. It is called by Load and
// again after command-line overrides are applied.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("MDPREVIEW_PORT must be between 1 and 65535, got %d", c.Port)
	}

	if c.PortAttempts < 1 {
		return fmt.Errorf("MDPREVIEW_PORT_ATTEMPTS must be at least 1, got %d", c.PortAttempts)
	}

	if (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("MDPREVIEW_TLS_CERT and MDPREVIEW_TLS_KEY must be set together")
	}

	if !strings.HasPrefix(c.Extension, ".") || len(c.Extension) < 2 {
		return fmt.Errorf("MDPREVIEW_EXTENSION must look like \".md\", got %q", c.Extension)
	}

	switch c.WatchBackend {
	case BackendFSNotify, BackendNotify:
	default:
		return fmt.Errorf("%w: %q (want %s or %s)", apperrors.ErrUnknownBackend, c.WatchBackend, BackendFSNotify, BackendNotify)
	}

	if c.EventQueueSize < 1 {
		return fmt.Errorf("MDPREVIEW_EVENT_QUEUE must be at least 1, got %d", c.EventQueueSize)
	}

	if c.SubscriberBuffer < 1 {
		return fmt.Errorf("MDPREVIEW_SUBSCRIBER_BUFFER must be at least 1, got %d", c.SubscriberBuffer)
	}

	if c.ScanWorkers < 0 {
		return fmt.Errorf("MDPREVIEW_SCAN_WORKERS must not be negative, got %d", c.ScanWorkers)
	}

	return nil
}

// SetRoot resolves dir to an absolute, symlink-free path and checks that
// it is an existing directory. The Path Classifier compares event paths
// against this value by prefix, so it must be canonical.
func (c *Config) SetRoot(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving root to absolute path: %w", err)
	}

	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", apperrors.ErrRootNotFound, abs)
		}

		return fmt.Errorf("resolving root symlinks: %w", err)
	}

	info, err := os.Stat(real)
	if err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrRootNotFound, real)
	}

	if !info.IsDir() {
		return fmt.Errorf("%w: %s", apperrors.ErrRootNotDirectory, real)
	}

	c.Root = real

	return nil
}

// Workers returns the Initial Scan parallelism.
func (c *Config) Workers() int {
	if c.ScanWorkers > 0 {
		return c.ScanWorkers
	}

	return runtime.NumCPU()
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ParseAuthUsers parses the MDPREVIEW_AUTH_USERS string into a
// UserCredentials map. Format: "user1:hash1,user2:hash2"
func (c *Config) ParseAuthUsers() (auth.UserCredentials, error) {
	users := make(auth.UserCredentials)
	if c.AuthUsers == "" {
		return users, nil
	}

	for _, pair := range strings.Split(c.AuthUsers, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		// bcrypt hashes use '$', never ':', so the first colon separates.
		idx := strings.Index(pair, ":")
		if idx < 0 {
			return nil, fmt.Errorf("invalid user entry (missing ':')")
		}

		username := pair[:idx]

		hash := pair[idx+1:]
		if username == "" || hash == "" {
			return nil, fmt.Errorf("empty username or hash in entry %d", len(users)+1)
		}

		if !strings.HasPrefix(hash, "$2") {
			return nil, fmt.Errorf("password for %q is not a bcrypt hash; use the hash-password command", username)
		}

		if _, dup := users[username]; dup {
			return nil, fmt.Errorf("duplicate username %q in MDPREVIEW_AUTH_USERS", username)
		}

		users[username] = hash
	}

	return users, nil
}
