package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/roessland/wattwich/calendar"
	"github.com/roessland/wattwich/vault"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath       = "~/.wattwich/wattwich.yaml"
	DefaultArchiveDir = "~/.wattwich/archive"
)

// ErrCorruptConfig means a configuration file exists but could not be parsed.
// The operator must fix or remove it; it is never silently replaced by defaults.
var ErrCorruptConfig = errors.New("corrupt configuration file")

// Config is the persisted configuration record.
type Config struct {
	Username string `yaml:"username,omitempty"`
	// Password holds the vault-encoded secret, never the clear text.
	Password        string         `yaml:"password,omitempty"`
	ArchiveDir      string         `yaml:"archive_dir"`
	StartDate       calendar.Date  `yaml:"start_date,omitempty"`
	PortalURL       string         `yaml:"portal_url,omitempty"`
	Transport       string         `yaml:"transport,omitempty"`
	TransportConfig map[string]any `yaml:"transport_config,omitempty"`

	// Extra keeps keys written by other versions so Save does not drop them.
	Extra map[string]any `yaml:",inline"`

	// rawArchiveDir is ArchiveDir as written in the file, before ~ expansion.
	rawArchiveDir string
}

// Fields are values supplied by a human (or the environment) to fill in an
// incomplete configuration. Empty fields are left untouched.
type Fields struct {
	Username string
	// Password is clear text; it is encoded before it is stored.
	Password   string
	ArchiveDir string
	StartDate  calendar.Date
}

// Empty reports whether no field is set.
func (f Fields) Empty() bool {
	return f == Fields{}
}

// Defaults returns the configuration used when nothing is persisted yet.
func Defaults(now time.Time) Config {
	return Config{
		ArchiveDir: DefaultArchiveDir,
		StartDate:  calendar.Today(now).AddDays(-1),
	}
}

// IsComplete reports whether the configuration carries a username and a
// password that decodes to a non-empty secret.
func IsComplete(cfg Config) bool {
	_, _, ok := cfg.Credentials()
	return ok
}

// HasPassword reports whether the stored password decodes to a non-empty secret.
func (c Config) HasPassword() bool {
	password, ok := vault.Reveal(c.Password)
	return ok && password != ""
}

// Credentials returns the username and decoded password.
func (c Config) Credentials() (username, password string, ok bool) {
	password, ok = vault.Reveal(c.Password)
	if !ok || password == "" || c.Username == "" {
		return "", "", false
	}
	return c.Username, password, true
}

// Store loads and saves the configuration record at a fixed path.
type Store struct {
	fs   afero.Fs
	path string
	now  func() time.Time
}

// NewStore creates a store for the file at path. A leading ~ is expanded.
func NewStore(fs afero.Fs, path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand config path: %w", err)
	}
	return &Store{fs: fs, path: expanded, now: time.Now}, nil
}

// Path returns the expanded location of the configuration file.
func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted configuration, or the defaults when the file
// does not exist yet.
func (s *Store) Load() (Config, error) {
	cfg := Defaults(s.now())

	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s.expand(cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", s.path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", ErrCorruptConfig, s.path, err)
	}
	if cfg.ArchiveDir == "" {
		cfg.ArchiveDir = DefaultArchiveDir
	}
	if cfg.StartDate.IsZero() {
		cfg.StartDate = Defaults(s.now()).StartDate
	}
	return s.expand(cfg)
}

func (s *Store) expand(cfg Config) (Config, error) {
	dir, err := homedir.Expand(cfg.ArchiveDir)
	if err != nil {
		return Config{}, fmt.Errorf("failed to expand archive dir: %w", err)
	}
	cfg.rawArchiveDir = cfg.ArchiveDir
	cfg.ArchiveDir = dir
	return cfg, nil
}

// stored returns cfg as it should be written: ArchiveDir keeps its unexpanded
// form unless it was changed after loading.
func (s *Store) stored(cfg Config) Config {
	if cfg.rawArchiveDir == "" || cfg.rawArchiveDir == cfg.ArchiveDir {
		return cfg
	}
	if dir, err := homedir.Expand(cfg.rawArchiveDir); err == nil && dir == cfg.ArchiveDir {
		cfg.ArchiveDir = cfg.rawArchiveDir
	}
	return cfg
}

// ApplyMissingFields returns a new configuration with the supplied fields
// merged in and persists it immediately. The clear-text password is encoded
// before it is stored.
func (s *Store) ApplyMissingFields(cfg Config, fields Fields) (Config, error) {
	next := cfg
	if fields.Username != "" {
		next.Username = fields.Username
	}
	if fields.Password != "" {
		next.Password = vault.Encode(fields.Password)
	}
	if fields.ArchiveDir != "" {
		next.ArchiveDir = fields.ArchiveDir
	}
	if !fields.StartDate.IsZero() {
		next.StartDate = fields.StartDate
	}

	next = s.stored(next)
	if err := s.Save(next); err != nil {
		return cfg, err
	}
	return s.expand(next)
}

// Save writes the configuration, replacing the previous file atomically:
// the record goes to a temporary sibling which is then renamed into place.
func (s *Store) Save(cfg Config) error {
	data, err := yaml.Marshal(s.stored(cfg))
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0600); err != nil {
		s.fs.Remove(tmp)
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		s.fs.Remove(tmp)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}
