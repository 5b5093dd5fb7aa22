// Package config loads homeapi configuration.
//
// Settings come from, in increasing precedence: built-in defaults, a JSON
// or YAML file (chosen by extension), and HOMEAPI_* environment variables.
// A .env file in the working directory, if present, is loaded into the
// environment first.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Host string `json:"host" yaml:"host"`
		Port int    `json:"port" yaml:"port"`
	} `json:"server" yaml:"server"`

	Database struct {
		// URL is a PostgreSQL connection string.
		URL string `json:"url" yaml:"url"`
	} `json:"database" yaml:"database"`

	Notes NotesConfig `json:"notes" yaml:"notes"`
	Meme  MemeConfig  `json:"meme" yaml:"meme"`
	Redis RedisConfig `json:"redis" yaml:"redis"`

	Environment string `json:"environment" yaml:"environment"` // development, production
	LogLevel    string `json:"log_level" yaml:"log_level"`     // debug, info, warn, error
}

type NotesConfig struct {
	Path        string   `json:"path" yaml:"path"`
	LockPath    string   `json:"lock_path" yaml:"lock_path"`
	LockTimeout Duration `json:"lock_timeout" yaml:"lock_timeout"`

	// WorkTree and GitDir locate the snapshot repository. WorkTree
	// defaults to the document's directory, GitDir to WorkTree/.git.
	WorkTree      string `json:"work_tree" yaml:"work_tree"`
	GitDir        string `json:"git_dir" yaml:"git_dir"`
	AuthorName    string `json:"author_name" yaml:"author_name"`
	AuthorEmail   string `json:"author_email" yaml:"author_email"`
	CommitMessage string `json:"commit_message" yaml:"commit_message"`

	// JournalPath is the revision journal directory. Empty disables it.
	JournalPath string `json:"journal_path" yaml:"journal_path"`
}

type MemeConfig struct {
	Dir         string `json:"dir" yaml:"dir"`
	KindleFile  string `json:"kindle_file" yaml:"kindle_file"`
	RawFile     string `json:"raw_file" yaml:"raw_file"`
	WebFile     string `json:"web_file" yaml:"web_file"`
	IDFile      string `json:"id_file" yaml:"id_file"`
	BatteryFile string `json:"battery_file" yaml:"battery_file"`
	ArchiveDir  string `json:"archive_dir" yaml:"archive_dir"`
	Convert     string `json:"convert" yaml:"convert"`
}

type RedisConfig struct {
	// Addr enables change notifications over Redis when set.
	Addr    string `json:"addr" yaml:"addr"`
	Channel string `json:"channel" yaml:"channel"`
}

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	return d.set(s)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.set(node.Value)
}

func (d *Duration) set(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{
		Environment: "development",
		LogLevel:    "info",
	}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 8080
	cfg.Notes.Path = "notes/notes.txt"
	cfg.Notes.LockTimeout = Duration(30 * time.Second)
	cfg.Meme.Dir = "meme_board"
	cfg.Meme.Convert = "convert"
	cfg.Redis.Channel = "homeapi:notes"
	return cfg
}

// Load reads path on top of the defaults and applies environment
// overrides. An empty path uses HOMEAPI_CONFIG when set, and the defaults
// otherwise.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	if path == "" {
		path = os.Getenv("HOMEAPI_CONFIG")
	}

	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.fillDerived()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"HOMEAPI_HOST":               &c.Server.Host,
		"HOMEAPI_DATABASE_URL":       &c.Database.URL,
		"HOMEAPI_NOTES_PATH":         &c.Notes.Path,
		"HOMEAPI_NOTES_LOCK_PATH":    &c.Notes.LockPath,
		"HOMEAPI_NOTES_WORK_TREE":    &c.Notes.WorkTree,
		"HOMEAPI_NOTES_GIT_DIR":      &c.Notes.GitDir,
		"HOMEAPI_NOTES_JOURNAL_PATH": &c.Notes.JournalPath,
		"HOMEAPI_MEME_DIR":           &c.Meme.Dir,
		"HOMEAPI_REDIS_ADDR":         &c.Redis.Addr,
		"HOMEAPI_REDIS_CHANNEL":      &c.Redis.Channel,
		"HOMEAPI_ENV":                &c.Environment,
		"HOMEAPI_LOG_LEVEL":          &c.LogLevel,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv("HOMEAPI_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HOMEAPI_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := os.LookupEnv("HOMEAPI_NOTES_LOCK_TIMEOUT"); ok {
		if err := c.Notes.LockTimeout.set(v); err != nil {
			return fmt.Errorf("HOMEAPI_NOTES_LOCK_TIMEOUT: %w", err)
		}
	}
	return nil
}

// fillDerived resolves paths left empty relative to the ones that are set.
// Notes paths are made absolute against the working directory so that git
// pathspecs and the lock file do not depend on where the process runs.
func (c *Config) fillDerived() {
	n := &c.Notes
	for _, p := range []*string{&n.Path, &n.LockPath, &n.WorkTree, &n.GitDir, &n.JournalPath} {
		*p = absPath(*p)
	}

	if c.Notes.LockPath == "" {
		c.Notes.LockPath = c.Notes.Path + ".lock"
	}
	if c.Notes.WorkTree == "" {
		c.Notes.WorkTree = filepath.Dir(c.Notes.Path)
	}

	m := &c.Meme
	for _, f := range []struct {
		dst  *string
		name string
	}{
		{&m.KindleFile, "meme.png"},
		{&m.RawFile, "meme_raw.png"},
		{&m.WebFile, "meme_compressed.png"},
		{&m.IDFile, "meme_id"},
		{&m.BatteryFile, "battery_percent"},
		{&m.ArchiveDir, "archive"},
	} {
		if *f.dst == "" {
			*f.dst = filepath.Join(m.Dir, f.name)
		}
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Notes.Path == "" {
		errs = append(errs, errors.New("notes.path is required"))
	}
	if c.Notes.LockTimeout < 0 {
		errs = append(errs, errors.New("notes.lock_timeout must not be negative"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q must be one of debug, info, warn, error", c.LogLevel))
	}
	return errors.Join(errs...)
}

// absPath returns p made absolute. Empty paths stay empty; p is returned
// unchanged when the working directory cannot be determined.
func absPath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
