package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/cvsbridge/internal/config/loader"
	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/htmlindex"
	"gopkg.in/yaml.v3"
)

// Config is the complete cvsbridge configuration.
type Config struct {
	Client    ClientConfig    `yaml:"client"`
	Status    StatusConfig    `yaml:"status"`
	SCM       SCMConfig       `yaml:"scm"`
	Retry     RetryConfig     `yaml:"retry"`
	Watch     WatchConfig     `yaml:"watch"`
	Log       LogConfig       `yaml:"log"`
	Workspace WorkspaceConfig `yaml:"workspace"`

	// Source is the file the configuration was read from, if any.
	Source string `yaml:"-"`
}

// ClientConfig selects and drives the cvs executable.
type ClientConfig struct {
	// Path is the cvs executable. Empty means search PATH.
	Path string `yaml:"path"`
	// Encoding is the charset of client output, e.g. "latin1".
	Encoding string `yaml:"encoding"`
	// StatusArgs replaces the arguments of the status command.
	StatusArgs []string `yaml:"statusArgs,omitempty"`
	// Env adds KEY=VALUE variables to every client invocation, e.g.
	// CVS_RSH=ssh.
	Env []string `yaml:"env,omitempty"`
}

// StatusConfig bounds status refreshes.
type StatusConfig struct {
	// Limit is the maximum number of resources read per refresh.
	Limit int `yaml:"limit"`
}

// SCMConfig switches repository support.
type SCMConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
	// TrackTTL is how long a reported file keeps receiving change events
	// after it was last listed by the status command.
	TrackTTL time.Duration         `yaml:"trackTTL"`
	Paths    map[string]PathConfig `yaml:"paths,omitempty"`
}

// PathConfig overrides settings for one directory and everything below it.
type PathConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`
}

// RetryConfig controls retries of failed commands.
type RetryConfig struct {
	// LockContention retries commands that fail on a repository lock.
	LockContention bool `yaml:"lockContention"`
}

// WatchConfig controls file system watching.
type WatchConfig struct {
	Enabled bool     `yaml:"enabled"`
	Ignore  []string `yaml:"ignore,omitempty"`
	// IgnoreHidden skips names starting with a dot. It also hides
	// .cvsignore edits from the watcher.
	IgnoreHidden bool `yaml:"ignoreHidden"`
	// MaxWatches caps watched directories. Zero means unlimited.
	MaxWatches int `yaml:"maxWatches"`
	// BufferSize is the event queue length; events beyond it are dropped.
	BufferSize int `yaml:"bufferSize"`
}

// LogConfig controls logging.
type LogConfig struct {
	// Level is a zerolog level name.
	Level string `yaml:"level"`
	// Format is "auto", "console" or "json".
	Format string `yaml:"format"`
}

// WorkspaceConfig lists workspace roots.
type WorkspaceConfig struct {
	Roots []string `yaml:"roots,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Status: StatusConfig{Limit: 5000},
		SCM: SCMConfig{
			Enabled:  true,
			Debounce: 1100 * time.Millisecond,
			TrackTTL: 3 * time.Minute,
		},
		Watch: WatchConfig{Enabled: true, BufferSize: 256},
		Log:   LogConfig{Level: "info", Format: "auto"},
	}
}

// DefaultFileNames are searched, in order, when no file is given.
var DefaultFileNames = []string{"cvsbridge.toml", ".cvsbridge.toml", "cvsbridge.yaml", "cvsbridge.yml"}

// Options control Load.
type Options struct {
	// File is an explicit config file. It must exist.
	File string

	// SearchDirs are checked for DefaultFileNames when File is empty.
	SearchDirs []string

	// Env replaces the process environment when non-nil.
	Env []string

	// Overrides are dot-path settings applied last, e.g. "log.level".
	Overrides map[string]any

	// FS replaces the OS file system.
	FS loader.FileSystem
}

// DefaultSearchDirs returns the working directory and the user config
// directory.
func DefaultSearchDirs() []string {
	var dirs []string
	if wd, err := os.Getwd(); err == nil {
		dirs = append(dirs, wd)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(dir, "cvsbridge"))
	}
	return dirs
}

// Load builds a Config from defaults, a file, the environment and
// overrides.
func Load(opts Options) (*Config, error) {
	fsys := opts.FS
	if fsys == nil {
		fsys = loader.DefaultFS()
	}

	merged, err := toMap(Default())
	if err != nil {
		return nil, err
	}

	source, err := findFile(fsys, opts)
	if err != nil {
		return nil, err
	}
	if source != "" {
		fl, err := loader.ForPath(fsys, source)
		if err != nil {
			return nil, err
		}
		fileCfg, err := fl.LoadFrom(source)
		if err != nil {
			return nil, err
		}
		merged = loader.DeepMerge(merged, fileCfg)
	}

	var env *loader.EnvLoader
	if opts.Env != nil {
		env = loader.NewEnvLoaderFrom(loader.DefaultEnvPrefix, opts.Env)
	} else {
		env = loader.NewEnvLoader(loader.DefaultEnvPrefix)
	}
	envCfg, err := env.Load()
	if err != nil {
		return nil, err
	}
	merged = loader.DeepMerge(merged, envCfg)

	overrides := make(map[string]any)
	for path, v := range opts.Overrides {
		loader.SetPath(overrides, path, v)
	}
	merged = loader.DeepMerge(merged, overrides)

	normalizeLists(merged)

	cfg, err := fromMap(merged)
	if err != nil {
		return nil, err
	}
	cfg.Source = source

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findFile(fsys loader.FileSystem, opts Options) (string, error) {
	if opts.File != "" {
		if _, err := fsys.Stat(opts.File); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", fmt.Errorf("%w: %s", ErrFileNotFound, opts.File)
			}
			return "", err
		}
		return opts.File, nil
	}
	for _, dir := range opts.SearchDirs {
		for _, name := range DefaultFileNames {
			p := filepath.Join(dir, name)
			if info, err := fsys.Stat(p); err == nil && !info.IsDir() {
				return p, nil
			}
		}
	}
	return "", nil
}

// normalizeLists accepts list settings given as a single string, as they
// arrive from the environment.
func normalizeLists(m map[string]any) {
	commaList := func(s string) []string {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	splitters := map[string]func(string) []string{
		"client.statusArgs": strings.Fields,
		"client.env":        commaList,
		"watch.ignore":      commaList,
		"workspace.roots":   filepath.SplitList,
	}
	for path, split := range splitters {
		v, ok := loader.GetPath(m, path)
		if !ok {
			continue
		}
		if s, ok := v.(string); ok {
			loader.SetPath(m, path, split(s))
		}
	}
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return m, nil
}

func fromMap(m map[string]any) (*Config, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

// Validate checks settings that cannot be represented by their type.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return &ValidationError{Path: "log.level", Value: c.Log.Level, Message: "unknown level"}
	}
	switch c.Log.Format {
	case "", "auto", "console", "json":
	default:
		return &ValidationError{Path: "log.format", Value: c.Log.Format, Message: "want auto, console or json"}
	}
	if c.Status.Limit < 0 {
		return &ValidationError{Path: "status.limit", Value: c.Status.Limit, Message: "must not be negative"}
	}
	if c.Watch.MaxWatches < 0 {
		return &ValidationError{Path: "watch.maxWatches", Value: c.Watch.MaxWatches, Message: "must not be negative"}
	}
	if c.Watch.BufferSize < 1 {
		return &ValidationError{Path: "watch.bufferSize", Value: c.Watch.BufferSize, Message: "must be positive"}
	}
	if c.SCM.Debounce < 0 {
		return &ValidationError{Path: "scm.debounce", Value: c.SCM.Debounce, Message: "must not be negative"}
	}
	if c.SCM.TrackTTL < 0 {
		return &ValidationError{Path: "scm.trackTTL", Value: c.SCM.TrackTTL, Message: "must not be negative"}
	}
	if c.Client.Encoding != "" {
		if _, err := htmlindex.Get(c.Client.Encoding); err != nil {
			return &ValidationError{Path: "client.encoding", Value: c.Client.Encoding, Message: "unknown encoding"}
		}
	}
	for _, kv := range c.Client.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			return &ValidationError{Path: "client.env", Value: kv, Message: "want KEY=VALUE"}
		}
	}
	return nil
}

// Enabled reports whether repository support is on for path. The deepest
// scm.paths entry containing path decides; without one, scm.enabled does.
func (c *Config) Enabled(path string) bool {
	if !c.SCM.Enabled {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return true
	}

	enabled := true
	best := -1
	for dir, pc := range c.SCM.Paths {
		if pc.Enabled == nil {
			continue
		}
		d, err := filepath.Abs(dir)
		if err != nil || !within(d, abs) {
			continue
		}
		if len(d) > best {
			best = len(d)
			enabled = *pc.Enabled
		}
	}
	return enabled
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
