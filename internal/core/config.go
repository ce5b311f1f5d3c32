package core

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/3cpo-dev/assetflow/internal/pipeline"
)

// ConfigNames are looked up, in order, in the working directory when no
// config path is given.
var ConfigNames = []string{"assetflow.yaml", "assetflow.yml", "assetflow.toml"}

// Patterns is a list of globs. In YAML a single string is accepted as well.
type Patterns []string

func (p *Patterns) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*p = Patterns{s}
		return nil
	}
	var list []string
	if err := node.Decode(&list); err != nil {
		return err
	}
	*p = list
	return nil
}

// AssetConfig locates the sources and output of one asset class.
type AssetConfig struct {
	Src Patterns `yaml:"src" toml:"src"`
	Out string   `yaml:"out" toml:"out"`
}

type ImagesConfig struct {
	Src    Patterns              `yaml:"src" toml:"src"`
	Out    string                `yaml:"out" toml:"out"`
	Srcset []pipeline.SrcsetRule `yaml:"srcset" toml:"srcset"`
}

type ScriptConfig struct {
	Src   Patterns `yaml:"src" toml:"src"`
	Entry Patterns `yaml:"entry" toml:"entry"`
	Out   string   `yaml:"out" toml:"out"`
}

type ServerConfig struct {
	Root       string `yaml:"root" toml:"root"`
	Host       string `yaml:"host" toml:"host"`
	Port       int    `yaml:"port" toml:"port"`
	LiveReload bool   `yaml:"livereload" toml:"livereload"`
}

type WatchConfig struct {
	Debounce string `yaml:"debounce" toml:"debounce"`
}

type ToolsConfig struct {
	Sass        string `yaml:"sass" toml:"sass"`
	Cwebp       string `yaml:"cwebp" toml:"cwebp"`
	WebpQuality int    `yaml:"webp_quality" toml:"webp_quality"`
}

type NotifyConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Title   string `yaml:"title" toml:"title"`
}

type LogConfig struct {
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
}

// Config is the project configuration. Paths are relative to Root.
type Config struct {
	Root         string       `yaml:"root" toml:"root"`
	Manifest     string       `yaml:"manifest" toml:"manifest"`
	EnvFile      string       `yaml:"env_file" toml:"env_file"`
	VersionToken string       `yaml:"version_token" toml:"version_token"`
	HTML         AssetConfig  `yaml:"html" toml:"html"`
	Images       ImagesConfig `yaml:"images" toml:"images"`
	Style        AssetConfig  `yaml:"style" toml:"style"`
	Script       ScriptConfig `yaml:"script" toml:"script"`
	Server       ServerConfig `yaml:"server" toml:"server"`
	Watch        WatchConfig  `yaml:"watch" toml:"watch"`
	Tools        ToolsConfig  `yaml:"tools" toml:"tools"`
	Notify       NotifyConfig `yaml:"notify" toml:"notify"`
	Log          LogConfig    `yaml:"log" toml:"log"`

	// Path is the file the config was read from, empty for defaults.
	Path string `yaml:"-" toml:"-"`
}

// DefaultConfig returns the layout of a standard project: sources under
// src/, output under dist/.
func DefaultConfig() *Config {
	return &Config{
		Root:         ".",
		Manifest:     "package.json",
		EnvFile:      ".env",
		VersionToken: "ASSETS_VERSION",
		HTML:         AssetConfig{Src: Patterns{"src/*.html"}, Out: "dist"},
		Images: ImagesConfig{
			Src:    Patterns{"src/images/**/*.{jpg,webp,png,svg,gif}"},
			Out:    "dist/images",
			Srcset: pipeline.DefaultSrcset(),
		},
		Style: AssetConfig{Src: Patterns{"src/app/**/*.scss"}, Out: "dist/app"},
		Script: ScriptConfig{
			Src:   Patterns{"src/app/**/*.js"},
			Entry: Patterns{"src/app/main.js"},
			Out:   "dist/app",
		},
		Server: ServerConfig{Root: "dist", Host: "localhost", Port: 8080, LiveReload: true},
		Watch:  WatchConfig{Debounce: "100ms"},
		Tools:  ToolsConfig{Sass: "sass", Cwebp: "cwebp", WebpQuality: 80},
		Notify: NotifyConfig{Enabled: true, Title: "assetflow"},
		Log:    LogConfig{MaxSizeMB: 10, MaxBackups: 3},
	}
}

// LoadConfig reads the configuration at path on top of the defaults. If path
// is empty, the names in ConfigNames are tried in the working directory and
// the defaults are used when none exists. The .env file of the project and
// the process environment are applied last.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		for _, name := range ConfigNames {
			if _, err := os.Stat(name); err == nil {
				path = name
				break
			}
		}
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	env, err := LoadEnvFile(cfg.Abs(cfg.EnvFile))
	if err != nil {
		return nil, err
	}
	cfg.applyEnv(env)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(content, c)
	} else {
		err = yaml.Unmarshal(content, c)
	}
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	c.Path = path
	// A relative root is taken relative to the config file.
	if !filepath.IsAbs(c.Root) {
		c.Root = filepath.Join(filepath.Dir(path), c.Root)
	}
	return nil
}

// applyEnv overrides the script entry and output from env, with the process
// environment taking precedence over the .env file. The WEBPACK_ names are
// read when the SCRIPT_ ones are unset.
func (c *Config) applyEnv(file map[string]string) {
	lookup := func(keys ...string) string {
		for _, key := range keys {
			if v := os.Getenv(key); v != "" {
				return v
			}
			if v := file[key]; v != "" {
				return v
			}
		}
		return ""
	}
	if v := lookup("SCRIPT_ENTRY", "WEBPACK_ENTRY"); v != "" {
		var entries Patterns
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				entries = append(entries, e)
			}
		}
		if len(entries) > 0 {
			c.Script.Entry = entries
		}
	}
	if v := strings.TrimSpace(lookup("SCRIPT_OUTPUT_PATH", "WEBPACK_OUTPUT_PATH")); v != "" {
		c.Script.Out = v
	}
}

// Validate checks every section and returns all problems at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}
	assets := []struct {
		name string
		src  Patterns
		out  string
	}{
		{"html", c.HTML.Src, c.HTML.Out},
		{"images", c.Images.Src, c.Images.Out},
		{"style", c.Style.Src, c.Style.Out},
		{"script", c.Script.Src, c.Script.Out},
	}
	for _, a := range assets {
		if len(a.src) == 0 {
			add("%s.src: at least one pattern is required", a.name)
		}
		if a.out == "" {
			add("%s.out is required", a.name)
		}
	}
	if len(c.Script.Entry) == 0 {
		add("script.entry: at least one entry is required")
	}
	for i, r := range c.Images.Srcset {
		if r.Match == "" {
			add("images.srcset[%d].match is required", i)
		}
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		add("server.port %d out of range", c.Server.Port)
	}
	if _, err := c.DebounceDuration(); err != nil {
		add("watch.debounce: %v", err)
	}
	if c.Tools.WebpQuality < 0 || c.Tools.WebpQuality > 100 {
		add("tools.webp_quality %d out of range", c.Tools.WebpQuality)
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DebounceDuration parses Watch.Debounce. An empty value means the watcher
// default.
func (c *Config) DebounceDuration() (time.Duration, error) {
	if c.Watch.Debounce == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.New("must not be negative")
	}
	return d, nil
}

// Abs resolves p against the project root.
func (c *Config) Abs(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}
