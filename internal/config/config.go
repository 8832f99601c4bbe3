// Package config loads and validates the build configuration.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
	"golang.org/x/text/language"
	"sigs.k8s.io/yaml"

	"github.com/romshark/intlbuild/internal/codec"
)

var (
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrUnsupportedFormat = errors.New("unsupported configuration file format")
	ErrNotFound          = errors.New("configuration file not found")
)

// FileNames are the configuration file names Find looks for, in order.
var FileNames = []string{"intlbuild.yaml", "intlbuild.yml", "intlbuild.toml", "intlbuild.json"}

// EnvPrefix prefixes all environment variable overrides.
const EnvPrefix = "INTLBUILD_"

// Duration is a time.Duration written as a string like "50ms".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

type Config struct {
	// SourceLocale is the locale of the messages written in code.
	SourceLocale string `json:"sourceLocale" toml:"sourceLocale"`

	// Locales are the target locales. If empty they're inferred from the
	// catalog files in MessagesDir.
	Locales []string `json:"locales,omitempty" toml:"locales,omitempty"`

	// SrcPaths are the source roots.
	SrcPaths []string `json:"srcPaths" toml:"srcPaths"`

	// Aliases maps import specifier prefixes to directories.
	Aliases map[string]string `json:"aliases,omitempty" toml:"aliases,omitempty"`

	MessagesDir string `json:"messagesDir" toml:"messagesDir"`

	// Format is a built-in codec name or "exec:" followed by the path
	// of a codec executable.
	Format string `json:"format" toml:"format"`

	CacheDir string `json:"cacheDir" toml:"cacheDir"`

	// AppDir is the directory route entries are discovered in.
	AppDir string `json:"appDir" toml:"appDir"`

	// Manifest is the path the manifest is written to.
	Manifest string `json:"manifest" toml:"manifest"`

	SaveDelay Duration `json:"saveDelay" toml:"saveDelay"`

	// Precompile enables compiling catalogs to their runtime form.
	Precompile bool `json:"precompile,omitempty" toml:"precompile,omitempty"`

	// BaseDir is the directory relative paths are resolved against,
	// the directory of the configuration file.
	BaseDir string `json:"-" toml:"-"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		SourceLocale: "en",
		SrcPaths:     []string{"./src"},
		Aliases:      map[string]string{"@/": "./src"},
		MessagesDir:  "./messages",
		Format:       "json",
		CacheDir:     ".intlbuild",
		AppDir:       "./src/app",
		Manifest:     ".intlbuild/manifest.json",
		SaveDelay:    Duration(50 * time.Millisecond),
		BaseDir:      ".",
	}
}

// Path resolves p against the base directory.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.BaseDir, p)
}

// Paths resolves ps against the base directory.
func (c *Config) Paths(ps []string) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = c.Path(p)
	}
	return out
}

// Find returns the first of FileNames present in dir.
func Find(fsys afero.Fs, dir string) (string, error) {
	for _, name := range FileNames {
		p := filepath.Join(dir, name)
		if ok, err := afero.Exists(fsys, p); err != nil {
			return "", err
		} else if ok {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrNotFound, dir)
}

// Load reads the configuration file at path on top of the defaults and
// applies environment overrides. Without a path only the defaults and
// the environment apply. A .env file in the base directory is read
// as well, with lookupEnv taking precedence over it.
// lookupEnv defaults to os.LookupEnv.
func Load(
	fsys afero.Fs, path string, lookupEnv func(string) (string, bool),
) (*Config, error) {
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	c := Default()
	if path != "" {
		content, err := afero.ReadFile(fsys, path)
		if err != nil {
			return nil, fmt.Errorf("reading configuration: %w", err)
		}
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".yaml", ".yml", ".json":
			err = yaml.UnmarshalStrict(content, c)
		case ".toml":
			err = toml.Unmarshal(content, c)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
		}
		c.BaseDir = filepath.Dir(path)
	}

	dotenv, err := readDotenv(fsys, filepath.Join(c.BaseDir, ".env"))
	if err != nil {
		return nil, err
	}
	lookup := func(key string) (string, bool) {
		if v, ok := lookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := c.applyEnv(lookup); err != nil {
		return nil, err
	}
	return c, nil
}

func readDotenv(fsys afero.Fs, path string) (map[string]string, error) {
	f, err := fsys.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	env, err := godotenv.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return env, nil
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	str("SOURCE_LOCALE", &c.SourceLocale)
	str("MESSAGES_DIR", &c.MessagesDir)
	str("FORMAT", &c.Format)
	str("CACHE_DIR", &c.CacheDir)
	str("APP_DIR", &c.AppDir)
	str("MANIFEST", &c.Manifest)

	if v, ok := lookup(EnvPrefix + "LOCALES"); ok {
		locales, err := ParseLocales(v)
		if err != nil {
			return fmt.Errorf("%w: %sLOCALES: %w", ErrInvalidConfig, EnvPrefix, err)
		}
		c.Locales = locales
	}
	if v, ok := lookup(EnvPrefix + "SRC"); ok {
		c.SrcPaths = splitList(v)
	}
	if v, ok := lookup(EnvPrefix + "SAVE_DELAY"); ok {
		if err := c.SaveDelay.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%w: %sSAVE_DELAY: %w", ErrInvalidConfig, EnvPrefix, err)
		}
	}
	if v, ok := lookup(EnvPrefix + "PRECOMPILE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %sPRECOMPILE: %w", ErrInvalidConfig, EnvPrefix, err)
		}
		c.Precompile = b
	}
	return nil
}

// ParseLocales parses a comma separated list of BCP 47 tags and returns
// them in canonical form. An empty list or "infer" yields nil.
func ParseLocales(s string) ([]string, error) {
	if strings.TrimSpace(s) == "infer" {
		return nil, nil
	}
	var locales []string
	for _, v := range splitList(s) {
		tag, err := language.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("parsing locale %q: %w", v, err)
		}
		locales = append(locales, tag.String())
	}
	return locales, nil
}

// Validate checks c. Every failure is a configuration error.
func (c *Config) Validate(ctx context.Context, fsys afero.Fs, codecs *codec.Registry) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...)
	}

	if c.SourceLocale == "" {
		return invalid("missing source locale")
	}
	if _, err := language.Parse(c.SourceLocale); err != nil {
		return invalid("source locale %q: %w", c.SourceLocale, err)
	}
	for _, l := range c.Locales {
		if _, err := language.Parse(l); err != nil {
			return invalid("locale %q: %w", l, err)
		}
	}
	if slices.Contains(c.Locales, c.SourceLocale) {
		return invalid("source locale %q listed as target locale", c.SourceLocale)
	}

	if len(c.SrcPaths) == 0 {
		return invalid("no source paths")
	}
	for _, p := range c.Paths(c.SrcPaths) {
		if ok, err := afero.DirExists(fsys, p); err != nil || !ok {
			return invalid("source path %q is not a directory", p)
		}
	}
	if ok, err := afero.DirExists(fsys, c.Path(c.MessagesDir)); err != nil || !ok {
		return invalid("messages directory %q doesn't exist", c.Path(c.MessagesDir))
	}
	if c.CacheDir == "" {
		return invalid("missing cache directory")
	}
	if c.SaveDelay < 0 {
		return invalid("negative save delay")
	}

	if _, err := codecs.Resolve(ctx, c.Format); err != nil {
		return invalid("format: %w", err)
	}
	return nil
}
