// Package persist reads and writes per-locale catalog files.
package persist

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/text/language"

	"github.com/romshark/intlbuild"
	"github.com/romshark/intlbuild/internal/codec"
	"github.com/romshark/intlbuild/internal/metrics"
)

var ErrCatalogNotFound = errors.New("catalog not found")

// Persister stores one catalog file per locale in a directory.
type Persister struct {
	fs           afero.Fs
	dir          string
	sourceLocale string
	codec        codec.Codec
	log          zerolog.Logger
	metrics      *metrics.Metrics
}

func New(
	fsys afero.Fs,
	dir, sourceLocale string,
	c codec.Codec,
	log zerolog.Logger,
	m *metrics.Metrics,
) *Persister {
	return &Persister{
		fs:           fsys,
		dir:          dir,
		sourceLocale: sourceLocale,
		codec:        c,
		log:          log,
		metrics:      metrics.OrNew(m),
	}
}

// Codec returns the codec catalogs are encoded with.
func (p *Persister) Codec() codec.Codec { return p.codec }

// Dir returns the messages directory.
func (p *Persister) Dir() string { return p.dir }

// Path returns the catalog file path of locale.
func (p *Persister) Path(locale string) string {
	return filepath.Join(p.dir, locale+p.codec.Extension())
}

// Context returns the codec context for locale.
func (p *Persister) Context(locale string) codec.Context {
	return codec.Context{Locale: locale, SourceLocale: p.sourceLocale}
}

// Read decodes the catalog of locale. A missing catalog yields no
// messages unless required is true, in which case ErrCatalogNotFound
// is returned.
func (p *Persister) Read(locale string, required bool) ([]intlbuild.Message, error) {
	path := p.Path(locale)
	content, err := afero.ReadFile(p.fs, path)
	if errors.Is(err, fs.ErrNotExist) {
		if required {
			return nil, fmt.Errorf("%w: %s", ErrCatalogNotFound, path)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	msgs, err := p.codec.Decode(content, p.Context(locale))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return msgs, nil
}

// Write encodes msgs and atomically replaces the catalog of locale.
// A catalog whose content wouldn't change isn't rewritten.
// Failures are logged and returned.
func (p *Persister) Write(
	locale string, msgs []intlbuild.Message, source map[string]intlbuild.Message,
) error {
	ctx := p.Context(locale)
	ctx.Source = source
	content, err := p.codec.Encode(msgs, ctx)
	if err != nil {
		p.metrics.CatalogWrites.WithLabelValues(locale, "error").Inc()
		p.log.Error().Err(err).Str("locale", locale).Msg("encoding catalog")
		return fmt.Errorf("encoding catalog %s: %w", locale, err)
	}

	path := p.Path(locale)
	if current, err := afero.ReadFile(p.fs, path); err == nil &&
		bytes.Equal(current, content) {
		p.metrics.CatalogWrites.WithLabelValues(locale, "unchanged").Inc()
		return nil
	}

	if err := WriteFileAtomic(p.fs, path, content, 0o644); err != nil {
		p.metrics.CatalogWrites.WithLabelValues(locale, "error").Inc()
		p.log.Error().Err(err).Str("file", path).Msg("writing catalog")
		return err
	}
	p.metrics.CatalogWrites.WithLabelValues(locale, "ok").Inc()
	p.log.Debug().Str("file", path).Int("messages", len(msgs)).Msg("catalog written")
	return nil
}

// LastModified returns the modification time of the catalog of locale.
func (p *Persister) LastModified(locale string) (time.Time, bool) {
	fi, err := p.fs.Stat(p.Path(locale))
	if err != nil {
		return time.Time{}, false
	}
	return fi.ModTime(), true
}

// Locales lists the locales that have a catalog file, sorted.
// Files whose name isn't a BCP 47 tag are ignored.
func (p *Persister) Locales() ([]string, error) {
	entries, err := afero.ReadDir(p.fs, p.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing catalogs: %w", err)
	}
	ext := p.codec.Extension()
	var locales []string
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ext)
		if e.IsDir() || !ok || name == "" {
			continue
		}
		if _, err := language.Parse(name); err != nil {
			p.log.Debug().Str("file", e.Name()).Msg("ignoring non-locale catalog file")
			continue
		}
		locales = append(locales, name)
	}
	slices.Sort(locales)
	return locales, nil
}

// WriteFileAtomic writes data to a uniquely named temporary file next to
// path and renames it over path. The temporary file is removed on failure.
func WriteFileAtomic(fsys afero.Fs, path string, data []byte, perm os.FileMode) error {
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	tmp := path + "." + uuid.NewString() + ".tmp"
	if err := afero.WriteFile(fsys, tmp, data, perm); err != nil {
		_ = fsys.Remove(tmp)
		return fmt.Errorf("writing temporary file: %w", err)
	}
	if err := fsys.Rename(tmp, path); err != nil {
		_ = fsys.Remove(tmp)
		return fmt.Errorf("renaming temporary file: %w", err)
	}
	return nil
}
