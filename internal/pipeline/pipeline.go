// Package pipeline wires the build components for one project.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/romshark/intlbuild"
	"github.com/romshark/intlbuild/internal/analyzer"
	"github.com/romshark/intlbuild/internal/analyzer/sqlitestore"
	"github.com/romshark/intlbuild/internal/analyzer/tsx"
	"github.com/romshark/intlbuild/internal/catalogmgr"
	"github.com/romshark/intlbuild/internal/codec"
	"github.com/romshark/intlbuild/internal/config"
	"github.com/romshark/intlbuild/internal/depgraph"
	"github.com/romshark/intlbuild/internal/loader"
	"github.com/romshark/intlbuild/internal/manifest"
	"github.com/romshark/intlbuild/internal/metrics"
	"github.com/romshark/intlbuild/internal/orphan"
	"github.com/romshark/intlbuild/internal/persist"
	"github.com/romshark/intlbuild/internal/precompile"
)

// AnalysisCacheTTL is how long unused persistent analysis results are kept.
const AnalysisCacheTTL = 30 * 24 * time.Hour

type Options struct {
	// FS defaults to the OS filesystem.
	FS  afero.Fs
	Log zerolog.Logger

	// Registerer, if set, registers the pipeline metrics.
	Registerer prometheus.Registerer

	// Codecs defaults to the built-in codecs.
	Codecs *codec.Registry

	// PersistentCache stores analysis results in the cache directory
	// across runs. It requires FS to be the OS filesystem.
	PersistentCache bool
}

// Pipeline owns all components of one project. It must be closed.
type Pipeline struct {
	conf    *config.Config
	fs      afero.Fs
	log     zerolog.Logger
	metrics *metrics.Metrics
	store   *sqlitestore.Store

	Analyzer   analyzer.Analyzer
	Persister  *persist.Persister
	Orphans    *orphan.Cache
	Manager    *catalogmgr.Manager
	Resolver   *depgraph.Resolver
	Graphs     *depgraph.Builder
	Manifests  *manifest.Builder
	Precompile *precompile.Cache
	Loader     *loader.Loader
}

// New validates conf and constructs the pipeline.
func New(ctx context.Context, conf *config.Config, opts Options) (*Pipeline, error) {
	if opts.FS == nil {
		opts.FS = afero.NewOsFs()
	}
	if opts.Codecs == nil {
		opts.Codecs = codec.NewRegistry()
	}
	if err := conf.Validate(ctx, opts.FS, opts.Codecs); err != nil {
		return nil, err
	}
	c, err := opts.Codecs.Resolve(ctx, conf.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}

	p := &Pipeline{
		conf:    conf,
		fs:      opts.FS,
		log:     opts.Log,
		metrics: metrics.New(opts.Registerer),
	}

	var store analyzer.Store = analyzer.NewMemoryStore()
	if opts.PersistentCache {
		s, err := sqlitestore.Open(filepath.Join(conf.Path(conf.CacheDir), sqlitestore.FileName))
		if err != nil {
			return nil, err
		}
		n, err := s.Prune(ctx, time.Now().Add(-AnalysisCacheTTL))
		if err != nil {
			p.log.Warn().Err(err).Msg("pruning analysis cache")
		} else if n > 0 {
			p.log.Debug().Int64("results", n).Msg("pruned analysis cache")
		}
		p.store, store = s, s
	}

	p.Analyzer = analyzer.Cached(tsx.New(), store, p.log, p.metrics)
	p.Persister = persist.New(
		p.fs, conf.Path(conf.MessagesDir), conf.SourceLocale, c, p.log, p.metrics,
	)
	p.Orphans = orphan.Open(
		p.fs, filepath.Join(conf.Path(conf.CacheDir), orphan.FileName), p.log, p.metrics,
	)

	var targets []string
	if len(conf.Locales) > 0 {
		targets = conf.Locales
	}
	roots := conf.Paths(conf.SrcPaths)
	p.Manager = catalogmgr.New(catalogmgr.Config{
		FS:            p.fs,
		Roots:         roots,
		BaseDir:       conf.BaseDir,
		SourceLocale:  conf.SourceLocale,
		TargetLocales: targets,
		Analyzer:      p.Analyzer,
		Persister:     p.Persister,
		Orphans:       p.Orphans,
		SaveDelay:     time.Duration(conf.SaveDelay),
		Log:           p.log,
		Metrics:       p.metrics,
	})

	aliases := make(map[string]string, len(conf.Aliases))
	for prefix, dir := range conf.Aliases {
		aliases[prefix] = conf.Path(dir)
	}
	p.Resolver = depgraph.NewResolver(p.fs, roots, aliases)
	p.Graphs = depgraph.NewBuilder(p.fs, p.Resolver, p.Analyzer, p.log)
	p.Manifests = manifest.NewBuilder(p.Graphs, p.log, p.metrics)
	if conf.Precompile {
		p.Precompile = precompile.New(nil, p.log, p.metrics)
	}
	p.Loader = loader.New(loader.Config{
		Manager:    p.Manager,
		Persister:  p.Persister,
		Scope:      p.Resolver,
		Graphs:     p.Graphs,
		Precompile: p.Precompile,
		Log:        p.log,
	})
	return p, nil
}

// Config returns the validated configuration.
func (p *Pipeline) Config() *config.Config { return p.conf }

// Metrics returns the pipeline collectors.
func (p *Pipeline) Metrics() *metrics.Metrics { return p.metrics }

// Scan runs a full scan of the source roots.
func (p *Pipeline) Scan(ctx context.Context) error { return p.Manager.Scan(ctx) }

// Extract scans all sources and persists the catalogs.
func (p *Pipeline) Extract(ctx context.Context) (catalogmgr.Report, error) {
	if err := p.Scan(ctx); err != nil {
		return catalogmgr.Report{}, err
	}
	return p.Manager.Save(ctx)
}

// BuildManifest discovers the route entries in the app directory and
// builds their manifest.
func (p *Pipeline) BuildManifest(ctx context.Context) (intlbuild.Manifest, error) {
	entries, err := manifest.DiscoverEntries(p.fs, p.conf.Path(p.conf.AppDir))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		p.log.Warn().Str("dir", p.conf.Path(p.conf.AppDir)).Msg("no route entries found")
	}
	return p.Manifests.Build(ctx, entries)
}

// WriteManifest builds the manifest and writes it to the configured path.
func (p *Pipeline) WriteManifest(ctx context.Context) (intlbuild.Manifest, error) {
	m, err := p.BuildManifest(ctx)
	if err != nil {
		return nil, err
	}
	b, err := m.Encode()
	if err != nil {
		return nil, err
	}
	path := p.conf.Path(p.conf.Manifest)
	if err := persist.WriteFileAtomic(p.fs, path, b, 0o644); err != nil {
		return nil, fmt.Errorf("writing manifest: %w", err)
	}
	p.log.Info().Str("file", path).Int("entries", len(m)).Msg("manifest written")
	return m, nil
}

// CompileCatalogs writes the precompiled catalog of every locale to
// outDir as <locale>.json and returns the written files.
func (p *Pipeline) CompileCatalogs(ctx context.Context, outDir string) ([]string, error) {
	targets, err := p.Manager.Locales()
	if err != nil {
		return nil, err
	}
	cache := p.Precompile
	if cache == nil {
		cache = precompile.New(nil, p.log, p.metrics)
	}

	var written []string
	for _, locale := range append([]string{p.conf.SourceLocale}, targets...) {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		path := p.Persister.Path(locale)
		src, err := afero.ReadFile(p.fs, path)
		if err != nil {
			return written, fmt.Errorf("reading catalog: %w", err)
		}
		s, err := p.Persister.Codec().ToJSONString(src, p.Persister.Context(locale))
		if err != nil {
			return written, fmt.Errorf("converting %s: %w", path, err)
		}
		var nested map[string]any
		if err := json.Unmarshal([]byte(s), &nested); err != nil {
			return written, fmt.Errorf("decoding %s: %w", path, err)
		}
		out, err := cache.Compile(path, precompile.Flatten(nested))
		if err != nil {
			return written, err
		}
		dst := filepath.Join(outDir, locale+".json")
		data := make([]byte, 0, len(out)+1)
		data = append(append(data, out...), '\n')
		if err := persist.WriteFileAtomic(p.fs, dst, data, 0o644); err != nil {
			return written, fmt.Errorf("writing %s: %w", dst, err)
		}
		written = append(written, dst)
	}
	p.log.Info().Strs("files", written).Msg("catalogs compiled")
	return written, nil
}

// Close persists pending catalog changes and releases resources.
func (p *Pipeline) Close(ctx context.Context) error {
	err := p.Manager.Close(ctx)
	if p.store != nil {
		err = errors.Join(err, p.store.Close())
	}
	return err
}
