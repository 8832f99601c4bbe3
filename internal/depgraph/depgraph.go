// Package depgraph computes the project-internal import graph of route
// entry files.
package depgraph

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"

	"github.com/romshark/intlbuild/internal/analyzer"
)

// Graph is the import graph reachable from one entry file.
type Graph struct {
	Entry string

	// Adjacency maps each file to its direct in-project imports.
	// Cycles are kept as they are.
	Adjacency map[string][]string

	// Files are all reachable files including Entry, sorted.
	Files []string

	// Results are the analysis results of Files.
	// Files that failed to parse have an empty result.
	Results map[string]*analyzer.Result
}

// Reachable reports whether file is part of g.
func (g *Graph) Reachable(file string) bool {
	_, ok := g.Results[file]
	return ok
}

// Builder builds and memoizes entry graphs.
// Memoized graphs are never checked for staleness, callers must
// Invalidate files that changed. A build that read a file invalidated
// while it was in flight is discarded and redone.
type Builder struct {
	fs       afero.Fs
	resolver *Resolver
	analyzer analyzer.Analyzer
	log      zerolog.Logger

	group  singleflight.Group
	lock   sync.Mutex
	graphs map[string]*Graph

	// gen is incremented by every invalidation.
	gen uint64
	// allGen is the generation of the last InvalidateAll.
	allGen uint64
	// invalidated maps files to the generation they were last
	// invalidated at. Only kept while builds are in flight.
	invalidated map[string]uint64
	// inflight counts running builds.
	inflight int
}

func NewBuilder(
	fs afero.Fs, r *Resolver, a analyzer.Analyzer, log zerolog.Logger,
) *Builder {
	return &Builder{
		fs:       fs,
		resolver: r,
		analyzer: a,
		log:      log,
		graphs:      make(map[string]*Graph),
		invalidated: make(map[string]uint64),
	}
}

// EntryGraph returns the graph of entry, building it if not memoized.
// Concurrent calls for the same entry share one build.
func (b *Builder) EntryGraph(ctx context.Context, entry string) (*Graph, error) {
	b.lock.Lock()
	g, ok := b.graphs[entry]
	b.lock.Unlock()
	if ok {
		return g, nil
	}

	v, err, _ := b.group.Do(entry, func() (any, error) {
		for {
			b.lock.Lock()
			start := b.gen
			b.inflight++
			b.lock.Unlock()

			g, err := b.build(ctx, entry)

			b.lock.Lock()
			stale := err == nil && b.staleLocked(g, start)
			if !stale && err == nil {
				b.graphs[entry] = g
			}
			if b.inflight--; b.inflight == 0 {
				clear(b.invalidated)
			}
			b.lock.Unlock()

			if err != nil {
				return nil, err
			}
			if !stale {
				return g, nil
			}
			b.log.Debug().Str("entry", entry).Msg("rebuilding graph invalidated during build")
		}
	})
	if err != nil {
		return nil, err
	}
	return v.(*Graph), nil
}

// staleLocked reports whether any file of g was invalidated after
// generation start.
func (b *Builder) staleLocked(g *Graph, start uint64) bool {
	if b.allGen > start {
		return true
	}
	for _, file := range g.Files {
		if b.invalidated[file] > start {
			return true
		}
	}
	return false
}

func (b *Builder) build(ctx context.Context, entry string) (*Graph, error) {
	g := &Graph{
		Entry:     entry,
		Adjacency: make(map[string][]string),
		Results:   make(map[string]*analyzer.Result),
	}
	queue := []string{entry}
	g.Results[entry] = nil
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		file := queue[0]
		queue = queue[1:]

		src, err := afero.ReadFile(b.fs, file)
		if err != nil {
			if file == entry {
				return nil, fmt.Errorf("reading entry: %w", err)
			}
			b.log.Warn().Err(err).Str("file", file).Msg("skipping unreadable import")
			g.Results[file] = new(analyzer.Result)
			continue
		}

		r, err := b.analyzer.Analyze(ctx, file, src)
		switch {
		case errors.Is(err, analyzer.ErrSyntax):
			b.log.Warn().Err(err).Str("file", file).Msg("treating unparsable file as empty")
			r = new(analyzer.Result)
		case err != nil:
			return nil, fmt.Errorf("analyzing %s: %w", file, err)
		}
		g.Results[file] = r

		var deps []string
		for _, spec := range r.Imports {
			dep, ok := b.resolver.Resolve(file, spec)
			if !ok {
				continue
			}
			deps = append(deps, dep)
			if _, seen := g.Results[dep]; !seen {
				g.Results[dep] = nil
				queue = append(queue, dep)
			}
		}
		slices.Sort(deps)
		g.Adjacency[file] = slices.Compact(deps)
	}
	g.Files = slices.Sorted(maps.Keys(g.Results))
	return g, nil
}

// Invalidate drops every memoized graph that contains file.
// Builds in flight that read file are redone.
func (b *Builder) Invalidate(file string) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.gen++
	if b.inflight > 0 {
		b.invalidated[file] = b.gen
	}
	for entry, g := range b.graphs {
		if g.Reachable(file) {
			delete(b.graphs, entry)
			b.group.Forget(entry)
		}
	}
}

// InvalidateAll drops all memoized graphs.
func (b *Builder) InvalidateAll() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.gen++
	b.allGen = b.gen
	for entry := range b.graphs {
		b.group.Forget(entry)
	}
	clear(b.graphs)
}

// Len returns the number of memoized graphs.
func (b *Builder) Len() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.graphs)
}
