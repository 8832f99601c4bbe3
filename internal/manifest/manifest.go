// Package manifest computes which messages the client-rendered part of
// each route entry needs.
package manifest

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/romshark/intlbuild"
	"github.com/romshark/intlbuild/internal/analyzer"
	"github.com/romshark/intlbuild/internal/depgraph"
	"github.com/romshark/intlbuild/internal/metrics"
)

// Entry is a route entry file.
type Entry struct {
	// Key is the manifest key, e.g. "/[locale]/about/page".
	Key  string
	File string
}

// EntryNames are the base names of app router files that are route entries.
var EntryNames = []string{
	"page", "layout", "template", "default", "not-found", "error", "loading",
}

// DiscoverEntries lists the route entries under appDir sorted by key.
func DiscoverEntries(fsys afero.Fs, appDir string) ([]Entry, error) {
	var entries []Entry
	err := afero.Walk(fsys, appDir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != appDir && analyzer.SkipDir(info.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !analyzer.Supported(path) {
			return nil
		}
		name := strings.TrimSuffix(info.Name(), filepath.Ext(path))
		if !slices.Contains(EntryNames, name) {
			return nil
		}
		rel, err := filepath.Rel(appDir, path)
		if err != nil {
			return err
		}
		key := "/" + filepath.ToSlash(strings.TrimSuffix(rel, filepath.Ext(rel)))
		entries = append(entries, Entry{Key: key, File: path})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discovering entries in %s: %w", appDir, err)
	}
	slices.SortFunc(entries, func(a, b Entry) int { return strings.Compare(a.Key, b.Key) })
	return entries, nil
}

// Builder builds manifest entries from entry graphs.
type Builder struct {
	graphs      *depgraph.Builder
	log         zerolog.Logger
	metrics     *metrics.Metrics
	concurrency int
}

func NewBuilder(graphs *depgraph.Builder, log zerolog.Logger, m *metrics.Metrics) *Builder {
	return &Builder{
		graphs:      graphs,
		log:         log,
		metrics:     metrics.OrNew(m),
		concurrency: runtime.GOMAXPROCS(0),
	}
}

// Build builds the manifest of all entries.
func (b *Builder) Build(ctx context.Context, entries []Entry) (intlbuild.Manifest, error) {
	built := make([]intlbuild.ManifestEntry, len(entries))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, e := range entries {
		g.Go(func() error {
			me, err := b.BuildEntry(ctx, e.File)
			if err != nil {
				return fmt.Errorf("entry %s: %w", e.Key, err)
			}
			built[i] = me
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	m := make(intlbuild.Manifest, len(entries))
	for i, e := range entries {
		m[e.Key] = built[i]
	}
	return m, nil
}

// visit is a node reached with a given client state.
type visit struct {
	file   string
	client bool
}

// chain is the path from the entry to a node.
type chain struct {
	visit
	parent *chain
}

func (c *chain) contains(v visit) bool {
	for ; c != nil; c = c.parent {
		if c.visit == v {
			return true
		}
	}
	return false
}

type item struct {
	visit
	ancestors *chain
}

// BuildEntry traverses the graph of entry breadth first.
//
// A client boundary makes a file and everything it imports client code.
// A server boundary excludes the file itself even when it's imported by
// client code. Usages are collected from client code only.
func (b *Builder) BuildEntry(ctx context.Context, entry string) (intlbuild.ManifestEntry, error) {
	g, err := b.graphs.EntryGraph(ctx, entry)
	if err != nil {
		return intlbuild.ManifestEntry{}, err
	}

	me := intlbuild.ManifestEntry{Namespaces: new(intlbuild.Namespaces)}
	visited := make(map[visit]struct{})
	queue := []item{{visit: visit{file: entry}}}
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		if _, ok := visited[it.visit]; ok {
			continue
		}
		visited[it.visit] = struct{}{}

		r := g.Results[it.file]
		if r == nil {
			r = new(analyzer.Result)
		}
		if r.HasProvider {
			me.HasProvider = true
		}

		client := it.client || (r.ClientBoundary && !r.ServerBoundary)
		if client && !r.ServerBoundary {
			fold(me.Namespaces, r.Usages)
		}

		path := &chain{visit: it.visit, parent: it.ancestors}
		for _, dep := range g.Adjacency[it.file] {
			next := visit{file: dep, client: client}
			if path.contains(next) {
				continue
			}
			if _, ok := visited[next]; ok {
				continue
			}
			queue = append(queue, item{visit: next, ancestors: path})
		}
	}

	b.metrics.ManifestEntries.Inc()
	b.log.Debug().
		Str("entry", entry).
		Int("files", len(visited)).
		Bool("hasProvider", me.HasProvider).
		Msg("built manifest entry")
	return me, nil
}

// fold selects the messages usages reference.
func fold(ns *intlbuild.Namespaces, usages []analyzer.Usage) {
	for _, u := range usages {
		path, all := u.Path()
		switch {
		case all:
			ns.RequireAll()
			return
		case len(path) == 0:
			continue
		}
		ns.Require(path...)
	}
}
