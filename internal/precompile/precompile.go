// Package precompile compiles catalogs into their runtime form and
// reuses the compiled form of messages whose text didn't change.
package precompile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/cespare/xxhash"
	"github.com/rs/zerolog"

	"github.com/romshark/intlbuild"
	"github.com/romshark/intlbuild/internal/icu"
	"github.com/romshark/intlbuild/internal/metrics"
)

var (
	ErrNotString = errors.New("message value is not a string")
	ErrConflict  = errors.New("message id conflicts with namespace")
)

type entry struct {
	value    string
	compiled any
}

type catalog struct {
	fingerprint uint64
	output      []byte
	entries     map[string]entry
}

// Cache holds the compiled messages of every catalog it compiled.
type Cache struct {
	compile icu.Compiler
	log     zerolog.Logger
	metrics *metrics.Metrics

	lock     sync.Mutex
	catalogs map[string]*catalog
}

// New returns an empty cache. compile defaults to icu.Compile.
func New(compile icu.Compiler, log zerolog.Logger, m *metrics.Metrics) *Cache {
	if compile == nil {
		compile = icu.Compile
	}
	return &Cache{
		compile:  compile,
		log:      log,
		metrics:  metrics.OrNew(m),
		catalogs: make(map[string]*catalog),
	}
}

// Flatten turns a nested message tree into dotted ids.
// Values other than objects are kept as they are.
func Flatten(nested map[string]any) map[string]any {
	flat := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			id := intlbuild.JoinID(prefix, k)
			if sub, ok := v.(map[string]any); ok {
				walk(id, sub)
				continue
			}
			flat[id] = v
		}
	}
	walk("", nested)
	return flat
}

func fingerprint(ids []string, flat map[string]any) uint64 {
	h := xxhash.New()
	for _, id := range ids {
		_, _ = fmt.Fprintf(h, "%q=%#v\n", id, flat[id])
	}
	return h.Sum64()
}

// Compile compiles the flat catalog identified by key and returns it as
// a nested JSON object. Messages whose text is unchanged since the last
// compilation of key are reused, messages absent from flat are evicted.
// Any non-string value fails the whole catalog.
func (c *Cache) Compile(key string, flat map[string]any) ([]byte, error) {
	ids := slices.Sorted(maps.Keys(flat))
	fp := fingerprint(ids, flat)

	c.lock.Lock()
	defer c.lock.Unlock()

	prev := c.catalogs[key]
	if prev != nil && prev.fingerprint == fp {
		c.metrics.Precompile.WithLabelValues("hit").Add(float64(len(prev.entries)))
		return prev.output, nil
	}

	next := &catalog{fingerprint: fp, entries: make(map[string]entry, len(ids))}
	var hits, misses int
	for _, id := range ids {
		value, ok := flat[id].(string)
		if !ok {
			return nil, fmt.Errorf("%w: %q in %s has type %T", ErrNotString, id, key, flat[id])
		}
		if prev != nil {
			if e, ok := prev.entries[id]; ok && e.value == value {
				next.entries[id] = e
				hits++
				continue
			}
		}
		compiled, err := c.compile(value)
		if err != nil {
			return nil, fmt.Errorf("compiling %q in %s: %w", id, key, err)
		}
		next.entries[id] = entry{value: value, compiled: compiled}
		misses++
	}

	out, err := encode(ids, next.entries)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	next.output = out
	c.catalogs[key] = next

	c.metrics.Precompile.WithLabelValues("hit").Add(float64(hits))
	c.metrics.Precompile.WithLabelValues("miss").Add(float64(misses))
	c.log.Debug().
		Str("catalog", key).
		Int("reused", hits).
		Int("compiled", misses).
		Msg("precompiled catalog")
	return out, nil
}

// encode nests the compiled messages by namespace.
func encode(ids []string, entries map[string]entry) ([]byte, error) {
	root := make(map[string]any)
	for _, id := range ids {
		if id == "" {
			return nil, fmt.Errorf("%w: empty id", ErrConflict)
		}
		node := root
		path := intlbuild.Path(id)
		for _, segment := range path[:len(path)-1] {
			child, ok := node[segment]
			if !ok {
				next := make(map[string]any)
				node[segment] = next
				node = next
				continue
			}
			next, ok := child.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrConflict, id)
			}
			node = next
		}
		leaf := path[len(path)-1]
		if _, ok := node[leaf]; ok {
			return nil, fmt.Errorf("%w: %q", ErrConflict, id)
		}
		node[leaf] = entries[id].compiled
	}
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(root); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(b.Bytes(), []byte("\n")), nil
}

// Len returns the number of cached messages of key.
func (c *Cache) Len(key string) int {
	c.lock.Lock()
	defer c.lock.Unlock()
	if cat := c.catalogs[key]; cat != nil {
		return len(cat.entries)
	}
	return 0
}

// Forget drops the cached messages of key.
func (c *Cache) Forget(key string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	delete(c.catalogs, key)
}
