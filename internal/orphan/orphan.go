// Package orphan keeps translations of messages that disappeared from
// source so they can be restored if the message comes back.
package orphan

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/romshark/intlbuild/internal/metrics"
	"github.com/romshark/intlbuild/internal/persist"
)

// FileName is the name of the cache file in the cache directory.
const FileName = "orphans.json"

// Entry is an orphaned translation.
type Entry struct {
	Message string `json:"message"`
}

// Cache is a per-locale store of orphaned translations backed by one
// JSON file of the form {locale: {id: {message}}}. The file is loaded
// on first access and rewritten after every mutation.
// Entries never expire, they're removed only when consumed.
type Cache struct {
	fs      afero.Fs
	path    string
	log     zerolog.Logger
	metrics *metrics.Metrics

	lock   sync.Mutex
	loaded bool
	data   map[string]map[string]Entry
}

// Open returns the cache stored at path. Nothing is read until first use.
func Open(fsys afero.Fs, path string, log zerolog.Logger, m *metrics.Metrics) *Cache {
	return &Cache{fs: fsys, path: path, log: log, metrics: metrics.OrNew(m)}
}

func (c *Cache) load() error {
	if c.loaded {
		return nil
	}
	content, err := afero.ReadFile(c.fs, c.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		c.data = make(map[string]map[string]Entry)
	case err != nil:
		return fmt.Errorf("reading orphan cache: %w", err)
	default:
		data := make(map[string]map[string]Entry)
		if err := json.Unmarshal(content, &data); err != nil {
			return fmt.Errorf("decoding orphan cache %s: %w", c.path, err)
		}
		c.data = data
	}
	c.loaded = true
	return nil
}

func (c *Cache) persist() error {
	b, err := json.MarshalIndent(c.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding orphan cache: %w", err)
	}
	b = append(b, '\n')
	if err := persist.WriteFileAtomic(c.fs, c.path, b, 0o644); err != nil {
		c.log.Error().Err(err).Str("file", c.path).Msg("writing orphan cache")
		return err
	}
	return nil
}

// Lookup returns the entry without consuming it.
func (c *Cache) Lookup(locale, id string) (Entry, bool, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.load(); err != nil {
		return Entry{}, false, err
	}
	e, ok := c.data[locale][id]
	return e, ok, nil
}

// Get removes and returns the entry.
func (c *Cache) Get(locale, id string) (Entry, bool, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.load(); err != nil {
		return Entry{}, false, err
	}
	e, ok := c.data[locale][id]
	if !ok {
		return Entry{}, false, nil
	}
	c.remove(locale, id)
	c.metrics.OrphansRestored.Inc()
	return e, true, c.persist()
}

// Delete removes the entry if present.
func (c *Cache) Delete(locale, id string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.load(); err != nil {
		return err
	}
	if _, ok := c.data[locale][id]; !ok {
		return nil
	}
	c.remove(locale, id)
	c.metrics.OrphansRestored.Inc()
	return c.persist()
}

// remove deletes the entry and prunes the locale if it became empty.
func (c *Cache) remove(locale, id string) {
	bucket := c.data[locale]
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(c.data, locale)
	}
}

// Add stores e, replacing any existing entry.
func (c *Cache) Add(locale, id string, e Entry) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.load(); err != nil {
		return err
	}
	bucket, ok := c.data[locale]
	if !ok {
		bucket = make(map[string]Entry)
		c.data[locale] = bucket
	}
	bucket[id] = e
	c.metrics.OrphansMoved.Inc()
	return c.persist()
}

// Len returns the number of entries across all locales.
func (c *Cache) Len() (int, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.load(); err != nil {
		return 0, err
	}
	n := 0
	for _, bucket := range c.data {
		n += len(bucket)
	}
	return n, nil
}
