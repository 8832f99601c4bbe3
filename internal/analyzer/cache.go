package analyzer

import (
	"context"
	"hash"
	"strconv"
	"sync"
	"unsafe"

	"github.com/cespare/xxhash"
	"github.com/rs/zerolog"

	"github.com/romshark/intlbuild/internal/metrics"
)

// Store persists analysis results by content key.
type Store interface {
	Get(ctx context.Context, key string) (*Result, bool, error)
	Put(ctx context.Context, key string, r *Result) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	lock    sync.RWMutex
	results map[string]*Result
}

var _ Store = new(MemoryStore)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{results: make(map[string]*Result)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Result, bool, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	r, ok := s.results[key]
	return r, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, r *Result) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.results[key] = r
	return nil
}

// Len returns the number of cached results.
func (s *MemoryStore) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.results)
}

type cached struct {
	analyzer Analyzer
	store    Store
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

// Cached memoizes a by content key. Failed analyses are not cached.
// Store failures are logged and fall back to analyzing.
func Cached(a Analyzer, store Store, log zerolog.Logger, m *metrics.Metrics) Analyzer {
	return &cached{analyzer: a, store: store, log: log, metrics: metrics.OrNew(m)}
}

func (c *cached) Analyze(ctx context.Context, path string, src []byte) (*Result, error) {
	key := ContentKey(path, src)
	r, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.Warn().Err(err).Str("file", path).Msg("reading analysis cache")
	} else if ok {
		c.metrics.AnalysisCache.WithLabelValues("hit").Inc()
		return r, nil
	}
	c.metrics.AnalysisCache.WithLabelValues("miss").Inc()

	r, err = c.analyzer.Analyze(ctx, path, src)
	if err != nil {
		return nil, err
	}
	if err := c.store.Put(ctx, key, r); err != nil {
		c.log.Warn().Err(err).Str("file", path).Msg("writing analysis cache")
	}
	return r, nil
}

var hasherPool = sync.Pool{
	New: func() any { return xxhash.New() },
}

// ContentKey computes the 64-bit XXHash of path and content.
func ContentKey(path string, src []byte) string {
	h := hasherPool.Get().(hash.Hash64)
	defer hasherPool.Put(h)

	h.Reset()
	_, _ = h.Write(unsafeS2B(path))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(src)
	return strconv.FormatUint(h.Sum64(), 16)
}

// unsafeS2B converts s to []byte without copying.
// The returned slice must never be mutated.
func unsafeS2B(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
