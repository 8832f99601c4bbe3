package sqlitestore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/romshark/intlbuild"
	"github.com/romshark/intlbuild/internal/analyzer"
	"github.com/romshark/intlbuild/internal/analyzer/sqlitestore"
)

func open(t *testing.T) *sqlitestore.Store {
	t.Helper()
	s, err := sqlitestore.Open(filepath.Join(t.TempDir(), "cache", sqlitestore.FileName))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestGetPut(t *testing.T) {
	t.Parallel()
	s := open(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	r := &analyzer.Result{
		Messages: []intlbuild.Message{{
			ID: "+YJVTi", Message: "Hey!",
			References: []intlbuild.Reference{{Path: "a.tsx", Line: 3}},
		}},
		Usages:         []analyzer.Usage{{Key: "+YJVTi"}},
		ClientBoundary: true,
		Imports:        []string{"./b"},
		Edits:          []analyzer.Edit{{Start: 1, End: 7, Text: `"+YJVTi"`}},
	}
	require.NoError(t, s.Put(ctx, "k", r))
	require.NoError(t, s.Put(ctx, "k", r)) // Upsert.

	got, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, r, got)

	n, err := s.Prune(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

type countingAnalyzer struct{ calls int }

func (a *countingAnalyzer) Analyze(
	_ context.Context, path string, _ []byte,
) (*analyzer.Result, error) {
	a.calls++
	return &analyzer.Result{Imports: []string{path}}, nil
}

func TestCachedAcrossReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), sqlitestore.FileName)
	ctx := context.Background()
	a := new(countingAnalyzer)

	s, err := sqlitestore.Open(path)
	require.NoError(t, err)
	_, err = analyzer.Cached(a, s, zerolog.Nop(), nil).Analyze(ctx, "a.ts", []byte("x"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = sqlitestore.Open(path)
	require.NoError(t, err)
	defer s.Close()
	r, err := analyzer.Cached(a, s, zerolog.Nop(), nil).Analyze(ctx, "a.ts", []byte("x"))
	require.NoError(t, err)
	require.Equal(t, []string{"a.ts"}, r.Imports)
	require.Equal(t, 1, a.calls)
}
