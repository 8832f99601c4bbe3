package persist_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/romshark/intlbuild"
	"github.com/romshark/intlbuild/internal/codec"
	"github.com/romshark/intlbuild/internal/metrics"
	"github.com/romshark/intlbuild/internal/persist"
)

func newPersister(t *testing.T, fs afero.Fs) (*persist.Persister, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(nil)
	return persist.New(fs, "messages", "en", codec.JSON{}, zerolog.Nop(), m), m
}

func TestReadMissing(t *testing.T) {
	t.Parallel()
	p, _ := newPersister(t, afero.NewMemMapFs())

	msgs, err := p.Read("de", false)
	require.NoError(t, err)
	require.Empty(t, msgs)

	_, err = p.Read("en", true)
	require.ErrorIs(t, err, persist.ErrCatalogNotFound)
}

func TestWriteRead(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	p, m := newPersister(t, fs)
	msgs := []intlbuild.Message{{ID: "nav.home", Message: "Home"}}

	require.NoError(t, p.Write("en", msgs, nil))
	content, err := afero.ReadFile(fs, filepath.Join("messages", "en.json"))
	require.NoError(t, err)
	require.Equal(t, "{\n  \"nav\": {\n    \"home\": \"Home\"\n  }\n}\n", string(content))

	got, err := p.Read("en", true)
	require.NoError(t, err)
	require.Equal(t, msgs, got)

	_, ok := p.LastModified("en")
	require.True(t, ok)
	_, ok = p.LastModified("fr")
	require.False(t, ok)

	// Unchanged content isn't rewritten.
	require.NoError(t, p.Write("en", msgs, nil))
	require.Equal(t, 1.0, testutil.ToFloat64(m.CatalogWrites.WithLabelValues("en", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.CatalogWrites.WithLabelValues("en", "unchanged")))

	// No temporary files are left behind.
	entries, err := afero.ReadDir(fs, "messages")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestWriteEncodeError(t *testing.T) {
	t.Parallel()
	p, m := newPersister(t, afero.NewMemMapFs())
	err := p.Write("en", []intlbuild.Message{{ID: "a"}, {ID: "a.b"}}, nil)
	require.ErrorIs(t, err, codec.ErrConflict)
	require.Equal(t, 1.0, testutil.ToFloat64(m.CatalogWrites.WithLabelValues("en", "error")))
}

func TestWriteFailureRemovesTemp(t *testing.T) {
	t.Parallel()
	base := afero.NewMemMapFs()
	require.NoError(t, base.MkdirAll("messages", 0o755))
	p, _ := newPersister(t, afero.NewReadOnlyFs(base))
	err := p.Write("en", []intlbuild.Message{{ID: "a", Message: "b"}}, nil)
	require.Error(t, err)
	entries, err := afero.ReadDir(base, "messages")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestLocales(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	p, _ := newPersister(t, fs)

	locales, err := p.Locales()
	require.NoError(t, err)
	require.Empty(t, locales)

	for _, name := range []string{"en.json", "de.json", "pt-BR.json", "fr.po", "not a locale.json"} {
		require.NoError(t, afero.WriteFile(fs, filepath.Join("messages", name), []byte("{}"), 0o644))
	}
	require.NoError(t, fs.MkdirAll(filepath.Join("messages", "it.json"), 0o755))

	locales, err = p.Locales()
	require.NoError(t, err)
	require.Equal(t, []string{"de", "en", "pt-BR"}, locales)
}

func TestWriteFileAtomicOS(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "file.json")
	require.NoError(t, persist.WriteFileAtomic(afero.NewOsFs(), path, []byte("x"), 0o644))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "x", string(b))
}
