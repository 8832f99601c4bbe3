package pipeline_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"

	"github.com/romshark/intlbuild"
	"github.com/romshark/intlbuild/internal/config"
	"github.com/romshark/intlbuild/internal/msgkey"
	"github.com/romshark/intlbuild/internal/pipeline"
)

const project = `
-- src/app/[locale]/page.tsx --
import Greeting from '@/components/Greeting';
export default function Page() { return <Greeting />; }
-- src/app/[locale]/layout.tsx --
import {NextIntlClientProvider} from 'next-intl';
import {getExtracted} from 'next-intl/server';
export default async function Layout({children}) {
  const t = await getExtracted('meta');
  return <NextIntlClientProvider title={t('Welcome')}>{children}</NextIntlClientProvider>;
}
-- src/components/Greeting.tsx --
'use client';
import {useExtracted} from 'next-intl';
export default function Greeting() {
  const t = useExtracted();
  return <p>{t('Hey!')}</p>;
}
-- messages/de.json --
{}
`

func setup(t *testing.T) (afero.Fs, *pipeline.Pipeline, *prometheus.Registry) {
	t.Helper()
	fs := afero.NewMemMapFs()
	for _, f := range txtar.Parse([]byte(project)).Files {
		require.NoError(t, afero.WriteFile(fs, f.Name, f.Data, 0o644))
	}
	reg := prometheus.NewRegistry()
	p, err := pipeline.New(context.Background(), config.Default(), pipeline.Options{
		FS:         fs,
		Log:        zerolog.Nop(),
		Registerer: reg,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, p.Close(context.Background())) })
	return fs, p, reg
}

func readJSON(t *testing.T, fs afero.Fs, path string) map[string]any {
	t.Helper()
	b, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	var v map[string]any
	require.NoError(t, json.Unmarshal(b, &v))
	return v
}

func TestExtract(t *testing.T) {
	t.Parallel()
	fs, p, reg := setup(t)

	r, err := p.Extract(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"de", "en"}, r.Written)
	require.Equal(t, 2, r.Messages)

	en := readJSON(t, fs, "messages/en.json")
	require.Equal(t, "Hey!", en["+YJVTi"])
	require.Len(t, en["meta"], 1)
	de := readJSON(t, fs, "messages/de.json")
	require.Equal(t, "", de["+YJVTi"])

	n, err := testutil.GatherAndCount(reg, "intlbuild_files_scanned_total")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 3.0, testutil.ToFloat64(p.Metrics().FilesScanned))
}

func TestWriteManifest(t *testing.T) {
	t.Parallel()
	fs, p, _ := setup(t)

	m, err := p.WriteManifest(context.Background())
	require.NoError(t, err)
	require.Len(t, m, 2)

	b, err := afero.ReadFile(fs, filepath.Join(".intlbuild", "manifest.json"))
	require.NoError(t, err)
	decoded, err := intlbuild.DecodeManifest(b)
	require.NoError(t, err)

	page := decoded.Lookup("/[locale]/page")
	require.False(t, page.HasProvider)
	require.True(t, page.Namespaces.Has("+YJVTi"))

	layout := decoded.Lookup("/[locale]/layout")
	require.True(t, layout.HasProvider)
	require.True(t, layout.Namespaces.IsEmpty())

	// Pruning the source catalog for the page.
	en := map[string]any{"+YJVTi": "Hey!", "meta": map[string]any{"x": "Welcome"}}
	require.Equal(t, map[string]any{"+YJVTi": "Hey!"}, intlbuild.Pick(en, page.Namespaces))
}

func TestCompileCatalogs(t *testing.T) {
	t.Parallel()
	fs, p, _ := setup(t)
	ctx := context.Background()

	_, err := p.Extract(ctx)
	require.NoError(t, err)

	files, err := p.CompileCatalogs(ctx, "dist")
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join("dist", "en.json"),
		filepath.Join("dist", "de.json"),
	}, files)
	require.Equal(t, "Hey!", readJSON(t, fs, files[0])["+YJVTi"])
	require.Equal(t, "", readJSON(t, fs, files[1])["+YJVTi"])
}

func TestTransformThroughLoader(t *testing.T) {
	t.Parallel()
	fs, p, _ := setup(t)
	ctx := context.Background()

	src, err := afero.ReadFile(fs, "src/components/Greeting.tsx")
	require.NoError(t, err)
	out, err := p.Loader.TransformSource(ctx, "src/components/Greeting.tsx", src)
	require.NoError(t, err)
	require.True(t, out.Transformed)
	require.Contains(t, string(out.Code), `t("+YJVTi")`)
}

func TestTransformKeepsMessagesOfOtherFiles(t *testing.T) {
	t.Parallel()
	fs, p, _ := setup(t)
	ctx := context.Background()
	welcome := msgkey.Derive("Welcome")
	de, err := json.Marshal(map[string]any{
		"+YJVTi": "Hallo!",
		"meta":   map[string]any{welcome: "Willkommen"},
	})
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, "messages/de.json", de, 0o644))

	src, err := afero.ReadFile(fs, "src/components/Greeting.tsx")
	require.NoError(t, err)
	_, err = p.Loader.TransformSource(ctx, "src/components/Greeting.tsx", src)
	require.NoError(t, err)
	require.NoError(t, p.Manager.Flush(ctx))

	en := readJSON(t, fs, "messages/en.json")
	require.Equal(t, "Hey!", en["+YJVTi"])
	require.Equal(t, map[string]any{welcome: "Welcome"}, en["meta"],
		"messages of files never transformed")
	deCatalog := readJSON(t, fs, "messages/de.json")
	require.Equal(t, "Hallo!", deCatalog["+YJVTi"])
	require.Equal(t, map[string]any{welcome: "Willkommen"}, deCatalog["meta"])
}

func TestInvalidConfig(t *testing.T) {
	t.Parallel()
	conf := config.Default()
	conf.Format = "xliff"
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("src", 0o755))
	require.NoError(t, fs.MkdirAll("messages", 0o755))

	_, err := pipeline.New(context.Background(), conf, pipeline.Options{FS: fs})
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}
