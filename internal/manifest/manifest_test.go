package manifest_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"

	"github.com/romshark/intlbuild"
	"github.com/romshark/intlbuild/internal/analyzer/tsx"
	"github.com/romshark/intlbuild/internal/depgraph"
	"github.com/romshark/intlbuild/internal/manifest"
	"github.com/romshark/intlbuild/internal/metrics"
)

const project = `
-- src/app/[locale]/page.tsx --
import A from '@/components/a';
export default function Page() { return <A />; }
-- src/app/[locale]/layout.tsx --
import {NextIntlClientProvider} from 'next-intl';
export default function Layout({children}) {
  return <NextIntlClientProvider>{children}</NextIntlClientProvider>;
}
-- src/app/[locale]/about/Header.tsx --
export const notAnEntry = 1;
-- src/app/[locale]/about/page.ts --
export default function About() { return null; }
-- src/components/a.tsx --
import {useTranslations} from 'next-intl';
import B from './b';
export default function A() {
  const t = useTranslations('a');
  return <B label={t('only')} />;
}
-- src/components/b.tsx --
'use client';
import {useTranslations} from 'next-intl';
import C from './c';
export default function B() {
  const t = useTranslations('b');
  return <C>{t('title')}</C>;
}
-- src/components/c.tsx --
import 'server-only';
import {useTranslations} from 'next-intl';
import D from './d';
export default function C() {
  const t = useTranslations('c');
  return <D>{t('secret')}</D>;
}
-- src/components/d.tsx --
import {useExtracted} from 'next-intl';
export default function D() {
  const t = useExtracted('d');
  return t('Hey!');
}
-- src/cycle/page.tsx --
import X from './x';
export default function Page() { return <X />; }
-- src/cycle/x.tsx --
'use client';
import {useTranslations} from 'next-intl';
import Y from './y';
import Page from './page';
export default function X() {
  const t = useTranslations('cyc');
  return <Y>{t('x')}</Y>;
}
-- src/cycle/y.tsx --
import {useTranslations} from 'next-intl';
import X from './x';
export default function Y() {
  const t = useTranslations('cyc');
  return <X>{t('y')}</X>;
}
-- src/dynamic/page.tsx --
'use client';
import {useTranslations} from 'next-intl';
export default function Page({k}) {
  const t = useTranslations('nav');
  return t(k);
}
-- src/dynamic/all.tsx --
'use client';
import {useTranslations} from 'next-intl';
export default function All({k}) {
  const t = useTranslations('nav');
  const g = useTranslations();
  return t('home') + g(k);
}
-- src/dynamic/empty.tsx --
'use client';
import {useTranslations} from 'next-intl';
export default function Empty() {
  const t = useTranslations();
  return t('') + t('nav.home');
}
`

func setup(t *testing.T) (afero.Fs, *manifest.Builder, *metrics.Metrics) {
	t.Helper()
	fs := afero.NewMemMapFs()
	for _, f := range txtar.Parse([]byte(project)).Files {
		require.NoError(t, afero.WriteFile(fs, f.Name, f.Data, 0o644))
	}
	r := depgraph.NewResolver(fs, []string{"src"}, map[string]string{"@/": "src"})
	g := depgraph.NewBuilder(fs, r, tsx.New(), zerolog.Nop())
	m := metrics.New(nil)
	return fs, manifest.NewBuilder(g, zerolog.Nop(), m), m
}

func requireNamespaces(t *testing.T, expect string, ns *intlbuild.Namespaces) {
	t.Helper()
	b, err := json.Marshal(ns)
	require.NoError(t, err)
	require.JSONEq(t, expect, string(b))
}

func TestClientBoundaryPropagation(t *testing.T) {
	t.Parallel()
	_, b, _ := setup(t)
	e, err := b.BuildEntry(context.Background(), "src/app/[locale]/page.tsx")
	require.NoError(t, err)
	require.False(t, e.HasProvider)
	// a is server code, c is excluded by its server boundary.
	requireNamespaces(t, `{"b":{"title":true},"d":{"+YJVTi":true}}`, e.Namespaces)
}

func TestCycle(t *testing.T) {
	t.Parallel()
	_, b, _ := setup(t)
	e, err := b.BuildEntry(context.Background(), "src/cycle/page.tsx")
	require.NoError(t, err)
	requireNamespaces(t, `{"cyc":{"x":true,"y":true}}`, e.Namespaces)
}

func TestDynamicUsages(t *testing.T) {
	t.Parallel()
	_, b, _ := setup(t)

	e, err := b.BuildEntry(context.Background(), "src/dynamic/page.tsx")
	require.NoError(t, err)
	requireNamespaces(t, `{"nav":true}`, e.Namespaces)

	e, err = b.BuildEntry(context.Background(), "src/dynamic/all.tsx")
	require.NoError(t, err)
	requireNamespaces(t, `true`, e.Namespaces)

	e, err = b.BuildEntry(context.Background(), "src/dynamic/empty.tsx")
	require.NoError(t, err)
	requireNamespaces(t, `{"nav":{"home":true}}`, e.Namespaces)
}

func TestMissingEntry(t *testing.T) {
	t.Parallel()
	_, b, _ := setup(t)
	_, err := b.BuildEntry(context.Background(), "src/app/missing.tsx")
	require.Error(t, err)
}

func TestDiscoverAndBuild(t *testing.T) {
	t.Parallel()
	fs, b, m := setup(t)

	entries, err := manifest.DiscoverEntries(fs, "src/app")
	require.NoError(t, err)
	require.Equal(t, []manifest.Entry{
		{Key: "/[locale]/about/page", File: "src/app/[locale]/about/page.ts"},
		{Key: "/[locale]/layout", File: "src/app/[locale]/layout.tsx"},
		{Key: "/[locale]/page", File: "src/app/[locale]/page.tsx"},
	}, entries)

	man, err := b.Build(context.Background(), entries)
	require.NoError(t, err)
	require.Len(t, man, 3)
	require.True(t, man["/[locale]/layout"].HasProvider)
	require.True(t, man["/[locale]/layout"].Namespaces.IsEmpty())
	require.True(t, man["/[locale]/page"].Namespaces.Has("b", "title"))
	require.False(t, man["/[locale]/page"].Namespaces.Has("a", "only"))
	require.Equal(t, 3.0, testutil.ToFloat64(m.ManifestEntries))

	encoded, err := man.Encode()
	require.NoError(t, err)
	decoded, err := intlbuild.DecodeManifest(encoded)
	require.NoError(t, err)
	require.True(t, decoded.Lookup("/[locale]/layout").HasProvider)
	require.True(t, decoded.Lookup("/unknown").Namespaces.IsEmpty())
}
