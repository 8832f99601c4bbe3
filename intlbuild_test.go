package intlbuild_test

import (
	"testing"

	"github.com/romshark/intlbuild"
	"github.com/stretchr/testify/require"
)

func TestSortReferences(t *testing.T) {
	t.Parallel()
	refs := intlbuild.SortReferences([]intlbuild.Reference{
		{Path: "b.ts", Line: 3},
		{Path: "a.ts", Line: 10},
		{Path: "a.ts", Line: 2},
		{Path: "b.ts", Line: 3},
	})
	require.Equal(t, []intlbuild.Reference{
		{Path: "a.ts", Line: 2},
		{Path: "a.ts", Line: 10},
		{Path: "b.ts", Line: 3},
	}, refs)
}

func TestMergeReferencesOrderIndependent(t *testing.T) {
	t.Parallel()
	a := []intlbuild.Reference{{Path: "a.ts", Line: 1}}
	b := []intlbuild.Reference{{Path: "b.ts", Line: 1}}
	require.Equal(t, intlbuild.MergeReferences(a, b), intlbuild.MergeReferences(b, a))
	require.Equal(t, "a.ts", intlbuild.MergeReferences(b, a)[0].Path)
}

func TestSortMessages(t *testing.T) {
	t.Parallel()
	msgs := []intlbuild.Message{
		{ID: "z", References: []intlbuild.Reference{{Path: "a.ts", Line: 5}}},
		{ID: "orphaned"},
		{ID: "b", References: []intlbuild.Reference{{Path: "a.ts", Line: 1}}},
		{ID: "a", References: []intlbuild.Reference{{Path: "a.ts", Line: 1}}},
		{ID: "c", References: []intlbuild.Reference{{Path: "0.ts", Line: 9}}},
	}
	intlbuild.SortMessages(msgs)
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	require.Equal(t, []string{"c", "a", "b", "z", "orphaned"}, ids)
}

func TestSplitJoinID(t *testing.T) {
	t.Parallel()
	f := func(t *testing.T, id, expectNS, expectKey string) {
		t.Helper()
		ns, key := intlbuild.SplitID(id)
		require.Equal(t, expectNS, ns)
		require.Equal(t, expectKey, key)
		require.Equal(t, id, intlbuild.JoinID(ns, key))
	}
	f(t, "+YJVTi", "", "+YJVTi")
	f(t, "nav.home", "nav", "home")
	f(t, "a.b.c", "a.b", "c")
}

func TestNamespacesRequire(t *testing.T) {
	t.Parallel()
	var n intlbuild.Namespaces
	n.Require("nav", "home")
	n.Require("nav", "about")
	n.Require("footer")
	require.True(t, n.Has("nav", "home"))
	require.False(t, n.Has("nav"))
	require.True(t, n.Has("footer", "anything"))

	b, err := n.MarshalJSON()
	require.NoError(t, err)
	require.JSONEq(t, `{"footer":true,"nav":{"about":true,"home":true}}`, string(b))

	n.Require("nav")
	b, err = n.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `{"footer":true,"nav":true}`, string(b))

	n.Require()
	b, err = n.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `true`, string(b))
}

func TestNamespacesMerge(t *testing.T) {
	t.Parallel()
	var a, b intlbuild.Namespaces
	a.Require("x", "1")
	b.Require("x", "2")
	b.Require("y")
	a.Merge(&b)
	require.True(t, a.Has("x", "1"))
	require.True(t, a.Has("x", "2"))
	require.True(t, a.Has("y"))
	require.False(t, a.IsEmpty())
	require.True(t, new(intlbuild.Namespaces).IsEmpty())
}

func TestManifestRoundTrip(t *testing.T) {
	t.Parallel()
	ns := new(intlbuild.Namespaces)
	ns.Require("About", "title")
	m := intlbuild.Manifest{
		"/[locale]/about/page": {HasProvider: false, Namespaces: ns},
		"/[locale]/layout":     {HasProvider: true, Namespaces: new(intlbuild.Namespaces)},
	}
	b, err := m.Encode()
	require.NoError(t, err)
	decoded, err := intlbuild.DecodeManifest(b)
	require.NoError(t, err)
	require.True(t, decoded.Lookup("/[locale]/about/page").Namespaces.Has("About", "title"))
	require.True(t, decoded.Lookup("/[locale]/layout").HasProvider)

	unknown := decoded.Lookup("/nope")
	require.False(t, unknown.HasProvider)
	require.True(t, unknown.Namespaces.IsEmpty())
}

func TestPick(t *testing.T) {
	t.Parallel()
	messages := map[string]any{
		"nav":    map[string]any{"home": "Home", "about": "About"},
		"footer": map[string]any{"legal": "Legal"},
		"+YJVTi": "Hey!",
	}
	var ns intlbuild.Namespaces
	ns.Require("nav", "home")
	ns.Require("+YJVTi")
	ns.Require("missing", "key")
	require.Equal(t, map[string]any{
		"nav":    map[string]any{"home": "Home"},
		"+YJVTi": "Hey!",
	}, intlbuild.Pick(messages, &ns))

	require.Empty(t, intlbuild.Pick(messages, nil))

	var all intlbuild.Namespaces
	all.RequireAll()
	require.Equal(t, messages, intlbuild.Pick(messages, &all))
}
