package codec_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/romshark/intlbuild"
	"github.com/romshark/intlbuild/internal/codec"
)

func ref(path string, line int) []intlbuild.Reference {
	return []intlbuild.Reference{{Path: path, Line: line}}
}

// catalog is deliberately out of catalog order.
func catalog() []intlbuild.Message {
	return []intlbuild.Message{
		{ID: "nav.home", Message: "Home", Description: "Nav link", References: ref("a.ts", 2)},
		{ID: "nav.about", Message: "About <b>us</b>", References: ref("b.ts", 1)},
		{ID: "+YJVTi", Message: "Hey!", References: ref("a.ts", 1)},
	}
}

var (
	srcCtx = codec.Context{Locale: "en", SourceLocale: "en"}
	deCtx  = codec.Context{Locale: "de", SourceLocale: "en"}
)

func TestJSONEncode(t *testing.T) {
	t.Parallel()
	out, err := codec.JSON{}.Encode(catalog(), srcCtx)
	require.NoError(t, err)
	require.Equal(t, `{
  "+YJVTi": "Hey!",
  "nav": {
    "home": "Home",
    "about": "About <b>us</b>"
  }
}
`, string(out))

	// Input order doesn't matter.
	msgs := catalog()
	msgs[0], msgs[2] = msgs[2], msgs[0]
	again, err := codec.JSON{}.Encode(msgs, srcCtx)
	require.NoError(t, err)
	require.Equal(t, out, again)

	empty, err := codec.JSON{}.Encode(nil, srcCtx)
	require.NoError(t, err)
	require.Equal(t, "{}\n", string(empty))
}

func TestJSONDecode(t *testing.T) {
	t.Parallel()
	msgs, err := codec.JSON{}.Decode([]byte(`{"nav":{"home":"Home","about":""},"x":"y"}`), deCtx)
	require.NoError(t, err)
	require.Equal(t, []intlbuild.Message{
		{ID: "nav.about", Message: ""},
		{ID: "nav.home", Message: "Home"},
		{ID: "x", Message: "y"},
	}, msgs)

	_, err = codec.JSON{}.Decode([]byte(`{"a":1}`), deCtx)
	require.ErrorIs(t, err, codec.ErrInvalidCatalog)
	_, err = codec.JSON{}.Decode([]byte(`{`), deCtx)
	require.ErrorIs(t, err, codec.ErrInvalidCatalog)

	msgs, err = codec.JSON{}.Decode(nil, deCtx)
	require.NoError(t, err)
	require.Empty(t, msgs)

	s, err := codec.JSON{}.ToJSONString([]byte(`{"a":"b"}`), deCtx)
	require.NoError(t, err)
	require.Equal(t, `{"a":"b"}`, s)
}

func TestJSONConflict(t *testing.T) {
	t.Parallel()
	f := func(t *testing.T, msgs ...intlbuild.Message) {
		t.Helper()
		_, err := codec.JSON{}.Encode(msgs, srcCtx)
		require.ErrorIs(t, err, codec.ErrConflict)
	}
	f(t, intlbuild.Message{ID: "a", References: ref("a.ts", 1)},
		intlbuild.Message{ID: "a.b", References: ref("a.ts", 2)})
	f(t, intlbuild.Message{ID: "a.b", References: ref("a.ts", 1)},
		intlbuild.Message{ID: "a", References: ref("a.ts", 2)})
}

const poSource = `msgid ""
msgstr ""
"Language: en\n"
"MIME-Version: 1.0\n"
"Content-Type: text/plain; charset=UTF-8\n"
"Content-Transfer-Encoding: 8bit\n"
"X-Generator: intlbuild\n"

#: a.ts:1
msgid "+YJVTi"
msgstr "Hey!"

#. Nav link
#: a.ts:2
msgctxt "nav"
msgid "home"
msgstr "Home"

#: b.ts:1
msgctxt "nav"
msgid "about"
msgstr "About <b>us</b>"
`

func TestPOSource(t *testing.T) {
	t.Parallel()
	po := codec.NewPO(false)
	out, err := po.Encode(catalog(), srcCtx)
	require.NoError(t, err)
	require.Equal(t, poSource, string(out))

	msgs, err := po.Decode(out, srcCtx)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, intlbuild.Message{
		ID: "nav.home", Message: "Home", Description: "Nav link",
		References: ref("a.ts", 2),
	}, msgs[1])

	s, err := po.ToJSONString(out, srcCtx)
	require.NoError(t, err)
	require.JSONEq(t,
		`{"+YJVTi":"Hey!","nav":{"home":"Home","about":"About <b>us</b>"}}`, s)
}

func TestPOTargetKeepsTranslatorComments(t *testing.T) {
	t.Parallel()
	po := codec.NewPO(false)
	existing := `msgid ""
msgstr ""
"Language: de\n"
"Last-Translator: Jane <jane@example.com>\n"

# Checked by legal.
msgctxt "nav"
msgid "home"
msgstr "Startseite"
`
	_, err := po.Decode([]byte(existing), deCtx)
	require.NoError(t, err)

	msgs := catalog()
	msgs[0].Message = "Startseite"
	msgs[1].Message = ""
	msgs[2].Message = ""
	out, err := po.Encode(msgs, deCtx)
	require.NoError(t, err)
	require.Equal(t, `msgid ""
msgstr ""
"Language: de\n"
"Last-Translator: Jane <jane@example.com>\n"
"MIME-Version: 1.0\n"
"Content-Type: text/plain; charset=UTF-8\n"
"Content-Transfer-Encoding: 8bit\n"
"X-Generator: intlbuild\n"

msgid "+YJVTi"
msgstr ""

# Checked by legal.
#. Nav link
msgctxt "nav"
msgid "home"
msgstr "Startseite"

msgctxt "nav"
msgid "about"
msgstr ""
`, string(out))
}

func TestPOSourceTextAsMsgid(t *testing.T) {
	t.Parallel()
	po := codec.NewPO(true)
	target := []intlbuild.Message{{ID: "+YJVTi", Message: "Hallo!", References: ref("a.ts", 1)}}

	_, err := po.Encode(target, deCtx)
	require.ErrorIs(t, err, codec.ErrMissingSource)

	ctx := deCtx
	ctx.Source = map[string]intlbuild.Message{"+YJVTi": {ID: "+YJVTi", Message: "Hey!"}}
	out, err := po.Encode(target, ctx)
	require.NoError(t, err)
	require.Contains(t, string(out), "msgctxt \"+YJVTi\"\nmsgid \"Hey!\"\nmsgstr \"Hallo!\"\n")
	require.NotContains(t, string(out), "#:")

	msgs, err := po.Decode(out, ctx)
	require.NoError(t, err)
	require.Equal(t, []intlbuild.Message{{ID: "+YJVTi", Message: "Hallo!"}}, msgs)
}

func TestTOML(t *testing.T) {
	t.Parallel()
	out, err := codec.TOML{}.Encode(catalog(), srcCtx)
	require.NoError(t, err)
	require.Equal(t, `"+YJVTi" = "Hey!"
nav.home = { description = "Nav link", other = "Home" }
nav.about = "About <b>us</b>"
`, string(out))

	msgs, err := codec.TOML{}.Decode(out, srcCtx)
	require.NoError(t, err)
	require.Equal(t, []intlbuild.Message{
		{ID: "+YJVTi", Message: "Hey!"},
		{ID: "nav.about", Message: "About <b>us</b>"},
		{ID: "nav.home", Message: "Home", Description: "Nav link"},
	}, msgs)

	s, err := codec.TOML{}.ToJSONString(out, srcCtx)
	require.NoError(t, err)
	require.JSONEq(t,
		`{"+YJVTi":"Hey!","nav":{"home":"Home","about":"About <b>us</b>"}}`, s)
}

func TestTOMLEscaping(t *testing.T) {
	t.Parallel()
	out, err := codec.TOML{}.Encode([]intlbuild.Message{
		{ID: "q", Message: "Say \"hi\"\n\tnow \\ \x01"},
	}, srcCtx)
	require.NoError(t, err)
	require.Equal(t, `q = "Say \"hi\"\n\tnow \\ \u0001"`+"\n", string(out))
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := codec.NewRegistry()
	require.Equal(t, []string{"json", "po", "po-source", "toml"}, r.Names())

	c, err := r.Resolve(context.Background(), "po")
	require.NoError(t, err)
	require.Equal(t, ".po", c.Extension())

	// Every resolution yields a fresh instance.
	c2, err := r.Resolve(context.Background(), "po")
	require.NoError(t, err)
	require.NotSame(t, c, c2)

	_, err = r.Resolve(context.Background(), "yaml")
	require.ErrorIs(t, err, codec.ErrUnknownCodec)

	r.Register("yaml", func() codec.Codec { return codec.JSON{} })
	_, err = r.Resolve(context.Background(), "yaml")
	require.NoError(t, err)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	p := filepath.Join(t.TempDir(), "codec.sh")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0o755))
	return p
}

// Exec tests don't run in parallel: executing a script while another
// goroutine writes one can fail with ETXTBSY.
func TestExec(t *testing.T) {
	script := writeScript(t, `case "$1" in
describe) echo '{"operations":["decode","encode","to-json"],"extension":".msgs"}' ;;
decode|encode) cat ;;
to-json) echo '{}' ;;
*) echo "unknown operation" >&2; exit 2 ;;
esac
`)
	ctx := context.Background()
	c, err := codec.NewRegistry().Resolve(ctx, codec.ExecPrefix+script)
	require.NoError(t, err)
	require.Equal(t, ".msgs", c.Extension())

	out, err := c.Encode(catalog(), deCtx)
	require.NoError(t, err)
	msgs, err := c.Decode(out, deCtx)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "+YJVTi", msgs[0].ID)
	require.Empty(t, msgs[0].References)

	s, err := c.ToJSONString(out, deCtx)
	require.NoError(t, err)
	require.Equal(t, "{}\n", s)
}

func TestExecInvalid(t *testing.T) {
	ctx := context.Background()
	f := func(t *testing.T, path string) {
		t.Helper()
		_, err := codec.Check(ctx, path)
		require.ErrorIs(t, err, codec.ErrInvalidCodec)
		_, err = codec.NewRegistry().Resolve(ctx, codec.ExecPrefix+path)
		require.ErrorIs(t, err, codec.ErrInvalidCodec)
	}
	f(t, "")
	f(t, filepath.Join(t.TempDir(), "does-not-exist"))
	f(t, writeScript(t, `echo '{"operations":["decode","encode"],"extension":".x"}'`))
	f(t, writeScript(t, `echo '{"operations":["decode","encode","to-json"],"extension":"x"}'`))
	f(t, writeScript(t, `echo 'not json'`))
	f(t, writeScript(t, `exit 1`))
}
