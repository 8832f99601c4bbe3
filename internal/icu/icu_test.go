package icu_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/romshark/intlbuild/internal/icu"
)

func TestCompile(t *testing.T) {
	t.Parallel()

	f := func(t *testing.T, expect, input string) {
		t.Helper()
		c, err := icu.Compile(input)
		require.NoError(t, err, input)
		b, err := json.Marshal(c)
		require.NoError(t, err)
		require.JSONEq(t, expect, string(b), input)
	}

	f(t, `""`, ``)
	f(t, `"Hello"`, `Hello`)
	f(t, `"don't"`, `don't`)
	f(t, `"It's"`, `It''s`)
	f(t, `"{literal}"`, `'{literal}'`)
	f(t, `"a {b} 'c'"`, `a '{b}' ''c''`)
	f(t, `"#1"`, `#1`)
	f(t, `"a < b > c"`, `a < b > c`)
	f(t, `["Hi ",["name"],"!"]`, `Hi {name}!`)
	f(t, `[["n","number"]]`, `{ n , number }`)
	f(t, `[["d","date","short"]]`, `{d, date, short}`)
	f(t, `[["p","number","::currency/EUR"]]`, `{p, number, ::currency/EUR}`)
	f(t, `[["n","plural",{"=0":"none","one":[["#"]," item"],"other":[["#"]," items"]}]]`,
		`{n, plural, =0 {none} one {# item} other {# items}}`)
	f(t, `[["n","plural",{"one":"x","other":[["#"]]},1]]`,
		`{n, plural, offset:1 one {x} other {#}}`)
	f(t, `[["n","selectordinal",{"one":[["#"],"st"],"other":[["#"],"th"]}]]`,
		`{n, selectordinal, one {#st} other {#th}}`)
	f(t, `[["g","select",{"female":"She","other":"They"}]]`,
		`{g, select, female {She} other {They}}`)
	f(t, `[["n","plural",{"other":[["g","select",{"other":"#"}]]}]]`,
		`{n, plural, other {{g, select, other {#}}}}`)
	f(t, `[["n","plural",{"other":"#"}]]`, `{n, plural, other {'#'}}`)
	f(t, `["Read ",["b","tag","more"]]`, `Read <b>more</b>`)
	f(t, `[["b","tag",[["name"]]]]`, `<b>{name}</b>`)
	f(t, `[["a","tag",["x",["b","tag","y"]]]]`, `<a>x<b>y</b></a>`)
	f(t, `["line",["br","tag",""]]`, `line<br/>`)
	f(t, `"<b>"`, `'<b>'`)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	f := func(t *testing.T, expect error, offset int, input string) {
		t.Helper()
		_, err := icu.Parse(input)
		require.ErrorIs(t, err, expect, input)
		var e *icu.Error
		require.ErrorAs(t, err, &e)
		require.Equal(t, offset, e.Offset, input)
	}

	f(t, icu.ErrUnclosedArgument, 1, `{`)
	f(t, icu.ErrUnclosedArgument, 5, `Hi {n`)
	f(t, icu.ErrEmptyArgument, 1, `{}`)
	f(t, icu.ErrUnexpectedChar, 0, `}`)
	f(t, icu.ErrUnknownType, 4, `{n, foo}`)
	f(t, icu.ErrMissingOther, 20, `{n, plural, one {x}}`)
	f(t, icu.ErrDuplicateSelector, 18, `{g, select, a {x} a {y} other {z}}`)
	f(t, icu.ErrInvalidOffset, 20, `{n, plural, offset: other {x}}`)
	f(t, icu.ErrUnclosedTag, 4, `<b>x`)
	f(t, icu.ErrMismatchedTag, 4, `<b>x</i>`)
	f(t, icu.ErrMismatchedTag, 1, `x</b>`)
	f(t, icu.ErrUnclosedTag, 22, `{n, plural, other {<b>}}`)
}

func TestParse(t *testing.T) {
	t.Parallel()
	nodes, err := icu.Parse(`{n, plural, offset:2 =1 {one} other {<b>#</b>}}`)
	require.NoError(t, err)
	require.Equal(t, []icu.Node{icu.Plural{
		Arg:    "n",
		Offset: 2,
		Options: []icu.Option{
			{Selector: "=1", Value: []icu.Node{icu.Text("one")}},
			{Selector: "other", Value: []icu.Node{
				icu.Tag{Name: "b", Children: []icu.Node{icu.Pound{}}},
			}},
		},
	}}, nodes)
}
