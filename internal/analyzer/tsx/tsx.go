// Package tsx analyzes TypeScript and JavaScript sources using tree-sitter.
package tsx

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/romshark/intlbuild"
	"github.com/romshark/intlbuild/internal/analyzer"
	"github.com/romshark/intlbuild/internal/msgkey"
	"github.com/romshark/intlbuild/internal/strfmt"
)

const (
	DefaultModulePrefix = "next-intl"
	DefaultProvider     = "NextIntlClientProvider"

	directiveClient  = "use client"
	directiveServer  = "use server"
	moduleServerOnly = "server-only"
)

// hooks maps the recognized translator factories to whether they
// produce an extracted translator. Extracted factories are renamed to
// their key based counterpart when rewriting.
var hooks = map[string]struct {
	extracted bool
	rename    string
}{
	"useExtracted":    {true, "useTranslations"},
	"getExtracted":    {true, "getTranslations"},
	"useTranslations": {false, ""},
	"getTranslations": {false, ""},
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithModulePrefix sets the import path prefix translator factories
// are recognized from.
func WithModulePrefix(prefix string) Option {
	return func(a *Analyzer) {
		if prefix != "" {
			a.modulePrefix = prefix
		}
	}
}

// WithProvider sets the JSX element name marking a message provider.
func WithProvider(name string) Option {
	return func(a *Analyzer) {
		if name != "" {
			a.provider = name
		}
	}
}

// Analyzer implements analyzer.Analyzer for TS, TSX, JS and JSX sources.
// It's safe for concurrent use, every call creates its own parser.
type Analyzer struct {
	modulePrefix string
	provider     string
}

var _ analyzer.Analyzer = new(Analyzer)

func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		modulePrefix: DefaultModulePrefix,
		provider:     DefaultProvider,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func language(path string) *sitter.Language {
	switch filepath.Ext(path) {
	case ".tsx", ".jsx", ".js", ".mjs", ".cjs":
		// The TSX grammar is a superset accepting JSX in plain JavaScript.
		return tsx.GetLanguage()
	}
	return typescript.GetLanguage()
}

func (a *Analyzer) Analyze(
	ctx context.Context, path string, src []byte,
) (*analyzer.Result, error) {
	if !analyzer.Supported(path) {
		return nil, fmt.Errorf("%w: %s", analyzer.ErrUnsupportedInput, path)
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(language(path))

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		pos := analyzer.Position{Filename: path, Line: 1, Column: 1}
		if n := firstError(root); n != nil {
			pos = position(path, n)
		}
		return nil, &analyzer.SyntaxError{Pos: pos}
	}

	w := &walker{
		analyzer:    a,
		path:        path,
		src:         src,
		bindings: map[string]binding{},
		result:   new(analyzer.Result),
		imported: map[string]struct{}{},
	}
	w.directives(root)
	w.walk(root)
	return w.result, nil
}

// binding is a translator factory imported into the file.
type binding struct {
	extracted bool
}

// translator is a variable holding the result of a factory call.
type translator struct {
	extracted bool
	namespace string

	// dynamicNS is true when the namespace isn't a string literal.
	dynamicNS bool
}

type walker struct {
	analyzer *Analyzer
	path     string
	src      []byte

	// bindings maps local identifiers to imported factories.
	bindings map[string]binding

	// scopes are the lexical scopes enclosing the current node,
	// innermost last.
	scopes []scope

	imported map[string]struct{}
	result   *analyzer.Result
}

// scope maps the names declared in one lexical scope to their
// translator. A nil translator is any other declaration shadowing
// outer translators of the same name.
type scope map[string]*translator

func (w *walker) push() { w.scopes = append(w.scopes, scope{}) }
func (w *walker) pop()  { w.scopes = w.scopes[:len(w.scopes)-1] }

func (w *walker) declare(name string, t *translator) {
	w.scopes[len(w.scopes)-1][name] = t
}

// lookup resolves name to the translator of its innermost declaration.
func (w *walker) lookup(name string) (translator, bool) {
	for i := len(w.scopes) - 1; i >= 0; i-- {
		if t, ok := w.scopes[i][name]; ok {
			if t == nil {
				return translator{}, false
			}
			return *t, true
		}
	}
	return translator{}, false
}

// declareBlock declares the variables of the statements of block before
// they're walked, so functions defined earlier in the block see them.
func (w *walker) declareBlock(block *sitter.Node) {
	for i := range int(block.NamedChildCount()) {
		stmt := block.NamedChild(i)
		if stmt.Type() == "export_statement" {
			if stmt = stmt.ChildByFieldName("declaration"); stmt == nil {
				continue
			}
		}
		switch stmt.Type() {
		case "lexical_declaration", "variable_declaration":
			for j := range int(stmt.NamedChildCount()) {
				if d := stmt.NamedChild(j); d.Type() == "variable_declarator" {
					w.declarator(d)
				}
			}
		}
	}
}

// declareParams shadows translators by the simple parameters of
// function n.
func (w *walker) declareParams(n *sitter.Node) {
	if p := n.ChildByFieldName("parameter"); p != nil && p.Type() == "identifier" {
		w.declare(p.Content(w.src), nil)
	}
	params := n.ChildByFieldName("parameters")
	if params == nil {
		return
	}
	for i := range int(params.NamedChildCount()) {
		p := params.NamedChild(i)
		if pattern := p.ChildByFieldName("pattern"); pattern != nil {
			p = pattern
		}
		if p.Type() == "identifier" {
			w.declare(p.Content(w.src), nil)
		}
	}
}

// directives reads the directive prologue of the program.
func (w *walker) directives(root *sitter.Node) {
	for i := range int(root.NamedChildCount()) {
		n := root.NamedChild(i)
		switch n.Type() {
		case "comment", "hash_bang_line":
			continue
		case "expression_statement":
			s := n.NamedChild(0)
			if s == nil || s.Type() != "string" {
				return
			}
			v, ok := w.literal(s)
			if !ok {
				return
			}
			switch v {
			case directiveClient:
				w.result.ClientBoundary = true
			case directiveServer:
				w.result.ServerBoundary = true
			}
			continue
		}
		return
	}
}

func (w *walker) walk(n *sitter.Node) {
	switch n.Type() {
	case "program":
		w.push()
		defer w.pop()
		// Imports are hoisted, bind the factories before any declaration.
		for i := range int(n.NamedChildCount()) {
			if c := n.NamedChild(i); c.Type() == "import_statement" {
				w.importStatement(c)
			}
		}
		w.declareBlock(n)
	case "statement_block":
		w.push()
		defer w.pop()
		w.declareBlock(n)
	case "function_declaration", "generator_function_declaration",
		"function_expression", "function", "generator_function",
		"arrow_function", "method_definition":
		w.push()
		defer w.pop()
		w.declareParams(n)
	case "import_statement":
		return
	case "export_statement":
		if s := n.ChildByFieldName("source"); s != nil {
			w.addImport(s)
		}
	case "variable_declarator":
		w.declarator(n)
	case "call_expression":
		w.call(n)
	case "jsx_opening_element", "jsx_self_closing_element":
		if name := n.ChildByFieldName("name"); name != nil {
			if w.isProvider(name.Content(w.src)) {
				w.result.HasProvider = true
			}
		}
	}
	for i := range int(n.NamedChildCount()) {
		w.walk(n.NamedChild(i))
	}
}

func (w *walker) isProvider(name string) bool {
	p := w.analyzer.provider
	return name == p || strings.HasSuffix(name, "."+p)
}

func (w *walker) addImport(source *sitter.Node) {
	spec, ok := w.literal(source)
	if !ok || spec == "" {
		return
	}
	if _, ok := w.imported[spec]; ok {
		return
	}
	w.imported[spec] = struct{}{}
	w.result.Imports = append(w.result.Imports, spec)
}

func (w *walker) importStatement(n *sitter.Node) {
	source := n.ChildByFieldName("source")
	if source == nil {
		return
	}
	w.addImport(source)
	spec, _ := w.literal(source)

	var clause *sitter.Node
	for i := range int(n.NamedChildCount()) {
		if c := n.NamedChild(i); c.Type() == "import_clause" {
			clause = c
			break
		}
	}
	if clause == nil {
		if spec == moduleServerOnly {
			w.result.ServerBoundary = true
		}
		return
	}
	if !strings.HasPrefix(spec, w.analyzer.modulePrefix) {
		return
	}
	for i := range int(clause.NamedChildCount()) {
		named := clause.NamedChild(i)
		if named.Type() != "named_imports" {
			continue
		}
		for j := range int(named.NamedChildCount()) {
			w.importSpecifier(named.NamedChild(j))
		}
	}
}

func (w *walker) importSpecifier(n *sitter.Node) {
	if n.Type() != "import_specifier" {
		return
	}
	name := n.ChildByFieldName("name")
	if name == nil {
		return
	}
	hook, ok := hooks[name.Content(w.src)]
	if !ok {
		return
	}
	local := name.Content(w.src)
	alias := n.ChildByFieldName("alias")
	if alias != nil {
		local = alias.Content(w.src)
	}
	w.bindings[local] = binding{extracted: hook.extracted}
	if !hook.extracted {
		return
	}
	// Keep the local name so call sites need no rewriting.
	text := hook.rename + " as " + local
	if alias != nil {
		text = hook.rename
	}
	w.result.Edits = append(w.result.Edits, analyzer.Edit{
		Start: int(name.StartByte()),
		End:   int(name.EndByte()),
		Text:  text,
	})
}

// declarator declares the variable of n in the innermost scope.
// It's a translator for `const t = useExtracted(...)` and
// `const t = await getExtracted(...)`.
func (w *walker) declarator(n *sitter.Node) {
	name := n.ChildByFieldName("name")
	if name == nil || name.Type() != "identifier" {
		return
	}
	var t *translator
	if v, ok := w.translatorOf(n.ChildByFieldName("value")); ok {
		t = &v
	}
	w.declare(name.Content(w.src), t)
}

// translatorOf returns the translator created by the initializer value.
func (w *walker) translatorOf(value *sitter.Node) (translator, bool) {
	if value == nil {
		return translator{}, false
	}
	if value.Type() == "await_expression" {
		if value.NamedChildCount() == 0 {
			return translator{}, false
		}
		value = value.NamedChild(0)
	}
	if value.Type() != "call_expression" {
		return translator{}, false
	}
	fn := value.ChildByFieldName("function")
	if fn == nil || fn.Type() != "identifier" {
		return translator{}, false
	}
	b, ok := w.bindings[fn.Content(w.src)]
	if !ok {
		return translator{}, false
	}
	t := translator{extracted: b.extracted}
	if args := value.ChildByFieldName("arguments"); args != nil && args.NamedChildCount() > 0 {
		t.namespace, t.dynamicNS = w.namespaceArg(args.NamedChild(0))
	}
	return t, true
}

// namespaceArg reads `"ns"` or `{namespace: "ns"}`.
func (w *walker) namespaceArg(n *sitter.Node) (namespace string, dynamic bool) {
	switch n.Type() {
	case "string", "template_string":
		if v, ok := w.literal(n); ok {
			return v, false
		}
		return "", true
	case "object":
		p := w.property(n, "namespace")
		if p == nil {
			return "", false
		}
		if v, ok := w.literal(p); ok {
			return v, false
		}
		return "", true
	case "undefined":
		return "", false
	}
	return "", true
}

// property returns the value of the literal-keyed property of object n.
func (w *walker) property(n *sitter.Node, key string) *sitter.Node {
	for i := range int(n.NamedChildCount()) {
		p := n.NamedChild(i)
		if p.Type() != "pair" {
			continue
		}
		k := p.ChildByFieldName("key")
		if k == nil {
			continue
		}
		var name string
		switch k.Type() {
		case "property_identifier":
			name = k.Content(w.src)
		case "string":
			name, _ = w.literal(k)
		default:
			continue
		}
		if name == key {
			return p.ChildByFieldName("value")
		}
	}
	return nil
}

func (w *walker) call(n *sitter.Node) {
	fn := n.ChildByFieldName("function")
	args := n.ChildByFieldName("arguments")
	if fn == nil || args == nil {
		return
	}

	switch fn.Type() {
	case "import":
		if args.NamedChildCount() > 0 {
			w.addImport(args.NamedChild(0))
		}
		return
	case "identifier":
		name := fn.Content(w.src)
		if name == "require" {
			if args.NamedChildCount() > 0 {
				w.addImport(args.NamedChild(0))
			}
			return
		}
		if t, ok := w.lookup(name); ok {
			w.translate(t, n, args, false)
		}
	case "member_expression":
		obj, prop := fn.ChildByFieldName("object"), fn.ChildByFieldName("property")
		if obj == nil || prop == nil || obj.Type() != "identifier" {
			return
		}
		t, ok := w.lookup(obj.Content(w.src))
		if !ok {
			return
		}
		switch prop.Content(w.src) {
		case "rich", "markup":
			w.translate(t, n, args, false)
		case "has":
			w.translate(t, n, args, true)
		}
	}
}

// translate handles a call of translator t.
// checkOnly marks `t.has`, which references a message without declaring it.
func (w *walker) translate(t translator, call, args *sitter.Node, checkOnly bool) {
	if args.NamedChildCount() == 0 {
		return
	}
	arg := args.NamedChild(0)

	if !t.extracted {
		if t.dynamicNS {
			w.result.Usages = append(w.result.Usages, analyzer.Usage{Dynamic: true})
			return
		}
		key, ok := w.literal(arg)
		if !ok {
			w.result.Usages = append(w.result.Usages, analyzer.Usage{
				Namespace: t.namespace, Dynamic: true,
			})
			return
		}
		if key == "" {
			w.errorf(arg, "%v", analyzer.ErrKeyEmpty)
			return
		}
		w.result.Usages = append(w.result.Usages, analyzer.Usage{
			Namespace: t.namespace, Key: key,
		})
		return
	}

	if t.dynamicNS {
		w.errorf(call, "%v: namespace", analyzer.ErrNonLiteral)
		w.result.Usages = append(w.result.Usages, analyzer.Usage{Dynamic: true})
		return
	}

	var id, text, description string
	switch arg.Type() {
	case "string", "template_string":
		v, ok := w.literal(arg)
		if !ok {
			w.errorf(arg, "%v", analyzer.ErrNonLiteral)
			return
		}
		text = v
	case "object":
		v := w.property(arg, "message")
		if v == nil {
			w.errorf(arg, "%v", analyzer.ErrMissingMessage)
			return
		}
		var ok bool
		if text, ok = w.literal(v); !ok {
			w.errorf(v, "%v: message", analyzer.ErrNonLiteral)
			return
		}
		if v := w.property(arg, "id"); v != nil {
			if id, ok = w.literal(v); !ok {
				w.errorf(v, "%v: id", analyzer.ErrNonLiteral)
				return
			}
		}
		if v := w.property(arg, "description"); v != nil {
			if description, ok = w.literal(v); !ok {
				w.errorf(v, "%v: description", analyzer.ErrNonLiteral)
				return
			}
		}
	default:
		w.errorf(arg, "%v", analyzer.ErrNonLiteral)
		return
	}
	if text == "" {
		w.errorf(arg, "%v", analyzer.ErrMessageEmpty)
		return
	}

	key := id
	if key == "" {
		key = msgkey.Derive(text)
	}
	if !checkOnly {
		w.result.Messages = append(w.result.Messages, intlbuild.Message{
			ID:          intlbuild.JoinID(t.namespace, key),
			Message:     text,
			Description: strfmt.Dedent(description),
			References: []intlbuild.Reference{{
				Path: filepath.ToSlash(w.path),
				Line: int(call.StartPoint().Row) + 1,
			}},
		})
	}
	w.result.Usages = append(w.result.Usages, analyzer.Usage{
		Namespace: t.namespace, Key: key,
	})
	w.result.Edits = append(w.result.Edits, analyzer.Edit{
		Start: int(arg.StartByte()),
		End:   int(arg.EndByte()),
		Text:  strconv.Quote(key),
	})
}

func (w *walker) errorf(n *sitter.Node, format string, args ...any) {
	w.result.Errors = append(w.result.Errors, analyzer.SourceError{
		Pos: position(w.path, n),
		Err: fmt.Sprintf(format, args...),
	})
}

// literal returns the value of a string literal or a template literal
// without substitutions.
func (w *walker) literal(n *sitter.Node) (string, bool) {
	switch n.Type() {
	case "string":
	case "template_string":
		for i := range int(n.NamedChildCount()) {
			if n.NamedChild(i).Type() == "template_substitution" {
				return "", false
			}
		}
	default:
		return "", false
	}
	start, end := n.StartByte(), n.EndByte()
	if end-start < 2 {
		return "", false
	}
	return unescape(string(w.src[start+1 : end-1]))
}

func position(path string, n *sitter.Node) analyzer.Position {
	p := n.StartPoint()
	return analyzer.Position{
		Filename: path,
		Line:     int(p.Row) + 1,
		Column:   int(p.Column) + 1,
	}
}

// firstError returns the first error or missing node in document order.
func firstError(n *sitter.Node) *sitter.Node {
	if n.IsError() || n.IsMissing() {
		return n
	}
	for i := range int(n.ChildCount()) {
		c := n.Child(i)
		if c.HasError() || c.IsMissing() {
			if e := firstError(c); e != nil {
				return e
			}
		}
	}
	return nil
}

// unescape decodes the escape sequences of a JavaScript string literal body.
func unescape(s string) (string, bool) {
	if !strings.ContainsRune(s, '\\') {
		return s, true
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			return "", false
		}
		switch c = s[i]; c {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'v':
			b.WriteByte('\v')
		case '0':
			b.WriteByte(0)
		case '\n':
			// Line continuation.
		case '\r':
			if i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
		case 'x':
			if i+2 >= len(s) {
				return "", false
			}
			v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
			if err != nil {
				return "", false
			}
			b.WriteRune(rune(v))
			i += 2
		case 'u':
			r, n, ok := unicodeEscape(s[i+1:])
			if !ok {
				return "", false
			}
			i += n
			if utf16Surrogate(r) {
				// Combine a UTF-16 surrogate pair.
				if rest := s[i+1:]; strings.HasPrefix(rest, `\u`) {
					lo, n2, ok := unicodeEscape(rest[2:])
					if ok && lo >= 0xDC00 && lo <= 0xDFFF {
						r = (r-0xD800)<<10 + (lo - 0xDC00) + 0x10000
						i += 2 + n2
					}
				}
			}
			if !utf8.ValidRune(r) {
				r = utf8.RuneError
			}
			b.WriteRune(r)
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), true
}

func utf16Surrogate(r rune) bool { return r >= 0xD800 && r <= 0xDBFF }

// unicodeEscape parses the part following `\u`: either 4 hex digits or
// a braced code point. n is the number of bytes consumed.
func unicodeEscape(s string) (r rune, n int, ok bool) {
	if strings.HasPrefix(s, "{") {
		end := strings.IndexByte(s, '}')
		if end < 2 {
			return 0, 0, false
		}
		v, err := strconv.ParseUint(s[1:end], 16, 32)
		if err != nil {
			return 0, 0, false
		}
		return rune(v), end + 1, true
	}
	if len(s) < 4 {
		return 0, 0, false
	}
	v, err := strconv.ParseUint(s[:4], 16, 16)
	if err != nil {
		return 0, 0, false
	}
	return rune(v), 4, true
}
