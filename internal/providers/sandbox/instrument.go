package sandbox

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
	"github.com/dop251/goja/parser"

	"github.com/GriffinCanCode/steptrace/internal/domain/trace"
)

// hookName is the hidden global the probes report to.
const hookName = "__trace"

var (
	// ErrInstrument is returned when probes could not be woven into a program
	// that is otherwise valid.
	ErrInstrument = errors.New("instrumentation failed")
)

// SyntaxError reports user source that does not compile.
type SyntaxError struct {
	Line    int
	Message string
}

func (e *SyntaxError) Error() string {
	return e.Message
}

// Function describes one traced function. Index 0 is the module body.
type Function struct {
	Name string
	Line int
}

// Program is user source rewritten with trace probes.
//
// Probes are inserted inline without line breaks, so line numbers reported
// by the engine still match the submitted text.
type Program struct {
	Source    string
	Functions []Function
	// Scopes lists, by scope id, the binding names a probe getter can read.
	Scopes [][]string
	// Globals are names declared at the top level, in source order.
	Globals []string

	compiled *goja.Program
}

// Instrument parses src, verifies it compiles and weaves probes into it.
func Instrument(src string) (*Program, error) {
	tree, err := parser.ParseFile(nil, trace.UserFile, src, 0)
	if err != nil {
		return nil, newSyntaxError(err)
	}
	if _, err := goja.CompileAST(tree, false); err != nil {
		return nil, newSyntaxError(err)
	}

	// Wrapping single statement bodies in braces gives them their own line
	// events. If that ever produces invalid code, fall back to leaving them.
	var lastErr error
	for _, wrap := range []bool{true, false} {
		prog, err := weave(src, wrap)
		if err == nil {
			return prog, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func weave(src string, wrap bool) (*Program, error) {
	tree, err := parser.ParseFile(nil, trace.UserFile, src, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInstrument, err)
	}

	in := newInstrumenter(src, wrap)
	in.program(tree)
	out := in.apply()

	compiled, err := goja.Compile(trace.UserFile, out, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInstrument, err)
	}

	return &Program{
		Source:    out,
		Functions: in.fns,
		Scopes:    in.scopes,
		Globals:   in.globals,
		compiled:  compiled,
	}, nil
}

func newSyntaxError(err error) *SyntaxError {
	se := &SyntaxError{Line: 1, Message: err.Error()}

	var list parser.ErrorList
	var cse *goja.CompilerSyntaxError
	var cre *goja.CompilerReferenceError
	switch {
	case errors.As(err, &list) && len(list) > 0:
		se.Line = list[0].Position.Line
		se.Message = "SyntaxError: " + list[0].Message
	case errors.As(err, &cse):
		if cse.File != nil {
			se.Line = cse.File.Position(cse.Offset).Line
		}
		se.Message = "SyntaxError: " + cse.Message
	case errors.As(err, &cre):
		if cre.File != nil {
			se.Line = cre.File.Position(cre.Offset).Line
		}
		se.Message = "ReferenceError: " + cre.Message
	}
	return se
}

// ============================================================================
// Weaving
// ============================================================================

type edit struct {
	at   int
	text string
}

type scope struct {
	names []string
	seen  map[string]bool
}

func newScope(names ...string) *scope {
	s := &scope{seen: make(map[string]bool)}
	s.add(names...)
	return s
}

func (s *scope) add(names ...string) {
	for _, n := range names {
		if n == "" || strings.HasPrefix(n, "__") || s.seen[n] {
			continue
		}
		s.seen[n] = true
		s.names = append(s.names, n)
	}
}

type funcCtx struct {
	id     int
	scopes []*scope
}

type instrumenter struct {
	src   string
	wrap  bool
	lines []int
	edits []edit

	fns      []Function
	scopes   [][]string
	scopeIDs map[string]int
	getters  map[int]string
	globals  []string

	fn *funcCtx
}

func newInstrumenter(src string, wrap bool) *instrumenter {
	lines := []int{0}
	for i := 0; i < len(src); i++ {
		if src[i] == '\n' {
			lines = append(lines, i+1)
		}
	}
	return &instrumenter{
		src:      src,
		wrap:     wrap,
		lines:    lines,
		scopeIDs: make(map[string]int),
		getters:  make(map[int]string),
	}
}

// offset converts a parser index to a byte offset in src.
func offset(idx file.Idx) int {
	return int(idx) - 1
}

func (in *instrumenter) lineOf(off int) int {
	return sort.Search(len(in.lines), func(i int) bool { return in.lines[i] > off })
}

func (in *instrumenter) insert(at int, text string) {
	if at < 0 {
		at = 0
	}
	if at > len(in.src) {
		at = len(in.src)
	}
	in.edits = append(in.edits, edit{at: at, text: text})
}

// apply splices edits into the source. Edits at the same offset keep the
// order in which they were recorded.
func (in *instrumenter) apply() string {
	sort.SliceStable(in.edits, func(i, j int) bool { return in.edits[i].at < in.edits[j].at })

	var b strings.Builder
	b.Grow(len(in.src) + len(in.edits)*48)
	prev := 0
	for _, e := range in.edits {
		b.WriteString(in.src[prev:e.at])
		b.WriteString(e.text)
		prev = e.at
	}
	b.WriteString(in.src[prev:])
	return b.String()
}

func (in *instrumenter) program(tree *ast.Program) {
	in.fns = append(in.fns, Function{Name: trace.ModuleFunc, Line: 1})
	mod := newScope(declared(tree.Body, true)...)
	in.fn = &funcCtx{id: 0, scopes: []*scope{mod}}
	in.globals = mod.names

	first, end := prologue(tree.Body)
	if len(in.globals) > 0 {
		text := hookName + ".module(" + getterSource(in.globals) + ");"
		if end >= 0 {
			in.insert(end, ";"+text)
		} else {
			in.insert(0, text)
		}
	}
	in.statements(tree.Body[first:])
}

// prologue returns the index of the first statement after the directive
// prologue and the offset just past the last directive, or -1.
func prologue(list []ast.Statement) (int, int) {
	end := -1
	for i, st := range list {
		es, ok := st.(*ast.ExpressionStatement)
		if !ok {
			return i, end
		}
		lit, ok := es.Expression.(*ast.StringLiteral)
		if !ok {
			return i, end
		}
		end = offset(lit.Idx1())
	}
	return len(list), end
}

// visible returns the scope id for the bindings a probe at the current
// position can read. Module level probes only carry block scoped names;
// top level bindings are read through the module getter.
func (in *instrumenter) visible() int {
	start := 0
	if in.fn.id == 0 {
		start = 1
	}
	merged := newScope()
	for _, s := range in.fn.scopes[start:] {
		merged.add(s.names...)
	}
	if len(merged.names) == 0 {
		return -1
	}

	key := strings.Join(merged.names, "\x00")
	if id, ok := in.scopeIDs[key]; ok {
		return id
	}
	id := len(in.scopes)
	in.scopes = append(in.scopes, merged.names)
	in.scopeIDs[key] = id
	in.getters[id] = getterSource(merged.names)
	return id
}

func (in *instrumenter) getter(id int) string {
	if id < 0 {
		return "null"
	}
	return in.getters[id]
}

// getterSource builds a closure that returns the i-th binding. Reading a
// binding in its temporal dead zone throws, which the host treats as absent.
func getterSource(names []string) string {
	var b strings.Builder
	b.WriteString("function(__i){switch(__i){")
	for i, n := range names {
		b.WriteString("case ")
		b.WriteString(strconv.Itoa(i))
		b.WriteString(":return ")
		b.WriteString(n)
		b.WriteByte(';')
	}
	b.WriteString("}}")
	return b.String()
}

func (in *instrumenter) pushScope(names ...string) {
	in.fn.scopes = append(in.fn.scopes, newScope(names...))
}

func (in *instrumenter) popScope() {
	in.fn.scopes = in.fn.scopes[:len(in.fn.scopes)-1]
}

func (in *instrumenter) probeText(st ast.Statement) string {
	line := in.lineOf(offset(st.Idx0()))
	id := in.visible()
	return fmt.Sprintf("%s.line(%d,%d,%d,%s);", hookName, line, in.fn.id, id, in.getter(id))
}

// start finds where a statement really begins. The parser drops leading
// parentheses, so step back over them and report how many there were.
func (in *instrumenter) start(st ast.Statement) (begin, parens int) {
	off := offset(st.Idx0())
	begin = off
	for p := off; p > 0; p-- {
		c := in.src[p-1]
		if c == '(' {
			begin = p - 1
			parens++
			continue
		}
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			continue
		}
		break
	}
	return begin, parens
}

// end finds where a statement really ends: past the closing parentheses
// matching the ones start stepped over, and past a trailing semicolon the
// parser leaves out of the node.
func (in *instrumenter) end(st ast.Statement, parens int) int {
	off := offset(st.Idx1())
scan:
	for p := off; p < len(in.src); p++ {
		switch in.src[p] {
		case ' ', '\t', '\n', '\r':
			continue
		case ')':
			if parens == 0 {
				break scan
			}
			parens--
			off = p + 1
		case ';':
			return p + 1
		default:
			break scan
		}
	}
	return off
}

func (in *instrumenter) statements(list []ast.Statement) {
	for _, st := range list {
		switch st.(type) {
		case *ast.EmptyStatement, *ast.BadStatement:
			continue
		}
		begin, _ := in.start(st)
		in.insert(begin, in.probeText(st))
		in.statement(st)
	}
}

// body handles a statement in a single statement position, such as a loop
// body or an if branch.
func (in *instrumenter) body(st ast.Statement) {
	switch s := st.(type) {
	case nil:
		return
	case *ast.BlockStatement:
		in.statement(s)
		return
	case *ast.EmptyStatement, *ast.BadStatement, *ast.FunctionDeclaration,
		*ast.ClassDeclaration, *ast.LexicalDeclaration:
		in.statement(st)
		return
	}
	if !in.wrap {
		in.statement(st)
		return
	}
	begin, parens := in.start(st)
	in.insert(begin, "{"+in.probeText(st))
	in.statement(st)
	in.insert(in.end(st, parens), "}")
}

func (in *instrumenter) block(list []ast.Statement, names ...string) {
	in.pushScope(append(names, lexical(list)...)...)
	in.statements(list)
	in.popScope()
}

func (in *instrumenter) statement(st ast.Statement) {
	switch s := st.(type) {
	case *ast.BlockStatement:
		in.block(s.List)
	case *ast.VariableStatement:
		for _, b := range s.List {
			in.walk(b, "")
		}
	case *ast.LexicalDeclaration:
		for _, b := range s.List {
			in.walk(b, "")
		}
	case *ast.FunctionDeclaration:
		in.walk(s.Function, "")
	case *ast.ClassDeclaration:
		in.walk(s.Class, "")
	case *ast.ExpressionStatement:
		in.walk(s.Expression, "")
	case *ast.ReturnStatement:
		in.walk(s.Argument, "")
	case *ast.ThrowStatement:
		in.walk(s.Argument, "")
	case *ast.IfStatement:
		in.walk(s.Test, "")
		in.body(s.Consequent)
		in.body(s.Alternate)
	case *ast.WhileStatement:
		in.walk(s.Test, "")
		in.body(s.Body)
	case *ast.DoWhileStatement:
		in.body(s.Body)
		in.walk(s.Test, "")
	case *ast.ForStatement:
		var names []string
		if lex, ok := s.Initializer.(*ast.ForLoopInitializerLexicalDecl); ok {
			for _, b := range lex.LexicalDeclaration.List {
				names = append(names, bound(b.Target)...)
			}
		}
		in.pushScope(names...)
		in.walk(s.Initializer, "")
		in.walk(s.Test, "")
		in.walk(s.Update, "")
		in.body(s.Body)
		in.popScope()
	case *ast.ForInStatement:
		in.forInto(s.Into, s.Source, s.Body)
	case *ast.ForOfStatement:
		in.forInto(s.Into, s.Source, s.Body)
	case *ast.TryStatement:
		in.statement(s.Body)
		if s.Catch != nil {
			in.walk(s.Catch.Parameter, "")
			in.block(s.Catch.Body.List, bound(s.Catch.Parameter)...)
		}
		if s.Finally != nil {
			in.statement(s.Finally)
		}
	case *ast.SwitchStatement:
		in.walk(s.Discriminant, "")
		var names []string
		for _, c := range s.Body {
			names = append(names, lexical(c.Consequent)...)
		}
		in.pushScope(names...)
		for _, c := range s.Body {
			in.walk(c.Test, "")
			in.statements(c.Consequent)
		}
		in.popScope()
	case *ast.LabelledStatement:
		in.statement(s.Statement)
	case *ast.WithStatement:
		in.walk(s.Object, "")
		in.body(s.Body)
	default:
		in.walk(st, "")
	}
}

func (in *instrumenter) forInto(into ast.ForInto, source ast.Expression, body ast.Statement) {
	var names []string
	if d, ok := into.(*ast.ForDeclaration); ok {
		names = bound(d.Target)
	}
	in.walk(source, "")
	in.pushScope(names...)
	in.walk(into, "")
	in.body(body)
	in.popScope()
}

// function instruments a function body: a call probe on entry, and a
// try/catch/finally around the body for exception and return probes.
func (in *instrumenter) function(name string, line int, params *ast.ParameterList, body *ast.BlockStatement) {
	if name == "" {
		name = "<anonymous>"
	}
	id := len(in.fns)
	in.fns = append(in.fns, Function{Name: name, Line: line})

	var names []string
	if params != nil {
		for _, b := range params.List {
			names = append(names, bound(b.Target)...)
			in.walk(b.Initializer, "")
		}
		if params.Rest != nil {
			names = append(names, bound(params.Rest)...)
		}
	}

	saved := in.fn
	in.fn = &funcCtx{id: id, scopes: []*scope{newScope(append(names, declared(body.List, true)...)...)}}
	defer func() { in.fn = saved }()

	first, end := prologue(body.List)
	sid := in.visible()
	entry := fmt.Sprintf("%s.call(%d,%d,%s);try{", hookName, id, sid, in.getter(sid))
	if end >= 0 {
		in.insert(end, ";"+entry)
	} else {
		in.insert(offset(body.LeftBrace)+1, entry)
	}

	in.statements(body.List[first:])

	in.insert(offset(body.RightBrace), fmt.Sprintf(
		"}catch(__e){%s.exception(%d,__e);throw __e}finally{%s.ret(%d)}", hookName, id, hookName, id))
}

func (in *instrumenter) class(c *ast.ClassLiteral, hint string) {
	name := hint
	if c.Name != nil {
		name = c.Name.Name.String()
	}
	in.walk(c.SuperClass, "")
	for _, el := range c.Body {
		switch e := el.(type) {
		case *ast.MethodDefinition:
			in.walk(e.Key, "")
			method := keyName(e.Key)
			if method == "constructor" && name != "" {
				method = name
			}
			if e.Body != nil {
				in.function(method, in.lineOf(offset(e.Idx)), e.Body.ParameterList, e.Body.Body)
			}
		case *ast.FieldDefinition:
			in.walk(e.Key, "")
			in.walk(e.Initializer, keyName(e.Key))
		case *ast.ClassStaticBlock:
			if e.Block != nil {
				in.function("<static>", in.lineOf(offset(e.Static)), nil, e.Block)
			}
		default:
			in.walk(el, "")
		}
	}
}

// walk descends into expressions looking for functions and classes. hint is
// the name a function would be given by the binding it is assigned to.
func (in *instrumenter) walk(n ast.Node, hint string) {
	if n == nil {
		return
	}
	if v := reflect.ValueOf(n); v.Kind() == reflect.Ptr && v.IsNil() {
		return
	}

	switch e := n.(type) {
	case *ast.FunctionLiteral:
		name := hint
		if e.Name != nil {
			name = e.Name.Name.String()
		}
		in.function(name, in.lineOf(offset(e.Function)), e.ParameterList, e.Body)
		return
	case *ast.ArrowFunctionLiteral:
		if b, ok := e.Body.(*ast.BlockStatement); ok {
			in.function(hint, in.lineOf(offset(e.Start)), e.ParameterList, b)
			return
		}
		// Expression bodies get no probes of their own.
		in.walk(e.ParameterList, "")
		in.walk(e.Body, "")
		return
	case *ast.ClassLiteral:
		in.class(e, hint)
		return
	case *ast.Binding:
		in.walk(e.Target, "")
		in.walk(e.Initializer, identName(e.Target))
		return
	case *ast.AssignExpression:
		in.walk(e.Left, "")
		in.walk(e.Right, identName(e.Left))
		return
	case *ast.PropertyKeyed:
		in.walk(e.Key, "")
		in.walk(e.Value, keyName(e.Key))
		return
	case *ast.PropertyShort:
		in.walk(e.Initializer, e.Name.Name.String())
		return
	}

	in.visit(reflect.ValueOf(n))
}

var nodeType = reflect.TypeOf((*ast.Node)(nil)).Elem()

func (in *instrumenter) visit(v reflect.Value) {
	switch v.Kind() {
	case reflect.Interface:
		if !v.IsNil() {
			in.visit(v.Elem())
		}
	case reflect.Ptr:
		if v.IsNil() {
			return
		}
		if v.Type().Implements(nodeType) {
			if node, ok := v.Interface().(ast.Node); ok {
				in.walkChildren(node, v)
			}
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			f := t.Field(i)
			// Declaration lists alias nodes already reachable from the body.
			if !f.IsExported() || f.Name == "DeclarationList" {
				continue
			}
			in.visit(v.Field(i))
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			in.visit(v.Index(i))
		}
	}
}

func (in *instrumenter) walkChildren(node ast.Node, v reflect.Value) {
	switch node.(type) {
	case *ast.FunctionLiteral, *ast.ArrowFunctionLiteral, *ast.ClassLiteral,
		*ast.Binding, *ast.AssignExpression, *ast.PropertyKeyed, *ast.PropertyShort:
		in.walk(node, "")
		return
	}
	in.visit(v.Elem())
}

// ============================================================================
// Declarations
// ============================================================================

// declared collects the names bound in a function or script body: var
// declarations at any depth plus lexical and function declarations at the top.
func declared(list []ast.Statement, top bool) []string {
	var out []string
	for _, st := range list {
		out = append(out, declaredIn(st, top)...)
	}
	return out
}

func declaredIn(st ast.Statement, top bool) []string {
	var out []string
	switch s := st.(type) {
	case *ast.VariableStatement:
		for _, b := range s.List {
			out = append(out, bound(b.Target)...)
		}
	case *ast.LexicalDeclaration:
		if top {
			for _, b := range s.List {
				out = append(out, bound(b.Target)...)
			}
		}
	case *ast.FunctionDeclaration:
		if top && s.Function != nil && s.Function.Name != nil {
			out = append(out, s.Function.Name.Name.String())
		}
	case *ast.ClassDeclaration:
		if top && s.Class != nil && s.Class.Name != nil {
			out = append(out, s.Class.Name.Name.String())
		}
	case *ast.BlockStatement:
		out = append(out, declared(s.List, false)...)
	case *ast.IfStatement:
		out = append(out, declaredIn(s.Consequent, false)...)
		if s.Alternate != nil {
			out = append(out, declaredIn(s.Alternate, false)...)
		}
	case *ast.ForStatement:
		if v, ok := s.Initializer.(*ast.ForLoopInitializerVarDeclList); ok {
			for _, b := range v.List {
				out = append(out, bound(b.Target)...)
			}
		}
		out = append(out, declaredIn(s.Body, false)...)
	case *ast.ForInStatement:
		out = append(out, intoVar(s.Into)...)
		out = append(out, declaredIn(s.Body, false)...)
	case *ast.ForOfStatement:
		out = append(out, intoVar(s.Into)...)
		out = append(out, declaredIn(s.Body, false)...)
	case *ast.WhileStatement:
		out = append(out, declaredIn(s.Body, false)...)
	case *ast.DoWhileStatement:
		out = append(out, declaredIn(s.Body, false)...)
	case *ast.TryStatement:
		out = append(out, declared(s.Body.List, false)...)
		if s.Catch != nil {
			out = append(out, declared(s.Catch.Body.List, false)...)
		}
		if s.Finally != nil {
			out = append(out, declared(s.Finally.List, false)...)
		}
	case *ast.SwitchStatement:
		for _, c := range s.Body {
			out = append(out, declared(c.Consequent, false)...)
		}
	case *ast.LabelledStatement:
		out = append(out, declaredIn(s.Statement, top)...)
	case *ast.WithStatement:
		out = append(out, declaredIn(s.Body, false)...)
	}
	return out
}

func intoVar(into ast.ForInto) []string {
	if v, ok := into.(*ast.ForIntoVar); ok && v.Binding != nil {
		return bound(v.Binding.Target)
	}
	return nil
}

// lexical collects block scoped declarations made directly in list.
func lexical(list []ast.Statement) []string {
	var out []string
	for _, st := range list {
		switch s := st.(type) {
		case *ast.LexicalDeclaration:
			for _, b := range s.List {
				out = append(out, bound(b.Target)...)
			}
		case *ast.FunctionDeclaration:
			if s.Function != nil && s.Function.Name != nil {
				out = append(out, s.Function.Name.Name.String())
			}
		case *ast.ClassDeclaration:
			if s.Class != nil && s.Class.Name != nil {
				out = append(out, s.Class.Name.Name.String())
			}
		}
	}
	return out
}

// bound lists the identifiers a binding target introduces.
func bound(target ast.Expression) []string {
	switch t := target.(type) {
	case *ast.Identifier:
		if t == nil {
			return nil
		}
		return []string{t.Name.String()}
	case *ast.ArrayPattern:
		var out []string
		for _, el := range t.Elements {
			out = append(out, bound(el)...)
		}
		return append(out, bound(t.Rest)...)
	case *ast.ObjectPattern:
		var out []string
		for _, p := range t.Properties {
			switch p := p.(type) {
			case *ast.PropertyShort:
				out = append(out, p.Name.Name.String())
			case *ast.PropertyKeyed:
				out = append(out, bound(p.Value)...)
			}
		}
		return append(out, bound(t.Rest)...)
	case *ast.AssignExpression:
		return bound(t.Left)
	}
	return nil
}

func identName(e ast.Expression) string {
	if id, ok := e.(*ast.Identifier); ok && id != nil {
		return id.Name.String()
	}
	return ""
}

func keyName(e ast.Expression) string {
	switch k := e.(type) {
	case *ast.Identifier:
		return k.Name.String()
	case *ast.StringLiteral:
		return k.Value.String()
	case *ast.PrivateIdentifier:
		return "#" + k.Name.String()
	}
	return ""
}
