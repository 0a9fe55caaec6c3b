package sandbox

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dop251/goja"
)

// Unrepresentable is shown when rendering a value raised an exception.
const Unrepresentable = "<unrepresentable>"

// Renderer turns interpreter values into display strings.
//
// The rendering is lossy and one way: nested containers are cut off at
// MaxDepth, long containers and strings are truncated, and cycles print as
// [Circular]. Nothing parses these strings back.
type Renderer struct {
	vm        *goja.Runtime
	arrayFrom goja.Callable
	arrayCtor goja.Value

	// Map, Set and Promise instances report the plain Object class, so
	// kind recognizes them by prototype instead.
	protos map[*goja.Object]string

	MaxDepth  int
	MaxItems  int
	MaxString int
}

// NewRenderer binds a renderer to vm. It captures Array.from and the
// collection prototypes up front so user code that replaces them cannot
// change how values are shown.
func NewRenderer(vm *goja.Runtime, limits ReprLimits) *Renderer {
	r := &Renderer{
		vm:        vm,
		protos:    make(map[*goja.Object]string, 3),
		MaxDepth:  limits.Depth,
		MaxItems:  limits.Items,
		MaxString: limits.String,
	}
	for _, name := range []string{"Map", "Set", "Promise"} {
		ctor, ok := vm.GlobalObject().Get(name).(*goja.Object)
		if !ok {
			continue
		}
		if proto, ok := ctor.Get("prototype").(*goja.Object); ok {
			r.protos[proto] = name
		}
	}
	if ctor := vm.GlobalObject().Get("Array"); ctor != nil {
		if obj, ok := ctor.(*goja.Object); ok {
			if from, ok := goja.AssertFunction(obj.Get("from")); ok {
				r.arrayFrom = from
				r.arrayCtor = obj
			}
		}
	}
	return r
}

// Repr renders v. Exceptions thrown by user code while rendering (getters,
// proxies) produce Unrepresentable instead of propagating.
func (r *Renderer) Repr(v goja.Value) (out string) {
	defer func() {
		if x := recover(); x != nil {
			out = Unrepresentable
		}
	}()
	if ex := r.vm.Try(func() {
		var b strings.Builder
		r.write(&b, v, 0, make(map[*goja.Object]bool))
		out = b.String()
	}); ex != nil {
		return Unrepresentable
	}
	return out
}

// maxProtoChain bounds the prototype walk; a proxy can report itself as its
// own prototype.
const maxProtoChain = 64

// kind returns the class of obj, resolving async arrows and builtin
// collections that goja reports as plain objects.
func (r *Renderer) kind(obj *goja.Object) string {
	cls := obj.ClassName()
	if cls != "Object" {
		return cls
	}
	if _, ok := goja.AssertFunction(obj); ok {
		return "Function"
	}
	p := obj.Prototype()
	for i := 0; p != nil && i < maxProtoChain; i++ {
		if name, ok := r.protos[p]; ok {
			return name
		}
		p = p.Prototype()
	}
	return cls
}

// TypeOf returns a short type tag for v.
func (r *Renderer) TypeOf(v goja.Value) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	case goja.IsString(v):
		return "string"
	case goja.IsNumber(v):
		return "number"
	case goja.IsBigInt(v):
		return "bigint"
	}
	switch o := v.(type) {
	case *goja.Symbol:
		return "symbol"
	case *goja.Object:
		switch cls := r.kind(o); cls {
		case "Function", "AsyncFunction", "GeneratorFunction":
			return "function"
		case "Object", "Map", "Set", "Promise":
			if name := r.constructorName(o); name != "" {
				return name
			}
			return cls
		default:
			return cls
		}
	}
	return "boolean"
}

func (r *Renderer) write(b *strings.Builder, v goja.Value, depth int, path map[*goja.Object]bool) {
	switch {
	case v == nil || goja.IsUndefined(v):
		b.WriteString("undefined")
		return
	case goja.IsNull(v):
		b.WriteString("null")
		return
	case goja.IsString(v):
		b.WriteString(strconv.Quote(r.clip(v.String())))
		return
	case goja.IsBigInt(v):
		b.WriteString(v.String())
		b.WriteByte('n')
		return
	}

	obj, ok := v.(*goja.Object)
	if !ok {
		// numbers, booleans, symbols
		b.WriteString(v.String())
		return
	}

	if path[obj] {
		b.WriteString("[Circular]")
		return
	}

	switch cls := r.kind(obj); cls {
	case "Function", "AsyncFunction", "GeneratorFunction":
		r.writeFunction(b, obj)
	case "Error":
		r.writeError(b, obj)
	case "RegExp", "Date":
		b.WriteString(obj.String())
	case "Array":
		if depth >= r.MaxDepth {
			b.WriteString("[Array]")
			return
		}
		path[obj] = true
		r.writeArray(b, obj, depth, path)
		delete(path, obj)
	case "Map", "Set":
		if depth >= r.MaxDepth {
			b.WriteString("[" + cls + "]")
			return
		}
		path[obj] = true
		r.writeCollection(b, obj, cls, depth, path)
		delete(path, obj)
	case "Promise":
		b.WriteString("Promise {}")
	default:
		name := r.constructorName(obj)
		if depth >= r.MaxDepth {
			if name == "" {
				name = "Object"
			}
			b.WriteString("[" + name + "]")
			return
		}
		path[obj] = true
		if name != "" {
			b.WriteString(name)
			b.WriteByte(' ')
		}
		r.writeObject(b, obj, depth, path)
		delete(path, obj)
	}
}

func (r *Renderer) writeFunction(b *strings.Builder, obj *goja.Object) {
	name := ""
	if n := obj.Get("name"); n != nil && goja.IsString(n) {
		name = n.String()
	}
	if name == "" {
		b.WriteString("[Function (anonymous)]")
		return
	}
	b.WriteString("[Function: ")
	b.WriteString(name)
	b.WriteByte(']')
}

func (r *Renderer) writeError(b *strings.Builder, obj *goja.Object) {
	name := "Error"
	if n := obj.Get("name"); n != nil && !goja.IsUndefined(n) {
		name = n.String()
	}
	msg := ""
	if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) {
		msg = m.String()
	}
	if msg == "" {
		b.WriteString(name)
		return
	}
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(r.clip(msg))
}

func (r *Renderer) writeArray(b *strings.Builder, obj *goja.Object, depth int, path map[*goja.Object]bool) {
	n := int(obj.Get("length").ToInteger())
	b.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		if i >= r.MaxItems {
			b.WriteString("... ")
			b.WriteString(strconv.Itoa(n - i))
			b.WriteString(" more")
			break
		}
		r.write(b, obj.Get(strconv.Itoa(i)), depth+1, path)
	}
	b.WriteByte(']')
}

func (r *Renderer) writeCollection(b *strings.Builder, obj *goja.Object, cls string, depth int, path map[*goja.Object]bool) {
	size := int(obj.Get("size").ToInteger())
	b.WriteString(cls)
	b.WriteByte('(')
	b.WriteString(strconv.Itoa(size))
	b.WriteString(") {")

	items := r.entries(obj)
	for i, item := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		if i >= r.MaxItems {
			b.WriteString("...")
			break
		}
		if cls == "Map" {
			pair, ok := item.(*goja.Object)
			if !ok {
				continue
			}
			r.write(b, pair.Get("0"), depth+1, path)
			b.WriteString(" => ")
			r.write(b, pair.Get("1"), depth+1, path)
			continue
		}
		r.write(b, item, depth+1, path)
	}
	b.WriteByte('}')
}

func (r *Renderer) entries(obj *goja.Object) []goja.Value {
	if r.arrayFrom == nil {
		return nil
	}
	arr, err := r.arrayFrom(r.arrayCtor, obj)
	if err != nil {
		panic(err)
	}
	list, ok := arr.(*goja.Object)
	if !ok {
		return nil
	}
	n := int(list.Get("length").ToInteger())
	if n > r.MaxItems+1 {
		n = r.MaxItems + 1
	}
	out := make([]goja.Value, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, list.Get(strconv.Itoa(i)))
	}
	return out
}

func (r *Renderer) writeObject(b *strings.Builder, obj *goja.Object, depth int, path map[*goja.Object]bool) {
	keys := obj.Keys()
	if len(keys) == 0 {
		b.WriteString("{}")
		return
	}
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		if i >= r.MaxItems {
			b.WriteString("...")
			break
		}
		b.WriteString(propertyKey(k))
		b.WriteString(": ")
		r.write(b, obj.Get(k), depth+1, path)
	}
	b.WriteByte('}')
}

// constructorName returns the class of a plain object, or "" for Object and
// null prototype objects.
func (r *Renderer) constructorName(obj *goja.Object) string {
	proto := obj.Prototype()
	if proto == nil {
		return ""
	}
	ctor, ok := proto.Get("constructor").(*goja.Object)
	if !ok {
		return ""
	}
	name := ctor.Get("name")
	if name == nil || !goja.IsString(name) {
		return ""
	}
	if n := name.String(); n != "Object" {
		return n
	}
	return ""
}

func (r *Renderer) clip(s string) string {
	if r.MaxString <= 0 || utf8.RuneCountInString(s) <= r.MaxString {
		return s
	}
	runes := []rune(s)
	return string(runes[:r.MaxString]) + "..."
}

func propertyKey(k string) string {
	if k == "" {
		return `""`
	}
	for i, c := range k {
		if c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (i > 0 && c >= '0' && c <= '9') {
			continue
		}
		return strconv.Quote(k)
	}
	return k
}
