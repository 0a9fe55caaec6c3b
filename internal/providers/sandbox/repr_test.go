package sandbox

import (
	"strings"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRenderer(t *testing.T) (*goja.Runtime, *Renderer) {
	t.Helper()
	vm := goja.New()
	return vm, NewRenderer(vm, DefaultConfig().Repr)
}

func TestRepr(t *testing.T) {
	vm, r := newTestRenderer(t)

	tests := []struct {
		name   string
		script string
		want   string
	}{
		{name: "number", script: "42", want: "42"},
		{name: "float", script: "1.5", want: "1.5"},
		{name: "string", script: "'hi'", want: `"hi"`},
		{name: "boolean", script: "true", want: "true"},
		{name: "null", script: "null", want: "null"},
		{name: "undefined", script: "undefined", want: "undefined"},
		{name: "array", script: "[1, 'a', null]", want: `[1, "a", null]`},
		{name: "empty object", script: "({})", want: "{}"},
		{name: "object", script: "({a: 1, b: [1, 2]})", want: "{a: 1, b: [1, 2]}"},
		{name: "quoted key", script: "({'a b': 1})", want: `{"a b": 1}`},
		{name: "cycle", script: "var o = {}; o.self = o; o", want: "{self: [Circular]}"},
		{name: "map", script: "new Map([['k', 1]])", want: `Map(1) {"k" => 1}`},
		{name: "set", script: "new Set([1, 2])", want: "Set(2) {1, 2}"},
		{name: "empty map", script: "new Map()", want: "Map(0) {}"},
		{name: "nested map", script: "new Map([['k', new Set(['v'])]])", want: `Map(1) {"k" => Set(1) {"v"}}`},
		{name: "map subclass", script: "class Registry extends Map {}; new Registry([[1, 2]])", want: "Map(1) {1 => 2}"},
		{name: "promise", script: "Promise.resolve(1)", want: "Promise {}"},
		{name: "named function", script: "(function foo() {})", want: "[Function: foo]"},
		{name: "anonymous function", script: "(function () {})", want: "[Function (anonymous)]"},
		{name: "async arrow", script: "const later = async () => 1; later", want: "[Function: later]"},
		{name: "error", script: "new TypeError('bad')", want: "TypeError: bad"},
		{name: "class instance", script: "class P { constructor() { this.x = 1 } }; new P()", want: "P {x: 1}"},
		{name: "depth cap", script: "[[[[1]]]]", want: "[[[[Array]]]]"},
		{name: "throwing getter", script: "({get x() { throw new Error('no') }})", want: Unrepresentable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := vm.RunString(tt.script)
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Repr(v))
		})
	}
}

func TestReprLimits(t *testing.T) {
	vm := goja.New()
	r := NewRenderer(vm, ReprLimits{Depth: 3, Items: 3, String: 5})

	v, err := vm.RunString("[1, 2, 3, 4, 5]")
	require.NoError(t, err)
	assert.Equal(t, "[1, 2, 3, ... 2 more]", r.Repr(v))

	v, err = vm.RunString("'abcdefgh'")
	require.NoError(t, err)
	assert.Equal(t, `"abcde..."`, r.Repr(v))
}

func TestReprIgnoresReplacedBuiltins(t *testing.T) {
	vm, r := newTestRenderer(t)

	v, err := vm.RunString("Array.from = function () { throw new Error('hijacked') }; new Set([1])")
	require.NoError(t, err)
	assert.Equal(t, "Set(1) {1}", r.Repr(v))
}

func TestReprIgnoresReplacedCollectionConstructor(t *testing.T) {
	vm, r := newTestRenderer(t)

	v, err := vm.RunString("var m = new Map([['a', 1]]); Map = function () {}; m")
	require.NoError(t, err)
	assert.Equal(t, `Map(1) {"a" => 1}`, r.Repr(v))
}

func TestTypeOf(t *testing.T) {
	vm, r := newTestRenderer(t)

	tests := []struct {
		script string
		want   string
	}{
		{"1", "number"},
		{"'s'", "string"},
		{"true", "boolean"},
		{"null", "null"},
		{"undefined", "undefined"},
		{"[]", "Array"},
		{"new Map()", "Map"},
		{"new Set()", "Set"},
		{"({})", "Object"},
		{"(function () {})", "function"},
		{"(async () => 1)", "function"},
		{"class P {}; new P()", "P"},
		{"10n", "bigint"},
	}

	for _, tt := range tests {
		t.Run(tt.script, func(t *testing.T) {
			v, err := vm.RunString(tt.script)
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.TypeOf(v))
		})
	}
}

func TestPropertyKey(t *testing.T) {
	assert.Equal(t, "abc", propertyKey("abc"))
	assert.Equal(t, "_x1", propertyKey("_x1"))
	assert.Equal(t, `"1x"`, propertyKey("1x"))
	assert.Equal(t, `""`, propertyKey(""))
	assert.True(t, strings.HasPrefix(propertyKey("a-b"), `"`))
}
