package sandbox

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dop251/goja"
)

// env carries the runtime and sinks a capability implementation works
// against. One env exists per execution.
type env struct {
	vm      *goja.Runtime
	streams *Streams
	// types maps the installed type builtins back to their names for
	// isinstance and issubclass.
	types map[string]goja.Value
	// names is what dir() with no argument reports.
	names []string
}

func (e *env) throwType(format string, args ...interface{}) {
	panic(e.vm.NewTypeError("%s", fmt.Sprintf(format, args...)))
}

func (e *env) throwValue(format string, args ...interface{}) {
	err := e.vm.NewTypeError("%s", fmt.Sprintf(format, args...))
	_ = err.Set("name", "ValueError")
	panic(err)
}

// call invokes fn with args and re-throws whatever it throws.
func (e *env) call(fn goja.Value, args ...goja.Value) goja.Value {
	callable, ok := goja.AssertFunction(fn)
	if !ok {
		e.throwType("'%s' object is not callable", typeName(fn))
	}
	res, err := callable(goja.Undefined(), args...)
	if err != nil {
		panic(err)
	}
	return res
}

func isNone(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

func orNone(v goja.Value) goja.Value {
	if v == nil {
		return goja.Undefined()
	}
	return v
}

// typeName classifies a value with the names the capability table speaks:
// NoneType, bool, int, float, str, list, dict, function.
func typeName(v goja.Value) string {
	if isNone(v) {
		return "NoneType"
	}
	if obj, ok := v.(*goja.Object); ok {
		if _, ok := goja.AssertFunction(obj); ok {
			return "function"
		}
		if obj.ClassName() == "Array" {
			return "list"
		}
		return "dict"
	}
	switch x := v.Export().(type) {
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		if !math.IsInf(x, 0) && x == math.Trunc(x) {
			return "int"
		}
		return "float"
	case string:
		return "str"
	}
	return "object"
}

func isNumeric(t string) bool {
	return t == "int" || t == "float" || t == "bool"
}

func (e *env) number(v goja.Value, fn string) float64 {
	t := typeName(v)
	if !isNumeric(t) {
		e.throwType("%s() argument must be a number, not '%s'", fn, t)
	}
	return v.ToFloat()
}

func (e *env) integer(v goja.Value) int64 {
	t := typeName(v)
	if t != "int" && t != "bool" {
		e.throwType("'%s' object cannot be interpreted as an integer", t)
	}
	return v.ToInteger()
}

// iterate expands a str (into characters), a list, or a dict (into keys).
func (e *env) iterate(v goja.Value) []goja.Value {
	switch typeName(v) {
	case "str":
		s := v.String()
		out := make([]goja.Value, 0, utf8.RuneCountInString(s))
		for _, r := range s {
			out = append(out, e.vm.ToValue(string(r)))
		}
		return out
	case "list":
		obj := v.(*goja.Object)
		n := obj.Get("length").ToInteger()
		out := make([]goja.Value, n)
		for i := int64(0); i < n; i++ {
			out[i] = orNone(obj.Get(strconv.FormatInt(i, 10)))
		}
		return out
	case "dict":
		keys := v.(*goja.Object).Keys()
		out := make([]goja.Value, len(keys))
		for i, k := range keys {
			out[i] = e.vm.ToValue(k)
		}
		return out
	}
	e.throwType("'%s' object is not iterable", typeName(v))
	return nil
}

func (e *env) newList(items []goja.Value) *goja.Object {
	vals := make([]interface{}, len(items))
	for i, it := range items {
		vals[i] = it
	}
	return e.vm.NewArray(vals...)
}

// freeze makes an array's indices and length read-only.
func (e *env) freeze(arr *goja.Object, n int) *goja.Object {
	for i := 0; i < n; i++ {
		k := strconv.Itoa(i)
		_ = arr.DefineDataProperty(k, arr.Get(k), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE)
	}
	_ = arr.DefineDataProperty("length", e.vm.ToValue(n), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
	return arr
}

func truthy(v goja.Value) bool {
	switch typeName(v) {
	case "NoneType":
		return false
	case "list":
		return v.(*goja.Object).Get("length").ToInteger() > 0
	case "dict":
		return len(v.(*goja.Object).Keys()) > 0
	}
	return v.ToBoolean()
}

// compare orders numbers, strings, and lists of comparable items.
func (e *env) compare(a, b goja.Value) int {
	ta, tb := typeName(a), typeName(b)
	switch {
	case isNumeric(ta) && isNumeric(tb):
		fa, fb := a.ToFloat(), b.ToFloat()
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case ta == "str" && tb == "str":
		return strings.Compare(a.String(), b.String())
	case ta == "list" && tb == "list":
		la, lb := e.iterate(a), e.iterate(b)
		for i := 0; i < len(la) && i < len(lb); i++ {
			if c := e.compare(la[i], lb[i]); c != 0 {
				return c
			}
		}
		return len(la) - len(lb)
	}
	e.throwType("'<' not supported between instances of '%s' and '%s'", ta, tb)
	return 0
}

// hashKey identifies a hashable value for set membership.
func (e *env) hashKey(v goja.Value) string {
	t := typeName(v)
	if t == "list" || t == "dict" {
		e.throwType("unhashable type: '%s'", t)
	}
	if t == "bool" {
		t = "int"
		if v.ToBoolean() {
			return t + ":1"
		}
		return t + ":0"
	}
	return t + ":" + repr(v)
}

// str is the display form print uses: strings verbatim, anything else repr.
func str(v goja.Value) string {
	if typeName(v) == "str" {
		return v.String()
	}
	return repr(v)
}

func repr(v goja.Value) string {
	var b strings.Builder
	writeRepr(&b, v, make(map[*goja.Object]bool))
	return b.String()
}

func writeRepr(b *strings.Builder, v goja.Value, seen map[*goja.Object]bool) {
	switch typeName(v) {
	case "NoneType":
		b.WriteString("None")
	case "bool":
		if v.ToBoolean() {
			b.WriteString("True")
		} else {
			b.WriteString("False")
		}
	case "int", "float":
		b.WriteString(formatNumber(v))
	case "str":
		b.WriteString(quote(v.String()))
	case "function":
		fmt.Fprintf(b, "<function %s>", orNone(v.(*goja.Object).Get("name")).String())
	case "list":
		obj := v.(*goja.Object)
		if seen[obj] {
			b.WriteString("[...]")
			return
		}
		seen[obj] = true
		defer delete(seen, obj)

		b.WriteByte('[')
		n := obj.Get("length").ToInteger()
		for i := int64(0); i < n; i++ {
			if i > 0 {
				b.WriteString(", ")
			}
			writeRepr(b, orNone(obj.Get(strconv.FormatInt(i, 10))), seen)
		}
		b.WriteByte(']')
	case "dict":
		obj := v.(*goja.Object)
		if seen[obj] {
			b.WriteString("{...}")
			return
		}
		seen[obj] = true
		defer delete(seen, obj)

		b.WriteByte('{')
		for i, k := range obj.Keys() {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(quote(k))
			b.WriteString(": ")
			writeRepr(b, orNone(obj.Get(k)), seen)
		}
		b.WriteByte('}')
	default:
		b.WriteString(v.String())
	}
}

func formatNumber(v goja.Value) string {
	f := v.ToFloat()
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return v.String()
}

// quote renders s as a single- or double-quoted literal with escapes.
func quote(s string) string {
	q := '\''
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		q = '"'
	}

	var b strings.Builder
	b.WriteRune(q)
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == q:
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, `\x%02x`, r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteRune(q)
	return b.String()
}

func sortedKeys(obj *goja.Object) []string {
	keys := obj.Keys()
	sort.Strings(keys)
	return keys
}
