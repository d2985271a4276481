package sandbox

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dop251/goja"
)

// Category groups capabilities for listings.
type Category string

const (
	CategoryNumeric       Category = "numeric"
	CategoryConversion    Category = "conversion"
	CategoryContainer     Category = "container"
	CategoryIteration     Category = "iteration"
	CategoryIntrospection Category = "introspection"
	CategoryOutput        Category = "output"
)

// Builtin is one entry of the capability table a restricted runtime exposes.
type Builtin struct {
	Name     string
	Category Category
	impl     func(e *env, call goja.FunctionCall) goja.Value
}

// Builtins is the complete capability table, sorted by name. Nothing in it
// performs I/O other than print, reflects on the host, or loads code.
var Builtins = []Builtin{
	{"abs", CategoryNumeric, (*env).abs},
	{"all", CategoryIteration, (*env).all},
	{"any", CategoryIteration, (*env).any},
	{"bool", CategoryConversion, (*env).boolFn},
	{"chr", CategoryConversion, (*env).chr},
	{"dict", CategoryContainer, (*env).dict},
	{"dir", CategoryIntrospection, (*env).dir},
	{"enumerate", CategoryIteration, (*env).enumerate},
	{"filter", CategoryIteration, (*env).filter},
	{"float", CategoryConversion, (*env).floatFn},
	{"format", CategoryConversion, (*env).formatFn},
	{"frozenset", CategoryContainer, (*env).frozenset},
	{"hash", CategoryIntrospection, (*env).hash},
	{"hex", CategoryConversion, (*env).hex},
	{"int", CategoryConversion, (*env).intFn},
	{"isinstance", CategoryIntrospection, (*env).isinstance},
	{"issubclass", CategoryIntrospection, (*env).issubclass},
	{"len", CategoryContainer, (*env).length},
	{"list", CategoryContainer, (*env).list},
	{"map", CategoryIteration, (*env).mapFn},
	{"max", CategoryNumeric, (*env).max},
	{"min", CategoryNumeric, (*env).min},
	{"oct", CategoryConversion, (*env).oct},
	{"ord", CategoryConversion, (*env).ord},
	{"pow", CategoryNumeric, (*env).pow},
	{"print", CategoryOutput, (*env).printFn},
	{"range", CategoryIteration, (*env).rangeFn},
	{"repr", CategoryConversion, (*env).reprFn},
	{"reversed", CategoryIteration, (*env).reversed},
	{"round", CategoryNumeric, (*env).round},
	{"set", CategoryContainer, (*env).set},
	{"slice", CategoryContainer, (*env).slice},
	{"sorted", CategoryIteration, (*env).sorted},
	{"str", CategoryConversion, (*env).strFn},
	{"sum", CategoryNumeric, (*env).sum},
	{"tuple", CategoryContainer, (*env).tuple},
	{"type", CategoryIntrospection, (*env).typeFn},
	{"zip", CategoryIteration, (*env).zip},
}

// BuiltinNames lists the capability table's names in order.
func BuiltinNames() []string {
	names := make([]string, len(Builtins))
	for i, b := range Builtins {
		names[i] = b.Name
	}
	return names
}

// maxRangeLen bounds the list range() may materialise.
const maxRangeLen = 1_000_000

// typeMembers lists which value classes each type builtin accepts in
// isinstance. Every array counts as a list, tuple, set, and frozenset.
var typeMembers = map[string][]string{
	"bool":      {"bool"},
	"int":       {"int", "bool"},
	"float":     {"float"},
	"str":       {"str"},
	"list":      {"list"},
	"tuple":     {"list"},
	"set":       {"list"},
	"frozenset": {"list"},
	"dict":      {"dict"},
}

// installBuiltins binds every capability into vm's global object and adds a
// read-only __builtins__ object listing them.
func installBuiltins(vm *goja.Runtime, streams *Streams) error {
	e := &env{vm: vm, streams: streams, types: make(map[string]goja.Value), names: BuiltinNames()}
	table := vm.NewObject()

	for _, b := range Builtins {
		impl := b.impl
		fn := vm.ToValue(func(call goja.FunctionCall) goja.Value {
			return impl(e, call)
		}).(*goja.Object)
		if err := fn.DefineDataProperty("name", vm.ToValue(b.Name), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE); err != nil {
			return fmt.Errorf("failed to name builtin %s: %w", b.Name, err)
		}
		if _, ok := typeMembers[b.Name]; ok {
			e.types[b.Name] = fn
		}
		if err := vm.Set(b.Name, fn); err != nil {
			return fmt.Errorf("failed to install builtin %s: %w", b.Name, err)
		}
		if err := table.DefineDataProperty(b.Name, fn, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
			return fmt.Errorf("failed to install builtin %s: %w", b.Name, err)
		}
	}

	if err := table.Set("__name__", "builtins"); err != nil {
		return err
	}
	return vm.GlobalObject().DefineDataProperty(builtinsVar, table, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
}

func (e *env) abs(call goja.FunctionCall) goja.Value {
	v := call.Argument(0)
	t := typeName(v)
	if !isNumeric(t) {
		e.throwType("bad operand type for abs(): '%s'", t)
	}
	if t == "bool" {
		return e.vm.ToValue(v.ToInteger())
	}
	return e.vm.ToValue(math.Abs(v.ToFloat()))
}

func (e *env) all(call goja.FunctionCall) goja.Value {
	for _, it := range e.iterate(call.Argument(0)) {
		if !truthy(it) {
			return e.vm.ToValue(false)
		}
	}
	return e.vm.ToValue(true)
}

func (e *env) any(call goja.FunctionCall) goja.Value {
	for _, it := range e.iterate(call.Argument(0)) {
		if truthy(it) {
			return e.vm.ToValue(true)
		}
	}
	return e.vm.ToValue(false)
}

func (e *env) boolFn(call goja.FunctionCall) goja.Value {
	return e.vm.ToValue(truthy(call.Argument(0)))
}

func (e *env) chr(call goja.FunctionCall) goja.Value {
	n := e.integer(call.Argument(0))
	if n < 0 || n > utf8.MaxRune {
		e.throwValue("chr() arg not in range(0x110000)")
	}
	return e.vm.ToValue(string(rune(n)))
}

func (e *env) dict(call goja.FunctionCall) goja.Value {
	out := e.vm.NewObject()
	src := call.Argument(0)
	switch typeName(src) {
	case "NoneType":
	case "dict":
		obj := src.(*goja.Object)
		for _, k := range obj.Keys() {
			_ = out.Set(k, obj.Get(k))
		}
	case "list":
		for i, pair := range e.iterate(src) {
			kv := e.iterate(pair)
			if len(kv) != 2 {
				e.throwValue("dictionary update sequence element #%d has length %d; 2 is required", i, len(kv))
			}
			_ = out.Set(str(kv[0]), kv[1])
		}
	default:
		e.throwType("'%s' object is not iterable", typeName(src))
	}
	return out
}

func (e *env) dir(call goja.FunctionCall) goja.Value {
	var names []string
	if len(call.Arguments) == 0 {
		names = e.names
	} else if v := call.Argument(0); !isNone(v) {
		names = sortedKeys(v.ToObject(e.vm))
	}
	items := make([]goja.Value, len(names))
	for i, n := range names {
		items[i] = e.vm.ToValue(n)
	}
	return e.newList(items)
}

func (e *env) enumerate(call goja.FunctionCall) goja.Value {
	items := e.iterate(call.Argument(0))
	start := int64(0)
	if s := call.Argument(1); !isNone(s) {
		start = e.integer(s)
	}
	out := make([]goja.Value, len(items))
	for i, it := range items {
		out[i] = e.freeze(e.vm.NewArray(start+int64(i), it), 2)
	}
	return e.newList(out)
}

func (e *env) filter(call goja.FunctionCall) goja.Value {
	fn := call.Argument(0)
	var keep []goja.Value
	for _, it := range e.iterate(call.Argument(1)) {
		ok := truthy(it)
		if !isNone(fn) {
			ok = truthy(e.call(fn, it))
		}
		if ok {
			keep = append(keep, it)
		}
	}
	return e.newList(keep)
}

func (e *env) floatFn(call goja.FunctionCall) goja.Value {
	v := call.Argument(0)
	switch t := typeName(v); t {
	case "NoneType":
		if len(call.Arguments) == 0 {
			return e.vm.ToValue(0.0)
		}
	case "int", "float", "bool":
		return e.vm.ToValue(v.ToFloat())
	case "str":
		s := strings.TrimSpace(v.String())
		f, err := strconv.ParseFloat(strings.ReplaceAll(s, "_", ""), 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			e.throwValue("could not convert string to float: %s", quote(v.String()))
		}
		return e.vm.ToValue(f)
	}
	e.throwType("float() argument must be a string or a number, not '%s'", typeName(v))
	return nil
}

func (e *env) formatFn(call goja.FunctionCall) goja.Value {
	spec := ""
	if s := call.Argument(1); !isNone(s) {
		if typeName(s) != "str" {
			e.throwType("format() argument 2 must be str, not %s", typeName(s))
		}
		spec = s.String()
	}
	return e.vm.ToValue(e.format(call.Argument(0), spec))
}

func (e *env) frozenset(call goja.FunctionCall) goja.Value {
	items := e.unique(call)
	return e.freeze(e.newList(items), len(items))
}

func (e *env) hash(call goja.FunctionCall) goja.Value {
	v := call.Argument(0)
	switch typeName(v) {
	case "int":
		return v
	case "bool":
		if v.ToBoolean() {
			return e.vm.ToValue(1)
		}
		return e.vm.ToValue(0)
	}
	h := fnv.New64a()
	h.Write([]byte(e.hashKey(v)))
	return e.vm.ToValue(int64(h.Sum64() & (1<<53 - 1)))
}

func (e *env) hex(call goja.FunctionCall) goja.Value {
	return e.vm.ToValue(radix(e.integer(call.Argument(0)), "0x", 16))
}

func (e *env) oct(call goja.FunctionCall) goja.Value {
	return e.vm.ToValue(radix(e.integer(call.Argument(0)), "0o", 8))
}

func radix(n int64, prefix string, base int) string {
	u := uint64(n)
	sign := ""
	if n < 0 {
		sign = "-"
		u = uint64(-n)
	}
	return sign + prefix + strconv.FormatUint(u, base)
}

func (e *env) intFn(call goja.FunctionCall) goja.Value {
	v := call.Argument(0)
	if len(call.Arguments) == 0 {
		return e.vm.ToValue(0)
	}
	if b := call.Argument(1); !isNone(b) {
		if typeName(v) != "str" {
			e.throwType("int() can't convert non-string with explicit base")
		}
		return e.vm.ToValue(e.parseInt(v.String(), int(e.integer(b))))
	}

	switch t := typeName(v); t {
	case "int", "float":
		f := v.ToFloat()
		if math.IsNaN(f) {
			e.throwValue("cannot convert float NaN to integer")
		}
		if math.IsInf(f, 0) {
			e.throwValue("cannot convert float infinity to integer")
		}
		return e.vm.ToValue(math.Trunc(f))
	case "bool":
		return e.vm.ToValue(v.ToInteger())
	case "str":
		return e.vm.ToValue(e.parseInt(v.String(), 10))
	}
	e.throwType("int() argument must be a string or a number, not '%s'", typeName(v))
	return nil
}

func (e *env) parseInt(s string, base int) int64 {
	if base != 0 && (base < 2 || base > 36) {
		e.throwValue("int() base must be >= 2 and <= 36, or 0")
	}
	t := strings.TrimSpace(s)
	n, err := strconv.ParseInt(t, base, 64)
	if err != nil {
		e.throwValue("invalid literal for int() with base %d: %s", base, quote(s))
	}
	return n
}

func (e *env) isinstance(call goja.FunctionCall) goja.Value {
	actual := typeName(call.Argument(0))
	for _, want := range e.typeNames(call.Argument(1), "isinstance") {
		for _, member := range typeMembers[want] {
			if member == actual {
				return e.vm.ToValue(true)
			}
		}
	}
	return e.vm.ToValue(false)
}

func (e *env) issubclass(call goja.FunctionCall) goja.Value {
	sub := e.typeNames(call.Argument(0), "issubclass")
	for _, want := range e.typeNames(call.Argument(1), "issubclass") {
		for _, s := range sub {
			if s == want || (s == "bool" && want == "int") {
				return e.vm.ToValue(true)
			}
		}
	}
	return e.vm.ToValue(false)
}

// typeNames resolves a type argument: a type builtin, its name, or a list
// of either.
func (e *env) typeNames(v goja.Value, fn string) []string {
	switch typeName(v) {
	case "list":
		var out []string
		for _, it := range e.iterate(v) {
			out = append(out, e.typeNames(it, fn)...)
		}
		return out
	case "str":
		if _, ok := typeMembers[v.String()]; ok {
			return []string{v.String()}
		}
	case "function":
		for name, t := range e.types {
			if t.SameAs(v) {
				return []string{name}
			}
		}
	}
	e.throwType("%s() arg 2 must be a type or tuple of types", fn)
	return nil
}

func (e *env) length(call goja.FunctionCall) goja.Value {
	v := call.Argument(0)
	switch typeName(v) {
	case "str":
		return e.vm.ToValue(utf8.RuneCountInString(v.String()))
	case "list":
		return v.(*goja.Object).Get("length")
	case "dict":
		return e.vm.ToValue(len(v.(*goja.Object).Keys()))
	}
	e.throwType("object of type '%s' has no len()", typeName(v))
	return nil
}

func (e *env) list(call goja.FunctionCall) goja.Value {
	if len(call.Arguments) == 0 {
		return e.newList(nil)
	}
	return e.newList(e.iterate(call.Argument(0)))
}

func (e *env) mapFn(call goja.FunctionCall) goja.Value {
	if len(call.Arguments) < 2 {
		e.throwType("map() must have at least two arguments.")
	}
	fn := call.Argument(0)
	cols := make([][]goja.Value, 0, len(call.Arguments)-1)
	n := -1
	for _, arg := range call.Arguments[1:] {
		col := e.iterate(arg)
		if n < 0 || len(col) < n {
			n = len(col)
		}
		cols = append(cols, col)
	}

	out := make([]goja.Value, n)
	for i := 0; i < n; i++ {
		args := make([]goja.Value, len(cols))
		for j, col := range cols {
			args[j] = col[i]
		}
		out[i] = e.call(fn, args...)
	}
	return e.newList(out)
}

func (e *env) max(call goja.FunctionCall) goja.Value {
	return e.extreme(call, "max", 1)
}

func (e *env) min(call goja.FunctionCall) goja.Value {
	return e.extreme(call, "min", -1)
}

func (e *env) extreme(call goja.FunctionCall, fn string, want int) goja.Value {
	var items []goja.Value
	switch len(call.Arguments) {
	case 0:
		e.throwType("%s expected at least 1 argument, got 0", fn)
	case 1:
		items = e.iterate(call.Arguments[0])
	default:
		items = call.Arguments
	}
	if len(items) == 0 {
		e.throwValue("%s() arg is an empty sequence", fn)
	}
	best := items[0]
	for _, it := range items[1:] {
		if e.compare(it, best) == want {
			best = it
		}
	}
	return best
}

func (e *env) ord(call goja.FunctionCall) goja.Value {
	v := call.Argument(0)
	if typeName(v) != "str" {
		e.throwType("ord() expected string of length 1, but %s found", typeName(v))
	}
	s := v.String()
	if utf8.RuneCountInString(s) != 1 {
		e.throwType("ord() expected a character, but string of length %d found", utf8.RuneCountInString(s))
	}
	r, _ := utf8.DecodeRuneInString(s)
	return e.vm.ToValue(int64(r))
}

func (e *env) pow(call goja.FunctionCall) goja.Value {
	if m := call.Argument(2); !isNone(m) {
		base, exp, mod := e.integer(call.Argument(0)), e.integer(call.Argument(1)), e.integer(m)
		if mod == 0 {
			e.throwValue("pow() 3rd argument cannot be 0")
		}
		if exp < 0 {
			e.throwValue("pow() negative exponent with modulus")
		}
		abs := new(big.Int).Abs(big.NewInt(mod))
		r := new(big.Int).Exp(big.NewInt(base), big.NewInt(exp), abs)
		r.Mod(r, abs)
		if mod < 0 && r.Sign() != 0 {
			r.Add(r, big.NewInt(mod))
		}
		return e.vm.ToValue(r.Int64())
	}
	return e.vm.ToValue(math.Pow(e.number(call.Argument(0), "pow"), e.number(call.Argument(1), "pow")))
}

func (e *env) printFn(call goja.FunctionCall) goja.Value {
	return e.print(call)
}

// print writes its arguments' str forms joined by spaces and a newline.
func (e *env) print(call goja.FunctionCall) goja.Value {
	e.streams.WriteStdout(e.line(call))
	return goja.Undefined()
}

// writer adapts a sink into a print-like native function.
func (e *env) writer(write func(string)) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		write(e.line(call))
		return goja.Undefined()
	}
}

func (e *env) line(call goja.FunctionCall) string {
	parts := make([]string, len(call.Arguments))
	for i, a := range call.Arguments {
		parts[i] = str(a)
	}
	return strings.Join(parts, " ") + "\n"
}

func (e *env) rangeFn(call goja.FunctionCall) goja.Value {
	var start, stop, step int64 = 0, 0, 1
	switch len(call.Arguments) {
	case 0:
		e.throwType("range expected at least 1 argument, got 0")
	case 1:
		stop = e.integer(call.Arguments[0])
	default:
		start, stop = e.integer(call.Arguments[0]), e.integer(call.Arguments[1])
		if len(call.Arguments) > 2 {
			step = e.integer(call.Arguments[2])
		}
	}
	if step == 0 {
		e.throwValue("range() arg 3 must not be zero")
	}

	n := math.Ceil((float64(stop) - float64(start)) / float64(step))
	if n < 0 {
		n = 0
	}
	if n > maxRangeLen {
		e.throwValue("range() result too large (limit %d items)", maxRangeLen)
	}
	items := make([]interface{}, int(n))
	for i := range items {
		items[i] = start + int64(i)*step
	}
	return e.vm.NewArray(items...)
}

func (e *env) reprFn(call goja.FunctionCall) goja.Value {
	return e.vm.ToValue(repr(call.Argument(0)))
}

func (e *env) reversed(call goja.FunctionCall) goja.Value {
	items := e.iterate(call.Argument(0))
	out := make([]goja.Value, len(items))
	for i, it := range items {
		out[len(items)-1-i] = it
	}
	return e.newList(out)
}

func (e *env) round(call goja.FunctionCall) goja.Value {
	x := e.number(call.Argument(0), "round")
	nd := call.Argument(1)
	if isNone(nd) {
		return e.vm.ToValue(math.RoundToEven(x))
	}
	n := e.integer(nd)
	if n < 0 {
		p := math.Pow(10, float64(-n))
		return e.vm.ToValue(math.RoundToEven(x/p) * p)
	}
	p := math.Pow(10, float64(n))
	return e.vm.ToValue(math.RoundToEven(x*p) / p)
}

func (e *env) set(call goja.FunctionCall) goja.Value {
	return e.newList(e.unique(call))
}

func (e *env) unique(call goja.FunctionCall) []goja.Value {
	if len(call.Arguments) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	var out []goja.Value
	for _, it := range e.iterate(call.Argument(0)) {
		k := e.hashKey(it)
		if !seen[k] {
			seen[k] = true
			out = append(out, it)
		}
	}
	return out
}

func (e *env) slice(call goja.FunctionCall) goja.Value {
	none := goja.Null()
	start, stop, step := none, none, none
	arg := func(i int) goja.Value {
		if v := call.Argument(i); !isNone(v) {
			return v
		}
		return none
	}
	switch len(call.Arguments) {
	case 0:
		e.throwType("slice expected at least 1 argument, got 0")
	case 1:
		stop = arg(0)
	default:
		start, stop, step = arg(0), arg(1), arg(2)
	}
	obj := e.vm.NewObject()
	_ = obj.Set("start", start)
	_ = obj.Set("stop", stop)
	_ = obj.Set("step", step)
	return obj
}

func (e *env) sorted(call goja.FunctionCall) goja.Value {
	items := e.iterate(call.Argument(0))
	keys := items
	if fn := call.Argument(1); !isNone(fn) {
		keys = make([]goja.Value, len(items))
		for i, it := range items {
			keys[i] = e.call(fn, it)
		}
	}
	reverse := truthy(call.Argument(2))

	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		c := e.compare(keys[idx[i]], keys[idx[j]])
		if reverse {
			return c > 0
		}
		return c < 0
	})

	out := make([]goja.Value, len(items))
	for i, k := range idx {
		out[i] = items[k]
	}
	return e.newList(out)
}

func (e *env) strFn(call goja.FunctionCall) goja.Value {
	if len(call.Arguments) == 0 {
		return e.vm.ToValue("")
	}
	return e.vm.ToValue(str(call.Argument(0)))
}

func (e *env) sum(call goja.FunctionCall) goja.Value {
	total := 0.0
	if s := call.Argument(1); !isNone(s) {
		if typeName(s) == "str" {
			e.throwType("sum() can't sum strings [use ''.join(seq) instead]")
		}
		total = e.number(s, "sum")
	}
	for _, it := range e.iterate(call.Argument(0)) {
		t := typeName(it)
		if !isNumeric(t) {
			e.throwType("unsupported operand type(s) for +: 'int' and '%s'", t)
		}
		total += it.ToFloat()
	}
	return e.vm.ToValue(total)
}

func (e *env) tuple(call goja.FunctionCall) goja.Value {
	var items []goja.Value
	if len(call.Arguments) > 0 {
		items = e.iterate(call.Argument(0))
	}
	return e.freeze(e.newList(items), len(items))
}

func (e *env) typeFn(call goja.FunctionCall) goja.Value {
	return e.vm.ToValue(typeName(call.Argument(0)))
}

func (e *env) zip(call goja.FunctionCall) goja.Value {
	if len(call.Arguments) == 0 {
		return e.newList(nil)
	}
	cols := make([][]goja.Value, len(call.Arguments))
	n := -1
	for i, arg := range call.Arguments {
		cols[i] = e.iterate(arg)
		if n < 0 || len(cols[i]) < n {
			n = len(cols[i])
		}
	}

	rows := make([]goja.Value, n)
	for i := 0; i < n; i++ {
		row := make([]goja.Value, len(cols))
		for j := range cols {
			row[j] = cols[j][i]
		}
		rows[i] = e.freeze(e.newList(row), len(row))
	}
	return e.newList(rows)
}
