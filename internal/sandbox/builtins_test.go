package sandbox

import (
	"sort"
	"testing"
)

func TestBuiltins_Table(t *testing.T) {
	want := []string{
		"abs", "all", "any", "bool", "chr", "dict", "dir", "enumerate",
		"filter", "float", "format", "frozenset", "hash", "hex", "int",
		"isinstance", "issubclass", "len", "list", "map", "max", "min",
		"oct", "ord", "pow", "print", "range", "repr", "reversed",
		"round", "set", "slice", "sorted", "str", "sum", "tuple", "type", "zip",
	}
	got := BuiltinNames()
	if len(got) != len(want) {
		t.Fatalf("got %d builtins, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("builtin %d = %q, want %q", i, got[i], want[i])
		}
	}
	if !sort.StringsAreSorted(got) {
		t.Error("capability table is not sorted")
	}
	for _, b := range Builtins {
		if b.Category == "" || b.impl == nil {
			t.Errorf("builtin %q is incomplete", b.Name)
		}
	}
}

func TestBuiltins_Behaviour(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"print(abs(-3), abs(2.5), abs(true))", "3 2.5 1\n"},
		{"print(all([1, 'a']), all([1, 0]), any([0, '']), any([0, 'x']))", "True False False True\n"},
		{"print(bool([]), bool({}), bool(''), bool([0]), bool(null))", "False False False True False\n"},
		{"print(chr(65), ord('A'))", "A 65\n"},
		{"print(dict([['a', 1], ['b', 2]]))", "{'a': 1, 'b': 2}\n"},
		{"print(list(enumerate(['x', 'y'], 1)))", "[[1, 'x'], [2, 'y']]\n"},
		{"print(filter(function(n) { return n % 2 }, [1, 2, 3]))", "[1, 3]\n"},
		{"print(filter(null, [0, 1, '', 'a']))", "[1, 'a']\n"},
		{"print(float('2.5'), float(3) + 0.5)", "2.5 3.5\n"},
		{"print(format(1234.5, ',.2f'), format(42, '>5'), format(255, '#x'), format('ab', '*^6'))", "1,234.50    42 0xff **ab**\n"},
		{"print(format(0.25, '.1%'), format(-7, '05d'), format(5, '+'))", "25.0% -0007 +5\n"},
		{"print(frozenset([1, 1, 2]), set('aba'))", "[1, 2] ['a', 'b']\n"},
		{"print(hash(7), hash(true), hash('a') === hash('a'))", "7 1 True\n"},
		{"print(hex(255), hex(-1), oct(8))", "0xff -0x1 0o10\n"},
		{"print(int('42'), int(' -7 '), int('ff', 16), int(3.9), int(-3.9), int())", "42 -7 255 3 -3 0\n"},
		{"print(isinstance(1, int), isinstance(true, int), isinstance('a', [int, str]), isinstance(1.5, float))", "True True True True\n"},
		{"print(isinstance([], dict), isinstance({}, 'dict'))", "False True\n"},
		{"print(issubclass(bool, int), issubclass(int, bool))", "True False\n"},
		{"print(len('héllo'), len([1, 2]), len({a: 1}))", "5 2 1\n"},
		{"print(list('ab'), list({x: 1}))", "['a', 'b'] ['x']\n"},
		{"print(map(function(a, b) { return a * b }, [1, 2, 3], [4, 5]))", "[4, 10]\n"},
		{"print(max(1, 5, 3), min([4, 2]), max('a', 'b'), max([[1, 2], [1, 3]]))", "5 2 b [1, 3]\n"},
		{"print(pow(2, 10), pow(3, 2, 5), pow(3, 2, -5), pow(2, -1))", "1024 4 -1 0.5\n"},
		{"print('a', 1, null, true, [1, 'b'])", "a 1 None True [1, 'b']\n"},
		{"print(range(3), range(1, 7, 2), range(5, 0, -2), range(0))", "[0, 1, 2] [1, 3, 5] [5, 3, 1] []\n"},
		{"print(repr('it\\'s'), repr('a\\nb'), repr(1.5), repr(1/0))", "\"it's\" 'a\\nb' 1.5 inf\n"},
		{"print(reversed([1, 2, 3]), reversed('ab'))", "[3, 2, 1] ['b', 'a']\n"},
		{"print(round(2.5), round(3.5), round(2.25, 1), round(1234, -2))", "2 4 2.2 1200\n"},
		{"var s = slice(1, 5); print(s.start, s.stop, s.step)", "1 5 None\n"},
		{"print(sorted([3, 1, 2]), sorted(['b', 'a'], null, true))", "[1, 2, 3] ['b', 'a']\n"},
		{"print(sorted([[2, 'b'], [1, 'a']], function(p) { return p[0] }))", "[[1, 'a'], [2, 'b']]\n"},
		{"print(str(1), str(null), str('x') + str([]))", "1 None x[]\n"},
		{"print(sum([1, 2, 3]), sum([0.5, 0.25], 1))", "6 1.75\n"},
		{"var t = tuple([1, 2]); t[0] = 9; print(t, len(t))", "[1, 2] 2\n"},
		{"print(type(1), type(1.5), type('a'), type([]), type({}), type(null), type(true), type(print))", "int float str list dict NoneType bool function\n"},
		{"print(zip([1, 2, 3], 'ab'))", "[[1, 'a'], [2, 'b']]\n"},
		{"var a = [1]; a.push(a); print(a)", "[1, [...]]\n"},
		{"print(repr(print))", "<function print>\n"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			res := runScreened(t, tt.code)
			if res.Error != nil {
				t.Fatalf("Error = %q", *res.Error)
			}
			if res.Output != tt.want {
				t.Errorf("Output = %q, want %q", res.Output, tt.want)
			}
		})
	}
}

func TestBuiltins_Errors(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"len(5)", "Error: object of type 'int' has no len()"},
		{"chr(-1)", "Error: chr() arg not in range(0x110000)"},
		{"ord('ab')", "Error: ord() expected a character, but string of length 2 found"},
		{"max([])", "Error: max() arg is an empty sequence"},
		{"sorted([1, 'a'])", "Error: '<' not supported between instances of 'str' and 'int'"},
		{"set([[1]])", "Error: unhashable type: 'list'"},
		{"range(1, 2, 0)", "Error: range() arg 3 must not be zero"},
		{"sum(['a'])", "Error: unsupported operand type(s) for +: 'int' and 'str'"},
		{"float('x')", "Error: could not convert string to float: 'x'"},
		{"isinstance(1, 'nope')", "Error: isinstance() arg 2 must be a type or tuple of types"},
		{"map(print)", "Error: map() must have at least two arguments."},
		{"list(5)", "Error: 'int' object is not iterable"},
		{"format(1, 'q')", "Error: Invalid format specifier 'q'"},
		{"pow(2, 3, 0)", "Error: pow() 3rd argument cannot be 0"},
		{"filter(5, [1])", "Error: 'int' object is not callable"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			res := runScreened(t, tt.code)
			if errText(res.Error) != tt.want {
				t.Errorf("Error = %q, want %q", errText(res.Error), tt.want)
			}
		})
	}
}

func TestBuiltins_ValueErrorName(t *testing.T) {
	res := runScreened(t, "try { int('x') } catch (e) { print(e.name) }")
	if res.Output != "ValueError\n" {
		t.Errorf("Output = %q", res.Output)
	}
}
