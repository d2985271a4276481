package sandbox

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
)

// UnitName is the constant source name every submitted program is parsed
// and compiled under. It shows up in syntax errors and stack traces.
const UnitName = "<string>"

// Rule identifies the check that flagged a program.
type Rule string

const (
	RuleNone       Rule = ""
	RuleParse      Rule = "parse"
	RuleImport     Rule = "import"
	RuleDeniedCall Rule = "denied_call"
)

// DeniedCallees are matched by substring against the resolved name of every
// call expression. Names ending in a dot match any method called on that
// identifier.
var DeniedCallees = []string{
	"eval", "exec", "compile", "open", "file",
	"__import__", "globals", "locals", "delattr",
	"setattr", "os.", "sys.", "subprocess.", "shutil.",
}

// ImportCallees are call targets that load modules. ES module syntax never
// reaches the walker: the parser rejects it and screening fails closed.
var ImportCallees = []string{"require"}

// Verdict is the outcome of screening one program.
type Verdict struct {
	Unsafe bool
	Rule   Rule
	// Callee is the resolved call name that matched, if any.
	Callee string
	// Detail holds the parser's message for RuleParse.
	Detail string
}

// String renders the verdict for logs and the CLI.
func (v Verdict) String() string {
	switch v.Rule {
	case RuleNone:
		return "safe"
	case RuleParse:
		return fmt.Sprintf("unsafe (%s): %s", v.Rule, v.Detail)
	default:
		return fmt.Sprintf("unsafe (%s): %s", v.Rule, v.Callee)
	}
}

// IsUnsafe reports whether source must be rejected before execution.
//
// The check is syntactic. It does not see through aliasing
// (`var e = eval; e(x)`), computed member access (`o["ev" + "al"]()`),
// `new` expressions, or calls on chained receivers (`a.b.c()`).
func IsUnsafe(source string) bool {
	return Screen(source).Unsafe
}

// Screen parses source and reports the first construct that makes it unsafe.
// Unparseable input is unsafe.
func Screen(source string) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			verdict = Verdict{Unsafe: true, Rule: RuleParse, Detail: fmt.Sprint(r)}
		}
	}()

	program, err := parser.ParseFile(nil, UnitName, source, 0)
	if err != nil {
		return Verdict{Unsafe: true, Rule: RuleParse, Detail: err.Error()}
	}

	walk(reflect.ValueOf(program), func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpression)
		if !ok {
			return true
		}
		name := calleeName(call.Callee)
		if name == "" {
			return true
		}
		for _, imp := range ImportCallees {
			if name == imp {
				verdict = Verdict{Unsafe: true, Rule: RuleImport, Callee: name}
				return false
			}
		}
		for _, denied := range DeniedCallees {
			if strings.Contains(name, denied) {
				verdict = Verdict{Unsafe: true, Rule: RuleDeniedCall, Callee: name}
				return false
			}
		}
		return true
	})
	return verdict
}

// calleeName resolves `f(...)` to "f" and `obj.attr(...)` to "obj.attr" when
// obj is a bare identifier. Every other callee shape resolves to "".
func calleeName(callee ast.Expression) string {
	switch c := callee.(type) {
	case *ast.Identifier:
		return c.Name.String()
	case *ast.DotExpression:
		if obj, ok := c.Left.(*ast.Identifier); ok {
			return obj.Name.String() + "." + c.Identifier.Name.String()
		}
	case *ast.Optional:
		return calleeName(c.Expression)
	case *ast.OptionalChain:
		return calleeName(c.Expression)
	}
	return ""
}

var astPkgPath = reflect.TypeOf(ast.Program{}).PkgPath()

// walk visits every ast.Node reachable from v in depth-first order and stops
// as soon as visit returns false. goja's ast package has no walker of its own.
func walk(v reflect.Value, visit func(ast.Node) bool) bool {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return true
		}
		return walk(v.Elem(), visit)

	case reflect.Ptr:
		if v.IsNil() || v.Elem().Kind() != reflect.Struct || v.Elem().Type().PkgPath() != astPkgPath {
			return true
		}
		if n, ok := v.Interface().(ast.Node); ok && !visit(n) {
			return false
		}
		return walk(v.Elem(), visit)

	case reflect.Struct:
		if v.Type().PkgPath() != astPkgPath {
			return true
		}
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if !walk(v.Field(i), visit) {
				return false
			}
		}

	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			if !walk(v.Index(i), visit) {
				return false
			}
		}
	}
	return true
}
