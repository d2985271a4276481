package sandbox

import "testing"

func TestScreen(t *testing.T) {
	tests := []struct {
		name   string
		code   string
		unsafe bool
		rule   Rule
		callee string
	}{
		{"plain print", "print(1 + 1)", false, RuleNone, ""},
		{"allow-listed calls", "var xs = sorted([3, 1, 2]); print(len(xs), sum(xs))", false, RuleNone, ""},
		{"empty program", "", false, RuleNone, ""},
		{"es import", "import os", true, RuleParse, ""},
		{"es import from", "import { readFile } from 'fs'", true, RuleParse, ""},
		{"syntax error", "def (", true, RuleParse, ""},
		{"require", "var fs = require('fs')", true, RuleImport, "require"},
		{"eval", "eval('1 + 1')", true, RuleDeniedCall, "eval"},
		{"nested eval", "print(eval('1'))", true, RuleDeniedCall, "eval"},
		{"eval in function body", "function f() { return eval('x') }", true, RuleDeniedCall, "eval"},
		{"method on os", "os.system('ls')", true, RuleDeniedCall, "os.system"},
		{"method on subprocess", "subprocess.run('ls')", true, RuleDeniedCall, "subprocess.run"},
		{"substring match", "myopen()", true, RuleDeniedCall, "myopen"},
		{"exec method", "re.exec('x')", true, RuleDeniedCall, "re.exec"},
		{"optional call", "globals?.()", true, RuleDeniedCall, "globals"},
		{"setattr", "setattr(o, 'a', 1)", true, RuleDeniedCall, "setattr"},
		{"arrow body", "var f = () => compile('x'); f()", true, RuleDeniedCall, "compile"},
		{"chained receiver passes", "a.os.system('ls')", false, RuleNone, ""},
		{"computed member passes", "o['ev' + 'al']('1')", false, RuleNone, ""},
		{"alias passes", "var e = print; e('hi')", false, RuleNone, ""},
		{"new expression passes", "new Function('return 1')", false, RuleNone, ""},
		{"non-call mention passes", "var eval_count = 1", false, RuleNone, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Screen(tt.code)
			if v.Unsafe != tt.unsafe {
				t.Fatalf("Screen(%q).Unsafe = %v, want %v (%s)", tt.code, v.Unsafe, tt.unsafe, v)
			}
			if v.Rule != tt.rule {
				t.Errorf("Rule = %q, want %q", v.Rule, tt.rule)
			}
			if v.Callee != tt.callee {
				t.Errorf("Callee = %q, want %q", v.Callee, tt.callee)
			}
			if IsUnsafe(tt.code) != tt.unsafe {
				t.Errorf("IsUnsafe disagrees with Screen")
			}
		})
	}
}

func TestScreen_ParseDetail(t *testing.T) {
	v := Screen("def (")
	if v.Detail == "" {
		t.Error("expected parser detail for unparseable input")
	}
	if v.String() == "safe" {
		t.Errorf("String() = %q", v.String())
	}
}

func TestVerdictString(t *testing.T) {
	if got := (Verdict{}).String(); got != "safe" {
		t.Errorf("String() = %q, want safe", got)
	}
	v := Verdict{Unsafe: true, Rule: RuleDeniedCall, Callee: "eval"}
	if got := v.String(); got != "unsafe (denied_call): eval" {
		t.Errorf("String() = %q", got)
	}
}
