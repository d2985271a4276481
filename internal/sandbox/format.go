package sandbox

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dop251/goja"
)

// formatSpecRe parses [[fill]align][sign][#][0][width][,|_][.precision][type].
var formatSpecRe = regexp.MustCompile(`^(?:(.)?([<>=^]))?([+\- ])?(#)?(0)?(\d+)?([,_])?(?:\.(\d+))?([bcdeEfFgGnosxX%])?$`)

// format applies a format-spec mini-language string to v.
func (e *env) format(v goja.Value, spec string) string {
	m := formatSpecRe.FindStringSubmatch(spec)
	if m == nil {
		e.throwValue("Invalid format specifier '%s'", spec)
	}
	fill, align, sign, alt, zero, width, grouping, precision, verb := m[1], m[2], m[3], m[4] != "", m[5] != "", m[6], m[7], m[8], m[9]

	prec := -1
	if precision != "" {
		prec, _ = strconv.Atoi(precision)
	}

	t := typeName(v)
	numeric := isNumeric(t)
	if verb != "" && verb != "s" && !numeric {
		e.throwValue("Unknown format code '%s' for object of type '%s'", verb, t)
	}

	var body string
	negative := false
	switch verb {
	case "", "s":
		if numeric && verb == "" {
			f := v.ToFloat()
			negative = math.Signbit(f) && !math.IsNaN(f)
			if prec >= 0 {
				body = strconv.FormatFloat(math.Abs(f), 'g', prec, 64)
			} else {
				body = strings.TrimPrefix(formatNumber(v), "-")
			}
		} else {
			body = str(v)
			if prec >= 0 && utf8.RuneCountInString(body) > prec {
				body = string([]rune(body)[:prec])
			}
		}
	case "d", "n", "b", "o", "x", "X", "c":
		if t == "float" {
			e.throwValue("Unknown format code '%s' for object of type 'float'", verb)
		}
		n := v.ToInteger()
		negative = n < 0
		u := uint64(n)
		if negative {
			u = uint64(-n)
		}
		switch verb {
		case "b":
			body = strconv.FormatUint(u, 2)
		case "o":
			body = strconv.FormatUint(u, 8)
		case "x":
			body = strconv.FormatUint(u, 16)
		case "X":
			body = strings.ToUpper(strconv.FormatUint(u, 16))
		case "c":
			negative = false
			body = string(rune(n))
		default:
			body = strconv.FormatUint(u, 10)
		}
		if alt {
			switch verb {
			case "b":
				body = "0b" + body
			case "o":
				body = "0o" + body
			case "x":
				body = "0x" + body
			case "X":
				body = "0X" + body
			}
		}
	default:
		f := v.ToFloat()
		negative = math.Signbit(f) && !math.IsNaN(f)
		f = math.Abs(f)
		if prec < 0 {
			prec = 6
		}
		switch verb {
		case "%":
			body = strconv.FormatFloat(f*100, 'f', prec, 64) + "%"
		case "F":
			body = strings.ToUpper(strconv.FormatFloat(f, 'f', prec, 64))
		default:
			body = strconv.FormatFloat(f, verb[0], prec, 64)
		}
		switch {
		case math.IsInf(f, 0):
			body = "inf"
		case math.IsNaN(f):
			body = "nan"
		}
		if verb == "E" || verb == "F" || verb == "G" {
			body = strings.ToUpper(body)
		}
	}

	if grouping != "" && numeric {
		body = group(body, grouping)
	}

	prefix := ""
	if numeric {
		switch {
		case negative:
			prefix = "-"
		case sign == "+":
			prefix = "+"
		case sign == " ":
			prefix = " "
		}
	}

	if zero && fill == "" && align == "" {
		fill, align = "0", "="
	}
	if fill == "" {
		fill = " "
	}
	if align == "" {
		align = "<"
		if numeric {
			align = ">"
		}
	}

	w, _ := strconv.Atoi(width)
	pad := w - utf8.RuneCountInString(prefix+body)
	if pad <= 0 {
		return prefix + body
	}
	switch align {
	case "<":
		return prefix + body + strings.Repeat(fill, pad)
	case "^":
		left := pad / 2
		return strings.Repeat(fill, left) + prefix + body + strings.Repeat(fill, pad-left)
	case "=":
		return prefix + strings.Repeat(fill, pad) + body
	}
	return strings.Repeat(fill, pad) + prefix + body
}

// group inserts sep between thousands in the leading digit run of body.
func group(body, sep string) string {
	end := 0
	for end < len(body) && body[end] >= '0' && body[end] <= '9' {
		end++
	}
	digits := body[:end]
	if len(digits) <= 3 {
		return body
	}

	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(digits[i : i+3])
	}
	b.WriteString(body[end:])
	return b.String()
}
