package script

import (
	"fmt"
	"strings"
)

// Word is the linker's arithmetic type.
type Word = int64

// Env supplies the values an expression may refer to. Every lookup reports
// whether the value is known yet; unknown values make Eval fail with an
// EvalError whose Unknown flag is set, so the caller may retry later.
type Env interface {
	// Dot returns the current address, or false outside SECTIONS.
	Dot() (Word, bool)
	Symbol(name string) (Word, bool)
	Defined(name string) bool
	SectionAddr(name string) (Word, bool)
	SectionLoadAddr(name string) (Word, bool)
	SectionSize(name string) (Word, bool)
	SizeofHeaders() Word
	Region(name string) (origin, length Word, ok bool)
}

type EvalError struct {
	Pos     Pos
	Msg     string
	Unknown bool
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

type Expr interface {
	Position() Pos
	Eval(env Env) (Word, error)
	String() string
}

type Number struct {
	node
	Val Word
}

func (n *Number) Eval(Env) (Word, error) { return n.Val, nil }
func (n *Number) String() string         { return fmt.Sprintf("%#x", uint64(n.Val)) }

type SymbolRef struct {
	node
	Name string
}

func (s *SymbolRef) Eval(env Env) (Word, error) {
	if v, ok := env.Symbol(s.Name); ok {
		return v, nil
	}
	return 0, &EvalError{Pos: s.Pos, Msg: fmt.Sprintf("undefined symbol '%s' referenced in expression", s.Name), Unknown: true}
}

func (s *SymbolRef) String() string { return s.Name }

type DotRef struct {
	node
}

func (d *DotRef) Eval(env Env) (Word, error) {
	if v, ok := env.Dot(); ok {
		return v, nil
	}
	return 0, &EvalError{Pos: d.Pos, Msg: "'.' is only valid inside SECTIONS"}
}

func (d *DotRef) String() string { return "." }

type Unary struct {
	node
	Op string
	X  Expr
}

func (u *Unary) Eval(env Env) (Word, error) {
	x, err := u.X.Eval(env)
	if err != nil {
		return 0, err
	}
	switch u.Op {
	case "-":
		return -x, nil
	case "+":
		return x, nil
	case "~":
		return ^x, nil
	case "!":
		return b2w(x == 0), nil
	}
	return 0, &EvalError{Pos: u.Pos, Msg: "unknown unary operator " + u.Op}
}

func (u *Unary) String() string { return u.Op + u.X.String() }

type Binary struct {
	node
	Op   string
	X, Y Expr
}

func b2w(b bool) Word {
	if b {
		return 1
	}
	return 0
}

func (b *Binary) Eval(env Env) (Word, error) {
	x, err := b.X.Eval(env)
	if err != nil {
		return 0, err
	}

	switch b.Op {
	case "&&":
		if x == 0 {
			return 0, nil
		}
	case "||":
		if x != 0 {
			return 1, nil
		}
	}

	y, err := b.Y.Eval(env)
	if err != nil {
		return 0, err
	}

	switch b.Op {
	case "+":
		return x + y, nil
	case "-":
		return x - y, nil
	case "*":
		return x * y, nil
	case "/", "%":
		if y == 0 {
			return 0, &EvalError{Pos: b.Pos, Msg: "division by zero"}
		}
		if b.Op == "/" {
			return x / y, nil
		}
		return x % y, nil
	case "<<":
		if y < 0 || y > 63 {
			return 0, nil
		}
		return x << uint(y), nil
	case ">>":
		if y < 0 || y > 63 {
			return 0, nil
		}
		return Word(uint64(x) >> uint(y)), nil
	case "<":
		return b2w(x < y), nil
	case ">":
		return b2w(x > y), nil
	case "<=":
		return b2w(x <= y), nil
	case ">=":
		return b2w(x >= y), nil
	case "==":
		return b2w(x == y), nil
	case "!=":
		return b2w(x != y), nil
	case "&":
		return x & y, nil
	case "^":
		return x ^ y, nil
	case "|":
		return x | y, nil
	case "&&", "||":
		return b2w(y != 0), nil
	}
	return 0, &EvalError{Pos: b.Pos, Msg: "unknown operator " + b.Op}
}

func (b *Binary) String() string {
	return "(" + b.X.String() + " " + b.Op + " " + b.Y.String() + ")"
}

type Cond struct {
	node
	Cond, X, Y Expr
}

func (c *Cond) Eval(env Env) (Word, error) {
	v, err := c.Cond.Eval(env)
	if err != nil {
		return 0, err
	}
	if v != 0 {
		return c.X.Eval(env)
	}
	return c.Y.Eval(env)
}

func (c *Cond) String() string {
	return "(" + c.Cond.String() + " ? " + c.X.String() + " : " + c.Y.String() + ")"
}

// Call is a built-in function. Functions taking a section, region or symbol
// name keep it in Ident instead of Args.
type Call struct {
	node
	Func  string
	Ident string
	Args  []Expr
}

func (c *Call) unknown(what string) error {
	return &EvalError{Pos: c.Pos, Msg: fmt.Sprintf("%s(%s): %s", c.Func, c.Ident, what), Unknown: true}
}

func alignWord(v, align Word) Word {
	return (v + align - 1) / align * align
}

func (c *Call) Eval(env Env) (Word, error) {
	args := make([]Word, len(c.Args))
	for i, a := range c.Args {
		v, err := a.Eval(env)
		if err != nil {
			return 0, err
		}
		args[i] = v
	}

	switch c.Func {
	case "ADDR":
		if v, ok := env.SectionAddr(c.Ident); ok {
			return v, nil
		}
		return 0, c.unknown("section not yet placed")
	case "LOADADDR":
		if v, ok := env.SectionLoadAddr(c.Ident); ok {
			return v, nil
		}
		return 0, c.unknown("section not yet placed")
	case "SIZEOF":
		if v, ok := env.SectionSize(c.Ident); ok {
			return v, nil
		}
		return 0, c.unknown("section size not yet known")
	case "SIZEOF_HEADERS":
		return env.SizeofHeaders(), nil
	case "DEFINED":
		return b2w(env.Defined(c.Ident)), nil
	case "ORIGIN", "LENGTH":
		origin, length, ok := env.Region(c.Ident)
		if !ok {
			return 0, &EvalError{Pos: c.Pos, Msg: fmt.Sprintf("memory region '%s' not declared", c.Ident)}
		}
		if c.Func == "ORIGIN" {
			return origin, nil
		}
		return length, nil
	case "ALIGN", "NEXT":
		v, align := Word(0), args[len(args)-1]
		if len(args) == 2 {
			v = args[0]
		} else {
			dot, ok := env.Dot()
			if !ok {
				return 0, &EvalError{Pos: c.Pos, Msg: c.Func + "(align) needs '.' and is only valid inside SECTIONS"}
			}
			v = dot
		}
		if align <= 0 {
			return 0, &EvalError{Pos: c.Pos, Msg: fmt.Sprintf("invalid alignment %d", align)}
		}
		return alignWord(v, align), nil
	case "MAX":
		if args[0] > args[1] {
			return args[0], nil
		}
		return args[1], nil
	case "MIN":
		if args[0] < args[1] {
			return args[0], nil
		}
		return args[1], nil
	case "ABSOLUTE":
		return args[0], nil
	}
	return 0, &EvalError{Pos: c.Pos, Msg: "unknown function " + c.Func}
}

func (c *Call) String() string {
	if c.Ident != "" {
		return c.Func + "(" + c.Ident + ")"
	}
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = a.String()
	}
	return c.Func + "(" + strings.Join(parts, ", ") + ")"
}

// builtin argument shapes: -1 means a single name argument
var builtins = map[string][]int{
	"ADDR":           {-1},
	"LOADADDR":       {-1},
	"SIZEOF":         {-1},
	"DEFINED":        {-1},
	"ORIGIN":         {-1},
	"LENGTH":         {-1},
	"SIZEOF_HEADERS": {0},
	"ALIGN":          {1, 2},
	"NEXT":           {1},
	"MAX":            {2},
	"MIN":            {2},
	"ABSOLUTE":       {1},
}
