package script

import (
	"fmt"
	"strings"
)

type SyntaxError struct {
	Pos Pos
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

type parser struct {
	lex lexer
	off int
}

// bail aborts parsing; Parse recovers it into the returned error.
type bail struct{ err error }

// Parse reads a linker script. name is used for positions in messages.
func Parse(name, src string) (s *Script, err error) {
	p := &parser{lex: lexer{file: name, src: src}}
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bail)
			if !ok {
				panic(r)
			}
			s, err = nil, b.err
		}
	}()

	s = &Script{Name: name}
	for {
		tok := p.peek(modeName)
		if tok.Kind == TokEOF {
			break
		}
		if tok.Is(";") {
			p.next(modeName)
			continue
		}
		s.Commands = append(s.Commands, p.command())
	}
	return s, nil
}

// ParseExpr parses a standalone expression, as given on the command line
// for -Ttext or --defsym.
func ParseExpr(src string) (e Expr, err error) {
	p := &parser{lex: lexer{src: src}}
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bail)
			if !ok {
				panic(r)
			}
			e, err = nil, b.err
		}
	}()
	e = p.expr()
	if tok := p.peek(modeExpr); tok.Kind != TokEOF {
		p.errorf(tok.Pos, "unexpected %s after expression", tok)
	}
	return e, nil
}

func (p *parser) errorf(pos Pos, format string, args ...any) {
	panic(bail{&SyntaxError{Pos: pos, Msg: fmt.Sprintf(format, args...)}})
}

func (p *parser) peek(mode lexMode) Token {
	tok, err := p.lex.scan(p.off, mode)
	if err != nil {
		panic(bail{err})
	}
	return tok
}

func (p *parser) next(mode lexMode) Token {
	tok := p.peek(mode)
	p.off = tok.End
	return tok
}

// peek2 looks past the next token.
func (p *parser) peek2(first, second lexMode) Token {
	tok := p.peek(first)
	next, err := p.lex.scan(tok.End, second)
	if err != nil {
		panic(bail{err})
	}
	return next
}

func (p *parser) expect(op string) Token {
	tok := p.next(modeExpr)
	if !tok.Is(op) {
		p.errorf(tok.Pos, "expected '%s', found %s", op, tok)
	}
	return tok
}

func (p *parser) accept(op string, mode lexMode) bool {
	if p.peek(mode).Is(op) {
		p.next(mode)
		return true
	}
	return false
}

func (p *parser) name(mode lexMode) Token {
	tok := p.next(mode)
	if tok.Kind != TokName && tok.Kind != TokString {
		p.errorf(tok.Pos, "expected name, found %s", tok)
	}
	return tok
}

func isAssignOp(tok Token) bool {
	if tok.Kind != TokOp {
		return false
	}
	switch tok.Text {
	case "=", "+=", "-=", "*=", "/=", "<<=", ">>=", "&=", "|=":
		return true
	}
	return false
}

func (p *parser) command() Command {
	tok := p.peek(modeName)

	if isAssignOp(p.peek2(modeName, modeExpr)) {
		a := p.assignment()
		return a
	}

	switch tok.Text {
	case "MEMORY":
		return p.memory()
	case "PHDRS":
		return p.phdrs()
	case "SECTIONS":
		return p.sections()
	case "ENTRY":
		p.next(modeName)
		p.expect("(")
		name := p.name(modeName)
		p.expect(")")
		return &EntryCommand{node: node{tok.Pos}, Symbol: name.Text}
	case "EXTERN":
		p.next(modeName)
		p.expect("(")
		cmd := &ExternCommand{node: node{tok.Pos}}
		for !p.accept(")", modeName) {
			cmd.Symbols = append(cmd.Symbols, p.name(modeName).Text)
			p.accept(",", modeName)
		}
		return cmd
	case "ASSERT":
		return p.assert()
	case "INPUT", "GROUP":
		p.next(modeName)
		p.expect("(")
		cmd := &InputCommand{node: node{tok.Pos}, Group: tok.Text == "GROUP"}
		for !p.accept(")", modeName) {
			f := p.name(modeName)
			if f.Text == "AS_NEEDED" {
				continue
			}
			cmd.Files = append(cmd.Files, f.Text)
			p.accept(",", modeName)
		}
		return cmd
	case "SEARCH_DIR":
		p.next(modeName)
		p.expect("(")
		dir := p.name(modeName)
		p.expect(")")
		return &SearchDirCommand{node: node{tok.Pos}, Dir: dir.Text}
	case "OUTPUT":
		p.next(modeName)
		p.expect("(")
		f := p.name(modeName)
		p.expect(")")
		return &OutputCommand{node: node{tok.Pos}, File: f.Text}
	case "PROVIDE", "PROVIDE_HIDDEN":
		return p.assignment()
	case "OUTPUT_ARCH", "OUTPUT_FORMAT", "TARGET", "STARTUP", "FORCE_COMMON_ALLOCATION":
		p.next(modeName)
		if p.accept("(", modeName) {
			for !p.accept(")", modeName) {
				p.next(modeName)
			}
		}
		return &IgnoredCommand{node: node{tok.Pos}, Name: tok.Text}
	}
	p.errorf(tok.Pos, "unknown command %s", tok)
	return nil
}

func (p *parser) assert() *AssertCommand {
	tok := p.next(modeName)
	p.expect("(")
	cond := p.expr()
	msg := ""
	if p.accept(",", modeExpr) {
		s := p.next(modeExpr)
		if s.Kind != TokString {
			p.errorf(s.Pos, "expected message string, found %s", s)
		}
		msg = s.Text
	}
	p.expect(")")
	p.accept(";", modeExpr)
	return &AssertCommand{node: node{tok.Pos}, Cond: cond, Msg: msg}
}

// assignment parses "sym op expr;" and "PROVIDE(sym = expr);".
func (p *parser) assignment() *Assignment {
	tok := p.peek(modeName)
	a := &Assignment{node: node{tok.Pos}}
	if tok.Text == "PROVIDE" || tok.Text == "PROVIDE_HIDDEN" {
		p.next(modeName)
		p.expect("(")
		a.Provide = true
		a.Hidden = tok.Text == "PROVIDE_HIDDEN"
	}

	a.Name = p.name(modeName).Text
	op := p.next(modeExpr)
	if !isAssignOp(op) {
		p.errorf(op.Pos, "expected assignment operator, found %s", op)
	}
	a.Op = op.Text
	a.Value = p.expr()
	if a.Provide {
		p.expect(")")
	}
	p.accept(";", modeExpr)
	return a
}

func (p *parser) memory() *MemoryCommand {
	tok := p.next(modeName)
	cmd := &MemoryCommand{node: node{tok.Pos}}
	p.expect("{")
	for !p.accept("}", modeName) {
		name := p.name(modeName)
		r := &RegionDecl{node: node{name.Pos}, Name: name.Text}
		if p.accept("(", modeName) {
			r.Attrs = p.name(modeName).Text
			p.expect(")")
		}
		p.expect(":")
		for i := 0; i < 2; i++ {
			key := p.name(modeExpr)
			p.expect("=")
			switch strings.ToUpper(key.Text) {
			case "ORIGIN", "ORG", "O":
				r.Origin = p.expr()
			case "LENGTH", "LEN", "L":
				r.Length = p.expr()
			default:
				p.errorf(key.Pos, "expected ORIGIN or LENGTH, found %s", key)
			}
			if i == 0 {
				p.expect(",")
			}
		}
		p.accept(";", modeName)
		cmd.Regions = append(cmd.Regions, r)
	}
	return cmd
}

func (p *parser) phdrs() *PhdrsCommand {
	tok := p.next(modeName)
	cmd := &PhdrsCommand{node: node{tok.Pos}}
	p.expect("{")
	for !p.accept("}", modeName) {
		name := p.name(modeName)
		ph := &PhdrDecl{node: node{name.Pos}, Name: name.Text}
		typ := p.peek(modeExpr)
		if typ.Kind == TokName {
			p.next(modeExpr)
			v, ok := phdrTypes[typ.Text]
			if !ok {
				p.errorf(typ.Pos, "unknown segment type %s", typ)
			}
			ph.Type = &Number{node: node{typ.Pos}, Val: v}
		} else {
			ph.Type = p.unary()
		}

		for {
			t := p.peek(modeExpr)
			if t.Is(";") {
				p.next(modeExpr)
				break
			}
			switch t.Text {
			case "FILEHDR":
				p.next(modeExpr)
				ph.FileHdr = true
			case "PHDRS":
				p.next(modeExpr)
				ph.Phdrs = true
			case "AT":
				p.next(modeExpr)
				p.expect("(")
				ph.At = p.expr()
				p.expect(")")
			case "FLAGS":
				p.next(modeExpr)
				p.expect("(")
				ph.Flags = p.expr()
				p.expect(")")
			default:
				p.errorf(t.Pos, "unexpected %s in segment declaration", t)
			}
		}
		cmd.Phdrs = append(cmd.Phdrs, ph)
	}
	return cmd
}

var phdrTypes = map[string]Word{
	"PT_NULL":         0,
	"PT_LOAD":         1,
	"PT_DYNAMIC":      2,
	"PT_INTERP":       3,
	"PT_NOTE":         4,
	"PT_SHLIB":        5,
	"PT_PHDR":         6,
	"PT_TLS":          7,
	"PT_GNU_EH_FRAME": 0x6474e550,
	"PT_GNU_STACK":    0x6474e551,
	"PT_GNU_RELRO":    0x6474e552,
}

func (p *parser) sections() *SectionsCommand {
	tok := p.next(modeName)
	cmd := &SectionsCommand{node: node{tok.Pos}}
	p.expect("{")
	for {
		t := p.peek(modeName)
		if t.Is("}") {
			p.next(modeName)
			break
		}
		if t.Kind == TokEOF {
			p.errorf(t.Pos, "missing '}' in SECTIONS")
		}
		if t.Is(";") {
			p.next(modeName)
			continue
		}

		switch {
		case t.Text == "ASSERT":
			cmd.Stmts = append(cmd.Stmts, p.assert())
		case t.Text == "ENTRY":
			cmd.Stmts = append(cmd.Stmts, p.command())
		case t.Text == "PROVIDE" || t.Text == "PROVIDE_HIDDEN":
			cmd.Stmts = append(cmd.Stmts, p.assignment())
		case isAssignOp(p.peek2(modeName, modeExpr)):
			cmd.Stmts = append(cmd.Stmts, p.assignment())
		default:
			cmd.Stmts = append(cmd.Stmts, p.outputSection())
		}
	}
	return cmd
}

var sectionTypes = map[string]bool{
	"NOLOAD": true, "DSECT": true, "COPY": true, "INFO": true, "OVERLAY": true,
}

func (p *parser) outputSection() *OutputSection {
	name := p.name(modeName)
	o := &OutputSection{node: node{name.Pos}, Name: name.Text}

	if !p.peek(modeExpr).Is(":") {
		t := p.peek(modeExpr)
		if t.Is("(") && sectionTypes[p.peek2(modeExpr, modeName).Text] {
			p.next(modeExpr)
			o.Type = p.name(modeName).Text
			p.expect(")")
		} else {
			o.Addr = p.expr()
			if p.peek(modeExpr).Is("(") {
				p.next(modeExpr)
				o.Type = p.name(modeName).Text
				if !sectionTypes[o.Type] {
					p.errorf(t.Pos, "unknown section type %s", o.Type)
				}
				p.expect(")")
			}
		}
	}
	p.expect(":")

	for {
		t := p.peek(modeExpr)
		switch t.Text {
		case "AT":
			p.next(modeExpr)
			p.expect("(")
			o.At = p.expr()
			p.expect(")")
			continue
		case "ALIGN":
			p.next(modeExpr)
			p.expect("(")
			o.Align = p.expr()
			p.expect(")")
			continue
		case "SUBALIGN":
			p.next(modeExpr)
			p.expect("(")
			p.expr()
			p.expect(")")
			continue
		}
		break
	}

	p.expect("{")
	for {
		t := p.peek(modeName)
		if t.Is("}") {
			p.next(modeName)
			break
		}
		if t.Kind == TokEOF {
			p.errorf(t.Pos, "missing '}' in output section %s", o.Name)
		}
		if t.Is(";") {
			p.next(modeName)
			continue
		}
		o.Items = append(o.Items, p.sectionItem())
	}

	for {
		t := p.peek(modeExpr)
		switch {
		case t.Is(">"):
			p.next(modeExpr)
			o.Region = p.name(modeName).Text
		case t.Is("AT"):
			p.next(modeExpr)
			p.expect(">")
			o.LMARegion = p.name(modeName).Text
		case t.Is(":"):
			p.next(modeExpr)
			o.Phdrs = append(o.Phdrs, p.name(modeName).Text)
		case t.Is("="):
			p.next(modeExpr)
			o.Fill = p.expr()
		case t.Is(","):
			p.next(modeExpr)
		default:
			return o
		}
	}
}

func (p *parser) sectionItem() SectionItem {
	t := p.peek(modeName)

	if isAssignOp(p.peek2(modeName, modeExpr)) {
		return p.assignment()
	}

	switch t.Text {
	case "PROVIDE", "PROVIDE_HIDDEN":
		return p.assignment()
	case "ASSERT":
		return p.assert()
	case "BYTE", "SHORT", "LONG", "QUAD":
		p.next(modeName)
		p.expect("(")
		d := &DataItem{node: node{t.Pos}, Value: p.expr()}
		d.Size = map[string]int{"BYTE": 1, "SHORT": 2, "LONG": 4, "QUAD": 8}[t.Text]
		p.expect(")")
		p.accept(";", modeExpr)
		return d
	case "FILL":
		p.next(modeName)
		p.expect("(")
		f := &FillItem{node: node{t.Pos}, Value: p.expr()}
		p.expect(")")
		p.accept(";", modeExpr)
		return f
	case "KEEP":
		p.next(modeName)
		p.expect("(")
		spec := p.inputSpec()
		p.expect(")")
		spec.Keep = true
		return spec
	case "CREATE_OBJECT_SYMBOLS", "CONSTRUCTORS":
		p.next(modeName)
		return &IgnoredCommand{node: node{t.Pos}, Name: t.Text}
	}
	return p.inputSpec()
}

func (p *parser) inputSpec() *InputSectionSpec {
	t := p.peek(modeName)
	spec := &InputSectionSpec{node: node{t.Pos}}

	if t.Text == "EXCLUDE_FILE" {
		spec.ExcludeFiles = p.nameList()
	}
	spec.FilePattern = p.name(modeName).Text

	if !p.peek(modeName).Is("(") {
		spec.SectionPatterns = []string{"*"}
		return spec
	}
	p.next(modeName)
	for !p.accept(")", modeName) {
		t := p.peek(modeName)
		switch t.Text {
		case "SORT", "SORT_BY_NAME":
			p.next(modeName)
			p.expect("(")
			for !p.accept(")", modeName) {
				spec.SectionPatterns = append(spec.SectionPatterns, p.name(modeName).Text)
			}
			spec.Sort = true
		case "EXCLUDE_FILE":
			spec.ExcludeFiles = append(spec.ExcludeFiles, p.nameList()...)
		default:
			spec.SectionPatterns = append(spec.SectionPatterns, p.name(modeName).Text)
		}
		p.accept(",", modeName)
	}
	return spec
}

// nameList parses KEYWORD ( name name ... ).
func (p *parser) nameList() []string {
	p.next(modeName)
	p.expect("(")
	var names []string
	for !p.accept(")", modeName) {
		names = append(names, p.name(modeName).Text)
	}
	return names
}

// Expression grammar, lowest precedence first.
var binaryLevels = [][]string{
	{"||"},
	{"&&"},
	{"|"},
	{"^"},
	{"&"},
	{"==", "!="},
	{"<", ">", "<=", ">="},
	{"<<", ">>"},
	{"+", "-"},
	{"*", "/", "%"},
}

func (p *parser) expr() Expr {
	cond := p.binary(0)
	if t := p.peek(modeExpr); t.Is("?") {
		p.next(modeExpr)
		x := p.expr()
		p.expect(":")
		y := p.expr()
		return &Cond{node: node{t.Pos}, Cond: cond, X: x, Y: y}
	}
	return cond
}

func (p *parser) binary(level int) Expr {
	if level == len(binaryLevels) {
		return p.unary()
	}
	x := p.binary(level + 1)
	for {
		t := p.peek(modeExpr)
		if t.Kind != TokOp || !contains(binaryLevels[level], t.Text) {
			return x
		}
		p.next(modeExpr)
		y := p.binary(level + 1)
		x = &Binary{node: node{t.Pos}, Op: t.Text, X: x, Y: y}
	}
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

func (p *parser) unary() Expr {
	t := p.next(modeExpr)
	switch {
	case t.Kind == TokNumber:
		return &Number{node: node{t.Pos}, Val: t.Num}
	case t.Is("-"), t.Is("+"), t.Is("~"), t.Is("!"):
		return &Unary{node: node{t.Pos}, Op: t.Text, X: p.unary()}
	case t.Is("("):
		e := p.expr()
		p.expect(")")
		return e
	case t.Kind == TokName:
		if t.Text == "." {
			return &DotRef{node: node{t.Pos}}
		}
		if shape, ok := builtins[t.Text]; ok && p.peek(modeExpr).Is("(") {
			return p.call(t, shape)
		}
		if t.Text == "SIZEOF_HEADERS" {
			return &Call{node: node{t.Pos}, Func: t.Text}
		}
		return &SymbolRef{node: node{t.Pos}, Name: t.Text}
	}
	p.errorf(t.Pos, "unexpected %s in expression", t)
	return nil
}

func (p *parser) call(fn Token, shape []int) Expr {
	c := &Call{node: node{fn.Pos}, Func: fn.Text}
	p.expect("(")
	if shape[0] == -1 {
		c.Ident = p.name(modeName).Text
		p.expect(")")
		return c
	}
	for !p.accept(")", modeExpr) {
		c.Args = append(c.Args, p.expr())
		p.accept(",", modeExpr)
	}
	for _, n := range shape {
		if n == len(c.Args) {
			return c
		}
	}
	p.errorf(fn.Pos, "%s takes %v argument(s), got %d", fn.Text, shape, len(c.Args))
	return nil
}
