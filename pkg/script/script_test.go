package script

import (
	"errors"
	"testing"
)

type testEnv struct {
	dot      Word
	hasDot   bool
	symbols  map[string]Word
	sections map[string][3]Word
	regions  map[string][2]Word
}

func (e *testEnv) Dot() (Word, bool) { return e.dot, e.hasDot }

func (e *testEnv) Symbol(name string) (Word, bool) {
	v, ok := e.symbols[name]
	return v, ok
}

func (e *testEnv) Defined(name string) bool {
	_, ok := e.symbols[name]
	return ok
}

func (e *testEnv) SectionAddr(name string) (Word, bool) {
	s, ok := e.sections[name]
	return s[0], ok
}

func (e *testEnv) SectionLoadAddr(name string) (Word, bool) {
	s, ok := e.sections[name]
	return s[1], ok
}

func (e *testEnv) SectionSize(name string) (Word, bool) {
	s, ok := e.sections[name]
	return s[2], ok
}

func (e *testEnv) SizeofHeaders() Word { return 0x40 }

func (e *testEnv) Region(name string) (Word, Word, bool) {
	r, ok := e.regions[name]
	return r[0], r[1], ok
}

func newTestEnv() *testEnv {
	return &testEnv{
		symbols:  map[string]Word{"foo": 0x100, "bar": 3},
		sections: map[string][3]Word{".text": {0x8000, 0x10000, 0x120}},
		regions:  map[string][2]Word{"ram": {0x20000000, 0x4000}},
	}
}

func evalString(t *testing.T, env Env, src string) (Word, error) {
	t.Helper()
	e, err := ParseExpr(src)
	if err != nil {
		t.Fatalf("ParseExpr(%q): %v", src, err)
	}
	return e.Eval(env)
}

func TestExprPrecedence(t *testing.T) {
	env := newTestEnv()
	cases := []struct {
		src  string
		want Word
	}{
		{"1 + 2 * 3", 7},
		{"(1 + 2) * 3", 9},
		{"10 - 4 - 3", 3},
		{"1 << 4 + 1", 32},
		{"0x10 | 0x01 & 0x03", 0x11},
		{"1 < 2 == 1", 1},
		{"2 > 3 || 4 >= 4", 1},
		{"0 && foo / 0", 0},
		{"-foo + ~0", -0x101},
		{"!bar", 0},
		{"bar % 2 ? foo : 7", 0x100},
		{"4K", 4096},
		{"1M", 1 << 20},
		{"0x8000", 0x8000},
		{"-1 >> 60", 0xf},
		{"16 ^ 24", 8},
	}
	for _, c := range cases {
		got, err := evalString(t, env, c.src)
		if err != nil {
			t.Errorf("%s: unexpected error %v", c.src, err)
			continue
		}
		if got != c.want {
			t.Errorf("%s = %#x, want %#x", c.src, got, c.want)
		}
	}
}

func TestExprBuiltins(t *testing.T) {
	env := newTestEnv()
	env.dot, env.hasDot = 0x8003, true
	cases := []struct {
		src  string
		want Word
	}{
		{"ADDR(.text)", 0x8000},
		{"LOADADDR(.text)", 0x10000},
		{"SIZEOF(.text)", 0x120},
		{"ALIGN(8)", 0x8008},
		{"ALIGN(0x11, 0x10)", 0x20},
		{"MAX(3, foo)", 0x100},
		{"MIN(3, foo)", 3},
		{"SIZEOF_HEADERS", 0x40},
		{"DEFINED(foo)", 1},
		{"DEFINED(nope)", 0},
		{"ORIGIN(ram) + LENGTH(ram)", 0x20004000},
		{". + 1", 0x8004},
		{"ABSOLUTE(.)", 0x8003},
	}
	for _, c := range cases {
		got, err := evalString(t, env, c.src)
		if err != nil {
			t.Errorf("%s: unexpected error %v", c.src, err)
			continue
		}
		if got != c.want {
			t.Errorf("%s = %#x, want %#x", c.src, got, c.want)
		}
	}
}

func TestExprDivisionByZero(t *testing.T) {
	got, err := evalString(t, newTestEnv(), "5 + foo / (bar - 3)")
	if err == nil {
		t.Fatal("expected a division by zero error")
	}
	var ee *EvalError
	if !errors.As(err, &ee) || ee.Unknown {
		t.Fatalf("unexpected error %v", err)
	}
	if got != 0 {
		t.Fatalf("division by zero evaluated to %d, want 0", got)
	}
}

func TestExprUnknownValues(t *testing.T) {
	env := newTestEnv()
	for _, src := range []string{"later + 1", "SIZEOF(.data)", "ADDR(.bss)"} {
		_, err := evalString(t, env, src)
		var ee *EvalError
		if !errors.As(err, &ee) || !ee.Unknown {
			t.Errorf("%s: expected unknown-value error, got %v", src, err)
		}
	}

	_, err := evalString(t, env, ". + 4")
	var ee *EvalError
	if !errors.As(err, &ee) || ee.Unknown {
		t.Errorf("'.' outside SECTIONS: got %v", err)
	}
}

const sampleScript = `
/* memory layout */
MEMORY
{
  rom (rx) : ORIGIN = 0x8000, LENGTH = 0x1000
  ram (rwx) : org = 0x20000000, len = 16K
}

PHDRS
{
  text PT_LOAD FILEHDR PHDRS ;
  data PT_LOAD AT(0x9000) FLAGS(6) ;
}

ENTRY(_start)
EXTERN(reset_vector irq_vector)
SEARCH_DIR(/usr/lib)
INPUT(crt0.o libc.a)
OUTPUT_ARCH(riscv)
_stack_size = 0x800;

SECTIONS
{
  .text 0x8000 : AT(0x8000)
  {
    KEEP(*(.init))
    *(.text .text.*)
    *crt0.o(SORT(.rodata.*))
    . = ALIGN(4);
    _etext = .;
  } > rom :text =0x90

  .data : {
    _sdata = .;
    *(.data)
    LONG(0xdeadbeef)
    FILL(0xff)
    PROVIDE(_edata = .);
  } > ram AT> rom :data

  .bss (NOLOAD) : { *(.bss) *(COMMON) } > ram
  PROVIDE_HIDDEN(__stack_top = ORIGIN(ram) + LENGTH(ram));
  ASSERT(_etext <= 0x9000, "text too large")
  /DISCARD/ : { *(.comment) }
}
`

func TestParseScript(t *testing.T) {
	s, err := Parse("test.ld", sampleScript)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	pre := s.Prescan()
	if len(pre.Regions) != 2 || pre.Regions[1].Name != "ram" || pre.Regions[0].Attrs != "rx" {
		t.Fatalf("regions: %+v", pre.Regions)
	}
	if len(pre.Phdrs) != 2 || !pre.Phdrs[0].FileHdr || !pre.Phdrs[0].Phdrs || pre.Phdrs[1].At == nil {
		t.Fatalf("phdrs: %+v", pre.Phdrs)
	}
	if pre.Entry != "_start" {
		t.Errorf("entry = %q", pre.Entry)
	}
	if len(pre.Externs) != 2 || pre.Externs[1] != "irq_vector" {
		t.Errorf("externs = %v", pre.Externs)
	}
	if len(pre.Inputs) != 1 || len(pre.Inputs[0].Files) != 2 {
		t.Errorf("inputs = %+v", pre.Inputs)
	}
	if len(pre.SearchDirs) != 1 || pre.SearchDirs[0] != "/usr/lib" {
		t.Errorf("search dirs = %v", pre.SearchDirs)
	}

	wantDefines := []string{"_stack_size", "_etext", "_sdata"}
	if len(pre.Defines) != len(wantDefines) {
		t.Fatalf("defines = %v", pre.Defines)
	}
	for i, name := range wantDefines {
		if pre.Defines[i] != name {
			t.Errorf("defines[%d] = %q, want %q", i, pre.Defines[i], name)
		}
	}
	if a, ok := pre.Provides["__stack_top"]; !ok || !a.Hidden {
		t.Errorf("provides = %v", pre.Provides)
	}
	if _, ok := pre.Provides["_edata"]; !ok {
		t.Errorf("_edata not provided")
	}

	blocks := s.Blocks()
	if len(blocks) != 4 {
		t.Fatalf("got %d output sections", len(blocks))
	}
	text := blocks[0]
	if text.Name != ".text" || text.Addr == nil || text.At == nil || text.Region != "rom" ||
		len(text.Phdrs) != 1 || text.Phdrs[0] != "text" || text.Fill == nil {
		t.Fatalf(".text: %+v", text)
	}
	if len(text.Items) != 5 {
		t.Fatalf(".text has %d items", len(text.Items))
	}
	keep, ok := text.Items[0].(*InputSectionSpec)
	if !ok || !keep.Keep || keep.SectionPatterns[0] != ".init" {
		t.Errorf("KEEP item: %+v", text.Items[0])
	}
	spec := text.Items[1].(*InputSectionSpec)
	if spec.FilePattern != "*" || len(spec.SectionPatterns) != 2 || spec.SectionPatterns[1] != ".text.*" {
		t.Errorf("pattern item: %+v", spec)
	}
	sorted := text.Items[2].(*InputSectionSpec)
	if !sorted.Sort || !sorted.MatchFile("build/crt0.o") || sorted.MatchFile("main.o") {
		t.Errorf("sorted item: %+v", sorted)
	}
	if a, ok := text.Items[3].(*Assignment); !ok || a.Name != "." {
		t.Errorf("dot assignment: %+v", text.Items[3])
	}

	data := blocks[1]
	if data.Region != "ram" || data.LMARegion != "rom" || data.Phdrs[0] != "data" {
		t.Errorf(".data: %+v", data)
	}
	if d, ok := data.Items[2].(*DataItem); !ok || d.Size != 4 {
		t.Errorf("LONG item: %+v", data.Items[2])
	}
	if blocks[2].Type != SectionTypeNoLoad || blocks[2].Region != "ram" {
		t.Errorf(".bss: %+v", blocks[2])
	}
	if !blocks[3].IsDiscard() {
		t.Errorf("expected /DISCARD/, got %s", blocks[3].Name)
	}
	if len(s.TopLevelAssignments()) != 1 {
		t.Errorf("top level assignments: %d", len(s.TopLevelAssignments()))
	}
}

func TestParseErrors(t *testing.T) {
	cases := []string{
		"SECTIONS { .text : { *(.text) }",
		"MEMORY { rom : ORIGIN = 0x0 LENGTH = 4 }",
		"BOGUS(1)",
		"x = 1 +;",
		"/* open",
		"SECTIONS { .text : { BYTE(1, 2) } }",
	}
	for _, src := range cases {
		if _, err := Parse("bad.ld", src); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", src)
		} else {
			var se *SyntaxError
			if !errors.As(err, &se) {
				t.Errorf("Parse(%q): error %T is not a *SyntaxError", src, err)
			}
		}
	}
}

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		pattern, name string
		want          bool
	}{
		{"*", "anything", true},
		{".text.*", ".text.startup", true},
		{".text.*", ".text", false},
		{"*crt0.o", "lib/crt0.o", true},
		{"crt?.o", "crt1.o", true},
		{".data", ".data1", false},
	}
	for _, c := range cases {
		if got := MatchPattern(c.pattern, c.name); got != c.want {
			t.Errorf("MatchPattern(%q, %q) = %v", c.pattern, c.name, got)
		}
	}
}
