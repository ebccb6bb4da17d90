package linker

import (
	"encoding/binary"
	"testing"
)

func scriptContext(t *testing.T, src string) *Context {
	t.Helper()
	ctx := newTestContext()
	ctx.Arg.Format = FormatRawBin
	if err := LoadScript(ctx, "test.ld", src); err != nil {
		t.Fatalf("LoadScript: %v", err)
	}
	return ctx
}

func TestScriptRegion(t *testing.T) {
	ctx := scriptContext(t, `
MEMORY { rom : ORIGIN = 0x8000, LENGTH = 0x1000 }
SECTIONS { .text : { *(.text) } > rom }
`)
	obj := NewObjectUnit("a.o", UnitObject)
	defineSym(obj, "_start", newSection(obj, ".text", SecCode, 0x100, 2), 0)
	ctx.AddUnit(obj)
	runLink(t, ctx)

	ls := ctx.LinkedSectionByName(".text")
	if ls == nil || ls.Base != 0x8000 {
		t.Fatalf(".text = %+v, want base 0x8000", ls)
	}
	if rom := ctx.Region("rom"); rom.Current != 0x8100 {
		t.Errorf("rom cursor at %#x, want 0x8100", rom.Current)
	}
	if ctx.EntryAddr != 0x8000 {
		t.Errorf("entry %#x", ctx.EntryAddr)
	}
}

func TestScriptRegionOverflow(t *testing.T) {
	ctx := scriptContext(t, `
MEMORY { rom : ORIGIN = 0x8000, LENGTH = 0x80 }
SECTIONS { .text : { *(.text) } > rom }
`)
	obj := NewObjectUnit("a.o", UnitObject)
	newSection(obj, ".text", SecCode, 0x100, 2)
	ctx.AddUnit(obj)

	if err := Link(ctx); err == nil {
		t.Fatal("overflowing region linked")
	}
	if !hasMessage(ctx, "region 'rom' overflowed by 128 bytes") {
		t.Errorf("messages = %q", ctx.Diag.Messages)
	}
}

const placementScript = `
SECTIONS
{
  . = 0x1000;
  .text : { *(.text) _etext = .; }
  .data 0x2000 : AT(0x3000) { _sdata = .; *(.data) LONG(end_marker) }
  .bss : { *(.bss) *(COMMON) }
  end_marker = .;
  /DISCARD/ : { *(.comment) }
}
`

func TestScriptPlacement(t *testing.T) {
	ctx := scriptContext(t, placementScript)
	obj := NewObjectUnit("a.o", UnitObject)
	text := newSection(obj, ".text", SecCode, 0x20, 2)
	defineSym(obj, "_start", text, 0)
	addXref(text, RelocAbs, 0, "_sdata")
	newSection(obj, ".data", SecData, 8, 3)
	newSection(obj, ".bss", SecUData, 16, 3)
	comment := newSection(obj, ".comment", SecTmp, 4, 0)
	rodata := newSection(obj, ".rodata", SecData, 4, 0)
	rodata.Prot = ProtRead
	ctx.AddUnit(obj)
	runLink(t, ctx)

	want := []struct {
		name           string
		base, copyBase uint64
		size           uint64
	}{
		{".text", 0x1000, 0x1000, 0x20},
		{".data", 0x2000, 0x3000, 12},
		{".bss", 0x2010, 0x3010, 16},
		{".rodata", 0x2020, 0x3020, 4},
	}
	for _, w := range want {
		ls := ctx.LinkedSectionByName(w.name)
		if ls == nil {
			t.Errorf("%s missing", w.name)
			continue
		}
		if ls.Base != w.base || ls.CopyBase != w.copyBase || ls.Size != w.size {
			t.Errorf("%s: base %#x lma %#x size %d, want %#x %#x %d",
				w.name, ls.Base, ls.CopyBase, ls.Size, w.base, w.copyBase, w.size)
		}
	}
	if !comment.Discarded {
		t.Errorf(".comment not discarded")
	}

	syms := map[string]uint64{"_etext": 0x1020, "_sdata": 0x2000, "end_marker": 0x2020}
	for name, addr := range syms {
		sym := ctx.Globals.Lookup(name)
		if sym == nil || sym.Addr() != addr {
			t.Errorf("%s = %+v, want %#x", name, sym, addr)
		}
	}

	data := ctx.LinkedSectionByName(".data").Data
	if got := binary.LittleEndian.Uint32(data[8:]); got != 0x2020 {
		t.Errorf("LONG(end_marker) = %#x, want 0x2020", got)
	}
	if got := binary.LittleEndian.Uint64(ctx.LinkedSectionByName(".text").Data); got != 0x2000 {
		t.Errorf("reference to _sdata = %#x", got)
	}
}

func TestScriptProvide(t *testing.T) {
	ctx := scriptContext(t, `
PROVIDE(__stack = 0x9000);
PROVIDE(unused_sym = 1);
SECTIONS { .text 0x100 : { *(.text) } }
`)
	obj := NewObjectUnit("a.o", UnitObject)
	text := newSection(obj, ".text", SecCode, 8, 2)
	addXref(text, RelocAbs, 0, "__stack")
	ctx.AddUnit(obj)
	runLink(t, ctx)

	if sym := ctx.Globals.Lookup("__stack"); sym == nil || sym.Addr() != 0x9000 {
		t.Errorf("__stack = %+v", sym)
	}
	if sym := ctx.Globals.Lookup("unused_sym"); sym != nil {
		t.Errorf("unreferenced PROVIDE defined %s", sym.Name)
	}
	if got := binary.LittleEndian.Uint64(ctx.LinkedSectionByName(".text").Data); got != 0x9000 {
		t.Errorf("reference to __stack = %#x", got)
	}
}

func TestScriptOverridesObject(t *testing.T) {
	ctx := scriptContext(t, `
stack_top = 0x4000;
SECTIONS { .text 0x100 : { *(.text) } }
`)
	obj := NewObjectUnit("a.o", UnitObject)
	text := newSection(obj, ".text", SecCode, 8, 2)
	defineSym(obj, "stack_top", text, 0)
	addXref(text, RelocAbs, 0, "stack_top")
	ctx.AddUnit(obj)
	runLink(t, ctx)

	if got := binary.LittleEndian.Uint64(ctx.LinkedSectionByName(".text").Data); got != 0x4000 {
		t.Errorf("stack_top = %#x, want the script value 0x4000", got)
	}
}

func TestScriptAssert(t *testing.T) {
	ctx := scriptContext(t, `
SECTIONS {
  .text 0x100 : { *(.text) }
  ASSERT(SIZEOF(.text) < 0x10, "text too big")
}
`)
	obj := NewObjectUnit("a.o", UnitObject)
	newSection(obj, ".text", SecCode, 0x20, 2)
	ctx.AddUnit(obj)

	if err := Link(ctx); err == nil {
		t.Fatal("failed assertion linked")
	}
	if !hasMessage(ctx, "assertion failed: text too big") {
		t.Errorf("messages = %q", ctx.Diag.Messages)
	}
}

func TestScriptDotBackwards(t *testing.T) {
	ctx := scriptContext(t, `
SECTIONS { .text 0x100 : { *(.text) . = 0x104; } }
`)
	obj := NewObjectUnit("a.o", UnitObject)
	newSection(obj, ".text", SecCode, 0x20, 2)
	ctx.AddUnit(obj)

	if err := Link(ctx); err == nil {
		t.Fatal("backward location counter move linked")
	}
	if !hasMessage(ctx, "cannot move location counter backwards") {
		t.Errorf("messages = %q", ctx.Diag.Messages)
	}
}

func TestScriptForwardReference(t *testing.T) {
	ctx := scriptContext(t, `
SECTIONS {
  text_size = SIZEOF(.text);
  .data 0x1000 : { *(.data) QUAD(ADDR(.text)) }
  .text 0x2000 : { *(.text) }
}
`)
	obj := NewObjectUnit("a.o", UnitObject)
	newSection(obj, ".text", SecCode, 0x20, 2)
	newSection(obj, ".data", SecData, 8, 3)
	ctx.AddUnit(obj)
	runLink(t, ctx)

	if sym := ctx.Globals.Lookup("text_size"); sym == nil || sym.Addr() != 0x20 {
		t.Errorf("text_size = %+v", sym)
	}
	data := ctx.LinkedSectionByName(".data").Data
	if got := binary.LittleEndian.Uint64(data[8:]); got != 0x2000 {
		t.Errorf("QUAD(ADDR(.text)) = %#x", got)
	}
}

func TestScriptDivisionByZero(t *testing.T) {
	cases := []struct {
		name, src string
		sym       string
		want      uint64
	}{
		{"compound", "x = 8;\nx /= 0;\ny = x + 1;\n", "y", 1},
		{"expression", "x = 1 / 0;\ny = x + 1;\n", "y", 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ctx := scriptContext(t, c.src+"SECTIONS { .text 0x100 : { *(.text) } }\n")
			obj := NewObjectUnit("a.o", UnitObject)
			newSection(obj, ".text", SecCode, 0x10, 2)
			ctx.AddUnit(obj)

			if err := Link(ctx); err == nil {
				t.Fatal("division by zero linked")
			}
			if !hasMessage(ctx, "division by zero") {
				t.Errorf("messages = %q", ctx.Diag.Messages)
			}
			if ctx.Diag.Errors != 1 {
				t.Errorf("%d errors, want 1: %q", ctx.Diag.Errors, ctx.Diag.Messages)
			}
			if x := ctx.Globals.Lookup("x"); x == nil || x.Flags&SymAssigned == 0 || x.Addr() != 0 {
				t.Errorf("x = %+v, want assigned 0", x)
			}
			if sym := ctx.Globals.Lookup(c.sym); sym == nil || sym.Addr() != c.want {
				t.Errorf("%s = %+v, want %#x", c.sym, sym, c.want)
			}
		})
	}
}

func TestScriptDotOutsideSections(t *testing.T) {
	ctx := scriptContext(t, `
. = 0x100;
SECTIONS { .text 0x200 : { *(.text) } }
`)
	obj := NewObjectUnit("a.o", UnitObject)
	newSection(obj, ".text", SecCode, 0x10, 2)
	ctx.AddUnit(obj)

	if err := Link(ctx); err == nil {
		t.Fatal("location counter outside SECTIONS linked")
	}
	if !hasMessage(ctx, "'.' may only be assigned inside SECTIONS") {
		t.Errorf("messages = %q", ctx.Diag.Messages)
	}
}
