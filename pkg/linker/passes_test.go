package linker

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"strings"
	"testing"
)

func TestCongruent(t *testing.T) {
	cases := []struct{ off, addr, page, want uint64 }{
		{0x1234, 0x10010, 0x1000, 0x2010},
		{0x10, 0x10010, 0x1000, 0x10},
		{0x8, 0x10010, 0x1000, 0x10},
		{0x77, 0x10010, 0, 0x77},
	}
	for _, c := range cases {
		if got := congruent(c.off, c.addr, c.page); got != c.want {
			t.Errorf("congruent(%#x, %#x, %#x) = %#x, want %#x", c.off, c.addr, c.page, got, c.want)
		}
	}
}

// programContext links a two section program that stores the address of
// _start in .data.
func programContext(t *testing.T, configure func(*Context)) (*Context, *Section, *Section) {
	t.Helper()
	ctx := newTestContext()
	if configure != nil {
		configure(ctx)
	}
	obj := NewObjectUnit("prog.o", UnitObject)
	text := newSection(obj, ".text", SecCode, 16, 2)
	for i := 0; i < 16; i += 4 {
		binary.LittleEndian.PutUint32(text.Data[i:], 0x00000013) // nop
	}
	defineSym(obj, "_start", text, 0)
	data := newSection(obj, ".data", SecData, 8, 3)
	addXref(data, RelocAbs, 0, "_start")
	ctx.AddUnit(obj)
	runLink(t, ctx)
	return ctx, text, data
}

func TestEmitExecutable(t *testing.T) {
	ctx, text, data := programContext(t, nil)
	buf, err := Emit(ctx)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !CheckMagic(buf) {
		t.Fatalf("no ELF magic")
	}

	f, err := elf.NewFile(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("output does not parse: %v", err)
	}
	if f.Type != elf.ET_EXEC || f.Machine != elf.EM_RISCV || f.Class != elf.ELFCLASS64 {
		t.Errorf("header: %v %v %v", f.Type, f.Machine, f.Class)
	}
	if f.Entry != text.Addr() {
		t.Errorf("entry %#x, want %#x", f.Entry, text.Addr())
	}

	sec := f.Section(".data")
	if sec == nil || sec.Addr != data.Linked.Base {
		t.Fatalf(".data = %+v", sec)
	}
	contents, err := sec.Data()
	if err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint64(contents); got != text.Addr() {
		t.Errorf(".data holds %#x, want %#x", got, text.Addr())
	}

	var loads int
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD {
			loads++
			if p.Off%ctx.Target.PageSize != p.Vaddr%ctx.Target.PageSize {
				t.Errorf("segment at %#x is not congruent with its offset %#x", p.Vaddr, p.Off)
			}
		}
	}
	if loads != 2 {
		t.Errorf("%d PT_LOAD segments, want 2", loads)
	}
}

func TestEmitRelocatable(t *testing.T) {
	ctx := newTestContext()
	ctx.Arg.OutputType = OutputRelocatable
	obj := NewObjectUnit("part.o", UnitObject)
	text := newSection(obj, ".text", SecCode, 16, 2)
	addXref(text, RelocAbs, 8, "ext")
	ctx.AddUnit(obj)
	runLink(t, ctx)

	buf, err := Emit(ctx)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	f, err := elf.NewFile(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("output does not parse: %v", err)
	}
	if f.Type != elf.ET_REL || len(f.Progs) != 0 {
		t.Errorf("type %v with %d program headers", f.Type, len(f.Progs))
	}
	if f.Section(".rela.text") == nil {
		t.Errorf("no .rela.text in relocatable output")
	}
}

func TestEmitRelocatableKeepsEmptyTarget(t *testing.T) {
	ctx := newTestContext()
	ctx.Arg.OutputType = OutputRelocatable
	obj := NewObjectUnit("part.o", UnitObject)
	text := newSection(obj, ".text", SecCode, 16, 2)
	mark := newSection(obj, ".endmark", SecData, 0, 0)
	text.AddReloc(&Reloc{Kind: RelocAbs, Offset: 8, Target: SectionTarget{Sec: mark}, Insert: []Insert{Field(0, 64)}})
	ctx.AddUnit(obj)
	runLink(t, ctx)

	if !mark.Linked.Referenced || mark.Linked.IsEmpty() {
		t.Fatalf(".endmark not kept: %+v", mark.Linked)
	}
	buf, err := Emit(ctx)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	f, err := elf.NewFile(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("output does not parse: %v", err)
	}
	endmark := -1
	for i, sec := range f.Sections {
		if sec.Name == ".endmark" {
			endmark = i
		}
	}
	if endmark < 0 {
		t.Fatalf("empty but referenced .endmark dropped from the output")
	}

	rela := f.Section(".rela.text")
	if rela == nil {
		t.Fatal("no .rela.text")
	}
	data, err := rela.Data()
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 24 {
		t.Fatalf(".rela.text holds %d bytes, want one entry", len(data))
	}
	symIdx := binary.LittleEndian.Uint64(data[8:]) >> 32
	if symIdx == 0 {
		t.Fatalf("relocation re-emitted against symbol 0")
	}
	syms, err := f.Symbols()
	if err != nil {
		t.Fatal(err)
	}
	if sym := syms[symIdx-1]; int(sym.Section) != endmark {
		t.Errorf("relocation symbol %q in section %d, want .endmark (%d)", sym.Name, sym.Section, endmark)
	}
}

func TestEmitIsDeterministic(t *testing.T) {
	var images [][]byte
	for i := 0; i < 2; i++ {
		ctx, _, _ := programContext(t, nil)
		buf, err := Emit(ctx)
		if err != nil {
			t.Fatalf("Emit: %v", err)
		}
		images = append(images, buf)
	}
	if !bytes.Equal(images[0], images[1]) {
		t.Errorf("two identical links produced different images")
	}
}

func TestEmitRawBinary(t *testing.T) {
	ctx, text, data := programContext(t, func(ctx *Context) {
		ctx.Arg.Format = FormatRawBin
	})
	buf, err := Emit(ctx)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}

	start := text.Linked.CopyBase
	if want := data.Linked.CopyBase + data.Linked.FileSize - start; uint64(len(buf)) != want {
		t.Fatalf("image size %d, want %d", len(buf), want)
	}
	if !bytes.Equal(buf[:16], text.Linked.Data[:16]) {
		t.Errorf("image does not start with .text")
	}
	for off := text.Linked.FileSize; off < data.Linked.CopyBase-start; off++ {
		if buf[off] != 0 {
			t.Fatalf("gap byte at %#x is %#x", off, buf[off])
		}
	}
	if got := binary.LittleEndian.Uint64(buf[data.Linked.CopyBase-start:]); got != text.Addr() {
		t.Errorf(".data holds %#x, want %#x", got, text.Addr())
	}
}

func TestEmitRawBinaryGapFill(t *testing.T) {
	ctx := newTestContext()
	ctx.Arg.Format = FormatRawBin
	ctx.Arg.GapFill = 0xff
	obj := NewObjectUnit("prog.o", UnitObject)
	text := newSection(obj, ".text", SecCode, 20, 2)
	defineSym(obj, "_start", text, 0)
	data := newSection(obj, ".data", SecData, 8, 4)
	copy(data.Data, "payload!")
	ctx.AddUnit(obj)
	runLink(t, ctx)

	buf, err := Emit(ctx)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	gap := buf[text.Linked.FileSize : data.Linked.CopyBase-text.Linked.CopyBase]
	if len(gap) == 0 {
		t.Fatalf(".data directly follows .text")
	}
	for i, b := range gap {
		if b != 0xff {
			t.Fatalf("gap byte %d is %#x", i, b)
		}
	}
	start := data.Linked.CopyBase - text.Linked.CopyBase
	if got := string(buf[start : start+8]); got != "payload!" {
		t.Errorf(".data contents %q", got)
	}
}

func TestEmitRawBinaryRelocatable(t *testing.T) {
	ctx := newTestContext()
	ctx.Arg.Format = FormatRawBin
	ctx.Arg.OutputType = OutputRelocatable
	if _, err := Emit(ctx); err == nil {
		t.Errorf("relocatable raw binary accepted")
	}
}

func TestWriteMap(t *testing.T) {
	ctx, text, _ := programContext(t, nil)
	var out strings.Builder
	WriteMap(ctx, &out)
	m := out.String()
	for _, want := range []string{".text", ".data", "prog.o", "_start", "Entry point"} {
		if !strings.Contains(m, want) {
			t.Errorf("map lacks %q:\n%s", want, m)
		}
	}
	if ctx.EntryAddr != text.Addr() {
		t.Errorf("entry %#x", ctx.EntryAddr)
	}
}
