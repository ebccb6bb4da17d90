package linker

import (
	"strings"
	"testing"
)

func newTestContext() *Context {
	ctx := NewContext()
	ctx.Diag.Out = nil
	ctx.Arg.Emulation = MachineTypeRISCV64
	return ctx
}

func newSection(obj *ObjectUnit, name string, typ SectionType, size int, p2align uint8) *Section {
	prot := ProtRead
	switch typ {
	case SecCode:
		prot |= ProtExec
	case SecData, SecUData:
		prot |= ProtWrite
	}
	sec := NewSection(name, typ, prot, p2align)
	sec.Size = uint64(size)
	if typ != SecUData {
		sec.Data = make([]byte, size)
	}
	return obj.AddSection(sec)
}

func defineSym(obj *ObjectUnit, name string, sec *Section, value uint64) *Symbol {
	sym := NewSymbol(name)
	sym.Bind = BindGlobal
	sym.SetInputSection(sec)
	sym.Value = value
	return obj.AddSymbol(sym)
}

func commonSym(obj *ObjectUnit, name string, size, align uint64) *Symbol {
	sym := NewSymbol(name)
	sym.Bind = BindGlobal
	sym.Type = SymCommon
	sym.Size = size
	sym.Value = align
	return obj.AddSymbol(sym)
}

func addXref(sec *Section, kind RelocKind, off uint64, name string, ins ...Insert) *Reloc {
	if len(ins) == 0 {
		ins = []Insert{Field(0, 64)}
	}
	r := &Reloc{Kind: kind, Offset: off, Target: XrefTarget{Name: name}, Insert: ins}
	sec.AddReloc(r)
	return r
}

func runLink(t *testing.T, ctx *Context) {
	t.Helper()
	if err := Link(ctx); err != nil {
		t.Fatalf("Link: %v\n%s", err, strings.Join(ctx.Diag.Messages, "\n"))
	}
}

func hasMessage(ctx *Context, substr string) bool {
	for _, m := range ctx.Diag.Messages {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}
