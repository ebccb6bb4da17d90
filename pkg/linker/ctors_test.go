package linker

import (
	"encoding/binary"
	"testing"
)

func ctorFixture(ctx *Context, names ...string) (*ObjectUnit, *ObjectUnit) {
	obj := NewObjectUnit("a.o", UnitObject)
	text := newSection(obj, ".text", SecCode, 64, 2)
	defineSym(obj, "_start", text, 0)
	for i, name := range names[:len(names)-1] {
		defineSym(obj, name, text, uint64(4+i*4))
	}

	lib := NewObjectUnit("init.o", UnitLibMember)
	lib.Archive = "libinit.a"
	defineSym(lib, names[len(names)-1], newSection(lib, ".text", SecCode, 8, 2), 0)

	ctx.AddUnit(obj)
	ctx.AddUnit(lib)
	return obj, lib
}

func ctorNames(list []*CtorEntry) []string {
	var names []string
	for _, e := range list {
		names = append(names, e.Sym.Name)
	}
	return names
}

func equalNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCollectVBCC(t *testing.T) {
	ctx := newTestContext()
	ctx.Arg.Ctors = CtorVBCC
	_, lib := ctorFixture(ctx, "__INIT_2_foo", "__INIT_1_bar", "__EXIT_zap", "__INIT_5_baz")

	ResolveSymbols(ctx)
	if ctx.Diag.Errors != 0 {
		t.Fatalf("errors: %q", ctx.Diag.Messages)
	}
	lists := ctx.Ctors
	if lists == nil {
		t.Fatal("no constructor lists")
	}
	if want := []string{"__INIT_1_bar", "__INIT_2_foo", "__INIT_5_baz"}; !equalNames(ctorNames(lists.Ctors), want) {
		t.Errorf("ctors = %v, want %v", ctorNames(lists.Ctors), want)
	}
	if want := []string{"__EXIT_zap"}; !equalNames(ctorNames(lists.Dtors), want) {
		t.Errorf("dtors = %v, want %v", ctorNames(lists.Dtors), want)
	}
	if !lib.Linked {
		t.Errorf("library constructor not pulled into the link")
	}
	if lists.CtorLabel == nil || lists.CtorLabel.Name != "___CTOR_LIST__" {
		t.Fatalf("ctor label = %+v", lists.CtorLabel)
	}
	if lists.CtorSec.Size != 4*8 || len(lists.CtorSec.Relocs) != 3 {
		t.Errorf("ctor table size %d with %d relocations", lists.CtorSec.Size, len(lists.CtorSec.Relocs))
	}
	if lists.DtorSec.Size != 2*8 {
		t.Errorf("dtor table size %d", lists.DtorSec.Size)
	}
}

func TestCollectSASCInverted(t *testing.T) {
	ctx := newTestContext()
	ctx.Arg.Ctors = CtorSASC
	ctorFixture(ctx, "__STI_10_low", "__STI_90_high", "__STI_50_mid")

	ResolveSymbols(ctx)
	want := []string{"__STI_90_high", "__STI_50_mid", "__STI_10_low"}
	if got := ctorNames(ctx.Ctors.Ctors); !equalNames(got, want) {
		t.Errorf("ctors = %v, want %v", got, want)
	}
	if ctx.Ctors.CtorLabel.Name != "___ctors" {
		t.Errorf("label %s", ctx.Ctors.CtorLabel.Name)
	}
}

func TestGNUCtorTable(t *testing.T) {
	ctx := newTestContext()
	ctx.Arg.Format = FormatRawBin
	ctx.Arg.Ctors = CtorGNU
	ctorFixture(ctx, "__GLOBAL__I_b", "__GLOBAL__I_a")
	runLink(t, ctx)

	lists := ctx.Ctors
	sec := lists.CtorSec
	data := sec.Linked.Data[sec.Offset:]
	le := binary.LittleEndian
	if n := le.Uint64(data); n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
	for i, e := range lists.Ctors {
		if got := le.Uint64(data[8+8*i:]); got != e.Sym.Addr() {
			t.Errorf("entry %d = %#x, want %s at %#x", i, got, e.Sym.Name, e.Sym.Addr())
		}
	}
	if end := le.Uint64(data[8+8*len(lists.Ctors):]); end != 0 {
		t.Errorf("terminator = %#x", end)
	}
	if label := ctx.Globals.Lookup("___CTOR_LIST__"); label == nil || label.Addr() != sec.Addr() {
		t.Errorf("___CTOR_LIST__ = %+v", label)
	}
	if dtor := lists.DtorSec; dtor.Size != 2*8 {
		t.Errorf("empty dtor table size %d", dtor.Size)
	}
}

func TestCtorLabelAlreadyDefined(t *testing.T) {
	ctx := newTestContext()
	ctx.Arg.Ctors = CtorVBCCElf
	obj, _ := ctorFixture(ctx, "_INIT_x", "_INIT_y")
	defineSym(obj, "__CTOR_LIST__", obj.Sections[0], 0)
	ctx.Globals.Add(obj.Lookup("__CTOR_LIST__"))

	ResolveSymbols(ctx)
	if ctx.Ctors.CtorSec != nil {
		t.Errorf("constructor table built over an existing __CTOR_LIST__")
	}
	if !hasMessage(ctx, "'__CTOR_LIST__' is already defined") {
		t.Errorf("messages = %q", ctx.Diag.Messages)
	}
}

func TestCtorPriority(t *testing.T) {
	cases := map[string]int{"12_init": 12, "init": 0, "7": 0, "007_x": 7, "": 0}
	for rest, want := range cases {
		if got := ctorPriority(rest); got != want {
			t.Errorf("ctorPriority(%q) = %d, want %d", rest, got, want)
		}
	}
}

func TestParseCtorConvention(t *testing.T) {
	for _, c := range []CtorConvention{CtorNone, CtorGNU, CtorVBCC, CtorVBCCElf, CtorSASC} {
		got, err := ParseCtorConvention(c.String())
		if err != nil || got != c {
			t.Errorf("ParseCtorConvention(%q) = %v, %v", c.String(), got, err)
		}
	}
	if _, err := ParseCtorConvention("borland"); err == nil {
		t.Errorf("unknown convention accepted")
	}
}
