package linker

import (
	"encoding/binary"
	"testing"
)

// libraryFixture builds main.o referencing foo, and an archive whose foo.o
// member references bar from bar.o. unused.o is never asked for.
func libraryFixture(ctx *Context) (main, foo, bar, unused *ObjectUnit) {
	main = NewObjectUnit("main.o", UnitObject)
	text := newSection(main, ".text", SecCode, 16, 2)
	defineSym(main, "_start", text, 0)
	addXref(text, RelocAbs, 8, "foo")

	member := func(name, def, ref string) *ObjectUnit {
		obj := NewObjectUnit(name, UnitLibMember)
		obj.Archive = "libx.a"
		sec := newSection(obj, ".text", SecCode, 8, 2)
		defineSym(obj, def, sec, 4)
		if ref != "" {
			addXref(sec, RelocAbs, 0, ref)
		}
		return obj
	}
	foo = member("foo.o", "foo", "bar")
	bar = member("bar.o", "bar", "")
	unused = member("unused.o", "baz", "")

	for _, obj := range []*ObjectUnit{main, foo, bar, unused} {
		ctx.AddUnit(obj)
	}
	return main, foo, bar, unused
}

func TestResolveTransitiveLibrary(t *testing.T) {
	ctx := newTestContext()
	main, foo, bar, unused := libraryFixture(ctx)

	ResolveSymbols(ctx)
	if ctx.Diag.Errors != 0 {
		t.Fatalf("errors: %q", ctx.Diag.Messages)
	}
	if !foo.Linked || !bar.Linked {
		t.Fatalf("foo.o linked %v, bar.o linked %v", foo.Linked, bar.Linked)
	}
	if unused.Linked {
		t.Errorf("unused.o was pulled into the link")
	}
	want := []*ObjectUnit{main, foo, bar}
	for i, obj := range want {
		if ctx.Objs[i] != obj {
			t.Errorf("Objs[%d] = %s, want %s", i, ctx.Objs[i], obj)
		}
	}
	if len(ctx.Unused) != 1 || ctx.Unused[0] != unused {
		t.Errorf("Unused = %v", ctx.Unused)
	}

	x := main.Sections[0].Xrefs[0]
	st, ok := x.Target.(SymbolTarget)
	if !ok || st.Sym.Obj != foo {
		t.Errorf("reference to foo bound to %v", x.Target)
	}
	if st.Sym.Flags&SymReferenced == 0 {
		t.Errorf("foo not marked referenced")
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	ctx := newTestContext()
	libraryFixture(ctx)
	ResolveSymbols(ctx)
	objs := append([]*ObjectUnit(nil), ctx.Objs...)
	ResolveSymbols(ctx)
	if len(objs) != len(ctx.Objs) {
		t.Fatalf("second pass changed the active list: %v -> %v", objs, ctx.Objs)
	}
	for i := range objs {
		if objs[i] != ctx.Objs[i] {
			t.Errorf("Objs[%d] changed from %s to %s", i, objs[i], ctx.Objs[i])
		}
	}
}

func TestWeakReferenceDoesNotPull(t *testing.T) {
	ctx := newTestContext()
	main := NewObjectUnit("main.o", UnitObject)
	text := newSection(main, ".text", SecCode, 8, 2)
	x := addXref(text, RelocAbs, 0, "hook")
	x.Flags |= RelocWeakRef

	lib := NewObjectUnit("hook.o", UnitLibMember)
	defineSym(lib, "hook", newSection(lib, ".text", SecCode, 4, 2), 0)
	ctx.AddUnit(main)
	ctx.AddUnit(lib)

	ResolveSymbols(ctx)
	if lib.Linked {
		t.Errorf("weak reference pulled hook.o")
	}
	if ctx.Diag.Errors != 0 {
		t.Errorf("errors: %q", ctx.Diag.Messages)
	}
	if _, ok := x.Target.(XrefTarget); !ok {
		t.Errorf("weak reference bound to %v", x.Target)
	}
}

func TestUndefinedReference(t *testing.T) {
	ctx := newTestContext()
	main := NewObjectUnit("main.o", UnitObject)
	addXref(newSection(main, ".text", SecCode, 8, 2), RelocAbs, 0, "missing")
	ctx.AddUnit(main)

	ResolveSymbols(ctx)
	if !hasMessage(ctx, "undefined reference to 'missing'") {
		t.Errorf("messages = %q", ctx.Diag.Messages)
	}
	if err := Link(newUndefinedLink(true)); err != nil {
		t.Errorf("--allow-undefined: %v", err)
	}
}

func newUndefinedLink(allow bool) *Context {
	ctx := newTestContext()
	ctx.Arg.AllowUndefined = allow
	main := NewObjectUnit("main.o", UnitObject)
	addXref(newSection(main, ".text", SecCode, 8, 2), RelocAbs, 0, "missing")
	ctx.AddUnit(main)
	return ctx
}

func TestLinkFailsOnUndefined(t *testing.T) {
	ctx := newUndefinedLink(false)
	err := Link(ctx)
	le, ok := err.(*LinkError)
	if !ok || le.Level != LevelError {
		t.Fatalf("Link = %v, want an error-level LinkError", err)
	}
}

func TestLocalDefinitionWins(t *testing.T) {
	ctx := newTestContext()
	a := NewObjectUnit("a.o", UnitObject)
	text := newSection(a, ".text", SecCode, 16, 2)
	local := NewSymbol("helper")
	local.Bind = BindLocal
	local.SetInputSection(text)
	local.Value = 8
	a.AddSymbol(local)
	x := addXref(text, RelocAbs, 0, "helper")

	b := NewObjectUnit("b.o", UnitObject)
	defineSym(b, "helper", newSection(b, ".text", SecCode, 4, 2), 0)
	ctx.AddUnit(a)
	ctx.AddUnit(b)

	ResolveSymbols(ctx)
	if st, ok := x.Target.(SymbolTarget); !ok || st.Sym != local {
		t.Errorf("reference bound to %v, want the local helper", x.Target)
	}
}

func TestLinkWritesResolvedAddress(t *testing.T) {
	ctx := newTestContext()
	ctx.Arg.Format = FormatRawBin
	_, foo, _, _ := libraryFixture(ctx)
	runLink(t, ctx)

	ls := ctx.LinkedSectionByName(".text")
	if ls == nil {
		t.Fatal("no .text")
	}
	sym := ctx.Globals.Lookup("foo")
	if sym.Obj != foo {
		t.Fatalf("foo from %s", sym.DefinedIn())
	}
	if got := binary.LittleEndian.Uint64(ls.Data[8:]); got != sym.Addr() {
		t.Errorf("pointer to foo = %#x, want %#x", got, sym.Addr())
	}
	if ctx.Stats.Total != 2 || ctx.Stats.Written != 2 {
		t.Errorf("stats = %+v", ctx.Stats)
	}
}
