package linker

import (
	"os"
	"strconv"
)

// catch turns the panic raised by a FATAL, INTERNAL or failed Check into
// an error return. Other panics pass through.
func catch(err *error) {
	r := recover()
	if r == nil {
		return
	}
	le, ok := r.(*LinkError)
	if !ok {
		panic(r)
	}
	*err = le
}

// Link runs every stage between reading the input and writing the
// output. Input units must have been added to ctx.
func Link(ctx *Context) (err error) {
	defer catch(&err)

	ResolveSymbols(ctx)
	ctx.Diag.Check()

	AllocateCommons(ctx)
	CollectRelRefs(ctx)
	PrepareDynamic(ctx)

	if ctx.Script != nil && ctx.Prescan.HasSections {
		ScriptLayout(ctx)
	} else {
		DefaultLayout(ctx)
	}
	ctx.promoteRelocTargets()

	InitLinkerSymbols(ctx)
	ctx.linkerSymbolsSet = true
	if ctx.Script != nil {
		FinishScript(ctx)
	}
	ctx.Diag.Check()

	FillDynamicTables(ctx)
	ctx.computeEntry()

	if ctx.Arg.Debug {
		DumpLayout(ctx, ctx.Diag.Out)
	}
	if ctx.Arg.MapFile != "" {
		if err := writeMapFile(ctx, ctx.Arg.MapFile); err != nil {
			ctx.Diag.Error("%s: %v", ctx.Arg.MapFile, err)
		}
	}

	CopySections(ctx)
	FixRelocations(ctx)
	return nil
}

func writeMapFile(ctx *Context, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	WriteMap(ctx, f)
	return f.Close()
}

// promoteRelocTargets points section targets at the linked section they
// ended up in, moving the section offset into the addend. Every linked
// section a relocation reaches, directly or through a symbol, is marked
// referenced so the writer keeps it even when it is empty.
func (ctx *Context) promoteRelocTargets() {
	for _, ls := range ctx.LinkedSections {
		for _, sec := range ls.Sections {
			for _, list := range [][]*Reloc{sec.Relocs, sec.Xrefs} {
				for _, r := range list {
					switch t := r.Target.(type) {
					case SectionTarget:
						target := t.Sec.Live()
						if target.Linked == nil {
							ctx.Diag.Error("%s: relocation refers to discarded section %s",
								r.Location(), t.Sec.Name)
							continue
						}
						r.Addend += int64(target.Offset)
						r.Target = LinkedTarget{Sec: target.Linked}
						target.Linked.Referenced = true
					case LinkedTarget:
						t.Sec.Referenced = true
					case SymbolTarget:
						if t.Sym == nil {
							continue
						}
						if out := t.Sym.LinkedSection(); out != nil {
							out.Referenced = true
						}
					}
				}
			}
		}
	}
	for _, obj := range ctx.Objs {
		for _, sym := range obj.Symbols {
			if sym.Flags&SymReferenced == 0 {
				continue
			}
			if out := sym.LinkedSection(); out != nil {
				out.Referenced = true
			}
		}
	}
}

func (ctx *Context) entryName() string {
	if ctx.Arg.Entry != "" {
		return ctx.Arg.Entry
	}
	if ctx.Prescan != nil {
		return ctx.Prescan.Entry
	}
	return ""
}

// computeEntry finds the start address: the named entry symbol or
// number, then _start, then the first code section.
func (ctx *Context) computeEntry() {
	ctx.EntryAddr = 0
	if ctx.IsRelocatable() {
		return
	}
	if name := ctx.entryName(); name != "" {
		if sym := ctx.Globals.Lookup(name); sym != nil && sym.IsDefined() && sym.IsLinked() {
			ctx.EntryAddr = sym.Addr()
			return
		}
		if v, err := strconv.ParseUint(name, 0, 64); err == nil {
			ctx.EntryAddr = v
			return
		}
		ctx.Diag.Warn("cannot find entry symbol %s", name)
	}
	if sym := ctx.Globals.Lookup("_start"); sym != nil && sym.IsDefined() && sym.IsLinked() {
		ctx.EntryAddr = sym.Addr()
		return
	}
	for _, ls := range ctx.LinkedSections {
		if ls.IsAlloc() && ls.Type == SecCode && !ls.IsEmpty() {
			ctx.EntryAddr = ls.Base
			return
		}
	}
}
