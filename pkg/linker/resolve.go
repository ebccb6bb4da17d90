package linker

import (
	"slices"
)

// FindSymbol returns the definition a reference from sec binds to. A
// local definition of the referencing unit wins over the global table;
// localOnly references accept nothing else.
func (ctx *Context) FindSymbol(sec *Section, name string, localOnly bool) *Symbol {
	if hook := ctx.Target.FindSymbol; hook != nil {
		if sym := hook(ctx, sec, name); sym != nil {
			return sym
		}
	}
	if sec != nil && sec.Obj != nil {
		if sym := sec.Obj.Lookup(name); sym != nil && sym.IsDefined() {
			if sym.IsLocal() || localOnly {
				return sym
			}
		}
	}
	if localOnly {
		return nil
	}
	return ctx.Globals.Lookup(name)
}

// ResolveSymbols binds every external reference of the active units.
// Units defining a referenced symbol are pulled from the pool as they are
// found, so the pass runs until no new unit shows up.
func ResolveSymbols(ctx *Context) {
	if !slices.Contains(ctx.Objs, ctx.InternalObj) {
		ctx.Objs = append(ctx.Objs, ctx.InternalObj)
	}

	if hook := ctx.Target.ForceLink; hook != nil {
		for _, obj := range slices.Clone(ctx.Unused) {
			if hook(ctx, obj) {
				ctx.LinkUnit(obj, nil)
			}
		}
	}
	for _, name := range ctx.forcedReferences() {
		ctx.requireSymbol(name)
	}

	ctx.resolvePass()
	if ctx.Arg.Ctors != CtorNone {
		CollectConstructors(ctx)
	}

	for progress := true; progress; {
		progress = false
		pending := ctx.pending
		ctx.pending = nil
		for _, x := range pending {
			if sym := ctx.lookupReference(x); sym != nil {
				ctx.bindXref(x.Sec.Obj, x, sym)
				progress = true
				continue
			}
			ctx.pending = append(ctx.pending, x)
		}
		if progress {
			ctx.resolvePass()
		}
	}

	for _, x := range ctx.pending {
		ctx.unresolved(x)
	}
	ctx.pending = nil
}

func (ctx *Context) forcedReferences() []string {
	names := slices.Clone(ctx.Arg.Undefined)
	if ctx.Prescan != nil {
		names = append(names, ctx.Prescan.Externs...)
	}
	if entry := ctx.entryName(); entry != "" {
		names = append(names, entry)
	}
	return names
}

// requireSymbol links the unit defining name, if there is one. Names
// nobody defines are fine here.
func (ctx *Context) requireSymbol(name string) {
	sym := ctx.Globals.Lookup(name)
	if sym == nil {
		return
	}
	sym.Flags |= SymReferenced
	if !sym.IsLinked() {
		ctx.LinkUnit(sym.Obj, nil)
	}
}

func (ctx *Context) resolvePass() {
	for i := 0; i < len(ctx.Objs); i++ {
		obj := ctx.Objs[i]
		if obj.resolved {
			continue
		}
		ctx.resolveUnit(obj)
	}
}

func (ctx *Context) resolveUnit(obj *ObjectUnit) {
	obj.resolved = true
	if obj.Kind == UnitShared {
		return
	}

	// Undefined entries of the symbol table pull in library members even
	// without a relocation referring to them.
	for _, sym := range obj.Symbols {
		if sym.IsDefined() || sym.IsLocal() || sym.IsWeak() {
			continue
		}
		if def := ctx.Globals.Lookup(sym.Name); def != nil && !def.IsLinked() {
			ctx.LinkUnit(def.Obj, obj)
		}
	}

	for _, sec := range obj.Sections {
		for _, x := range sec.Xrefs {
			if _, ok := x.Target.(XrefTarget); !ok {
				continue
			}
			if sym := ctx.lookupReference(x); sym != nil {
				ctx.bindXref(obj, x, sym)
			} else {
				ctx.pending = append(ctx.pending, x)
			}
		}
	}
}

// lookupReference finds the definition for an external reference,
// creating linker-defined and PROVIDEd symbols on demand. Weak references
// never pull a unit into the link.
func (ctx *Context) lookupReference(x *Reloc) *Symbol {
	name := x.Target.(XrefTarget).Name
	sym := ctx.FindSymbol(x.Sec, name, x.Kind == RelocLocalPC)
	if sym == nil && x.Kind != RelocLocalPC {
		sym = ctx.linkerSymbol(name)
	}
	if sym == nil {
		return nil
	}
	if x.IsWeak() && !sym.IsLinked() {
		return nil
	}
	return sym
}

func (ctx *Context) bindXref(obj *ObjectUnit, x *Reloc, sym *Symbol) {
	sym.Flags |= SymReferenced
	if !sym.IsLinked() {
		ctx.LinkUnit(sym.Obj, obj)
	}
	if sym.IsShared() && !ctx.IsRelocatable() {
		ctx.dynamicEntry(sym, x.Kind)
	}
	x.Target = SymbolTarget{Sym: sym}
}

func (ctx *Context) unresolved(x *Reloc) {
	if x.IsWeak() || ctx.IsRelocatable() || ctx.IsShared() || ctx.Arg.AllowUndefined {
		return
	}
	ctx.Diag.Error("%s: undefined reference to '%s'", x.Location(), x.TargetName())
}
