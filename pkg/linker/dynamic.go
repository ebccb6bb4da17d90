package linker

import (
	"debug/elf"

	"github.com/ksco/vlink/pkg/utils"
)

// DynamicLink keeps the GOT, PLT and copy entries of a link, plus the
// shared objects it depends on.
type DynamicLink struct {
	Needed []*ObjectUnit

	Got     *Section
	GotSyms []*Symbol
	Plt     *Section
	PltSyms []*Symbol
	DynBss  *Section
	Copies  []*Symbol

	// Imports and Exports make up the dynamic symbol table, in order.
	Imports []*Symbol
	Exports []*Symbol
	// Relocs are the runtime relocations. Offsets are relative to Sec.
	Relocs []*DynReloc
	// relocCount is the number reserved before layout.
	relocCount int

	tables *elfDynamic
}

// DynReloc is a runtime relocation. Offset is relative to Sec, which is
// placed by the time the relocation gets written.
type DynReloc struct {
	Kind   RelocKind
	Sec    *Section
	Offset uint64
	Sym    *Symbol
	Addend int64
}

func (r *DynReloc) Addr() uint64 {
	return r.Sec.Addr() + r.Offset
}

// IsImport reports whether the value of sym is only known at run time.
func (s *Symbol) IsImport() bool {
	return s.Flags&SymDynImport != 0 && s.Flags&SymCopied == 0
}

func (ctx *Context) dynamicEntry(sym *Symbol, kind RelocKind) {
	if hook := ctx.Target.DynamicEntry; hook != nil {
		hook(ctx, sym, kind)
		return
	}
	d := ctx.Dyn
	sym.Flags |= SymDynImport
	d.addImport(sym)
	switch {
	case kind.UsesGOT():
		d.AddGotSymbol(sym)
	case kind.UsesPLT(), sym.Info == InfoFunction:
		d.AddPltSymbol(sym)
	case !ctx.IsShared():
		d.AddCopySymbol(sym)
	}
}

func (d *DynamicLink) addImport(sym *Symbol) {
	if sym.DynIdx >= 0 {
		return
	}
	sym.DynIdx = 0
	d.Imports = append(d.Imports, sym)
}

func (d *DynamicLink) AddGotSymbol(sym *Symbol) {
	if sym.GotIdx >= 0 {
		return
	}
	sym.GotIdx = int32(len(d.GotSyms))
	d.GotSyms = append(d.GotSyms, sym)
}

func (d *DynamicLink) AddPltSymbol(sym *Symbol) {
	if sym.PltIdx >= 0 {
		return
	}
	sym.PltIdx = int32(len(d.PltSyms))
	d.PltSyms = append(d.PltSyms, sym)
}

func (d *DynamicLink) AddCopySymbol(sym *Symbol) {
	for _, s := range d.Copies {
		if s == sym {
			return
		}
	}
	d.Copies = append(d.Copies, sym)
}

// GotSlot returns the GOT offset of a symbol's slot.
func (ctx *Context) GotSlot(sym *Symbol) uint64 {
	return uint64(sym.GotIdx) * uint64(ctx.ptrSize())
}

// pltSlot returns the GOT offset holding the target of a PLT entry.
func (ctx *Context) pltSlot(sym *Symbol) uint64 {
	return uint64(len(ctx.Dyn.GotSyms)+int(sym.PltIdx)) * uint64(ctx.ptrSize())
}

func (ctx *Context) PltEntryAddr(sym *Symbol) uint64 {
	return ctx.Dyn.Plt.Addr() + uint64(sym.PltIdx)*ctx.Target.PltEntrySize
}

// PrepareDynamic creates the GOT, PLT and copy sections with their final
// sizes, so that layout can place them like any other input section.
func PrepareDynamic(ctx *Context) {
	if ctx.IsRelocatable() {
		return
	}
	d := ctx.Dyn
	ptr := uint64(ctx.ptrSize())

	for _, obj := range ctx.Objs {
		for _, sec := range obj.Sections {
			for _, list := range [][]*Reloc{sec.Relocs, sec.Xrefs} {
				for _, r := range list {
					ctx.scanDynamic(r)
				}
			}
		}
	}

	if ctx.IsShared() {
		for _, obj := range ctx.Objs {
			if obj.Kind == UnitShared {
				continue
			}
			for _, sym := range obj.Symbols {
				if sym.IsLocal() || !sym.IsDefined() || sym.Flags&SymHidden != 0 ||
					ctx.Globals.Lookup(sym.Name) != sym || sym.Type == SymCommon && !ctx.allocCommons() {
					continue
				}
				sym.Flags |= SymDynExport
				d.Exports = append(d.Exports, sym)
			}
		}
	}

	if n := len(d.GotSyms) + len(d.PltSyms); n > 0 {
		d.Got = NewSection(".got", SecData, ProtRead|ProtWrite, 3)
		d.Got.Size = uint64(n) * ptr
		d.Got.Data = make([]byte, d.Got.Size)
		d.Got.Ext = &elfSectionExt{Type: uint32(elf.SHT_PROGBITS), Flags: uint64(elf.SHF_ALLOC | elf.SHF_WRITE)}
		ctx.InternalObj.AddSection(d.Got)
	}
	if len(d.PltSyms) > 0 {
		d.Plt = NewSection(".plt", SecCode, ProtRead|ProtExec, 4)
		d.Plt.Size = uint64(len(d.PltSyms)) * ctx.Target.PltEntrySize
		d.Plt.Data = make([]byte, d.Plt.Size)
		d.Plt.Ext = &elfSectionExt{Type: uint32(elf.SHT_PROGBITS), Flags: uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR)}
		ctx.InternalObj.AddSection(d.Plt)
	}
	if len(d.Copies) > 0 {
		d.DynBss = NewSection(".bss", SecUData, ProtRead|ProtWrite, 3)
		ctx.InternalObj.AddSection(d.DynBss)
		for _, sym := range d.Copies {
			off := utils.AlignTo(d.DynBss.Size, ptr)
			sym.SetInputSection(d.DynBss)
			sym.Value = off
			sym.Flags |= SymCopied
			d.DynBss.Size = off + utils.Max(sym.Size, 1)
		}
	}

	d.relocCount = ctx.countDynamicRelocs()
	if ctx.IsDynamic() && ctx.Arg.Format == FormatELF {
		ctx.prepareElfDynamic()
	}
}

func (ctx *Context) scanDynamic(r *Reloc) {
	switch t := r.Target.(type) {
	case SymbolTarget:
		if t.Sym != nil && r.Kind.UsesGOT() {
			ctx.Dyn.AddGotSymbol(t.Sym)
		}
	case XrefTarget:
		// Unresolved references of a shared object are bound at run time.
		if ctx.IsShared() {
			sym := ctx.undefinedSymbol(t.Name, r.IsWeak())
			r.Target = SymbolTarget{Sym: sym}
			ctx.dynamicEntry(sym, r.Kind)
		}
	}
}

// undefinedSymbol returns the placeholder standing for a name nobody
// defines, creating it on first use.
func (ctx *Context) undefinedSymbol(name string, weak bool) *Symbol {
	if sym := ctx.InternalObj.Lookup(name); sym != nil && !sym.IsDefined() {
		return sym
	}
	sym := NewSymbol(name)
	sym.Bind = BindGlobal
	if weak {
		sym.Bind = BindWeak
	}
	sym.Flags |= SymReferenced
	ctx.InternalObj.AddSymbol(sym)
	return sym
}

// isPointerReloc reports an absolute relocation filling a whole pointer.
func (ctx *Context) isPointerReloc(kind RelocKind, ins []Insert) bool {
	return kind == RelocAbs && len(ins) == 1 && ins[0] == Field(0, uint8(ctx.ptrSize()*8))
}

func (ctx *Context) countDynamicRelocs() int {
	d := ctx.Dyn
	n := len(d.PltSyms) + len(d.Copies)
	for _, sym := range d.GotSyms {
		if sym.IsImport() || ctx.IsShared() {
			n++
		}
	}
	if !ctx.IsShared() {
		return n
	}
	for _, obj := range ctx.Objs {
		for _, sec := range obj.Sections {
			if !sec.IsAlloc() {
				continue
			}
			for _, list := range [][]*Reloc{sec.Relocs, sec.Xrefs} {
				for _, r := range list {
					if ctx.isPointerReloc(r.Kind, r.Insert) {
						n++
					}
				}
			}
		}
	}
	return n
}

func (ctx *Context) addDynReloc(r *DynReloc) {
	d := ctx.Dyn
	if len(d.Relocs) >= d.relocCount {
		ctx.Diag.Internal("more dynamic relocations than reserved (%d)", d.relocCount)
	}
	d.Relocs = append(d.Relocs, r)
}

// FillDynamicTables writes GOT slots and PLT entries and records the
// runtime relocations they need. Addresses must be final.
func FillDynamicTables(ctx *Context) {
	d := ctx.Dyn
	if d.Got == nil {
		return
	}
	for _, sym := range d.GotSyms {
		slot := ctx.GotSlot(sym)
		switch {
		case sym.IsImport():
			ctx.addDynReloc(&DynReloc{Kind: RelocGlobDat, Sec: d.Got, Offset: slot, Sym: sym})
		case ctx.IsShared():
			ctx.addDynReloc(&DynReloc{Kind: RelocLoadRel, Sec: d.Got, Offset: slot, Addend: int64(sym.Addr())})
			ctx.putWord(d.Got.Data[slot:], sym.Addr())
		default:
			ctx.putWord(d.Got.Data[slot:], sym.Addr())
		}
	}
	for _, sym := range d.PltSyms {
		slot := ctx.pltSlot(sym)
		ctx.addDynReloc(&DynReloc{Kind: RelocJmpSlot, Sec: d.Got, Offset: slot, Sym: sym})
		entry := uint64(sym.PltIdx) * ctx.Target.PltEntrySize
		ctx.Target.WritePltEntry(ctx, d.Plt.Data[entry:], d.Plt.Addr()+entry, d.Got.Addr()+slot)
	}
	for _, sym := range d.Copies {
		ctx.addDynReloc(&DynReloc{Kind: RelocCopy, Sec: sym.Sec, Offset: sym.Value, Sym: sym})
	}
}
