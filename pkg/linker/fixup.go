package linker

import (
	"errors"
)

// CopySections builds the contents of every linked section from its
// input sections.
func CopySections(ctx *Context) {
	for _, ls := range ctx.LinkedSections {
		ls.CopyContents()
	}
}

// FixRelocations writes every relocation whose value is known into the
// section contents. The rest become output relocations. Every relocation
// is consumed exactly once.
func FixRelocations(ctx *Context) {
	outs := make(map[*Reloc]*OutReloc)
	for _, ls := range ctx.LinkedSections {
		for _, sec := range ls.Sections {
			for _, list := range [][]*Reloc{sec.Relocs, sec.Xrefs} {
				for _, r := range list {
					ctx.Stats.Total++
					ctx.fixReloc(ls, sec, r, outs)
				}
			}
		}
	}
	for r, out := range outs {
		if r.Pair != nil {
			out.Pair = outs[r.Pair]
		}
	}
	ctx.Diag.Check()
	ctx.checkRelocStats()
}

func (ctx *Context) checkRelocStats() {
	s := ctx.Stats
	if s.Total != s.Written+s.Emitted {
		ctx.Diag.Internal("%d relocations, but %d written and %d emitted", s.Total, s.Written, s.Emitted)
	}
	for _, ls := range ctx.LinkedSections {
		for _, sec := range ls.Sections {
			for _, list := range [][]*Reloc{sec.Relocs, sec.Xrefs} {
				for _, r := range list {
					if r.consumed != 1 {
						ctx.Diag.Internal("%s: relocation %s consumed %d times", r.Location(), r, r.consumed)
					}
				}
			}
		}
	}
}

// relocTarget is the resolved target of a relocation.
type relocTarget struct {
	S   uint64
	Sym *Symbol
	Ls  *LinkedSection
	// Undefined marks a reference nobody defines that is allowed to
	// stay unresolved.
	Undefined bool
}

// isRelocatable reports a target whose address moves with the image.
func (t *relocTarget) isRelocatable() bool {
	return t.Ls != nil
}

func (ctx *Context) resolveTarget(r *Reloc) relocTarget {
	switch t := r.Target.(type) {
	case LinkedTarget:
		return relocTarget{S: t.Sec.Base, Ls: t.Sec}
	case SymbolTarget:
		sym := t.Sym
		if sym == nil {
			return relocTarget{}
		}
		if sym.PltIdx >= 0 && ctx.Dyn.Plt != nil && !ctx.IsRelocatable() {
			return relocTarget{S: ctx.PltEntryAddr(sym), Sym: sym, Ls: ctx.Dyn.Plt.Linked}
		}
		if !sym.IsDefined() {
			return relocTarget{Sym: sym, Undefined: true}
		}
		tgt := relocTarget{S: sym.Addr(), Sym: sym}
		if sym.Type == SymReloc {
			tgt.Ls = sym.LinkedSection()
		}
		return tgt
	case XrefTarget:
		return relocTarget{Undefined: true}
	}
	ctx.Diag.Internal("%s: relocation target %s was not resolved before fixup", r.Location(), r.TargetName())
	return relocTarget{}
}

func (ctx *Context) fixReloc(ls *LinkedSection, sec *Section, r *Reloc, outs map[*Reloc]*OutReloc) {
	if ctx.IsRelocatable() && !ctx.relocWritable(ls, r) {
		out := ctx.emitReloc(ls, sec, r)
		outs[r] = out
		ls.OutRelocs = append(ls.OutRelocs, out)
		ctx.Stats.Emitted++
		r.consumed++
		return
	}

	if sec.IsUninitialized() || ls.Data == nil {
		ctx.Diag.Error("%s: relocation in uninitialized section", r.Location())
		return
	}
	off := sec.Offset + r.Offset
	if off+uint64(r.Width()) > uint64(len(ls.Data)) {
		ctx.Diag.Error("%s: relocation %s out of section bounds", r.Location(), r)
		return
	}
	data := ls.Data[off:]
	order := ctx.byteOrder()
	tgt := ctx.resolveTarget(r)

	if tgt.Undefined {
		if !r.IsWeak() && !ctx.Arg.AllowUndefined && !ctx.IsShared() {
			ctx.Diag.Error("%s: undefined reference to '%s'", r.Location(), r.TargetName())
			return
		}
		if tgt.Sym == nil || !tgt.Sym.IsImport() {
			_ = WriteBitfield(data, order, r.Insert, 0, r.Kind.Signedness(), false)
			ctx.Stats.Written++
			r.consumed++
			return
		}
	}

	P := ls.Base + off
	if ctx.IsShared() && r.Kind == RelocAbs {
		if ctx.sharedAbsolute(sec, r, &tgt) {
			return
		}
	}
	if tgt.Sym != nil && tgt.Sym.IsImport() && r.Kind == RelocAbs && tgt.Sym.PltIdx < 0 {
		ctx.Diag.Error("%s: absolute reference to '%s' of a shared object needs a runtime relocation",
			r.Location(), tgt.Sym.Name)
		return
	}

	v, err := ctx.relocValue(r, &tgt, P)
	if err != nil {
		ctx.Diag.Error("%s: %v", r.Location(), err)
		return
	}
	if r.Flags&(RelocAccumAdd|RelocAccumSub) != 0 {
		old := ReadBitfield(data, order, r.Insert, SignUnsigned)
		if r.Flags&RelocAccumAdd != 0 {
			v = old + v
		} else {
			v = old - v
		}
	}

	check := r.Flags&RelocPartial == 0
	if err := WriteBitfield(data, order, r.Insert, v, r.Kind.Signedness(), check); err != nil {
		var rangeErr *RangeError
		if errors.As(err, &rangeErr) {
			ctx.Diag.Error("%s: %s relocation to '%s' out of range: %v",
				r.Location(), r.Kind, r.TargetName(), err)
		} else {
			ctx.Diag.Error("%s: %v", r.Location(), err)
		}
		return
	}
	ctx.Stats.Written++
	r.consumed++
}

// sharedAbsolute handles an absolute relocation in a shared object. Full
// pointers become runtime relocations; anything narrower against an
// address that moves with the image cannot be expressed. It reports
// whether r was consumed or rejected.
func (ctx *Context) sharedAbsolute(sec *Section, r *Reloc, tgt *relocTarget) bool {
	import_ := tgt.Sym != nil && tgt.Sym.IsImport()
	if !import_ && !tgt.isRelocatable() {
		return false
	}
	if !ctx.isPointerReloc(r.Kind, r.Insert) || r.Flags&(RelocAccumAdd|RelocAccumSub) != 0 {
		if r.Flags&(RelocAccumAdd|RelocAccumSub) != 0 && !import_ {
			// Differences of two addresses in the image do not move.
			return false
		}
		ctx.Diag.Error("%s: %s relocation to '%s' cannot be used when making a shared object",
			r.Location(), r.Kind, r.TargetName())
		return true
	}

	if import_ {
		ctx.addDynReloc(&DynReloc{Kind: RelocGlobDat, Sec: sec, Offset: r.Offset, Sym: tgt.Sym, Addend: r.Addend})
	} else {
		v := int64(tgt.S) + r.Addend
		ctx.addDynReloc(&DynReloc{Kind: RelocLoadRel, Sec: sec, Offset: r.Offset, Addend: v})
		ls := sec.Linked
		ctx.putWord(ls.Data[sec.Offset+r.Offset:], uint64(v))
	}
	ctx.Stats.Emitted++
	r.consumed++
	return true
}

var errNoGotSlot = errors.New("GOT relocation against a symbol without GOT slot")

func (ctx *Context) relocValue(r *Reloc, tgt *relocTarget, P uint64) (int64, error) {
	S, A := int64(tgt.S), r.Addend
	switch r.Kind {
	case RelocAbs, RelocPLT:
		return S + A, nil
	case RelocPC, RelocLocalPC, RelocPLTPC:
		return S + A - int64(P), nil
	case RelocGOT, RelocGOTPC:
		if tgt.Sym == nil || tgt.Sym.GotIdx < 0 {
			return 0, errNoGotSlot
		}
		G := int64(ctx.GotSlot(tgt.Sym))
		if r.Kind == RelocGOT {
			return G + A, nil
		}
		return int64(ctx.gotAddress()) + G + A - int64(P), nil
	case RelocGOTOff, RelocPLTOff:
		return S + A - int64(ctx.gotAddress()), nil
	case RelocSD, RelocSD2, RelocSD21, RelocMOSDRel, RelocAOSBRel:
		return S + A - int64(ctx.baseAddress(r.Kind)), nil
	case RelocSecOff:
		if tgt.Ls == nil {
			return S + A, nil
		}
		return S + A - int64(tgt.Ls.Base), nil
	}
	return 0, errors.New("unsupported relocation kind " + r.Kind.String())
}

// relocWritable reports whether a relocation of relocatable output can be
// resolved now: a PC-relative reference that stays inside one section.
func (ctx *Context) relocWritable(ls *LinkedSection, r *Reloc) bool {
	if !r.Kind.IsPCRelative() || r.Flags&(RelocAccumAdd|RelocAccumSub) != 0 {
		return false
	}
	switch t := r.Target.(type) {
	case LinkedTarget:
		return t.Sec == ls
	case SymbolTarget:
		return t.Sym != nil && t.Sym.Type == SymReloc && t.Sym.LinkedSection() == ls &&
			!t.Sym.IsShared() && (t.Sym.IsLocal() || r.Kind == RelocLocalPC)
	}
	return false
}

// emitReloc turns r into a relocation of the output file. Local symbols
// are expressed relative to their section, so that they need not appear
// in the symbol table.
func (ctx *Context) emitReloc(ls *LinkedSection, sec *Section, r *Reloc) *OutReloc {
	out := &OutReloc{
		Kind:   r.Kind,
		Offset: sec.Offset + r.Offset,
		Addend: r.Addend,
		Insert: r.Insert,
		Flags:  r.Flags,
		Orig:   r,
	}
	switch t := r.Target.(type) {
	case LinkedTarget:
		out.Sec = t.Sec
	case SymbolTarget:
		sym := t.Sym
		switch {
		case sym == nil:
			out.Sym = nil
		case sym.IsLocal() && sym.Type == SymReloc && sym.LinkedSection() != nil:
			target := sym.LinkedSection()
			out.Sec = target
			out.Addend += int64(sym.Addr() - target.Base)
		default:
			out.Sym = sym
		}
	case XrefTarget:
		out.Sym = ctx.undefinedSymbol(t.Name, r.IsWeak())
	}
	return out
}
