package linker

// RelRef is a PC-relative or base-relative reference from one input
// section into another.
type RelRef struct {
	From *Section
	To   *Section
	Kind RelocKind
}

// CollectRelRefs records cross-section relative references. Merging on
// PC-relative ones happens in layout when requested; base-relative ones
// must point into data the base register can reach.
func CollectRelRefs(ctx *Context) {
	seen := make(map[[2]*Section]bool)
	for _, obj := range ctx.Objs {
		for _, sec := range obj.Sections {
			for _, list := range [][]*Reloc{sec.Relocs, sec.Xrefs} {
				for _, r := range list {
					if !r.Kind.IsPCRelative() && !r.Kind.IsBaseRelative() {
						continue
					}
					to := r.TargetSection()
					if to == nil || to == sec {
						continue
					}
					if r.Kind.IsBaseRelative() {
						ctx.checkBaseRelative(r, to)
					}
					key := [2]*Section{sec, to}
					if seen[key] {
						continue
					}
					seen[key] = true
					ctx.RelRefs = append(ctx.RelRefs, RelRef{From: sec, To: to, Kind: r.Kind})
				}
			}
		}
	}
}

func (ctx *Context) checkBaseRelative(r *Reloc, to *Section) {
	switch {
	case to.Type == SecCode || !to.IsAlloc():
		ctx.Diag.Error("%s: base-relative reference to %s section %s of %s",
			r.Location(), to.Type, to.Name, to.Obj.FullName())
	case to.Flags&SecSmallData == 0:
		ctx.Diag.Warn("%s: base-relative reference to %s of %s, which is not small data",
			r.Location(), to.Name, to.Obj.FullName())
	}
}
