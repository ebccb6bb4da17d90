package linker

import (
	"debug/elf"
	"fmt"
	"slices"
	"sort"

	"github.com/ksco/vlink/pkg/utils"
)

var joinOrder = []SectionType{SecCode, SecData, SecUData, SecTmp}

// findLinkedSection returns an output section sec may join. Sections
// already placed by a script are closed.
func (ctx *Context) findLinkedSection(name string, sec *Section) *LinkedSection {
	for _, ls := range ctx.LinkedSections {
		if ls.placed || ls.Name != name {
			continue
		}
		if ctx.compareSectionFlags(ls, sec) {
			return ls
		}
	}
	return nil
}

// linkOnceCopy returns the section that was kept for the name of a
// link-once section, or nil when sec is the first one.
func linkOnceCopy(kept map[string]*Section, sec *Section) *Section {
	if sec.Flags&SecLinkOnce == 0 {
		return nil
	}
	if first, ok := kept[sec.Name]; ok {
		return first
	}
	kept[sec.Name] = sec
	return nil
}

// discardSection drops sec from the link. References to a discarded
// link-once copy are redirected to the copy that was kept.
func discardSection(sec, keep *Section) {
	if sec.Obj != nil {
		sec.Obj.takeSection(sec)
	}
	sec.Discarded = true
	sec.Replacement = keep
}

// joinSections moves every input section still owned by a unit into a
// linked section: code first, then data, then bss. Sections with the
// same output name and compatible attributes share a linked section.
func (ctx *Context) joinSections() []*LinkedSection {
	var created []*LinkedSection
	kept := make(map[string]*Section)
	for _, ls := range ctx.LinkedSections {
		for _, sec := range ls.Sections {
			if sec.Flags&SecLinkOnce != 0 {
				kept[sec.Name] = sec
			}
		}
	}

	for _, typ := range joinOrder {
		for _, obj := range ctx.Objs {
			for _, sec := range slices.Clone(obj.Sections) {
				if sec.Type != typ {
					continue
				}
				if keep := linkOnceCopy(kept, sec); keep != nil {
					discardSection(sec, keep)
					continue
				}
				name := ctx.outputName(sec)
				ls := ctx.findLinkedSection(name, sec)
				if ls == nil {
					ls = ctx.AddLinkedSection(NewLinkedSection(name, sec.Type, sec.Prot,
						sec.Flags&(SecAlloc|SecUninitialized|SecSmallData)))
					created = append(created, ls)
				}
				ls.AddSection(sec)
			}
		}
	}
	return created
}

func (ctx *Context) absorb(into, from *LinkedSection) {
	into.Absorb(from)
	for _, seg := range ctx.Segments {
		seg.Sections = utils.RemoveIf(seg.Sections, func(ls *LinkedSection) bool {
			return ls == from
		})
	}
	ctx.RemoveLinkedSection(from)
}

// mergeLinkedSections is the second pass of the default layout: linked
// sections that still differ by name are merged when an option asks for
// it or a PC-relative reference ties them together.
func (ctx *Context) mergeLinkedSections() {
	if ctx.Arg.MergeAll || ctx.Arg.MergeType {
		for i := 0; i < len(ctx.LinkedSections); i++ {
			into := ctx.LinkedSections[i]
			if !into.IsAlloc() {
				continue
			}
			for j := i + 1; j < len(ctx.LinkedSections); {
				from := ctx.LinkedSections[j]
				same := from.IsAlloc() && from.Type == into.Type
				if same && !ctx.Arg.MergeAll {
					same = from.Prot == into.Prot &&
						from.Flags&SecSmallData == into.Flags&SecSmallData
				}
				if !same {
					j++
					continue
				}
				ctx.absorb(into, from)
			}
		}
	}

	if ctx.Arg.MergeRelRefs {
		for _, ref := range ctx.RelRefs {
			if !ref.Kind.IsPCRelative() || ref.From.Linked == nil || ref.To.Linked == nil {
				continue
			}
			a, b := ref.From.Linked, ref.To.Linked
			if a == b || a.Type != b.Type {
				continue
			}
			if b.Index < a.Index {
				a, b = b, a
			}
			ctx.absorb(a, b)
		}
	}
}

// layoutRank orders linked sections of the default layout the way a
// loader wants them: code, read-only data, writable data, bss, then
// anything not allocated.
func layoutRank(ls *LinkedSection) int {
	switch {
	case !ls.IsAlloc():
		return 4
	case ls.Type == SecCode:
		return 0
	case ls.IsUninitialized():
		return 3
	case ls.Prot&ProtWrite == 0:
		return 1
	}
	return 2
}

func (ctx *Context) sortLinkedSections() {
	sort.SliceStable(ctx.LinkedSections, func(i, j int) bool {
		return layoutRank(ctx.LinkedSections[i]) < layoutRank(ctx.LinkedSections[j])
	})
	for i, ls := range ctx.LinkedSections {
		ls.Index = i
	}
}

// DefaultLayout builds the output sections when no script is given.
func DefaultLayout(ctx *Context) {
	ctx.joinSections()
	ctx.mergeLinkedSections()
	ctx.sortLinkedSections()
	if ctx.wantsSegments() {
		ctx.createDefaultSegments(ctx.LinkedSections)
	}
	AssignAddresses(ctx)
	for _, seg := range ctx.Segments {
		seg.ComputeExtents()
	}
}

func (ctx *Context) wantsSegments() bool {
	return ctx.Arg.Format == FormatELF && !ctx.IsRelocatable()
}

func (ctx *Context) layoutBase() uint64 {
	if ctx.IsRelocatable() {
		return 0
	}
	base := uint64(0)
	if ctx.Arg.Format == FormatELF && !ctx.IsShared() {
		base = ctx.Target.ImageBase
	}
	return base + ctx.headerSize()
}

// AssignAddresses places linked sections one after another. A change of
// protection starts a new page so that segments never share one.
func AssignAddresses(ctx *Context) {
	addr := ctx.layoutBase()
	page := ctx.Target.PageSize
	var prev *LinkedSection

	for _, ls := range ctx.LinkedSections {
		if ctx.IsRelocatable() || !ls.IsAlloc() {
			ls.Base, ls.CopyBase = 0, 0
			ls.placed = true
			continue
		}
		if ls.Name == ".text" && ctx.Arg.HasTextBase {
			addr = ctx.Arg.TextBase
		} else if prev != nil && page > 0 && ctx.wantsSegments() &&
			protToPhdrFlags(prev.Prot) != protToPhdrFlags(ls.Prot) {
			addr = utils.AlignTo(addr, page)
		}
		addr = utils.AlignTo(addr, ls.Alignment())
		ls.Base, ls.CopyBase = addr, addr
		ls.placed = true
		addr += ls.Size
		prev = ls
	}
}

// createDefaultSegments groups allocated sections into PT_LOAD segments
// of equal protection, plus the auxiliary segments dynamic output needs.
func (ctx *Context) createDefaultSegments(list []*LinkedSection) {
	var segs []*Segment
	if ctx.IsDynamic() {
		segs = append(segs, &Segment{Name: "phdr", Type: uint32(elf.PT_PHDR), Phdrs: true,
			Flags: uint32(elf.PF_R), FlagsSet: true, Align: 8})
		if ls := ctx.LinkedSectionByName(".interp"); ls != nil {
			segs = append(segs, &Segment{Name: "interp", Type: uint32(elf.PT_INTERP),
				Sections: []*LinkedSection{ls}})
		}
	}

	var load *Segment
	for _, ls := range list {
		if !ls.IsAlloc() {
			continue
		}
		flags := protToPhdrFlags(ls.Prot)
		if load == nil || load.Flags != flags || (load.hasBss() && !ls.IsUninitialized()) {
			load = &Segment{Name: fmt.Sprintf("load%d", len(segs)), Type: uint32(elf.PT_LOAD), Flags: flags}
			if !hasLoad(segs) {
				load.FileHdr, load.Phdrs = true, true
			}
			segs = append(segs, load)
		}
		load.Sections = append(load.Sections, ls)
	}

	if ctx.IsDynamic() {
		if ls := ctx.LinkedSectionByName(".dynamic"); ls != nil {
			segs = append(segs, &Segment{Name: "dynamic", Type: uint32(elf.PT_DYNAMIC),
				Sections: []*LinkedSection{ls}})
		}
	}
	segs = append(segs, &Segment{Name: "stack", Type: uint32(elf.PT_GNU_STACK),
		Flags: uint32(elf.PF_R | elf.PF_W), FlagsSet: true, Used: true})
	ctx.Segments = segs
}

func hasLoad(segs []*Segment) bool {
	for _, s := range segs {
		if s.IsLoad() {
			return true
		}
	}
	return false
}

func (s *Segment) hasBss() bool {
	for _, ls := range s.Sections {
		if ls.IsUninitialized() {
			return true
		}
	}
	return false
}
