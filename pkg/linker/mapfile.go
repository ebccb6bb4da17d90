package linker

import (
	"fmt"
	"io"
	"sort"

	"github.com/k0kubun/pp/v3"
)

// WriteMap prints the link map: every linked section with its input
// sections and the global symbols defined in them.
func WriteMap(ctx *Context, w io.Writer) {
	fmt.Fprintf(w, "%-24s %-18s %-18s %-10s\n", "Section", "Address", "Load address", "Size")
	for _, ls := range ctx.LinkedSections {
		fmt.Fprintf(w, "%-24s %#018x %#018x %#010x\n", ls.Name, ls.Base, ls.CopyBase, ls.Size)
		for _, sec := range ls.Sections {
			obj := "<internal>"
			if sec.Obj != nil {
				obj = sec.Obj.FullName()
			}
			fmt.Fprintf(w, "  %-22s %#018x %#010x %s\n", sec.Name, ls.Base+sec.Offset, sec.Size, obj)
		}
	}

	var syms []*Symbol
	for _, name := range ctx.Globals.Names() {
		sym := ctx.Globals.Lookup(name)
		if sym != nil && sym.IsDefined() && sym.IsLinked() {
			syms = append(syms, sym)
		}
	}
	sort.SliceStable(syms, func(i, j int) bool {
		if syms[i].Addr() != syms[j].Addr() {
			return syms[i].Addr() < syms[j].Addr()
		}
		return syms[i].Name < syms[j].Name
	})

	fmt.Fprintf(w, "\n%-18s %-8s %s\n", "Address", "Type", "Symbol")
	for _, sym := range syms {
		fmt.Fprintf(w, "%#018x %-8s %s (%s)\n", sym.Addr(), sym.Type, sym.Name, sym.DefinedIn())
	}

	if ctx.EntryAddr != 0 {
		fmt.Fprintf(w, "\nEntry point: %#x\n", ctx.EntryAddr)
	}
}

type layoutDump struct {
	Sections []sectionDump
	Segments []segmentDump
	Regions  []regionDump
	Entry    uint64
}

type sectionDump struct {
	Name     string
	Type     string
	Base     uint64
	LoadBase uint64
	Size     uint64
	Inputs   []string
}

type segmentDump struct {
	Name     string
	Type     uint32
	Flags    uint32
	VStart   uint64
	VEnd     uint64
	Sections []string
}

type regionDump struct {
	Name    string
	Origin  uint64
	Length  uint64
	Current uint64
}

// DumpLayout pretty-prints the layout for --debug. Pointers between
// sections and units are flattened to names first.
func DumpLayout(ctx *Context, w io.Writer) {
	if w == nil {
		return
	}
	dump := layoutDump{Entry: ctx.EntryAddr}
	for _, ls := range ctx.LinkedSections {
		d := sectionDump{Name: ls.Name, Type: ls.Type.String(), Base: ls.Base, LoadBase: ls.CopyBase, Size: ls.Size}
		for _, sec := range ls.Sections {
			d.Inputs = append(d.Inputs, sec.Location(0))
		}
		dump.Sections = append(dump.Sections, d)
	}
	for _, seg := range ctx.Segments {
		d := segmentDump{Name: seg.Name, Type: seg.Type, Flags: seg.Flags, VStart: seg.VStart, VEnd: seg.VEnd}
		for _, ls := range seg.Sections {
			d.Sections = append(d.Sections, ls.Name)
		}
		dump.Segments = append(dump.Segments, d)
	}
	for _, r := range ctx.Regions {
		dump.Regions = append(dump.Regions, regionDump{Name: r.Name, Origin: r.Org, Length: r.Len, Current: r.Current})
	}

	printer := pp.New()
	printer.SetColoringEnabled(!ctx.Diag.NoColor)
	printer.Fprintln(w, dump)
}
