package linker

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type CtorConvention uint8

const (
	CtorNone CtorConvention = iota
	CtorGNU
	CtorVBCC
	CtorVBCCElf
	CtorSASC
)

func ParseCtorConvention(s string) (CtorConvention, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CtorNone, nil
	case "gnu":
		return CtorGNU, nil
	case "vbcc":
		return CtorVBCC, nil
	case "vbcc-elf", "vbccelf":
		return CtorVBCCElf, nil
	case "sasc", "sas/c":
		return CtorSASC, nil
	}
	return CtorNone, fmt.Errorf("unknown constructor convention: %s", s)
}

func (c CtorConvention) String() string {
	switch c {
	case CtorGNU:
		return "gnu"
	case CtorVBCC:
		return "vbcc"
	case CtorVBCCElf:
		return "vbcc-elf"
	case CtorSASC:
		return "sasc"
	}
	return "none"
}

type ctorStyle struct {
	ctorPrefix string
	dtorPrefix string
	ctorLabel  string
	dtorLabel  string
	// count puts the number of entries in front of the list.
	count bool
	// inverted runs higher priority values first.
	inverted bool
}

var ctorStyles = map[CtorConvention]ctorStyle{
	CtorGNU:     {"__GLOBAL__I_", "__GLOBAL__D_", "___CTOR_LIST__", "___DTOR_LIST__", true, false},
	CtorVBCC:    {"__INIT_", "__EXIT_", "___CTOR_LIST__", "___DTOR_LIST__", false, false},
	CtorVBCCElf: {"_INIT_", "_EXIT_", "__CTOR_LIST__", "__DTOR_LIST__", false, false},
	CtorSASC:    {"__STI_", "__STD_", "___ctors", "___dtors", false, true},
}

// CtorEntry is one function of a constructor or destructor list.
type CtorEntry struct {
	Sym      *Symbol
	Priority int
	Section  string
}

type CtorLists struct {
	Convention CtorConvention
	Ctors      []*CtorEntry
	Dtors      []*CtorEntry

	Unit      *ObjectUnit
	CtorSec   *Section
	DtorSec   *Section
	CtorLabel *Symbol
	DtorLabel *Symbol
}

// ctorPriority splits an optional "<digits>_" priority off a name that
// follows the convention's prefix.
func ctorPriority(rest string) int {
	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(rest) || rest[i] != '_' {
		return 0
	}
	n, err := strconv.Atoi(rest[:i])
	if err != nil {
		return 0
	}
	return n
}

func sortCtors(list []*CtorEntry, inverted bool) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Priority != b.Priority {
			if inverted {
				return a.Priority > b.Priority
			}
			return a.Priority < b.Priority
		}
		if a.Section != b.Section {
			return a.Section < b.Section
		}
		return a.Sym.Name < b.Sym.Name
	})
}

func (ctx *Context) scanCtors(style ctorStyle, units []*ObjectUnit) (ctors, dtors []*CtorEntry) {
	for _, obj := range units {
		if obj.Kind == UnitShared {
			continue
		}
		for _, sym := range obj.Symbols {
			if sym.IsLocal() || !sym.IsDefined() || ctx.Globals.Lookup(sym.Name) != sym {
				continue
			}
			secName := ""
			if sym.Sec != nil {
				secName = sym.Sec.Name
			}
			if rest, ok := strings.CutPrefix(sym.Name, style.ctorPrefix); ok {
				ctors = append(ctors, &CtorEntry{Sym: sym, Priority: ctorPriority(rest), Section: secName})
			} else if rest, ok := strings.CutPrefix(sym.Name, style.dtorPrefix); ok {
				dtors = append(dtors, &CtorEntry{Sym: sym, Priority: ctorPriority(rest), Section: secName})
			}
		}
	}
	return ctors, dtors
}

// CollectConstructors builds the constructor and destructor tables of the
// configured convention. Library members providing an entry are pulled
// into the link.
func CollectConstructors(ctx *Context) {
	style, ok := ctorStyles[ctx.Arg.Ctors]
	if !ok {
		return
	}

	units := append(append([]*ObjectUnit{}, ctx.Objs...), ctx.Unused...)
	ctors, dtors := ctx.scanCtors(style, units)
	sortCtors(ctors, style.inverted)
	sortCtors(dtors, style.inverted)

	lists := &CtorLists{
		Convention: ctx.Arg.Ctors,
		Ctors:      ctors,
		Dtors:      dtors,
		Unit:       NewObjectUnit("<ctors>", UnitSynthetic),
	}
	lists.CtorSec, lists.CtorLabel = ctx.buildCtorList(lists.Unit, style, style.ctorLabel, ctors)
	lists.DtorSec, lists.DtorLabel = ctx.buildCtorList(lists.Unit, style, style.dtorLabel, dtors)
	ctx.Ctors = lists
	ctx.AddUnit(lists.Unit)

	for _, list := range [][]*CtorEntry{ctors, dtors} {
		for _, e := range list {
			e.Sym.Flags |= SymReferenced
			if !e.Sym.IsLinked() {
				ctx.LinkUnit(e.Sym.Obj, lists.Unit)
			}
		}
	}
	ctx.resolvePass()
}

// buildCtorList lays out one pointer table: an optional count, one
// pointer per entry and a zero terminator.
func (ctx *Context) buildCtorList(unit *ObjectUnit, style ctorStyle, label string, entries []*CtorEntry) (*Section, *Symbol) {
	if def := ctx.Globals.Lookup(label); def != nil && def.IsLinked() {
		ctx.Diag.Warn("'%s' is already defined in %s; not building a %s list",
			label, def.DefinedIn(), ctx.Arg.Ctors)
		return nil, nil
	}

	ptr := uint64(ctx.ptrSize())
	n := uint64(len(entries)) + 1
	if style.count {
		n++
	}
	p2 := uint8(3)
	if ptr == 4 {
		p2 = 2
	}
	sec := NewSection(".data", SecData, ProtRead|ProtWrite, p2)
	sec.Size = n * ptr
	sec.Data = make([]byte, sec.Size)
	unit.AddSection(sec)

	off := uint64(0)
	if style.count {
		ctx.putWord(sec.Data, uint64(len(entries)))
		off += ptr
	}
	for _, e := range entries {
		sec.AddReloc(&Reloc{
			Kind:   RelocAbs,
			Offset: off,
			Target: SymbolTarget{Sym: e.Sym},
			Insert: []Insert{Field(0, uint8(ptr*8))},
		})
		off += ptr
	}

	sym := NewSymbol(label)
	sym.Bind = BindGlobal
	sym.Info = InfoObject
	sym.Size = sec.Size
	sym.SetInputSection(sec)
	unit.AddSymbol(sym)
	return sec, sym
}
