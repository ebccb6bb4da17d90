package linker

import (
	"github.com/ksco/vlink/pkg/script"
	"github.com/ksco/vlink/pkg/utils"
)

type OutputType uint8

const (
	OutputExecutable OutputType = iota
	OutputShared
	OutputRelocatable
)

type OutputFormat uint8

const (
	FormatELF OutputFormat = iota
	FormatRawBin
)

type ContextArg struct {
	Output     string
	Emulation  MachineType
	Format     OutputFormat
	OutputType OutputType

	LibraryPaths []string
	ScriptFile   string
	Entry        string
	MapFile      string

	TextBase    uint64
	HasTextBase bool

	// AllocCommon forces COMMON allocation in relocatable output.
	AllocCommon    bool
	MergeAll       bool
	MergeType      bool
	MergeRelRefs   bool
	AllowUndefined bool
	Undefined      []string
	Ctors          CtorConvention
	Debug          bool
	Static         bool
	SoName         string
	Interp         string
	// GapFill is the byte between sections of a raw binary image.
	GapFill byte
}

// Context holds the state of one link. Every pipeline stage takes it.
type Context struct {
	Arg    ContextArg
	Target *Target
	Diag   *Diag

	// Objs is the active list in link order, Unused the pool of units
	// nobody referenced so far.
	Objs    []*ObjectUnit
	Unused  []*ObjectUnit
	Globals *SymbolTable

	InternalObj *ObjectUnit
	ScriptObj   *ObjectUnit

	Script  *script.Script
	Prescan *script.Prescan
	Regions []*MemoryDescr

	Segments       []*Segment
	LinkedSections []*LinkedSection

	RelRefs []RelRef
	Dyn     *DynamicLink
	Ctors   *CtorLists

	// pending holds references that failed to resolve in the first
	// round; they get a second chance after constructor collection.
	pending []*Reloc

	// deferred holds script expressions that referred to values not
	// known during layout.
	deferred []*deferredEval
	// linkerSymbolsSet is true once linker-defined symbols have values.
	linkerSymbolsSet bool

	EntryAddr uint64
	Stats     RelocStats

	Buf            []byte
	Chunks         []Chunker
	Ehdr           *OutputEhdr
	Phdr           *OutputPhdr
	Shdr           *OutputShdr
	OutputSections []*OutputSection
	Symtab         *SymtabSection
	Shstrtab       *StrtabSection

	FilePriority uint32
	Visited      utils.MapSet[string]
}

func NewContext() *Context {
	diag := NewDiag()
	ctx := &Context{
		Arg: ContextArg{
			Emulation: MachineTypeNone,
			Output:    "a.out",
		},
		Target:       TargetRISCV64(),
		Diag:         diag,
		Globals:      NewSymbolTable(diag),
		Visited:      utils.NewMapSet[string](),
		FilePriority: 10000,
	}
	ctx.InternalObj = NewObjectUnit("<linker>", UnitSynthetic)
	ctx.InternalObj.Linked = true
	ctx.Dyn = &DynamicLink{}
	return ctx
}

func (ctx *Context) IsRelocatable() bool {
	return ctx.Arg.OutputType == OutputRelocatable
}

func (ctx *Context) IsShared() bool {
	return ctx.Arg.OutputType == OutputShared
}

// IsDynamic reports whether the output needs a dynamic section.
func (ctx *Context) IsDynamic() bool {
	if ctx.IsShared() {
		return true
	}
	return !ctx.IsRelocatable() && len(ctx.Dyn.Needed) > 0
}

// AddUnit registers a freshly read unit. Plain objects join the link
// right away; library members and shared objects wait in the pool.
func (ctx *Context) AddUnit(obj *ObjectUnit) {
	obj.Priority = ctx.FilePriority
	ctx.FilePriority++
	switch obj.Kind {
	case UnitObject, UnitSynthetic:
		obj.Linked = true
		ctx.Objs = append(ctx.Objs, obj)
	default:
		ctx.Unused = append(ctx.Unused, obj)
	}
	for _, sym := range obj.Symbols {
		if sym.IsLocal() || !sym.IsDefined() {
			continue
		}
		ctx.Globals.Add(sym)
	}
}

// LinkUnit pulls obj from the pool into the active list, right behind
// the unit that referenced it.
func (ctx *Context) LinkUnit(obj, after *ObjectUnit) {
	if obj.Linked {
		return
	}
	obj.Linked = true
	ctx.Unused = utils.RemoveIf(ctx.Unused, func(o *ObjectUnit) bool {
		return o == obj
	})

	pos := len(ctx.Objs)
	for i, o := range ctx.Objs {
		if o == after {
			pos = i + 1
			break
		}
	}
	ctx.Objs = append(ctx.Objs, nil)
	copy(ctx.Objs[pos+1:], ctx.Objs[pos:])
	ctx.Objs[pos] = obj

	ctx.Globals.Promote(obj)
	if obj.Kind == UnitShared {
		ctx.Dyn.Needed = append(ctx.Dyn.Needed, obj)
	}
}

func (ctx *Context) LinkedSectionByName(name string) *LinkedSection {
	for _, ls := range ctx.LinkedSections {
		if ls.Name == name {
			return ls
		}
	}
	return nil
}

func (ctx *Context) AddLinkedSection(ls *LinkedSection) *LinkedSection {
	ls.Index = len(ctx.LinkedSections)
	ctx.LinkedSections = append(ctx.LinkedSections, ls)
	return ls
}

func (ctx *Context) RemoveLinkedSection(ls *LinkedSection) {
	ctx.LinkedSections = utils.RemoveIf(ctx.LinkedSections, func(x *LinkedSection) bool {
		return x == ls
	})
	for i, x := range ctx.LinkedSections {
		x.Index = i
	}
}

func (ctx *Context) Region(name string) *MemoryDescr {
	for _, r := range ctx.Regions {
		if r.Name == name {
			return r
		}
	}
	return nil
}

func (ctx *Context) Segment(name string) *Segment {
	for _, s := range ctx.Segments {
		if s.Name == name {
			return s
		}
	}
	return nil
}
