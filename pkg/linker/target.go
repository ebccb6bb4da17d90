package linker

import (
	"encoding/binary"
)

// Target bundles the properties and hooks of an output target. Hooks
// left nil fall back to the generic behavior.
type Target struct {
	Name      string
	Machine   MachineType
	ByteOrder binary.ByteOrder
	PtrSize   int
	PageSize  uint64
	ImageBase uint64

	// OutputName maps an input section to the name of the linked
	// section it merges into by default.
	OutputName func(sec *Section) string
	// CompareSectionFlags decides whether sec may join ls.
	CompareSectionFlags func(ls *LinkedSection, sec *Section) bool
	// ForceLink pulls a pool unit into the link regardless of references.
	ForceLink func(ctx *Context, obj *ObjectUnit) bool
	// FindSymbol may resolve a reference before the generic lookup.
	FindSymbol func(ctx *Context, sec *Section, name string) *Symbol
	// LinkerSymbol creates a symbol the linker defines, or returns nil
	// for names it does not know.
	LinkerSymbol func(ctx *Context, name string) *Symbol
	// InitLinkerSymbol sets the final value after layout and reports
	// whether it handled sym.
	InitLinkerSymbol func(ctx *Context, sym *Symbol) bool
	// DynamicEntry records a GOT, PLT or copy entry for a reference to a
	// shared object symbol.
	DynamicEntry func(ctx *Context, sym *Symbol, kind RelocKind)
	HeaderSize   func(ctx *Context) uint64

	PltEntrySize  uint64
	WritePltEntry func(ctx *Context, buf []byte, entryAddr, slotAddr uint64)
}

func (ctx *Context) outputName(sec *Section) string {
	if ctx.Target.OutputName != nil {
		return ctx.Target.OutputName(sec)
	}
	return sec.Name
}

func defaultCompareSectionFlags(ls *LinkedSection, sec *Section) bool {
	const significant = SecSmallData | SecAlloc
	return ls.Type == sec.Type &&
		ls.Prot == sec.Prot &&
		ls.Flags&significant == sec.Flags&significant
}

func (ctx *Context) compareSectionFlags(ls *LinkedSection, sec *Section) bool {
	if ctx.Target.CompareSectionFlags != nil {
		return ctx.Target.CompareSectionFlags(ls, sec)
	}
	return defaultCompareSectionFlags(ls, sec)
}

func (ctx *Context) headerSize() uint64 {
	if ctx.Arg.Format == FormatRawBin || ctx.IsRelocatable() {
		return 0
	}
	if ctx.Target.HeaderSize != nil {
		return ctx.Target.HeaderSize(ctx)
	}
	return 0
}

func (ctx *Context) ptrSize() int {
	if ctx.Target.PtrSize == 0 {
		return 8
	}
	return ctx.Target.PtrSize
}

func (ctx *Context) byteOrder() binary.ByteOrder {
	if ctx.Target.ByteOrder == nil {
		return binary.LittleEndian
	}
	return ctx.Target.ByteOrder
}

// putWord stores a pointer-sized value in target byte order.
func (ctx *Context) putWord(buf []byte, v uint64) {
	if ctx.ptrSize() == 4 {
		ctx.byteOrder().PutUint32(buf, uint32(v))
		return
	}
	ctx.byteOrder().PutUint64(buf, v)
}
