package linker

import (
	"debug/elf"
)

type OutputEhdr struct {
	Chunk
}

func NewOutputEhdr() *OutputEhdr {
	return &OutputEhdr{
		Chunk: Chunk{
			Shdr: Shdr{
				Flags:     uint64(elf.SHF_ALLOC),
				Size:      uint64(ehdrSize),
				AddrAlign: 8,
			},
		},
	}
}

func (o *OutputEhdr) Kind() ChunkKind {
	return ChunkHeader
}

// GetFlags merges the e_flags of the input objects. The float ABI comes
// from the first object; compressed instructions are used if any object
// uses them.
func GetFlags(ctx *Context) uint32 {
	var objs []*ObjectUnit
	for _, obj := range ctx.Objs {
		if obj.Kind == UnitObject || obj.Kind == UnitLibMember {
			objs = append(objs, obj)
		}
	}
	if len(objs) == 0 {
		return 0
	}

	ret := objs[0].Flags
	for i := 1; i < len(objs); i++ {
		if objs[i].Flags&EF_RISCV_RVC != 0 {
			ret |= EF_RISCV_RVC
		}
	}
	return ret
}

func elfFileType(ctx *Context) elf.Type {
	switch {
	case ctx.IsRelocatable():
		return elf.ET_REL
	case ctx.IsShared():
		return elf.ET_DYN
	}
	return elf.ET_EXEC
}

func (o *OutputEhdr) Write(ctx *Context) {
	ehdr := &Ehdr{}
	WriteMagic(ehdr.Ident[:])
	ehdr.Ident[elf.EI_CLASS] = uint8(elf.ELFCLASS64)
	ehdr.Ident[elf.EI_DATA] = uint8(elf.ELFDATA2LSB)
	ehdr.Ident[elf.EI_VERSION] = uint8(elf.EV_CURRENT)
	ehdr.Type = uint16(elfFileType(ctx))
	ehdr.Machine = uint16(elf.EM_RISCV)
	ehdr.Version = uint32(elf.EV_CURRENT)
	ehdr.Entry = ctx.EntryAddr
	if ctx.Phdr != nil {
		ehdr.PhOff = ctx.Phdr.Shdr.Offset
		ehdr.PhNum = uint16(ctx.Phdr.Shdr.Size / uint64(phdrSize))
	}
	ehdr.ShOff = ctx.Shdr.Shdr.Offset
	ehdr.Flags = GetFlags(ctx)
	ehdr.EhSize = uint16(ehdrSize)
	ehdr.PhEntSize = uint16(phdrSize)
	ehdr.ShEntSize = uint16(shdrSize)
	ehdr.ShNum, ehdr.ShStrndx = ctx.Shdr.headerCounts(ctx)

	writeStruct(ctx, ctx.Buf[o.Shdr.Offset:], ehdr)
}
