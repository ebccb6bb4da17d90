package linker

import (
	"debug/elf"
)

// OutputShdr is the section header table. Index 0 is the null header,
// which also carries the real counts once they no longer fit the ELF
// header.
type OutputShdr struct {
	Chunk
	count uint64
}

func NewOutputShdr() *OutputShdr {
	o := &OutputShdr{Chunk: NewChunk()}
	o.Shdr.AddrAlign = 8
	return o
}

func (o *OutputShdr) Kind() ChunkKind {
	return ChunkHeader
}

func (o *OutputShdr) Update(ctx *Context) {
	var last int64
	for _, chunk := range ctx.Chunks {
		last = max(last, chunk.Index())
	}
	o.count = uint64(last) + 1
	o.Shdr.Size = o.count * uint64(shdrSize)
}

// headerCounts returns e_shnum and e_shstrndx.
func (o *OutputShdr) headerCounts(ctx *Context) (uint16, uint16) {
	num, strndx := uint16(o.count), uint16(ctx.Shstrtab.Index())
	if o.count >= uint64(elf.SHN_LORESERVE) {
		num = 0
	}
	if ctx.Shstrtab.Index() >= int64(elf.SHN_LORESERVE) {
		strndx = uint16(elf.SHN_XINDEX)
	}
	return num, strndx
}

func (o *OutputShdr) Write(ctx *Context) {
	base := ctx.Buf[o.Shdr.Offset:]

	null := Shdr{}
	if o.count >= uint64(elf.SHN_LORESERVE) {
		null.Size = o.count
	}
	if ctx.Shstrtab.Index() >= int64(elf.SHN_LORESERVE) {
		null.Link = uint32(ctx.Shstrtab.Index())
	}
	writeStruct(ctx, base, null)

	for _, chunk := range ctx.Chunks {
		if idx := chunk.Index(); idx > 0 {
			writeStruct(ctx, base[idx*int64(shdrSize):], *chunk.Header())
		}
	}
}
