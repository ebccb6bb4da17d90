package linker

import (
	"debug/elf"

	"github.com/ksco/vlink/pkg/utils"
)

type OutputPhdr struct {
	Chunk

	Phdrs []Phdr
}

func NewOutputPhdr() *OutputPhdr {
	o := &OutputPhdr{Chunk: NewChunk()}
	o.Shdr.Flags = uint64(elf.SHF_ALLOC)
	o.Shdr.AddrAlign = 8
	return o
}

// emitted reports whether a segment makes it into the program header
// table. Segments nothing was assigned to are left out.
func (s *Segment) emitted() bool {
	switch elf.ProgType(s.Type) {
	case elf.PT_PHDR, elf.PT_GNU_STACK:
		return true
	}
	for _, ls := range s.Sections {
		if ls.IsAlloc() && !ls.IsEmpty() {
			return true
		}
	}
	return false
}

func (o *OutputPhdr) Update(ctx *Context) {
	n := 0
	for _, seg := range ctx.Segments {
		if seg.emitted() {
			n++
		}
	}
	o.Shdr.Size = uint64(n * phdrSize)
}

func (o *OutputPhdr) Kind() ChunkKind {
	return ChunkHeader
}

// headerLoad returns the load segment that maps the file and program
// headers, if any does.
func (ctx *Context) headerLoad() (*Segment, Phdr) {
	for _, seg := range ctx.Segments {
		if !seg.IsLoad() || !seg.emitted() {
			continue
		}
		p := ctx.segmentPhdr(seg)
		if p.Offset == 0 {
			return seg, p
		}
	}
	return nil, Phdr{}
}

// segmentPhdr derives a program header from the output sections of seg.
func (ctx *Context) segmentPhdr(seg *Segment) Phdr {
	p := Phdr{Type: seg.Type, Flags: seg.Flags, Align: utils.Max(seg.Align, 1)}
	if seg.IsLoad() {
		p.Align = utils.Max(p.Align, ctx.Target.PageSize)
	}

	var first *OutputSection
	fileEnd := uint64(0)
	for _, ls := range seg.Sections {
		osec := ctx.outputSection(ls)
		if osec == nil || !ls.IsAlloc() {
			continue
		}
		if first == nil || ls.Base < first.Linked.Base {
			first = osec
		}
		if osec.Shdr.Type != uint32(elf.SHT_NOBITS) {
			fileEnd = utils.Max(fileEnd, osec.Shdr.Offset+osec.Shdr.Size)
		}
	}
	if first == nil {
		return p
	}

	p.Offset = first.Shdr.Offset
	p.VAddr, p.PAddr = seg.VStart, seg.PStart
	if fileEnd > p.Offset {
		p.FileSize = fileEnd - p.Offset
	}
	p.MemSize = seg.VEnd - seg.VStart

	// The first load segment also maps the headers when they fit in
	// front of its first section.
	hdrEnd := ctx.Phdr.Shdr.Offset + ctx.Phdr.Shdr.Size
	if seg.IsLoad() && seg.FileHdr && p.VAddr >= p.Offset && p.Offset >= hdrEnd && p.PAddr >= p.Offset {
		ext := p.Offset
		p.Offset = 0
		p.VAddr -= ext
		p.PAddr -= ext
		p.FileSize += ext
		p.MemSize += ext
	}
	return p
}

func createPhdr(ctx *Context) []Phdr {
	var vec []Phdr
	for _, seg := range ctx.Segments {
		if !seg.emitted() {
			continue
		}
		switch elf.ProgType(seg.Type) {
		case elf.PT_PHDR:
			p := Phdr{Type: seg.Type, Flags: uint32(elf.PF_R), Align: 8,
				Offset: ctx.Phdr.Shdr.Offset, FileSize: ctx.Phdr.Shdr.Size, MemSize: ctx.Phdr.Shdr.Size}
			if _, load := ctx.headerLoad(); load.Type != 0 {
				p.VAddr = load.VAddr + p.Offset
				p.PAddr = load.PAddr + p.Offset
			}
			vec = append(vec, p)
		case elf.PT_GNU_STACK:
			vec = append(vec, Phdr{Type: seg.Type, Flags: seg.Flags, Align: 16})
		default:
			vec = append(vec, ctx.segmentPhdr(seg))
		}
	}
	return vec
}

func (o *OutputPhdr) Write(ctx *Context) {
	o.Phdrs = createPhdr(ctx)
	writeStruct(ctx, ctx.Buf[o.Shdr.Offset:], o.Phdrs)
}
