package linker

import (
	"debug/elf"
	"sort"

	"github.com/ksco/vlink/pkg/utils"
)

func writeStruct[T any](ctx *Context, buf []byte, v T) {
	utils.WriteOrder[T](buf, v, ctx.byteOrder())
}

// CreateChunks lays out the pieces of the ELF file: headers, one chunk
// per non-empty linked section in address order, relocation tables of
// relocatable output and the symbol and string tables.
func CreateChunks(ctx *Context) {
	push := func(chunk Chunker) Chunker {
		ctx.Chunks = append(ctx.Chunks, chunk)
		return chunk
	}

	ctx.Chunks = nil
	ctx.OutputSections = nil
	ctx.Ehdr = push(NewOutputEhdr()).(*OutputEhdr)
	if !ctx.IsRelocatable() {
		ctx.Phdr = push(NewOutputPhdr()).(*OutputPhdr)
	}

	var alloc, other []*LinkedSection
	for _, ls := range ctx.LinkedSections {
		if ls.IsEmpty() {
			continue
		}
		if ls.IsAlloc() && !ctx.IsRelocatable() {
			alloc = append(alloc, ls)
		} else {
			other = append(other, ls)
		}
	}
	sort.SliceStable(alloc, func(i, j int) bool {
		return alloc[i].Base < alloc[j].Base
	})
	for _, ls := range append(alloc, other...) {
		osec := NewOutputSection(ls)
		ctx.OutputSections = append(ctx.OutputSections, osec)
		push(osec)
	}

	if ctx.IsRelocatable() {
		for _, osec := range ctx.OutputSections {
			if len(osec.Linked.OutRelocs) > 0 {
				osec.Rela = push(NewRelaSection(osec)).(*RelaSection)
			}
		}
	}

	strtab := NewStrtabSection(".strtab")
	ctx.Symtab = push(NewSymtabSection(strtab)).(*SymtabSection)
	push(strtab)
	ctx.Shstrtab = push(NewStrtabSection(".shstrtab")).(*StrtabSection)
	ctx.Shdr = push(NewOutputShdr()).(*OutputShdr)

	shndx := int64(1)
	for _, chunk := range ctx.Chunks {
		if chunk.Kind() != ChunkHeader {
			chunk.SetIndex(shndx)
			shndx++
		}
	}
	for _, chunk := range ctx.Chunks {
		if chunk.Kind() != ChunkHeader {
			chunk.Header().Name = ctx.Shstrtab.Add(chunk.SectionName())
		}
	}

	ctx.Symtab.Build(ctx)
	for _, osec := range ctx.OutputSections {
		if osec.Rela != nil {
			osec.Rela.collect(ctx)
		}
	}
	for _, chunk := range ctx.Chunks {
		chunk.Update(ctx)
	}
}

// congruent returns the first offset at or after off that has the same
// remainder modulo page as addr.
func congruent(off, addr, page uint64) uint64 {
	if page == 0 {
		return off
	}
	r := off - off%page + addr%page
	if r < off {
		r += page
	}
	return r
}

func (ctx *Context) sameLoad(a, b *LinkedSection) bool {
	for _, seg := range ctx.Segments {
		if seg.IsLoad() && seg.Contains(a) && seg.Contains(b) {
			return true
		}
	}
	return false
}

// SetOutputOffsets assigns file offsets and returns the file size.
// Allocated sections of one load segment keep their address distances in
// the file; every other loaded section starts at an offset congruent to
// its address modulo the page size.
func SetOutputOffsets(ctx *Context) uint64 {
	fileoff := uint64(0)
	var prev *OutputSection
	page := ctx.Target.PageSize

	for _, chunk := range ctx.Chunks {
		shdr := chunk.Header()
		osec, ok := chunk.(*OutputSection)
		if !ok || ctx.IsRelocatable() || !osec.Linked.IsAlloc() {
			fileoff = utils.AlignTo(fileoff, utils.Max(shdr.AddrAlign, 1))
			shdr.Offset = fileoff
			if shdr.Type != uint32(elf.SHT_NOBITS) {
				fileoff += shdr.Size
			}
			continue
		}

		ls := osec.Linked
		switch {
		case shdr.Type == uint32(elf.SHT_NOBITS):
			shdr.Offset = congruent(fileoff, ls.Base, page)
			continue
		case prev != nil && ls.Base >= prev.Linked.Base && ctx.sameLoad(prev.Linked, ls) &&
			prev.Shdr.Offset+(ls.Base-prev.Linked.Base) >= fileoff:
			shdr.Offset = prev.Shdr.Offset + (ls.Base - prev.Linked.Base)
		default:
			shdr.Offset = congruent(fileoff, ls.Base, page)
		}
		fileoff = shdr.Offset + shdr.Size
		prev = osec
	}
	return fileoff
}

// Emit produces the output image in the configured format.
func Emit(ctx *Context) (buf []byte, err error) {
	defer catch(&err)

	if ctx.Arg.Format == FormatRawBin {
		return EmitRawBinary(ctx), nil
	}

	ctx.fillElfDynamic()
	CreateChunks(ctx)
	fileSize := SetOutputOffsets(ctx)

	ctx.Buf = make([]byte, fileSize)
	for _, chunk := range ctx.Chunks {
		chunk.Write(ctx)
	}
	ctx.Diag.Check()
	return ctx.Buf, nil
}
