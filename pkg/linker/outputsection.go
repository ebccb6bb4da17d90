package linker

import (
	"debug/elf"
	"fmt"
)

// OutputSection writes one linked section to the ELF file.
type OutputSection struct {
	Chunk
	Linked *LinkedSection
	// Rela is the relocation table of relocatable output.
	Rela *RelaSection
}

func NewOutputSection(ls *LinkedSection) *OutputSection {
	o := &OutputSection{Chunk: NewChunk(), Linked: ls}
	o.Name = ls.Name
	return o
}

func (o *OutputSection) Kind() ChunkKind {
	return ChunkSection
}

func (o *OutputSection) ext() *elfSectionExt {
	if ext, ok := o.Linked.Ext.(*elfSectionExt); ok {
		return ext
	}
	return &elfSectionExt{Type: uint32(elf.SHT_PROGBITS)}
}

// Update derives the header from the linked section. Attributes the
// linked section does not know about come from its first input section.
func (o *OutputSection) Update(ctx *Context) {
	ls := o.Linked
	ext := o.ext()

	o.Shdr.Type = ext.Type
	if ls.IsUninitialized() {
		o.Shdr.Type = uint32(elf.SHT_NOBITS)
	} else if o.Shdr.Type == uint32(elf.SHT_NOBITS) {
		o.Shdr.Type = uint32(elf.SHT_PROGBITS)
	}

	flags := ext.Flags &^ uint64(elf.SHF_ALLOC|elf.SHF_WRITE|elf.SHF_EXECINSTR)
	if ls.IsAlloc() {
		flags |= uint64(elf.SHF_ALLOC)
	}
	if ls.Prot&ProtWrite != 0 {
		flags |= uint64(elf.SHF_WRITE)
	}
	if ls.Prot&ProtExec != 0 || ls.Type == SecCode {
		flags |= uint64(elf.SHF_EXECINSTR)
	}
	o.Shdr.Flags = flags
	o.Shdr.EntSize = ext.EntSize
	o.Shdr.Info = ext.Info
	if ext.Link != "" {
		if target := ctx.outputSectionByName(ext.Link); target != nil {
			o.Shdr.Link = uint32(target.Shndx)
		}
	}

	o.Shdr.Addr = ls.Base
	o.Shdr.Size = ls.Size
	o.Shdr.AddrAlign = ls.Alignment()
}

func (o *OutputSection) Write(ctx *Context) {
	if o.Shdr.Type == uint32(elf.SHT_NOBITS) {
		return
	}
	copy(ctx.Buf[o.Shdr.Offset:], o.Linked.Data)
}

func (ctx *Context) outputSection(ls *LinkedSection) *OutputSection {
	for _, o := range ctx.OutputSections {
		if o.Linked == ls {
			return o
		}
	}
	return nil
}

func (ctx *Context) outputSectionByName(name string) *OutputSection {
	for _, o := range ctx.OutputSections {
		if o.Name == name {
			return o
		}
	}
	return nil
}

// RelaSection holds the relocations of a section in relocatable output.
type RelaSection struct {
	Chunk
	Target *OutputSection
	Relas  []Rela
}

func NewRelaSection(target *OutputSection) *RelaSection {
	r := &RelaSection{Chunk: NewChunk(), Target: target}
	r.Name = ".rela" + target.Name
	r.Shdr.Type = uint32(elf.SHT_RELA)
	r.Shdr.Flags = uint64(elf.SHF_INFO_LINK)
	r.Shdr.EntSize = uint64(relaSize)
	r.Shdr.AddrAlign = 8
	return r
}

func (r *RelaSection) Update(ctx *Context) {
	r.Shdr.Size = uint64(len(r.Target.Linked.OutRelocs) * relaSize)
	r.Shdr.Info = uint32(r.Target.Shndx)
	r.Shdr.Link = uint32(ctx.Symtab.Shndx)
}

// collect converts the output relocations of the target section. A low
// part refers to its high part through a label placed at it.
func (r *RelaSection) collect(ctx *Context) {
	ls := r.Target.Linked
	r.Relas = r.Relas[:0]
	for _, out := range ls.OutRelocs {
		typ, ok := riscvRelocType(out)
		if !ok {
			ctx.Diag.Internal("%s: no ELF relocation type for %s", out.Orig.Location(), out.Kind)
		}
		rela := Rela{Offset: out.Offset, Type: uint32(typ), Addend: out.Addend}
		switch {
		case out.Pair != nil:
			rela.Sym = ctx.Symtab.label(ctx, ls, out.Pair.Offset)
			rela.Addend = 0
		case out.Sym != nil:
			rela.Sym = ctx.Symtab.index(out.Sym)
		case out.Sec != nil:
			rela.Sym = ctx.Symtab.sectionIndex(out.Sec)
			if rela.Sym == 0 {
				ctx.Diag.Internal("%s: relocation against %s, which is not in the output",
					out.Orig.Location(), out.Sec.Name)
			}
		}
		r.Relas = append(r.Relas, rela)
	}
}

func (r *RelaSection) Write(ctx *Context) {
	if len(r.Relas) == 0 {
		return
	}
	writeStruct(ctx, ctx.Buf[r.Shdr.Offset:], r.Relas)
}

func relaName(i int) string {
	return fmt.Sprintf(".Lpcrel_hi%d", i)
}
