package linker

import (
	"debug/elf"
)

const defaultInterp = "/lib/ld-linux-riscv64-lp64d.so.1"

// elfDynamic holds the sections the dynamic loader reads. They are
// sized before layout and filled in once addresses and runtime
// relocations are final.
type elfDynamic struct {
	interp  *Section
	dynsym  *Section
	dynstr  *Section
	hash    *Section
	relaDyn *Section
	dynamic *Section

	strtab  *strtab
	syms    []*Symbol
	nbucket uint32
	tags    []Dyn
}

func (ctx *Context) newDynSection(name string, typ elf.SectionType, prot uint8, size uint64, ext *elfSectionExt) *Section {
	sec := NewSection(name, SecData, prot, 3)
	sec.Size = size
	sec.Data = make([]byte, size)
	ext.Type = uint32(typ)
	ext.Flags |= uint64(elf.SHF_ALLOC)
	if prot&ProtWrite != 0 {
		ext.Flags |= uint64(elf.SHF_WRITE)
	}
	sec.Ext = ext
	return ctx.InternalObj.AddSection(sec)
}

// prepareElfDynamic creates the dynamic sections with their final sizes
// and numbers the dynamic symbols.
func (ctx *Context) prepareElfDynamic() {
	d := ctx.Dyn
	t := &elfDynamic{strtab: newStrtab()}
	d.tables = t

	if !ctx.IsShared() {
		interp := ctx.Arg.Interp
		if interp == "" {
			interp = defaultInterp
		}
		t.interp = ctx.newDynSection(".interp", elf.SHT_PROGBITS, ProtRead,
			uint64(len(interp)+1), &elfSectionExt{})
		t.interp.P2Align = 0
		copy(t.interp.Data, interp)
	}

	t.syms = append(append([]*Symbol{}, d.Imports...), d.Exports...)
	for i, sym := range t.syms {
		sym.DynIdx = int32(i + 1)
		t.strtab.Add(sym.Name)
	}
	for _, obj := range d.Needed {
		t.strtab.Add(obj.SoName)
	}
	if ctx.Arg.SoName != "" {
		t.strtab.Add(ctx.Arg.SoName)
	}

	nsyms := len(t.syms) + 1
	t.nbucket = uint32(nsyms/2 + 1)
	t.tags = ctx.dynamicTags()

	t.dynsym = ctx.newDynSection(".dynsym", elf.SHT_DYNSYM, ProtRead, uint64(nsyms*symSize),
		&elfSectionExt{EntSize: uint64(symSize), Link: ".dynstr", Info: 1})
	t.dynstr = ctx.newDynSection(".dynstr", elf.SHT_STRTAB, ProtRead, uint64(len(t.strtab.buf)),
		&elfSectionExt{})
	t.dynstr.P2Align = 0
	t.hash = ctx.newDynSection(".hash", elf.SHT_HASH, ProtRead, uint64(2+int(t.nbucket)+nsyms)*4,
		&elfSectionExt{EntSize: 4, Link: ".dynsym"})
	if d.relocCount > 0 {
		t.relaDyn = ctx.newDynSection(".rela.dyn", elf.SHT_RELA, ProtRead, uint64(d.relocCount*relaSize),
			&elfSectionExt{EntSize: uint64(relaSize), Link: ".dynsym"})
	}
	t.dynamic = ctx.newDynSection(".dynamic", elf.SHT_DYNAMIC, ProtRead|ProtWrite,
		uint64(len(t.tags)*dynSize), &elfSectionExt{EntSize: uint64(dynSize), Link: ".dynstr"})
}

// dynamicTags lists the tags of .dynamic. Values are filled in later;
// the count fixes the section size.
func (ctx *Context) dynamicTags() []Dyn {
	t := ctx.Dyn.tables
	var tags []Dyn
	for _, obj := range ctx.Dyn.Needed {
		tags = append(tags, Dyn{Tag: int64(elf.DT_NEEDED), Val: uint64(t.strtab.Add(obj.SoName))})
	}
	if ctx.Arg.SoName != "" {
		tags = append(tags, Dyn{Tag: int64(elf.DT_SONAME), Val: uint64(t.strtab.Add(ctx.Arg.SoName))})
	}
	for _, tag := range []elf.DynTag{elf.DT_HASH, elf.DT_STRTAB, elf.DT_SYMTAB, elf.DT_STRSZ, elf.DT_SYMENT} {
		tags = append(tags, Dyn{Tag: int64(tag)})
	}
	if ctx.Dyn.relocCount > 0 {
		for _, tag := range []elf.DynTag{elf.DT_RELA, elf.DT_RELASZ, elf.DT_RELAENT} {
			tags = append(tags, Dyn{Tag: int64(tag)})
		}
	}
	tags = append(tags, Dyn{Tag: int64(elf.DT_FLAGS), Val: uint64(elf.DF_BIND_NOW)})
	if !ctx.IsShared() {
		tags = append(tags, Dyn{Tag: int64(elf.DT_DEBUG)})
	}
	return append(tags, Dyn{Tag: int64(elf.DT_NULL)})
}

func elfHash(name string) uint32 {
	h := uint32(0)
	for i := 0; i < len(name); i++ {
		h = h<<4 + uint32(name[i])
		if g := h & 0xf0000000; g != 0 {
			h ^= g >> 24
		}
		h &^= 0xf0000000
	}
	return h
}

// fillElfDynamic writes the dynamic sections. Runtime relocations must
// be complete.
func (ctx *Context) fillElfDynamic() {
	t := ctx.Dyn.tables
	if t == nil {
		return
	}
	order := ctx.byteOrder()
	out := func(sec *Section) []byte {
		ls := sec.Live().Linked
		return ls.Data[sec.Live().Offset:]
	}

	copy(out(t.dynstr), t.strtab.buf)

	syms := make([]Sym, 1, len(t.syms)+1)
	for _, sym := range t.syms {
		esym, _ := ctx.elfSymbol(sym, nil)
		esym.Name = t.strtab.Add(sym.Name)
		esym.Info = makeSymInfo(elf.STB_GLOBAL, elf.SymType(symInfo(sym)&0xf))
		if sym.IsWeak() {
			esym.Info = makeSymInfo(elf.STB_WEAK, elf.SymType(symInfo(sym)&0xf))
		}
		syms = append(syms, esym)
	}
	writeStruct(ctx, out(t.dynsym), syms)

	hash := out(t.hash)
	nchain := uint32(len(syms))
	order.PutUint32(hash[0:], t.nbucket)
	order.PutUint32(hash[4:], nchain)
	buckets := hash[8:]
	chains := hash[8+4*t.nbucket:]
	for i := len(t.syms); i >= 1; i-- {
		b := elfHash(t.syms[i-1].Name) % t.nbucket
		order.PutUint32(chains[4*i:], order.Uint32(buckets[4*b:]))
		order.PutUint32(buckets[4*b:], uint32(i))
	}

	n := 0
	if t.relaDyn != nil {
		relas := make([]Rela, 0, len(ctx.Dyn.Relocs))
		for _, r := range ctx.Dyn.Relocs {
			typ, ok := riscvRelocType(&OutReloc{Kind: r.Kind})
			if !ok {
				ctx.Diag.Internal("no ELF type for dynamic relocation %s", r.Kind)
			}
			rela := Rela{Offset: r.Addr(), Type: uint32(typ), Addend: r.Addend}
			if r.Sym != nil && r.Kind != RelocLoadRel {
				rela.Sym = uint32(r.Sym.DynIdx)
			}
			relas = append(relas, rela)
		}
		n = len(relas)
		if n > 0 {
			writeStruct(ctx, out(t.relaDyn), relas)
		}
	}

	for i := range t.tags {
		tag := &t.tags[i]
		switch elf.DynTag(tag.Tag) {
		case elf.DT_HASH:
			tag.Val = t.hash.Addr()
		case elf.DT_STRTAB:
			tag.Val = t.dynstr.Addr()
		case elf.DT_SYMTAB:
			tag.Val = t.dynsym.Addr()
		case elf.DT_STRSZ:
			tag.Val = t.dynstr.Size
		case elf.DT_SYMENT:
			tag.Val = uint64(symSize)
		case elf.DT_RELA:
			tag.Val = t.relaDyn.Addr()
		case elf.DT_RELASZ:
			tag.Val = uint64(n * relaSize)
		case elf.DT_RELAENT:
			tag.Val = uint64(relaSize)
		}
	}
	writeStruct(ctx, out(t.dynamic), t.tags)
}
