package linker

import (
	"debug/elf"
)

// StrtabSection is a string table chunk, such as .strtab or .shstrtab.
type StrtabSection struct {
	Chunk
	tab *strtab
}

func NewStrtabSection(name string) *StrtabSection {
	s := &StrtabSection{Chunk: NewChunk(), tab: newStrtab()}
	s.Name = name
	s.Shdr.Type = uint32(elf.SHT_STRTAB)
	return s
}

func (s *StrtabSection) Add(name string) uint32 {
	return s.tab.Add(name)
}

func (s *StrtabSection) Update(ctx *Context) {
	s.Shdr.Size = uint64(len(s.tab.buf))
}

func (s *StrtabSection) Write(ctx *Context) {
	copy(ctx.Buf[s.Shdr.Offset:], s.tab.buf)
}

type labelKey struct {
	ls  *LinkedSection
	off uint64
}

// SymtabSection is the static symbol table: the null entry, section
// symbols of relocatable output, local symbols, then everything else.
type SymtabSection struct {
	Chunk
	Strtab *StrtabSection

	syms     []Sym
	indices  map[*Symbol]uint32
	sections map[*LinkedSection]uint32
	labels   map[labelKey]uint32
}

func NewSymtabSection(strtab *StrtabSection) *SymtabSection {
	s := &SymtabSection{
		Chunk:    NewChunk(),
		Strtab:   strtab,
		indices:  make(map[*Symbol]uint32),
		sections: make(map[*LinkedSection]uint32),
		labels:   make(map[labelKey]uint32),
	}
	s.Name = ".symtab"
	s.Shdr.Type = uint32(elf.SHT_SYMTAB)
	s.Shdr.EntSize = uint64(symSize)
	s.Shdr.AddrAlign = 8
	return s
}

func (s *SymtabSection) index(sym *Symbol) uint32 {
	return s.indices[sym]
}

func (s *SymtabSection) sectionIndex(ls *LinkedSection) uint32 {
	return s.sections[ls]
}

func (s *SymtabSection) label(ctx *Context, ls *LinkedSection, off uint64) uint32 {
	idx, ok := s.labels[labelKey{ls, off}]
	if !ok {
		ctx.Diag.Internal("%s: no label for the high part at %#x", ls.Name, off)
	}
	return idx
}

func symInfo(sym *Symbol) uint8 {
	typ := elf.STT_NOTYPE
	switch sym.Info {
	case InfoFunction:
		typ = elf.STT_FUNC
	case InfoObject:
		typ = elf.STT_OBJECT
	}
	bind := elf.STB_GLOBAL
	switch sym.Bind {
	case BindLocal:
		bind = elf.STB_LOCAL
	case BindWeak:
		bind = elf.STB_WEAK
	}
	return makeSymInfo(bind, typ)
}

func symOther(sym *Symbol) uint8 {
	switch {
	case sym.Flags&SymHidden != 0:
		return uint8(elf.STV_HIDDEN)
	case sym.Flags&SymProtected != 0:
		return uint8(elf.STV_PROTECTED)
	}
	return uint8(elf.STV_DEFAULT)
}

// elfSymbol encodes sym. It reports false for symbols whose section did
// not make it into the output.
func (ctx *Context) elfSymbol(sym *Symbol, strtab *StrtabSection) (Sym, bool) {
	esym := Sym{Info: symInfo(sym), Other: symOther(sym), Size: sym.Size}
	switch {
	case sym.IsImport() || !sym.IsDefined():
		esym.Shndx = uint16(elf.SHN_UNDEF)
	case sym.Type == SymAbs:
		esym.Shndx = uint16(elf.SHN_ABS)
		esym.Val = sym.Value
	case sym.Type == SymCommon:
		esym.Shndx = uint16(elf.SHN_COMMON)
		esym.Val = sym.Value
	default:
		ls := sym.LinkedSection()
		if ls == nil {
			return esym, false
		}
		esym.Val = sym.Addr()
		if osec := ctx.outputSection(ls); osec != nil {
			esym.Shndx = uint16(osec.Shndx)
		} else {
			esym.Shndx = uint16(elf.SHN_ABS)
		}
	}
	if strtab != nil {
		esym.Name = strtab.Add(sym.Name)
	}
	return esym, true
}

func (s *SymtabSection) add(ctx *Context, sym *Symbol) {
	if _, ok := s.indices[sym]; ok {
		return
	}
	esym, ok := ctx.elfSymbol(sym, s.Strtab)
	if !ok {
		return
	}
	s.indices[sym] = uint32(len(s.syms))
	s.syms = append(s.syms, esym)
}

func (ctx *Context) outRelocSymbols() []*Symbol {
	var syms []*Symbol
	for _, ls := range ctx.LinkedSections {
		for _, out := range ls.OutRelocs {
			if out.Sym != nil {
				syms = append(syms, out.Sym)
			}
		}
	}
	return syms
}

// Build fills the table. Output sections must have their indices.
func (s *SymtabSection) Build(ctx *Context) {
	s.syms = []Sym{{}}

	if ctx.IsRelocatable() {
		for _, osec := range ctx.OutputSections {
			s.sections[osec.Linked] = uint32(len(s.syms))
			s.syms = append(s.syms, Sym{
				Info:  makeSymInfo(elf.STB_LOCAL, elf.STT_SECTION),
				Shndx: uint16(osec.Shndx),
			})
		}
	}

	var globals []*Symbol
	for _, obj := range ctx.Objs {
		if obj.Kind == UnitShared {
			continue
		}
		for _, sym := range obj.Symbols {
			switch {
			case sym.Name == "":
			case sym.IsLocal():
				if sym.IsDefined() {
					s.add(ctx, sym)
				}
			case obj == ctx.InternalObj && !sym.IsDefined():
				if sym.Flags&SymReferenced != 0 {
					globals = append(globals, sym)
				}
			case sym.IsDefined() && ctx.Globals.Lookup(sym.Name) == sym:
				globals = append(globals, sym)
			}
		}
	}
	globals = append(globals, ctx.Dyn.Imports...)
	for _, sym := range ctx.outRelocSymbols() {
		if sym.IsLocal() {
			s.add(ctx, sym)
		} else {
			globals = append(globals, sym)
		}
	}

	n := 0
	for _, ls := range ctx.LinkedSections {
		for _, out := range ls.OutRelocs {
			if out.Pair == nil {
				continue
			}
			key := labelKey{ls, out.Pair.Offset}
			if _, ok := s.labels[key]; ok {
				continue
			}
			s.labels[key] = uint32(len(s.syms))
			s.syms = append(s.syms, Sym{
				Name:  s.Strtab.Add(relaName(n)),
				Info:  makeSymInfo(elf.STB_LOCAL, elf.STT_NOTYPE),
				Shndx: uint16(ctx.outputSection(ls).Shndx),
				Val:   ls.Base + out.Pair.Offset,
			})
			n++
		}
	}

	s.Shdr.Info = uint32(len(s.syms))
	for _, sym := range globals {
		s.add(ctx, sym)
	}
}

func (s *SymtabSection) Update(ctx *Context) {
	s.Shdr.Size = uint64(len(s.syms) * symSize)
	s.Shdr.Link = uint32(s.Strtab.Shndx)
}

func (s *SymtabSection) Write(ctx *Context) {
	writeStruct(ctx, ctx.Buf[s.Shdr.Offset:], s.syms)
}
