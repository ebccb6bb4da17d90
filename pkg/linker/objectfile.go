package linker

import (
	"debug/elf"
	"fmt"
	"math/bits"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ksco/vlink/pkg/utils"
)

// elfSectionExt keeps the ELF attributes of an input section that the
// generic Section does not model, so the writer can reproduce them.
type elfSectionExt struct {
	Type    uint32
	Flags   uint64
	EntSize uint64
	Link    string
	Info    uint32
}

// objectReader turns one relocatable ELF file into an ObjectUnit.
type objectReader struct {
	ctx *Context
	f   *InputFile
	obj *ObjectUnit

	sections map[int]*Section
	linkOnce map[int]bool

	esyms       []Sym
	symStrtab   []byte
	symtabShndx []uint32
	syms        []*Symbol
	zero        *Symbol

	// hi20 relocations by section and offset, for the lo12 halves.
	hi20 map[*Section]map[uint64]*Reloc
}

// ReadObject reads a relocatable ELF file. Members of an archive pass
// the archive name and end up in the library pool.
func ReadObject(ctx *Context, file *File, archive string) (*ObjectUnit, error) {
	if err := CheckFileCompatibility(ctx, file); err != nil {
		return nil, err
	}
	f, err := NewInputFile(file)
	if err != nil {
		return nil, err
	}

	kind := UnitObject
	if archive != "" {
		kind = UnitLibMember
	}
	obj := NewObjectUnit(file.Name, kind)
	obj.Archive = archive
	obj.Flags = f.Ehdr.Flags

	r := &objectReader{
		ctx:      ctx,
		f:        f,
		obj:      obj,
		sections: make(map[int]*Section),
		linkOnce: make(map[int]bool),
		hi20:     make(map[*Section]map[uint64]*Reloc),
	}
	if err := r.read(); err != nil {
		return nil, fmt.Errorf("%s: %w", obj.FullName(), err)
	}
	return obj, nil
}

func (r *objectReader) read() error {
	if err := r.readGroups(); err != nil {
		return err
	}
	if err := r.readSections(); err != nil {
		return err
	}
	if err := r.readSymbols(); err != nil {
		return err
	}
	if err := r.readRelocations(); err != nil {
		return err
	}
	return r.obj.FixRelocTargets(r.sections)
}

// readGroups marks the members of COMDAT groups. Only one copy of a
// group survives the link.
func (r *objectReader) readGroups() error {
	for i := range r.f.ElfSections {
		shdr := &r.f.ElfSections[i]
		if shdr.Type != uint32(elf.SHT_GROUP) {
			continue
		}
		bs, err := r.f.GetBytesFromShdr(shdr)
		if err != nil {
			return err
		}
		if len(bs) < 4 || utils.Read[uint32](bs)&uint32(elf.GRP_COMDAT) == 0 {
			continue
		}
		for bs = bs[4:]; len(bs) >= 4; bs = bs[4:] {
			r.linkOnce[int(utils.Read[uint32](bs))] = true
		}
	}
	return nil
}

func isSmallDataName(name string) bool {
	for _, prefix := range []string{".sdata", ".sbss", ".srodata"} {
		if name == prefix || strings.HasPrefix(name, prefix+".") {
			return true
		}
	}
	return false
}

func (r *objectReader) readSections() error {
	for i := range r.f.ElfSections {
		shdr := &r.f.ElfSections[i]
		switch elf.SectionType(shdr.Type) {
		case elf.SHT_GROUP, elf.SHT_SYMTAB, elf.SHT_STRTAB, elf.SHT_REL, elf.SHT_RELA, elf.SHT_NULL:
			continue
		case elf.SHT_SYMTAB_SHNDX:
			if err := r.readSymtabShndx(shdr); err != nil {
				return err
			}
			continue
		}
		if shdr.Flags&uint64(elf.SHF_ALLOC) == 0 {
			continue
		}
		if shdr.Flags&uint64(elf.SHF_TLS) != 0 {
			return fmt.Errorf("thread-local section %s is not supported", r.f.SectionName(shdr))
		}

		name := r.f.SectionName(shdr)
		if name == ".eh_frame" || name == ".note.GNU-stack" || strings.HasPrefix(name, ".gnu.warning.") {
			continue
		}

		typ := SecData
		switch {
		case shdr.Type == uint32(elf.SHT_NOBITS):
			typ = SecUData
		case shdr.Flags&uint64(elf.SHF_EXECINSTR) != 0:
			typ = SecCode
		}
		prot := ProtRead
		if shdr.Flags&uint64(elf.SHF_WRITE) != 0 {
			prot |= ProtWrite
		}
		if shdr.Flags&uint64(elf.SHF_EXECINSTR) != 0 {
			prot |= ProtExec
		}

		sec := NewSection(name, typ, prot, uint8(bits.TrailingZeros64(utils.Max(shdr.AddrAlign, 1))))
		sec.Size = shdr.Size
		if typ != SecUData {
			data, err := r.f.GetBytesFromShdr(shdr)
			if err != nil {
				return err
			}
			sec.Data = data
		}
		if isSmallDataName(name) {
			sec.Flags |= SecSmallData
		}
		if r.linkOnce[i] || strings.HasPrefix(name, ".gnu.linkonce.") {
			sec.Flags |= SecLinkOnce
		}
		sec.Ext = &elfSectionExt{
			Type: CanonicalizeType(name, shdr.Type),
			Flags: shdr.Flags &^ uint64(elf.SHF_GROUP|elf.SHF_MERGE|elf.SHF_STRINGS|
				elf.SHF_LINK_ORDER|elf.SHF_COMPRESSED),
			EntSize: shdr.EntSize,
		}
		r.sections[i] = r.obj.AddSection(sec)
	}
	return nil
}

func (r *objectReader) readSymtabShndx(shdr *Shdr) error {
	bs, err := r.f.GetBytesFromShdr(shdr)
	if err != nil {
		return err
	}
	for ; len(bs) >= 4; bs = bs[4:] {
		r.symtabShndx = append(r.symtabShndx, utils.Read[uint32](bs))
	}
	return nil
}

func (r *objectReader) shndx(esym *Sym, idx int) int {
	if esym.Shndx == uint16(elf.SHN_XINDEX) && idx < len(r.symtabShndx) {
		return int(r.symtabShndx[idx])
	}
	return int(esym.Shndx)
}

func (r *objectReader) readSymbols() error {
	symtab := r.f.FindSection(elf.SHT_SYMTAB)
	if symtab == nil {
		return nil
	}
	var err error
	if r.esyms, err = r.f.ReadSyms(symtab); err != nil {
		return err
	}
	if r.symStrtab, err = r.f.GetBytesFromIdx(int64(symtab.Link)); err != nil {
		return err
	}

	r.syms = make([]*Symbol, len(r.esyms))
	for i := 1; i < len(r.esyms); i++ {
		esym := &r.esyms[i]
		switch elf.SymType(esym.Type()) {
		case elf.STT_SECTION, elf.STT_FILE:
			continue
		case elf.STT_TLS:
			return fmt.Errorf("thread-local symbol %s is not supported", getName(r.symStrtab, esym.Name))
		}

		sym := NewSymbol(getName(r.symStrtab, esym.Name))
		sym.Size = esym.Size
		switch elf.SymBind(esym.Bind()) {
		case elf.STB_LOCAL:
			sym.Bind = BindLocal
		case elf.STB_WEAK:
			sym.Bind = BindWeak
		default:
			sym.Bind = BindGlobal
		}
		switch elf.SymType(esym.Type()) {
		case elf.STT_FUNC, elf.STT_GNU_IFUNC:
			sym.Info = InfoFunction
		case elf.STT_OBJECT:
			sym.Info = InfoObject
		}
		switch elf.SymVis(esym.StVisibility()) {
		case elf.STV_HIDDEN, elf.STV_INTERNAL:
			sym.Flags |= SymHidden
		case elf.STV_PROTECTED:
			sym.Flags |= SymProtected
		}

		switch {
		case esym.IsUndef():
			if sym.IsLocal() {
				continue
			}
		case esym.IsAbs():
			sym.SetAbsolute(esym.Val)
		case esym.IsCommon():
			if sym.IsLocal() {
				return fmt.Errorf("local common symbol %s", sym.Name)
			}
			sym.Type = SymCommon
			sym.Value = utils.Max(esym.Val, 1)
		default:
			sec := r.sections[r.shndx(esym, i)]
			if sec == nil {
				continue
			}
			sym.SetInputSection(sec)
			sym.Value = esym.Val
		}
		r.syms[i] = r.obj.AddSymbol(sym)
	}
	return nil
}

func (r *objectReader) zeroSymbol() *Symbol {
	if r.zero == nil {
		r.zero = NewSymbol("")
		r.zero.SetAbsolute(0)
		r.obj.AddSymbol(r.zero)
	}
	return r.zero
}

func (r *objectReader) readRelocations() error {
	type pendingLo12 struct {
		sec  *Section
		rela Rela
	}
	var lo12 []pendingLo12

	for i := range r.f.ElfSections {
		shdr := &r.f.ElfSections[i]
		if shdr.Type == uint32(elf.SHT_REL) {
			return fmt.Errorf("REL relocations are not supported")
		}
		if shdr.Type != uint32(elf.SHT_RELA) {
			continue
		}
		sec := r.sections[int(shdr.Info)]
		if sec == nil {
			continue
		}
		relas, err := r.f.ReadRelas(shdr)
		if err != nil {
			return err
		}
		sort.SliceStable(relas, func(i, j int) bool {
			return relas[i].Offset < relas[j].Offset
		})

		for _, rela := range relas {
			typ := elf.R_RISCV(rela.Type)
			if riscvIgnored(typ) {
				continue
			}
			if _, ok := riscvLo12[typ]; ok {
				lo12 = append(lo12, pendingLo12{sec, rela})
				continue
			}
			howto, err := riscvHowtoFor(typ)
			if err != nil {
				return fmt.Errorf("%s: %w", sec.Location(rela.Offset), err)
			}
			rel := &Reloc{
				Kind:   howto.kind,
				Offset: rela.Offset,
				Addend: rela.Addend,
				Insert: howto.insert,
				Flags:  howto.flags,
			}
			if err := r.setTarget(rel, rela.Sym); err != nil {
				return fmt.Errorf("%s: %w", sec.Location(rela.Offset), err)
			}
			sec.AddReloc(rel)

			if typ == elf.R_RISCV_PCREL_HI20 || typ == elf.R_RISCV_GOT_HI20 {
				if r.hi20[sec] == nil {
					r.hi20[sec] = make(map[uint64]*Reloc)
				}
				r.hi20[sec][rela.Offset] = rel
			}
		}
	}

	for _, p := range lo12 {
		if err := r.pairLo12(p.sec, p.rela); err != nil {
			return fmt.Errorf("%s: %w", p.sec.Location(p.rela.Offset), err)
		}
	}
	return nil
}

// pairLo12 binds a PC-relative low part to the high part whose label
// it names. The low part computes the same value as the high part, so
// it takes over the target and moves the addend by the distance between
// the two instructions.
func (r *objectReader) pairLo12(sec *Section, rela Rela) error {
	if int(rela.Sym) >= len(r.esyms) {
		return fmt.Errorf("invalid symbol index %d", rela.Sym)
	}
	label := &r.esyms[rela.Sym]
	hiOff := label.Val + uint64(rela.Addend)
	hi := r.hi20[sec][hiOff]
	if hi == nil {
		return fmt.Errorf("%s without matching high part at %#x", elf.R_RISCV(rela.Type), hiOff)
	}
	sec.AddReloc(&Reloc{
		Kind:   hi.Kind,
		Offset: rela.Offset,
		Addend: hi.Addend + int64(rela.Offset) - int64(hi.Offset),
		Target: hi.Target,
		Insert: riscvLo12[elf.R_RISCV(rela.Type)],
		Flags:  hi.Flags&RelocWeakRef | RelocPartial,
		Pair:   hi,
	})
	return nil
}

func (r *objectReader) setTarget(rel *Reloc, symIdx uint32) error {
	if symIdx == 0 {
		rel.Target = SymbolTarget{Sym: r.zeroSymbol()}
		return nil
	}
	if int(symIdx) >= len(r.esyms) {
		return fmt.Errorf("invalid symbol index %d", symIdx)
	}
	esym := &r.esyms[symIdx]

	if elf.SymType(esym.Type()) == elf.STT_SECTION {
		rel.Target = RawTarget{Index: r.shndx(esym, int(symIdx))}
		rel.Addend += int64(esym.Val)
		return nil
	}

	sym := r.syms[symIdx]
	if esym.Bind() == uint8(elf.STB_LOCAL) {
		if sym == nil {
			return fmt.Errorf("relocation against dropped local symbol %s", getName(r.symStrtab, esym.Name))
		}
		if sym.Type == SymReloc && !rel.Kind.UsesGOT() && !rel.Kind.UsesPLT() {
			rel.Target = RawTarget{Index: r.shndx(esym, int(symIdx))}
			rel.Addend += int64(sym.Value)
			return nil
		}
		rel.Target = SymbolTarget{Sym: sym}
		return nil
	}

	rel.Target = XrefTarget{Name: getName(r.symStrtab, esym.Name)}
	if esym.IsWeak() && esym.IsUndef() {
		rel.Flags |= RelocWeakRef
	}
	return nil
}

// ReadShared reads the dynamic symbol table of a shared object. Its
// definitions take part in resolution; the contents stay outside the
// link.
func ReadShared(ctx *Context, file *File) (*ObjectUnit, error) {
	if err := CheckFileCompatibility(ctx, file); err != nil {
		return nil, err
	}
	f, err := NewInputFile(file)
	if err != nil {
		return nil, err
	}

	obj := NewObjectUnit(file.Name, UnitShared)
	obj.SoName = filepath.Base(file.Name)
	obj.Flags = f.Ehdr.Flags

	if dyn := f.FindSection(elf.SHT_DYNAMIC); dyn != nil {
		bs, err := f.GetBytesFromShdr(dyn)
		if err != nil {
			return nil, err
		}
		strtab, err := f.GetBytesFromIdx(int64(dyn.Link))
		if err != nil {
			return nil, err
		}
		for ; len(bs) >= dynSize; bs = bs[dynSize:] {
			d := utils.Read[Dyn](bs)
			if d.Tag == int64(elf.DT_SONAME) {
				obj.SoName = getName(strtab, uint32(d.Val))
			}
		}
	}

	dynsym := f.FindSection(elf.SHT_DYNSYM)
	if dynsym == nil {
		return obj, nil
	}
	esyms, err := f.ReadSyms(dynsym)
	if err != nil {
		return nil, err
	}
	strtab, err := f.GetBytesFromIdx(int64(dynsym.Link))
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(esyms); i++ {
		esym := &esyms[i]
		if esym.IsUndef() || esym.Bind() == uint8(elf.STB_LOCAL) {
			continue
		}
		if elf.SymType(esym.Type()) == elf.STT_TLS {
			continue
		}
		sym := NewSymbol(getName(strtab, esym.Name))
		sym.SetAbsolute(esym.Val)
		sym.Size = esym.Size
		sym.Bind = BindGlobal
		if esym.IsWeak() {
			sym.Bind = BindWeak
		}
		switch elf.SymType(esym.Type()) {
		case elf.STT_FUNC, elf.STT_GNU_IFUNC:
			sym.Info = InfoFunction
		case elf.STT_OBJECT:
			sym.Info = InfoObject
		}
		obj.AddSymbol(sym)
	}
	return obj, nil
}
