package linker

import (
	"debug/elf"
	"fmt"

	"github.com/ksco/vlink/pkg/utils"
)

// InputFile is the section table view of an ELF file. Everything points
// into the file contents.
type InputFile struct {
	File        *File
	Ehdr        Ehdr
	ElfSections []Shdr
	ShStrtab    []byte
}

func NewInputFile(file *File) (*InputFile, error) {
	f := &InputFile{File: file}
	if len(file.Contents) < ehdrSize {
		return nil, fmt.Errorf("%s: file too small", file.Name)
	}
	if !CheckMagic(file.Contents) {
		return nil, fmt.Errorf("%s: not an ELF file", file.Name)
	}
	if file.Contents[elf.EI_CLASS] != byte(elf.ELFCLASS64) || file.Contents[elf.EI_DATA] != byte(elf.ELFDATA2LSB) {
		return nil, fmt.Errorf("%s: only 64-bit little-endian ELF is supported", file.Name)
	}

	f.Ehdr = utils.Read[Ehdr](file.Contents)
	if f.Ehdr.ShOff == 0 {
		return f, nil
	}
	if f.Ehdr.ShOff+uint64(shdrSize) > uint64(len(file.Contents)) {
		return nil, fmt.Errorf("%s: section header table is out of range", file.Name)
	}

	contents := file.Contents[f.Ehdr.ShOff:]
	shdr := utils.Read[Shdr](contents)

	numSections := int64(f.Ehdr.ShNum)
	if numSections == 0 {
		numSections = int64(shdr.Size)
	}
	if uint64(numSections)*uint64(shdrSize) > uint64(len(contents)) {
		return nil, fmt.Errorf("%s: section header table is out of range", file.Name)
	}

	f.ElfSections = []Shdr{shdr}
	for numSections > 1 {
		contents = contents[shdrSize:]
		f.ElfSections = append(f.ElfSections, utils.Read[Shdr](contents))
		numSections--
	}

	shstrtabIdx := int64(f.Ehdr.ShStrndx)
	if f.Ehdr.ShStrndx == uint16(elf.SHN_XINDEX) {
		shstrtabIdx = int64(shdr.Link)
	}

	var err error
	f.ShStrtab, err = f.GetBytesFromIdx(shstrtabIdx)
	return f, err
}

func (f *InputFile) GetBytesFromShdr(s *Shdr) ([]byte, error) {
	if s.Type == uint32(elf.SHT_NOBITS) {
		return nil, nil
	}
	end := s.Offset + s.Size
	if end < s.Offset || uint64(len(f.File.Contents)) < end {
		return nil, fmt.Errorf("%s: section header is out of range: %d", f.File.Name, s.Offset)
	}
	return f.File.Contents[s.Offset:end], nil
}

func (f *InputFile) GetBytesFromIdx(idx int64) ([]byte, error) {
	if idx < 0 || idx >= int64(len(f.ElfSections)) {
		return nil, fmt.Errorf("%s: invalid section index %d", f.File.Name, idx)
	}
	return f.GetBytesFromShdr(&f.ElfSections[idx])
}

func (f *InputFile) SectionName(s *Shdr) string {
	return getName(f.ShStrtab, s.Name)
}

// ReadSyms decodes a symbol table section.
func (f *InputFile) ReadSyms(s *Shdr) ([]Sym, error) {
	bs, err := f.GetBytesFromShdr(s)
	if err != nil {
		return nil, err
	}
	syms := make([]Sym, 0, len(bs)/symSize)
	for len(bs) >= symSize {
		syms = append(syms, utils.Read[Sym](bs))
		bs = bs[symSize:]
	}
	return syms, nil
}

func (f *InputFile) ReadRelas(s *Shdr) ([]Rela, error) {
	bs, err := f.GetBytesFromShdr(s)
	if err != nil {
		return nil, err
	}
	relas := make([]Rela, 0, len(bs)/relaSize)
	for len(bs) >= relaSize {
		relas = append(relas, utils.Read[Rela](bs))
		bs = bs[relaSize:]
	}
	return relas, nil
}

func (f *InputFile) FindSection(ty elf.SectionType) *Shdr {
	for i := 0; i < len(f.ElfSections); i++ {
		sec := &f.ElfSections[i]
		if sec.Type == uint32(ty) {
			return sec
		}
	}
	return nil
}
