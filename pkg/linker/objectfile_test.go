package linker

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/ksco/vlink/pkg/utils"
)

// elfBuilder assembles a minimal relocatable ELF64 file in memory.
type elfBuilder struct {
	buf    []byte
	shdrs  []Shdr
	shstr  *strtab
	header Ehdr
}

func newELFBuilder() *elfBuilder {
	b := &elfBuilder{buf: make([]byte, ehdrSize), shdrs: []Shdr{{}}, shstr: newStrtab()}
	copy(b.header.Ident[:], elf.ELFMAG)
	b.header.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	b.header.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	b.header.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	b.header.Type = uint16(elf.ET_REL)
	b.header.Machine = uint16(elf.EM_RISCV)
	b.header.Version = uint32(elf.EV_CURRENT)
	b.header.EhSize = uint16(ehdrSize)
	b.header.ShEntSize = uint16(shdrSize)
	return b
}

func (b *elfBuilder) align() {
	for len(b.buf)%8 != 0 {
		b.buf = append(b.buf, 0)
	}
}

func (b *elfBuilder) add(name string, shdr Shdr, data []byte) uint32 {
	b.align()
	shdr.Name = b.shstr.Add(name)
	shdr.Offset = uint64(len(b.buf))
	if shdr.Type != uint32(elf.SHT_NOBITS) {
		shdr.Size = uint64(len(data))
		b.buf = append(b.buf, data...)
	}
	b.shdrs = append(b.shdrs, shdr)
	return uint32(len(b.shdrs) - 1)
}

func encode(vals ...any) []byte {
	var buf bytes.Buffer
	for _, v := range vals {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			panic(err)
		}
	}
	return buf.Bytes()
}

func (b *elfBuilder) bytes() []byte {
	b.header.ShStrndx = uint16(b.add(".shstrtab", Shdr{Type: uint32(elf.SHT_STRTAB), AddrAlign: 1}, nil))
	// The name table has to include its own name before it is written.
	b.shdrs[b.header.ShStrndx].Offset = uint64(len(b.buf))
	b.shdrs[b.header.ShStrndx].Size = uint64(len(b.shstr.buf))
	b.buf = append(b.buf, b.shstr.buf...)
	b.align()

	b.header.ShOff = uint64(len(b.buf))
	b.header.ShNum = uint16(len(b.shdrs))
	for _, shdr := range b.shdrs {
		b.buf = append(b.buf, encode(shdr)...)
	}
	utils.Write(b.buf, b.header)
	return b.buf
}

// sampleObject holds a PC-relative load of var and a data pointer into
// .text through a local label.
func sampleObject() []byte {
	b := newELFBuilder()
	text := make([]byte, 16)
	binary.LittleEndian.PutUint32(text[0:], 0x00000517) // auipc a0, 0
	binary.LittleEndian.PutUint32(text[4:], 0x00050513) // addi a0, a0, 0
	textIdx := b.add(".text", Shdr{
		Type:      uint32(elf.SHT_PROGBITS),
		Flags:     uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
		AddrAlign: 4,
	}, text)
	dataIdx := b.add(".sdata", Shdr{
		Type:      uint32(elf.SHT_PROGBITS),
		Flags:     uint64(elf.SHF_ALLOC | elf.SHF_WRITE),
		AddrAlign: 8,
	}, make([]byte, 8))
	b.add(".bss", Shdr{
		Type:      uint32(elf.SHT_NOBITS),
		Flags:     uint64(elf.SHF_ALLOC | elf.SHF_WRITE),
		Size:      32,
		AddrAlign: 16,
	}, nil)
	b.add(".comment", Shdr{Type: uint32(elf.SHT_PROGBITS), AddrAlign: 1}, []byte("gcc\x00"))

	names := newStrtab()
	syms := []Sym{
		{},
		{Name: names.Add(".L0"), Info: makeSymInfo(elf.STB_LOCAL, elf.STT_NOTYPE), Shndx: uint16(textIdx)},
		{Name: names.Add("main"), Info: makeSymInfo(elf.STB_GLOBAL, elf.STT_FUNC), Shndx: uint16(textIdx), Size: 16},
		{Name: names.Add("var"), Info: makeSymInfo(elf.STB_GLOBAL, elf.STT_NOTYPE)},
		{Name: names.Add("hook"), Info: makeSymInfo(elf.STB_WEAK, elf.STT_NOTYPE)},
		{Name: names.Add("buf"), Info: makeSymInfo(elf.STB_GLOBAL, elf.STT_OBJECT), Shndx: uint16(elf.SHN_COMMON), Val: 16, Size: 64},
	}
	strtabIdx := uint32(len(b.shdrs) + 1)
	symtabIdx := b.add(".symtab", Shdr{
		Type: uint32(elf.SHT_SYMTAB), Link: strtabIdx, Info: 2,
		AddrAlign: 8, EntSize: uint64(symSize),
	}, encode(syms))
	b.add(".strtab", Shdr{Type: uint32(elf.SHT_STRTAB), AddrAlign: 1}, names.buf)

	// Out of order on purpose: the reader sorts by offset.
	textRelas := []Rela{
		{Offset: 4, Type: uint32(elf.R_RISCV_PCREL_LO12_I), Sym: 1},
		{Offset: 4, Type: uint32(elf.R_RISCV_RELAX)},
		{Offset: 0, Type: uint32(elf.R_RISCV_PCREL_HI20), Sym: 3, Addend: 4},
		{Offset: 8, Type: uint32(elf.R_RISCV_CALL), Sym: 4},
	}
	b.add(".rela.text", Shdr{
		Type: uint32(elf.SHT_RELA), Flags: uint64(elf.SHF_INFO_LINK),
		Link: symtabIdx, Info: textIdx, AddrAlign: 8, EntSize: uint64(relaSize),
	}, encode(textRelas))
	b.add(".rela.sdata", Shdr{
		Type: uint32(elf.SHT_RELA), Flags: uint64(elf.SHF_INFO_LINK),
		Link: symtabIdx, Info: dataIdx, AddrAlign: 8, EntSize: uint64(relaSize),
	}, encode([]Rela{{Offset: 0, Type: uint32(elf.R_RISCV_64), Sym: 1, Addend: 8}}))
	return b.bytes()
}

func TestReadObject(t *testing.T) {
	ctx := newTestContext()
	obj, err := ReadObject(ctx, &File{Name: "a.o", Contents: sampleObject()}, "")
	if err != nil {
		t.Fatalf("ReadObject: %v", err)
	}
	if obj.Kind != UnitObject {
		t.Errorf("unit kind %v", obj.Kind)
	}

	var names []string
	for _, sec := range obj.Sections {
		names = append(names, sec.Name)
	}
	if got := strings.Join(names, " "); got != ".text .sdata .bss" {
		t.Fatalf("sections %q", got)
	}
	text, sdata, bss := obj.Sections[0], obj.Sections[1], obj.Sections[2]
	if text.Type != SecCode || text.Prot != ProtRead|ProtExec || text.Alignment() != 4 {
		t.Errorf(".text type %v prot %v align %d", text.Type, text.Prot, text.Alignment())
	}
	if sdata.Flags&SecSmallData == 0 {
		t.Errorf(".sdata not small data")
	}
	if bss.Type != SecUData || bss.Size != 32 || bss.Data != nil || bss.Alignment() != 16 {
		t.Errorf(".bss type %v size %d align %d", bss.Type, bss.Size, bss.Alignment())
	}

	if main := obj.Lookup("main"); main == nil || main.Sec != text || main.Info != InfoFunction || main.Bind != BindGlobal {
		t.Errorf("main = %+v", main)
	}
	if buf := obj.Lookup("buf"); buf == nil || buf.Type != SymCommon || buf.Value != 16 || buf.Size != 64 {
		t.Errorf("buf = %+v", buf)
	}
	if label := obj.Lookup(".L0"); label == nil || !label.IsLocal() {
		t.Errorf(".L0 = %+v", label)
	}

	// Relocations against symbols from other units wait in Xrefs until
	// resolution.
	if len(text.Relocs) != 0 || len(text.Xrefs) != 3 {
		t.Fatalf(".text has %d relocations and %d xrefs, want 0 and 3", len(text.Relocs), len(text.Xrefs))
	}
	hi, call, lo := text.Xrefs[0], text.Xrefs[1], text.Xrefs[2]
	if x, ok := hi.Target.(XrefTarget); !ok || x.Name != "var" || hi.Kind != RelocPC || hi.Addend != 4 {
		t.Errorf("hi20 = %+v", hi)
	}
	if x, ok := call.Target.(XrefTarget); !ok || x.Name != "hook" || call.Flags&RelocWeakRef == 0 {
		t.Errorf("call to weak hook = %+v", call)
	}
	if lo.Pair != hi || lo.Offset != 4 || lo.Addend != 8 || lo.Flags&RelocPartial == 0 {
		t.Errorf("lo12 = %+v", lo)
	}
	if x, ok := lo.Target.(XrefTarget); !ok || x.Name != "var" {
		t.Errorf("lo12 target %+v, want var", lo.Target)
	}

	if len(sdata.Relocs) != 1 {
		t.Fatalf(".sdata has %d relocations", len(sdata.Relocs))
	}
	ptr := sdata.Relocs[0]
	if st, ok := ptr.Target.(SectionTarget); !ok || st.Sec != text || ptr.Addend != 8 {
		t.Errorf("pointer via local label = %+v", ptr)
	}
}

func TestReadObjectArchiveMember(t *testing.T) {
	ctx := newTestContext()
	obj, err := ReadObject(ctx, &File{Name: "a.o", Contents: sampleObject()}, "liba.a")
	if err != nil {
		t.Fatal(err)
	}
	if obj.Kind != UnitLibMember || obj.Archive != "liba.a" {
		t.Errorf("kind %v archive %q", obj.Kind, obj.Archive)
	}
}

func TestReadObjectRejects(t *testing.T) {
	ctx := newTestContext()
	wrongClass := sampleObject()
	wrongClass[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	wrongMachine := sampleObject()
	binary.LittleEndian.PutUint16(wrongMachine[18:], uint16(elf.EM_X86_64))

	cases := map[string][]byte{
		"32-bit":  wrongClass,
		"x86-64":  wrongMachine,
		"garbage": []byte("not an object file"),
	}
	for name, contents := range cases {
		if _, err := ReadObject(ctx, &File{Name: name, Contents: contents}, ""); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}

func TestReadObjectThreadLocal(t *testing.T) {
	b := newELFBuilder()
	b.add(".tdata", Shdr{
		Type:      uint32(elf.SHT_PROGBITS),
		Flags:     uint64(elf.SHF_ALLOC | elf.SHF_WRITE | elf.SHF_TLS),
		AddrAlign: 8,
	}, make([]byte, 8))
	_, err := ReadObject(newTestContext(), &File{Name: "tls.o", Contents: b.bytes()}, "")
	if err == nil || !strings.Contains(err.Error(), "thread-local") {
		t.Errorf("err = %v", err)
	}
}

func TestGetFileType(t *testing.T) {
	cases := []struct {
		contents []byte
		want     FileType
	}{
		{nil, FileTypeEmpty},
		{sampleObject(), FileTypeObject},
		{[]byte("!<arch>\n"), FileTypeAr},
		{[]byte("SECTIONS {}"), FileTypeText},
		{[]byte{0, 1, 2, 3}, FileTypeUnknown},
	}
	for i, c := range cases {
		if got := GetFileType(c.contents); got != c.want {
			t.Errorf("case %d: file type %d, want %d", i, got, c.want)
		}
	}
}
