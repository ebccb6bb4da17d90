package linker

import (
	"fmt"
)

type SectionType uint8

const (
	SecCode SectionType = iota
	SecData
	SecUData
	SecTmp
)

func (t SectionType) String() string {
	switch t {
	case SecCode:
		return "code"
	case SecData:
		return "data"
	case SecUData:
		return "bss"
	case SecTmp:
		return "tmp"
	}
	return "unknown"
}

const (
	ProtRead   uint8 = 1 << 0
	ProtWrite  uint8 = 1 << 1
	ProtExec   uint8 = 1 << 2
	ProtShared uint8 = 1 << 3
)

type SectionFlags uint32

const (
	SecAlloc SectionFlags = 1 << iota
	SecUninitialized
	SecSmallData
	SecLinkOnce
	// SecCommon marks the synthetic section holding allocated COMMON symbols.
	SecCommon
	SecKeep
)

// Section is a contiguous chunk of an input module. It belongs to its
// ObjectUnit until layout moves it into a LinkedSection.
type Section struct {
	Name    string
	Type    SectionType
	Prot    uint8
	P2Align uint8
	Flags   SectionFlags

	Data []byte
	Size uint64
	Id   int

	Obj    *ObjectUnit
	Relocs []*Reloc
	Xrefs  []*Reloc

	// Ext carries reader-specific attributes, such as ELF section
	// type and flags, for the writer of the same format.
	Ext any

	Linked    *LinkedSection
	Offset    uint64
	Discarded bool
	// Replacement is the kept copy of a discarded link-once section.
	Replacement *Section
}

func NewSection(name string, typ SectionType, prot uint8, p2align uint8) *Section {
	s := &Section{
		Name:    name,
		Type:    typ,
		Prot:    prot,
		P2Align: p2align,
		Flags:   SecAlloc,
		Id:      -1,
	}
	if typ == SecUData {
		s.Flags |= SecUninitialized
	}
	if typ == SecTmp {
		s.Flags &^= SecAlloc
	}
	return s
}

func (s *Section) IsAlloc() bool {
	return s.Flags&SecAlloc != 0
}

func (s *Section) IsUninitialized() bool {
	return s.Type == SecUData || s.Flags&SecUninitialized != 0
}

func (s *Section) Alignment() uint64 {
	return 1 << s.P2Align
}

// Live follows discarded link-once sections to the copy that was kept.
func (s *Section) Live() *Section {
	for s.Replacement != nil {
		s = s.Replacement
	}
	return s
}

// Addr is the virtual address. Only valid after layout.
func (s *Section) Addr() uint64 {
	s = s.Live()
	if s.Linked == nil {
		return 0
	}
	return s.Linked.Base + s.Offset
}

func (s *Section) LoadAddr() uint64 {
	s = s.Live()
	if s.Linked == nil {
		return 0
	}
	return s.Linked.CopyBase + s.Offset
}

// Location formats a position for diagnostics, like "main.o(.text+0x10)".
func (s *Section) Location(offset uint64) string {
	obj := "<internal>"
	if s.Obj != nil {
		obj = s.Obj.FullName()
	}
	return fmt.Sprintf("%s(%s+%#x)", obj, s.Name, offset)
}

func (s *Section) AddReloc(r *Reloc) {
	r.Sec = s
	if _, ok := r.Target.(XrefTarget); ok {
		s.Xrefs = append(s.Xrefs, r)
		return
	}
	s.Relocs = append(s.Relocs, r)
}
