package linker

import (
	"github.com/ksco/vlink/pkg/utils"
)

// LinkedSection is an output section: the merge of one or more input
// sections. FileSize covers the initialized prefix, the rest up to Size
// is zero-filled.
type LinkedSection struct {
	Name    string
	Index   int
	Type    SectionType
	Prot    uint8
	Flags   SectionFlags
	P2Align uint8

	Base     uint64
	CopyBase uint64
	Size     uint64
	FileSize uint64

	Sections  []*Section
	Symbols   []*Symbol
	OutRelocs []*OutReloc
	Data      []byte

	// Fill is the pattern for gaps between input sections.
	Fill []byte

	Referenced bool
	placed     bool
	// Ext carries the ELF type and flags of the first input section.
	Ext any
}

func NewLinkedSection(name string, typ SectionType, prot uint8, flags SectionFlags) *LinkedSection {
	return &LinkedSection{
		Name:  name,
		Type:  typ,
		Prot:  prot,
		Flags: flags,
	}
}

func (ls *LinkedSection) Alignment() uint64 {
	return 1 << ls.P2Align
}

func (ls *LinkedSection) IsAlloc() bool {
	return ls.Flags&SecAlloc != 0
}

func (ls *LinkedSection) IsUninitialized() bool {
	return ls.Type == SecUData || ls.Flags&SecUninitialized != 0
}

// IsEmpty reports whether the section can be left out of the output.
func (ls *LinkedSection) IsEmpty() bool {
	return ls.Size == 0 && len(ls.OutRelocs) == 0 && !ls.Referenced
}

func (ls *LinkedSection) End() uint64 {
	return ls.Base + ls.Size
}

// AddSection appends sec at the next offset honoring its alignment.
func (ls *LinkedSection) AddSection(sec *Section) {
	ls.AddSectionAt(sec, utils.AlignTo(ls.Size, sec.Alignment()))
}

// AddSectionAt moves sec into the linked section at a fixed offset. The
// range between the previous end and off is padding.
func (ls *LinkedSection) AddSectionAt(sec *Section, off uint64) {
	if sec.Obj != nil {
		sec.Obj.takeSection(sec)
	}
	sec.Linked = ls
	sec.Offset = off
	ls.Sections = append(ls.Sections, sec)
	if sec.P2Align > ls.P2Align {
		ls.P2Align = sec.P2Align
	}
	if end := off + sec.Size; end > ls.Size {
		ls.Size = end
	}
	if !sec.IsUninitialized() {
		ls.FileSize = ls.Size
		ls.Flags &^= SecUninitialized
		if ls.Type == SecUData {
			ls.Type = SecData
		}
	}
	ls.Prot |= sec.Prot
	if sec.Type == SecCode {
		ls.Type = SecCode
	}
	ls.Flags |= sec.Flags & (SecSmallData | SecAlloc)
	if ls.Ext == nil {
		ls.Ext = sec.Ext
	}
}

// Grow extends the section to size, for location counter moves.
func (ls *LinkedSection) Grow(size uint64) {
	if size > ls.Size {
		ls.Size = size
		if !ls.IsUninitialized() {
			ls.FileSize = size
		}
	}
}

// Absorb moves every input section of other behind the ones already
// present, re-computing their offsets. Symbols bound to other move along
// with its first section.
func (ls *LinkedSection) Absorb(other *LinkedSection) {
	shift := utils.AlignTo(ls.Size, other.Alignment())
	for i, sec := range other.Sections {
		ls.AddSection(sec)
		if i == 0 {
			shift = sec.Offset
		}
	}
	for _, sym := range other.Symbols {
		// Skip symbols bound elsewhere since.
		if sym.Out != other {
			continue
		}
		sym.Value += shift
		sym.SetOutputSection(ls)
	}
	ls.Referenced = ls.Referenced || other.Referenced
	other.Sections = nil
	other.Symbols = nil
}

func (ls *LinkedSection) fillPattern() []byte {
	if len(ls.Fill) == 0 {
		return []byte{0}
	}
	return ls.Fill
}

// CopyContents builds Data from the input sections. Gaps get the fill
// pattern, uninitialized members are zero.
func (ls *LinkedSection) CopyContents() {
	if ls.IsUninitialized() || ls.FileSize == 0 {
		ls.Data = nil
		return
	}
	ls.Data = make([]byte, ls.FileSize)
	pat := ls.fillPattern()
	if len(pat) > 1 || pat[0] != 0 {
		for i := range ls.Data {
			ls.Data[i] = pat[i%len(pat)]
		}
	}
	for _, sec := range ls.Sections {
		if sec.Offset >= ls.FileSize {
			continue
		}
		end := utils.Min(sec.Offset+sec.Size, ls.FileSize)
		dst := ls.Data[sec.Offset:end]
		if sec.IsUninitialized() || sec.Data == nil {
			clear(dst)
			continue
		}
		n := copy(dst, sec.Data)
		clear(dst[n:])
	}
}
