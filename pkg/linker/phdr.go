package linker

import (
	"debug/elf"
	"fmt"
)

// Segment is a program header in the making: a group of linked sections
// with common load behavior.
type Segment struct {
	Name  string
	Type  uint32
	Flags uint32
	// FlagsSet marks flags given explicitly by a script.
	FlagsSet bool

	FileHdr bool
	Phdrs   bool
	At      uint64
	HasAt   bool

	VStart, VEnd uint64
	PStart, PEnd uint64
	FileSize     uint64
	Align        uint64

	Sections []*LinkedSection
	Used     bool
	Closed   bool
}

func (s *Segment) String() string {
	return fmt.Sprintf("%s %s [%#x-%#x] lma %#x", s.Name, elf.ProgType(s.Type), s.VStart, s.VEnd, s.PStart)
}

func (s *Segment) IsLoad() bool {
	return s.Type == uint32(elf.PT_LOAD)
}

func (s *Segment) Contains(ls *LinkedSection) bool {
	for _, x := range s.Sections {
		if x == ls {
			return true
		}
	}
	return false
}

func protToPhdrFlags(prot uint8) uint32 {
	ret := uint32(elf.PF_R)
	if prot&ProtWrite != 0 {
		ret |= uint32(elf.PF_W)
	}
	if prot&ProtExec != 0 {
		ret |= uint32(elf.PF_X)
	}
	return ret
}

// ComputeExtents recomputes address ranges and flags from the members.
func (s *Segment) ComputeExtents() {
	if len(s.Sections) == 0 {
		return
	}
	s.Used = true
	first := true
	var prot uint8
	for _, ls := range s.Sections {
		prot |= ls.Prot
		if first {
			s.VStart, s.VEnd = ls.Base, ls.End()
			s.PStart, s.PEnd = ls.CopyBase, ls.CopyBase+ls.Size
			first = false
		}
		if ls.Base < s.VStart {
			s.VStart = ls.Base
		}
		if ls.End() > s.VEnd {
			s.VEnd = ls.End()
		}
		if ls.CopyBase < s.PStart {
			s.PStart = ls.CopyBase
		}
		if e := ls.CopyBase + ls.Size; e > s.PEnd {
			s.PEnd = e
		}
		if a := ls.Alignment(); a > s.Align {
			s.Align = a
		}
	}
	s.FileSize = 0
	for _, ls := range s.Sections {
		if ls.FileSize > 0 {
			if end := ls.Base + ls.FileSize - s.VStart; end > s.FileSize {
				s.FileSize = end
			}
		}
	}
	if s.HasAt {
		s.PEnd = s.At + (s.PEnd - s.PStart)
		s.PStart = s.At
	}
	if !s.FlagsSet {
		s.Flags = protToPhdrFlags(prot)
	}
}

// MemoryDescr is a named address region of a MEMORY command. Current only
// moves forward.
type MemoryDescr struct {
	Name    string
	Attrs   string
	Org     uint64
	Len     uint64
	Current uint64
}

func NewMemoryDescr(name, attrs string, org, length uint64) *MemoryDescr {
	return &MemoryDescr{Name: name, Attrs: attrs, Org: org, Len: length, Current: org}
}

func (m *MemoryDescr) End() uint64 {
	return m.Org + m.Len
}

// Advance moves the cursor to addr and reports an overflow past the end
// of the region.
func (m *MemoryDescr) Advance(addr uint64) error {
	if addr > m.Current {
		m.Current = addr
	}
	if m.Current > m.End() {
		return fmt.Errorf("region '%s' overflowed by %d bytes", m.Name, m.Current-m.End())
	}
	return nil
}
