package linker

import (
	"fmt"
)

type RelocKind uint8

const (
	RelocNone RelocKind = iota
	RelocAbs
	RelocPC
	// RelocLocalPC is PC-relative but only resolves against definitions
	// from the referencing unit.
	RelocLocalPC
	RelocGOT
	RelocGOTPC
	RelocGOTOff
	RelocPLT
	RelocPLTPC
	RelocPLTOff
	RelocSD
	RelocSD2
	RelocSD21
	RelocMOSDRel
	RelocAOSBRel
	RelocSecOff
	RelocCopy
	RelocJmpSlot
	RelocGlobDat
	RelocLoadRel
)

var relocKindNames = [...]string{
	RelocNone:    "NONE",
	RelocAbs:     "ABS",
	RelocPC:      "PC",
	RelocLocalPC: "LOCALPC",
	RelocGOT:     "GOT",
	RelocGOTPC:   "GOTPC",
	RelocGOTOff:  "GOTOFF",
	RelocPLT:     "PLT",
	RelocPLTPC:   "PLTPC",
	RelocPLTOff:  "PLTOFF",
	RelocSD:      "SD",
	RelocSD2:     "SD2",
	RelocSD21:    "SD21",
	RelocMOSDRel: "MOSDREL",
	RelocAOSBRel: "AOSBREL",
	RelocSecOff:  "SECOFF",
	RelocCopy:    "COPY",
	RelocJmpSlot: "JMPSLOT",
	RelocGlobDat: "GLOBDAT",
	RelocLoadRel: "LOADREL",
}

func (k RelocKind) String() string {
	if int(k) < len(relocKindNames) {
		return relocKindNames[k]
	}
	return fmt.Sprintf("RELOC(%d)", k)
}

func (k RelocKind) IsPCRelative() bool {
	switch k {
	case RelocPC, RelocLocalPC, RelocGOTPC, RelocPLTPC:
		return true
	}
	return false
}

func (k RelocKind) IsBaseRelative() bool {
	switch k {
	case RelocSD, RelocSD2, RelocSD21, RelocMOSDRel, RelocAOSBRel:
		return true
	}
	return false
}

func (k RelocKind) UsesGOT() bool {
	switch k {
	case RelocGOT, RelocGOTPC:
		return true
	}
	return false
}

func (k RelocKind) UsesPLT() bool {
	switch k {
	case RelocPLT, RelocPLTPC, RelocPLTOff:
		return true
	}
	return false
}

// IsDynamic reports kinds that only exist in dynamic output.
func (k RelocKind) IsDynamic() bool {
	switch k {
	case RelocCopy, RelocJmpSlot, RelocGlobDat, RelocLoadRel:
		return true
	}
	return false
}

func (k RelocKind) Signedness() Signedness {
	if k == RelocAbs || k == RelocSecOff {
		return SignEither
	}
	return SignSigned
}

type RelocFlags uint8

const (
	// RelocWeakRef marks a reference that may stay unresolved.
	RelocWeakRef RelocFlags = 1 << iota
	// RelocPartial marks the low part of a split value, written without
	// a range check.
	RelocPartial
	// RelocAccumAdd and RelocAccumSub add the value to, or subtract it
	// from, what the field already holds.
	RelocAccumAdd
	RelocAccumSub
)

// RelocTarget is what a relocation points at. A reader creates RawTarget
// or XrefTarget; ObjectUnit.FixRelocTargets turns RawTarget into
// SectionTarget; resolution turns XrefTarget into SymbolTarget; layout
// turns SectionTarget into LinkedTarget.
type RelocTarget interface {
	relocTarget()
}

type RawTarget struct{ Index int }

type SectionTarget struct{ Sec *Section }

type LinkedTarget struct{ Sec *LinkedSection }

type SymbolTarget struct{ Sym *Symbol }

type XrefTarget struct{ Name string }

func (RawTarget) relocTarget()     {}
func (SectionTarget) relocTarget() {}
func (LinkedTarget) relocTarget()  {}
func (SymbolTarget) relocTarget()  {}
func (XrefTarget) relocTarget()    {}

type Reloc struct {
	Kind   RelocKind
	Offset uint64
	Addend int64
	Target RelocTarget
	Insert []Insert
	Flags  RelocFlags
	Sec    *Section
	// Pair links the low part of a PC-relative hi/lo split to the
	// relocation of its high part.
	Pair *Reloc

	consumed int
}

func (r *Reloc) String() string {
	return fmt.Sprintf("%s %s+%d", r.Kind, r.TargetName(), r.Addend)
}

func (r *Reloc) TargetName() string {
	switch t := r.Target.(type) {
	case RawTarget:
		return fmt.Sprintf("section#%d", t.Index)
	case SectionTarget:
		return t.Sec.Name
	case LinkedTarget:
		return t.Sec.Name
	case SymbolTarget:
		if t.Sym == nil {
			return "<none>"
		}
		return t.Sym.Name
	case XrefTarget:
		return t.Name
	}
	return "<nil>"
}

// TargetSection returns the input section a relocation refers to, if any.
func (r *Reloc) TargetSection() *Section {
	switch t := r.Target.(type) {
	case SectionTarget:
		return t.Sec
	case SymbolTarget:
		if t.Sym != nil {
			return t.Sym.Sec
		}
	}
	return nil
}

// Width returns the number of bytes touched by the insertion chain.
func (r *Reloc) Width() int {
	return windowSize(r.Insert)
}

func (r *Reloc) IsWeak() bool {
	return r.Flags&RelocWeakRef != 0
}

func (r *Reloc) Location() string {
	if r.Sec == nil {
		return fmt.Sprintf("<internal>+%#x", r.Offset)
	}
	return r.Sec.Location(r.Offset)
}

// OutReloc is a relocation carried into the output file, for relocatable
// or dynamically linked output.
type OutReloc struct {
	Kind   RelocKind
	Offset uint64
	Addend int64
	Sym    *Symbol
	Sec    *LinkedSection
	Insert []Insert
	Flags  RelocFlags
	Orig   *Reloc
	// Pair is the output relocation of the high part for a hi/lo split.
	Pair *OutReloc
}

type RelocStats struct {
	Total   int
	Written int
	Emitted int
}
