package linker

import (
	"fmt"
)

type UnitKind uint8

const (
	UnitObject UnitKind = iota
	UnitLibMember
	UnitShared
	UnitSynthetic
)

func (k UnitKind) String() string {
	switch k {
	case UnitObject:
		return "object"
	case UnitLibMember:
		return "library member"
	case UnitShared:
		return "shared object"
	case UnitSynthetic:
		return "synthetic"
	}
	return "unknown"
}

// ObjectUnit is one input module: an object file, an archive member, a
// shared object or a unit made up by the linker itself.
type ObjectUnit struct {
	Name    string
	Archive string
	Kind    UnitKind

	Sections []*Section
	Symbols  []*Symbol
	local    map[string]*Symbol

	Linked   bool
	Priority uint32
	resolved bool

	// SoName is the DT_SONAME of a shared object.
	SoName string
	// Flags keeps format specific header flags, like e_flags.
	Flags uint32
}

func NewObjectUnit(name string, kind UnitKind) *ObjectUnit {
	return &ObjectUnit{
		Name:  name,
		Kind:  kind,
		local: make(map[string]*Symbol),
	}
}

func (o *ObjectUnit) FullName() string {
	if o.Archive != "" {
		return fmt.Sprintf("%s(%s)", o.Archive, o.Name)
	}
	return o.Name
}

func (o *ObjectUnit) String() string {
	return o.FullName()
}

func (o *ObjectUnit) IsLibrary() bool {
	return o.Kind == UnitLibMember || o.Kind == UnitShared
}

func (o *ObjectUnit) AddSection(sec *Section) *Section {
	sec.Obj = o
	sec.Id = len(o.Sections)
	o.Sections = append(o.Sections, sec)
	return sec
}

// AddSymbol enters sym into the object-local table. The first definition
// of a name wins the local slot; an undefined entry is replaced by a
// later definition.
func (o *ObjectUnit) AddSymbol(sym *Symbol) *Symbol {
	sym.Obj = o
	o.Symbols = append(o.Symbols, sym)
	if sym.Name == "" || sym.Info == InfoSection || sym.Info == InfoFile {
		return sym
	}
	if old, ok := o.local[sym.Name]; !ok || (!old.IsDefined() && sym.IsDefined()) {
		o.local[sym.Name] = sym
	}
	return sym
}

func (o *ObjectUnit) Lookup(name string) *Symbol {
	return o.local[name]
}

func (o *ObjectUnit) SectionByName(name string) *Section {
	for _, sec := range o.Sections {
		if sec.Name == name {
			return sec
		}
	}
	return nil
}

// FixRelocTargets turns raw section indices left by a reader into section
// references. Indices refer to the order sections were added.
func (o *ObjectUnit) FixRelocTargets(byIndex map[int]*Section) error {
	for _, sec := range o.Sections {
		for _, r := range sec.Relocs {
			raw, ok := r.Target.(RawTarget)
			if !ok {
				continue
			}
			target, ok := byIndex[raw.Index]
			if !ok {
				return fmt.Errorf("%s: relocation against discarded or missing section %d",
					r.Location(), raw.Index)
			}
			r.Target = SectionTarget{Sec: target}
		}
	}
	return nil
}

// takeSection removes sec from the unit; it is about to move into a
// LinkedSection.
func (o *ObjectUnit) takeSection(sec *Section) {
	for i, s := range o.Sections {
		if s == sec {
			o.Sections = append(o.Sections[:i], o.Sections[i+1:]...)
			return
		}
	}
}
