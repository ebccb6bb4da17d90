package linker

type SymbolType uint8

const (
	SymUndef SymbolType = iota
	SymAbs
	SymReloc
	SymCommon
	SymIndirect
)

func (t SymbolType) String() string {
	switch t {
	case SymUndef:
		return "undef"
	case SymAbs:
		return "abs"
	case SymReloc:
		return "reloc"
	case SymCommon:
		return "common"
	case SymIndirect:
		return "indirect"
	}
	return "unknown"
}

type SymbolBind uint8

const (
	BindLocal SymbolBind = iota
	BindGlobal
	BindWeak
)

func (b SymbolBind) String() string {
	switch b {
	case BindLocal:
		return "local"
	case BindGlobal:
		return "global"
	case BindWeak:
		return "weak"
	}
	return "unknown"
}

type SymbolInfo uint8

const (
	InfoNone SymbolInfo = iota
	InfoObject
	InfoFunction
	InfoSection
	InfoFile
)

type SymbolFlags uint16

const (
	SymReferenced SymbolFlags = 1 << iota
	SymProtected
	// SymProvided is a PROVIDE symbol that got referenced.
	SymProvided
	SymDynImport
	SymDynExport
	SymScript
	SymLinkerDefined
	SymHidden
	// SymAssigned is set once a script symbol received its value.
	SymAssigned
	SymCopied
)

// Symbol is a named value. A RELOC symbol is relative to Sec or, for
// symbols defined by the linker or a script, to Out. COMMON symbols
// keep their alignment in Value.
type Symbol struct {
	Name  string
	Value uint64
	Size  uint64

	Sec *Section
	Out *LinkedSection
	Obj *ObjectUnit

	Type  SymbolType
	Bind  SymbolBind
	Info  SymbolInfo
	Flags SymbolFlags

	GotIdx int32
	PltIdx int32
	// DynIdx is the index in the output dynamic symbol table.
	DynIdx int32
}

func NewSymbol(name string) *Symbol {
	return &Symbol{
		Name:   name,
		GotIdx: -1,
		PltIdx: -1,
		DynIdx: -1,
	}
}

func (s *Symbol) SetInputSection(sec *Section) {
	s.Sec = sec
	s.Out = nil
	s.Type = SymReloc
}

// SetOutputSection binds s to ls directly. Value becomes an offset into
// ls, and ls lists s so that merging ls elsewhere takes s along.
func (s *Symbol) SetOutputSection(ls *LinkedSection) {
	s.Sec = nil
	s.Type = SymReloc
	if s.Out == ls {
		return
	}
	s.Out = ls
	ls.Symbols = append(ls.Symbols, s)
}

func (s *Symbol) SetAbsolute(v uint64) {
	s.Sec = nil
	s.Out = nil
	s.Type = SymAbs
	s.Value = v
}

func (s *Symbol) IsDefined() bool {
	return s.Type != SymUndef
}

func (s *Symbol) IsWeak() bool {
	return s.Bind == BindWeak
}

func (s *Symbol) IsLocal() bool {
	return s.Bind == BindLocal
}

// IsLinked reports whether the defining unit takes part in the link.
func (s *Symbol) IsLinked() bool {
	return s.Obj == nil || s.Obj.Linked
}

func (s *Symbol) IsShared() bool {
	return s.Obj != nil && s.Obj.Kind == UnitShared
}

func (s *Symbol) IsFromLibrary() bool {
	return s.Obj != nil && (s.Obj.Kind == UnitLibMember || s.Obj.Kind == UnitShared)
}

// LinkedSection returns the output section the symbol lives in, if any.
func (s *Symbol) LinkedSection() *LinkedSection {
	if s.Out != nil {
		return s.Out
	}
	if s.Sec != nil {
		return s.Sec.Live().Linked
	}
	return nil
}

// Addr returns the final address. Only valid after layout.
func (s *Symbol) Addr() uint64 {
	switch {
	case s.Type != SymReloc:
		return s.Value
	case s.Out != nil:
		return s.Out.Base + s.Value
	case s.Sec != nil:
		return s.Sec.Addr() + s.Value
	}
	return s.Value
}

func (s *Symbol) DefinedIn() string {
	if s.Obj == nil {
		return "<internal>"
	}
	return s.Obj.FullName()
}
