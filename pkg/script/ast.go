package script

// Script is a parsed linker script. Commands keep their textual order.
type Script struct {
	Name     string
	Commands []Command
}

type Command interface {
	Position() Pos
}

// SectionsStmt is anything that may appear directly inside SECTIONS { }.
type SectionsStmt interface {
	Position() Pos
}

// SectionItem is anything that may appear inside an output section body.
type SectionItem interface {
	Position() Pos
}

type node struct {
	Pos Pos
}

func (n *node) Position() Pos { return n.Pos }

type RegionDecl struct {
	node
	Name   string
	Attrs  string
	Origin Expr
	Length Expr
}

type MemoryCommand struct {
	node
	Regions []*RegionDecl
}

type PhdrDecl struct {
	node
	Name    string
	Type    Expr
	FileHdr bool
	Phdrs   bool
	At      Expr
	Flags   Expr
}

type PhdrsCommand struct {
	node
	Phdrs []*PhdrDecl
}

type SectionsCommand struct {
	node
	Stmts []SectionsStmt
}

type EntryCommand struct {
	node
	Symbol string
}

type ExternCommand struct {
	node
	Symbols []string
}

type AssertCommand struct {
	node
	Cond Expr
	Msg  string
}

type InputCommand struct {
	node
	Files []string
	Group bool
}

type SearchDirCommand struct {
	node
	Dir string
}

type OutputCommand struct {
	node
	File string
}

// IgnoredCommand records commands such as OUTPUT_ARCH that are accepted
// for compatibility but do not influence the link.
type IgnoredCommand struct {
	node
	Name string
}

type Assignment struct {
	node
	Name    string
	Op      string
	Value   Expr
	Provide bool
	Hidden  bool
}

const (
	SectionTypeNormal = ""
	SectionTypeNoLoad = "NOLOAD"
)

const DiscardName = "/DISCARD/"

type OutputSection struct {
	node
	Name      string
	Addr      Expr
	Type      string
	At        Expr
	Align     Expr
	Items     []SectionItem
	Region    string
	LMARegion string
	Phdrs     []string
	Fill      Expr
}

func (o *OutputSection) IsDiscard() bool {
	return o.Name == DiscardName
}

type InputSectionSpec struct {
	node
	FilePattern     string
	SectionPatterns []string
	ExcludeFiles    []string
	Keep            bool
	Sort            bool
}

type DataItem struct {
	node
	Size  int
	Value Expr
}

type FillItem struct {
	node
	Value Expr
}
