package script

import (
	"path"
)

// Prescan is the result of the first pass over a script: everything that
// can be collected without evaluating a single expression. The linker needs
// it before symbol resolution, long before any address is known.
type Prescan struct {
	Regions    []*RegionDecl
	Phdrs      []*PhdrDecl
	Entry      string
	Externs    []string
	Inputs     []*InputCommand
	SearchDirs []string
	Output     string

	// Defines lists symbols assigned outside PROVIDE, in script order.
	Defines []string
	// Provides maps PROVIDEd names to their assignment.
	Provides map[string]*Assignment
	Asserts  []*AssertCommand

	HasSections bool
}

func (s *Script) Prescan() *Prescan {
	pre := &Prescan{Provides: make(map[string]*Assignment)}
	seen := make(map[string]bool)

	addAssign := func(a *Assignment) {
		if a.Name == "." {
			return
		}
		if a.Provide {
			if _, ok := pre.Provides[a.Name]; !ok {
				pre.Provides[a.Name] = a
			}
			return
		}
		if !seen[a.Name] {
			seen[a.Name] = true
			pre.Defines = append(pre.Defines, a.Name)
		}
	}

	for _, cmd := range s.Commands {
		switch c := cmd.(type) {
		case *MemoryCommand:
			pre.Regions = append(pre.Regions, c.Regions...)
		case *PhdrsCommand:
			pre.Phdrs = append(pre.Phdrs, c.Phdrs...)
		case *EntryCommand:
			pre.Entry = c.Symbol
		case *ExternCommand:
			pre.Externs = append(pre.Externs, c.Symbols...)
		case *InputCommand:
			pre.Inputs = append(pre.Inputs, c)
		case *SearchDirCommand:
			pre.SearchDirs = append(pre.SearchDirs, c.Dir)
		case *OutputCommand:
			pre.Output = c.File
		case *AssertCommand:
			pre.Asserts = append(pre.Asserts, c)
		case *Assignment:
			addAssign(c)
		case *SectionsCommand:
			pre.HasSections = true
			for _, stmt := range c.Stmts {
				switch st := stmt.(type) {
				case *Assignment:
					addAssign(st)
				case *EntryCommand:
					pre.Entry = st.Symbol
				case *OutputSection:
					for _, item := range st.Items {
						if a, ok := item.(*Assignment); ok {
							addAssign(a)
						}
					}
				}
			}
		}
	}
	return pre
}

// SectionsStmts returns the statements of all SECTIONS commands, in order.
// Top-level assignments outside SECTIONS are not included.
func (s *Script) SectionsStmts() []SectionsStmt {
	var stmts []SectionsStmt
	for _, cmd := range s.Commands {
		if c, ok := cmd.(*SectionsCommand); ok {
			stmts = append(stmts, c.Stmts...)
		}
	}
	return stmts
}

// TopLevelAssignments returns assignments that appear outside SECTIONS.
func (s *Script) TopLevelAssignments() []*Assignment {
	var list []*Assignment
	for _, cmd := range s.Commands {
		if a, ok := cmd.(*Assignment); ok {
			list = append(list, a)
		}
	}
	return list
}

// Blocks returns the output section definitions in declaration order.
func (s *Script) Blocks() []*OutputSection {
	var blocks []*OutputSection
	for _, stmt := range s.SectionsStmts() {
		if o, ok := stmt.(*OutputSection); ok {
			blocks = append(blocks, o)
		}
	}
	return blocks
}

// MatchPattern reports whether name matches a shell glob. File patterns
// without a slash also match against the base name, so "*crt0.o" selects
// "lib/crt0.o".
func MatchPattern(pattern, name string) bool {
	if pattern == "*" {
		return true
	}
	if ok, err := path.Match(pattern, name); err == nil && ok {
		return true
	}
	if ok, err := path.Match(pattern, path.Base(name)); err == nil && ok {
		return true
	}
	return false
}

// MatchFile reports whether spec selects objects from file, honoring
// EXCLUDE_FILE.
func (spec *InputSectionSpec) MatchFile(file string) bool {
	for _, ex := range spec.ExcludeFiles {
		if MatchPattern(ex, file) {
			return false
		}
	}
	return MatchPattern(spec.FilePattern, file)
}

func (spec *InputSectionSpec) MatchSection(name string) bool {
	for _, pat := range spec.SectionPatterns {
		if MatchPattern(pat, name) {
			return true
		}
	}
	return false
}
