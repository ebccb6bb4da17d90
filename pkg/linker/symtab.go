package linker

import (
	"sort"
)

// SymbolTable is the global symbol table. Every name maps to a chain of
// definitions; the head is the active one, the rest are shadowed.
type SymbolTable struct {
	chains map[string][]*Symbol
	diag   *Diag
}

func NewSymbolTable(diag *Diag) *SymbolTable {
	return &SymbolTable{
		chains: make(map[string][]*Symbol),
		diag:   diag,
	}
}

// Add inserts a global or weak definition and reports whether it became
// the active one.
func (t *SymbolTable) Add(sym *Symbol) bool {
	if sym.IsLocal() || !sym.IsDefined() {
		return false
	}
	chain := t.chains[sym.Name]
	if len(chain) == 0 {
		t.chains[sym.Name] = []*Symbol{sym}
		return true
	}

	old := chain[0]
	switch rankDefinitions(old, sym) {
	case addReplace:
		t.chains[sym.Name] = append([]*Symbol{sym}, chain...)
		return true
	case addDuplicate:
		return false
	case addConflict:
		t.diag.Error("multiple definition of '%s' (first in %s, second in %s)",
			sym.Name, old.DefinedIn(), sym.DefinedIn())
	case addCommonMismatch:
		t.diag.Warn("common symbol '%s' of %s (size %d, align %d) differs from %s (size %d, align %d)",
			sym.Name, sym.DefinedIn(), sym.Size, sym.Value, old.DefinedIn(), old.Size, old.Value)
	}
	t.chains[sym.Name] = append(chain, sym)
	return false
}

func (t *SymbolTable) Lookup(name string) *Symbol {
	if chain := t.chains[name]; len(chain) > 0 {
		return chain[0]
	}
	return nil
}

// Chain returns every definition of name, active one first.
func (t *SymbolTable) Chain(name string) []*Symbol {
	return t.chains[name]
}

// Promote re-ranks the definitions of a unit that just got linked, so
// that it takes over names whose active definition is still unlinked.
func (t *SymbolTable) Promote(obj *ObjectUnit) {
	for _, sym := range obj.Symbols {
		if sym.IsLocal() || !sym.IsDefined() {
			continue
		}
		chain := t.chains[sym.Name]
		if len(chain) < 2 || chain[0] == sym || chain[0].IsLinked() {
			continue
		}
		rest := make([]*Symbol, 0, len(chain))
		rest = append(rest, sym)
		for _, s := range chain {
			if s != sym {
				rest = append(rest, s)
			}
		}
		t.chains[sym.Name] = rest
	}
}

// Names returns all names in sorted order.
func (t *SymbolTable) Names() []string {
	names := make([]string, 0, len(t.chains))
	for name := range t.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *SymbolTable) Len() int {
	return len(t.chains)
}
