package linker

import (
	"strings"
)

var linkerSymbolNames = map[string]bool{
	"_SDA_BASE_":                true,
	"_SDA2_BASE_":               true,
	"_LinkerDB":                 true,
	"__r13_init":                true,
	"_DATA_BAS_":                true,
	"_GLOBAL_OFFSET_TABLE_":     true,
	"_PROCEDURE_LINKAGE_TABLE_": true,
	"__global_pointer$":         true,
	"__bss_start":               true,
	"_edata":                    true,
	"_end":                      true,
	"__init_array_start":        true,
	"__init_array_end":          true,
	"__fini_array_start":        true,
	"__fini_array_end":          true,
	"__preinit_array_start":     true,
	"__preinit_array_end":       true,
}

func isCIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// linkerSymbol creates a symbol whose value only the linker knows, or a
// PROVIDEd script symbol. It returns nil for any other name.
func (ctx *Context) linkerSymbol(name string) *Symbol {
	if hook := ctx.Target.LinkerSymbol; hook != nil {
		if sym := hook(ctx, name); sym != nil {
			return ctx.defineInternal(sym)
		}
	}

	known := linkerSymbolNames[name]
	if rest, ok := strings.CutPrefix(name, "__start_"); ok && isCIdentifier(rest) {
		known = true
	}
	if rest, ok := strings.CutPrefix(name, "__stop_"); ok && isCIdentifier(rest) {
		known = true
	}
	if known {
		sym := NewSymbol(name)
		sym.Type = SymAbs
		sym.Bind = BindGlobal
		sym.Flags |= SymLinkerDefined
		return ctx.defineInternal(sym)
	}

	if ctx.Prescan != nil {
		if a, ok := ctx.Prescan.Provides[name]; ok {
			sym := NewSymbol(name)
			sym.Type = SymAbs
			sym.Bind = BindGlobal
			sym.Flags |= SymScript | SymProvided
			if a.Hidden {
				sym.Flags |= SymHidden
			}
			ctx.ScriptObj.AddSymbol(sym)
			ctx.Globals.Add(sym)
			return sym
		}
	}
	return nil
}

func (ctx *Context) defineInternal(sym *Symbol) *Symbol {
	ctx.InternalObj.AddSymbol(sym)
	ctx.Globals.Add(sym)
	return sym
}

// smallDataSection returns the section base-relative addressing refers to.
func (ctx *Context) smallDataSection(second bool) *LinkedSection {
	if second {
		return ctx.LinkedSectionByName(".sdata2")
	}
	for _, ls := range ctx.LinkedSections {
		if ls.Flags&SecSmallData != 0 && ls.Name != ".sdata2" {
			return ls
		}
	}
	for _, name := range []string{".sdata", ".data", ".bss"} {
		if ls := ctx.LinkedSectionByName(name); ls != nil {
			return ls
		}
	}
	return nil
}

// baseAddress returns the value of a base register for base-relative
// relocation kinds.
func (ctx *Context) baseAddress(kind RelocKind) uint64 {
	switch kind {
	case RelocSD2:
		if ls := ctx.smallDataSection(true); ls != nil {
			return ls.Base + 0x8000
		}
		return 0
	case RelocAOSBRel:
		if ls := ctx.smallDataSection(false); ls != nil {
			return ls.Base + 0x7ffe
		}
		return 0
	}
	if ls := ctx.smallDataSection(false); ls != nil {
		return ls.Base + 0x8000
	}
	return 0
}

func (ctx *Context) gotAddress() uint64 {
	if sec := ctx.Dyn.Got; sec != nil && sec.Linked != nil {
		return sec.Addr()
	}
	return 0
}

// InitLinkerSymbols gives every linker-defined symbol its final value.
// Layout must be complete.
func InitLinkerSymbols(ctx *Context) {
	for _, sym := range ctx.InternalObj.Symbols {
		if sym.Flags&SymLinkerDefined == 0 {
			continue
		}
		if hook := ctx.Target.InitLinkerSymbol; hook != nil && hook(ctx, sym) {
			continue
		}
		ctx.initLinkerSymbol(sym)
	}
}

func (ctx *Context) setToSection(sym *Symbol, ls *LinkedSection, off uint64) {
	if ls == nil {
		sym.SetAbsolute(0)
		return
	}
	sym.SetOutputSection(ls)
	sym.Value = off
}

func (ctx *Context) initLinkerSymbol(sym *Symbol) {
	var lastAlloc, lastInit, firstBss *LinkedSection
	for _, ls := range ctx.LinkedSections {
		if !ls.IsAlloc() {
			continue
		}
		if lastAlloc == nil || ls.End() >= lastAlloc.End() {
			lastAlloc = ls
		}
		if ls.IsUninitialized() {
			if firstBss == nil {
				firstBss = ls
			}
		} else if lastInit == nil || ls.End() >= lastInit.End() {
			lastInit = ls
		}
	}

	name := sym.Name
	switch name {
	case "_SDA_BASE_", "__r13_init":
		ctx.setToSection(sym, ctx.smallDataSection(false), 0x8000)
	case "_SDA2_BASE_":
		ctx.setToSection(sym, ctx.smallDataSection(true), 0x8000)
	case "_LinkerDB":
		ctx.setToSection(sym, ctx.smallDataSection(false), 0x7ffe)
	case "_DATA_BAS_":
		ctx.setToSection(sym, ctx.smallDataSection(false), 0)
	case "_GLOBAL_OFFSET_TABLE_":
		if got := ctx.Dyn.Got; got != nil && got.Linked != nil {
			ctx.setToSection(sym, got.Linked, got.Offset)
		} else {
			sym.SetAbsolute(0)
		}
	case "_PROCEDURE_LINKAGE_TABLE_":
		if plt := ctx.Dyn.Plt; plt != nil && plt.Linked != nil {
			ctx.setToSection(sym, plt.Linked, plt.Offset)
		} else {
			sym.SetAbsolute(0)
		}
	case "__global_pointer$":
		ctx.setToSection(sym, ctx.smallDataSection(false), 0x800)
	case "__bss_start":
		if firstBss != nil {
			ctx.setToSection(sym, firstBss, 0)
		} else if lastInit != nil {
			ctx.setToSection(sym, lastInit, lastInit.Size)
		} else {
			sym.SetAbsolute(0)
		}
	case "_edata":
		if lastInit != nil {
			ctx.setToSection(sym, lastInit, lastInit.Size)
		} else {
			sym.SetAbsolute(0)
		}
	case "_end":
		if lastAlloc != nil {
			ctx.setToSection(sym, lastAlloc, lastAlloc.Size)
		} else {
			sym.SetAbsolute(0)
		}
	default:
		ctx.initArraySymbol(sym)
	}
}

func (ctx *Context) initArraySymbol(sym *Symbol) {
	name := sym.Name
	var secName string
	var end bool
	switch {
	case strings.HasPrefix(name, "__start_"):
		secName = name[len("__start_"):]
	case strings.HasPrefix(name, "__stop_"):
		secName, end = name[len("__stop_"):], true
	case strings.HasSuffix(name, "_start"):
		secName = "." + strings.TrimSuffix(strings.TrimPrefix(name, "__"), "_start")
	case strings.HasSuffix(name, "_end"):
		secName, end = "."+strings.TrimSuffix(strings.TrimPrefix(name, "__"), "_end"), true
	}

	ls := ctx.LinkedSectionByName(secName)
	if ls == nil {
		sym.SetAbsolute(0)
		return
	}
	if end {
		ctx.setToSection(sym, ls, ls.Size)
	} else {
		ctx.setToSection(sym, ls, 0)
	}
}
