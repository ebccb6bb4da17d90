package linker

import (
	"math/bits"

	"github.com/ksco/vlink/pkg/utils"
)

// CommonSectionName is the pattern scripts use to place COMMON symbols.
const CommonSectionName = "COMMON"

func (ctx *Context) allocCommons() bool {
	return !ctx.IsRelocatable() || ctx.Arg.AllocCommon
}

// AllocateCommons gives every active COMMON symbol a slot in a bss
// section of the unit defining it and turns it into a RELOC symbol.
func AllocateCommons(ctx *Context) {
	if !ctx.allocCommons() {
		return
	}

	for _, obj := range ctx.Objs {
		var sec *Section
		for _, sym := range obj.Symbols {
			if sym.Type != SymCommon || sym.IsLocal() {
				continue
			}
			if ctx.Globals.Lookup(sym.Name) != sym {
				continue
			}
			if sec == nil {
				sec = NewSection(".bss", SecUData, ProtRead|ProtWrite, 0)
				sec.Flags |= SecCommon
				obj.AddSection(sec)
			}

			align := utils.Max(sym.Value, 1)
			off := utils.AlignTo(sec.Size, align)
			if p2 := uint8(bits.TrailingZeros64(align)); p2 > sec.P2Align {
				sec.P2Align = p2
			}
			sym.SetInputSection(sec)
			sym.Value = off
			sec.Size = off + sym.Size
		}
	}
}
