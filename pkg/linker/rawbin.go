package linker

import (
	"sort"
)

// EmitRawBinary writes the initialized contents of all allocated
// sections as one image starting at the lowest load address. Gaps
// between sections get the --gap-fill byte.
func EmitRawBinary(ctx *Context) []byte {
	if ctx.IsDynamic() {
		ctx.Diag.Fatal("raw binary output cannot hold dynamic linking information")
	}
	if ctx.IsRelocatable() {
		ctx.Diag.Fatal("raw binary output cannot be relocatable")
	}

	var list []*LinkedSection
	for _, ls := range ctx.LinkedSections {
		if ls.IsAlloc() && !ls.IsUninitialized() && ls.FileSize > 0 {
			list = append(list, ls)
		}
	}
	if len(list) == 0 {
		return nil
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CopyBase < list[j].CopyBase
	})

	start := list[0].CopyBase
	end := start
	for i, ls := range list {
		if i > 0 && ls.CopyBase < list[i-1].CopyBase+list[i-1].FileSize {
			ctx.Diag.Error("sections %s and %s overlap in the load image", list[i-1].Name, ls.Name)
		}
		if e := ls.CopyBase + ls.FileSize; e > end {
			end = e
		}
	}
	ctx.Diag.Check()

	buf := make([]byte, end-start)
	if fill := ctx.Arg.GapFill; fill != 0 {
		for i := range buf {
			buf[i] = fill
		}
	}
	for _, ls := range list {
		copy(buf[ls.CopyBase-start:], ls.Data)
	}
	return buf
}
