package linker

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"slices"
)

const EF_RISCV_RVC uint32 = 1

const PageSize = 4096
const ImageBase uint64 = 0x200000

// Insertion chains for the RISC-V immediate encodings.
var (
	itypeInsert = []Insert{MaskedField(20, 12, 0xfff)}
	stypeInsert = []Insert{
		MaskedField(25, 7, 0xfe0),
		MaskedField(7, 5, 0x1f),
	}
	btypeInsert = []Insert{
		MaskedField(31, 1, 0x1000),
		MaskedField(25, 6, 0x7e0),
		MaskedField(8, 4, 0x1e),
		MaskedField(7, 1, 0x800),
	}
	utypeInsert = []Insert{{BitPos: 12, BitSize: 20, Mask: 0xfffff000, Round: true}}
	jtypeInsert = []Insert{
		MaskedField(31, 1, 0x100000),
		MaskedField(21, 10, 0x7fe),
		MaskedField(20, 1, 0x800),
		MaskedField(12, 8, 0xff000),
	}
	cbtypeInsert = []Insert{
		MaskedField(12, 1, 0x100),
		MaskedField(10, 2, 0x18),
		MaskedField(5, 2, 0xc0),
		MaskedField(3, 2, 0x6),
		MaskedField(2, 1, 0x20),
	}
	cjtypeInsert = []Insert{
		MaskedField(12, 1, 0x800),
		MaskedField(11, 1, 0x10),
		MaskedField(9, 2, 0x300),
		MaskedField(8, 1, 0x400),
		MaskedField(7, 1, 0x40),
		MaskedField(6, 1, 0x80),
		MaskedField(3, 3, 0xe),
		MaskedField(2, 1, 0x20),
	}
	// AUIPC followed by JALR.
	callInsert = []Insert{
		{BitPos: 12, BitSize: 20, Mask: 0xfffff000, Round: true},
		MaskedField(52, 12, 0xfff),
	}
)

type riscvHowto struct {
	kind   RelocKind
	insert []Insert
	flags  RelocFlags
}

var riscvHowtos = map[elf.R_RISCV]riscvHowto{
	elf.R_RISCV_32:         {RelocAbs, []Insert{Field(0, 32)}, 0},
	elf.R_RISCV_64:         {RelocAbs, []Insert{Field(0, 64)}, 0},
	elf.R_RISCV_32_PCREL:   {RelocPC, []Insert{Field(0, 32)}, 0},
	elf.R_RISCV_BRANCH:     {RelocPC, btypeInsert, 0},
	elf.R_RISCV_JAL:        {RelocPC, jtypeInsert, 0},
	elf.R_RISCV_CALL:       {RelocPC, callInsert, 0},
	elf.R_RISCV_CALL_PLT:   {RelocPLTPC, callInsert, 0},
	elf.R_RISCV_GOT_HI20:   {RelocGOTPC, utypeInsert, 0},
	elf.R_RISCV_PCREL_HI20: {RelocPC, utypeInsert, 0},
	elf.R_RISCV_HI20:       {RelocAbs, utypeInsert, 0},
	elf.R_RISCV_LO12_I:     {RelocAbs, itypeInsert, RelocPartial},
	elf.R_RISCV_LO12_S:     {RelocAbs, stypeInsert, RelocPartial},
	elf.R_RISCV_RVC_BRANCH: {RelocPC, cbtypeInsert, 0},
	elf.R_RISCV_RVC_JUMP:   {RelocPC, cjtypeInsert, 0},
	elf.R_RISCV_ADD8:       {RelocAbs, []Insert{Field(0, 8)}, RelocAccumAdd | RelocPartial},
	elf.R_RISCV_ADD16:      {RelocAbs, []Insert{Field(0, 16)}, RelocAccumAdd | RelocPartial},
	elf.R_RISCV_ADD32:      {RelocAbs, []Insert{Field(0, 32)}, RelocAccumAdd | RelocPartial},
	elf.R_RISCV_ADD64:      {RelocAbs, []Insert{Field(0, 64)}, RelocAccumAdd | RelocPartial},
	elf.R_RISCV_SUB6:       {RelocAbs, []Insert{Field(0, 6)}, RelocAccumSub | RelocPartial},
	elf.R_RISCV_SUB8:       {RelocAbs, []Insert{Field(0, 8)}, RelocAccumSub | RelocPartial},
	elf.R_RISCV_SUB16:      {RelocAbs, []Insert{Field(0, 16)}, RelocAccumSub | RelocPartial},
	elf.R_RISCV_SUB32:      {RelocAbs, []Insert{Field(0, 32)}, RelocAccumSub | RelocPartial},
	elf.R_RISCV_SUB64:      {RelocAbs, []Insert{Field(0, 64)}, RelocAccumSub | RelocPartial},
	elf.R_RISCV_SET6:       {RelocAbs, []Insert{Field(0, 6)}, RelocPartial},
	elf.R_RISCV_SET8:       {RelocAbs, []Insert{Field(0, 8)}, RelocPartial},
	elf.R_RISCV_SET16:      {RelocAbs, []Insert{Field(0, 16)}, RelocPartial},
	elf.R_RISCV_SET32:      {RelocAbs, []Insert{Field(0, 32)}, RelocPartial},
}

// lo12 relocations take their value from the high part they pair with.
var riscvLo12 = map[elf.R_RISCV][]Insert{
	elf.R_RISCV_PCREL_LO12_I: itypeInsert,
	elf.R_RISCV_PCREL_LO12_S: stypeInsert,
}

func riscvIgnored(typ elf.R_RISCV) bool {
	switch typ {
	case elf.R_RISCV_NONE, elf.R_RISCV_RELAX, elf.R_RISCV_ALIGN:
		return true
	}
	return false
}

func riscvHowtoFor(typ elf.R_RISCV) (riscvHowto, error) {
	if h, ok := riscvHowtos[typ]; ok {
		return h, nil
	}
	switch typ {
	case elf.R_RISCV_TLS_GOT_HI20, elf.R_RISCV_TLS_GD_HI20, elf.R_RISCV_TPREL_HI20,
		elf.R_RISCV_TPREL_LO12_I, elf.R_RISCV_TPREL_LO12_S, elf.R_RISCV_TPREL_ADD:
		return riscvHowto{}, fmt.Errorf("thread-local relocation %s is not supported", typ)
	}
	return riscvHowto{}, fmt.Errorf("unsupported relocation %s", typ)
}

// riscvRelocType maps an output relocation back to its ELF type.
func riscvRelocType(r *OutReloc) (elf.R_RISCV, bool) {
	switch r.Kind {
	case RelocJmpSlot:
		return elf.R_RISCV_JUMP_SLOT, true
	case RelocCopy:
		return elf.R_RISCV_COPY, true
	case RelocLoadRel:
		return elf.R_RISCV_RELATIVE, true
	case RelocGlobDat:
		return elf.R_RISCV_64, true
	}
	if r.Pair != nil {
		for typ, ins := range riscvLo12 {
			if slices.Equal(ins, r.Insert) {
				return typ, true
			}
		}
	}
	for typ, h := range riscvHowtos {
		if h.kind == r.Kind && h.flags == r.Flags&^RelocWeakRef && slices.Equal(h.insert, r.Insert) {
			return typ, true
		}
	}
	if r.Kind == RelocPC && slices.Equal(r.Insert, callInsert) {
		return elf.R_RISCV_CALL, true
	}
	return elf.R_RISCV_NONE, false
}

func riscvHeaderSize(ctx *Context) uint64 {
	n := len(ctx.Segments)
	if n == 0 {
		n = 4
	}
	return uint64(ehdrSize + n*phdrSize)
}

func riscvWritePltEntry(ctx *Context, buf []byte, entryAddr, slotAddr uint64) {
	order := ctx.byteOrder()
	order.PutUint32(buf[0:], 0x00000e17)  // auipc t3, 0
	order.PutUint32(buf[4:], 0x000e3e03)  // ld t3, 0(t3)
	order.PutUint32(buf[8:], 0x000e0367)  // jalr t1, t3
	order.PutUint32(buf[12:], 0x00000013) // nop

	off := int64(slotAddr - entryAddr)
	if err := WriteBitfield(buf[0:], order, utypeInsert, off, SignSigned, true); err != nil {
		ctx.Diag.Error("PLT entry at %#x: %v", entryAddr, err)
	}
	_ = WriteBitfield(buf[4:], order, itypeInsert, off, SignSigned, false)
}

// riscvInitLinkerSymbol places __global_pointer$ 0x800 bytes into the
// small data area, so that gp-relative loads reach both halves.
func riscvInitLinkerSymbol(ctx *Context, sym *Symbol) bool {
	if sym.Name != "__global_pointer$" {
		return false
	}
	for _, name := range []string{".sdata", ".sbss", ".data", ".bss"} {
		if ls := ctx.LinkedSectionByName(name); ls != nil {
			sym.SetOutputSection(ls)
			sym.Value = 0x800
			return true
		}
	}
	sym.SetAbsolute(0)
	return true
}

func TargetRISCV64() *Target {
	return &Target{
		Name:             "elf64lriscv",
		Machine:          MachineTypeRISCV64,
		ByteOrder:        binary.LittleEndian,
		PtrSize:          8,
		PageSize:         PageSize,
		ImageBase:        ImageBase,
		OutputName:       elfOutputName,
		InitLinkerSymbol: riscvInitLinkerSymbol,
		HeaderSize:       riscvHeaderSize,
		PltEntrySize:     16,
		WritePltEntry:    riscvWritePltEntry,
	}
}
