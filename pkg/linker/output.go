package linker

import (
	"debug/elf"
	"strings"
)

var prefixes = []string{
	".text.", ".data.rel.ro.", ".data.", ".rodata.", ".bss.rel.ro.", ".bss.",
	".sdata.", ".sbss.", ".srodata.", ".init_array.", ".fini_array.",
	".gcc_except_table.", ".ctors.", ".dtors.",
}

// elfOutputName folds ".text.foo" into ".text" and so on, the way ELF
// toolchains expect sections to be merged.
func elfOutputName(sec *Section) string {
	name := sec.Name
	if strings.HasPrefix(name, ".gnu.linkonce.") {
		name = name[len(".gnu.linkonce"):]
		switch {
		case strings.HasPrefix(name, ".t."):
			return ".text"
		case strings.HasPrefix(name, ".r."):
			return ".rodata"
		case strings.HasPrefix(name, ".d."):
			return ".data"
		case strings.HasPrefix(name, ".b."):
			return ".bss"
		}
	}
	for _, prefix := range prefixes {
		stem := prefix[:len(prefix)-1]
		if name == stem || strings.HasPrefix(name, prefix) {
			return stem
		}
	}
	return name
}

func CanonicalizeType(name string, typ uint32) uint32 {
	if typ == uint32(elf.SHT_PROGBITS) {
		if name == ".init_array" || strings.HasPrefix(name, ".init_array.") {
			return uint32(elf.SHT_INIT_ARRAY)
		}
		if name == ".fini_array" || strings.HasPrefix(name, ".fini_array.") {
			return uint32(elf.SHT_FINI_ARRAY)
		}
		if name == ".preinit_array" || strings.HasPrefix(name, ".preinit_array.") {
			return uint32(elf.SHT_PREINIT_ARRAY)
		}
	}
	return typ
}
