package linker

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"unicode"
	"unicode/utf8"
)

type FileType uint8

const (
	FileTypeUnknown FileType = iota
	FileTypeEmpty
	FileTypeObject
	FileTypeDso
	FileTypeExec
	FileTypeAr
	FileTypeThinAr
	FileTypeText
)

func (t FileType) String() string {
	switch t {
	case FileTypeEmpty:
		return "empty file"
	case FileTypeObject:
		return "relocatable object"
	case FileTypeDso:
		return "shared object"
	case FileTypeExec:
		return "executable"
	case FileTypeAr:
		return "archive"
	case FileTypeThinAr:
		return "thin archive"
	case FileTypeText:
		return "linker script"
	}
	return "unknown file type"
}

// elfType reads e_type in the byte order named by the ELF header.
func elfType(contents []byte) (elf.Type, bool) {
	if len(contents) < 18 || !CheckMagic(contents) {
		return elf.ET_NONE, false
	}
	order := binary.ByteOrder(binary.LittleEndian)
	if contents[elf.EI_DATA] == byte(elf.ELFDATA2MSB) {
		order = binary.BigEndian
	}
	return elf.Type(order.Uint16(contents[16:])), true
}

// GetFileType identifies an input by its leading bytes. Anything that
// starts with printable UTF-8 is taken for a linker script.
func GetFileType(contents []byte) FileType {
	if len(contents) == 0 {
		return FileTypeEmpty
	}

	if et, ok := elfType(contents); ok {
		switch et {
		case elf.ET_REL:
			return FileTypeObject
		case elf.ET_DYN:
			return FileTypeDso
		case elf.ET_EXEC:
			return FileTypeExec
		}
		return FileTypeUnknown
	}
	if CheckMagic(contents) {
		return FileTypeUnknown
	}

	switch {
	case bytes.HasPrefix(contents, []byte("!<arch>\n")):
		return FileTypeAr
	case bytes.HasPrefix(contents, []byte("!<thin>\n")):
		return FileTypeThinAr
	}

	if len(contents) < 4 {
		return FileTypeUnknown
	}
	for i, n := 0, 0; n < 4 && i < len(contents); n++ {
		r, size := utf8.DecodeRune(contents[i:])
		if r == utf8.RuneError || !(unicode.IsPrint(r) || unicode.IsSpace(r)) {
			return FileTypeUnknown
		}
		i += size
	}
	return FileTypeText
}

type MachineType uint8

const (
	MachineTypeNone MachineType = iota
	MachineTypeRISCV32
	MachineTypeRISCV64
)

func (m MachineType) String() string {
	switch m {
	case MachineTypeRISCV32:
		return "riscv32"
	case MachineTypeRISCV64:
		return "riscv64"
	}
	return "none"
}

// GetMachineTypeFromContents reports the target of an ELF object or
// shared object, and MachineTypeNone for anything else.
func GetMachineTypeFromContents(contents []byte) MachineType {
	switch GetFileType(contents) {
	case FileTypeObject, FileTypeDso:
	default:
		return MachineTypeNone
	}
	if len(contents) < 20 || contents[elf.EI_DATA] != byte(elf.ELFDATA2LSB) {
		return MachineTypeNone
	}
	if elf.Machine(binary.LittleEndian.Uint16(contents[18:])) != elf.EM_RISCV {
		return MachineTypeNone
	}
	switch elf.Class(contents[elf.EI_CLASS]) {
	case elf.ELFCLASS32:
		return MachineTypeRISCV32
	case elf.ELFCLASS64:
		return MachineTypeRISCV64
	}
	return MachineTypeNone
}

// CheckFileCompatibility rejects input built for another machine than
// the one being linked for.
func CheckFileCompatibility(ctx *Context, file *File) error {
	mt := GetMachineTypeFromContents(file.Contents)
	if mt != ctx.Target.Machine {
		return fmt.Errorf("%s: incompatible %s for %s, linking for %s",
			file.Name, GetFileType(file.Contents), mt, ctx.Target.Machine)
	}
	return nil
}
