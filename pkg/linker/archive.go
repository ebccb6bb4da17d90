package linker

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"unsafe"
)

const arHdrSize = int(unsafe.Sizeof(ArHdr{}))

// ReadArchiveMembers splits an archive into its members. The members of
// a thin archive live in files next to it.
func ReadArchiveMembers(file *File) ([]*File, error) {
	thin := GetFileType(file.Contents) == FileTypeThinAr
	if !thin && GetFileType(file.Contents) != FileTypeAr {
		return nil, fmt.Errorf("%s: not an archive", file.Name)
	}

	var strTab []byte
	var files []*File
	data := 8

	for len(file.Contents)-data >= 2 {
		if data%2 == 1 {
			data++
		}
		if len(file.Contents)-data < arHdrSize {
			break
		}

		hdr := &ArHdr{}
		if err := binary.Read(bytes.NewReader(file.Contents[data:]), binary.LittleEndian, hdr); err != nil {
			return nil, fmt.Errorf("%s: %w", file.Name, err)
		}
		size, err := hdr.GetSize()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file.Name, err)
		}
		body := data + arHdrSize

		// Thin archives only store the string and symbol tables.
		stored := thin && !hdr.IsStrtab() && !hdr.IsSymtab()
		data = body
		if !stored {
			data += size
		}
		if data > len(file.Contents) {
			return nil, fmt.Errorf("%s: member extends past end of archive", file.Name)
		}

		if hdr.IsStrtab() {
			strTab = file.Contents[body:data]
			continue
		}
		if hdr.IsSymtab() {
			continue
		}

		ptr := file.Contents[body:data]
		name, err := hdr.ReadName(strTab, &ptr)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file.Name, err)
		}
		if name == "__.SYMDEF" || name == "__.SYMDEF SORTED" {
			continue
		}

		if stored {
			path := name
			if !filepath.IsAbs(path) {
				path = filepath.Join(filepath.Dir(file.Name), name)
			}
			child, err := NewFile(path)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", file.Name, err)
			}
			child.Parent = file
			files = append(files, child)
			continue
		}

		files = append(files, &File{
			Name:     name,
			Contents: ptr,
			Parent:   file,
		})
	}

	return files, nil
}
