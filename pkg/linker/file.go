package linker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type File struct {
	Name     string
	Contents []byte

	Parent *File
}

func NewFile(filename string) (*File, error) {
	contents, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return &File{Name: filename, Contents: contents}, nil
}

func OpenLibrary(path string) *File {
	f, err := NewFile(path)
	if err != nil {
		return nil
	}
	return f
}

// FindLibrary searches the library path for -lname. Shared objects are
// preferred over archives unless the link is static; "-l:file" looks
// for the file name as given.
func FindLibrary(ctx *Context, name string) (*File, error) {
	var candidates []string
	if exact, ok := strings.CutPrefix(name, ":"); ok {
		candidates = []string{exact}
	} else {
		if !ctx.Arg.Static {
			candidates = append(candidates, "lib"+name+".so")
		}
		candidates = append(candidates, "lib"+name+".a")
	}

	for _, dir := range ctx.Arg.LibraryPaths {
		for _, c := range candidates {
			if f := OpenLibrary(filepath.Join(dir, c)); f != nil {
				return f, nil
			}
		}
	}
	return nil, fmt.Errorf("library not found: -l%s", name)
}
