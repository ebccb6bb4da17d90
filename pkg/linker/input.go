package linker

import (
	"fmt"
	"path/filepath"

	"github.com/ksco/vlink/pkg/script"
)

// ReadInputFiles reads every file named on the command line, followed by
// the INPUT and GROUP files of the linker script.
func ReadInputFiles(ctx *Context, args []string) (err error) {
	defer catch(&err)
	for _, arg := range args {
		if err := readInputArg(ctx, arg, ""); err != nil {
			return err
		}
	}
	if ctx.Prescan != nil {
		if err := readScriptInputs(ctx, ctx.Prescan, ctx.Arg.ScriptFile); err != nil {
			return err
		}
	}

	for _, obj := range ctx.Objs {
		if obj.Kind == UnitObject {
			return nil
		}
	}
	return fmt.Errorf("no input files")
}

func readInputArg(ctx *Context, arg, dir string) error {
	if name, ok := cutLibraryArg(arg); ok {
		file, err := FindLibrary(ctx, name)
		if err != nil {
			return err
		}
		return ReadFile(ctx, file)
	}
	path := arg
	if dir != "" && !filepath.IsAbs(path) {
		if f, err := NewFile(path); err == nil {
			return ReadFile(ctx, f)
		}
		path = filepath.Join(dir, arg)
	}
	file, err := NewFile(path)
	if err != nil {
		return err
	}
	return ReadFile(ctx, file)
}

func cutLibraryArg(arg string) (string, bool) {
	if len(arg) > 2 && arg[:2] == "-l" {
		return arg[2:], true
	}
	return "", false
}

// ReadFile adds the units of one input file. A file is read only once,
// however often it is named.
func ReadFile(ctx *Context, file *File) (err error) {
	defer catch(&err)
	if !ctx.Visited.Add(file.Name) {
		return nil
	}

	switch GetFileType(file.Contents) {
	case FileTypeObject:
		obj, err := ReadObject(ctx, file, "")
		if err != nil {
			return err
		}
		ctx.AddUnit(obj)
	case FileTypeDso:
		if ctx.Arg.Static {
			return fmt.Errorf("%s: attempted static link of dynamic object", file.Name)
		}
		obj, err := ReadShared(ctx, file)
		if err != nil {
			return err
		}
		ctx.AddUnit(obj)
	case FileTypeThinAr, FileTypeAr:
		members, err := ReadArchiveMembers(file)
		if err != nil {
			return err
		}
		for _, child := range members {
			if GetFileType(child.Contents) != FileTypeObject {
				ctx.Diag.Warn("%s(%s): skipping member that is not an object file", file.Name, child.Name)
				continue
			}
			obj, err := ReadObject(ctx, child, file.Name)
			if err != nil {
				return err
			}
			ctx.AddUnit(obj)
		}
	case FileTypeText:
		return readInputScript(ctx, file)
	case FileTypeExec:
		return fmt.Errorf("%s: cannot link an %s", file.Name, FileTypeExec)
	default:
		return fmt.Errorf("%s: %s", file.Name, GetFileType(file.Contents))
	}
	return nil
}

// readInputScript handles a linker script given as an input file. One
// with a SECTIONS command becomes the link's script if none was given;
// otherwise only its INPUT, GROUP and SEARCH_DIR commands count.
func readInputScript(ctx *Context, file *File) error {
	s, err := script.Parse(file.Name, string(file.Contents))
	if err != nil {
		return err
	}
	pre := s.Prescan()
	if ctx.Script == nil && pre.HasSections {
		if err := LoadScript(ctx, file.Name, string(file.Contents)); err != nil {
			return err
		}
		ctx.Arg.ScriptFile = file.Name
		return readScriptInputs(ctx, ctx.Prescan, file.Name)
	}
	ctx.Arg.LibraryPaths = append(ctx.Arg.LibraryPaths, pre.SearchDirs...)
	return readScriptInputs(ctx, pre, file.Name)
}

// readScriptInputs reads the files of INPUT and GROUP commands. Relative
// names are looked up in the working directory first, then next to the
// script.
func readScriptInputs(ctx *Context, pre *script.Prescan, scriptName string) error {
	dir := ""
	if scriptName != "" {
		dir = filepath.Dir(scriptName)
	}
	for _, in := range pre.Inputs {
		for _, name := range in.Files {
			if err := readInputArg(ctx, name, dir); err != nil {
				return err
			}
		}
	}
	return nil
}
