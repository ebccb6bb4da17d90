package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ksco/vlink/pkg/linker"
	"github.com/ksco/vlink/pkg/utils"
	"github.com/xyproto/env/v2"
)

var version string

func fatal(format string, args ...any) {
	utils.Fatal(fmt.Sprintf(format, args...))
}

func main() {
	ctx := linker.NewContext()
	ctx.Diag.MaxErrors = env.Int("VLINK_MAXERRORS", 10)
	ctx.Diag.NoColor = env.Has("NO_COLOR")
	utils.NoColor = ctx.Diag.NoColor
	ctx.Arg.Debug = env.Bool("VLINK_DEBUG")
	if paths := env.Str("VLINK_LIBRARY_PATH"); paths != "" {
		ctx.Arg.LibraryPaths = append(ctx.Arg.LibraryPaths, filepath.SplitList(paths)...)
	}

	remaining, outputSet := parseNonpositionalArgs(ctx)

	if ctx.Arg.Emulation == linker.MachineTypeNone {
		for _, filename := range remaining {
			if strings.HasPrefix(filename, "-") {
				continue
			}
			file, err := linker.NewFile(filename)
			if err != nil {
				fatal("%v", err)
			}
			ctx.Arg.Emulation = linker.GetMachineTypeFromContents(file.Contents)
			if ctx.Arg.Emulation != linker.MachineTypeNone {
				break
			}
		}
		if ctx.Arg.Emulation == linker.MachineTypeNone {
			ctx.Arg.Emulation = linker.MachineTypeRISCV64
		}
	}
	if ctx.Arg.Emulation != linker.MachineTypeRISCV64 {
		fatal("unsupported emulation %s", ctx.Arg.Emulation)
	}

	if ctx.Arg.ScriptFile != "" {
		src, err := os.ReadFile(ctx.Arg.ScriptFile)
		if err != nil {
			fatal("%v", err)
		}
		if err := linker.LoadScript(ctx, ctx.Arg.ScriptFile, string(src)); err != nil {
			fatal("%v", err)
		}
		if ctx.Prescan.Output != "" && !outputSet {
			ctx.Arg.Output = ctx.Prescan.Output
		}
	}

	if err := linker.ReadInputFiles(ctx, remaining); err != nil {
		fatal("%v", err)
	}
	if err := linker.Link(ctx); err != nil {
		os.Exit(1)
	}
	buf, err := linker.Emit(ctx)
	if err != nil {
		os.Exit(1)
	}

	exec := !ctx.IsRelocatable() && ctx.Arg.Format == linker.FormatELF
	if err := linker.WriteOutputFile(ctx.Arg.Output, buf, exec); err != nil {
		fatal("%v", err)
	}
}

func parseNumber(opt, s string) uint64 {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		v, err = strconv.ParseUint(s, 16, 64)
	}
	if err != nil {
		fatal("option -%s: invalid number %q", opt, s)
	}
	return v
}

func parseNonpositionalArgs(ctx *linker.Context) ([]string, bool) {
	dashes := func(name string) []string {
		if len(name) == 1 {
			return []string{"-" + name}
		}
		if name[0] == 'o' {
			return []string{"--" + name}
		}
		return []string{"-" + name, "--" + name}
	}

	args := os.Args[1:]
	remaining := make([]string, 0)
	outputSet := false
	var arg string

	readArg := func(name string) bool {
		for _, opt := range dashes(name) {
			if args[0] == opt {
				if len(args) == 1 {
					fatal("option -%s: argument missing", name)
				}
				arg = args[1]
				args = args[2:]
				return true
			}

			prefix := opt
			if len(name) > 1 {
				prefix += "="
			}

			if strings.HasPrefix(args[0], prefix) {
				arg = args[0][len(prefix):]
				args = args[1:]
				return true
			}
		}
		return false
	}

	readFlag := func(name string) bool {
		for _, opt := range dashes(name) {
			if args[0] == opt {
				args = args[1:]
				return true
			}
		}
		return false
	}

	for len(args) > 0 {
		if readFlag("help") {
			fmt.Printf("Usage: %s [options] file...\n", os.Args[0])
			os.Exit(0)
		}

		if readArg("o") || readArg("output") {
			ctx.Arg.Output = arg
			outputSet = true
		} else if readFlag("v") || readFlag("version") {
			fmt.Printf("vlink %s\n", version)
			os.Exit(0)
		} else if readFlag("mall") {
			ctx.Arg.MergeAll = true
		} else if readFlag("mtype") {
			ctx.Arg.MergeType = true
		} else if readFlag("mrel") {
			ctx.Arg.MergeRelRefs = true
		} else if readArg("m") {
			if arg == "elf64lriscv" {
				ctx.Arg.Emulation = linker.MachineTypeRISCV64
			} else {
				fatal("unknown -m argument: %s", arg)
			}
		} else if readArg("Ttext") {
			ctx.Arg.TextBase = parseNumber("Ttext", arg)
			ctx.Arg.HasTextBase = true
		} else if readArg("T") || readArg("script") {
			ctx.Arg.ScriptFile = arg
		} else if readArg("Map") {
			ctx.Arg.MapFile = arg
		} else if readArg("e") || readArg("entry") {
			ctx.Arg.Entry = arg
		} else if readArg("u") || readArg("undefined") {
			ctx.Arg.Undefined = append(ctx.Arg.Undefined, arg)
		} else if readArg("b") || readArg("oformat") {
			switch arg {
			case "rawbin", "binary":
				ctx.Arg.Format = linker.FormatRawBin
			case "elf64-littleriscv", "elf":
				ctx.Arg.Format = linker.FormatELF
			default:
				fatal("unknown output format: %s", arg)
			}
		} else if readArg("ctors") {
			conv, err := linker.ParseCtorConvention(arg)
			if err != nil {
				fatal("%v", err)
			}
			ctx.Arg.Ctors = conv
		} else if readFlag("r") || readFlag("relocatable") {
			ctx.Arg.OutputType = linker.OutputRelocatable
		} else if readFlag("shared") || readFlag("Bshareable") {
			ctx.Arg.OutputType = linker.OutputShared
		} else if readArg("soname") || readArg("h") {
			ctx.Arg.SoName = arg
		} else if readArg("dynamic-linker") || readArg("I") {
			ctx.Arg.Interp = arg
		} else if readFlag("static") || readFlag("Bstatic") {
			ctx.Arg.Static = true
		} else if readFlag("Bdynamic") {
			ctx.Arg.Static = false
		} else if readFlag("d") || readFlag("dc") || readFlag("dp") {
			ctx.Arg.AllocCommon = true
		} else if readFlag("allow-undefined") {
			ctx.Arg.AllowUndefined = true
		} else if readFlag("debug") {
			ctx.Arg.Debug = true
		} else if readArg("max-errors") {
			n, err := strconv.Atoi(arg)
			if err != nil || n < 0 {
				fatal("option --max-errors: invalid number %q", arg)
			}
			ctx.Diag.MaxErrors = n
		} else if readArg("gap-fill") {
			n := parseNumber("gap-fill", arg)
			if n > 0xff {
				fatal("option --gap-fill: %s does not fit in a byte", arg)
			}
			ctx.Arg.GapFill = byte(n)
		} else if readFlag("no-color") {
			ctx.Diag.NoColor = true
			utils.NoColor = true
		} else if readFlag("w") || readFlag("no-warn") {
			ctx.Diag.NoWarnings = true
		} else if readArg("sysroot") {
			// Ignored
		} else if readArg("L") || readArg("library-path") {
			ctx.Arg.LibraryPaths = append(ctx.Arg.LibraryPaths, arg)
		} else if readArg("l") {
			remaining = append(remaining, "-l"+arg)
		} else if readArg("plugin") ||
			readArg("plugin-opt") ||
			readFlag("as-needed") ||
			readFlag("start-group") ||
			readFlag("end-group") ||
			readArg("hash-style") ||
			readArg("build-id") ||
			readFlag("s") ||
			readFlag("no-relax") {
			// Ignored
		} else {
			if args[0][0] == '-' {
				fatal("unknown command line option: %s", args[0])
			}
			remaining = append(remaining, args[0])
			args = args[1:]
		}
	}

	for i, path := range ctx.Arg.LibraryPaths {
		ctx.Arg.LibraryPaths[i] = filepath.Clean(path)
	}

	return remaining, outputSet
}
