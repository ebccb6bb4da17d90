package linker

import (
	"fmt"
	"io"
	"os"
)

type Level int

const (
	LevelWarning Level = iota
	LevelError
	LevelFatal
	LevelInternal
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	case LevelInternal:
		return "internal error"
	}
	return "unknown"
}

func (l Level) color() string {
	switch l {
	case LevelWarning:
		return "\033[0;1;33m"
	case LevelError:
		return "\033[0;1;31m"
	}
	return "\033[0;1;31m"
}

// LinkError stops the pipeline. Link returns it when a FATAL or INTERNAL
// condition was hit, or when a stage finished with ERRORs counted.
type LinkError struct {
	Level  Level
	Msg    string
	Errors int
}

func (e *LinkError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("link failed with %d error(s)", e.Errors)
}

type Diag struct {
	Out        io.Writer
	NoColor    bool
	NoWarnings bool
	MaxErrors  int

	Errors   int
	Warnings int
	// Messages keeps every printed line, without color codes.
	Messages []string
}

func NewDiag() *Diag {
	return &Diag{Out: os.Stderr, MaxErrors: 10}
}

func (d *Diag) print(level Level, msg string) {
	line := "vlink: " + level.String() + ": " + msg
	d.Messages = append(d.Messages, line)
	if d.Out == nil {
		return
	}
	if d.NoColor {
		fmt.Fprintln(d.Out, line)
		return
	}
	fmt.Fprintln(d.Out, "vlink: "+level.color()+level.String()+":\033[0m", msg)
}

func (d *Diag) Warn(format string, args ...any) {
	if d.NoWarnings {
		return
	}
	d.Warnings++
	d.print(LevelWarning, fmt.Sprintf(format, args...))
}

// Error reports a recoverable error. The current stage keeps going so
// that more problems get reported, unless MaxErrors is reached.
func (d *Diag) Error(format string, args ...any) {
	d.Errors++
	d.print(LevelError, fmt.Sprintf(format, args...))
	if d.MaxErrors > 0 && d.Errors >= d.MaxErrors {
		d.print(LevelFatal, "too many errors")
		panic(&LinkError{Level: LevelFatal, Msg: "too many errors", Errors: d.Errors})
	}
}

func (d *Diag) Fatal(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	d.print(LevelFatal, msg)
	panic(&LinkError{Level: LevelFatal, Msg: msg, Errors: d.Errors})
}

func (d *Diag) Internal(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	d.print(LevelInternal, msg)
	panic(&LinkError{Level: LevelInternal, Msg: msg, Errors: d.Errors})
}

func (d *Diag) Assert(cond bool, what string) {
	if !cond {
		d.Internal("assertion failed: %s", what)
	}
}

// Check ends the current pipeline stage when errors were reported.
func (d *Diag) Check() {
	if d.Errors > 0 {
		panic(&LinkError{Level: LevelError, Errors: d.Errors})
	}
}
