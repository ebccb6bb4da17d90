package linker

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestReadInputFilesTooManyErrors(t *testing.T) {
	dir := t.TempDir()
	var args []string
	for _, name := range []string{"a.o", "b.o"} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, sampleObject(), 0o644); err != nil {
			t.Fatal(err)
		}
		args = append(args, path)
	}

	ctx := newTestContext()
	ctx.Diag.MaxErrors = 1
	err := ReadInputFiles(ctx, args)
	var le *LinkError
	if !errors.As(err, &le) || le.Level != LevelFatal {
		t.Fatalf("ReadInputFiles = %v, want a fatal LinkError", err)
	}
	if !hasMessage(ctx, "multiple definition of 'main'") {
		t.Errorf("messages = %q", ctx.Diag.Messages)
	}
}

func TestReadFileTooManyErrors(t *testing.T) {
	ctx := newTestContext()
	ctx.Diag.MaxErrors = 1
	if err := ReadFile(ctx, &File{Name: "a.o", Contents: sampleObject()}); err != nil {
		t.Fatalf("first object: %v", err)
	}
	err := ReadFile(ctx, &File{Name: "b.o", Contents: sampleObject()})
	if _, ok := err.(*LinkError); !ok {
		t.Fatalf("ReadFile = %v, want a LinkError", err)
	}
}
