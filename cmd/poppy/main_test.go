package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"poppy.lopezb.com/internal/bloom"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	return &buf
}

func TestCreateAddCheck(t *testing.T) {
	for _, name := range []string{"seen.bf", "seen.bf.zst"} {
		t.Run(name, func(t *testing.T) {
			out := capture(t)
			path := filepath.Join(t.TempDir(), name)

			create := &CmdCreate{Path: path, Capacity: "1000", FPP: "0.01"}
			if err := create.Run(); err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(out.String(), "v2 classic, m=9586 k=7") {
				t.Errorf("unexpected create output %q", out.String())
			}

			out.Reset()
			if err := (&CmdAdd{Path: path, Item: "alice"}).Run(); err != nil {
				t.Fatal(err)
			}
			if err := (&CmdAdd{Path: path, Item: "alice"}).Run(); err != nil {
				t.Fatal(err)
			}
			if out.String() != "1\n0\n" {
				t.Errorf("Expected 1 then 0, got %q", out.String())
			}

			out.Reset()
			_ = (&CmdCheck{Path: path, Item: "alice"}).Run()
			_ = (&CmdCheck{Path: path, Item: "bob"}).Run()
			if out.String() != "1\n0\n" {
				t.Errorf("Expected 1 then 0, got %q", out.String())
			}

			f, err := bloom.LoadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if !f.ContainsString("alice") {
				t.Error("Item was not persisted")
			}
		})
	}
}

func TestCreateOptions(t *testing.T) {
	capture(t)
	dir := t.TempDir()

	tests := []struct {
		name    string
		cmd     CmdCreate
		version bloom.Version
		variant bloom.Variant
		err     error
	}{
		{"v1 scalable", CmdCreate{Capacity: "10", FPP: "0.1", Version: "1", Variant: "scalable"}, bloom.V1, bloom.Scalable, nil},
		{"v prefix", CmdCreate{Capacity: "10", FPP: "0.1", Version: "v2", Variant: "CLASSIC"}, bloom.V2, bloom.Classic, nil},
		{"bad version", CmdCreate{Capacity: "10", FPP: "0.1", Version: "9"}, 0, 0, bloom.ErrUnsupportedVersion},
		{"bad variant", CmdCreate{Capacity: "10", FPP: "0.1", Variant: "huge"}, 0, 0, bloom.ErrInvalidVariant},
		{"zero capacity", CmdCreate{Capacity: "0", FPP: "0.1"}, 0, 0, bloom.ErrInvalidParameter},
		{"fpp out of range", CmdCreate{Capacity: "10", FPP: "1.5"}, 0, 0, bloom.ErrInvalidParameter},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cmd.Path = filepath.Join(dir, strings.Repeat("f", i+1))
			err := tt.cmd.Run()
			if !errors.Is(err, tt.err) {
				t.Fatalf("Expected %v, got %v", tt.err, err)
			}
			if tt.err != nil {
				if _, statErr := os.Stat(tt.cmd.Path); statErr == nil {
					t.Error("File written despite error")
				}
				return
			}
			f, err := bloom.LoadFile(tt.cmd.Path)
			if err != nil {
				t.Fatal(err)
			}
			if f.Version() != tt.version || f.Variant() != tt.variant {
				t.Errorf("Expected %s %s, got %s %s", tt.version, tt.variant, f.Version(), f.Variant())
			}
		})
	}
}

func TestCreateBadNumbers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if err := (&CmdCreate{Path: path, Capacity: "many", FPP: "0.1"}).Run(); err == nil {
		t.Error("Expected bad capacity error")
	}
	if err := (&CmdCreate{Path: path, Capacity: "10", FPP: "low"}).Run(); err == nil {
		t.Error("Expected bad error rate error")
	}
}

func TestInfoAndDump(t *testing.T) {
	out := capture(t)
	path := filepath.Join(t.TempDir(), "f.bf")
	if err := (&CmdCreate{Path: path, Capacity: "100", FPP: "0.01", Variant: "scalable"}).Run(); err != nil {
		t.Fatal(err)
	}

	out.Reset()
	if err := (&CmdInfo{Path: path}).Run(); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Variant:     scalable", "Capacity:    100", "Sub-filters: 1", "  0: k="} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Info output missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	if err := (&CmdDump{Path: path, Limit: 16}).Run(); err != nil {
		t.Fatal(err)
	}
	if lines := strings.Count(out.String(), "\n"); lines != 1 {
		t.Errorf("Expected one hex line for 16 bytes, got %d:\n%s", lines, out.String())
	}
}

func TestMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.bf")
	if err := (&CmdCheck{Path: path, Item: "x"}).Run(); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected os.ErrNotExist, got %v", err)
	}
}
