package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolvePath_Confinement(t *testing.T) {
	dir := t.TempDir()
	ft := NewFileTools(dir)

	for _, path := range []string{
		"../outside.txt",
		"../../etc/passwd",
		"nested/../../outside",
		"/etc/passwd",
	} {
		if _, err := ft.ResolvePath(path); err == nil {
			t.Errorf("ResolvePath(%q) escaped the workspace", path)
		}
	}

	abs, err := ft.ResolvePath("sub/file.txt")
	if err != nil {
		t.Fatalf("ResolvePath error: %v", err)
	}
	if !strings.HasPrefix(abs, dir) {
		t.Errorf("resolved path %q outside workspace %q", abs, dir)
	}

	// Absolute paths inside the workspace are accepted.
	if _, err := ft.ResolvePath(filepath.Join(dir, "ok.txt")); err != nil {
		t.Errorf("absolute in-workspace path rejected: %v", err)
	}
}

func TestResolvePath_Disabled(t *testing.T) {
	ft := NewFileTools("")
	if ft.Enabled() {
		t.Error("Enabled() = true with empty workspace")
	}
	if _, err := ft.ResolvePath("x"); err == nil {
		t.Error("ResolvePath succeeded without workspace")
	}
}

func TestRead_LineNumbers(t *testing.T) {
	dir := t.TempDir()
	ft := NewFileTools(dir)
	content := "alpha\nbeta\ngamma\n"
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := ft.Read(context.Background(), "f.txt", 0, 0)
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}

	want := "    1 | alpha\n    2 | beta\n    3 | gamma\n"
	if out != want {
		t.Errorf("Read = %q, want %q", out, want)
	}
}

func TestRead_OffsetAndLimit(t *testing.T) {
	dir := t.TempDir()
	ft := NewFileTools(dir)

	var b strings.Builder
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	if err := os.WriteFile(filepath.Join(dir, "big.txt"), []byte(b.String()), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := ft.Read(context.Background(), "big.txt", 4, 3)
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}

	if !strings.HasPrefix(out, "[lines 4-6 of 10]\n") {
		t.Errorf("range header missing: %q", out)
	}
	if !strings.Contains(out, "    4 | line 4") || strings.Contains(out, "line 7") {
		t.Errorf("window wrong: %q", out)
	}

	if _, err := ft.Read(context.Background(), "big.txt", 50, 0); err == nil {
		t.Error("offset past EOF succeeded")
	}
}

func TestRead_NotFound(t *testing.T) {
	ft := NewFileTools(t.TempDir())
	_, err := ft.Read(context.Background(), "missing.txt", 0, 0)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("Read missing file: %v", err)
	}
}

func TestWrite_CreatesParents(t *testing.T) {
	dir := t.TempDir()
	ft := NewFileTools(dir)

	if err := ft.Write(context.Background(), "deep/nested/out.txt", "payload"); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "deep", "nested", "out.txt"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("content = %q, want payload", data)
	}

	// Overwrite replaces.
	if err := ft.Write(context.Background(), "deep/nested/out.txt", "v2"); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(filepath.Join(dir, "deep", "nested", "out.txt"))
	if string(data) != "v2" {
		t.Errorf("content after overwrite = %q, want v2", data)
	}
}

func TestList_SkipsHiddenAndCaps(t *testing.T) {
	dir := t.TempDir()
	ft := NewFileTools(dir)

	for _, name := range []string{"a.txt", "b.txt", ".hidden", "sub/c.txt", ".git/config"} {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	out, err := ft.List(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}

	if strings.Contains(out, ".hidden") || strings.Contains(out, ".git") {
		t.Errorf("hidden entries listed: %q", out)
	}
	for _, want := range []string{"a.txt", "b.txt", "sub/", "sub/c.txt"} {
		if !strings.Contains(out, want) {
			t.Errorf("List missing %q: %q", want, out)
		}
	}

	out, err = ft.List(context.Background(), "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "[... listing capped at 2 entries ...]") {
		t.Errorf("cap marker missing: %q", out)
	}
	if got := strings.Count(out, "\n"); got != 2 { // 2 entries + marker line
		t.Errorf("capped listing has %d newlines: %q", got, out)
	}
}

func TestList_Errors(t *testing.T) {
	dir := t.TempDir()
	ft := NewFileTools(dir)
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := ft.List(context.Background(), "nope", 0); err == nil {
		t.Error("List on missing dir succeeded")
	}
	if _, err := ft.List(context.Background(), "f.txt", 0); err == nil {
		t.Error("List on a file succeeded")
	}

	if err := os.Mkdir(filepath.Join(dir, "empty"), 0755); err != nil {
		t.Fatal(err)
	}
	out, err := ft.List(context.Background(), "empty", 0)
	if err != nil {
		t.Fatal(err)
	}
	if out != "(empty directory)" {
		t.Errorf("empty dir = %q", out)
	}
}
