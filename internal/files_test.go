package internal

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	from, to := filepath.Join(dir, "from"), filepath.Join(dir, "to")
	if err := os.WriteFile(from, []byte("contents"), 0666); err != nil {
		t.Fatal(err)
	}
	if err := MoveFile(from, to); err != nil {
		t.Fatal(err)
	}
	if ok, err := FileExists(from); err != nil || ok {
		t.Error("MoveFile left the source behind")
	}
	if data, err := os.ReadFile(to); err != nil || string(data) != "contents" {
		t.Error("MoveFile failed")
	}
	copied := filepath.Join(dir, "copied")
	if err := CopyFile(to, copied); err != nil {
		t.Fatal(err)
	}
	if data, err := os.ReadFile(copied); err != nil || string(data) != "contents" {
		t.Error("CopyFile failed")
	}
	files, err := Directory(dir)
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(files)
	if len(files) != 2 || files[0] != "copied" || files[1] != "to" {
		t.Errorf("Directory failed: %v", files)
	}
	if full, err := FullPathname("x"); err != nil || !filepath.IsAbs(full) {
		t.Error("FullPathname failed")
	}
}
