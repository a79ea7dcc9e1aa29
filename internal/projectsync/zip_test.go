package projectsync

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestZipDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "index.js"), "console.log('hi')")
	writeFile(t, filepath.Join(root, "src", "app.js"), "export {}")
	writeFile(t, filepath.Join(root, "node_modules", "dep", "index.js"), "skip me")
	writeFile(t, filepath.Join(root, ".git", "HEAD"), "ref: refs/heads/main")

	var buf bytes.Buffer
	if err := zipDirectory(&buf, root); err != nil {
		t.Fatalf("zipDirectory failed: %v", err)
	}

	r, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("Failed to read archive: %v", err)
	}

	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)

	want := []string{"index.js", "src/app.js"}
	if len(names) != len(want) {
		t.Fatalf("Expected entries %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Entry %d: expected %q, got %q", i, want[i], names[i])
		}
	}
}

func TestZipDirectory_EmptyTree(t *testing.T) {
	var buf bytes.Buffer
	if err := zipDirectory(&buf, t.TempDir()); err != nil {
		t.Fatalf("zipDirectory failed on empty tree: %v", err)
	}

	r, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("Failed to read archive: %v", err)
	}
	if len(r.File) != 0 {
		t.Errorf("Expected empty archive, got %d entries", len(r.File))
	}
}
