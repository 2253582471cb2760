package salmon

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_StaysInsideRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "root")
	if err := os.Mkdir(root, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(parent, "secret"), []byte("outside"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "x"), []byte("inside"), 0644); err != nil {
		t.Fatal(err)
	}
	fsys := NewOSFileSystem(root)

	tests := []struct {
		name string
		want string
	}{
		{"x", filepath.Join(root, "x")},
		{"/a/b", filepath.Join(root, "a", "b")},
		{"../x", filepath.Join(root, "x")},
		{"/../../etc/passwd", filepath.Join(root, "etc", "passwd")},
		{"a/../../secret", filepath.Join(root, "secret")},
		{"", root},
	}
	for _, tt := range tests {
		if got := fsys.real(tt.name); got != tt.want {
			t.Errorf("real(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}

	info, err := fsys.Stat("../x")
	if err != nil || info.Size() != int64(len("inside")) {
		t.Errorf("Stat(../x) = %v, %v", info, err)
	}
	if _, err := fsys.Stat("../secret"); !os.IsNotExist(err) {
		t.Errorf("Stat(../secret) reached outside root: %v", err)
	}
	if f, err := fsys.OpenFile("/../../etc/passwd", os.O_RDONLY, 0); err == nil {
		f.Close()
		t.Error("OpenFile escaped root")
	}
	if err := fsys.Remove("../secret"); err == nil {
		t.Error("Remove escaped root")
	}
	if _, err := os.Stat(filepath.Join(parent, "secret")); err != nil {
		t.Errorf("file outside root was touched: %v", err)
	}
}
