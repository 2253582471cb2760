package salmon

import (
	"bytes"
	"context"
	"testing"
)

func TestVirtualFile_Tree(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDrive(t, testSettings(1024))
	root := d.Root()

	if !root.IsRoot() || root.Parent() != nil {
		t.Fatal("root has a parent")
	}
	if p, _ := root.Path(); p != "/" {
		t.Errorf("root path = %q", p)
	}

	docs, err := root.CreateDirectory(ctx, "docs")
	if err != nil {
		t.Fatalf("CreateDirectory failed: %v", err)
	}
	sub, err := docs.CreateDirectory(ctx, "2024")
	if err != nil {
		t.Fatalf("CreateDirectory failed: %v", err)
	}
	data := testPattern(5000, 9)
	f := writeVirtual(t, sub, "notes.txt", data)

	if p, err := f.Path(); err != nil || p != "/docs/2024/notes.txt" {
		t.Errorf("Path() = %q, %v", p, err)
	}
	if size, err := f.Size(); err != nil || size != 5000 {
		t.Errorf("Size() = %d, %v", size, err)
	}
	if f.RealFile().Length() <= 5000 {
		t.Error("real file is not larger than the plaintext")
	}
	if size, _ := docs.Size(); size != 0 {
		t.Errorf("directory size = %d", size)
	}
	h, err := f.Header()
	if err != nil || h.ChunkSize != 1024 {
		t.Errorf("Header() = %+v, %v", h, err)
	}
	if f.LastModified() == 0 {
		t.Error("LastModified is zero")
	}

	found, err := root.Lookup("docs/2024/notes.txt")
	if err != nil || found == nil {
		t.Fatalf("Lookup failed: %v, %v", found, err)
	}
	if !bytes.Equal(readVirtual(t, found), data) {
		t.Error("content mismatch")
	}
	if missing, err := root.Lookup("docs/nope"); missing != nil || err != nil {
		t.Errorf("Lookup of missing path = %v, %v", missing, err)
	}
	if _, err := root.Lookup("../escape"); err == nil {
		t.Error("Lookup accepted a path traversal")
	}

	files, err := root.List()
	if err != nil || len(files) != 1 {
		t.Fatalf("root List = %d entries, %v", len(files), err)
	}
	if name, _ := files[0].Name(); name != "docs" {
		t.Errorf("root entry = %q", name)
	}
}

func TestVirtualFile_DuplicateName(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDrive(t, testSettings(0))
	writeVirtual(t, d.Root(), "a", nil)
	if _, err := d.Root().CreateFile(ctx, "a"); !IsIOError(err) {
		t.Errorf("duplicate CreateFile: got %v", err)
	}
	if _, err := d.Root().CreateDirectory(ctx, "a"); !IsIOError(err) {
		t.Errorf("duplicate CreateDirectory: got %v", err)
	}
	if _, err := d.Root().CreateFile(ctx, "a/b"); !IsValidationError(err) {
		t.Errorf("name with separator: got %v", err)
	}
}

func TestVirtualFile_RenameMoveDelete(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDrive(t, testSettings(0))
	root := d.Root()
	f := writeVirtual(t, root, "old.txt", []byte("hello"))
	oldReal := f.RealFile().Name()

	if err := f.Rename(ctx, "new.txt"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if f.RealFile().Name() == oldReal {
		t.Error("Rename kept the encrypted name")
	}
	if name, _ := f.Name(); name != "new.txt" {
		t.Errorf("renamed name = %q", name)
	}
	if old, _ := root.Child("old.txt"); old != nil {
		t.Error("old name still present")
	}
	if string(readVirtual(t, f)) != "hello" {
		t.Error("content changed by Rename")
	}

	dir, _ := root.CreateDirectory(ctx, "dir")
	encName := f.RealFile().Name()
	if err := f.Move(dir); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if f.RealFile().Name() != encName {
		t.Error("Move changed the encrypted name")
	}
	if p, _ := f.Path(); p != "/dir/new.txt" {
		t.Errorf("moved path = %q", p)
	}

	clash := writeVirtual(t, root, "new.txt", nil)
	if err := clash.Move(dir); !IsIOError(err) {
		t.Errorf("Move onto an existing name: got %v", err)
	}

	if err := root.Delete(); err == nil {
		t.Error("root deleted")
	}
	if err := dir.Delete(); err != nil {
		t.Fatalf("recursive Delete failed: %v", err)
	}
	if dir.Exists() || f.Exists() {
		t.Error("Delete left entries behind")
	}
	files, _ := root.List()
	if len(files) != 1 {
		t.Errorf("root has %d entries after delete, want 1", len(files))
	}
}

func TestVirtualFile_OutputStreamUsesFreshNonce(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDrive(t, testSettings(0))
	f := writeVirtual(t, d.Root(), "f", []byte("one"))
	h1, _ := f.Header()

	out, err := f.OutputStream(ctx)
	if err != nil {
		t.Fatal(err)
	}
	out.Write([]byte("two"))
	out.Close()
	h2, _ := f.Header()

	if bytes.Equal(h1.Nonce, h2.Nonce) {
		t.Error("rewrite reused the nonce")
	}
	if string(readVirtual(t, f)) != "two" {
		t.Error("rewrite content mismatch")
	}
}
