package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// cliEnv is a scratch setup for running the command end to end.
type cliEnv struct {
	global []string
	drive  string
	tmp    string
}

func newCLIEnv(t *testing.T, seqFile string) *cliEnv {
	t.Helper()
	tmp := t.TempDir()
	conf := writeFile(t, "salmon.yaml", `
threads: 2
kdf:
  algorithm: pbkdf2-sha256
  iterations: 1000
`)
	pass := writeFile(t, "pass", "correct horse\n")
	return &cliEnv{
		global: []string{"-config", conf, "-passfile", pass, "-seq-file", filepath.Join(tmp, seqFile)},
		drive:  filepath.Join(tmp, "drive"),
		tmp:    tmp,
	}
}

func (e *cliEnv) run(args ...string) error {
	return run(append(append([]string(nil), e.global...), args...))
}

func TestRun_CreateImportExport(t *testing.T) {
	for _, store := range []string{"seq.json", "seq.db", "seq.badger"} {
		t.Run(store, func(t *testing.T) {
			e := newCLIEnv(t, store)
			if err := e.run("create", e.drive); err != nil {
				t.Fatalf("create failed: %v", err)
			}
			if err := e.run("create", e.drive); exitCode(err) != exitInit {
				t.Errorf("second create: exit %d (%v)", exitCode(err), err)
			}

			src := filepath.Join(e.tmp, "src")
			os.MkdirAll(filepath.Join(src, "sub"), 0755)
			content := bytes.Repeat([]byte("salmon "), 10000)
			os.WriteFile(filepath.Join(src, "sub", "file.txt"), content, 0644)
			os.WriteFile(filepath.Join(src, "skip.tmp"), []byte("x"), 0644)

			if err := e.run("import", e.drive, src, "-exclude", "*.tmp"); err != nil {
				t.Fatalf("import failed: %v", err)
			}
			if err := e.run("ls", e.drive, "/src/sub"); err != nil {
				t.Fatalf("ls failed: %v", err)
			}
			if err := e.run("passwd", e.drive); err != nil {
				t.Fatalf("passwd failed: %v", err)
			}

			out := filepath.Join(e.tmp, "out")
			if err := e.run("export", e.drive, "/src", "-out", out); err != nil {
				t.Fatalf("export failed: %v", err)
			}
			got, err := os.ReadFile(filepath.Join(out, "src", "sub", "file.txt"))
			if err != nil || !bytes.Equal(got, content) {
				t.Errorf("exported content differs: %v", err)
			}
			if _, err := os.Stat(filepath.Join(out, "src", "skip.tmp")); !os.IsNotExist(err) {
				t.Error("excluded file was imported")
			}
		})
	}
}

func TestRun_ExitCodes(t *testing.T) {
	e := newCLIEnv(t, "seq.json")
	if err := e.run(); exitCode(err) != exitUsage {
		t.Errorf("no command: exit %d", exitCode(err))
	}
	if err := e.run("frobnicate"); exitCode(err) != exitUsage {
		t.Errorf("unknown command: exit %d", exitCode(err))
	}
	if err := e.run("ls"); exitCode(err) != exitUsage {
		t.Errorf("missing argument: exit %d", exitCode(err))
	}
	if err := e.run("ls", e.tmp); exitCode(err) != exitDriveDir {
		t.Errorf("not a drive: exit %d", exitCode(err))
	}

	if err := e.run("create", e.drive); err != nil {
		t.Fatal(err)
	}
	wrong := writeFile(t, "wrong", "nope\n")
	err := run(append([]string{"-passfile", wrong, "-seq-file", filepath.Join(e.tmp, "seq.json")}, "ls", e.drive))
	if exitCode(err) != exitPasswordIncorrect {
		t.Errorf("wrong password: exit %d (%v)", exitCode(err), err)
	}
	empty := writeFile(t, "empty", "\n")
	err = run([]string{"-passfile", empty, "-seq-file", filepath.Join(e.tmp, "seq.json"), "ls", e.drive})
	if exitCode(err) != exitPasswordEmpty {
		t.Errorf("empty password: exit %d (%v)", exitCode(err), err)
	}
}

func TestRun_AuthBetweenDevices(t *testing.T) {
	a := newCLIEnv(t, "a.json")
	if err := a.run("create", a.drive); err != nil {
		t.Fatal(err)
	}
	// device b shares the drive directory but has its own sequence store
	b := newCLIEnv(t, "b.json")
	b.drive = a.drive

	authID := captureStdout(t, func() error { return b.run("authid", b.drive) })
	if authID == "" {
		t.Fatal("empty auth id")
	}
	file := filepath.Join(a.tmp, "b.slma")
	if err := a.run("auth-export", a.drive, authID, file); err != nil {
		t.Fatalf("auth-export failed: %v", err)
	}
	if err := b.run("auth-import", b.drive, file); err != nil {
		t.Fatalf("auth-import failed: %v", err)
	}

	src := filepath.Join(b.tmp, "note.txt")
	os.WriteFile(src, []byte("from b"), 0644)
	if err := b.run("import", b.drive, src); err != nil {
		t.Fatalf("import on authorized device failed: %v", err)
	}
}

// captureStdout returns what fn printed, trimmed.
func captureStdout(t *testing.T, fn func() error) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	saved := os.Stdout
	os.Stdout = w
	ferr := fn()
	os.Stdout = saved
	w.Close()
	var buf bytes.Buffer
	buf.ReadFrom(r)
	if ferr != nil {
		t.Fatalf("command failed: %v", ferr)
	}
	return string(bytes.TrimSpace(buf.Bytes()))
}
