package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"

	salmon "github.com/mku11/Salmon-AES-CTR-sub010"
	"github.com/mku11/Salmon-AES-CTR-sub010/sequence"
	"github.com/mku11/Salmon-AES-CTR-sub010/sequence/ipc"
)

// multiFlag collects repeated string flags.
type multiFlag []string

func (m *multiFlag) String() string     { return strings.Join(*m, ",") }
func (m *multiFlag) Set(v string) error { *m = append(*m, v); return nil }

// parseInterspersed allows flags after positional arguments.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, newExitErr(exitUsage, err)
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func wantArgs(args []string, n int, syntax string) error {
	if len(args) < n {
		return exitf(exitUsage, "usage: salmon %s", syntax)
	}
	return nil
}

func cmdCreate(ctx context.Context, a *app, args []string) error {
	if err := wantArgs(args, 1, "create DIR"); err != nil {
		return err
	}
	dir := args[0]
	if err := os.MkdirAll(dir, 0700); err != nil {
		return newExitErr(exitDriveDir, err)
	}
	pw, err := a.readPassword("New password: ")
	if err != nil {
		return err
	}
	if a.tty {
		again, err := a.readPassword("Repeat: ")
		if err != nil {
			return err
		}
		if !bytes.Equal(pw, again) {
			return exitf(exitReadPassword, "passwords do not match")
		}
	}
	seq, release, err := a.openSequencer(ctx)
	if err != nil {
		return err
	}
	defer release()
	root := salmon.NewRealFile(salmon.NewOSFileSystem(dir), "/")
	d, err := salmon.CreateDrive(ctx, root, pw, seq, salmon.DriveOptions{Settings: a.settings})
	if err != nil {
		return newExitErr(exitInit, err)
	}
	defer d.Close()
	fmt.Fprintf(a.stdout, "created drive %s in %s\n", d.ID(), dir)
	return nil
}

func cmdPasswd(ctx context.Context, a *app, args []string) error {
	if err := wantArgs(args, 1, "passwd DIR"); err != nil {
		return err
	}
	d, done, err := a.openDrive(ctx, args[0])
	if err != nil {
		return err
	}
	defer done()
	pw, err := a.readPassword("New password: ")
	if err != nil {
		return err
	}
	if err := d.ChangePassword(pw, &a.settings.KDF); err != nil {
		return newExitErr(exitWriteConf, err)
	}
	fmt.Fprintln(a.stdout, "password changed")
	return nil
}

func lookup(d *salmon.Drive, vpath string) (*salmon.VirtualFile, error) {
	f, err := d.Root().Lookup(vpath)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("%s: no such file or directory", vpath)
	}
	return f, nil
}

func cmdList(ctx context.Context, a *app, args []string) error {
	if err := wantArgs(args, 1, "ls DIR [VPATH]"); err != nil {
		return err
	}
	d, done, err := a.openDrive(ctx, args[0])
	if err != nil {
		return err
	}
	defer done()
	vpath := "/"
	if len(args) > 1 {
		vpath = args[1]
	}
	dir, err := lookup(d, vpath)
	if err != nil {
		return err
	}
	entries := []*salmon.VirtualFile{dir}
	if dir.IsDirectory() {
		if entries, err = dir.List(); err != nil {
			return err
		}
	}
	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		name, err := e.Name()
		if err != nil {
			fmt.Fprintf(w, "?\t-\t-\t<%v>\n", err)
			continue
		}
		size, err := e.Size()
		if err != nil {
			a.log.WithError(err).WithField("file", name).Warn("cannot read size")
		}
		kind := "-"
		if e.IsDirectory() {
			kind, name = "d", name+"/"
		}
		mod := time.UnixMilli(e.LastModified()).Format(time.DateTime)
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", kind, size, mod, name)
	}
	return w.Flush()
}

func (a *app) commander(d *salmon.Drive, exclude []string) *salmon.Commander {
	var (
		mu   sync.Mutex
		last time.Time
	)
	return salmon.NewCommander(d, salmon.CommanderOptions{
		Threads:    a.cfg.Threads,
		BufferSize: a.cfg.BufferSize,
		Exclude:    exclude,
		Logger:     a.log,
		OnProgress: func(path string, done, total int64) {
			if !a.cfg.Verbose {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if now := time.Now(); now.Sub(last) > time.Second || done == total {
				last = now
				a.log.WithFields(logrus.Fields{"file": path, "done": done, "total": total}).Info("progress")
			}
		},
	})
}

func report(a *app, res *salmon.BatchResult, err error) error {
	for _, f := range res.Failed {
		a.log.WithError(f.Err).WithField("file", f.Path).Error("failed")
	}
	fmt.Fprintf(a.stdout, "%d succeeded, %d failed, %d skipped\n", len(res.Succeeded), len(res.Failed), len(res.Skipped))
	if errors.Is(err, salmon.ErrCancelled) {
		return newExitErr(exitSigInt, err)
	}
	if err != nil {
		return err
	}
	if len(res.Failed) > 0 {
		return newExitErr(exitTransfer, res.Err())
	}
	return nil
}

func cmdImport(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	dest := fs.String("dest", "/", "virtual destination directory")
	var exclude multiFlag
	fs.Var(&exclude, "exclude", "gitignore style `pattern` to skip, repeatable")
	args, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if err := wantArgs(args, 2, "import DIR SRC... [-dest VPATH] [-exclude PATTERN]"); err != nil {
		return err
	}
	d, done, err := a.openDrive(ctx, args[0])
	if err != nil {
		return err
	}
	defer done()
	dst, err := lookup(d, *dest)
	if err != nil {
		return err
	}
	var sources []salmon.RealFile
	for _, src := range args[1:] {
		abs, err := filepath.Abs(src)
		if err != nil {
			return err
		}
		f := salmon.NewRealFile(salmon.NewOSFileSystem(filepath.Dir(abs)), "/"+filepath.Base(abs))
		if !f.Exists() {
			return fmt.Errorf("%s: no such file or directory", src)
		}
		sources = append(sources, f)
	}
	res, err := a.commander(d, exclude).ImportFiles(ctx, sources, dst)
	return report(a, res, err)
}

func cmdExport(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	out := fs.String("out", "", "real destination directory")
	args, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if err := wantArgs(args, 2, "export DIR VPATH... -out DIR"); err != nil {
		return err
	}
	if *out == "" {
		return exitf(exitUsage, "export needs -out")
	}
	if err := os.MkdirAll(*out, 0755); err != nil {
		return err
	}
	d, done, err := a.openDrive(ctx, args[0])
	if err != nil {
		return err
	}
	defer done()
	var sources []*salmon.VirtualFile
	for _, vpath := range args[1:] {
		f, err := lookup(d, vpath)
		if err != nil {
			return err
		}
		sources = append(sources, f)
	}
	dst := salmon.NewRealFile(salmon.NewOSFileSystem(*out), "/")
	res, err := a.commander(d, nil).ExportFiles(ctx, sources, dst)
	return report(a, res, err)
}

func cmdAuthID(ctx context.Context, a *app, args []string) error {
	if err := wantArgs(args, 1, "authid DIR"); err != nil {
		return err
	}
	d, done, err := a.openDrive(ctx, args[0])
	if err != nil {
		return err
	}
	defer done()
	id, err := d.AuthID(ctx)
	if err != nil {
		return newExitErr(exitSequencer, err)
	}
	fmt.Fprintln(a.stdout, id)
	return nil
}

func cmdAuthExport(ctx context.Context, a *app, args []string) error {
	if err := wantArgs(args, 3, "auth-export DIR TARGET_AUTH_ID FILE"); err != nil {
		return err
	}
	d, done, err := a.openDrive(ctx, args[0])
	if err != nil {
		return err
	}
	defer done()
	abs, err := filepath.Abs(args[2])
	if err != nil {
		return err
	}
	dst := salmon.NewRealFile(salmon.NewOSFileSystem(filepath.Dir(abs)), "/"+filepath.Base(abs))
	if err := d.ExportAuthFile(ctx, args[1], dst); err != nil {
		if salmon.IsSequenceError(err) {
			return newExitErr(exitSequencer, err)
		}
		return err
	}
	fmt.Fprintf(a.stdout, "auth file written to %s\n", abs)
	return nil
}

func cmdAuthImport(ctx context.Context, a *app, args []string) error {
	if err := wantArgs(args, 2, "auth-import DIR FILE"); err != nil {
		return err
	}
	d, done, err := a.openDrive(ctx, args[0])
	if err != nil {
		return err
	}
	defer done()
	abs, err := filepath.Abs(args[1])
	if err != nil {
		return err
	}
	src := salmon.NewRealFile(salmon.NewOSFileSystem(filepath.Dir(abs)), "/"+filepath.Base(abs))
	if err := d.ImportAuthFile(ctx, src); err != nil {
		if salmon.IsSecurityError(err) {
			return newExitErr(exitPasswordIncorrect, err)
		}
		return newExitErr(exitSequencer, err)
	}
	fmt.Fprintln(a.stdout, "device authorized")
	return nil
}

func cmdSeqServer(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("seqserver", flag.ContinueOnError)
	socket := fs.String("socket", ipc.DefaultSocketPath, "unix socket `path`")
	if err := fs.Parse(args); err != nil {
		return newExitErr(exitUsage, err)
	}
	store, err := a.openStore()
	if err != nil {
		return newExitErr(exitSequencer, err)
	}
	defer store.Close()
	if err := os.MkdirAll(filepath.Dir(*socket), 0755); err != nil {
		return newExitErr(exitCtlSock, err)
	}
	srv, err := ipc.Listen(*socket, sequence.NewSequencer(store, a.log), ipc.ServerConfig{Logger: a.log})
	if err != nil {
		return newExitErr(exitCtlSock, err)
	}
	a.log.WithField("socket", *socket).Warn("sequencer server listening")

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve() }()
	select {
	case <-ctx.Done():
		srv.Close()
		<-errc
		return nil
	case err := <-errc:
		srv.Close()
		return newExitErr(exitCtlSock, err)
	}
}
