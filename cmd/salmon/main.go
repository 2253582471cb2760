// Command salmon manages encrypted drives from the command line.
package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	salmon "github.com/mku11/Salmon-AES-CTR-sub010"
	"github.com/mku11/Salmon-AES-CTR-sub010/sequence"
	"github.com/mku11/Salmon-AES-CTR-sub010/sequence/ipc"
)

func main() {
	exit(run(os.Args[1:]))
}

type command func(ctx context.Context, app *app, args []string) error

var commands = map[string]command{
	"create":      cmdCreate,
	"passwd":      cmdPasswd,
	"ls":          cmdList,
	"import":      cmdImport,
	"export":      cmdExport,
	"authid":      cmdAuthID,
	"auth-export": cmdAuthExport,
	"auth-import": cmdAuthImport,
	"seqserver":   cmdSeqServer,
}

// app is the state shared by all subcommands.
type app struct {
	cfg      Config
	settings salmon.Settings
	log      *logrus.Logger
	stdin    *bufio.Reader
	tty      bool
	stdout   io.Writer
}

func run(args []string) error {
	cfg := Config{}
	cfg.LoadDefaults()
	rest, err := parseGlobalFlags(&cfg, args)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return newExitErr(exitUsage, err)
	}
	if len(rest) == 0 {
		return exitf(exitUsage, "missing command, see -help")
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		return exitf(exitUsage, "unknown command %q", rest[0])
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.WarnLevel)
	if cfg.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	settings, err := cfg.Settings()
	if err != nil {
		return newExitErr(exitUsage, err)
	}
	settings.Logger = log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a := &app{
		cfg:      cfg,
		settings: settings,
		log:      log,
		stdin:    bufio.NewReader(os.Stdin),
		tty:      term.IsTerminal(int(os.Stdin.Fd())),
		stdout:   os.Stdout,
	}
	err = cmd(ctx, a, rest[1:])
	if err != nil && ctx.Err() != nil && exitCode(err) == exitOther {
		return newExitErr(exitSigInt, err)
	}
	return err
}

// openSequencer returns the nonce service selected by the config and a
// function releasing it.
func (a *app) openSequencer(ctx context.Context) (sequence.Service, func(), error) {
	if a.cfg.SeqSocket != "" {
		c, err := ipc.Dial(ctx, a.cfg.SeqSocket, ipc.ClientConfig{TrustedUID: a.cfg.serverUID()})
		if err != nil {
			return nil, nil, newExitErr(exitCtlSock, err)
		}
		return c, func() { c.Close() }, nil
	}
	store, err := a.openStore()
	if err != nil {
		return nil, nil, newExitErr(exitSequencer, err)
	}
	return sequence.NewSequencer(store, a.log), func() { store.Close() }, nil
}

func (a *app) openStore() (sequence.Store, error) {
	path := a.cfg.SeqFile
	if path == "" {
		return nil, errors.New("no sequence store configured, use -seq-file or -seq-socket")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return sequence.OpenSQLiteStore(path)
	case ".badger":
		return sequence.OpenBadgerStore(path, a.log)
	default:
		return sequence.NewFileStore(path), nil
	}
}

// readPassword reads a password from the pass file, the terminal, or one
// line of stdin.
func (a *app) readPassword(prompt string) ([]byte, error) {
	var pw []byte
	switch {
	case a.cfg.PassFile != "":
		data, err := os.ReadFile(a.cfg.PassFile)
		if err != nil {
			return nil, newExitErr(exitReadPassword, err)
		}
		pw, _, _ = bytes.Cut(data, []byte("\n"))
	case a.tty:
		fmt.Fprint(os.Stderr, prompt)
		p, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, newExitErr(exitReadPassword, err)
		}
		pw = p
	default:
		line, err := a.stdin.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, newExitErr(exitReadPassword, err)
		}
		pw = bytes.TrimRight(line, "\r\n")
	}
	if len(pw) == 0 {
		return nil, exitf(exitPasswordEmpty, "password is empty")
	}
	return pw, nil
}

// openDrive unlocks the drive in dir. The returned function closes the drive
// and the sequencer.
func (a *app) openDrive(ctx context.Context, dir string) (*salmon.Drive, func(), error) {
	root := salmon.NewRealFile(salmon.NewOSFileSystem(dir), "/")
	if !root.Child(salmon.ConfigFileName).Exists() {
		return nil, nil, exitf(exitDriveDir, "%s is not a drive", dir)
	}
	seq, release, err := a.openSequencer(ctx)
	if err != nil {
		return nil, nil, err
	}
	pw, err := a.readPassword("Password: ")
	if err != nil {
		release()
		return nil, nil, err
	}
	d, err := salmon.OpenDrive(ctx, root, pw, seq, salmon.DriveOptions{
		Settings: a.settings,
		Hooks: salmon.Hooks{
			OnUnlockError: func(err error) {
				a.log.WithError(err).WithField("drive", dir).Debug("unlock failed")
			},
		},
	})
	if err != nil {
		release()
		if salmon.IsSecurityError(err) {
			return nil, nil, newExitErr(exitPasswordIncorrect, err)
		}
		return nil, nil, newExitErr(exitLoadConf, err)
	}
	return d, func() { d.Close(); release() }, nil
}
